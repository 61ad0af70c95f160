// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hfpull/hfpull/pkg/config"
	"github.com/hfpull/hfpull/pkg/hfengine"
	"github.com/hfpull/hfpull/pkg/resolver"
)

func newListCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <model_id>",
		Short: "Show the resolved quantization groups for a model without downloading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := config.Load()
			client := hfengine.NewClient(resolveToken(ro, opts))

			groups, err := resolver.Resolve(ctx, client, args[0])
			if err != nil {
				return err
			}

			if ro.JSONOut {
				enc := json.NewEncoder(os.Stdout)
				for _, g := range groups {
					_ = enc.Encode(g)
				}
				return nil
			}

			if len(groups) == 0 {
				fmt.Println("no quantization groups found (no .gguf artifacts in this repository)")
				return nil
			}
			for _, g := range groups {
				fmt.Printf("%-12s  %10s  (%d file%s)\n", g.QuantType, humanSize(g.TotalSize), len(g.Files), plural(len(g.Files)))
				for _, f := range g.Files {
					sha := f.SHA256
					if sha == "" {
						sha = "-"
					}
					fmt.Printf("    %-60s  %10s  sha256=%s\n", f.Filename, humanSize(f.Size), sha)
				}
			}
			return nil
		},
	}
	return cmd
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit && exp < 6; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
