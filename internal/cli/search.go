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
)

func newSearchCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var (
		sort         string
		minDownloads int64
		minLikes     int64
		limit        int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the Hugging Face model listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := config.Load()
			if !cmd.Flags().Changed("sort") {
				sort = string(opts.DefaultSortField)
			}
			if !cmd.Flags().Changed("min-downloads") {
				minDownloads = int64(opts.DefaultMinDownloads)
			}
			if !cmd.Flags().Changed("min-likes") {
				minLikes = int64(opts.DefaultMinLikes)
			}

			direction := -1
			if opts.DefaultSortDirection == config.DirectionAscending {
				direction = 1
			}

			client := hfengine.NewClient(resolveToken(ro, opts))
			models, err := client.SearchModels(ctx, args[0], limit, sort, direction, minDownloads, minLikes)
			if err != nil {
				return err
			}

			if ro.JSONOut {
				enc := json.NewEncoder(os.Stdout)
				for _, m := range models {
					_ = enc.Encode(m)
				}
				return nil
			}

			for _, m := range models {
				fmt.Printf("%-50s downloads=%-10d likes=%-8d modified=%s\n", m.ID, m.Downloads, m.Likes, m.LastModified)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sort, "sort", "downloads", "Sort field: downloads, likes, modified")
	cmd.Flags().Int64Var(&minDownloads, "min-downloads", 0, "Minimum download count")
	cmd.Flags().Int64Var(&minLikes, "min-likes", 0, "Minimum like count")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum results to return")

	return cmd
}
