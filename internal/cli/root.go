// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the hfpull command-line front-end: a thin Cobra
// wrapper over pkg/config, pkg/hfengine, pkg/registry, pkg/resolver, and
// pkg/verifier.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hfpull/hfpull/pkg/config"
)

// RootOpts holds global CLI flags shared by every subcommand.
type RootOpts struct {
	Token    string
	JSONOut  bool
	Headless bool
	DryRun   bool
}

// Execute builds and runs the root command.
func Execute(version string) error {
	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "hfpull",
		Short:         "Discover and download model artifacts from the Hugging Face Hub",
		Long:          "hfpull resolves quantization groups from a Hugging Face model repository and performs resumable, rate-limited, hash-verified downloads.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.PersistentFlags().StringVar(&ro.Token, "token", "", "Hugging Face access token (also reads HF_TOKEN env)")
	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit one JSON-encoded event per line on stdout")
	root.PersistentFlags().BoolVar(&ro.Headless, "headless", false, "Disable interactive prompts and the live terminal renderer")
	root.PersistentFlags().BoolVar(&ro.DryRun, "dry-run", false, "Resolve and print the plan without transferring any bytes")

	root.AddCommand(newSearchCmd(ctx, ro))
	root.AddCommand(newDownloadCmd(ctx, ro))
	root.AddCommand(newListCmd(ctx, ro))
	root.AddCommand(newResumeCmd(ctx, ro))
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd(version))
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		emitFatal(ro, err)
		return err
	}
	return nil
}

// resolveToken applies the precedence order: --token flag, then HF_TOKEN
// env, then the config file's hf_token.
func resolveToken(ro *RootOpts, opts config.AppOptions) string {
	if t := strings.TrimSpace(ro.Token); t != "" {
		return t
	}
	if t := strings.TrimSpace(os.Getenv("HF_TOKEN")); t != "" {
		return t
	}
	return strings.TrimSpace(opts.HFToken)
}

func emitFatal(ro *RootOpts, err error) {
	if ro.JSONOut {
		enc := json.NewEncoder(os.Stdout)
		_ = enc.Encode(map[string]any{"event": "error", "message": err.Error()})
		return
	}
	color.New(color.FgRed).Fprint(os.Stderr, "error: ")
	fmt.Fprintln(os.Stderr, err)
}

// signalContext cancels when the process receives SIGINT or SIGTERM,
// mirroring the cooperative-cancellation contract of the download engine:
// in-flight transfers observe their next suspension point and exit.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
