// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	hfconfig "github.com/hfpull/hfpull/pkg/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialize the hfpull configuration file",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file populated with the documented defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := hfconfig.Path()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
			}
			if err := hfconfig.Save(hfconfig.Default()); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := hfconfig.Load()
			fmt.Printf("default_directory           = %s\n", opts.DefaultDirectory)
			fmt.Printf("concurrent_threads           = %d\n", opts.ConcurrentThreads)
			fmt.Printf("max_retries                  = %d\n", opts.MaxRetries)
			fmt.Printf("download_timeout_secs        = %d\n", opts.DownloadTimeoutSec)
			fmt.Printf("retry_delay_secs             = %d\n", opts.RetryDelaySecs)
			fmt.Printf("progress_update_interval_ms  = %d\n", opts.ProgressUpdateIntervalMS)
			fmt.Printf("verification_on_completion   = %t\n", opts.VerificationOnCompletion)
			fmt.Printf("concurrent_verifications     = %d\n", opts.ConcurrentVerifications)
			fmt.Printf("verification_buffer_size     = %d\n", opts.VerificationBufferSize)
			fmt.Printf("verification_update_interval = %d\n", opts.VerificationUpdateInterval)
			fmt.Printf("default_sort_field           = %s\n", opts.DefaultSortField)
			fmt.Printf("default_sort_direction       = %s\n", opts.DefaultSortDirection)
			fmt.Printf("default_min_downloads        = %d\n", opts.DefaultMinDownloads)
			fmt.Printf("default_min_likes            = %d\n", opts.DefaultMinLikes)
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(hfconfig.Path())
		},
	}
}
