// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hfpull/hfpull/pkg/config"
	"github.com/hfpull/hfpull/pkg/hfengine"
	"github.com/hfpull/hfpull/pkg/ratelimiter"
	"github.com/hfpull/hfpull/pkg/registry"
	"github.com/hfpull/hfpull/pkg/verifier"
)

func newResumeCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Scan the registry for incomplete downloads and resume, skip, or delete each",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := config.Load()
			reg := registry.Load()
			regPath := registry.Path()

			incomplete := reg.Incomplete()
			if len(incomplete) == 0 {
				fmt.Println("no incomplete downloads")
				return nil
			}

			vcfg := verifier.NewConfig()
			vcfg.SetConcurrentVerifications(opts.ConcurrentVerifications)
			vcfg.SetBufferSize(opts.VerificationBufferSize)
			vcfg.SetUpdateIntervalIterations(opts.VerificationUpdateInterval)
			onMismatch := func(item verifier.QueueItem, digest string) {
				if row, ok := reg.FindByLocalPath(item.LocalPath); ok {
					row.Status = registry.StatusHashMismatch
					reg.Upsert(row)
					_ = reg.SaveTo(regPath)
				}
			}
			vpool := verifier.NewPool(vcfg, nil, onMismatch)
			vctx, vcancel := context.WithCancel(ctx)
			defer vcancel()
			go vpool.Run(vctx)

			client := hfengine.NewClient(resolveToken(ro, opts))
			settings := hfengine.Settings{
				ConcurrentThreads:  opts.ConcurrentThreads,
				MaxRetries:         opts.MaxRetries,
				RetryDelaySecs:     opts.RetryDelaySecs,
				DownloadTimeoutSec: opts.DownloadTimeoutSec,
				ProgressEveryMS:    opts.ProgressUpdateIntervalMS,
				VerifyOnCompletion: opts.VerificationOnCompletion,
			}
			limiter := ratelimiter.New(0)
			limiter.SetEnabled(false)
			engine := hfengine.NewEngine(client, settings, reg, regPath, limiter, vpool)

			reader := bufio.NewReader(os.Stdin)
			for _, row := range incomplete {
				choice := "skip"
				if ro.Headless {
					choice = "resume"
				} else {
					fmt.Printf("%s (%s): resume/skip/delete? [r/s/d] ", row.Filename, humanSize(row.DownloadedSize))
					line, _ := reader.ReadString('\n')
					switch strings.ToLower(strings.TrimSpace(line)) {
					case "r", "resume":
						choice = "resume"
					case "d", "delete":
						choice = "delete"
					default:
						choice = "skip"
					}
				}

				switch choice {
				case "resume":
					base := baseDirFor(row.LocalPath, row.Filename)
					req := hfengine.DownloadRequest{ModelID: row.ModelID, Filename: row.Filename, BaseDir: base, ExpectedSHA256: row.ExpectedSHA256}
					if err := engine.Download(ctx, base, req, nil); err != nil {
						fmt.Fprintf(os.Stderr, "error resuming %s: %v\n", row.Filename, err)
					}
				case "delete":
					_ = os.Remove(row.LocalPath + ".incomplete")
					reg.Remove(row.URL)
					_ = reg.SaveTo(regPath)
				case "skip":
					// leave the row intact for a future session
				}
			}
			return nil
		},
	}
	return cmd
}

// baseDirFor recovers the base directory passed to pathguard.Sanitize from
// a registry row's stored local_path and filename: local_path is always
// base/author/model/filename-components, so the base is local_path with
// (2 + number of filename segments) trailing components removed.
func baseDirFor(localPath, filename string) string {
	segments := strings.Count(filename, "/") + 1 + 2
	dir := localPath
	for i := 0; i < segments; i++ {
		dir = filepath.Dir(dir)
	}
	return dir
}
