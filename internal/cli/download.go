// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hfpull/hfpull/internal/tui"
	"github.com/hfpull/hfpull/pkg/config"
	"github.com/hfpull/hfpull/pkg/hfengine"
	"github.com/hfpull/hfpull/pkg/ratelimiter"
	"github.com/hfpull/hfpull/pkg/registry"
	"github.com/hfpull/hfpull/pkg/resolver"
	"github.com/hfpull/hfpull/pkg/verifier"
)

func newDownloadCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var (
		quantization string
		all          bool
		output       string
		rateLimit    float64
	)

	cmd := &cobra.Command{
		Use:   "download <model_id>",
		Short: "Download one quantization group (or all groups) of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modelID := args[0]
			opts := config.Load()
			if output == "" {
				output = opts.DefaultDirectory
			}

			client := hfengine.NewClient(resolveToken(ro, opts))
			groups, err := resolver.Resolve(ctx, client, modelID)
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				return fmt.Errorf("no quantization groups found for %s", modelID)
			}

			selected, err := selectGroups(groups, quantization, all)
			if err != nil {
				return err
			}

			requests := make([]hfengine.DownloadRequest, 0, len(selected))
			for _, g := range selected {
				for _, f := range g.Files {
					requests = append(requests, hfengine.DownloadRequest{
						ModelID:        modelID,
						Filename:       f.Filename,
						BaseDir:        output,
						ExpectedSHA256: f.SHA256,
					})
				}
			}

			if ro.DryRun {
				return printPlan(ro, requests)
			}

			return runDownloads(ctx, ro, opts, client, requests, rateLimit)
		},
	}

	cmd.Flags().StringVar(&quantization, "quantization", "", "Download only the group matching this quantization code (e.g. Q4_K_M)")
	cmd.Flags().BoolVar(&all, "all", false, "Download every quantization group")
	cmd.Flags().StringVar(&output, "output", "", "Destination base directory (default: config default_directory)")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit-bps", 0, "Bandwidth cap in bytes/sec across all transfers (0 = unlimited)")

	return cmd
}

// selectGroups applies the --quantization / --all selection rule: the
// headless predecessor requires exactly one of the two when the model has
// GGUF artifacts, surfaced here as a validation error rather than a silent
// default.
func selectGroups(groups []resolver.QuantizationGroup, quantization string, all bool) ([]resolver.QuantizationGroup, error) {
	if all && quantization != "" {
		return nil, fmt.Errorf("--quantization and --all are mutually exclusive")
	}
	if all {
		return groups, nil
	}
	if quantization == "" {
		return nil, fmt.Errorf("must specify --quantization <code> or --all")
	}
	for _, g := range groups {
		if g.QuantType == quantization {
			return []resolver.QuantizationGroup{g}, nil
		}
	}
	return nil, fmt.Errorf("no group found matching quantization %q", quantization)
}

func printPlan(ro *RootOpts, requests []hfengine.DownloadRequest) error {
	if ro.JSONOut {
		enc := json.NewEncoder(os.Stdout)
		for _, r := range requests {
			_ = enc.Encode(map[string]any{"event": "plan_item", "model_id": r.ModelID, "filename": r.Filename, "expected_sha256": r.ExpectedSHA256})
		}
		return nil
	}
	for _, r := range requests {
		fmt.Printf("would download %s/%s\n", r.ModelID, r.Filename)
	}
	return nil
}

func runDownloads(ctx context.Context, ro *RootOpts, opts config.AppOptions, client *hfengine.Client, requests []hfengine.DownloadRequest, rateLimitBps float64) error {
	reg := registry.Load()
	regPath := registry.Path()

	limiter := ratelimiter.New(rateLimitBps)
	limiter.SetEnabled(rateLimitBps > 0)

	vcfg := verifier.NewConfig()
	vcfg.SetConcurrentVerifications(opts.ConcurrentVerifications)
	vcfg.SetBufferSize(opts.VerificationBufferSize)
	vcfg.SetUpdateIntervalIterations(opts.VerificationUpdateInterval)

	var closeProgress func()
	var progress hfengine.ProgressFunc
	switch {
	case ro.JSONOut:
		enc := json.NewEncoder(os.Stdout)
		var mu sync.Mutex
		progress = func(ev hfengine.ProgressEvent) {
			mu.Lock()
			defer mu.Unlock()
			_ = enc.Encode(ev)
		}
	case ro.Headless:
		hr, err := tui.NewHeadlessRenderer()
		if err != nil {
			progress = func(ev hfengine.ProgressEvent) {
				if ev.Event == "file_done" || ev.Event == "error" || ev.Event == "retry" {
					fmt.Printf("%s %s: %s\n", ev.Event, ev.Filename, ev.Message)
				}
			}
		} else {
			progress = hr.Handler()
			closeProgress = hr.Close
		}
	default:
		renderer := tui.NewLiveRenderer()
		progress = renderer.Handler()
		closeProgress = renderer.Close
	}
	if closeProgress != nil {
		defer closeProgress()
	}

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

	settings := hfengine.Settings{
		ConcurrentThreads:  opts.ConcurrentThreads,
		MaxRetries:         opts.MaxRetries,
		RetryDelaySecs:     opts.RetryDelaySecs,
		DownloadTimeoutSec: opts.DownloadTimeoutSec,
		ProgressEveryMS:    opts.ProgressUpdateIntervalMS,
		VerifyOnCompletion: opts.VerificationOnCompletion,
	}
	engine := hfengine.NewEngine(client, settings, reg, regPath, limiter, vpool)

	concurrency := opts.ConcurrentThreads
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	errs := make(chan error, len(requests))

	for _, req := range requests {
		req := req
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := engine.Download(ctx, req.BaseDir, req, progress); err != nil {
				errs <- fmt.Errorf("%s: %w", req.Filename, err)
			}
		}()
	}
	wg.Wait()
	close(errs)

	var firstErr error
	for err := range errs {
		color.New(color.FgRed).Fprint(os.Stderr, "error: ")
		fmt.Fprintln(os.Stderr, err)
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil && !ro.JSONOut {
		color.New(color.FgGreen).Println("all downloads complete")
	}
	return firstErr
}
