// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hfpull/hfpull/pkg/pathguard"
	"github.com/hfpull/hfpull/pkg/ratelimiter"
	"github.com/hfpull/hfpull/pkg/registry"
	"github.com/hfpull/hfpull/pkg/verifier"
)

// Engine drives resumable, rate-limited, registry-tracked transfers. One
// Engine is shared across every concurrent download in a run.
type Engine struct {
	client   *Client
	settings Settings
	limiter  *ratelimiter.Limiter
	verify   *verifier.Pool

	regMu sync.Mutex
	reg   *registry.Registry
	path  string

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewEngine builds an Engine. reg is mutated and persisted to path as
// transfers progress; limiter and vpool may be nil to disable rate limiting
// and post-download verification respectively.
func NewEngine(client *Client, settings Settings, reg *registry.Registry, path string, limiter *ratelimiter.Limiter, vpool *verifier.Pool) *Engine {
	return &Engine{
		client:   client,
		settings: settings,
		limiter:  limiter,
		verify:   vpool,
		reg:      reg,
		path:     path,
		inflight: map[string]struct{}{},
	}
}

const chunkSize = 32 * 1024

// Download fetches one file, resuming from a ".incomplete" sidecar if
// present, retrying transient failures up to settings.MaxRetries times, and
// atomically renaming into place on success.
func (e *Engine) Download(ctx context.Context, baseDir string, req DownloadRequest, progress ProgressFunc) error {
	if !IsValidModelID(req.ModelID) {
		return fmt.Errorf("%w: %q", ErrInvalidModelID, req.ModelID)
	}

	finalPath, err := pathguard.Sanitize(baseDir, req.ModelID, req.Filename)
	if err != nil {
		return &PathError{ModelID: req.ModelID, Filename: req.Filename, Err: err}
	}

	resolveURL := e.client.ResolveURL(req.ModelID, req.Filename)

	if !e.acquireInflight(resolveURL) {
		return fmt.Errorf("%w: %s", ErrTransferInFlight, resolveURL)
	}
	defer e.releaseInflight(resolveURL)

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("hfengine: mkdir %s: %w", filepath.Dir(finalPath), err)
	}
	incompletePath := finalPath + ".incomplete"

	emit := func(ev ProgressEvent) {
		if progress == nil {
			return
		}
		if ev.Time.IsZero() {
			ev.Time = time.Now()
		}
		ev.ModelID = req.ModelID
		ev.Filename = req.Filename
		progress(ev)
	}

	resumeFrom := e.resumeOffset(incompletePath)
	e.upsertRow(resolveURL, req, finalPath, resumeFrom, registry.StatusIncomplete)

	maxRetries := e.settings.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := newBackoff(e.settings.RetryDelaySecs)

	emit(ProgressEvent{Event: "file_start", Downloaded: resumeFrom})

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		downloaded, total, err := e.attempt(ctx, resolveURL, incompletePath, resumeFrom, emit)
		if err == nil {
			if err := finalizeTransfer(incompletePath, finalPath); err != nil {
				return fmt.Errorf("hfengine: finalize %s: %w", req.Filename, err)
			}
			e.upsertRow(resolveURL, req, finalPath, total, registry.StatusComplete)
			emit(ProgressEvent{Event: "file_done", Downloaded: downloaded, Total: total})
			e.enqueueVerification(req, finalPath, total)
			return nil
		}

		lastErr = err
		if !isRetryable(err) {
			var authErr *AuthError
			if errors.As(err, &authErr) && authErr.ModelID == "" {
				authErr.ModelID = req.ModelID
			}
			e.upsertRow(resolveURL, req, finalPath, e.resumeOffset(incompletePath), registry.StatusIncomplete)
			emit(ProgressEvent{Event: "error", Message: err.Error()})
			return err
		}
		if attempt == maxRetries {
			break
		}

		resumeFrom = e.resumeOffset(incompletePath)
		e.upsertRow(resolveURL, req, finalPath, resumeFrom, registry.StatusIncomplete)
		emit(ProgressEvent{Event: "retry", Attempt: attempt + 1, Downloaded: resumeFrom, Message: err.Error()})

		if err := sleepCtx(ctx, backoff.next(attempt)); err != nil {
			return err
		}
	}

	e.upsertRow(resolveURL, req, finalPath, e.resumeOffset(incompletePath), registry.StatusIncomplete)
	return fmt.Errorf("hfengine: %s: exhausted retries: %w", req.Filename, lastErr)
}

// attempt performs one ranged GET and streams the body to the incomplete
// sidecar, returning the resulting sidecar size (bytes already present plus
// bytes written this attempt) and the resolved total size.
func (e *Engine) attempt(ctx context.Context, url, incompletePath string, resumeFrom int64, emit func(ProgressEvent)) (int64, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, err
	}
	e.client.addAuth(req)
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	timeout := time.Duration(e.settings.DownloadTimeoutSec) * time.Second
	httpClient := e.client.http
	if timeout > 0 {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		req = req.WithContext(reqCtx)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, 0, &NetworkError{URL: url, Transient: isTransientNetErr(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return 0, 0, &AuthError{ModelID: "", StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return 0, 0, &APIError{StatusCode: resp.StatusCode, URL: url}
	}

	total := totalSizeFromHeaders(resp, resumeFrom)
	e.regMu.Lock()
	if row, ok := e.reg.FindByURL(url); ok && total > row.TotalSize {
		row.TotalSize = total
		e.reg.Upsert(row)
	}
	e.regMu.Unlock()

	f, err := os.OpenFile(incompletePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, 0, fmt.Errorf("open incomplete file: %w", err)
	}
	defer f.Close()

	downloaded := resumeFrom
	buf := make([]byte, chunkSize)
	lastEmit := time.Now()
	interval := time.Duration(e.settings.ProgressEveryMS) * time.Millisecond
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	lastDownloaded := downloaded

	for {
		select {
		case <-ctx.Done():
			return downloaded, total, ctx.Err()
		default:
		}

		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if e.limiter != nil {
				if lerr := e.limiter.Acquire(ctx, n); lerr != nil {
					return downloaded, total, lerr
				}
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
				return downloaded, total, fmt.Errorf("write incomplete file: %w", werr)
			}
			downloaded += int64(n)

			now := time.Now()
			if elapsed := now.Sub(lastEmit); elapsed >= interval {
				speed := float64(downloaded-lastDownloaded) / elapsed.Seconds()
				emit(ProgressEvent{Event: "file_progress", Downloaded: downloaded, Total: total, SpeedBps: speed})
				lastEmit = now
				lastDownloaded = downloaded
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return downloaded, total, &NetworkError{URL: url, Transient: isTransientNetErr(rerr), Err: rerr}
		}
	}

	if err := f.Sync(); err != nil {
		return downloaded, total, fmt.Errorf("fsync incomplete file: %w", err)
	}
	return downloaded, total, nil
}

// totalSizeFromHeaders resolves the expected final size from either a
// Content-Range response (when resuming) or Content-Length plus the bytes
// already on disk.
func totalSizeFromHeaders(resp *http.Response, resumeFrom int64) int64 {
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if idx := strings.LastIndex(cr, "/"); idx != -1 {
			if v, err := strconv.ParseInt(cr[idx+1:], 10, 64); err == nil {
				return v
			}
		}
	}
	return resp.ContentLength + resumeFrom
}

func finalizeTransfer(incompletePath, finalPath string) error {
	return os.Rename(incompletePath, finalPath)
}

func (e *Engine) resumeOffset(incompletePath string) int64 {
	info, err := os.Stat(incompletePath)
	if err != nil {
		return 0
	}
	return info.Size()
}

func (e *Engine) upsertRow(url string, req DownloadRequest, localPath string, downloaded int64, status registry.Status) {
	e.regMu.Lock()
	defer e.regMu.Unlock()

	row, ok := e.reg.FindByURL(url)
	if !ok {
		row = registry.Metadata{ModelID: req.ModelID, Filename: req.Filename, URL: url, LocalPath: localPath, ExpectedSHA256: req.ExpectedSHA256}
	}
	row.DownloadedSize = downloaded
	if downloaded > row.TotalSize {
		row.TotalSize = downloaded
	}
	row.Status = status
	e.reg.Upsert(row)

	if e.path != "" {
		_ = e.reg.SaveTo(e.path)
	}
}

func (e *Engine) enqueueVerification(req DownloadRequest, localPath string, total int64) {
	if e.verify == nil || !e.settings.VerifyOnCompletion || req.ExpectedSHA256 == "" {
		return
	}
	e.verify.Enqueue(verifier.QueueItem{
		Filename:       req.Filename,
		LocalPath:      localPath,
		ExpectedSHA256: req.ExpectedSHA256,
		TotalSize:      total,
	})
}

func (e *Engine) acquireInflight(url string) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	if _, ok := e.inflight[url]; ok {
		return false
	}
	e.inflight[url] = struct{}{}
	return true
}

func (e *Engine) releaseInflight(url string) {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	delete(e.inflight, url)
}

// isRetryable reports whether err should consume retry budget rather than
// fail the transfer immediately. Auth errors never retry; network errors and
// idempotent 5xx responses do.
func isRetryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Transient
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return false
}
