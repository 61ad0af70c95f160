// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hfpull/hfpull/pkg/ratelimiter"
	"github.com/hfpull/hfpull/pkg/registry"
	"github.com/hfpull/hfpull/pkg/verifier"
)

// rewriteTransport redirects every request to target's scheme and host,
// letting tests point a Client built with the real huggingface.co URL
// builders at an httptest server.
type rewriteTransport struct {
	target *url.URL
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	req.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func testClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	target, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	return &Client{
		http: &http.Client{Transport: &rewriteTransport{target: target}},
		host: defaultHost,
	}
}

func TestDownloadResumesFromIncompleteSidecar(t *testing.T) {
	const full = "0123456789abcdefghij"
	const already = "0123456789"

	var gotRange string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		offset := len(already)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, len(full)-1, len(full)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(full[offset:]))
	}))
	defer server.Close()

	dir := t.TempDir()
	canonicalDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	client := testClient(t, server)
	engine := NewEngine(client, Settings{MaxRetries: 1, RetryDelaySecs: 1, ProgressEveryMS: 1000}, &registry.Registry{}, filepath.Join(dir, "reg.toml"), nil, nil)

	finalPath := filepath.Join(canonicalDir, "org", "model", "weights.gguf")
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(finalPath+".incomplete", []byte(already), 0o644); err != nil {
		t.Fatal(err)
	}

	req := DownloadRequest{ModelID: "org/model", Filename: "weights.gguf"}
	if err := engine.Download(context.Background(), dir, req, nil); err != nil {
		t.Fatalf("Download: %v", err)
	}

	if gotRange != "bytes=10-" {
		t.Fatalf("expected resume Range header bytes=10-, got %q", gotRange)
	}
	contents, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("reading final file: %v", err)
	}
	if string(contents) != full {
		t.Fatalf("expected %q, got %q", full, string(contents))
	}
	if _, err := os.Stat(finalPath + ".incomplete"); !os.IsNotExist(err) {
		t.Fatalf("expected incomplete sidecar to be gone, got err=%v", err)
	}

	row, ok := engine.reg.FindByLocalPath(finalPath)
	if !ok {
		t.Fatal("expected a registry row for the completed download")
	}
	if row.Status != registry.StatusComplete {
		t.Fatalf("expected status complete, got %s", row.Status)
	}
}

func TestDownloadRetriesOn503ThenSucceeds(t *testing.T) {
	const body = "hello world"
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}))
	defer server.Close()

	dir := t.TempDir()
	client := testClient(t, server)
	engine := NewEngine(client, Settings{MaxRetries: 3, RetryDelaySecs: 0}, &registry.Registry{}, "", nil, nil)

	var events []string
	progress := func(ev ProgressEvent) { events = append(events, ev.Event) }

	req := DownloadRequest{ModelID: "org/model", Filename: "weights.gguf"}
	if err := engine.Download(context.Background(), dir, req, progress); err != nil {
		t.Fatalf("Download: %v", err)
	}

	if atomic.LoadInt32(&attempts) != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
	var sawRetry bool
	for _, e := range events {
		if e == "retry" {
			sawRetry = true
		}
	}
	if !sawRetry {
		t.Fatalf("expected a retry progress event, got %v", events)
	}
}

func TestDownloadAuthErrorIsNotRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	dir := t.TempDir()
	client := testClient(t, server)
	engine := NewEngine(client, Settings{MaxRetries: 5, RetryDelaySecs: 0}, &registry.Registry{}, "", nil, nil)

	req := DownloadRequest{ModelID: "org/model", Filename: "weights.gguf"}
	err := engine.Download(context.Background(), dir, req, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v (%T)", err, err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable auth error, got %d", attempts)
	}
}

func TestDownloadRespectsRateLimiter(t *testing.T) {
	const body = "0123456789"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}))
	defer server.Close()

	dir := t.TempDir()
	client := testClient(t, server)
	limiter := ratelimiter.New(1 << 30) // effectively unlimited, just exercises the Acquire path
	limiter.SetEnabled(true)
	engine := NewEngine(client, Settings{MaxRetries: 1}, &registry.Registry{}, "", limiter, nil)

	req := DownloadRequest{ModelID: "org/model", Filename: "weights.gguf"}
	if err := engine.Download(context.Background(), dir, req, nil); err != nil {
		t.Fatalf("Download: %v", err)
	}
	contents, err := os.ReadFile(filepath.Join(dir, "org", "model", "weights.gguf"))
	if err != nil {
		t.Fatal(err)
	}
	if string(contents) != body {
		t.Fatalf("expected %q, got %q", body, string(contents))
	}
}

func TestDownloadEnqueuesVerificationOnCompletion(t *testing.T) {
	const body = "hash me please"
	sum := sha256.Sum256([]byte(body))
	digest := hex.EncodeToString(sum[:])

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}))
	defer server.Close()

	dir := t.TempDir()
	client := testClient(t, server)

	vcfg := verifier.NewConfig()
	vpool := verifier.NewPool(vcfg, nil, nil)
	engine := NewEngine(client, Settings{MaxRetries: 1, VerifyOnCompletion: true}, &registry.Registry{}, "", nil, vpool)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go vpool.Run(ctx)

	req := DownloadRequest{ModelID: "org/model", Filename: "weights.gguf", ExpectedSHA256: digest}
	if err := engine.Download(ctx, dir, req, nil); err != nil {
		t.Fatalf("Download: %v", err)
	}

	select {
	case r := <-vpool.Results():
		if !r.Match {
			t.Fatalf("expected hash match, got digest=%s expected=%s", r.Digest, digest)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for verification result")
	}
}
