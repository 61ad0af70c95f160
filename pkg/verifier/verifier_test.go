// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, contents []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.gguf")
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestVerifyMatch(t *testing.T) {
	contents := []byte("hello quantized world")
	path := writeTempFile(t, contents)

	var results []Result
	pool := NewPool(NewConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go pool.Run(ctx)

	pool.Enqueue(QueueItem{Filename: "artifact.gguf", LocalPath: path, ExpectedSHA256: sha256Hex(contents), TotalSize: int64(len(contents))})

	select {
	case r := <-pool.Results():
		results = append(results, r)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for verification result")
	}
	cancel()

	if !results[0].Match {
		t.Fatalf("expected match, got %+v", results[0])
	}
}

func TestVerifyMismatchInvokesCallback(t *testing.T) {
	contents := []byte("some bytes")
	path := writeTempFile(t, contents)

	var mismatched QueueItem
	called := make(chan struct{}, 1)
	pool := NewPool(NewConfig(), nil, func(item QueueItem, digest string) {
		mismatched = item
		called <- struct{}{}
	})
	ctx, cancel := context.WithCancel(context.Background())
	go pool.Run(ctx)
	defer cancel()

	pool.Enqueue(QueueItem{Filename: "bad.gguf", LocalPath: path, ExpectedSHA256: "deadbeef", TotalSize: int64(len(contents))})

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mismatch callback")
	}
	if mismatched.Filename != "bad.gguf" {
		t.Fatalf("mismatched item = %+v", mismatched)
	}
}

func TestVerifyMissingFileReportsError(t *testing.T) {
	pool := NewPool(NewConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go pool.Run(ctx)
	defer cancel()

	pool.Enqueue(QueueItem{Filename: "gone.gguf", LocalPath: "/nonexistent/path/gone.gguf"})

	select {
	case r := <-pool.Results():
		if r.Err == nil {
			t.Fatal("expected error for missing file")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	if cfg.ConcurrentVerifications() != 2 {
		t.Fatalf("ConcurrentVerifications = %d, want 2", cfg.ConcurrentVerifications())
	}
	if cfg.BufferSize() != 128*1024 {
		t.Fatalf("BufferSize = %d, want 131072", cfg.BufferSize())
	}
	cfg.SetConcurrentVerifications(4)
	if cfg.ConcurrentVerifications() != 4 {
		t.Fatal("SetConcurrentVerifications did not take effect")
	}
}
