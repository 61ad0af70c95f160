// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	opts := LoadFrom(filepath.Join(dir, "config.toml"), filepath.Join(dir, "config.yaml"))
	if opts.ConcurrentThreads != 8 {
		t.Fatalf("ConcurrentThreads = %d, want 8", opts.ConcurrentThreads)
	}
	if opts.VerificationBufferSize != 128*1024 {
		t.Fatalf("VerificationBufferSize = %d, want 131072", opts.VerificationBufferSize)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	opts := Default()
	opts.ConcurrentThreads = 16
	opts.DefaultDirectory = "/data/models"
	if err := SaveTo(opts, path); err != nil {
		t.Fatal(err)
	}

	loaded := LoadFrom(path, filepath.Join(dir, "config.yaml"))
	if loaded.ConcurrentThreads != 16 || loaded.DefaultDirectory != "/data/models" {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}

func TestLoadFallsBackToLegacyYAML(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(yamlPath, []byte("concurrent_threads: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	opts := LoadFrom(filepath.Join(dir, "config.toml"), yamlPath)
	if opts.ConcurrentThreads != 4 {
		t.Fatalf("ConcurrentThreads = %d, want 4 from legacy yaml", opts.ConcurrentThreads)
	}
}

func TestLoadCorruptFileDegradesToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("not = valid = toml"), 0o644); err != nil {
		t.Fatal(err)
	}
	opts := LoadFrom(path, filepath.Join(dir, "config.yaml"))
	if opts.ConcurrentThreads != 8 {
		t.Fatalf("expected defaults on corrupt file, got %+v", opts)
	}
}
