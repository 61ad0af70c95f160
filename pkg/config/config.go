// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package config loads and saves AppOptions, the process-wide configuration
// record consumed by the CLI and by the engine/verifier's atomic tuning
// knobs (see SPEC_FULL.md §9, "Global singletons").
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// SortField and SortDirection are the listing defaults recognized by the
// search subcommand.
type SortField string
type SortDirection string

const (
	SortDownloads SortField = "downloads"
	SortLikes     SortField = "likes"
	SortModified  SortField = "modified"

	DirectionAscending  SortDirection = "ascending"
	DirectionDescending SortDirection = "descending"
)

// AppOptions is the full set of tunables surfaced through the config file
// and CLI flags; see SPEC_FULL.md §3 for the defaults table.
type AppOptions struct {
	DefaultDirectory string `toml:"default_directory" yaml:"default_directory"`
	HFToken          string `toml:"hf_token" yaml:"hf_token"`

	ConcurrentThreads int `toml:"concurrent_threads" yaml:"concurrent_threads"`
	NumChunks         int `toml:"num_chunks" yaml:"num_chunks"`
	MinChunkSize      int `toml:"min_chunk_size" yaml:"min_chunk_size"`
	MaxChunkSize      int `toml:"max_chunk_size" yaml:"max_chunk_size"`

	MaxRetries         int `toml:"max_retries" yaml:"max_retries"`
	DownloadTimeoutSec int `toml:"download_timeout_secs" yaml:"download_timeout_secs"`
	RetryDelaySecs     int `toml:"retry_delay_secs" yaml:"retry_delay_secs"`

	ProgressUpdateIntervalMS int `toml:"progress_update_interval_ms" yaml:"progress_update_interval_ms"`

	VerificationOnCompletion   bool `toml:"verification_on_completion" yaml:"verification_on_completion"`
	ConcurrentVerifications    int `toml:"concurrent_verifications" yaml:"concurrent_verifications"`
	VerificationBufferSize     int `toml:"verification_buffer_size" yaml:"verification_buffer_size"`
	VerificationUpdateInterval int `toml:"verification_update_interval" yaml:"verification_update_interval"`

	DefaultSortField     SortField     `toml:"default_sort_field" yaml:"default_sort_field"`
	DefaultSortDirection SortDirection `toml:"default_sort_direction" yaml:"default_sort_direction"`
	DefaultMinDownloads  int           `toml:"default_min_downloads" yaml:"default_min_downloads"`
	DefaultMinLikes      int           `toml:"default_min_likes" yaml:"default_min_likes"`
}

// Default returns AppOptions populated with the documented defaults, with
// DefaultDirectory and HFToken sourced from the environment as the
// reference implementation does at startup.
func Default() AppOptions {
	home, _ := os.UserHomeDir()
	return AppOptions{
		DefaultDirectory: filepath.Join(home, "models"),
		HFToken:          os.Getenv("HF_TOKEN"),

		ConcurrentThreads: 8,
		NumChunks:         20,
		MinChunkSize:      5 * 1024 * 1024,
		MaxChunkSize:      100 * 1024 * 1024,

		MaxRetries:         5,
		DownloadTimeoutSec: 300,
		RetryDelaySecs:     1,

		ProgressUpdateIntervalMS: 200,

		VerificationOnCompletion:   true,
		ConcurrentVerifications:    2,
		VerificationBufferSize:     128 * 1024,
		VerificationUpdateInterval: 100,

		DefaultSortField:     SortDownloads,
		DefaultSortDirection: DirectionDescending,
		DefaultMinDownloads:  0,
		DefaultMinLikes:      0,
	}
}

// Path returns the well-known config file location, $HOME/.config/hfpull/config.toml.
func Path() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "/tmp"
	}
	return filepath.Join(home, ".config", "hfpull", "config.toml")
}

// legacyYAMLPath is consulted, once, when config.toml is absent, to migrate
// a pre-existing YAML config from one release cycle ago.
func legacyYAMLPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "/tmp"
	}
	return filepath.Join(home, ".config", "hfpull", "config.yaml")
}

// Load reads the config file, falling back to a legacy YAML file, then to
// defaults. It never fails startup: a missing or corrupt file is logged and
// treated as absent.
func Load() AppOptions {
	return LoadFrom(Path(), legacyYAMLPath())
}

// LoadFrom is Load parameterized by explicit paths, for testability.
func LoadFrom(tomlPath, yamlPath string) AppOptions {
	if data, err := os.ReadFile(tomlPath); err == nil {
		opts := Default()
		if _, err := toml.Decode(string(data), &opts); err != nil {
			log.Printf("config: warning: failed to parse %s: %v. Using defaults.", tomlPath, err)
			return Default()
		}
		return opts
	}

	if data, err := os.ReadFile(yamlPath); err == nil {
		opts := Default()
		if err := yaml.Unmarshal(data, &opts); err != nil {
			log.Printf("config: warning: failed to parse legacy %s: %v. Using defaults.", yamlPath, err)
			return Default()
		}
		return opts
	}

	return Default()
}

// Save serializes opts to path via the temp-file-then-rename discipline
// shared with the registry.
func Save(opts AppOptions) error {
	return SaveTo(opts, Path())
}

// SaveTo is Save parameterized by path, for testability.
func SaveTo(opts AppOptions, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(opts); err != nil {
		tmp.Close()
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("config: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	return os.Rename(tmpPath, path)
}
