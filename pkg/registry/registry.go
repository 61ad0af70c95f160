// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the durable, human-readable record of every
// known download: one row per (model, filename) pair, persisted as a TOML
// text table at a well-known location and updated via the atomic
// write-temp-then-rename discipline used throughout this engine.
package registry

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Status is the lifecycle state of a registry row.
type Status string

const (
	StatusIncomplete   Status = "incomplete"
	StatusComplete     Status = "complete"
	StatusHashMismatch Status = "hash_mismatch"
)

// Metadata is one registry row, keyed by URL.
type Metadata struct {
	ModelID         string `toml:"model_id"`
	Filename        string `toml:"filename"`
	URL             string `toml:"url"`
	LocalPath       string `toml:"local_path"`
	TotalSize       int64  `toml:"total_size"`
	DownloadedSize  int64  `toml:"downloaded_size"`
	Status          Status `toml:"status"`
	ExpectedSHA256  string `toml:"expected_sha256,omitempty"`
}

// Registry is the ordered list of all known downloads.
type Registry struct {
	Downloads []Metadata `toml:"downloads"`
}

// Path returns the well-known registry file location, $HOME/models/hf-downloads.toml.
func Path() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "/tmp"
	}
	return filepath.Join(home, "models", "hf-downloads.toml")
}

// Load reads and parses the registry file. An absent or corrupt file is
// equivalent to an empty registry; Load never fails startup, it only logs.
func Load() *Registry {
	return LoadFrom(Path())
}

// LoadFrom is Load parameterized by path, for testability.
func LoadFrom(path string) *Registry {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("registry: warning: %s not found (starting empty)", path)
		} else {
			log.Printf("registry: warning: could not read %s: %v (starting empty)", path, err)
		}
		return &Registry{}
	}
	var r Registry
	if _, err := toml.Decode(string(data), &r); err != nil {
		log.Printf("registry: warning: could not parse %s: %v (starting empty)", path, err)
		return &Registry{}
	}
	return &r
}

// Save serializes the registry to a temp file in the same directory, fsyncs
// it, then atomically renames it over the live file so a crash mid-write
// never yields a truncated registry.
func (r *Registry) Save() error {
	return r.SaveTo(Path())
}

// SaveTo is Save parameterized by path, for testability.
func (r *Registry) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("registry: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".hf-downloads-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("registry: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(r); err != nil {
		tmp.Close()
		return fmt.Errorf("registry: encode: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("registry: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("registry: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("registry: rename into place: %w", err)
	}
	return nil
}

// Upsert replaces the row matching url, or appends a new one.
func (r *Registry) Upsert(row Metadata) {
	for i := range r.Downloads {
		if r.Downloads[i].URL == row.URL {
			r.Downloads[i] = row
			return
		}
	}
	r.Downloads = append(r.Downloads, row)
}

// FindByURL returns the row keyed by url, if any.
func (r *Registry) FindByURL(url string) (Metadata, bool) {
	for _, d := range r.Downloads {
		if d.URL == url {
			return d, true
		}
	}
	return Metadata{}, false
}

// FindByLocalPath returns the row whose local_path matches path, if any.
func (r *Registry) FindByLocalPath(path string) (Metadata, bool) {
	for _, d := range r.Downloads {
		if d.LocalPath == path {
			return d, true
		}
	}
	return Metadata{}, false
}

// Incomplete returns all rows with status Incomplete.
func (r *Registry) Incomplete() []Metadata {
	var out []Metadata
	for _, d := range r.Downloads {
		if d.Status == StatusIncomplete {
			out = append(out, d)
		}
	}
	return out
}

// CompleteByFilename returns a map of filename to row for all Complete rows.
func (r *Registry) CompleteByFilename() map[string]Metadata {
	out := map[string]Metadata{}
	for _, d := range r.Downloads {
		if d.Status == StatusComplete {
			out[d.Filename] = d
		}
	}
	return out
}

// Remove deletes the row keyed by url, if present.
func (r *Registry) Remove(url string) {
	for i := range r.Downloads {
		if r.Downloads[i].URL == url {
			r.Downloads = append(r.Downloads[:i], r.Downloads[i+1:]...)
			return
		}
	}
}
