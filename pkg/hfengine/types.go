// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package hfengine implements the download and verification engine: the
// resumable ranged-HTTP transfer subsystem that sits atop the path guard,
// rate limiter, and registry.
package hfengine

import "time"

// ModelFile is one entry from a repository tree listing.
type ModelFile struct {
	Type string   `json:"type"` // "file" or "directory"
	Path string   `json:"path"`
	Size int64    `json:"size"`
	LFS  *LFSInfo `json:"lfs,omitempty"`
	OID  string   `json:"oid,omitempty"`
}

// LFSInfo describes the LFS pointer metadata for a file; OID is the
// server-computed SHA-256 of the file's real bytes, never of the pointer.
type LFSInfo struct {
	OID         string `json:"oid"`
	Size        int64  `json:"size"`
	PointerSize int64  `json:"pointerSize"`
}

// DownloadRequest names a single file to fetch.
type DownloadRequest struct {
	ModelID        string
	Filename       string
	BaseDir        string
	ExpectedSHA256 string
}

// TransferState is the per-transfer state machine position.
type TransferState int

const (
	StatePending TransferState = iota
	StateFetching
	StateCompleted
	StateRetrying
	StateFailed
)

func (s TransferState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StateCompleted:
		return "completed"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProgressEvent is emitted by the engine as a transfer advances.
type ProgressEvent struct {
	Time       time.Time `json:"time"`
	Event      string    `json:"event"` // file_start, file_progress, retry, file_done, error
	ModelID    string    `json:"model_id,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	Downloaded int64     `json:"downloaded,omitempty"`
	Total      int64     `json:"total,omitempty"`
	SpeedBps   float64   `json:"speed_bps,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// ProgressFunc receives progress events; implementations must not block.
type ProgressFunc func(ProgressEvent)

// Settings configures the download engine for one run.
type Settings struct {
	ConcurrentThreads  int
	MaxRetries         int
	RetryDelaySecs     int
	DownloadTimeoutSec int
	RateBytesPerSec    float64
	RateLimitEnabled   bool
	Token              string
	ProgressEveryMS    int
	VerifyOnCompletion bool
}

// DefaultSettings mirrors AppOptions' documented defaults.
func DefaultSettings() Settings {
	return Settings{
		ConcurrentThreads:  8,
		MaxRetries:         5,
		RetryDelaySecs:     1,
		DownloadTimeoutSec: 300,
		ProgressEveryMS:    200,
		VerifyOnCompletion: true,
	}
}
