// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"fmt"
	"sync"

	"github.com/cheggaaa/pb/v3"

	"github.com/hfpull/hfpull/pkg/hfengine"
)

// HeadlessRenderer drives a cheggaaa/pb bar pool for the --headless path: a
// running total bar plus one bar per in-flight file, with no ANSI cursor
// control, matching the pool/total-bar idiom of the legacy downloader this
// one replaces.
type HeadlessRenderer struct {
	mu    sync.Mutex
	pool  *pb.Pool
	total *pb.ProgressBar
	bars  map[string]*pb.ProgressBar
	prior map[string]int64
}

// NewHeadlessRenderer starts the bar pool. A non-nil error means the pool
// could not attach to stdout; callers should fall back to plain log lines.
func NewHeadlessRenderer() (*HeadlessRenderer, error) {
	total := pb.New64(0).Set(pb.Bytes, true).
		SetTemplateString(`{{ "total:" }} {{ bar . }} {{percent . }} {{speed . "%s/s"}} {{etime .}}`)
	pool, err := pb.StartPool(total)
	if err != nil {
		return nil, err
	}
	return &HeadlessRenderer{pool: pool, total: total, bars: map[string]*pb.ProgressBar{}, prior: map[string]int64{}}, nil
}

// Handler returns a ProgressFunc that drives the bar pool.
func (h *HeadlessRenderer) Handler() hfengine.ProgressFunc {
	return func(ev hfengine.ProgressEvent) {
		h.mu.Lock()
		defer h.mu.Unlock()

		switch ev.Event {
		case "file_start":
			h.total.SetTotal(h.total.Total() + ev.Total)
			bar := pb.New64(ev.Total).Set(pb.Bytes, true).
				SetTemplateString(fmt.Sprintf(`{{ "%s:" }} {{ bar . }} {{percent . }} {{speed . "%%s/s"}}`, ev.Filename))
			h.pool.Add(bar)
			bar.SetCurrent(ev.Downloaded)
			h.bars[ev.Filename] = bar
			h.prior[ev.Filename] = ev.Downloaded
		case "file_progress":
			if bar, ok := h.bars[ev.Filename]; ok {
				bar.SetCurrent(ev.Downloaded)
				h.total.Add64(ev.Downloaded - h.prior[ev.Filename])
				h.prior[ev.Filename] = ev.Downloaded
			}
		case "file_done":
			if bar, ok := h.bars[ev.Filename]; ok {
				h.total.Add64(ev.Total - h.prior[ev.Filename])
				bar.SetCurrent(ev.Total)
				bar.Finish()
				delete(h.bars, ev.Filename)
				delete(h.prior, ev.Filename)
			}
		case "error":
			if bar, ok := h.bars[ev.Filename]; ok {
				bar.SetTemplateString(fmt.Sprintf(`{{ "%s:" }} {{ "failed" }}`, ev.Filename)).Finish()
				delete(h.bars, ev.Filename)
				delete(h.prior, ev.Filename)
			}
		}
	}
}

// Close finishes any still-open bars and stops the pool.
func (h *HeadlessRenderer) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, bar := range h.bars {
		bar.Finish()
		delete(h.bars, name)
	}
	h.total.Finish()
	h.pool.Stop()
}
