// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package tui renders a live terminal progress table for a batch of
// concurrent downloads using ANSI cursor control to redraw in place.
package tui

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/hfpull/hfpull/pkg/hfengine"
)

// speedSmoothingFactor controls the EMA weight given to the latest sample;
// lower is smoother, higher is more responsive.
const speedSmoothingFactor = 0.3

func smoothSpeed(current, previous float64) float64 {
	if previous == 0 {
		return current
	}
	return speedSmoothingFactor*current + (1-speedSmoothingFactor)*previous
}

type fileState struct {
	filename string
	total    int64
	bytes    int64
	status   string // queued, downloading, done, error
	errMsg   string

	lastBytes     int64
	lastTime      time.Time
	smoothedSpeed float64
	started       time.Time
}

// LiveRenderer renders an adaptive, colorful progress table for every
// in-flight file, falling back to plain text on non-ANSI terminals.
type LiveRenderer struct {
	mu      sync.Mutex
	events  chan hfengine.ProgressEvent
	done    chan struct{}
	stopped bool

	supports bool
	noColor  bool
	hideCur  bool

	files map[string]*fileState

	lastTotalBytes int64
	lastTick       time.Time
	smoothedSpeed  float64
}

// NewLiveRenderer starts a renderer goroutine that redraws on a fixed tick.
func NewLiveRenderer() *LiveRenderer {
	lr := &LiveRenderer{
		events:  make(chan hfengine.ProgressEvent, 2048),
		done:    make(chan struct{}),
		files:   map[string]*fileState{},
		noColor: os.Getenv("NO_COLOR") != "",
	}
	lr.supports = isInteractive() && ansiOkay()
	if lr.supports && !lr.noColor {
		fmt.Fprint(os.Stdout, "\x1b[?25l")
		lr.hideCur = true
	}
	go lr.loop()
	return lr
}

// Close stops the renderer, restores the cursor, and prints a final frame.
func (lr *LiveRenderer) Close() {
	lr.mu.Lock()
	if lr.stopped {
		lr.mu.Unlock()
		return
	}
	lr.stopped = true
	close(lr.done)
	lr.mu.Unlock()
	time.Sleep(60 * time.Millisecond)
	if lr.hideCur {
		fmt.Fprint(os.Stdout, "\x1b[?25h")
	}
	fmt.Fprintln(os.Stdout)
}

// Handler returns a ProgressFunc that feeds events to the renderer without
// blocking the download engine.
func (lr *LiveRenderer) Handler() hfengine.ProgressFunc {
	return func(ev hfengine.ProgressEvent) {
		select {
		case lr.events <- ev:
		default:
		}
	}
}

func (lr *LiveRenderer) loop() {
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-lr.done:
			lr.render(true)
			return
		case ev := <-lr.events:
			lr.apply(ev)
		case <-ticker.C:
			lr.render(false)
		}
	}
}

func (lr *LiveRenderer) apply(ev hfengine.ProgressEvent) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	fs := lr.ensure(ev.Filename)
	switch ev.Event {
	case "file_start":
		fs.total = ev.Total
		fs.status = "downloading"
		if fs.started.IsZero() {
			fs.started = time.Now()
		}
	case "file_progress":
		if ev.Total > 0 {
			fs.total = ev.Total
		}
		fs.bytes = ev.Downloaded
	case "file_done":
		fs.status = "done"
		fs.bytes = fs.total
	case "retry":
		fs.status = "downloading"
	case "error":
		fs.status = "error"
		fs.errMsg = ev.Message
	}
}

func (lr *LiveRenderer) ensure(filename string) *fileState {
	if fs, ok := lr.files[filename]; ok {
		return fs
	}
	fs := &fileState{filename: filename, status: "queued"}
	lr.files[filename] = fs
	return fs
}

func (lr *LiveRenderer) render(final bool) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	w, h := termSize()
	if w < 70 {
		w = 70
	}
	if h < 12 {
		h = 12
	}

	var aggBytes, aggTotal int64
	var active []*fileState
	var doneCnt, errCnt int
	for _, fs := range lr.files {
		switch fs.status {
		case "downloading":
			active = append(active, fs)
		case "done":
			doneCnt++
		case "error":
			errCnt++
		}
		aggTotal += fs.total
		if fs.bytes > 0 {
			aggBytes += fs.bytes
		} else if fs.status == "done" {
			aggBytes += fs.total
		}
	}

	now := time.Now()
	if !lr.lastTick.IsZero() {
		if dt := now.Sub(lr.lastTick).Seconds(); dt > 0.05 {
			instant := float64(aggBytes-lr.lastTotalBytes) / dt
			if instant >= 0 {
				lr.smoothedSpeed = smoothSpeed(instant, lr.smoothedSpeed)
			}
			lr.lastTick = now
			lr.lastTotalBytes = aggBytes
		}
	} else {
		lr.lastTick = now
		lr.lastTotalBytes = aggBytes
	}
	speed := lr.smoothedSpeed

	var etaStr string
	if speed > 0 && aggTotal > aggBytes {
		etaStr = fmtDuration(time.Duration(float64(aggTotal-aggBytes)/speed) * time.Second)
	} else {
		etaStr = "—"
	}

	if lr.supports {
		fmt.Fprint(os.Stdout, "\x1b[H\x1b[2J")
	}

	prog := 0.0
	if aggTotal > 0 {
		prog = clamp01(float64(aggBytes) / float64(aggTotal))
	}
	bar := renderBar(int(float64(w)*0.4), prog)
	fmt.Fprintf(os.Stdout, "%s  %s  %s/%s  %s/s  ETA %s  (%d done, %d active, %d error)\n",
		colorize(bar, "fg=green", lr), percent(prog), humanBytes(aggBytes), humanBytes(aggTotal),
		humanBytes(int64(speed)), etaStr, doneCnt, len(active), errCnt)
	fmt.Fprintln(os.Stdout)

	sort.Slice(active, func(i, j int) bool { return active[i].bytes > active[j].bytes })
	maxRows := h - 6
	if maxRows < 3 {
		maxRows = 3
	}
	shown := 0
	for _, fs := range active {
		if shown >= maxRows {
			break
		}
		fmt.Fprintln(os.Stdout, renderFileRow(fs, w))
		shown++
	}

	if lr.supports {
		fmt.Fprintln(os.Stdout, dim(fmt.Sprintf("Press Ctrl+C to cancel • %s/%s", runtime.GOOS, runtime.GOARCH)))
	}
}

func renderFileRow(fs *fileState, w int) string {
	statusW, speedW, etaW := 9, 10, 9
	remain := w - (statusW + speedW + etaW + 8)
	if remain < 20 {
		remain = 20
	}
	fileW := remain / 2
	if fileW < 18 {
		fileW = 18
	}
	progressW := remain - fileW

	var st string
	switch fs.status {
	case "downloading":
		st = "▶ downloading"
	case "done":
		st = "✓ done"
	case "error":
		st = "× error"
	default:
		st = "… queued"
	}
	status := pad(st, statusW)
	name := ellipsizeMiddle(fs.filename, fileW)

	p := 0.0
	if fs.total > 0 {
		p = clamp01(float64(fs.bytes) / float64(fs.total))
	}
	bar := renderBar(progressW-18, p)
	progress := bar + fmt.Sprintf(" %s/%s %s", humanBytes(fs.bytes), humanBytes(fs.total), percent(p))
	if utf8.RuneCountInString(progress) > progressW {
		runes := []rune(progress)
		progress = string(runes[:progressW])
	}

	now := time.Now()
	if !fs.lastTime.IsZero() {
		if dt := now.Sub(fs.lastTime).Seconds(); dt > 0.05 {
			instant := float64(fs.bytes-fs.lastBytes) / dt
			if instant >= 0 {
				fs.smoothedSpeed = smoothSpeed(instant, fs.smoothedSpeed)
			}
			fs.lastTime = now
			fs.lastBytes = fs.bytes
		}
	} else {
		fs.lastTime = now
		fs.lastBytes = fs.bytes
	}
	speedTxt := pad(humanBytes(int64(fs.smoothedSpeed))+"/s", speedW)

	eta := "—"
	if fs.smoothedSpeed > 0 && fs.total > fs.bytes {
		eta = fmtDuration(time.Duration(float64(fs.total-fs.bytes)/fs.smoothedSpeed) * time.Second)
	}

	return fmt.Sprintf("%s  %s  %s  %s  %s", status, pad(name, fileW), progress, speedTxt, pad(eta, etaW))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func pad(s string, w int) string {
	r := utf8.RuneCountInString(s)
	if r >= w {
		return s
	}
	return s + strings.Repeat(" ", w-r)
}

func ellipsizeMiddle(s string, w int) string {
	if w <= 3 || utf8.RuneCountInString(s) <= w {
		return pad(s, w)
	}
	runes := []rune(s)
	half := (w - 3) / 2
	if 2*half+3 > len(runes) {
		return pad(s, w)
	}
	return pad(string(runes[:half])+"..."+string(runes[len(runes)-half:]), w)
}

func renderBar(width int, p float64) string {
	if width < 3 {
		width = 3
	}
	filled := int(p * float64(width))
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func percent(p float64) string { return fmt.Sprintf("%3.0f%%", p*100) }

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit && exp < 6; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func fmtDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func termSize() (int, int) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return 100, 30
	}
	return w, h
}

func isInteractive() bool { return term.IsTerminal(int(os.Stdout.Fd())) }

func ansiOkay() bool {
	return strings.ToLower(os.Getenv("TERM")) != "dumb"
}

func colorize(s, style string, lr *LiveRenderer) string {
	if lr.noColor || !lr.supports {
		return s
	}
	switch style {
	case "fg=green":
		return "\x1b[32m" + s + "\x1b[0m"
	default:
		return s
	}
}

func dim(s string) string { return "\x1b[2m" + s + "\x1b[0m" }
