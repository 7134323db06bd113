package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per event, for CI logs and pipes.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	errors []ErrorEvent
	// last printed percentage bucket per stage, to keep logs short
	lastBucket map[Stage]int
}

// NewPlainRenderer creates a plain renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, lastBucket: make(map[Stage]int)}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// UpdateProgress prints "[TAG] current/total - msg". Counted progress is
// printed at most once per 10% step.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := event.Message
	if msg == "" {
		msg = event.CurrentFile
	}

	if event.Total > 0 {
		bucket := event.Current * 10 / event.Total
		if last, ok := r.lastBucket[event.Stage]; ok && bucket == last && event.Current != event.Total {
			return
		}
		r.lastBucket[event.Stage] = bucket
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
		return
	}
	if msg != "" {
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)
	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
		return
	}
	_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
}

// Complete prints the run summary and stage breakdown.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete (%s): %d files, %d changed, %d deleted, %d chunks, %d embeddings in %s",
		stats.Mode, stats.Files, stats.Changed, stats.Deleted, stats.Chunks, stats.Embeddings,
		stats.Duration.Round(100*time.Millisecond))
	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.SkippedBatches > 0 {
		_, _ = fmt.Fprintf(r.out, "Skipped batches: %d\n", stats.SkippedBatches)
	}

	st := stats.Stages
	if st.Scan > 0 || st.Parse > 0 || st.Embed > 0 {
		round := func(d time.Duration) time.Duration { return d.Round(time.Millisecond) }
		_, _ = fmt.Fprintln(r.out, "Stage Breakdown:")
		_, _ = fmt.Fprintf(r.out, "  Scan:   %s\n", round(st.Scan))
		_, _ = fmt.Fprintf(r.out, "  Diff:   %s\n", round(st.Diff))
		_, _ = fmt.Fprintf(r.out, "  Parse:  %s\n", round(st.Parse))
		if st.Embed > 0 && stats.Embeddings > 0 {
			_, _ = fmt.Fprintf(r.out, "  Embed:  %s (%d chunks @ %.1f/sec)\n",
				round(st.Embed), stats.Embeddings, float64(stats.Embeddings)/st.Embed.Seconds())
		} else {
			_, _ = fmt.Fprintf(r.out, "  Embed:  %s\n", round(st.Embed))
		}
		_, _ = fmt.Fprintf(r.out, "  Index:  %s\n", round(st.Index))
		_, _ = fmt.Fprintf(r.out, "  Write:  %s\n", round(st.Write))
	}

	if stats.Embedder.Model != "" {
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%d dims), store: %s\n",
			stats.Embedder.Model, stats.Embedder.Dimensions, stats.Backend)
	}
	if stats.OutputDir != "" {
		_, _ = fmt.Fprintf(r.out, "Output: %s\n", stats.OutputDir)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

// Errors returns the recorded error events.
func (r *PlainRenderer) Errors() []ErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ErrorEvent(nil), r.errors...)
}

var _ Renderer = (*PlainRenderer)(nil)
