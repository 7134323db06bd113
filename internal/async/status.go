// Package async runs a scan in the background of a long-lived process and
// tracks its progress for status queries.
package async

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/forge-ai/forge/internal/ui"
)

// IndexingStatus represents the overall indexing state.
type IndexingStatus string

const (
	// StatusIndexing indicates a scan is in progress.
	StatusIndexing IndexingStatus = "indexing"
	// StatusReady indicates the scan committed and queries see its index.
	StatusReady IndexingStatus = "ready"
	// StatusError indicates the scan failed.
	StatusError IndexingStatus = "error"
)

// IndexProgressSnapshot is an immutable snapshot of indexing progress.
type IndexProgressSnapshot struct {
	Status         string  `json:"status"`
	Stage          string  `json:"stage"`
	Current        int     `json:"current"`
	Total          int     `json:"total"`
	CurrentFile    string  `json:"current_file,omitempty"`
	ProgressPct    float64 `json:"progress_pct"`
	Files          int     `json:"files,omitempty"`
	Chunks         int     `json:"chunks,omitempty"`
	Embeddings     int     `json:"embeddings,omitempty"`
	Warnings       int     `json:"warnings"`
	Errors         int     `json:"errors"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// IndexProgress tracks one scan. It is a ui.Renderer, so the runner
// reports into it the same way it reports to the terminal.
type IndexProgress struct {
	mu sync.RWMutex

	status       IndexingStatus
	stage        ui.Stage
	current      int
	total        int
	currentFile  string
	files        int
	chunks       int
	embeddings   int
	warnings     int
	errors       int
	startTime    time.Time
	endTime      time.Time
	errorMessage string
}

var _ ui.Renderer = (*IndexProgress)(nil)

// NewIndexProgress creates a new progress tracker initialized for indexing.
func NewIndexProgress() *IndexProgress {
	return &IndexProgress{
		status:    StatusIndexing,
		stage:     ui.StageScanning,
		startTime: time.Now(),
	}
}

// Start implements ui.Renderer.
func (p *IndexProgress) Start(context.Context) error { return nil }

// Stop implements ui.Renderer.
func (p *IndexProgress) Stop() error { return nil }

// UpdateProgress records the stage and its position.
func (p *IndexProgress) UpdateProgress(event ui.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.Stage != p.stage {
		p.stage = event.Stage
		p.currentFile = ""
	}
	p.current = event.Current
	p.total = event.Total
	if event.CurrentFile != "" {
		p.currentFile = event.CurrentFile
	}
}

// AddError counts a per-file warning or a batch error.
func (p *IndexProgress) AddError(event ui.ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings++
		return
	}
	p.errors++
}

// Complete records the totals of a finished run.
func (p *IndexProgress) Complete(stats ui.CompletionStats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = ui.StageComplete
	p.files = stats.Files
	p.chunks = stats.Chunks
	p.embeddings = stats.Embeddings
	p.currentFile = ""
}

// SetError marks the indexing as failed with an error message.
func (p *IndexProgress) SetError(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusError
	p.errorMessage = message
	p.endTime = time.Now()
}

// SetReady marks the indexing as complete and ready for search.
func (p *IndexProgress) SetReady() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusReady
	p.stage = ui.StageComplete
	p.endTime = time.Now()
}

// IsIndexing returns true if indexing is still in progress.
func (p *IndexProgress) IsIndexing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status == StatusIndexing
}

// Snapshot returns an immutable copy of the current progress state.
func (p *IndexProgress) Snapshot() IndexProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var progressPct float64
	switch {
	case p.status == StatusReady:
		progressPct = 100
	case p.total > 0:
		progressPct = float64(p.current) / float64(p.total) * 100.0
	}

	end := p.endTime
	if end.IsZero() {
		end = time.Now()
	}

	return IndexProgressSnapshot{
		Status:         string(p.status),
		Stage:          strings.ToLower(p.stage.String()),
		Current:        p.current,
		Total:          p.total,
		CurrentFile:    p.currentFile,
		ProgressPct:    progressPct,
		Files:          p.files,
		Chunks:         p.chunks,
		Embeddings:     p.embeddings,
		Warnings:       p.warnings,
		Errors:         p.errors,
		ElapsedSeconds: int(end.Sub(p.startTime).Seconds()),
		ErrorMessage:   p.errorMessage,
	}
}
