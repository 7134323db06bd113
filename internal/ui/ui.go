// Package ui renders scan progress: a bubbletea TUI on interactive
// terminals and plain lines for pipes and CI.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is one pipeline stage as shown to the user.
type Stage int

const (
	StageScanning Stage = iota
	StageDiffing
	StageParsing
	StageEmbedding
	StageIndexing
	StageWriting
	StageComplete
)

var stageNames = [...]struct{ name, icon string }{
	StageScanning:  {"Scanning", "SCAN"},
	StageDiffing:   {"Diffing", "DIFF"},
	StageParsing:   {"Parsing", "PARSE"},
	StageEmbedding: {"Embedding", "EMBED"},
	StageIndexing:  {"Indexing", "INDEX"},
	StageWriting:   {"Writing", "WRITE"},
	StageComplete:  {"Complete", "DONE"},
}

// String returns the stage name.
func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "Unknown"
	}
	return stageNames[s].name
}

// Icon returns the short tag used by the plain renderer.
func (s Stage) Icon() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "???"
	}
	return stageNames[s].icon
}

// ProgressEvent is a progress update within a stage. Total is zero when
// the amount of work is not known yet.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ErrorEvent is a recoverable problem. IsWarn marks per-file issues;
// the rest are per-batch failures.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// StageTimings holds the wall time of each stage.
type StageTimings struct {
	Scan  time.Duration
	Diff  time.Duration
	Parse time.Duration // parse + chunk + redact
	Embed time.Duration
	Index time.Duration
	Write time.Duration // manifest, summaries, artifacts
}

// EmbedderInfo describes the provider used for the run.
type EmbedderInfo struct {
	Model      string
	Dimensions int
}

// CompletionStats summarises a finished run.
type CompletionStats struct {
	Mode           string // "full" or "incremental"
	Files          int
	Changed        int
	Deleted        int
	Chunks         int
	Embeddings     int
	SkippedBatches int
	Duration       time.Duration
	Errors         int
	Warnings       int
	Stages         StageTimings
	Embedder       EmbedderInfo
	Backend        string
	OutputDir      string
}

// Renderer displays progress.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures NewRenderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// ProjectDir is shown in the TUI header.
	ProjectDir string
}

// ConfigOption modifies a Config.
type ConfigOption func(*Config)

// WithForcePlain forces the plain renderer.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor disables colors.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithProjectDir sets the header path.
func WithProjectDir(dir string) ConfigOption {
	return func(c *Config) { c.ProjectDir = dir }
}

// NewConfig builds a Config for output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks the TUI for interactive terminals and the plain
// renderer for pipes, CI and --no-tui.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, ok := os.LookupEnv("NO_COLOR")
	return ok
}

// DetectCI reports whether a common CI variable is set.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"} {
		if _, ok := os.LookupEnv(v); ok {
			return true
		}
	}
	return false
}

// NopRenderer discards everything. Watch mode and the MCP server use it.
type NopRenderer struct{}

func (NopRenderer) Start(context.Context) error  { return nil }
func (NopRenderer) UpdateProgress(ProgressEvent) {}
func (NopRenderer) AddError(ErrorEvent)          {}
func (NopRenderer) Complete(CompletionStats)     {}
func (NopRenderer) Stop() error                  { return nil }

var _ Renderer = NopRenderer{}
