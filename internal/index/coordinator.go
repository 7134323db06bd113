package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/forge-ai/forge/internal/watcher"
)

// ScanRunner runs the pipeline once. *Runner implements it.
type ScanRunner interface {
	Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error)
}

// EventSource delivers batches of file events. *watcher.HybridWatcher
// implements it.
type EventSource interface {
	Start(ctx context.Context, root string) error
	Events() <-chan []watcher.FileEvent
	Errors() <-chan error
	Stop() error
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// Runner runs each scan (required).
	Runner ScanRunner

	// Run is the run configuration; watch-triggered runs force
	// Incremental.
	Run RunnerConfig

	// Source defaults to a HybridWatcher built from Watch.
	Source EventSource
	Watch  watcher.Options

	// OnRun, when set, receives the outcome of every triggered run.
	OnRun func(res *RunnerResult, err error)
}

// Coordinator re-runs incremental scans as the tree changes.
type Coordinator struct {
	cfg CoordinatorConfig

	mu   sync.Mutex
	runs int
}

// NewCoordinator validates cfg.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Source == nil {
		w, err := watcher.NewHybridWatcher(cfg.Watch)
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		cfg.Source = w
	}
	cfg.Run.Incremental = true
	return &Coordinator{cfg: cfg}, nil
}

// Watch blocks until ctx is cancelled, running one incremental scan per
// settled batch of changes. Batches that pile up during a scan are folded
// into the next one. A scan that fails does not end the loop; a failure
// to start watching does.
func (c *Coordinator) Watch(ctx context.Context) error {
	src := c.cfg.Source
	defer func() { _ = src.Stop() }()

	startErr := make(chan error, 1)
	go func() { startErr <- src.Start(ctx, c.cfg.Run.RootDir) }()

	errs := src.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-startErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("watcher stopped: %w", err)
			}
			return nil
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		case batch, ok := <-src.Events():
			if !ok {
				return nil
			}
			batch = append(batch, drain(src.Events())...)
			c.HandleBatch(ctx, batch)
		}
	}
}

// drain takes every batch already queued without blocking.
func drain(ch <-chan []watcher.FileEvent) []watcher.FileEvent {
	var out []watcher.FileEvent
	for {
		select {
		case batch, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, batch...)
		default:
			return out
		}
	}
}

// HandleBatch runs a scan when batch holds at least one file change.
// It reports whether a scan ran.
func (c *Coordinator) HandleBatch(ctx context.Context, batch []watcher.FileEvent) bool {
	files, configChanged := summarize(batch)
	if configChanged {
		slog.Warn("watch_config_changed", slog.String("hint", "restart to apply the new configuration"))
	}
	if files == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
	slog.Info("watch_scan_triggered", slog.Int("events", files), slog.Int("run", c.runs))

	res, err := c.cfg.Runner.Run(ctx, c.cfg.Run)
	if err != nil {
		slog.Error("watch_scan_failed", slog.String("error", err.Error()))
	}
	if c.cfg.OnRun != nil {
		c.cfg.OnRun(res, err)
	}
	return true
}

// Runs returns how many scans the coordinator has triggered.
func (c *Coordinator) Runs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

// summarize counts events that can change scan output. Ignore-file edits
// count since they change which files are admitted.
func summarize(batch []watcher.FileEvent) (files int, configChanged bool) {
	for _, ev := range batch {
		switch {
		case ev.Operation == watcher.OpConfigChange:
			configChanged = true
		case ev.IsDir && ev.Operation != watcher.OpDelete:
		default:
			files++
		}
	}
	return files, configChanged
}
