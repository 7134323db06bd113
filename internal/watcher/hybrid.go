package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HybridWatcher watches a tree with fsnotify, falling back to polling
// when fsnotify cannot be set up.
type HybridWatcher struct {
	opts      Options
	debouncer *Debouncer
	fsw       *fsnotify.Watcher
	filter    *pathFilter

	events  chan []FileEvent
	errors  chan error
	stopCh  chan struct{}
	mu      sync.RWMutex
	stopped bool
	dropped atomic.Uint64
}

// NewHybridWatcher creates a watcher; Start begins watching.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()
	h := &HybridWatcher{
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("watch_fsnotify_unavailable", slog.String("error", err.Error()))
		} else {
			h.fsw = fsw
		}
	}
	return h, nil
}

// Start watches root until ctx is cancelled or Stop is called.
func (h *HybridWatcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	filter, err := newPathFilter(abs, h.opts)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.filter = filter
	h.mu.Unlock()

	go h.forward(ctx)

	if h.fsw == nil {
		slog.Info("watch_started", slog.String("path", abs), slog.String("mode", "polling"))
		poll(ctx, filter, h.opts.PollInterval, h.stopCh, h.accept)
		return ctx.Err()
	}

	if err := h.addTree(abs); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}
	slog.Info("watch_started", slog.String("path", abs), slog.String("mode", "fsnotify"))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case ev, ok := <-h.fsw.Events:
			if !ok {
				return nil
			}
			h.handle(ev)
		case err, ok := <-h.fsw.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

func (h *HybridWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if rel := h.filter.rel(p); rel != "" && h.filter.ignored(rel, true) {
			return filepath.SkipDir
		}
		return h.fsw.Add(p)
	})
}

// handle converts one fsnotify event.
func (h *HybridWatcher) handle(ev fsnotify.Event) {
	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}
	if op == OpCreate && isDir {
		if err := h.addTree(ev.Name); err != nil {
			h.emitError(err)
		}
	}
	h.accept(FileEvent{Path: h.filter.rel(ev.Name), Operation: op, IsDir: isDir, Timestamp: time.Now()})
}

// accept filters and classifies an event before debouncing.
func (h *HybridWatcher) accept(ev FileEvent) {
	if h.filter.ignored(ev.Path, ev.IsDir) {
		return
	}
	name := path.Base(ev.Path)
	switch {
	case name == ".gitignore":
		h.filter.reload()
		ev.Operation = OpIgnoreChange
	case h.isConfig(name):
		ev.Operation = OpConfigChange
	}
	h.debouncer.Add(ev)
}

func (h *HybridWatcher) isConfig(name string) bool {
	for _, n := range h.opts.ConfigNames {
		if n == name {
			return true
		}
	}
	return false
}

func (h *HybridWatcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case batch, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			h.emit(batch)
		}
	}
}

func (h *HybridWatcher) emit(batch []FileEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}
	select {
	case h.events <- batch:
	default:
		n := h.dropped.Add(1)
		slog.Warn("watch_batch_dropped",
			slog.Int("events", len(batch)),
			slog.Uint64("total_dropped", n))
	}
}

func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return
	}
	select {
	case h.errors <- err:
	default:
	}
}

// Events returns the batch channel. It is closed by Stop.
func (h *HybridWatcher) Events() <-chan []FileEvent { return h.events }

// Errors returns non-fatal watcher errors. It is closed by Stop.
func (h *HybridWatcher) Errors() <-chan error { return h.errors }

// Mode returns "fsnotify" or "polling".
func (h *HybridWatcher) Mode() string {
	if h.fsw != nil {
		return "fsnotify"
	}
	return "polling"
}

// Dropped returns the number of batches lost to a full channel.
func (h *HybridWatcher) Dropped() uint64 { return h.dropped.Load() }

// Stop releases the watcher. Safe to call more than once.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.stopCh)
	h.debouncer.Stop()
	if h.fsw != nil {
		_ = h.fsw.Close()
	}
	close(h.events)
	close(h.errors)
	return nil
}
