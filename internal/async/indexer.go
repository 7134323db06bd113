package async

import (
	"context"
	"log/slog"
	"sync"

	"github.com/forge-ai/forge/internal/ui"
)

// IndexFunc runs one scan, reporting progress to r.
type IndexFunc func(ctx context.Context, r ui.Renderer) error

// BackgroundIndexer runs a scan in a goroutine with progress tracking.
type BackgroundIndexer struct {
	progress *IndexProgress

	// IndexFunc is the scan to run.
	IndexFunc IndexFunc

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
	running bool
	err     error
}

// NewBackgroundIndexer creates a background indexer for fn.
func NewBackgroundIndexer(fn IndexFunc) *BackgroundIndexer {
	return &BackgroundIndexer{
		progress:  NewIndexProgress(),
		IndexFunc: fn,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Progress returns the progress tracker for this indexer.
func (b *BackgroundIndexer) Progress() *IndexProgress {
	return b.progress
}

// IsRunning returns true if the indexer is currently running.
func (b *BackgroundIndexer) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start begins indexing in a background goroutine. Only the first call
// starts a scan; use Wait to block until it completes.
func (b *BackgroundIndexer) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.running = true
	b.mu.Unlock()

	go b.run(ctx)
}

func (b *BackgroundIndexer) run(ctx context.Context) {
	defer close(b.doneCh)
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if b.IndexFunc != nil {
		if err := b.IndexFunc(ctx, b.progress); err != nil {
			slog.Warn("background_scan_failed", slog.String("error", err.Error()))
			b.progress.SetError(err.Error())
			b.mu.Lock()
			b.err = err
			b.mu.Unlock()
			return
		}
	}

	b.progress.SetReady()
	slog.Info("background_scan_complete")
}

// Stop cancels a running scan and waits for it to return.
func (b *BackgroundIndexer) Stop() {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return
	}

	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

// Wait blocks until the scan completes and returns its error. It returns
// nil at once when Start was never called.
func (b *BackgroundIndexer) Wait() error {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	if !started {
		return nil
	}

	<-b.doneCh
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
