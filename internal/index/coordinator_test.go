package index

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ai/forge/internal/watcher"
)

type fakeScanRunner struct {
	mu    sync.Mutex
	calls []RunnerConfig
	err   error
}

func (f *fakeScanRunner) Run(_ context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cfg)
	if f.err != nil {
		return nil, f.err
	}
	return &RunnerResult{Mode: ModeIncremental}, nil
}

func (f *fakeScanRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSource struct {
	events  chan []watcher.FileEvent
	errs    chan error
	started chan string
	stopped chan struct{}
	once    sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events:  make(chan []watcher.FileEvent, 4),
		errs:    make(chan error, 1),
		started: make(chan string, 1),
		stopped: make(chan struct{}),
	}
}

func (s *fakeSource) Start(ctx context.Context, root string) error {
	s.started <- root
	<-ctx.Done()
	return ctx.Err()
}

func (s *fakeSource) Events() <-chan []watcher.FileEvent { return s.events }
func (s *fakeSource) Errors() <-chan error               { return s.errs }

func (s *fakeSource) Stop() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func fileEvent(path string, op watcher.Operation) watcher.FileEvent {
	return watcher.FileEvent{Path: path, Operation: op, Timestamp: time.Now()}
}

// ============================================================================
// TS01: Construction
// ============================================================================

func TestNewCoordinator_RequiresRunner(t *testing.T) {
	_, err := NewCoordinator(CoordinatorConfig{Source: newFakeSource()})
	require.Error(t, err)
}

func TestNewCoordinator_ForcesIncremental(t *testing.T) {
	runner := &fakeScanRunner{}
	c, err := NewCoordinator(CoordinatorConfig{
		Runner: runner,
		Run:    RunnerConfig{RootDir: "/proj"},
		Source: newFakeSource(),
	})
	require.NoError(t, err)

	c.HandleBatch(context.Background(), []watcher.FileEvent{fileEvent("a.ts", watcher.OpModify)})

	require.Equal(t, 1, runner.count())
	assert.True(t, runner.calls[0].Incremental)
	assert.Equal(t, "/proj", runner.calls[0].RootDir)
}

// ============================================================================
// TS02: Batch handling
// ============================================================================

func TestCoordinator_HandleBatch(t *testing.T) {
	tests := []struct {
		name  string
		batch []watcher.FileEvent
		runs  bool
	}{
		{"file change", []watcher.FileEvent{fileEvent("src/a.ts", watcher.OpModify)}, true},
		{"file delete", []watcher.FileEvent{fileEvent("src/a.ts", watcher.OpDelete)}, true},
		{"ignore change", []watcher.FileEvent{fileEvent(".gitignore", watcher.OpIgnoreChange)}, true},
		{"directory created", []watcher.FileEvent{{Path: "src/new", Operation: watcher.OpCreate, IsDir: true}}, false},
		{"directory deleted", []watcher.FileEvent{{Path: "src/old", Operation: watcher.OpDelete, IsDir: true}}, true},
		{"config only", []watcher.FileEvent{fileEvent(".forge.yaml", watcher.OpConfigChange)}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeScanRunner{}
			c, err := NewCoordinator(CoordinatorConfig{Runner: runner, Source: newFakeSource()})
			require.NoError(t, err)

			ran := c.HandleBatch(context.Background(), tt.batch)

			assert.Equal(t, tt.runs, ran)
			if tt.runs {
				assert.Equal(t, 1, runner.count())
				assert.Equal(t, 1, c.Runs())
			} else {
				assert.Zero(t, runner.count())
			}
		})
	}
}

func TestCoordinator_FailedRunIsReported(t *testing.T) {
	runner := &fakeScanRunner{err: errors.New("boom")}
	var gotErr error
	c, err := NewCoordinator(CoordinatorConfig{
		Runner: runner,
		Source: newFakeSource(),
		OnRun:  func(_ *RunnerResult, err error) { gotErr = err },
	})
	require.NoError(t, err)

	ran := c.HandleBatch(context.Background(), []watcher.FileEvent{fileEvent("a.ts", watcher.OpCreate)})

	assert.True(t, ran)
	assert.EqualError(t, gotErr, "boom")
}

// ============================================================================
// TS03: Watch loop
// ============================================================================

func TestCoordinator_WatchRunsOnBatchesUntilCancelled(t *testing.T) {
	// Given: a coordinator over a fake event source
	runner := &fakeScanRunner{}
	src := newFakeSource()
	results := make(chan *RunnerResult, 4)
	c, err := NewCoordinator(CoordinatorConfig{
		Runner: runner,
		Run:    RunnerConfig{RootDir: "/proj"},
		Source: src,
		OnRun:  func(res *RunnerResult, _ error) { results <- res },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()

	select {
	case root := <-src.started:
		assert.Equal(t, "/proj", root)
	case <-time.After(2 * time.Second):
		t.Fatal("source not started")
	}

	// When: a batch of changes arrives
	src.events <- []watcher.FileEvent{fileEvent("src/a.ts", watcher.OpModify)}

	// Then: an incremental run is triggered
	select {
	case res := <-results:
		assert.Equal(t, ModeIncremental, res.Mode)
	case <-time.After(2 * time.Second):
		t.Fatal("no run triggered")
	}

	// And: watcher errors do not stop the loop
	src.errs <- errors.New("transient")
	src.events <- []watcher.FileEvent{fileEvent("src/b.ts", watcher.OpCreate)}
	select {
	case <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("loop stopped after watcher error")
	}

	// When: the context is cancelled
	cancel()

	// Then: Watch returns cleanly and stops the source
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return")
	}
	<-src.stopped
	assert.Equal(t, 2, runner.count())
}

func TestDrain(t *testing.T) {
	ch := make(chan []watcher.FileEvent, 3)
	ch <- []watcher.FileEvent{fileEvent("a", watcher.OpCreate)}
	ch <- []watcher.FileEvent{fileEvent("b", watcher.OpModify), fileEvent("c", watcher.OpDelete)}

	got := drain(ch)

	assert.Len(t, got, 3)
	assert.Empty(t, drain(ch))
}
