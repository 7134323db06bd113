package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ai/forge/internal/changes"
	"github.com/forge-ai/forge/internal/chunk"
	"github.com/forge-ai/forge/internal/config"
	"github.com/forge-ai/forge/internal/embed"
	ferrors "github.com/forge-ai/forge/internal/errors"
	"github.com/forge-ai/forge/internal/output"
	"github.com/forge-ai/forge/internal/parse"
	"github.com/forge-ai/forge/internal/sqlitedb"
	"github.com/forge-ai/forge/internal/store"
	"github.com/forge-ai/forge/internal/ui"
)

// fakeRenderer records renderer calls.
type fakeRenderer struct {
	mu       sync.Mutex
	progress []ui.ProgressEvent
	errors   []ui.ErrorEvent
	stats    *ui.CompletionStats
}

func (f *fakeRenderer) Start(context.Context) error { return nil }
func (f *fakeRenderer) Stop() error                 { return nil }

func (f *fakeRenderer) UpdateProgress(ev ui.ProgressEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, ev)
}

func (f *fakeRenderer) AddError(ev ui.ErrorEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, ev)
}

func (f *fakeRenderer) Complete(stats ui.CompletionStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = &stats
}

func (f *fakeRenderer) stages() map[ui.Stage]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[ui.Stage]bool{}
	for _, ev := range f.progress {
		seen[ev.Stage] = true
	}
	return seen
}

// flakyProvider wraps the static provider and fails any batch holding a
// marked text while failing is set.
type flakyProvider struct {
	*embed.StaticProvider
	mu      sync.Mutex
	failing bool
	marker  string
}

func (p *flakyProvider) setFailing(v bool) {
	p.mu.Lock()
	p.failing = v
	p.mu.Unlock()
}

func (p *flakyProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	failing := p.failing
	p.mu.Unlock()
	if failing {
		for _, t := range texts {
			if strings.Contains(t, p.marker) {
				return nil, ferrors.New(ferrors.ErrCodeProviderFailed, "provider unavailable", errors.New("connection refused"))
			}
		}
	}
	return p.StaticProvider.EmbedBatch(ctx, texts)
}

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Embedding.Provider = "static"
	cfg.Embedding.MaxRetries = 0
	cfg.VectorStore.Backend = store.BackendFlat
	cfg.Summarizer.Provider = "none"
	cfg.Performance.Workers = 2
	return cfg
}

func writeProject(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

const appSource = `import React from 'react';

export default function App() {
  const load = () => fetch('/api/users');
  return <div onClick={load}>Users</div>;
}
`

const apiSource = `export const apiKey = "abc123secretvalue";

export async function getOrders() {
  return fetch('/api/orders');
}
`

func sampleProject(t *testing.T) string {
	root := t.TempDir()
	writeProject(t, root, map[string]string{
		"package.json":  `{"dependencies": {"react": "^18.0.0"}}`,
		"src/App.jsx":   appSource,
		"src/api.ts":    apiSource,
		"src/legacy.js": "export function legacy() {\n  return 1;\n}\n",
	})
	return root
}

func newTestRunner(t *testing.T, cfg *config.Config, p embed.Provider) (*Runner, *fakeRenderer) {
	t.Helper()
	r := &fakeRenderer{}
	runner, err := NewRunner(RunnerDependencies{Renderer: r, Config: cfg, Provider: p})
	require.NoError(t, err)
	return runner, r
}

// openIndex reopens the flat index a run persisted.
func openIndex(t *testing.T, root string, cfg *config.Config) store.Index {
	t.Helper()
	idx, err := store.Open(context.Background(), store.Options{
		Backend:    cfg.VectorStore.Backend,
		Dir:        config.ResolvePath(root, cfg.VectorStore.PersistDirectory),
		Collection: cfg.VectorStore.Collection,
		Dimensions: cfg.Embedding.Dimensions,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func hitsForFile(t *testing.T, idx store.Index, p embed.Provider, file string) []store.Hit {
	t.Helper()
	vec, err := embed.EmbedText(context.Background(), p, "function")
	require.NoError(t, err)
	hits, err := idx.Query(context.Background(), vec, 1000, store.Filters{chunk.MetaFile: file})
	require.NoError(t, err)
	return hits
}

// ============================================================================
// TS01: Construction
// ============================================================================

func TestNewRunner_RequiresDependencies(t *testing.T) {
	cfg := testConfig()
	p := embed.NewStaticProvider(cfg.Embedding.Dimensions)

	tests := []struct {
		name string
		deps RunnerDependencies
		want string
	}{
		{"no renderer", RunnerDependencies{Config: cfg, Provider: p}, "renderer"},
		{"no config", RunnerDependencies{Renderer: &fakeRenderer{}, Provider: p}, "config"},
		{"no provider", RunnerDependencies{Renderer: &fakeRenderer{}, Config: cfg}, "provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(tt.deps)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewRunner_BadRedactPatternIsConfigError(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RedactPatterns = []string{"("}

	_, err := NewRunner(RunnerDependencies{
		Renderer: &fakeRenderer{},
		Config:   cfg,
		Provider: embed.NewStaticProvider(cfg.Embedding.Dimensions),
	})

	require.Error(t, err)
	assert.Equal(t, ferrors.ClassConfig, ferrors.ClassOf(err))
}

// ============================================================================
// TS02: Full run
// ============================================================================

func TestRunner_FullRun(t *testing.T) {
	// Given: a small React project
	root := sampleProject(t)
	cfg := testConfig()
	p := embed.NewStaticProvider(cfg.Embedding.Dimensions)
	runner, rend := newTestRunner(t, cfg, p)

	// When: a full run completes
	res, err := runner.Run(context.Background(), RunnerConfig{RootDir: root})
	require.NoError(t, err)

	// Then: every file is scanned and every chunk embedded
	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, 4, res.Files)
	assert.Equal(t, 4, res.Changed)
	assert.Positive(t, res.Chunks)
	assert.Equal(t, res.Chunks, res.Embeddings)
	assert.Zero(t, res.SkippedBatches)
	assert.Equal(t, StatusSuccess, res.RunLog.Status)
	assert.Equal(t, filepath.Join(root, "forge-output"), res.OutputDir)

	// And: every document is published
	for _, name := range []string{output.ManifestFile, output.InventoryFile, output.ScanLogFile, output.SummariesFile, output.ChangeSetFile} {
		assert.FileExists(t, filepath.Join(res.OutputDir, name))
	}
	assert.FileExists(t, filepath.Join(root, config.DataDirName, TrackerFileName))
	assert.FileExists(t, filepath.Join(root, config.DataDirName, ParseCacheFileName))

	// And: the manifest aggregates the parse results
	assert.Contains(t, res.Manifest.APICalls, "/api/users")
	assert.Equal(t, res.Chunks, res.Manifest.Index.Chunks)
	assert.Equal(t, store.BackendFlat, res.Manifest.Index.Backend)
	assert.Zero(t, res.Manifest.ErrorCount)

	// And: the renderer saw every stage and the completion
	stages := rend.stages()
	for _, s := range []ui.Stage{ui.StageScanning, ui.StageDiffing, ui.StageParsing, ui.StageEmbedding, ui.StageIndexing, ui.StageWriting} {
		assert.True(t, stages[s], "stage %s not reported", s)
	}
	require.NotNil(t, rend.stats)
	assert.Equal(t, res.Chunks, rend.stats.Chunks)
	assert.Equal(t, store.BackendFlat, rend.stats.Backend)
}

func TestRunner_OwnDirectoriesNotScanned(t *testing.T) {
	// Given: a project that already has output from a previous run
	root := sampleProject(t)
	cfg := testConfig()
	runner, _ := newTestRunner(t, cfg, embed.NewStaticProvider(cfg.Embedding.Dimensions))
	_, err := runner.Run(context.Background(), RunnerConfig{RootDir: root})
	require.NoError(t, err)

	// When: scanning again
	res, err := runner.Run(context.Background(), RunnerConfig{RootDir: root})
	require.NoError(t, err)

	// Then: the output and data directories are not part of the inventory
	var inv struct {
		Files []struct {
			RelPath string `json:"relative_path"`
		} `json:"files"`
	}
	require.NoError(t, output.ReadJSON(res.OutputDir, output.InventoryFile, &inv))
	for _, f := range inv.Files {
		assert.False(t, strings.HasPrefix(f.RelPath, "forge-output/"), f.RelPath)
		assert.False(t, strings.HasPrefix(f.RelPath, ".forge/"), f.RelPath)
	}
	assert.Equal(t, 4, res.Files)
}

func TestRunner_RedactsBeforeIndexing(t *testing.T) {
	root := sampleProject(t)
	cfg := testConfig()
	p := embed.NewStaticProvider(cfg.Embedding.Dimensions)
	runner, _ := newTestRunner(t, cfg, p)

	res, err := runner.Run(context.Background(), RunnerConfig{RootDir: root})
	require.NoError(t, err)
	assert.Positive(t, res.Redacted)

	hits := hitsForFile(t, openIndex(t, root, cfg), p, "src/api.ts")
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.NotContains(t, h.Text, "abc123secretvalue")
	}
}

func TestRunner_ExplicitOutputDir(t *testing.T) {
	root := sampleProject(t)
	out := filepath.Join(t.TempDir(), "artifacts")
	cfg := testConfig()
	runner, _ := newTestRunner(t, cfg, embed.NewStaticProvider(cfg.Embedding.Dimensions))

	res, err := runner.Run(context.Background(), RunnerConfig{RootDir: root, OutputDir: out})
	require.NoError(t, err)

	assert.Equal(t, out, res.OutputDir)
	assert.FileExists(t, filepath.Join(out, output.ManifestFile))
	assert.NoDirExists(t, filepath.Join(root, "forge-output"))
}

// ============================================================================
// TS03: Incremental runs
// ============================================================================

func TestRunner_IncrementalScenario(t *testing.T) {
	// Given: a project indexed by a full run
	root := sampleProject(t)
	cfg := testConfig()
	p := embed.NewStaticProvider(cfg.Embedding.Dimensions)
	runner, _ := newTestRunner(t, cfg, p)
	_, err := runner.Run(context.Background(), RunnerConfig{RootDir: root})
	require.NoError(t, err)

	// When: one file changes, one is added and one is deleted
	writeProject(t, root, map[string]string{
		"src/legacy.js": "export function legacy() {\n  return 2;\n}\n",
		"src/Nav.tsx":   "export const Nav = () => <nav>menu</nav>;\n",
	})
	require.NoError(t, os.Remove(filepath.Join(root, "src/api.ts")))

	res, err := runner.Run(context.Background(), RunnerConfig{RootDir: root, Incremental: true})
	require.NoError(t, err)

	// Then: only the changed files are re-embedded
	assert.Equal(t, ModeIncremental, res.Mode)
	assert.Equal(t, 4, res.Files)
	assert.Equal(t, 2, res.Changed)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, res.Chunks, res.Embeddings)

	var cs changes.ChangeSet
	require.NoError(t, output.ReadJSON(res.OutputDir, output.ChangeSetFile, &cs))
	assert.Equal(t, []string{"src/Nav.tsx", "src/legacy.js"}, cs.Changed)
	assert.Equal(t, []string{"package.json", "src/App.jsx"}, cs.Unchanged)
	assert.Equal(t, []string{"src/api.ts"}, cs.Deleted)

	// And: the manifest still covers unchanged files
	assert.Contains(t, res.Manifest.APICalls, "/api/users")
	assert.NotContains(t, res.Manifest.APICalls, "/api/orders")

	// And: the deleted file left the index, the rest is still there
	idx := openIndex(t, root, cfg)
	assert.Empty(t, hitsForFile(t, idx, p, "src/api.ts"))
	assert.NotEmpty(t, hitsForFile(t, idx, p, "src/App.jsx"))
	assert.NotEmpty(t, hitsForFile(t, idx, p, "src/Nav.tsx"))
	legacy := hitsForFile(t, idx, p, "src/legacy.js")
	require.NotEmpty(t, legacy)
	for _, h := range legacy {
		assert.NotContains(t, h.Text, "return 1;")
	}
}

func TestRunner_IncrementalWithoutChanges(t *testing.T) {
	root := sampleProject(t)
	cfg := testConfig()
	runner, _ := newTestRunner(t, cfg, embed.NewStaticProvider(cfg.Embedding.Dimensions))
	first, err := runner.Run(context.Background(), RunnerConfig{RootDir: root})
	require.NoError(t, err)

	res, err := runner.Run(context.Background(), RunnerConfig{RootDir: root, Incremental: true})
	require.NoError(t, err)

	assert.Equal(t, ModeIncremental, res.Mode)
	assert.Zero(t, res.Changed)
	assert.Zero(t, res.Embeddings)
	assert.Equal(t, first.Manifest.Index.Entries, res.Manifest.Index.Entries)
	assert.Equal(t, first.Manifest.Components, res.Manifest.Components)
}

func TestRunner_IncrementalFallsBackToFull(t *testing.T) {
	t.Run("no previous run", func(t *testing.T) {
		root := sampleProject(t)
		cfg := testConfig()
		runner, _ := newTestRunner(t, cfg, embed.NewStaticProvider(cfg.Embedding.Dimensions))

		res, err := runner.Run(context.Background(), RunnerConfig{RootDir: root, Incremental: true})
		require.NoError(t, err)
		assert.Equal(t, ModeFull, res.Mode)
	})

	t.Run("chunk settings changed", func(t *testing.T) {
		root := sampleProject(t)
		cfg := testConfig()
		runner, _ := newTestRunner(t, cfg, embed.NewStaticProvider(cfg.Embedding.Dimensions))
		_, err := runner.Run(context.Background(), RunnerConfig{RootDir: root})
		require.NoError(t, err)

		changed := testConfig()
		changed.Chunking.ChunkSize = 300
		changed.Chunking.ChunkOverlap = 50
		runner2, _ := newTestRunner(t, changed, embed.NewStaticProvider(changed.Embedding.Dimensions))

		res, err := runner2.Run(context.Background(), RunnerConfig{RootDir: root, Incremental: true})
		require.NoError(t, err)
		assert.Equal(t, ModeFull, res.Mode)
		assert.Equal(t, 4, res.Changed)
	})

	t.Run("parse limits changed", func(t *testing.T) {
		root := sampleProject(t)
		cfg := testConfig()
		runner, _ := newTestRunner(t, cfg, embed.NewStaticProvider(cfg.Embedding.Dimensions))
		_, err := runner.Run(context.Background(), RunnerConfig{RootDir: root})
		require.NoError(t, err)

		changed := testConfig()
		changed.Parse.MaxCalls = 1
		runner2, _ := newTestRunner(t, changed, embed.NewStaticProvider(changed.Embedding.Dimensions))

		res, err := runner2.Run(context.Background(), RunnerConfig{RootDir: root, Incremental: true})
		require.NoError(t, err)
		assert.Equal(t, ModeFull, res.Mode)
	})
}

func TestRunner_ManifestCapsFromConfig(t *testing.T) {
	root := sampleProject(t)
	cfg := testConfig()
	cfg.Manifest.MaxAPICalls = 1
	runner, _ := newTestRunner(t, cfg, embed.NewStaticProvider(cfg.Embedding.Dimensions))

	res, err := runner.Run(context.Background(), RunnerConfig{RootDir: root})

	require.NoError(t, err)
	assert.Len(t, res.Manifest.APICalls, 1)
}

// ============================================================================
// TS04: Recoverable and fatal errors
// ============================================================================

func TestRunner_SkippedBatchIsRetriedNextRun(t *testing.T) {
	// Given: a provider that fails on the API module
	root := sampleProject(t)
	cfg := testConfig()
	cfg.Embedding.BatchSize = 1
	p := &flakyProvider{StaticProvider: embed.NewStaticProvider(cfg.Embedding.Dimensions), marker: "getOrders", failing: true}
	runner, rend := newTestRunner(t, cfg, p)

	// When: the run embeds
	res, err := runner.Run(context.Background(), RunnerConfig{RootDir: root})

	// Then: the run completes with the batch recorded as skipped
	require.NoError(t, err)
	assert.Positive(t, res.SkippedBatches)
	assert.Less(t, res.Embeddings, res.Chunks)
	assert.Equal(t, StatusCompletedWithErrors, res.RunLog.Status)
	require.NotEmpty(t, res.RunLog.Errors)
	assert.Equal(t, stageEmbed, res.RunLog.Errors[0].Stage)
	assert.Equal(t, string(ferrors.ClassBatch), res.RunLog.Errors[0].Class)
	assert.Equal(t, res.Errors, res.Manifest.ErrorCount)
	assert.NotEmpty(t, rend.errors)

	// When: the provider recovers and an incremental run follows
	p.setFailing(false)
	res, err = runner.Run(context.Background(), RunnerConfig{RootDir: root, Incremental: true})

	// Then: the affected file is processed again
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, res.Mode)
	assert.Equal(t, 1, res.Changed)
	assert.Equal(t, StatusSuccess, res.RunLog.Status)
	assert.NotEmpty(t, hitsForFile(t, openIndex(t, root, cfg), p, "src/api.ts"))
}

func TestRunner_LockedDataDir(t *testing.T) {
	root := sampleProject(t)
	cfg := testConfig()
	runner, _ := newTestRunner(t, cfg, embed.NewStaticProvider(cfg.Embedding.Dimensions))

	lock := NewDataLock(filepath.Join(root, config.DataDirName))
	require.NoError(t, lock.Acquire())
	defer func() { _ = lock.Release() }()

	_, err := runner.Run(context.Background(), RunnerConfig{RootDir: root})

	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeLocked, ferrors.GetCode(err))
	assert.NoFileExists(t, filepath.Join(root, "forge-output", output.ManifestFile))
}

func TestRunner_CancelledRunWritesNothing(t *testing.T) {
	root := sampleProject(t)
	cfg := testConfig()
	runner, _ := newTestRunner(t, cfg, embed.NewStaticProvider(cfg.Embedding.Dimensions))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runner.Run(ctx, RunnerConfig{RootDir: root})

	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(root, "forge-output", output.ManifestFile))

	tr, err := changes.Open(context.Background(), filepath.Join(root, config.DataDirName, TrackerFileName))
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()
	prev, err := tr.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, prev)
}

func TestRunner_FailedIndexUpdateKeepsEntries(t *testing.T) {
	ctx := context.Background()
	root := sampleProject(t)
	cfg := testConfig()
	cfg.VectorStore.Backend = store.BackendSQLite
	p := embed.NewStaticProvider(cfg.Embedding.Dimensions)
	runner, _ := newTestRunner(t, cfg, p)

	countEntries := func() int {
		idx, err := store.Open(ctx, store.Options{
			Backend:    cfg.VectorStore.Backend,
			Dir:        config.ResolvePath(root, cfg.VectorStore.PersistDirectory),
			Collection: cfg.VectorStore.Collection,
			Dimensions: cfg.Embedding.Dimensions,
		})
		require.NoError(t, err)
		defer func() { _ = idx.Close() }()
		return idx.Count()
	}

	// Given: a completed full run
	first, err := runner.Run(ctx, RunnerConfig{RootDir: root})
	require.NoError(t, err)
	entries := countEntries()
	require.Positive(t, entries)
	assert.Equal(t, first.Manifest.Index.Entries, entries)

	// And: a vector database that rejects every insert
	db, err := sqlitedb.Open(filepath.Join(config.ResolvePath(root, cfg.VectorStore.PersistDirectory), store.SQLiteFileName))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	_, err = db.ExecContext(ctx, `CREATE TRIGGER fail_insert BEFORE INSERT ON entries
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)

	// When: a second full run fails while adding
	_, err = runner.Run(ctx, RunnerConfig{RootDir: root})

	// Then: the previous entries are still there
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeIndexPersist, ferrors.GetCode(err))
	assert.Equal(t, entries, countEntries())

	// When: storage recovers and an incremental run follows
	_, err = db.ExecContext(ctx, "DROP TRIGGER fail_insert")
	require.NoError(t, err)
	res, err := runner.Run(ctx, RunnerConfig{RootDir: root, Incremental: true})

	// Then: it redoes the whole tree instead of trusting the tracker
	require.NoError(t, err)
	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, 4, res.Changed)
	assert.Equal(t, entries, countEntries())
}

func TestRunner_DimensionMismatchIsFatal(t *testing.T) {
	// Given: a provider whose vectors do not match the configured index
	root := sampleProject(t)
	cfg := testConfig()
	runner, _ := newTestRunner(t, cfg, &wrongDims{StaticProvider: embed.NewStaticProvider(cfg.Embedding.Dimensions)})

	_, err := runner.Run(context.Background(), RunnerConfig{RootDir: root})

	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeDimensionMismatch, ferrors.GetCode(err))
	assert.NoFileExists(t, filepath.Join(root, "forge-output", output.ManifestFile))
}

// wrongDims reports the configured dimensions but returns short vectors.
type wrongDims struct {
	*embed.StaticProvider
}

func (w *wrongDims) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := w.StaticProvider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i := range vecs {
		vecs[i] = vecs[i][:8]
	}
	return vecs, nil
}

// ============================================================================
// TS05: Helpers
// ============================================================================

func TestAnchoredExclude(t *testing.T) {
	root := filepath.FromSlash("/proj")
	tests := []struct {
		dir  string
		want string
		ok   bool
	}{
		{filepath.FromSlash("/proj/.forge"), "/.forge/**", true},
		{filepath.FromSlash("/proj/out/docs"), "/out/docs/**", true},
		{filepath.FromSlash("/proj"), "", false},
		{filepath.FromSlash("/elsewhere/out"), "", false},
	}
	for _, tt := range tests {
		got, ok := anchoredExclude(root, tt.dir)
		assert.Equal(t, tt.ok, ok, tt.dir)
		assert.Equal(t, tt.want, got, tt.dir)
	}
}

func TestParseCache(t *testing.T) {
	dir := t.TempDir()

	// Given: an empty cache
	c := loadParseCache(dir)
	_, ok := c.get("src/a.ts", "d1")
	assert.False(t, ok)

	// When: results are stored and saved
	c.replace([]*parse.Result{
		{Path: "src/a.ts", Language: "typescript", Routes: []string{"/home"}},
		nil,
	}, map[string]string{"src/a.ts": "d1"})
	require.NoError(t, c.save())

	// Then: a reload serves the entry only for the same digest
	reloaded := loadParseCache(dir)
	got, ok := reloaded.get("src/a.ts", "d1")
	require.True(t, ok)
	assert.Equal(t, []string{"/home"}, got.Routes)
	_, ok = reloaded.get("src/a.ts", "d2")
	assert.False(t, ok)
}

func TestParseCache_CorruptFileIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ParseCacheFileName), []byte("not gob"), 0o644))

	c := loadParseCache(dir)
	assert.Empty(t, c.entries)
}
