// Package index runs the scan pipeline: discovery, change detection,
// parsing and chunking, redaction, embedding, index maintenance and the
// output documents. The Runner owns a single run end to end; the
// Coordinator re-runs it when the tree changes.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forge-ai/forge/internal/changes"
	"github.com/forge-ai/forge/internal/chunk"
	"github.com/forge-ai/forge/internal/config"
	"github.com/forge-ai/forge/internal/embed"
	ferrors "github.com/forge-ai/forge/internal/errors"
	"github.com/forge-ai/forge/internal/manifest"
	"github.com/forge-ai/forge/internal/output"
	"github.com/forge-ai/forge/internal/parse"
	"github.com/forge-ai/forge/internal/redact"
	"github.com/forge-ai/forge/internal/scanner"
	"github.com/forge-ai/forge/internal/store"
	"github.com/forge-ai/forge/internal/ui"
)

// TrackerFileName is the change tracker database inside the data directory.
const TrackerFileName = "tracker.db"

// Tracker meta keys.
const (
	metaFingerprint = "index_fingerprint"
	metaMode        = "mode"
)

// fingerprintInvalid marks an index left inconsistent by a failed run.
const fingerprintInvalid = "invalid"

// scanProgressEvery throttles discovery progress events.
const scanProgressEvery = 100

// RunnerConfig configures one run.
type RunnerConfig struct {
	// RootDir is the project root.
	RootDir string

	// DataDir holds the tracker, lock and parse cache (defaults to
	// RootDir/.forge).
	DataDir string

	// OutputDir receives the JSON documents (defaults to the configured
	// output directory under RootDir).
	OutputDir string

	// Incremental limits parsing and embedding to changed files. It is
	// upgraded to a full run when no compatible previous run exists.
	Incremental bool
}

// RunnerResult is the outcome of a run.
type RunnerResult struct {
	Mode           string
	Files          int
	Changed        int
	Deleted        int
	Chunks         int
	Embeddings     int
	SkippedBatches int
	Redacted       int
	Duration       time.Duration
	// Errors counts recoverable errors in the run log.
	Errors int
	// Warnings counts files whose parse fell back or reported problems.
	Warnings  int
	OutputDir string
	Manifest  *manifest.Manifest
	RunLog    *RunLog
}

// RunnerDependencies are the collaborators injected into a Runner.
type RunnerDependencies struct {
	// Renderer displays progress (required).
	Renderer ui.Renderer

	// Config is the loaded configuration (required).
	Config *config.Config

	// Provider embeds chunk text (required).
	Provider embed.Provider

	// Summarizer is optional; without it every file gets the fallback summary.
	Summarizer manifest.Summarizer

	// Now defaults to time.Now.
	Now func() time.Time
}

// Runner executes scan runs. It keeps no state between runs, so one
// Runner can serve repeated runs from the watch loop.
type Runner struct {
	renderer   ui.Renderer
	config     *config.Config
	provider   embed.Provider
	summarizer manifest.Summarizer
	parser     *parse.Parser
	chunker    *chunk.Chunker
	redactor   *redact.Redactor
	now        func() time.Time
}

// NewRunner validates deps and builds the stage components.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}

	cfg := deps.Config
	red, err := redact.New(cfg.Security.RedactPatterns, cfg.Security.Placeholder)
	if err != nil {
		return nil, err
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Runner{
		renderer:   deps.Renderer,
		config:     cfg,
		provider:   deps.Provider,
		summarizer: deps.Summarizer,
		parser: parse.NewParser(parse.Options{
			Limits:     parseLimits(cfg.Parse),
			Structural: cfg.Parse.Structural,
		}),
		chunker: chunk.New(chunk.Options{
			ChunkSize:     cfg.Chunking.ChunkSize,
			Overlap:       cfg.Chunking.ChunkOverlap,
			Strategy:      cfg.Chunking.Strategy,
			LinesPerChunk: cfg.Chunking.LinesPerChunk,
		}),
		redactor: red,
		now:      now,
	}, nil
}

func manifestLimits(c config.ManifestConfig) manifest.Limits {
	return manifest.Limits{
		Components: c.MaxComponents,
		APICalls:   c.MaxAPICalls,
		Suggested:  c.MaxSuggested,
		Routes:     c.MaxRoutes,
	}
}

func parseLimits(c config.ParseConfig) parse.Limits {
	return parse.Limits{
		Components: c.MaxComponents,
		Imports:    c.MaxImports,
		Exports:    c.MaxExports,
		Calls:      c.MaxCalls,
		EnvVars:    c.MaxEnvVars,
		Hooks:      c.MaxHooks,
		Routes:     c.MaxRoutes,
	}
}

// stageTiming tracks the wall time of each stage.
type stageTiming struct {
	scan, diff, parse, embed, index, write time.Duration
}

func (t stageTiming) millis() map[string]int64 {
	return map[string]int64{
		stageScan:  t.scan.Milliseconds(),
		stageDiff:  t.diff.Milliseconds(),
		stageParse: t.parse.Milliseconds(),
		stageEmbed: t.embed.Milliseconds(),
		stageIndex: t.index.Milliseconds(),
		stageWrite: t.write.Milliseconds(),
	}
}

// run carries the state of one Run call between stages.
type run struct {
	cfg     RunnerConfig
	root    string
	dataDir string
	outDir  string
	started time.Time
	timing  stageTiming
	errs    errorLog

	inv         *scanner.Inventory
	tracker     *changes.Tracker
	previous    map[string]string
	changeSet   changes.ChangeSet
	mode        string
	fingerprint string

	results  []*parse.Result
	chunks   []chunk.Chunk
	redacted int
	warnings atomic.Int64
	// retry holds files left out of the tracker commit so the next
	// incremental run processes them again.
	retry map[string]struct{}

	embedded *embed.Result
	entries  int
	backend  string
}

// Run executes the pipeline once. Recoverable errors end up in the run
// log; fatal errors abort the run with the previous index state, outputs
// and tracker table left in place.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeRootInvalid, "failed to resolve project root", err)
	}
	st := &run{cfg: cfg, root: root, started: r.now(), retry: map[string]struct{}{}}
	st.dataDir = cfg.DataDir
	if st.dataDir == "" {
		st.dataDir = filepath.Join(root, config.DataDirName)
	}
	st.outDir = cfg.OutputDir
	if st.outDir == "" {
		st.outDir = config.ResolvePath(root, r.config.Output.Directory)
	}

	lock := NewDataLock(st.dataDir)
	if err := lock.Acquire(); err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	slog.Info("index_started",
		slog.String("path", root),
		slog.Bool("incremental", cfg.Incremental))

	// Stage 1: discovery
	if err := r.scan(ctx, st); err != nil {
		return nil, err
	}
	if err := checkpoint(ctx, stageScan); err != nil {
		return nil, err
	}

	// Stage 2: change detection
	tracker, err := changes.Open(ctx, filepath.Join(st.dataDir, TrackerFileName))
	if err != nil {
		return nil, err
	}
	defer func() { _ = tracker.Close() }()
	st.tracker = tracker
	if err := r.diff(ctx, st); err != nil {
		return nil, err
	}
	if err := checkpoint(ctx, stageDiff); err != nil {
		return nil, err
	}

	// Stage 3: parse, chunk, redact
	cache := loadParseCache(st.dataDir)
	if err := r.parseAndChunk(ctx, st, cache); err != nil {
		return nil, err
	}
	if err := checkpoint(ctx, stageParse); err != nil {
		return nil, err
	}

	// Stage 4: embed
	if err := r.embed(ctx, st); err != nil {
		return nil, err
	}
	if err := checkpoint(ctx, stageEmbed); err != nil {
		return nil, err
	}

	// Stage 5: index maintenance
	if err := r.updateIndex(ctx, st); err != nil {
		invalidateFingerprint(ctx, st.tracker)
		return nil, err
	}
	if err := checkpoint(ctx, stageIndex); err != nil {
		return nil, err
	}

	// Stage 6: documents
	res, err := r.writeOutputs(ctx, st)
	if err != nil {
		return nil, err
	}

	digests := committedDigests(st)
	cache.replace(st.results, digests)
	if err := cache.save(); err != nil {
		slog.Warn("parse_cache_save_failed", slog.String("error", err.Error()))
	}

	// The tracker commit is the single commit point of the run.
	meta := map[string]string{metaFingerprint: st.fingerprint, metaMode: st.mode}
	if err := st.tracker.Commit(ctx, digests, meta); err != nil {
		return nil, err
	}

	r.complete(st, res)
	return res, nil
}

// invalidateFingerprint forces the next run to be full. The vector and
// keyword indices commit separately, so after a failed update they may
// disagree with each other and with the tracker table.
func invalidateFingerprint(ctx context.Context, t *changes.Tracker) {
	if err := t.SetMeta(context.WithoutCancel(ctx), metaFingerprint, fingerprintInvalid); err != nil {
		slog.Warn("fingerprint_invalidate_failed", slog.String("error", err.Error()))
	}
}

// committedDigests is the digest table to commit: every scanned file
// except those that failed to read or lost chunks to skipped batches.
func committedDigests(st *run) map[string]string {
	digests := st.inv.Digests()
	for p := range st.retry {
		delete(digests, p)
	}
	return digests
}

func checkpoint(ctx context.Context, after string) error {
	if err := ctx.Err(); err != nil {
		slog.Info("index_interrupted", slog.String("after", after))
		return fmt.Errorf("scan interrupted after %s stage: %w", after, err)
	}
	return nil
}

// scan discovers the tree, leaving out forge's own directories.
func (r *Runner) scan(ctx context.Context, st *run) error {
	start := time.Now()
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageScanning,
		Message: fmt.Sprintf("Scanning %s...", st.root),
	})

	s, err := scanner.New()
	if err != nil {
		return fmt.Errorf("failed to create scanner: %w", err)
	}

	exclude := r.config.Excludes()
	for _, dir := range []string{st.dataDir, st.outDir, config.ResolvePath(st.root, r.config.VectorStore.PersistDirectory)} {
		if pattern, ok := anchoredExclude(st.root, dir); ok {
			exclude = append(exclude, pattern)
		}
	}

	sc := r.config.Scan
	inv, err := s.Scan(ctx, &scanner.ScanOptions{
		RootDir:          st.root,
		Exclude:          exclude,
		Extensions:       sc.Extensions,
		MaxFileSize:      int64(sc.MaxFileSizeMB) * 1024 * 1024,
		RespectGitignore: sc.RespectGitignore,
		FollowSymlinks:   sc.FollowSymlinks,
		Workers:          r.config.Workers(),
		ProgressFunc: func(done int) {
			if done%scanProgressEvery == 0 {
				r.renderer.UpdateProgress(ui.ProgressEvent{
					Stage:   ui.StageScanning,
					Message: fmt.Sprintf("%d files hashed", done),
				})
			}
		},
	})
	if err != nil {
		return err
	}
	st.inv = inv

	for _, fe := range inv.Errors {
		err := ferrors.FileError(ferrors.ErrCodeFileRead, fe.File, errors.New(fe.Error))
		st.errs.add(stageScan, fe.File, err)
		r.renderer.AddError(ui.ErrorEvent{File: fe.File, Err: err, IsWarn: true})
	}

	st.timing.scan = time.Since(start)
	slog.Info("index_scan_complete",
		slog.Int("files", inv.TotalFiles),
		slog.Int64("bytes", inv.TotalSizeBytes),
		slog.Int("errors", len(inv.Errors)))
	return nil
}

// anchoredExclude returns a root-anchored glob for dir when it lies
// inside root.
func anchoredExclude(root, dir string) (string, bool) {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return "/" + filepath.ToSlash(rel) + "/**", true
}

// diff loads the previous digest table and settles the run mode.
func (r *Runner) diff(ctx context.Context, st *run) error {
	start := time.Now()
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageDiffing, Message: "Comparing with previous run..."})

	previous, err := st.tracker.Load(ctx)
	if err != nil {
		return err
	}
	st.previous = previous
	st.fingerprint = r.fingerprint()

	st.mode = ModeFull
	if st.cfg.Incremental {
		prior, err := st.tracker.Meta(ctx, metaFingerprint)
		if err != nil {
			return err
		}
		switch {
		case prior == "":
			slog.Info("incremental_fallback_full", slog.String("reason", "no previous run"))
		case prior == fingerprintInvalid:
			slog.Info("incremental_fallback_full", slog.String("reason", "previous index update failed"))
		case prior != st.fingerprint:
			slog.Info("incremental_fallback_full", slog.String("reason", "index settings changed"))
		default:
			st.mode = ModeIncremental
		}
	}

	if st.mode == ModeIncremental {
		st.changeSet = changes.Diff(previous, st.inv.Digests())
	} else {
		// A full run redoes every file; the deleted list still reports
		// what disappeared since the last run.
		cs := changes.Diff(previous, st.inv.Digests())
		cs.Changed = append(cs.Changed, cs.Unchanged...)
		sort.Strings(cs.Changed)
		cs.Unchanged = []string{}
		st.changeSet = cs
	}

	st.timing.diff = time.Since(start)
	slog.Info("index_diff_complete",
		slog.String("mode", st.mode),
		slog.Int("changed", len(st.changeSet.Changed)),
		slog.Int("unchanged", len(st.changeSet.Unchanged)),
		slog.Int("deleted", len(st.changeSet.Deleted)))
	return nil
}

// fingerprint hashes the settings that shape index contents. A previous
// run with a different fingerprint cannot be updated incrementally.
func (r *Runner) fingerprint() string {
	c := r.config
	parts := []string{
		r.provider.ModelName(),
		strconv.Itoa(r.provider.Dimensions()),
		c.VectorStore.Backend,
		c.VectorStore.Collection,
		strconv.FormatBool(c.VectorStore.KeywordIndex),
		strconv.Itoa(c.Chunking.ChunkSize),
		strconv.Itoa(c.Chunking.ChunkOverlap),
		c.Chunking.Strategy,
		strconv.Itoa(c.Chunking.LinesPerChunk),
		strconv.FormatBool(c.Parse.Structural),
		fmt.Sprintf("%+v", parseLimits(c.Parse)),
		c.Security.Placeholder,
		strings.Join(c.Security.RedactPatterns, "\x00"),
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(h[:])
}

// fileOutcome is the parse/chunk result of one file.
type fileOutcome struct {
	res    *parse.Result
	chunks []chunk.Chunk
	failed bool
}

// parseAndChunk parses every text file and chunks the changed ones. Files
// are processed by a bounded pool and merged back in path order.
func (r *Runner) parseAndChunk(ctx context.Context, st *run, cache *parseCache) error {
	start := time.Now()
	changed := make(map[string]bool, len(st.changeSet.Changed))
	for _, p := range st.changeSet.Changed {
		changed[p] = true
	}

	files := st.inv.Files
	outcomes := make([]fileOutcome, len(files))
	total := len(files)
	var done atomic.Int64

	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageParsing, Total: total})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers())
	for i := range files {
		f := &files[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			defer func() {
				r.renderer.UpdateProgress(ui.ProgressEvent{
					Stage:       ui.StageParsing,
					Current:     int(done.Add(1)),
					Total:       total,
					CurrentFile: f.RelPath,
				})
			}()
			if f.IsBinary {
				return nil
			}
			outcomes[i] = r.processFile(gctx, st, f, changed[f.RelPath], cache)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("parse stage interrupted: %w", err)
	}

	for i, o := range outcomes {
		if o.failed {
			st.retry[files[i].RelPath] = struct{}{}
		}
		if o.res == nil {
			continue
		}
		st.results = append(st.results, o.res)
		st.chunks = append(st.chunks, o.chunks...)
	}

	st.chunks, st.redacted = r.redactor.RedactAll(st.chunks)

	st.timing.parse = time.Since(start)
	slog.Info("index_parse_complete",
		slog.Int("files", len(st.results)),
		slog.Int("chunks", len(st.chunks)),
		slog.Int("redacted", st.redacted),
		slog.Int64("warnings", st.warnings.Load()))
	return nil
}

// processFile parses one file; changed files are also chunked. Unchanged
// files are served from the parse cache when their digest matches.
func (r *Runner) processFile(ctx context.Context, st *run, f *scanner.FileRecord, changed bool, cache *parseCache) fileOutcome {
	if !changed {
		if res, ok := cache.get(f.RelPath, f.Digest); ok {
			return fileOutcome{res: res}
		}
	}

	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		ferr := ferrors.FileError(ferrors.ErrCodeFileRead, f.RelPath, err)
		st.errs.add(stageParse, f.RelPath, ferr)
		r.renderer.AddError(ui.ErrorEvent{File: f.RelPath, Err: ferr, IsWarn: true})
		return fileOutcome{failed: true}
	}

	res := r.parser.Parse(ctx, f.RelPath, content)
	if len(res.Errors) > 0 {
		r.warn(st, f.RelPath, res.Errors)
	}
	if !changed {
		return fileOutcome{res: res}
	}

	chunks, err := r.chunker.Chunk(res, content)
	if err != nil {
		st.errs.add(stageChunk, f.RelPath, err)
		r.renderer.AddError(ui.ErrorEvent{File: f.RelPath, Err: err, IsWarn: true})
	}
	return fileOutcome{res: res, chunks: chunks}
}

func (r *Runner) warn(st *run, path string, problems []string) {
	r.renderer.AddError(ui.ErrorEvent{
		File:   path,
		Err:    fmt.Errorf("%s", strings.Join(problems, "; ")),
		IsWarn: true,
	})
	st.warnings.Add(1)
}

// embed runs the redacted chunks through the batcher. Skipped batches are
// recorded; a dimension mismatch or cancellation aborts the run.
func (r *Runner) embed(ctx context.Context, st *run) error {
	start := time.Now()
	opts := embed.BatcherOptionsFrom(r.config.Embedding)
	opts.Dimensions = r.provider.Dimensions()
	opts.OnBatch = func(done, total int) {
		r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageEmbedding, Current: done, Total: total})
	}

	if len(st.chunks) > 0 {
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageEmbedding,
			Message: fmt.Sprintf("Embedding %d chunks with %s...", len(st.chunks), r.provider.ModelName()),
		})
	}

	res, err := embed.NewBatcher(r.provider, opts).Embed(ctx, st.chunks)
	if err != nil {
		return err
	}
	st.embedded = res

	fileOf := make(map[string]string, len(st.chunks))
	for i := range st.chunks {
		fileOf[st.chunks[i].ID] = st.chunks[i].FilePath
	}
	for _, f := range res.Failures {
		for _, id := range f.ChunkIDs {
			st.retry[fileOf[id]] = struct{}{}
		}
		code := ferrors.GetCode(f.Err)
		if code == "" {
			code = ferrors.ErrCodeProviderFailed
		}
		err := ferrors.New(code, fmt.Sprintf("batch %d skipped (%d chunks)", f.Batch, len(f.ChunkIDs)), f.Err)
		st.errs.add(stageEmbed, "", err)
		r.renderer.AddError(ui.ErrorEvent{Err: err})
	}

	st.timing.embed = time.Since(start)
	slog.Info("index_embed_complete",
		slog.Int("embeddings", len(res.Embeddings)),
		slog.Int("batches", res.Batches),
		slog.Int("skipped_batches", len(res.Failures)),
		slog.String("model", r.provider.ModelName()))
	return nil
}

// updateIndex removes stale entries and adds the new ones to the vector
// index and, when enabled, the keyword index.
func (r *Runner) updateIndex(ctx context.Context, st *run) error {
	start := time.Now()
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Message: "Updating vector index..."})

	vs := r.config.VectorStore
	persistDir := config.ResolvePath(st.root, vs.PersistDirectory)
	idx, err := store.Open(ctx, store.Options{
		Backend:    vs.Backend,
		Dir:        persistDir,
		Collection: vs.Collection,
		Dimensions: r.provider.Dimensions(),
		HNSW:       store.DefaultHNSWConfig(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = idx.Close() }()
	st.backend = idx.Backend()

	var kw *store.KeywordIndex
	if vs.KeywordIndex {
		kw, err = store.OpenKeywordIndex(filepath.Join(persistDir, store.KeywordDirName))
		if err != nil {
			return err
		}
		defer func() { _ = kw.Close() }()
	}

	byID := make(map[string]*chunk.Chunk, len(st.chunks))
	for i := range st.chunks {
		byID[st.chunks[i].ID] = &st.chunks[i]
	}
	entries := make([]store.Entry, 0, len(st.embedded.Embeddings))
	for _, e := range st.embedded.Embeddings {
		if c, ok := byID[e.ChunkID]; ok {
			entries = append(entries, store.EntryFromChunk(*c, e.Vector))
		}
	}

	stale := staleFiles(st)
	removed, err := idx.Replace(ctx, stale, entries...)
	if err != nil {
		return storageErr(ferrors.ErrCodeIndexPersist, "failed to update vector index", err)
	}
	if kw != nil {
		if _, err := kw.Replace(ctx, stale, entries); err != nil {
			return storageErr(ferrors.ErrCodeIndexPersist, "failed to update keyword index", err)
		}
	}
	if err := idx.Persist(); err != nil {
		return storageErr(ferrors.ErrCodeIndexPersist, "failed to persist vector index", err)
	}
	st.entries = idx.Count()

	st.timing.index = time.Since(start)
	slog.Info("index_store_complete",
		slog.String("backend", st.backend),
		slog.Int("removed", removed),
		slog.Int("added", len(entries)),
		slog.Int("entries", st.entries))
	return nil
}

// staleFiles lists the files whose entries must be dropped before adding.
// A full run clears every file it knows of, previous or current.
func staleFiles(st *run) []string {
	set := make(map[string]struct{})
	for _, p := range st.changeSet.Changed {
		set[p] = struct{}{}
	}
	for _, p := range st.changeSet.Deleted {
		set[p] = struct{}{}
	}
	if st.mode == ModeFull {
		for p := range st.previous {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func storageErr(code, msg string, err error) error {
	if ferrors.GetCode(err) != "" {
		return err
	}
	return ferrors.StorageError(code, msg, err)
}

// writeOutputs builds the manifest and summaries and publishes every
// document through a staging directory.
func (r *Runner) writeOutputs(ctx context.Context, st *run) (*RunnerResult, error) {
	start := time.Now()
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageWriting, Message: "Writing manifest and summaries..."})

	ts := r.now()
	info := parse.DetectProject(st.root)
	skippedBatches := len(st.embedded.Failures)

	m := manifest.Build(manifest.Input{
		ProjectRoot: st.root,
		Timestamp:   ts,
		Results:     st.results,
		Project:     info,
		Inventory: manifest.InventoryTotals{
			TotalFiles:     st.inv.TotalFiles,
			TotalSizeBytes: st.inv.TotalSizeBytes,
			ScanTimestamp:  st.inv.ScanTimestamp,
		},
		Index: manifest.IndexStats{
			Chunks:         len(st.chunks),
			Embeddings:     len(st.embedded.Embeddings),
			SkippedBatches: skippedBatches,
			Entries:        st.entries,
			Backend:        st.backend,
			Model:          r.provider.ModelName(),
			Dimensions:     r.provider.Dimensions(),
		},
		ErrorCount: st.errs.len(),
		Limits:     manifestLimits(r.config.Manifest),
	})

	summaries := manifest.Summarize(ctx, st.results, manifest.SummaryOptions{
		ProjectRoot: st.root,
		Summarizer:  r.summarizer,
		MaxLLMFiles: r.config.Summarizer.MaxFiles,
	})

	staging, err := output.NewStaging(st.outDir)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			staging.Abort()
		}
	}()

	docs := []struct {
		name string
		v    any
	}{
		{output.ManifestFile, m},
		{output.InventoryFile, st.inv},
		{output.SummariesFile, summaries},
		{output.ChangeSetFile, st.changeSet},
	}
	for _, d := range docs {
		if err := staging.WriteJSON(d.name, d.v); err != nil {
			return nil, err
		}
	}

	st.timing.write = time.Since(start)
	duration := r.now().Sub(st.started)
	errs := st.errs.sorted()
	status := StatusSuccess
	if len(errs) > 0 {
		status = StatusCompletedWithErrors
	}
	runLog := &RunLog{
		Timestamp:       ts,
		Status:          status,
		Mode:            st.mode,
		ProjectRoot:     st.root,
		TotalFiles:      st.inv.TotalFiles,
		ChangedFiles:    len(st.changeSet.Changed),
		UnchangedFiles:  len(st.changeSet.Unchanged),
		DeletedFiles:    len(st.changeSet.Deleted),
		TotalChunks:     len(st.chunks),
		RedactedChunks:  st.redacted,
		TotalEmbeddings: len(st.embedded.Embeddings),
		SkippedBatches:  skippedBatches,
		SkippedChunks:   st.embedded.Skipped(),
		Backend:         st.backend,
		Model:           r.provider.ModelName(),
		Dimensions:      r.provider.Dimensions(),
		Duration:        duration.Round(time.Millisecond).String(),
		DurationMS:      duration.Milliseconds(),
		StageTimingsMS:  st.timing.millis(),
		Errors:          errs,
	}
	if err := staging.WriteJSON(output.ScanLogFile, runLog); err != nil {
		return nil, err
	}
	if err := staging.Commit(); err != nil {
		return nil, err
	}
	committed = true

	return &RunnerResult{
		Mode:           st.mode,
		Files:          st.inv.TotalFiles,
		Changed:        len(st.changeSet.Changed),
		Deleted:        len(st.changeSet.Deleted),
		Chunks:         len(st.chunks),
		Embeddings:     len(st.embedded.Embeddings),
		SkippedBatches: skippedBatches,
		Redacted:       st.redacted,
		Duration:       duration,
		Errors:         len(errs),
		Warnings:       int(st.warnings.Load()),
		OutputDir:      st.outDir,
		Manifest:       m,
		RunLog:         runLog,
	}, nil
}

// complete reports the finished run to the renderer and the log.
func (r *Runner) complete(st *run, res *RunnerResult) {
	r.renderer.Complete(ui.CompletionStats{
		Mode:           res.Mode,
		Files:          res.Files,
		Changed:        res.Changed,
		Deleted:        res.Deleted,
		Chunks:         res.Chunks,
		Embeddings:     res.Embeddings,
		SkippedBatches: res.SkippedBatches,
		Duration:       res.Duration,
		Errors:         res.Errors,
		Warnings:       res.Warnings,
		Stages: ui.StageTimings{
			Scan:  st.timing.scan,
			Diff:  st.timing.diff,
			Parse: st.timing.parse,
			Embed: st.timing.embed,
			Index: st.timing.index,
			Write: st.timing.write,
		},
		Embedder: ui.EmbedderInfo{
			Model:      r.provider.ModelName(),
			Dimensions: r.provider.Dimensions(),
		},
		Backend:   st.backend,
		OutputDir: res.OutputDir,
	})

	chunksPerSec := 0.0
	if st.timing.embed.Seconds() > 0 {
		chunksPerSec = float64(res.Embeddings) / st.timing.embed.Seconds()
	}
	slog.Info("index_complete",
		slog.String("mode", res.Mode),
		slog.String("status", res.RunLog.Status),
		slog.Int("files", res.Files),
		slog.Int("changed", res.Changed),
		slog.Int("deleted", res.Deleted),
		slog.Int("chunks", res.Chunks),
		slog.Int("embeddings", res.Embeddings),
		slog.Int("errors", res.Errors),
		slog.String("duration_total", res.Duration.String()),
		slog.Int64("duration_total_ms", res.Duration.Milliseconds()),
		slog.Int64("duration_scan_ms", st.timing.scan.Milliseconds()),
		slog.Int64("duration_diff_ms", st.timing.diff.Milliseconds()),
		slog.Int64("duration_parse_ms", st.timing.parse.Milliseconds()),
		slog.Int64("duration_embed_ms", st.timing.embed.Milliseconds()),
		slog.Int64("duration_index_ms", st.timing.index.Milliseconds()),
		slog.Int64("duration_write_ms", st.timing.write.Milliseconds()),
		slog.String("embedder_model", r.provider.ModelName()),
		slog.Int("embedder_dimensions", r.provider.Dimensions()),
		slog.Float64("chunks_per_sec", chunksPerSec),
		slog.String("path", st.root))
}
