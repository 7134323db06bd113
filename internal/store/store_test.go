package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ai/forge/internal/chunk"
	ferrors "github.com/forge-ai/forge/internal/errors"
)

var allBackends = []string{BackendSQLite, BackendFlat, BackendHNSW}

func openBackend(t *testing.T, backend, dir string, dims int) Index {
	t.Helper()
	idx, err := Open(context.Background(), Options{
		Backend:    backend,
		Dir:        dir,
		Collection: "test",
		Dimensions: dims,
	})
	require.NoError(t, err)
	return idx
}

func entry(id, file string, vec []float32, md map[string]string) Entry {
	if md == nil {
		md = map[string]string{}
	}
	md[chunk.MetaFile] = file
	return Entry{
		ID:         id,
		Vector:     vec,
		Text:       "text of " + id,
		Metadata:   md,
		Provenance: chunk.Provenance{File: file, StartLine: 0, EndLine: 3},
	}
}

func hitIDs(hits []Hit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}

// =============================================================================
// TS01: Round trip across reopen
// =============================================================================

func TestIndex_RoundTripAcrossReopen(t *testing.T) {
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			// Given: an index with three entries
			idx := openBackend(t, backend, dir, 4)
			require.NoError(t, idx.Add(ctx,
				entry("a", "src/a.ts", []float32{1, 0, 0, 0}, map[string]string{"language": "typescript"}),
				entry("b", "src/b.ts", []float32{0, 1, 0, 0}, nil),
				entry("c", "src/c.ts", []float32{0.9, 0.1, 0, 0}, nil),
			))
			before, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 3, nil)
			require.NoError(t, err)

			// When: it is persisted, closed and reopened
			require.NoError(t, idx.Persist())
			require.NoError(t, idx.Close())
			reopened := openBackend(t, backend, dir, 4)
			defer func() { _ = reopened.Close() }()

			// Then: the same query returns the same hits
			assert.Equal(t, 3, reopened.Count())
			after, err := reopened.Query(ctx, []float32{1, 0, 0, 0}, 3, nil)
			require.NoError(t, err)
			assert.Equal(t, before, after)
			assert.Equal(t, []string{"a", "c", "b"}, hitIDs(after))

			// And: text, metadata and provenance survive
			assert.Equal(t, "text of a", after[0].Text)
			assert.Equal(t, "typescript", after[0].Metadata["language"])
			assert.Equal(t, chunk.Provenance{File: "src/a.ts", StartLine: 0, EndLine: 3}, after[0].Provenance)
			assert.InDelta(t, 0, after[0].Distance, 1e-6)
			assert.InDelta(t, 1, after[0].Score, 1e-6)
		})
	}
}

func TestIndex_EmptyIndexReopens(t *testing.T) {
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			idx := openBackend(t, backend, dir, 4)
			require.NoError(t, idx.Persist())
			require.NoError(t, idx.Close())

			reopened := openBackend(t, backend, dir, 4)
			defer func() { _ = reopened.Close() }()
			assert.Equal(t, 0, reopened.Count())

			hits, err := reopened.Query(context.Background(), []float32{1, 0, 0, 0}, 5, nil)
			require.NoError(t, err)
			assert.Empty(t, hits)
		})
	}
}

// =============================================================================
// TS02: Filters
// =============================================================================

func TestIndex_FiltersAppliedBeforeRanking(t *testing.T) {
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			idx := openBackend(t, backend, t.TempDir(), 4)
			defer func() { _ = idx.Close() }()

			// Given: the closest entry is typescript, the others python
			require.NoError(t, idx.Add(ctx,
				entry("a", "a.ts", []float32{1, 0, 0, 0}, map[string]string{"language": "typescript", "framework": "react"}),
				entry("b", "b.py", []float32{0.9, 0.1, 0, 0}, map[string]string{"language": "python"}),
				entry("c", "c.py", []float32{0, 1, 0, 0}, map[string]string{"language": "python", "framework": "flask"}),
			))
			q := []float32{1, 0, 0, 0}

			tests := []struct {
				name    string
				k       int
				filters Filters
				want    []string
			}{
				{"k=1 still finds a match", 1, Filters{"language": "python"}, []string{"b"}},
				{"all matches ranked", 5, Filters{"language": "python"}, []string{"b", "c"}},
				{"conjunction", 5, Filters{"language": "python", "framework": "flask"}, []string{"c"}},
				{"missing key excludes", 5, Filters{"framework": "react"}, []string{"a"}},
				{"no match", 5, Filters{"language": "go"}, []string{}},
				{"file_path filter", 5, Filters{chunk.MetaFile: "b.py"}, []string{"b"}},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					hits, err := idx.Query(ctx, q, tt.k, tt.filters)
					require.NoError(t, err)
					assert.Equal(t, tt.want, hitIDs(hits))
					for _, h := range hits {
						assert.True(t, tt.filters.Match(h.Metadata))
					}
				})
			}
		})
	}
}

func TestFilters_Match(t *testing.T) {
	md := map[string]string{"a": "1", "b": "2"}
	assert.True(t, Filters(nil).Match(md))
	assert.True(t, Filters{"a": "1"}.Match(md))
	assert.False(t, Filters{"a": "2"}.Match(md))
	assert.False(t, Filters{"c": ""}.Match(md))
	assert.False(t, Filters{"a": "1"}.Match(nil))
}

// =============================================================================
// TS03: Ordering
// =============================================================================

func TestIndex_TiesKeepInsertionOrder(t *testing.T) {
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			idx := openBackend(t, backend, t.TempDir(), 4)
			defer func() { _ = idx.Close() }()

			// Given: three entries with identical vectors added c, a, b
			v := []float32{0.5, 0.5, 0, 0}
			require.NoError(t, idx.Add(ctx, entry("c", "c.ts", v, nil)))
			require.NoError(t, idx.Add(ctx, entry("a", "a.ts", v, nil), entry("b", "b.ts", v, nil)))

			// When: querying with k covering all of them
			hits, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 3, nil)
			require.NoError(t, err)

			// Then: equal distances come back in insertion order
			assert.Equal(t, []string{"c", "a", "b"}, hitIDs(hits))
		})
	}
}

func TestIndex_ReplaceMovesToEnd(t *testing.T) {
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			idx := openBackend(t, backend, t.TempDir(), 4)
			defer func() { _ = idx.Close() }()

			v := []float32{0, 0, 1, 0}
			require.NoError(t, idx.Add(ctx, entry("a", "a.ts", v, nil), entry("b", "b.ts", v, nil)))

			// When: "a" is added again with new text
			replaced := entry("a", "a.ts", v, nil)
			replaced.Text = "new text"
			require.NoError(t, idx.Add(ctx, replaced))

			// Then: the count is unchanged and "a" ties after "b"
			assert.Equal(t, 2, idx.Count())
			hits, err := idx.Query(ctx, v, 2, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "a"}, hitIDs(hits))
			assert.Equal(t, "new text", hits[1].Text)
		})
	}
}

func TestIndex_KLimits(t *testing.T) {
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			idx := openBackend(t, backend, t.TempDir(), 4)
			defer func() { _ = idx.Close() }()
			require.NoError(t, idx.Add(ctx,
				entry("a", "a.ts", []float32{1, 0, 0, 0}, nil),
				entry("b", "b.ts", []float32{0, 1, 0, 0}, nil),
			))

			hits, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 0, nil)
			require.NoError(t, err)
			assert.Empty(t, hits)

			hits, err = idx.Query(ctx, []float32{1, 0, 0, 0}, 10, nil)
			require.NoError(t, err)
			assert.Len(t, hits, 2)
		})
	}
}

func TestIndex_ZeroVector(t *testing.T) {
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			idx := openBackend(t, backend, t.TempDir(), 4)
			defer func() { _ = idx.Close() }()

			// Given: one zero vector among normal entries
			require.NoError(t, idx.Add(ctx,
				entry("zero", "z.ts", []float32{0, 0, 0, 0}, nil),
				entry("a", "a.ts", []float32{1, 0, 0, 0}, nil),
				entry("b", "b.ts", []float32{-1, 0, 0, 0}, nil),
			))

			// Then: it sits at distance 1, between the match and the opposite
			hits, err := idx.Query(ctx, []float32{1, 0, 0, 0}, 2, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "zero"}, hitIDs(hits))
			assert.InDelta(t, 1, hits[1].Distance, 1e-6)
		})
	}
}

// =============================================================================
// TS04: DeleteByFile
// =============================================================================

func TestIndex_DeleteByFile(t *testing.T) {
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			idx := openBackend(t, backend, dir, 4)

			// Given: two entries from one file and one from another
			require.NoError(t, idx.Add(ctx,
				entry("a:0", "src/a.ts", []float32{1, 0, 0, 0}, nil),
				entry("a:1", "src/a.ts", []float32{0, 1, 0, 0}, nil),
				entry("b:0", "src/b.ts", []float32{0, 0, 1, 0}, nil),
			))

			// When: src/a.ts is removed
			n, err := idx.DeleteByFile(ctx, "src/a.ts")
			require.NoError(t, err)

			// Then: only its entries are gone, also after reopen
			assert.Equal(t, 2, n)
			assert.Equal(t, 1, idx.Count())
			require.NoError(t, idx.Persist())
			require.NoError(t, idx.Close())

			reopened := openBackend(t, backend, dir, 4)
			defer func() { _ = reopened.Close() }()
			hits, err := reopened.Query(ctx, []float32{1, 0, 0, 0}, 5, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{"b:0"}, hitIDs(hits))

			n, err = reopened.DeleteByFile(ctx, "missing.ts")
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestIndex_ReplaceIsAtomic(t *testing.T) {
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			idx := openBackend(t, backend, dir, 4)

			// Given: two files in the index
			require.NoError(t, idx.Add(ctx,
				entry("a:0", "src/a.ts", []float32{1, 0, 0, 0}, nil),
				entry("a:1", "src/a.ts", []float32{0, 1, 0, 0}, nil),
				entry("b:0", "src/b.ts", []float32{0, 0, 1, 0}, nil),
			))
			require.NoError(t, idx.Persist())

			// When: a replacement carries a bad entry
			_, err := idx.Replace(ctx, []string{"src/a.ts"},
				entry("a:2", "src/a.ts", []float32{1, 0}, nil))

			// Then: nothing was removed
			require.Error(t, err)
			assert.Equal(t, 3, idx.Count())

			// When: the replacement is valid
			n, err := idx.Replace(ctx, []string{"src/a.ts"},
				entry("a:2", "src/a.ts", []float32{0, 0, 0, 1}, nil))
			require.NoError(t, err)

			// Then: old entries are swapped for new ones
			assert.Equal(t, 2, n)
			require.NoError(t, idx.Persist())
			require.NoError(t, idx.Close())

			reopened := openBackend(t, backend, dir, 4)
			defer func() { _ = reopened.Close() }()
			hits, err := reopened.Query(ctx, []float32{0, 0, 0, 1}, 5, nil)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a:2", "b:0"}, hitIDs(hits))
		})
	}
}

func TestSQLite_FailedInsertKeepsDeletedEntries(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenSQLite(ctx, t.TempDir(), "test", 4)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Add(ctx,
		entry("a:0", "src/a.ts", []float32{1, 0, 0, 0}, nil),
		entry("b:0", "src/b.ts", []float32{0, 1, 0, 0}, nil),
	))

	// Given: every insert fails after the deletes have run
	_, err = idx.db.ExecContext(ctx, `CREATE TRIGGER fail_insert BEFORE INSERT ON entries
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)

	// When: both files are replaced
	_, err = idx.Replace(ctx, []string{"src/a.ts", "src/b.ts"},
		entry("a:1", "src/a.ts", []float32{0, 0, 1, 0}, nil))

	// Then: the deletes were rolled back with the insert
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeIndexPersist, ferrors.GetCode(err))
	assert.Equal(t, 2, idx.Count())
}

// =============================================================================
// TS05: Dimensions and configuration errors
// =============================================================================

func TestIndex_DimensionMismatch(t *testing.T) {
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			idx := openBackend(t, backend, dir, 4)

			// When: a batch contains one vector of the wrong size
			err := idx.Add(ctx,
				entry("ok", "a.ts", []float32{1, 0, 0, 0}, nil),
				entry("bad", "a.ts", []float32{1, 0}, nil),
			)

			// Then: the batch is rejected as configuration-fatal
			require.Error(t, err)
			assert.Equal(t, ferrors.ErrCodeDimensionMismatch, ferrors.GetCode(err))
			assert.True(t, ferrors.IsFatal(err))
			assert.Equal(t, 0, idx.Count())

			_, err = idx.Query(ctx, []float32{1, 0, 0}, 1, nil)
			assert.Equal(t, ferrors.ErrCodeDimensionMismatch, ferrors.GetCode(err))

			// And: reopening with other dimensions fails
			require.NoError(t, idx.Add(ctx, entry("ok", "a.ts", []float32{1, 0, 0, 0}, nil)))
			require.NoError(t, idx.Persist())
			require.NoError(t, idx.Close())

			_, err = Open(ctx, Options{Backend: backend, Dir: dir, Collection: "test", Dimensions: 8})
			require.Error(t, err)
			assert.Equal(t, ferrors.ErrCodeDimensionMismatch, ferrors.GetCode(err))
		})
	}
}

func TestOpen_ConfigErrors(t *testing.T) {
	ctx := context.Background()

	idx, err := Open(ctx, Options{Backend: "chroma", Dir: t.TempDir(), Dimensions: 4})
	require.Error(t, err)
	assert.Nil(t, idx)
	assert.Equal(t, ferrors.ErrCodeInvalidBackend, ferrors.GetCode(err))
	assert.Equal(t, ferrors.ClassConfig, ferrors.ClassOf(err))

	_, err = Open(ctx, Options{Backend: BackendFlat, Dir: t.TempDir()})
	require.Error(t, err)
	assert.Equal(t, ferrors.ClassConfig, ferrors.ClassOf(err))
}

func TestOpen_DefaultCollection(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(context.Background(), Options{Backend: BackendFlat, Dir: dir, Dimensions: 4})
	require.NoError(t, err)
	require.NoError(t, idx.Add(context.Background(), entry("a", "a.ts", []float32{1, 0, 0, 0}, nil)))
	require.NoError(t, idx.Persist())

	_, err = os.Stat(filepath.Join(dir, DefaultCollection+".flat"))
	assert.NoError(t, err)
	assert.Equal(t, BackendFlat, idx.Backend())
	assert.Equal(t, 4, idx.Dimensions())
}

func TestFlat_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.flat"), []byte("not gob"), 0o644))

	_, err := OpenFlat(dir, "test", 4)
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeIndexOpen, ferrors.GetCode(err))
	assert.Equal(t, ferrors.ClassStorage, ferrors.ClassOf(err))
}

func TestFlat_UnpersistedEntriesAreDropped(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenFlat(dir, "test", 4)
	require.NoError(t, err)
	require.NoError(t, idx.Add(context.Background(), entry("a", "a.ts", []float32{1, 0, 0, 0}, nil)))
	require.NoError(t, idx.Close())

	reopened, err := OpenFlat(dir, "test", 4)
	require.NoError(t, err)
	assert.Equal(t, 0, reopened.Count())
}

func TestSQLite_CollectionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := OpenSQLite(ctx, dir, "one", 4)
	require.NoError(t, err)
	require.NoError(t, first.Add(ctx, entry("a", "a.ts", []float32{1, 0, 0, 0}, nil)))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(ctx, dir, "two", 2)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()
	assert.Equal(t, 0, second.Count())
	assert.Equal(t, filepath.Join(dir, SQLiteFileName), second.Path())
}

func TestVectorCodec(t *testing.T) {
	v := []float32{1.5, -2, 0, 3.25e-7}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.Len(t, encodeVector(v), 16)
}

// =============================================================================
// TS06: HNSW graph maintenance
// =============================================================================

func TestHNSW_GraphSearchMatchesExact(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenHNSW(t.TempDir(), "test", 8, HNSWConfig{})
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	// Given: 60 distinct vectors
	var entries []Entry
	for i := 0; i < 60; i++ {
		v := make([]float32, 8)
		v[i%8] = 1
		v[(i/8)%8] += float32(i) / 10
		entries = append(entries, entry(fmt.Sprintf("e%02d", i), "f.ts", v, nil))
	}
	require.NoError(t, idx.Add(ctx, entries...))

	// When: querying one stored vector with a small k (graph path)
	hits, err := idx.Query(ctx, entries[17].Vector, 3, nil)
	require.NoError(t, err)

	// Then: the vector itself ranks first
	require.Len(t, hits, 3)
	assert.Equal(t, "e17", hits[0].ID)
	assert.InDelta(t, 0, hits[0].Distance, 1e-5)
	for i := 1; i < len(hits); i++ {
		assert.LessOrEqual(t, hits[i-1].Distance, hits[i].Distance)
	}
}

func TestHNSW_OrphansCompactOnPersist(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx, err := OpenHNSW(dir, "test", 4, DefaultHNSWConfig())
	require.NoError(t, err)

	a := entry("a", "a.ts", []float32{1, 0, 0, 0}, nil)
	b := entry("b", "b.ts", []float32{0, 1, 0, 0}, nil)
	require.NoError(t, idx.Add(ctx, a, b))
	assert.Equal(t, 0, idx.Orphans())

	// When: "a" is replaced, one orphan remains below the live count
	require.NoError(t, idx.Add(ctx, a))
	assert.Equal(t, 1, idx.Orphans())
	require.NoError(t, idx.Persist())
	assert.Equal(t, 1, idx.Orphans())

	// And: once orphans reach the live count, Persist rebuilds the graph
	require.NoError(t, idx.Add(ctx, b))
	assert.Equal(t, 2, idx.Orphans())
	require.NoError(t, idx.Persist())
	assert.Equal(t, 0, idx.Orphans())

	// Then: results are unchanged after reopen
	require.NoError(t, idx.Close())
	reopened, err := OpenHNSW(dir, "test", 4, DefaultHNSWConfig())
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	assert.Equal(t, 0, reopened.Orphans())
	hits, err := reopened.Query(ctx, []float32{1, 0, 0, 0}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, hitIDs(hits))
}

func TestHNSW_MissingGraphIsRebuilt(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx, err := OpenHNSW(dir, "test", 4, DefaultHNSWConfig())
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx,
		entry("a", "a.ts", []float32{1, 0, 0, 0}, nil),
		entry("b", "b.ts", []float32{0, 1, 0, 0}, nil),
	))
	require.NoError(t, idx.Persist())
	require.NoError(t, idx.Close())

	// Given: the exported graph is lost but the metadata survives
	require.NoError(t, os.Remove(filepath.Join(dir, "test.hnsw")))

	// Then: the index reopens and answers from a rebuilt graph
	reopened, err := OpenHNSW(dir, "test", 4, DefaultHNSWConfig())
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	assert.Equal(t, 2, reopened.Count())
	hits, err := reopened.Query(ctx, []float32{0, 1, 0, 0}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, hitIDs(hits))
}

func TestHNSW_ClosedIndex(t *testing.T) {
	idx, err := OpenHNSW(t.TempDir(), "test", 4, DefaultHNSWConfig())
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	err = idx.Add(context.Background(), entry("a", "a.ts", []float32{1, 0, 0, 0}, nil))
	assert.Error(t, err)
	assert.Error(t, idx.Persist())
}
