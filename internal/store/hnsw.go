package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/coder/hnsw"

	ferrors "github.com/forge-ai/forge/internal/errors"
)

const hnswFormatVersion = 1

// HNSWConfig tunes the graph.
type HNSWConfig struct {
	// M is the maximum number of neighbours per node (default 16).
	M int
	// EfSearch is the query-time candidate list size (default 20).
	EfSearch int
	// Seed fixes level generation so rebuilt graphs are reproducible.
	Seed int64
}

// DefaultHNSWConfig returns the coder/hnsw recommended parameters.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{M: 16, EfSearch: 20, Seed: 1}
}

// hnswMeta is persisted next to the exported graph.
type hnswMeta struct {
	Version    int
	Collection string
	Dimensions int
	NextSeq    uint64
	NextKey    uint64
	Config     HNSWConfig
	Records    []record
}

// HNSWIndex answers unfiltered top-k queries from a coder/hnsw graph and
// falls back to an exact scan when filters are present or k covers the
// whole index. Replaced and deleted entries stay in the graph as orphans
// until the next Persist compacts them.
type HNSWIndex struct {
	*memIndex
	graph      *hnsw.Graph[uint64]
	keys       map[uint64]string
	nextKey    uint64
	cfg        HNSWConfig
	dir        string
	collection string
}

var _ Index = (*HNSWIndex)(nil)

// OpenHNSW loads <dir>/<collection>.hnsw{,.meta} when they exist.
func OpenHNSW(dir, collection string, dims int, cfg HNSWConfig) (*HNSWIndex, error) {
	def := DefaultHNSWConfig()
	if cfg.M <= 0 {
		cfg.M = def.M
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = def.EfSearch
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Seed
	}

	idx := &HNSWIndex{
		memIndex:   newMemIndex(dims),
		keys:       make(map[uint64]string),
		cfg:        cfg,
		dir:        dir,
		collection: collection,
	}
	idx.graph = idx.newGraph()
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (h *HNSWIndex) graphPath() string { return filepath.Join(h.dir, h.collection+".hnsw") }
func (h *HNSWIndex) metaPath() string  { return h.graphPath() + ".meta" }

func (h *HNSWIndex) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = h.cfg.M
	g.EfSearch = h.cfg.EfSearch
	g.Ml = 0.25
	g.Rng = rand.New(rand.NewSource(h.cfg.Seed))
	return g
}

func (h *HNSWIndex) load() error {
	file, err := os.Open(h.metaPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return ferrors.StorageError(ferrors.ErrCodeIndexOpen, "failed to open hnsw metadata", err)
	}
	var meta hnswMeta
	err = gob.NewDecoder(file).Decode(&meta)
	_ = file.Close()
	if err != nil {
		return ferrors.StorageError(ferrors.ErrCodeIndexOpen, "failed to decode hnsw metadata", err)
	}
	if meta.Version != hnswFormatVersion {
		return ferrors.StorageError(ferrors.ErrCodeIndexOpen,
			fmt.Sprintf("unsupported hnsw index version %d", meta.Version), nil)
	}
	if meta.Dimensions != h.dims {
		return ferrors.DimensionMismatch(meta.Dimensions, h.dims).WithDetail("index", h.metaPath())
	}

	for i := range meta.Records {
		rec := meta.Records[i]
		h.records[rec.Entry.ID] = &rec
		if vectorNorm(rec.Entry.Vector) > 0 {
			h.keys[rec.Key] = rec.Entry.ID
		}
	}
	h.nextSeq = max(meta.NextSeq, 1)
	h.nextKey = meta.NextKey

	if err := h.importGraph(); err != nil {
		slog.Warn("hnsw_graph_rebuild",
			slog.String("path", h.graphPath()),
			slog.String("reason", err.Error()))
		h.rebuild()
	}
	return nil
}

func (h *HNSWIndex) importGraph() error {
	file, err := os.Open(h.graphPath())
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	g := h.newGraph()
	// Import needs an io.ByteReader.
	if err := g.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	h.graph = g
	return nil
}

// rebuild re-inserts every live record into a fresh graph with fresh keys.
// Callers hold h.mu or have exclusive access.
func (h *HNSWIndex) rebuild() {
	h.graph = h.newGraph()
	h.keys = make(map[uint64]string, len(h.records))
	h.nextKey = 0
	for _, rec := range h.sorted() {
		h.insertNode(rec)
	}
}

// insertNode adds rec to the graph. Zero vectors are kept out of the graph
// and are only reachable by exact scan.
func (h *HNSWIndex) insertNode(rec *record) {
	vec := normalized(rec.Entry.Vector)
	rec.Key = h.nextKey
	h.nextKey++
	if vec == nil {
		return
	}
	h.graph.Add(hnsw.MakeNode(rec.Key, vec))
	h.keys[rec.Key] = rec.Entry.ID
}

// Add implements Index.
func (h *HNSWIndex) Add(ctx context.Context, entries ...Entry) error {
	_, err := h.Replace(ctx, nil, entries...)
	return err
}

// Replace implements Index. Nothing is durable until Persist.
func (h *HNSWIndex) Replace(ctx context.Context, files []string, entries ...Entry) (int, error) {
	if err := h.validate(entries); err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ferrors.StorageError(ferrors.ErrCodeIndexPersist, "index is closed", nil)
	}
	removed := 0
	for _, path := range files {
		for _, rec := range h.removeFile(path) {
			delete(h.keys, rec.Key)
			removed++
		}
	}
	for _, e := range entries {
		rec, old := h.put(e)
		if old != nil {
			// Lazy deletion: the node stays in the graph, unmapped.
			delete(h.keys, old.Key)
		}
		h.insertNode(rec)
	}
	return removed, nil
}

// Query implements Index.
func (h *HNSWIndex) Query(ctx context.Context, vec []float32, k int, filters Filters) ([]Hit, error) {
	if err := checkDims(h.dims, vec); err != nil {
		return nil, err
	}
	// The graph is not safe for concurrent searches.
	h.mu.Lock()
	defer h.mu.Unlock()

	q := normalized(vec)
	if len(filters) > 0 || k >= len(h.records) || q == nil || len(h.keys) < len(h.records) {
		return h.scan(ctx, vec, k, filters)
	}

	orphans := h.graph.Len() - len(h.keys)
	nodes := h.graph.Search(q, max(k, h.cfg.EfSearch)+orphans)
	r := newRanker(vec, k, nil)
	for _, n := range nodes {
		id, ok := h.keys[n.Key]
		if !ok {
			continue
		}
		r.offer(h.records[id])
	}
	return r.hits(), nil
}

// DeleteByFile implements Index.
func (h *HNSWIndex) DeleteByFile(ctx context.Context, path string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := h.removeFile(path)
	for _, rec := range removed {
		delete(h.keys, rec.Key)
	}
	return len(removed), nil
}

// Orphans returns the number of unmapped graph nodes.
func (h *HNSWIndex) Orphans() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph.Len() - len(h.keys)
}

// Persist compacts the graph when orphans reach the live count, then
// writes the graph and the record metadata.
func (h *HNSWIndex) Persist() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ferrors.StorageError(ferrors.ErrCodeIndexPersist, "index is closed", nil)
	}

	if orphans := h.graph.Len() - len(h.keys); orphans > 0 && orphans >= len(h.keys) {
		slog.Info("hnsw_compact", slog.Int("orphans", orphans), slog.Int("live", len(h.keys)))
		h.rebuild()
	}

	if h.graph.Len() > 0 {
		if err := writeAtomic(h.graphPath(), func(f *os.File) error {
			w := bufio.NewWriter(f)
			if err := h.graph.Export(w); err != nil {
				return fmt.Errorf("failed to export graph: %w", err)
			}
			return w.Flush()
		}); err != nil {
			return ferrors.StorageError(ferrors.ErrCodeIndexPersist, "failed to persist hnsw graph", err)
		}
	} else if err := os.Remove(h.graphPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ferrors.StorageError(ferrors.ErrCodeIndexPersist, "failed to remove empty hnsw graph", err)
	}

	meta := hnswMeta{
		Version:    hnswFormatVersion,
		Collection: h.collection,
		Dimensions: h.dims,
		NextSeq:    h.nextSeq,
		NextKey:    h.nextKey,
		Config:     h.cfg,
	}
	for _, rec := range h.sorted() {
		meta.Records = append(meta.Records, *rec)
	}
	if err := writeAtomic(h.metaPath(), func(f *os.File) error {
		return gob.NewEncoder(f).Encode(&meta)
	}); err != nil {
		return ferrors.StorageError(ferrors.ErrCodeIndexPersist, "failed to persist hnsw metadata", err)
	}
	return nil
}

// Count implements Index.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Dimensions implements Index.
func (h *HNSWIndex) Dimensions() int { return h.dims }

// Backend implements Index.
func (h *HNSWIndex) Backend() string { return BackendHNSW }

// Close implements Index.
func (h *HNSWIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.graph = nil
	return nil
}
