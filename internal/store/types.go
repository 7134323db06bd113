// Package store persists chunk vectors and answers nearest-neighbour
// queries. Three backends share one contract: sqlite (embedded document
// store), flat (in-memory exact index saved with gob) and hnsw (coder/hnsw
// graph). A bleve keyword index can be kept alongside any of them.
package store

import (
	"context"
	"fmt"

	"github.com/forge-ai/forge/internal/chunk"
	ferrors "github.com/forge-ai/forge/internal/errors"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendFlat   = "flat"
	BackendHNSW   = "hnsw"
)

// DefaultCollection names the entry set when none is configured.
const DefaultCollection = "frontend_code"

// Entry is one stored chunk.
type Entry struct {
	ID         string            `json:"id"`
	Vector     []float32         `json:"vector"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata"`
	Provenance chunk.Provenance  `json:"provenance"`
}

// EntryFromChunk pairs a chunk with its vector.
func EntryFromChunk(c chunk.Chunk, vec []float32) Entry {
	md := make(map[string]string, len(c.Metadata))
	for k, v := range c.Metadata {
		md[k] = v
	}
	return Entry{
		ID:         c.ID,
		Vector:     vec,
		Text:       c.Text,
		Metadata:   md,
		Provenance: c.Provenance,
	}
}

// Hit is one query result. Distance is cosine distance in [0, 2];
// Score is 1 - Distance/2.
type Hit struct {
	ID         string            `json:"id"`
	Distance   float32           `json:"distance"`
	Score      float32           `json:"score"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata"`
	Provenance chunk.Provenance  `json:"provenance"`
}

// Filters is an exact-match conjunction over entry metadata. Every key
// must be present with exactly the given value.
type Filters map[string]string

// Match reports whether md satisfies every filter.
func (f Filters) Match(md map[string]string) bool {
	for k, want := range f {
		got, ok := md[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Index is the vector index contract.
//
// Query ranks by ascending cosine distance; equal distances keep insertion
// order. Filters are applied before ranking, so k filtered hits are
// returned whenever that many entries match. Adding an ID that already
// exists replaces it and moves it to the end of the insertion order.
type Index interface {
	Add(ctx context.Context, entries ...Entry) error
	Query(ctx context.Context, vec []float32, k int, filters Filters) ([]Hit, error)
	// DeleteByFile removes every entry whose provenance file is path and
	// returns how many were removed.
	DeleteByFile(ctx context.Context, path string) (int, error)
	// Replace removes every entry of files and adds entries as one
	// change: on error the index is left as it was. It returns how many
	// entries were removed.
	Replace(ctx context.Context, files []string, entries ...Entry) (int, error)
	// Persist makes all added entries durable.
	Persist() error
	Count() int
	Dimensions() int
	Backend() string
	Close() error
}

// Options configures Open.
type Options struct {
	Backend    string
	Dir        string
	Collection string
	Dimensions int
	HNSW       HNSWConfig
}

// Open opens the backend named by opts.Backend in opts.Dir, creating it
// when absent. An unknown backend is a configuration error.
func Open(ctx context.Context, opts Options) (Index, error) {
	if opts.Dimensions <= 0 {
		return nil, ferrors.ConfigError(fmt.Sprintf("index dimensions must be positive, got %d", opts.Dimensions), nil)
	}
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}

	var (
		idx Index
		err error
	)
	switch opts.Backend {
	case BackendSQLite:
		idx, err = OpenSQLite(ctx, opts.Dir, opts.Collection, opts.Dimensions)
	case BackendFlat:
		idx, err = OpenFlat(opts.Dir, opts.Collection, opts.Dimensions)
	case BackendHNSW:
		idx, err = OpenHNSW(opts.Dir, opts.Collection, opts.Dimensions, opts.HNSW)
	default:
		return nil, ferrors.New(ferrors.ErrCodeInvalidBackend,
			fmt.Sprintf("unknown vector store backend %q", opts.Backend), nil).
			WithSuggestion("use 'sqlite', 'flat' or 'hnsw'")
	}
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func checkDims(want int, vec []float32) error {
	if len(vec) != want {
		return ferrors.DimensionMismatch(want, len(vec))
	}
	return nil
}
