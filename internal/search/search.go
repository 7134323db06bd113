// Package search answers queries against the index a scan persisted. It
// embeds the query text with the configured provider and ranks entries by
// vector similarity, by BM25 over the keyword index, or by fusing both
// lists with Reciprocal Rank Fusion.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/forge-ai/forge/internal/config"
	"github.com/forge-ai/forge/internal/embed"
	ferrors "github.com/forge-ai/forge/internal/errors"
	"github.com/forge-ai/forge/internal/store"
)

// Query limits.
const (
	DefaultK = 5
	MaxK     = 100
)

// Mode selects the ranking.
type Mode string

const (
	ModeVector  Mode = "vector"
	ModeKeyword Mode = "keyword"
	ModeHybrid  Mode = "hybrid"
)

// ParseMode maps a user string onto a Mode; empty means ModeVector.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeVector:
		return ModeVector, nil
	case ModeKeyword:
		return ModeKeyword, nil
	case ModeHybrid:
		return ModeHybrid, nil
	default:
		return "", ferrors.New(ferrors.ErrCodeInvalidInput, fmt.Sprintf("unknown search mode %q", s), nil).
			WithSuggestion("use 'vector', 'keyword' or 'hybrid'")
	}
}

// Request is one query.
type Request struct {
	Text    string
	K       int
	Filters store.Filters
	Mode    Mode
}

// Result is one ranked entry.
type Result struct {
	ID           string            `json:"id"`
	File         string            `json:"file"`
	StartLine    int               `json:"start_line"`
	EndLine      int               `json:"end_line"`
	Score        float64           `json:"score"`
	Distance     float32           `json:"distance,omitempty"`
	Text         string            `json:"text"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	MatchedTerms []string          `json:"matched_terms,omitempty"`
	InBothLists  bool              `json:"in_both_lists,omitempty"`
}

// Options configures a Searcher.
type Options struct {
	// Config locates the index (required).
	Config *config.Config
	// Root resolves relative persist directories.
	Root string
	// Provider embeds query text; required for vector and hybrid modes.
	Provider embed.Provider
	// Weights default to DefaultWeights.
	Weights Weights
}

// Searcher queries the persisted index. Indices are opened per query and
// closed before it returns, so a long-lived Searcher always sees the
// latest committed scan and never holds the stores open between calls.
type Searcher struct {
	cfg        *config.Config
	provider   embed.Provider
	persistDir string
	fusion     *RRFFusion
	weights    Weights
}

// New validates opts.
func New(opts Options) (*Searcher, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	w := opts.Weights
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	return &Searcher{
		cfg:        opts.Config,
		provider:   opts.Provider,
		persistDir: config.ResolvePath(opts.Root, opts.Config.VectorStore.PersistDirectory),
		fusion:     NewRRFFusion(),
		weights:    w,
	}, nil
}

// PersistDir returns the directory holding the indices.
func (s *Searcher) PersistDir() string { return s.persistDir }

// Query ranks entries for req. A missing index is a storage error telling
// the user to scan first.
func (s *Searcher) Query(ctx context.Context, req Request) ([]Result, error) {
	start := time.Now()
	if strings.TrimSpace(req.Text) == "" {
		return nil, ferrors.New(ferrors.ErrCodeInvalidInput, "query text is empty", nil)
	}
	if req.Mode == "" {
		req.Mode = ModeVector
	}
	req.K = clampK(req.K)

	if _, err := os.Stat(s.persistDir); errors.Is(err, os.ErrNotExist) {
		return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen,
			fmt.Sprintf("no index found at %s", s.persistDir), nil).
			WithSuggestion("run 'forge scan' first")
	}

	var (
		results []Result
		err     error
	)
	switch req.Mode {
	case ModeVector:
		var hits []store.Hit
		hits, err = s.vector(ctx, req.Text, req.K, req.Filters)
		results = fromHits(hits)
	case ModeKeyword:
		var hits []store.KeywordHit
		hits, err = s.keyword(ctx, req.Text, req.K, req.Filters)
		results = fromKeywordHits(hits)
	case ModeHybrid:
		results, err = s.hybrid(ctx, req)
	default:
		_, err = ParseMode(string(req.Mode))
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("search_complete",
		slog.String("mode", string(req.Mode)),
		slog.Int("k", req.K),
		slog.Int("filters", len(req.Filters)),
		slog.Int("results", len(results)),
		slog.Duration("elapsed", time.Since(start)))
	return results, nil
}

func clampK(k int) int {
	switch {
	case k <= 0:
		return DefaultK
	case k > MaxK:
		return MaxK
	default:
		return k
	}
}

func (s *Searcher) vector(ctx context.Context, text string, k int, filters store.Filters) ([]store.Hit, error) {
	if s.provider == nil {
		return nil, ferrors.ConfigError("vector search needs an embedding provider", nil)
	}
	vec, err := embed.EmbedText(ctx, s.provider, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	vs := s.cfg.VectorStore
	idx, err := store.Open(ctx, store.Options{
		Backend:    vs.Backend,
		Dir:        s.persistDir,
		Collection: vs.Collection,
		Dimensions: s.provider.Dimensions(),
		HNSW:       store.DefaultHNSWConfig(),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = idx.Close() }()

	return idx.Query(ctx, vec, k, filters)
}

func (s *Searcher) keyword(ctx context.Context, text string, k int, filters store.Filters) ([]store.KeywordHit, error) {
	path := filepath.Join(s.persistDir, store.KeywordDirName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen, "no keyword index found", nil).
			WithSuggestion("set vector_store.keyword_index: true and run 'forge scan --full'")
	}
	kw, err := store.OpenKeywordIndex(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = kw.Close() }()

	return kw.Search(ctx, text, k, filters)
}

// hybrid fuses an over-fetched candidate list from each index.
func (s *Searcher) hybrid(ctx context.Context, req Request) ([]Result, error) {
	candidates := min(req.K*3, MaxK)

	vhits, err := s.vector(ctx, req.Text, candidates, req.Filters)
	if err != nil {
		return nil, err
	}
	khits, err := s.keyword(ctx, req.Text, candidates, req.Filters)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Result, len(vhits)+len(khits))
	for _, r := range fromKeywordHits(khits) {
		byID[r.ID] = r
	}
	// Vector hits carry metadata and distance, so they win.
	for _, r := range fromHits(vhits) {
		byID[r.ID] = r
	}

	fused := s.fusion.Fuse(khits, vhits, s.weights)
	if len(fused) > req.K {
		fused = fused[:req.K]
	}
	out := make([]Result, 0, len(fused))
	for _, f := range fused {
		r := byID[f.ID]
		r.Score = f.Score
		r.MatchedTerms = f.MatchedTerms
		r.InBothLists = f.InBothLists
		out = append(out, r)
	}
	return out, nil
}

func fromHits(hits []store.Hit) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{
			ID:        h.ID,
			File:      h.Provenance.File,
			StartLine: h.Provenance.StartLine,
			EndLine:   h.Provenance.EndLine,
			Score:     float64(h.Score),
			Distance:  h.Distance,
			Text:      h.Text,
			Metadata:  h.Metadata,
		})
	}
	return out
}

func fromKeywordHits(hits []store.KeywordHit) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{
			ID:           h.ID,
			File:         h.File,
			StartLine:    h.Provenance.StartLine,
			EndLine:      h.Provenance.EndLine,
			Score:        h.Score,
			Text:         h.Text,
			MatchedTerms: h.MatchedTerms,
		})
	}
	return out
}
