package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/forge-ai/forge/internal/chunk"
	ferrors "github.com/forge-ai/forge/internal/errors"
)

const (
	// CodeTokenizerName is the registered identifier-aware tokenizer.
	CodeTokenizerName = "forge_code_tokenizer"
	// CodeStopFilterName is the registered code stop word filter.
	CodeStopFilterName = "forge_code_stop"
	// CodeAnalyzerName combines the tokenizer, lowercasing and stop words.
	CodeAnalyzerName = "forge_code"

	// KeywordDirName is the bleve index directory inside the persist dir.
	KeywordDirName = "keyword.bleve"
)

// KeywordOpenTimeout bounds the wait for the index file lock held by
// another process or handle.
var KeywordOpenTimeout = 2 * time.Second

func init() {
	_ = registry.RegisterTokenizer(CodeTokenizerName,
		func(map[string]interface{}, *registry.Cache) (analysis.Tokenizer, error) {
			return codeTokenizer{}, nil
		})
	_ = registry.RegisterTokenFilter(CodeStopFilterName,
		func(map[string]interface{}, *registry.Cache) (analysis.TokenFilter, error) {
			return codeStopFilter{stop: stopWordSet(codeStopWords)}, nil
		})
}

// keywordDoc is the bleve document for one entry.
type keywordDoc struct {
	Content string            `json:"content"`
	File    string            `json:"file"`
	Start   int               `json:"start"`
	End     int               `json:"end"`
	Meta    map[string]string `json:"meta"`
}

// KeywordHit is one keyword search result.
type KeywordHit struct {
	ID           string           `json:"id"`
	Score        float64          `json:"score"`
	File         string           `json:"file"`
	Text         string           `json:"text"`
	Provenance   chunk.Provenance `json:"provenance"`
	MatchedTerms []string         `json:"matched_terms,omitempty"`
}

// KeywordIndex is a BM25 index over chunk text, kept next to the vector
// index so exact identifiers can be looked up by name.
type KeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// OpenKeywordIndex opens or creates the bleve index at path. An empty path
// gives a memory-only index. A corrupt on-disk index is cleared and
// recreated; the next full scan repopulates it.
func OpenKeywordIndex(path string) (*KeywordIndex, error) {
	im, err := keywordMapping()
	if err != nil {
		return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen, "failed to build keyword mapping", err)
	}

	if path == "" {
		idx, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen, "failed to create keyword index", err)
		}
		return &KeywordIndex{index: idx}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen, "failed to create keyword index directory", err)
	}
	if err := checkKeywordMeta(path); err != nil {
		slog.Warn("keyword_index_corrupted", slog.String("path", path), slog.String("error", err.Error()))
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen, "corrupt keyword index cannot be cleared", rmErr)
		}
	}

	idx, err := bleve.OpenUsing(path, map[string]interface{}{
		"bolt_timeout": KeywordOpenTimeout.String(),
	})
	switch {
	case err != nil && isLockTimeout(err):
		return nil, ferrors.StorageError(ferrors.ErrCodeLocked,
			fmt.Sprintf("keyword index %s is in use", path), err).
			WithSuggestion("a scan is in progress; retry when it finishes")
	case errors.Is(err, bleve.ErrorIndexPathDoesNotExist):
		idx, err = bleve.New(path, im)
	case err != nil && isCorruption(err):
		slog.Warn("keyword_index_open_failed", slog.String("path", path), slog.String("error", err.Error()))
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen, "corrupt keyword index cannot be cleared", rmErr)
		}
		idx, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen,
			fmt.Sprintf("failed to open keyword index %s", path), err)
	}
	return &KeywordIndex{index: idx, path: path}, nil
}

func keywordMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	if err := im.AddCustomAnalyzer(CodeAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     CodeTokenizerName,
		"token_filters": []string{lowercase.Name, CodeStopFilterName},
	}); err != nil {
		return nil, err
	}
	im.DefaultAnalyzer = CodeAnalyzerName

	content := bleve.NewTextFieldMapping()
	content.Analyzer = CodeAnalyzerName
	content.IncludeTermVectors = true
	content.Store = true

	file := bleve.NewKeywordFieldMapping()
	file.Store = true

	line := bleve.NewNumericFieldMapping()
	line.Index = false
	line.Store = true

	meta := bleve.NewDocumentMapping()
	meta.DefaultAnalyzer = keyword.Name

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("content", content)
	doc.AddFieldMappingsAt("file", file)
	doc.AddFieldMappingsAt("start", line)
	doc.AddFieldMappingsAt("end", line)
	doc.AddSubDocumentMapping("meta", meta)
	im.DefaultMapping = doc
	return im, nil
}

// checkKeywordMeta reports an index directory whose index_meta.json is
// missing or unreadable. A missing directory is fine.
func checkKeywordMeta(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// isLockTimeout reports a bolt open that gave up waiting for the file
// lock. It must be checked before isCorruption so a held index is never
// cleared.
func isLockTimeout(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func isCorruption(err error) bool {
	if errors.Is(err, bleve.ErrorIndexMetaCorrupt) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt")
}

// Index adds or replaces entries in one batch.
func (k *KeywordIndex) Index(ctx context.Context, entries []Entry) error {
	_, err := k.Replace(ctx, nil, entries)
	return err
}

// Search ranks entries by BM25 against text. Filters apply as exact terms
// on entry metadata.
func (k *KeywordIndex) Search(ctx context.Context, text string, limit int, filters Filters) ([]KeywordHit, error) {
	if strings.TrimSpace(text) == "" || limit <= 0 {
		return []KeywordHit{}, nil
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen, "keyword index is closed", nil)
	}

	match := bleve.NewMatchQuery(text)
	match.SetField("content")
	var q query.Query = match
	if len(filters) > 0 {
		keys := make([]string, 0, len(filters))
		for key := range filters {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		conj := bleve.NewConjunctionQuery(match)
		for _, key := range keys {
			term := bleve.NewTermQuery(filters[key])
			term.SetField("meta." + key)
			conj.AddQuery(term)
		}
		q = conj
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	req.Fields = []string{"file", "content", "start", "end"}
	req.IncludeLocations = true

	res, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	hits := make([]KeywordHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		file, _ := h.Fields["file"].(string)
		text, _ := h.Fields["content"].(string)
		start, _ := h.Fields["start"].(float64)
		end, _ := h.Fields["end"].(float64)
		hits = append(hits, KeywordHit{
			ID:           h.ID,
			Score:        h.Score,
			File:         file,
			Text:         text,
			Provenance:   chunk.Provenance{File: file, StartLine: int(start), EndLine: int(end)},
			MatchedTerms: matchedTerms(h),
		})
	}
	return hits, nil
}

// DeleteByFile removes every entry whose provenance file is path.
func (k *KeywordIndex) DeleteByFile(ctx context.Context, path string) (int, error) {
	return k.Replace(ctx, []string{path}, nil)
}

// Replace removes every entry of files and indexes entries in a single
// batch.
func (k *KeywordIndex) Replace(ctx context.Context, files []string, entries []Entry) (int, error) {
	if len(files) == 0 && len(entries) == 0 {
		return 0, nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return 0, ferrors.StorageError(ferrors.ErrCodeIndexPersist, "keyword index is closed", nil)
	}

	batch := k.index.NewBatch()
	removed := 0
	for _, path := range files {
		ids, err := k.fileDocIDs(ctx, path)
		if err != nil {
			return 0, err
		}
		for _, id := range ids {
			batch.Delete(id)
		}
		removed += len(ids)
	}
	for _, e := range entries {
		doc := keywordDoc{
			Content: e.Text,
			File:    e.Provenance.File,
			Start:   e.Provenance.StartLine,
			End:     e.Provenance.EndLine,
			Meta:    e.Metadata,
		}
		if err := batch.Index(e.ID, doc); err != nil {
			return 0, ferrors.StorageError(ferrors.ErrCodeIndexPersist,
				fmt.Sprintf("failed to index entry %s", e.ID), err)
		}
	}
	if batch.Size() == 0 {
		return 0, nil
	}
	if err := k.index.Batch(batch); err != nil {
		return 0, ferrors.StorageError(ferrors.ErrCodeIndexPersist, "failed to write keyword batch", err)
	}
	return removed, nil
}

// fileDocIDs lists the document IDs of one file. Callers hold k.mu.
func (k *KeywordIndex) fileDocIDs(ctx context.Context, path string) ([]string, error) {
	total, err := k.index.DocCount()
	if err != nil {
		return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen, "failed to count keyword documents", err)
	}
	if total == 0 {
		return nil, nil
	}
	term := bleve.NewTermQuery(path)
	term.SetField("file")
	req := bleve.NewSearchRequest(term)
	req.Size = int(total)
	res, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen, "failed to find file entries", err)
	}
	ids := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

// Count returns the number of indexed entries.
func (k *KeywordIndex) Count() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return 0
	}
	n, _ := k.index.DocCount()
	return int(n)
}

// Path returns the index directory, empty for a memory-only index.
func (k *KeywordIndex) Path() string { return k.path }

// Close releases the index. Calling Close twice is safe.
func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.index.Close()
}

func matchedTerms(h *search.DocumentMatch) []string {
	var terms []string
	for term := range h.Locations["content"] {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

// codeTokenizer implements analysis.Tokenizer with tokenizeCode.
type codeTokenizer struct{}

func (codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	toks := tokenizeCode(string(input))
	out := make(analysis.TokenStream, 0, len(toks))
	for i, t := range toks {
		out = append(out, &analysis.Token{
			Term:     []byte(t.term),
			Start:    t.start,
			End:      t.end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
	}
	return out
}

type codeStopFilter struct {
	stop map[string]struct{}
}

func (f codeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := input[:0]
	for _, tok := range input {
		if _, ok := f.stop[strings.ToLower(string(tok.Term))]; !ok {
			out = append(out, tok)
		}
	}
	return out
}
