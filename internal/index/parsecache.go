package index

import (
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/forge-ai/forge/internal/parse"
)

// ParseCacheFileName holds the parse results of the last committed run.
const ParseCacheFileName = "parse_cache.gob"

const parseCacheVersion = 1

type cachedResult struct {
	Digest string
	Result parse.Result
}

type parseCacheFile struct {
	Version int
	Entries map[string]cachedResult
}

// parseCache lets an incremental run reuse the parse results of unchanged
// files, so the manifest still covers the whole tree. Entries are keyed by
// path and only served when the digest matches.
type parseCache struct {
	path    string
	entries map[string]cachedResult
}

// loadParseCache reads the cache; a missing or unreadable file yields an
// empty cache.
func loadParseCache(dataDir string) *parseCache {
	c := &parseCache{path: filepath.Join(dataDir, ParseCacheFileName), entries: map[string]cachedResult{}}
	f, err := os.Open(c.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("parse_cache_unreadable", slog.String("path", c.path), slog.String("error", err.Error()))
		}
		return c
	}
	defer func() { _ = f.Close() }()

	var pf parseCacheFile
	if err := gob.NewDecoder(f).Decode(&pf); err != nil || pf.Version != parseCacheVersion {
		slog.Warn("parse_cache_discarded", slog.String("path", c.path))
		return c
	}
	if pf.Entries != nil {
		c.entries = pf.Entries
	}
	return c
}

func (c *parseCache) get(path, digest string) (*parse.Result, bool) {
	e, ok := c.entries[path]
	if !ok || e.Digest != digest {
		return nil, false
	}
	r := e.Result
	return &r, true
}

// replace swaps the cache contents for the results of this run.
func (c *parseCache) replace(results []*parse.Result, digests map[string]string) {
	next := make(map[string]cachedResult, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		next[r.Path] = cachedResult{Digest: digests[r.Path], Result: *r}
	}
	c.entries = next
}

func (c *parseCache) save() error {
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".parse_cache-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := gob.NewEncoder(tmp).Encode(parseCacheFile{Version: parseCacheVersion, Entries: c.entries}); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode parse cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close parse cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("rename parse cache: %w", err)
	}
	return nil
}
