package scanner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	ferrors "github.com/forge-ai/forge/internal/errors"
	"github.com/forge-ai/forge/internal/ignore"
)

// ignoreCacheSize bounds the number of parsed .gitignore files kept in
// memory by a long-lived Scanner (watch mode).
const ignoreCacheSize = 1000

// hashBlockSize is the read size used while digesting a file.
const hashBlockSize = 4096

// Scanner discovers indexable files in a project directory.
type Scanner struct {
	// ignoreCache maps a directory to its parsed .gitignore; a nil value
	// records that the directory has none.
	ignoreCache *lru.Cache[string, *ignore.Rules]
	cacheMu     sync.Mutex
}

// New creates a Scanner.
func New() (*Scanner, error) {
	cache, err := lru.New[string, *ignore.Rules](ignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create ignore cache: %w", err)
	}
	return &Scanner{ignoreCache: cache}, nil
}

type candidate struct {
	abs, rel string
	info     fs.FileInfo
}

// Scan walks opts.RootDir and returns the inventory of qualifying files,
// sorted by RelPath. Per-file failures land in Inventory.Errors; only an
// invalid root or cancellation is returned as an error.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) (*Inventory, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}
	root := opts.RootDir
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeRootInvalid, "failed to resolve project root", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeRootInvalid,
			fmt.Sprintf("project root %s is not accessible", absRoot), err)
	}
	if !info.IsDir() {
		return nil, ferrors.New(ferrors.ErrCodeRootInvalid,
			fmt.Sprintf("project root %s is not a directory", absRoot), nil)
	}

	globs, err := ignore.CompileGlobs(opts.Exclude)
	if err != nil {
		return nil, ferrors.ConfigError("invalid scan.exclude pattern", err)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	exts := make(map[string]bool, len(opts.Extensions))
	for _, e := range opts.Extensions {
		exts[strings.ToLower(e)] = true
	}

	inv := &Inventory{
		ProjectRoot:   absRoot,
		ScanTimestamp: time.Now(),
		Files:         []FileRecord{},
		Errors:        []FileError{},
	}
	var mu sync.Mutex
	recordErr := func(path string, err error) {
		fe := ferrors.FileError(ferrors.ErrCodeFileRead, path, err)
		slog.Warn("scan_file_skipped", ferrors.LogAttrs(fe)...)
		mu.Lock()
		inv.Errors = append(inv.Errors, FileError{File: path, Error: err.Error()})
		mu.Unlock()
	}

	filter := &filter{
		scanner:   s,
		root:      absRoot,
		globs:     globs,
		exts:      exts,
		maxSize:   maxSize,
		gitignore: opts.RespectGitignore,
	}

	candidates := make(chan candidate, workers*10)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(candidates)
		return s.walk(gctx, absRoot, opts.FollowSymlinks, filter, candidates, recordErr)
	})

	var done int
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for c := range candidates {
				if err := gctx.Err(); err != nil {
					return err
				}
				rec, err := buildRecord(c)
				if err != nil {
					recordErr(c.rel, err)
					continue
				}
				mu.Lock()
				inv.Files = append(inv.Files, rec)
				inv.TotalSizeBytes += rec.Size
				done++
				n := done
				mu.Unlock()
				if opts.ProgressFunc != nil {
					opts.ProgressFunc(n)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(inv.Files, func(i, j int) bool { return inv.Files[i].RelPath < inv.Files[j].RelPath })
	sort.Slice(inv.Errors, func(i, j int) bool { return inv.Errors[i].File < inv.Errors[j].File })
	inv.TotalFiles = len(inv.Files)

	slog.Info("scan_complete",
		slog.String("root", absRoot),
		slog.Int("files", inv.TotalFiles),
		slog.Int("errors", len(inv.Errors)),
		slog.Int64("bytes", inv.TotalSizeBytes))
	return inv, nil
}

// walk feeds qualifying files to out. Unreadable entries are recorded
// and skipped. Symlinked directories are never descended, so link
// cycles cannot loop the walk.
func (s *Scanner) walk(ctx context.Context, absRoot string, followSymlinks bool, f *filter,
	out chan<- candidate, recordErr func(string, error)) error {
	return filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if err != nil {
			if rel != "." {
				recordErr(rel, err)
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if f.excludeDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		var info fs.FileInfo
		if d.Type()&fs.ModeSymlink != 0 {
			if !followSymlinks {
				return nil
			}
			info, err = os.Stat(path)
			if err != nil {
				recordErr(rel, err)
				return nil
			}
			if info.IsDir() {
				return nil
			}
		} else {
			info, err = d.Info()
			if err != nil {
				recordErr(rel, err)
				return nil
			}
		}

		if !info.Mode().IsRegular() || !f.admitFile(rel, info.Size()) {
			return nil
		}

		select {
		case out <- candidate{abs: path, rel: rel, info: info}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}

// buildRecord digests the file in fixed-size blocks and fills in the
// derived fields.
func buildRecord(c candidate) (FileRecord, error) {
	f, err := os.Open(c.abs)
	if err != nil {
		return FileRecord{}, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, hashBlockSize)
	var head []byte
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if head == nil {
				head = append([]byte(nil), buf[:n]...)
			}
			h.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return FileRecord{}, readErr
		}
	}

	ext := filepath.Ext(c.rel)
	mimeType := detectMIME(ext, head)
	return FileRecord{
		AbsPath:  c.abs,
		RelPath:  c.rel,
		Ext:      ext,
		Size:     c.info.Size(),
		ModTime:  c.info.ModTime(),
		Digest:   hex.EncodeToString(h.Sum(nil)),
		MIME:     mimeType,
		IsBinary: isBinary(mimeType, head),
		Hints:    DetectHints(c.rel),
	}, nil
}

// sourceMIME pins source extensions that system MIME tables map to
// unrelated types (".ts" is MPEG transport stream in /etc/mime.types).
var sourceMIME = map[string]string{
	".ts":     "text/typescript",
	".tsx":    "text/tsx",
	".jsx":    "text/jsx",
	".mjs":    "text/javascript",
	".cjs":    "text/javascript",
	".vue":    "text/x-vue",
	".svelte": "text/x-svelte",
	".go":     "text/x-go",
	".py":     "text/x-python",
	".md":     "text/markdown",
	".yaml":   "application/yaml",
	".yml":    "application/yaml",
}

// detectMIME classifies by extension first, then by content sniffing.
func detectMIME(ext string, head []byte) string {
	if t, ok := sourceMIME[strings.ToLower(ext)]; ok {
		return t
	}
	if ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	if len(head) == 0 {
		return ""
	}
	return http.DetectContentType(head)
}

// isBinary reports a NUL byte in the first block, or a MIME type that is
// neither text nor a known text-based application format.
func isBinary(mimeType string, head []byte) bool {
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	base, _, _ := strings.Cut(mimeType, ";")
	switch {
	case base == "", strings.HasPrefix(base, "text/"):
		return false
	case strings.HasSuffix(base, "json"), strings.HasSuffix(base, "xml"),
		strings.HasSuffix(base, "javascript"), strings.HasSuffix(base, "yaml"),
		strings.HasSuffix(base, "x-sh"), base == "image/svg+xml":
		return false
	}
	return true
}

type filter struct {
	scanner   *Scanner
	root      string
	globs     *ignore.Globs
	exts      map[string]bool
	maxSize   int64
	gitignore bool
}

func (f *filter) excludeDir(rel string) bool {
	if f.globs.Match(rel, true) {
		return true
	}
	return f.gitignore && f.scanner.isIgnored(f.root, rel, true)
}

// admitFile applies every file filter; failing any one excludes the file.
func (f *filter) admitFile(rel string, size int64) bool {
	if f.globs.Match(rel, false) {
		return false
	}
	if f.gitignore && f.scanner.isIgnored(f.root, rel, false) {
		return false
	}
	if size > f.maxSize {
		return false
	}
	if ext := strings.ToLower(filepath.Ext(rel)); ext != "" && len(f.exts) > 0 && !f.exts[ext] {
		return false
	}
	return true
}

// isIgnored consults the root .gitignore and every nested one between
// the root and rel's directory.
func (s *Scanner) isIgnored(absRoot, rel string, isDir bool) bool {
	dirs := []string{""}
	parent := filepath.ToSlash(filepath.Dir(rel))
	if parent != "." {
		parts := strings.Split(parent, "/")
		for i := range parts {
			dirs = append(dirs, strings.Join(parts[:i+1], "/"))
		}
	}
	for _, base := range dirs {
		if rules := s.rulesFor(absRoot, base); rules != nil && rules.Match(rel, isDir) {
			return true
		}
	}
	return false
}

func (s *Scanner) rulesFor(absRoot, base string) *ignore.Rules {
	dir := filepath.Join(absRoot, filepath.FromSlash(base))

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if rules, ok := s.ignoreCache.Get(dir); ok {
		return rules
	}

	var rules *ignore.Rules
	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err == nil {
		rules = ignore.NewRules()
		if err := rules.AddFile(path, base); err != nil {
			slog.Warn("gitignore_unreadable", slog.String("path", path), slog.String("error", err.Error()))
			rules = nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		slog.Debug("gitignore_stat_failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	s.ignoreCache.Add(dir, rules)
	return rules
}

// InvalidateIgnoreCache drops every cached .gitignore. Call it when an
// ignore file changes.
func (s *Scanner) InvalidateIgnoreCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.ignoreCache.Purge()
}
