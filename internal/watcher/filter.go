package watcher

import (
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/forge-ai/forge/internal/ignore"
)

// alwaysSkipped directories are never watched.
var alwaysSkipped = []string{".git", ".forge"}

// pathFilter applies the scanner's ignore rules to watch events.
type pathFilter struct {
	root     string
	globs    *ignore.Globs
	skipDirs []string

	mu    sync.RWMutex
	rules *ignore.Rules
}

func newPathFilter(root string, opts Options) (*pathFilter, error) {
	globs, err := ignore.CompileGlobs(opts.Exclude)
	if err != nil {
		return nil, err
	}
	skip := append([]string(nil), alwaysSkipped...)
	for _, d := range opts.SkipDirs {
		skip = append(skip, strings.Trim(filepath.ToSlash(d), "/"))
	}
	f := &pathFilter{root: root, globs: globs, skipDirs: skip}
	f.reload()
	return f, nil
}

// reload re-reads every .gitignore below the root.
func (f *pathFilter) reload() {
	rules := ignore.NewRules()
	_ = filepath.WalkDir(f.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel := f.rel(p)
		if d.IsDir() {
			if rel != "" && f.skipped(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != ".gitignore" {
			return nil
		}
		base := path.Dir(rel)
		if base == "." {
			base = ""
		}
		if err := rules.AddFile(p, base); err != nil && !os.IsNotExist(err) {
			slog.Warn("watch_gitignore_unreadable", slog.String("path", p), slog.String("error", err.Error()))
		}
		return nil
	})

	f.mu.Lock()
	f.rules = rules
	f.mu.Unlock()
}

func (f *pathFilter) rel(abs string) string {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

func (f *pathFilter) skipped(rel string) bool {
	for _, d := range f.skipDirs {
		if rel == d || strings.HasPrefix(rel, d+"/") {
			return true
		}
	}
	return false
}

// ignored reports whether rel should produce no events.
func (f *pathFilter) ignored(rel string, isDir bool) bool {
	if rel == "" || f.skipped(rel) {
		return true
	}
	if f.globs.Match(rel, isDir) {
		return true
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.rules.Match(rel, isDir)
}
