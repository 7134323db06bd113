package ignore

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Globs is a compiled exclude-glob list.
type Globs struct {
	globs []glob
}

type glob struct {
	pattern string
	re      *regexp.Regexp
	// dir matches the directory named by a "dir/**" pattern so the walk
	// can prune it instead of visiting every file below.
	dir      *regexp.Regexp
	anchored bool
}

// CompileGlobs compiles patterns. An invalid pattern is an error.
func CompileGlobs(patterns []string) (*Globs, error) {
	g := &Globs{}
	for _, p := range patterns {
		p = strings.TrimSpace(filepath.ToSlash(p))
		if p == "" {
			continue
		}
		gl := glob{pattern: p}
		if strings.HasPrefix(p, "/") {
			gl.anchored = true
			p = strings.TrimPrefix(p, "/")
		}

		re, err := regexp.Compile("^" + globToRegex(p) + "$")
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", gl.pattern, err)
		}
		gl.re = re

		if prefix, ok := strings.CutSuffix(p, "/**"); ok && prefix != "" {
			dre, err := regexp.Compile("^" + globToRegex(prefix) + "$")
			if err != nil {
				return nil, fmt.Errorf("invalid exclude pattern %q: %w", gl.pattern, err)
			}
			gl.dir = dre
		}
		g.globs = append(g.globs, gl)
	}
	return g, nil
}

// Len returns the number of compiled globs.
func (g *Globs) Len() int {
	if g == nil {
		return 0
	}
	return len(g.globs)
}

// Match reports whether rel (relative to the project root) is excluded.
func (g *Globs) Match(rel string, isDir bool) bool {
	if g == nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for i := range g.globs {
		if g.globs[i].match(rel, isDir) {
			return true
		}
	}
	return false
}

func (gl *glob) match(rel string, isDir bool) bool {
	for _, suffix := range suffixes(rel, gl.anchored) {
		if gl.re.MatchString(suffix) {
			return true
		}
		if isDir && gl.dir != nil && gl.dir.MatchString(suffix) {
			return true
		}
	}
	return false
}

// suffixes returns rel and, unless anchored, every tail of rel that
// starts at a path segment: "a/b/c" -> "a/b/c", "b/c", "c".
func suffixes(rel string, anchored bool) []string {
	out := []string{rel}
	if anchored {
		return out
	}
	for i := 0; i < len(rel); i++ {
		if rel[i] == '/' && i+1 < len(rel) {
			out = append(out, rel[i+1:])
		}
	}
	return out
}
