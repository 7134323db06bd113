package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Rules holds compiled .gitignore patterns. Safe for concurrent use.
type Rules struct {
	mu    sync.RWMutex
	rules []rule
}

type rule struct {
	re       *regexp.Regexp
	negate   bool
	dirOnly  bool
	anchored bool
	// base scopes the rule to a subdirectory (nested ignore files).
	base string
}

// NewRules creates an empty rule set.
func NewRules() *Rules {
	return &Rules{}
}

// Len returns the number of compiled rules.
func (r *Rules) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Add compiles one ignore-file line. Blank lines and comments are skipped.
// base is the slash-separated directory the line's file lives in, "" for root.
func (r *Rules) Add(line, base string) {
	escapedSpace := strings.HasSuffix(line, `\ `)
	p := strings.TrimSpace(line)
	if p == "" || strings.HasPrefix(p, "#") {
		return
	}

	ru := rule{base: filepath.ToSlash(base)}

	switch {
	case strings.HasPrefix(p, `\#`), strings.HasPrefix(p, `\!`):
		p = p[1:]
	case strings.HasPrefix(p, "!"):
		ru.negate = true
		p = p[1:]
	}
	if escapedSpace && strings.HasSuffix(p, `\`) {
		p = strings.TrimSuffix(p, `\`) + " "
	}
	if strings.HasSuffix(p, "/") {
		ru.dirOnly = true
		p = strings.TrimSuffix(p, "/")
	}
	if strings.HasPrefix(p, "/") {
		ru.anchored = true
		p = strings.TrimPrefix(p, "/")
	}
	// "doc/frotz" is relative to the ignore file, same as "/doc/frotz".
	if strings.Contains(p, "/") && !strings.HasPrefix(p, "**/") {
		ru.anchored = true
	}
	if p == "" {
		return
	}

	re, err := regexp.Compile("^" + globToRegex(p) + "$")
	if err != nil {
		// git silently ignores malformed lines too
		return
	}
	ru.re = re

	r.mu.Lock()
	r.rules = append(r.rules, ru)
	r.mu.Unlock()
}

// AddFile reads an ignore file whose rules apply under base.
func (r *Rules) AddFile(path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open ignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		r.Add(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read ignore file: %w", err)
	}
	return nil
}

// Match reports whether the slash- or OS-separated relative path is
// ignored. The last matching rule wins, so negations re-include.
func (r *Rules) Match(path string, isDir bool) bool {
	path = filepath.ToSlash(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	ignored := false
	for i := range r.rules {
		if r.rules[i].match(path, isDir) {
			ignored = !r.rules[i].negate
		}
	}
	return ignored
}

func (ru *rule) match(path string, isDir bool) bool {
	if ru.base != "" {
		if !strings.HasPrefix(path, ru.base+"/") {
			return false
		}
		path = strings.TrimPrefix(path, ru.base+"/")
	}

	parts := strings.Split(path, "/")

	if ru.anchored {
		if ru.re.MatchString(path) {
			return !ru.dirOnly || isDir
		}
		// A matched ancestor directory ignores everything below it.
		for i := 1; i < len(parts); i++ {
			if ru.re.MatchString(strings.Join(parts[:i], "/")) {
				return true
			}
		}
		return false
	}

	for i, part := range parts {
		if !ru.re.MatchString(part) {
			continue
		}
		last := i == len(parts)-1
		if last && ru.dirOnly {
			return isDir
		}
		return true
	}
	// "**/x" style patterns match against the whole path.
	return ru.re.MatchString(path)
}

// globToRegex translates glob syntax to a regex body. "**/" spans zero
// or more directories, a bare "**" spans anything, "*" and "?" stay
// within one path segment.
func globToRegex(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		c := pattern[i]
		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					b.WriteString("(?:.*/)?")
					i += 3
					continue
				}
				b.WriteString(".*")
				i += 2
				continue
			}
			b.WriteString("[^/]*")
			i++
		case '?':
			b.WriteString("[^/]")
			i++
		case '[':
			j := strings.IndexByte(pattern[i+1:], ']')
			if j <= 0 {
				b.WriteString(`\[`)
				i++
				continue
			}
			class := pattern[i+1 : i+1+j]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += j + 2
		case '\\':
			if i+1 < len(pattern) {
				b.WriteString(regexp.QuoteMeta(pattern[i+1 : i+2]))
				i += 2
				continue
			}
			b.WriteString(`\\`)
			i++
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
			i++
		}
	}
	return b.String()
}
