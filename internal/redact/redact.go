// Package redact scrubs credential-shaped text from chunks before they
// are persisted or sent to an embedding provider.
package redact

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/forge-ai/forge/internal/chunk"
	ferrors "github.com/forge-ai/forge/internal/errors"
)

// DefaultPlaceholder replaces every match.
const DefaultPlaceholder = "[REDACTED]"

// maxPasses bounds the fixpoint loop in RedactText.
const maxPasses = 4

// Redactor replaces matches of its patterns with a placeholder.
type Redactor struct {
	patterns    []*regexp.Regexp
	placeholder string
}

// New compiles patterns. An invalid pattern is a configuration error.
func New(patterns []string, placeholder string) (*Redactor, error) {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	r := &Redactor{placeholder: placeholder}
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, ferrors.ConfigError(fmt.Sprintf("invalid security.redact_patterns entry %q", p), err)
		}
		if re.MatchString(placeholder) {
			return nil, ferrors.ConfigError(
				fmt.Sprintf("redact pattern %q matches the placeholder %q", p, placeholder), nil)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

// Len returns the number of active patterns.
func (r *Redactor) Len() int { return len(r.patterns) }

// RedactText applies every pattern until the text stops changing and
// reports whether anything was replaced.
func (r *Redactor) RedactText(text string) (string, bool) {
	changed := false
	for pass := 0; pass < maxPasses; pass++ {
		before := text
		for _, re := range r.patterns {
			text = re.ReplaceAllLiteralString(text, r.placeholder)
		}
		if text == before {
			break
		}
		changed = true
	}
	return text, changed
}

// Redact returns a copy of c with secrets replaced. Metadata gains
// redacted=true when anything changed. Provenance is copied as is.
func (r *Redactor) Redact(c chunk.Chunk) chunk.Chunk {
	out := c.Clone()
	text, changed := r.RedactText(c.Text)
	if !changed {
		return out
	}
	out.Text = text
	out.Metadata[chunk.MetaRedacted] = "true"
	return out
}

// RedactAll redacts chunks in place order and returns how many changed.
func (r *Redactor) RedactAll(chunks []chunk.Chunk) ([]chunk.Chunk, int) {
	out := make([]chunk.Chunk, len(chunks))
	n := 0
	for i, c := range chunks {
		out[i] = r.Redact(c)
		if out[i].Metadata[chunk.MetaRedacted] == "true" && c.Metadata[chunk.MetaRedacted] != "true" {
			n++
		}
	}
	return out, n
}

var sensitiveMarkers = []string{".env", "secret", "credentials", "config.json", "auth", "private", ".pem", ".key"}

// IsSensitivePath reports paths that commonly hold credentials.
func IsSensitivePath(path string) bool {
	lower := strings.ToLower(filepath.ToSlash(path))
	for _, m := range sensitiveMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
