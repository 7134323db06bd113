package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"

	ferrors "github.com/forge-ai/forge/internal/errors"
)

// StaticModel is the model name recorded for hash embeddings.
const StaticModel = "static-hash"

// Feature weights for hash embeddings.
const (
	wordWeight  = 0.7
	gramWeight  = 0.3
	gramLength  = 3
	minWordSize = 2
)

var wordPattern = regexp.MustCompile(`[A-Za-z0-9]+`)

// keywords that carry no signal in code.
var keywords = map[string]bool{
	"function": true, "const": true, "let": true, "var": true,
	"return": true, "import": true, "export": true, "from": true,
	"default": true, "class": true, "def": true, "func": true,
	"true": true, "false": true, "null": true, "undefined": true,
	"this": true, "self": true, "new": true, "nil": true,
}

// StaticProvider hashes identifiers and character trigrams into a fixed
// number of buckets. It needs no network, is deterministic, and keeps
// lexically similar code close in vector space.
type StaticProvider struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a hash provider producing dims-length vectors.
func NewStaticProvider(dims int) *StaticProvider {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &StaticProvider{dims: dims}
}

// EmbedBatch implements Provider. Blank text maps to the zero vector.
func (p *StaticProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ferrors.New(ferrors.ErrCodeProviderFailed, "static provider is closed", nil)
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vector(text)
	}
	return out, nil
}

func (p *StaticProvider) vector(text string) []float32 {
	v := make([]float32, p.dims)
	text = strings.TrimSpace(text)
	if text == "" {
		return v
	}
	for _, w := range words(text) {
		v[bucket(w, p.dims)] += wordWeight
	}
	for _, g := range trigrams(text) {
		v[bucket(g, p.dims)] += gramWeight
	}
	return normalizeVector(v)
}

// words lowercases identifier parts, splitting snake_case and camelCase,
// and drops keywords and single characters.
func words(text string) []string {
	var out []string
	for _, raw := range wordPattern.FindAllString(text, -1) {
		for _, part := range strings.Split(raw, "_") {
			for _, w := range splitCamelCase(part) {
				w = strings.ToLower(w)
				if len(w) < minWordSize || keywords[w] {
					continue
				}
				out = append(out, w)
			}
		}
	}
	return out
}

// splitCamelCase splits "parseHTTPRequest" into parse, HTTP, Request.
func splitCamelCase(s string) []string {
	if s == "" {
		return nil
	}
	var parts []string
	runes := []rune(s)
	start := 0
	for i := 1; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			continue
		}
		prevLower := unicode.IsLower(runes[i-1])
		nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		if prevLower || (nextLower && unicode.IsUpper(runes[i-1])) {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}

// trigrams returns sliding three-rune windows over the lowercased
// letters and digits of text.
func trigrams(text string) []string {
	var compact []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			compact = append(compact, r)
		}
	}
	if len(compact) < gramLength {
		return nil
	}
	grams := make([]string, 0, len(compact)-gramLength+1)
	for i := 0; i+gramLength <= len(compact); i++ {
		grams = append(grams, string(compact[i:i+gramLength]))
	}
	return grams
}

func bucket(s string, size int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// Dimensions implements Provider.
func (p *StaticProvider) Dimensions() int { return p.dims }

// ModelName implements Provider.
func (p *StaticProvider) ModelName() string { return StaticModel }

// Available implements Provider. It is false only after Close.
func (p *StaticProvider) Available(context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

// Close implements Provider.
func (p *StaticProvider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
