package chunk

import (
	"log/slog"
	"sync/atomic"
	"unicode/utf8"
)

// Tokenizer counts tokens in text.
type Tokenizer interface {
	Count(text string) (int, error)
}

// CharEstimator approximates one token per four characters, rounding up.
// It never fails.
type CharEstimator struct{}

// Count implements Tokenizer.
func (CharEstimator) Count(text string) (int, error) {
	return EstimateTokens(text), nil
}

// EstimateTokens is ceil(runes/4).
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// FallbackTokenizer uses Primary and switches to the character estimate
// for any text Primary cannot count.
type FallbackTokenizer struct {
	Primary   Tokenizer
	fallbacks atomic.Int64
}

// WithFallback wraps t so counting never fails.
func WithFallback(t Tokenizer) *FallbackTokenizer {
	return &FallbackTokenizer{Primary: t}
}

// Count implements Tokenizer.
func (f *FallbackTokenizer) Count(text string) (int, error) {
	if f.Primary != nil {
		n, err := f.Primary.Count(text)
		if err == nil {
			return n, nil
		}
		if f.fallbacks.Add(1) == 1 {
			slog.Warn("tokenizer_fallback", slog.String("error", err.Error()))
		}
	}
	return EstimateTokens(text), nil
}

// Fallbacks returns how many counts used the estimate.
func (f *FallbackTokenizer) Fallbacks() int64 {
	return f.fallbacks.Load()
}
