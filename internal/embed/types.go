// Package embed turns chunk text into vectors. Providers do the model
// work; the Batcher splits chunks into fixed-size batches and runs them
// through a provider with bounded retries.
package embed

import (
	"context"
	"math"
	"time"
)

// Embedding defaults.
const (
	// DefaultDimensions matches all-minilm.
	DefaultDimensions = 384

	// DefaultBatchSize is the number of chunks per provider call.
	DefaultBatchSize = 100

	// DefaultWorkers is the number of batches in flight.
	DefaultWorkers = 2

	// DefaultTimeout bounds one provider attempt.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3
)

// Provider generates vectors for text.
type Provider interface {
	// EmbedBatch returns one vector per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the configured vector length.
	Dimensions() int

	// ModelName returns the model identifier recorded with each vector.
	ModelName() string

	// Available reports whether the provider can serve requests.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Embedding is the vector for one chunk.
type Embedding struct {
	ChunkID string    `json:"chunk_id"`
	Vector  []float32 `json:"vector"`
	Model   string    `json:"model"`
}

// BatchFailure records a batch that was skipped after its retries ran out.
type BatchFailure struct {
	Batch    int      `json:"batch"`
	ChunkIDs []string `json:"chunk_ids"`
	Err      error    `json:"-"`
}

// Result is the outcome of Batcher.Embed. Embeddings are in input order
// with the chunks of skipped batches left out.
type Result struct {
	Embeddings []Embedding
	Failures   []BatchFailure
	Batches    int
}

// Skipped returns the number of chunks left without a vector.
func (r *Result) Skipped() int {
	n := 0
	for _, f := range r.Failures {
		n += len(f.ChunkIDs)
	}
	return n
}

// EmbedText embeds a single string, used for query text.
func EmbedText(ctx context.Context, p Provider, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return make([]float32, p.Dimensions()), nil
	}
	return vecs[0], nil
}

// normalizeVector scales v to unit length. Zero vectors are returned as is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
