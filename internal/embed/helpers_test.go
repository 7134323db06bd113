package embed

import (
	"context"
	"math"
	"strings"
	"sync"
	"sync/atomic"
)

// mockProvider returns a fixed vector per text and counts calls. failFor
// makes any batch containing a text with that prefix fail.
type mockProvider struct {
	dims    int
	model   string
	failFor string
	// wrongDims, when set, is the length of every returned vector.
	wrongDims int

	calls atomic.Int64
	mu    sync.Mutex
	texts []string
}

func newMockProvider(dims int) *mockProvider {
	return &mockProvider{dims: dims, model: "mock-model"}
}

func (m *mockProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.texts = append(m.texts, texts...)
	m.mu.Unlock()

	for _, t := range texts {
		if m.failFor != "" && strings.HasPrefix(t, m.failFor) {
			return nil, errMock
		}
	}
	n := m.dims
	if m.wrongDims > 0 {
		n = m.wrongDims
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, n)
		v[i%n] = 1
		out[i] = v
	}
	return out, nil
}

func (m *mockProvider) Dimensions() int                  { return m.dims }
func (m *mockProvider) ModelName() string                { return m.model }
func (m *mockProvider) Available(_ context.Context) bool { return true }
func (m *mockProvider) Close() error                     { return nil }

func (m *mockProvider) seen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

type mockErr struct{}

func (mockErr) Error() string { return "mock provider failure" }

var errMock error = mockErr{}

// vectorMagnitude computes the Euclidean norm of v.
func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity of two equal-length vectors; 0 for mismatched or zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, ma, mb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		ma += float64(a[i]) * float64(a[i])
		mb += float64(b[i]) * float64(b[i])
	}
	if ma == 0 || mb == 0 {
		return 0
	}
	return dot / (math.Sqrt(ma) * math.Sqrt(mb))
}
