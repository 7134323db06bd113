package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ai/forge/internal/config"
	ferrors "github.com/forge-ai/forge/internal/errors"
	"github.com/forge-ai/forge/internal/parse"
)

type fakeSummarizer struct {
	calls atomic.Int32
	fail  bool
}

func (f *fakeSummarizer) Summarize(_ context.Context, excerpt string) (string, error) {
	f.calls.Add(1)
	if f.fail {
		return "", errors.New("model offline")
	}
	first := strings.SplitN(excerpt, "\n", 2)[0]
	return "  LLM: " + first + "  ", nil
}

func sampleResults() []*parse.Result {
	a := withCalls(withComponents(result("src/pages/index.jsx", "nextjs"), "Home"), "/api/home")
	a.Exports = []string{"default"}
	b := withComponents(result("src/pages/about.jsx", "nextjs"), "About")
	c := result("src/lib/util.js", "")
	return []*parse.Result{a, b, c}
}

// =============================================================================
// TS04: Fallback summaries
// =============================================================================

func TestFallbackSummary(t *testing.T) {
	r := withCalls(withComponents(result("a.jsx", "react"), "A", "B"), "/x")
	r.Exports = []string{"A"}
	assert.Equal(t, "Contains 2 component(s) | makes 1 API call(s) | exports 1 item(s) | using react", FallbackSummary(r))
	assert.Equal(t, "Code file", FallbackSummary(result("empty.js", "")))
}

func TestExcerpt(t *testing.T) {
	r := withCalls(withComponents(result("src/App.jsx", "react"), "App"), "/api/a", "/api/b", "/api/c")
	r.Imports = []parse.Import{{Module: "react", Line: 1}}

	got := Excerpt(r)
	assert.Contains(t, got, "File: App.jsx")
	assert.Contains(t, got, "Components: App")
	assert.Contains(t, got, "Exports: none")
	assert.Contains(t, got, "Imports: react")
	assert.Contains(t, got, "API Calls: /api/a, /api/b")
	assert.NotContains(t, got, "/api/c")
}

func TestSummarize_WithoutSummarizer(t *testing.T) {
	// When: no summarizer is configured
	s := Summarize(context.Background(), sampleResults(), SummaryOptions{ProjectRoot: "/proj"})

	// Then: every file gets the fallback, in path order
	require.Len(t, s.Files, 3)
	assert.Equal(t, "src/lib/util.js", s.Files[0].FilePath)
	assert.Equal(t, "Code file", s.Files[0].Purpose)
	assert.Equal(t, "src/pages/about.jsx", s.Files[1].FilePath)
	for _, f := range s.Files {
		assert.Equal(t, "fallback", f.Source)
	}
	assert.Equal(t, []string{"fetch('/api/home')"}, s.Files[2].APIDependencies)
	assert.Equal(t, []string{"default"}, s.Files[2].KeyExports)

	// And: folders group files with their majority framework
	require.Len(t, s.Folders, 2)
	assert.Equal(t, FolderSummary{
		FolderPath: "src/lib", Purpose: "Contains 1 file(s)", FileCount: 1, KeyFiles: []string{"util.js"},
	}, s.Folders[0])
	assert.Equal(t, "Contains 2 file(s) | Framework: nextjs", s.Folders[1].Purpose)
	assert.Equal(t, []string{"about.jsx", "index.jsx"}, s.Folders[1].KeyFiles)

	// And: the project summary reflects the whole tree
	assert.Equal(t, "/proj", s.Project.ProjectRoot)
	assert.Equal(t, "nextjs", s.Project.Framework)
	assert.Equal(t, ArchNextJS, s.Project.Architecture)
	assert.Equal(t, []string{"/api/home"}, s.Project.APIEndpointsUsed)
	assert.Equal(t, []string{"/api/home"}, s.Project.SuggestedBackendEndpoints)
	assert.Len(t, s.Project.KeyComponents, 3)
}

func TestSummarize_SummarizerBudget(t *testing.T) {
	fake := &fakeSummarizer{}

	s := Summarize(context.Background(), sampleResults(), SummaryOptions{Summarizer: fake, MaxLLMFiles: 2})

	assert.Equal(t, int32(2), fake.calls.Load())
	assert.Equal(t, "LLM: File: util.js", s.Files[0].Purpose)
	assert.Equal(t, "llm", s.Files[0].Source)
	assert.Equal(t, "llm", s.Files[1].Source)
	assert.Equal(t, "fallback", s.Files[2].Source)
}

func TestSummarize_SummarizerFailureFallsBack(t *testing.T) {
	fake := &fakeSummarizer{fail: true}

	s := Summarize(context.Background(), sampleResults(), SummaryOptions{Summarizer: fake, MaxLLMFiles: 10})

	assert.Equal(t, int32(3), fake.calls.Load())
	for _, f := range s.Files {
		assert.Equal(t, "fallback", f.Source)
		assert.Equal(t, FallbackSummary(findResult(t, f.FilePath)), f.Purpose)
	}
}

func TestSummarize_CancelledSkipsSummarizer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &fakeSummarizer{}

	s := Summarize(ctx, sampleResults(), SummaryOptions{Summarizer: fake, MaxLLMFiles: 10})

	assert.Zero(t, fake.calls.Load())
	assert.Len(t, s.Files, 3)
}

func findResult(t *testing.T, path string) *parse.Result {
	t.Helper()
	for _, r := range sampleResults() {
		if r.Path == path {
			return r
		}
	}
	t.Fatalf("no result for %s", path)
	return nil
}

// =============================================================================
// TS05: Ollama summarizer
// =============================================================================

func fakeOllama(t *testing.T, reply string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/api/generate":
			var req generateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stream {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			if status != http.StatusOK {
				http.Error(w, "model not found", status)
				return
			}
			_ = json.NewEncoder(w).Encode(generateResponse{Response: reply, Done: true})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaSummarizer_Summarize(t *testing.T) {
	srv := fakeOllama(t, "Summary: Renders the home page.\n", http.StatusOK)
	s := NewOllamaSummarizer(srv.URL+"/", "tiny", time.Second)

	got, err := s.Summarize(context.Background(), "File: index.jsx")
	require.NoError(t, err)
	assert.Equal(t, "Renders the home page.", got)
	assert.Equal(t, "tiny", s.Model())
	assert.True(t, s.Available(context.Background()))
}

func TestOllamaSummarizer_ErrorStatus(t *testing.T) {
	srv := fakeOllama(t, "", http.StatusNotFound)
	s := NewOllamaSummarizer(srv.URL, "", 0)

	_, err := s.Summarize(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeProviderFailed, ferrors.GetCode(err))
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, DefaultSummaryModel, s.Model())
}

func TestNewSummarizer(t *testing.T) {
	srv := fakeOllama(t, "ok", http.StatusOK)
	ctx := context.Background()

	s, err := NewSummarizer(ctx, config.SummarizerConfig{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = NewSummarizer(ctx, config.SummarizerConfig{Provider: "auto", Host: srv.URL})
	require.NoError(t, err)
	assert.NotNil(t, s)

	// auto with nothing listening degrades to no summarizer
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	s, err = NewSummarizer(ctx, config.SummarizerConfig{Provider: "auto", Host: dead.URL})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = NewSummarizer(ctx, config.SummarizerConfig{Provider: "ollama", Host: dead.URL})
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = NewSummarizer(ctx, config.SummarizerConfig{Provider: "gpt"})
	require.Error(t, err)
	assert.Equal(t, ferrors.ClassConfig, ferrors.ClassOf(err))
}
