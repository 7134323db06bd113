package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/forge-ai/forge/internal/errors"
)

func keywordEntry(id, file, text string, md map[string]string) Entry {
	e := entry(id, file, []float32{1}, md)
	e.Text = text
	return e
}

func keywordIDs(hits []KeywordHit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}

// =============================================================================
// TS07: Code tokenizer
// =============================================================================

func TestTokenizeCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"camelCase", "getUserById", []string{"get", "user", "by", "id"}},
		{"acronym", "parseHTTPRequest", []string{"parse", "http", "request"}},
		{"snake_case", "max_file_size", []string{"max", "file", "size"}},
		{"punctuation", "fetch('/api/users')", []string{"fetch", "api", "users"}},
		{"short dropped", "a + b_c", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TokenizeCode(tt.in))
		})
	}
}

func TestTokenizeCode_Offsets(t *testing.T) {
	text := "const userName = load_userData()"
	for _, tok := range tokenizeCode(text) {
		// Each token's span holds the token text, ignoring case.
		assert.Equal(t, tok.term, lower(text[tok.start:tok.end]))
	}
}

func lower(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'A' && c <= 'Z' {
			out[i] = c + 32
		}
	}
	return string(out)
}

func TestSplitCamelCase(t *testing.T) {
	assert.Equal(t, []string{"HTTP", "Handler"}, SplitCamelCase("HTTPHandler"))
	assert.Equal(t, []string{"get", "User"}, SplitCamelCase("getUser"))
	assert.Equal(t, []string{}, SplitCamelCase(""))
}

// =============================================================================
// TS08: Keyword index
// =============================================================================

func TestKeywordIndex_Search(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenKeywordIndex("")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	// Given: three chunks with distinct identifiers
	require.NoError(t, idx.Index(ctx, []Entry{
		keywordEntry("login", "src/Login.tsx", "function LoginForm() { return submitCredentials(user) }",
			map[string]string{"framework": "react"}),
		keywordEntry("cart", "src/cart.ts", "export function addToCart(item) { fetch('/api/cart') }",
			map[string]string{"framework": "react"}),
		keywordEntry("views", "app/views.py", "def submit_credentials(request): pass",
			map[string]string{"framework": "django"}),
	}))
	assert.Equal(t, 3, idx.Count())

	// When: searching for a split identifier
	hits, err := idx.Search(ctx, "submitCredentials", 10, nil)
	require.NoError(t, err)

	// Then: both spellings match and nothing else does
	assert.ElementsMatch(t, []string{"login", "views"}, keywordIDs(hits))
	for _, h := range hits {
		assert.Greater(t, h.Score, 0.0)
		assert.Contains(t, h.MatchedTerms, "credentials")
	}

	// And: metadata filters narrow the result set
	hits, err = idx.Search(ctx, "submitCredentials", 10, Filters{"framework": "django"})
	require.NoError(t, err)
	require.Equal(t, []string{"views"}, keywordIDs(hits))
	assert.Equal(t, "app/views.py", hits[0].File)
	assert.Equal(t, "def submit_credentials(request): pass", hits[0].Text)
	assert.Equal(t, "app/views.py", hits[0].Provenance.File)
}

func TestKeywordIndex_EmptyQuery(t *testing.T) {
	idx, err := OpenKeywordIndex("")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	hits, err := idx.Search(context.Background(), "   ", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestKeywordIndex_DeleteByFile(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenKeywordIndex("")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Index(ctx, []Entry{
		keywordEntry("a:0", "src/a.ts", "renderHeader", nil),
		keywordEntry("a:1", "src/a.ts", "renderFooter", nil),
		keywordEntry("b:0", "src/b.ts", "renderSidebar", nil),
	}))

	n, err := idx.DeleteByFile(ctx, "src/a.ts")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, idx.Count())

	hits, err := idx.Search(ctx, "render", 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b:0"}, keywordIDs(hits))
}

func TestKeywordIndex_PersistsOnDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), KeywordDirName)

	idx, err := OpenKeywordIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Index(ctx, []Entry{keywordEntry("a", "a.ts", "useAuthToken", nil)}))
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	reopened, err := OpenKeywordIndex(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	assert.Equal(t, path, reopened.Path())

	hits, err := reopened.Search(ctx, "auth token", 5, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keywordIDs(hits))
}

func TestKeywordIndex_CorruptIndexIsCleared(t *testing.T) {
	path := filepath.Join(t.TempDir(), KeywordDirName)
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "index_meta.json"), []byte("{broken"), 0o644))

	idx, err := OpenKeywordIndex(path)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	assert.Equal(t, 0, idx.Count())
}

func TestKeywordIndex_Replace(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenKeywordIndex("")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Index(ctx, []Entry{
		keywordEntry("a:0", "src/a.ts", "renderHeader", nil),
		keywordEntry("a:1", "src/a.ts", "renderFooter", nil),
		keywordEntry("b:0", "src/b.ts", "renderSidebar", nil),
	}))

	n, err := idx.Replace(ctx, []string{"src/a.ts", "gone.ts"}, []Entry{
		keywordEntry("a:2", "src/a.ts", "renderMenu", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, idx.Count())

	hits, err := idx.Search(ctx, "render", 10, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a:2", "b:0"}, keywordIDs(hits))
}

func TestKeywordIndex_OpenWhileHeldTimesOut(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), KeywordDirName)

	prev := KeywordOpenTimeout
	KeywordOpenTimeout = 200 * time.Millisecond
	t.Cleanup(func() { KeywordOpenTimeout = prev })

	// Given: an index held open with one entry
	held, err := OpenKeywordIndex(path)
	require.NoError(t, err)
	defer func() { _ = held.Close() }()
	require.NoError(t, held.Index(ctx, []Entry{keywordEntry("a", "a.ts", "useCart", nil)}))

	// When: a second handle opens the same path
	done := make(chan error, 1)
	go func() {
		second, err := OpenKeywordIndex(path)
		if err == nil {
			_ = second.Close()
		}
		done <- err
	}()

	// Then: it gives up with a lock error and the held index is intact
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, ferrors.ErrCodeLocked, ferrors.GetCode(err))
	case <-time.After(5 * time.Second):
		t.Fatal("second open is still blocked")
	}
	assert.Equal(t, 1, held.Count())
}
