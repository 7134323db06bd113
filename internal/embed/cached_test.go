package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedProvider_ImplementsProvider(t *testing.T) {
	var _ Provider = NewCachedProvider(newMockProvider(4), 10)
}

// ============================================================================
// TS01: Hits skip the inner provider
// ============================================================================

func TestCachedProvider_RepeatedTextServedFromCache(t *testing.T) {
	// Given: a cached provider
	inner := newMockProvider(4)
	c := NewCachedProvider(inner, 10)

	// When: the same text is embedded twice
	first, err := c.EmbedBatch(context.Background(), []string{"alpha"})
	require.NoError(t, err)
	second, err := c.EmbedBatch(context.Background(), []string{"alpha"})
	require.NoError(t, err)

	// Then: the inner provider was called once and the vectors match
	assert.Equal(t, int64(1), inner.calls.Load())
	assert.Equal(t, first, second)
}

func TestCachedProvider_OnlyMissesReachInner(t *testing.T) {
	inner := newMockProvider(4)
	c := NewCachedProvider(inner, 10)

	_, err := c.EmbedBatch(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), []string{"beta", "gamma", "alpha"})
	require.NoError(t, err)

	require.Len(t, vecs, 3)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, inner.seen())
	assert.Equal(t, 3, c.Len())
}

func TestCachedProvider_EvictsLeastRecentlyUsed(t *testing.T) {
	inner := newMockProvider(4)
	c := NewCachedProvider(inner, 2)

	for _, text := range []string{"a", "b", "c"} {
		_, err := c.EmbedBatch(context.Background(), []string{text})
		require.NoError(t, err)
	}
	_, err := c.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)

	assert.Equal(t, int64(4), inner.calls.Load(), "a was evicted and re-embedded")
	assert.Equal(t, 2, c.Len())
}

func TestCachedProvider_WrongLengthNotCached(t *testing.T) {
	inner := newMockProvider(4)
	inner.wrongDims = 3
	c := NewCachedProvider(inner, 10)

	vecs, err := c.EmbedBatch(context.Background(), []string{"x"})

	require.NoError(t, err)
	assert.Len(t, vecs[0], 3)
	assert.Equal(t, 0, c.Len())
}

func TestCachedProvider_ErrorsPropagate(t *testing.T) {
	inner := newMockProvider(4)
	inner.failFor = "bad"
	c := NewCachedProvider(inner, 10)

	_, err := c.EmbedBatch(context.Background(), []string{"ok", "bad text"})

	assert.ErrorIs(t, err, errMock)
	assert.Equal(t, 0, c.Len())
}

func TestCachedProvider_Passthrough(t *testing.T) {
	inner := newMockProvider(7)
	c := NewCachedProvider(inner, 0)

	assert.Equal(t, 7, c.Dimensions())
	assert.Equal(t, "mock-model", c.ModelName())
	assert.True(t, c.Available(context.Background()))
	assert.Same(t, inner, c.Inner())
	assert.NoError(t, c.Close())
}
