package embed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ai/forge/internal/config"
	ferrors "github.com/forge-ai/forge/internal/errors"
)

func embeddingConfig(provider, host string) config.EmbeddingConfig {
	cfg := config.NewConfig().Embedding
	cfg.Provider = provider
	cfg.Host = host
	cfg.Dimensions = 8
	cfg.CacheSize = 0
	return cfg
}

func TestNewProvider_Static(t *testing.T) {
	p, err := NewProvider(context.Background(), embeddingConfig("static", ""))

	require.NoError(t, err)
	assert.IsType(t, &StaticProvider{}, p)
	assert.Equal(t, 8, p.Dimensions())
}

func TestNewProvider_OllamaIsNotProbed(t *testing.T) {
	p, err := NewProvider(context.Background(), embeddingConfig("ollama", "http://127.0.0.1:1"))

	require.NoError(t, err)
	assert.IsType(t, &OllamaProvider{}, p)
}

func TestNewProvider_AutoUsesOllamaWhenModelInstalled(t *testing.T) {
	srv, _ := fakeOllama(t, 8, "all-minilm:latest")

	p, err := NewProvider(context.Background(), embeddingConfig("auto", srv.URL))

	require.NoError(t, err)
	assert.IsType(t, &OllamaProvider{}, p)
	assert.Equal(t, "all-minilm", p.ModelName())
}

func TestNewProvider_AutoFallsBackToStatic(t *testing.T) {
	tests := []struct {
		name    string
		handler http.Handler
	}{
		{"model missing", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2:latest"}]}`))
		})},
		{"server error", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			p, err := NewProvider(context.Background(), embeddingConfig("auto", srv.URL))

			require.NoError(t, err)
			assert.Equal(t, StaticModel, p.ModelName())
			assert.Equal(t, 8, p.Dimensions())
		})
	}
}

func TestNewProvider_CacheWrapping(t *testing.T) {
	cfg := embeddingConfig("static", "")
	cfg.CacheSize = 50

	p, err := NewProvider(context.Background(), cfg)

	require.NoError(t, err)
	cached, ok := p.(*CachedProvider)
	require.True(t, ok)
	assert.IsType(t, &StaticProvider{}, cached.Inner())
}

func TestNewProvider_UnknownIsConfigError(t *testing.T) {
	_, err := NewProvider(context.Background(), embeddingConfig("mlx", ""))

	require.Error(t, err)
	assert.Equal(t, ferrors.ClassConfig, ferrors.ClassOf(err))
}

func TestBatcherOptionsFrom(t *testing.T) {
	cfg := config.NewConfig().Embedding
	cfg.BatchSize = 16
	cfg.Workers = 4
	cfg.MaxRetries = 0

	opts := BatcherOptionsFrom(cfg)

	assert.Equal(t, 16, opts.BatchSize)
	assert.Equal(t, 4, opts.Workers)
	assert.Equal(t, 0, opts.Retry.MaxRetries)
	assert.Equal(t, cfg.Timeout, opts.Retry.AttemptTimeout)
	assert.Equal(t, cfg.Dimensions, opts.Dimensions)
}
