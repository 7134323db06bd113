package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/forge-ai/forge/internal/config"
	ferrors "github.com/forge-ai/forge/internal/errors"
)

// ProviderType names an embedding provider in configuration.
type ProviderType string

const (
	// ProviderAuto uses Ollama when it is reachable with the model
	// installed, otherwise static.
	ProviderAuto ProviderType = "auto"
	// ProviderOllama always uses Ollama. Unreachable servers show up as
	// failed batches.
	ProviderOllama ProviderType = "ollama"
	// ProviderStatic uses hash embeddings.
	ProviderStatic ProviderType = "static"
)

// probeTimeout bounds the availability check made for ProviderAuto.
const probeTimeout = 3 * time.Second

// NewProvider builds the provider selected by cfg, wrapped in a cache when
// cfg.CacheSize is positive.
func NewProvider(ctx context.Context, cfg config.EmbeddingConfig) (Provider, error) {
	var p Provider

	switch ProviderType(strings.ToLower(cfg.Provider)) {
	case ProviderStatic:
		p = NewStaticProvider(cfg.Dimensions)

	case ProviderOllama:
		p = newOllama(cfg)

	case ProviderAuto, "":
		o := newOllama(cfg)
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		ok := o.Available(probeCtx)
		cancel()
		if ok {
			p = o
			break
		}
		_ = o.Close()
		slog.Warn("embed_provider_fallback",
			slog.String("host", o.Host()),
			slog.String("model", cfg.Model),
			slog.String("using", StaticModel))
		p = NewStaticProvider(cfg.Dimensions)

	default:
		return nil, ferrors.ConfigError(
			fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil).
			WithSuggestion("use 'auto', 'ollama' or 'static'")
	}

	slog.Info("embed_provider_selected",
		slog.String("provider", cfg.Provider),
		slog.String("model", p.ModelName()),
		slog.Int("dimensions", p.Dimensions()))

	if cfg.CacheSize > 0 {
		p = NewCachedProvider(p, cfg.CacheSize)
	}
	return p, nil
}

func newOllama(cfg config.EmbeddingConfig) *OllamaProvider {
	return NewOllamaProvider(OllamaConfig{
		Host:       cfg.Host,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
	})
}

// BatcherOptionsFrom maps the embedding config onto batcher options.
func BatcherOptionsFrom(cfg config.EmbeddingConfig) BatcherOptions {
	opts := DefaultBatcherOptions(cfg.Dimensions)
	if cfg.BatchSize > 0 {
		opts.BatchSize = cfg.BatchSize
	}
	if cfg.Workers > 0 {
		opts.Workers = cfg.Workers
	}
	if cfg.Timeout > 0 {
		opts.Retry.AttemptTimeout = cfg.Timeout
	}
	if cfg.MaxRetries >= 0 {
		opts.Retry.MaxRetries = cfg.MaxRetries
	}
	return opts
}
