package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forge-ai/forge/internal/config"
	"github.com/forge-ai/forge/internal/embed"
	"github.com/forge-ai/forge/internal/manifest"
)

// CheckEmbedding probes the configured embedding provider. Only an
// explicit "ollama" provider fails; "auto" falls back to static hashing.
func (c *Checker) CheckEmbedding(ctx context.Context) CheckResult {
	cfg := c.cfg.Embedding
	result := CheckResult{Name: "embedding_provider"}

	switch strings.ToLower(cfg.Provider) {
	case string(embed.ProviderStatic):
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("static hashing provider (%d dims)", cfg.Dimensions)
		result.Details = "Semantic ranking is weak; keyword or hybrid queries work better"
		return result
	case string(embed.ProviderOllama):
		result.Required = true
	case string(embed.ProviderAuto), "":
	default:
		result.Required = true
		result.Status = StatusFail
		result.Message = fmt.Sprintf("unknown provider %q", cfg.Provider)
		return result
	}

	p := embed.NewOllamaProvider(embed.OllamaConfig{Host: cfg.Host, Model: cfg.Model, Dimensions: cfg.Dimensions})
	defer func() { _ = p.Close() }()

	if p.Available(ctx) {
		result.Status = StatusPass
		result.Message = fmt.Sprintf("ollama %s at %s", cfg.Model, p.Host())
		return result
	}

	result.Message = fmt.Sprintf("ollama model %s not available at %s", cfg.Model, p.Host())
	result.Details = fmt.Sprintf("Start Ollama and run 'ollama pull %s'", cfg.Model)
	if result.Required {
		result.Status = StatusFail
		return result
	}
	result.Status = StatusWarn
	result.Message += "; falling back to static embeddings"
	return result
}

// CheckSummarizer probes the optional summarizer.
func (c *Checker) CheckSummarizer(ctx context.Context) CheckResult {
	cfg := c.cfg.Summarizer
	result := CheckResult{Name: "summarizer"}

	if cfg.Provider == "none" {
		result.Status = StatusPass
		result.Message = "disabled, files get rule-based summaries"
		return result
	}

	s := manifest.NewOllamaSummarizer(cfg.Host, cfg.Model, cfg.Timeout)
	if s.Available(ctx) {
		result.Status = StatusPass
		result.Message = fmt.Sprintf("ollama %s", cfg.Model)
		return result
	}
	result.Status = StatusWarn
	result.Message = "ollama not reachable, files get rule-based summaries"
	return result
}

// CheckIndex reports whether a scan has persisted an index.
func (c *Checker) CheckIndex(root string) CheckResult {
	result := CheckResult{Name: "index"}

	dir := config.ResolvePath(root, c.cfg.VectorStore.PersistDirectory)
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		result.Status = StatusWarn
		result.Message = "no index yet"
		result.Details = "Run 'forge scan' to build it"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s backend in %s", c.cfg.VectorStore.Backend, filepath.Clean(dir))
	return result
}
