package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/forge-ai/forge/internal/config"
	ferrors "github.com/forge-ai/forge/internal/errors"
)

// Summarizer defaults.
const (
	DefaultSummaryModel   = "llama3.2"
	DefaultSummaryHost    = "http://localhost:11434"
	DefaultSummaryTimeout = 30 * time.Second

	availabilityTimeout = 2 * time.Second
)

const summaryPrompt = `You are a code analyst. Summarize this file in one concise sentence (max 100 chars).

%s

Output ONLY the sentence, no preamble.

Summary:`

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaSummarizer asks a local Ollama model for file summaries.
type OllamaSummarizer struct {
	client *http.Client
	host   string
	model  string
}

// NewOllamaSummarizer creates a summarizer. It does not contact the server.
func NewOllamaSummarizer(host, model string, timeout time.Duration) *OllamaSummarizer {
	if host == "" {
		host = DefaultSummaryHost
	}
	if model == "" {
		model = DefaultSummaryModel
	}
	if timeout <= 0 {
		timeout = DefaultSummaryTimeout
	}
	return &OllamaSummarizer{
		client: &http.Client{Timeout: timeout},
		host:   strings.TrimRight(host, "/"),
		model:  model,
	}
}

// Summarize implements Summarizer with one /api/generate call.
func (o *OllamaSummarizer) Summarize(ctx context.Context, excerpt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  o.model,
		Prompt: fmt.Sprintf(summaryPrompt, excerpt),
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", ferrors.New(ferrors.ErrCodeProviderFailed, "summarizer request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", ferrors.New(ferrors.ErrCodeProviderFailed,
			fmt.Sprintf("summarizer returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	out := strings.TrimSpace(gen.Response)
	out = strings.TrimSpace(strings.TrimPrefix(out, "Summary:"))
	return out, nil
}

// Available reports whether the Ollama server answers.
func (o *OllamaSummarizer) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Model returns the model name.
func (o *OllamaSummarizer) Model() string { return o.model }

// NewSummarizer builds the summarizer named by cfg. It returns nil for
// "none" and for "auto" when Ollama does not answer, in which case every
// file gets the fallback summary.
func NewSummarizer(ctx context.Context, cfg config.SummarizerConfig) (Summarizer, error) {
	switch cfg.Provider {
	case "none":
		return nil, nil
	case "ollama":
		return NewOllamaSummarizer(cfg.Host, cfg.Model, cfg.Timeout), nil
	case "auto", "":
		s := NewOllamaSummarizer(cfg.Host, cfg.Model, cfg.Timeout)
		if !s.Available(ctx) {
			slog.Info("summarizer_unavailable", slog.String("host", s.host))
			return nil, nil
		}
		return s, nil
	default:
		return nil, ferrors.ConfigError(fmt.Sprintf("unknown summarizer provider %q", cfg.Provider), nil).
			WithSuggestion("use 'auto', 'ollama' or 'none'")
	}
}
