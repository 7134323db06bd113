package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forge-ai/forge/internal/chunk"
	"github.com/forge-ai/forge/internal/embed"
	ferrors "github.com/forge-ai/forge/internal/errors"
	"github.com/forge-ai/forge/internal/output"
	"github.com/forge-ai/forge/internal/search"
	"github.com/forge-ai/forge/internal/store"
)

// queryOptions holds CLI flags for query.
type queryOptions struct {
	path    string
	k       int
	filters []string
	keyword bool
	mode    string
	format  string
}

func newQueryCmd(root *rootOptions) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Query the project index",
		Long: `Query the index built by 'forge scan'.

The query text is embedded with the configured provider and ranked
against the stored chunks. --keyword ranks with the full-text index
instead, and --mode hybrid fuses both rankings.

Filters match chunk metadata exactly, for example framework=react or
file_path=src/App.jsx.`,
		Example: `  forge query "user login form"
  forge query "fetch orders" -k 10 --filter framework=react
  forge query addToCart --keyword
  forge query "cart total" --mode hybrid --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return runQuery(cmd.Context(), cmd, root, text, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.path, "path", "p", ".", "Project root")
	cmd.Flags().IntVarP(&opts.k, "k", "k", search.DefaultK, "Number of results")
	cmd.Flags().StringArrayVar(&opts.filters, "filter", nil, "Metadata filter key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.keyword, "keyword", false, "Rank with the keyword index only")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Ranking: vector (default), keyword or hybrid")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.MarkFlagsMutuallyExclusive("keyword", "mode")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, root *rootOptions, text string, opts queryOptions) error {
	filters, err := parseFilters(opts.filters)
	if err != nil {
		return err
	}
	mode, err := search.ParseMode(opts.mode)
	if err != nil {
		return err
	}
	if opts.keyword {
		mode = search.ModeKeyword
	}
	if opts.format != "text" && opts.format != "json" {
		return ferrors.New(ferrors.ErrCodeInvalidInput, fmt.Sprintf("unknown format %q", opts.format), nil).
			WithSuggestion("use 'text' or 'json'")
	}

	p, err := root.loadProject(opts.path)
	if err != nil {
		return err
	}

	slog.Info("query_started", slog.String("mode", string(mode)), slog.Int("k", opts.k))

	var provider embed.Provider
	if mode != search.ModeKeyword {
		provider, err = embed.NewProvider(ctx, p.cfg.Embedding)
		if err != nil {
			return err
		}
		defer func() { _ = provider.Close() }()
	}

	searcher, err := search.New(search.Options{Config: p.cfg, Root: p.root, Provider: provider})
	if err != nil {
		return err
	}
	results, err := searcher.Query(ctx, search.Request{Text: text, K: opts.k, Filters: filters, Mode: mode})
	if err != nil {
		return err
	}
	slog.Info("query_complete", slog.Int("results", len(results)))

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	formatQueryText(output.NewConsole(cmd.OutOrStdout()), text, results)
	return nil
}

// parseFilters turns key=value flags into exact-match filters.
func parseFilters(raw []string) (store.Filters, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	filters := make(store.Filters, len(raw))
	for _, f := range raw {
		key, value, ok := strings.Cut(f, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, ferrors.New(ferrors.ErrCodeInvalidInput, fmt.Sprintf("invalid filter %q", f), nil).
				WithSuggestion("use key=value, for example framework=react")
		}
		filters[key] = strings.TrimSpace(value)
	}
	return filters, nil
}

// formatQueryText prints results with 1-based inclusive line ranges.
func formatQueryText(out *output.Console, text string, results []search.Result) {
	if len(results) == 0 {
		out.Warningf("No results for %q", text)
		return
	}
	out.Statusf("🔍", "Found %d results for %q:", len(results), text)
	out.Newline()

	for i, r := range results {
		out.Statusf("", "%d. %s:%d-%d (score: %.2f)", i+1, r.File, r.StartLine+1, r.EndLine, r.Score)
		if name := r.Metadata[chunk.MetaComponentName]; name != "" {
			out.Statusf("", "   %s %s", r.Metadata[chunk.MetaComponentType], name)
		}
		if len(r.MatchedTerms) > 0 {
			out.Statusf("", "   matched: %s", strings.Join(r.MatchedTerms, ", "))
		}
		for _, line := range getSnippet(r.Text, 3) {
			out.Status("", "   "+line)
		}
		out.Newline()
	}
}

// getSnippet returns the first n lines of content.
func getSnippet(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
