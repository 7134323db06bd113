package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forge-ai/forge/internal/async"
	"github.com/forge-ai/forge/internal/embed"
	"github.com/forge-ai/forge/internal/index"
	"github.com/forge-ai/forge/internal/manifest"
	"github.com/forge-ai/forge/internal/mcp"
	"github.com/forge-ai/forge/internal/search"
	"github.com/forge-ai/forge/internal/telemetry"
	"github.com/forge-ai/forge/internal/ui"
)

type serveOptions struct {
	path      string
	transport string
	scan      bool
	telemetry bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the index over MCP",
		Long: `Start an MCP server over the persisted index.

The server exposes the query_index, get_manifest, index_status and
get_file_summary tools and the scan documents as forge:// resources. Queries read whatever the
latest scan committed; with --scan the server runs an incremental scan
in the background and index_status reports its progress.

Query statistics are kept in .forge/telemetry.db unless --telemetry=false.

Stdout carries JSON-RPC only. Logs go to ~/.forge/logs/forge.log.`,
		Example: `  # Serve the current project to an MCP client
  forge serve

  # Refresh the index while serving another project
  forge serve --path ./web --scan`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.path, "path", "p", ".", "Project root")
	cmd.Flags().StringVar(&opts.transport, "transport", "stdio", "Transport: stdio")
	cmd.Flags().BoolVar(&opts.scan, "scan", false, "Run an incremental scan in the background")
	cmd.Flags().BoolVar(&opts.telemetry, "telemetry", true, "Record local query statistics")

	return cmd
}

// runServe must not write to stdout before the server owns it.
func runServe(ctx context.Context, root *rootOptions, opts serveOptions) error {
	p, err := root.loadProject(opts.path)
	if err != nil {
		return err
	}

	provider, err := embed.NewProvider(ctx, p.cfg.Embedding)
	if err != nil {
		return err
	}
	defer func() { _ = provider.Close() }()

	searcher, err := search.New(search.Options{Config: p.cfg, Root: p.root, Provider: provider})
	if err != nil {
		return err
	}

	serverOpts := mcp.Options{
		Searcher:  searcher,
		Provider:  provider,
		Config:    p.cfg,
		RootDir:   p.root,
		OutputDir: p.outputDir(),
	}

	if opts.telemetry {
		metrics, closeMetrics := openQueryMetrics(ctx, p)
		defer closeMetrics()
		serverOpts.Metrics = metrics
	}

	if opts.scan {
		bg, err := newBackgroundScan(ctx, p, provider)
		if err != nil {
			return err
		}
		bg.Start(ctx)
		defer bg.Stop()
		serverOpts.Progress = bg.Progress()
	}

	server, err := mcp.NewServer(serverOpts)
	if err != nil {
		return err
	}

	slog.Info("serve_started",
		slog.String("root", p.root),
		slog.String("model", provider.ModelName()),
		slog.String("persist_dir", searcher.PersistDir()),
		slog.Bool("background_scan", opts.scan))
	return server.Serve(ctx, opts.transport)
}

// openQueryMetrics keeps statistics in memory when the database cannot
// be opened.
func openQueryMetrics(ctx context.Context, p *project) (*telemetry.QueryMetrics, func()) {
	var sink telemetry.Sink
	st, err := telemetry.OpenStore(ctx, filepath.Join(p.dataDir(), telemetry.FileName))
	if err != nil {
		slog.Warn("telemetry_store_unavailable", slog.String("error", err.Error()))
	} else {
		sink = st
	}

	metrics := telemetry.NewQueryMetrics(sink, telemetry.DefaultConfig())
	return metrics, func() {
		if err := metrics.Close(); err != nil {
			slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
		}
		slog.Info("query_stats", slog.String("summary", metrics.Snapshot().Summary()))
		if st != nil {
			_ = st.Close()
		}
	}
}

// newBackgroundScan prepares an incremental scan that reports into the
// returned indexer's progress.
func newBackgroundScan(ctx context.Context, p *project, provider embed.Provider) (*async.BackgroundIndexer, error) {
	summarizer, err := manifest.NewSummarizer(ctx, p.cfg.Summarizer)
	if err != nil {
		return nil, err
	}
	runCfg := index.RunnerConfig{
		RootDir:     p.root,
		DataDir:     p.dataDir(),
		OutputDir:   p.outputDir(),
		Incremental: true,
	}

	return async.NewBackgroundIndexer(func(ctx context.Context, r ui.Renderer) error {
		runner, err := index.NewRunner(index.RunnerDependencies{
			Renderer:   r,
			Config:     p.cfg,
			Provider:   provider,
			Summarizer: summarizer,
		})
		if err != nil {
			return err
		}
		_, err = runner.Run(ctx, runCfg)
		return err
	}), nil
}
