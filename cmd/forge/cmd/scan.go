package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forge-ai/forge/internal/config"
	"github.com/forge-ai/forge/internal/embed"
	"github.com/forge-ai/forge/internal/index"
	"github.com/forge-ai/forge/internal/manifest"
	"github.com/forge-ai/forge/internal/output"
	"github.com/forge-ai/forge/internal/ui"
	"github.com/forge-ai/forge/internal/watcher"
)

// scanOptions holds CLI flags for scan.
type scanOptions struct {
	out          string
	incremental  bool
	full         bool
	noTUI        bool
	watch        bool
	keywordIndex bool
	// keywordIndexSet records an explicit --keyword-index so the config
	// value is kept otherwise.
	keywordIndexSet bool
}

func newScanCmd(root *rootOptions) *cobra.Command {
	var opts scanOptions

	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Scan a project and build its index",
		Long: `Scan a frontend project and build its semantic index.

The scan discovers source files, parses components, routes and API
calls, splits files into redacted chunks, embeds them and writes the
manifest, summaries, inventory and run log to the output directory.

Use --incremental to process only files that changed since the last
successful scan. Use --watch to keep scanning incrementally as files
change until interrupted.`,
		Example: `  # Full scan of the current directory
  forge scan

  # Only changed files, then keep watching
  forge scan ./web --incremental --watch

  # Plain output with a custom output directory
  forge scan --no-tui --out ./artifacts`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			if cmd.Flags().Changed("keyword-index") {
				opts.keywordIndexSet = true
			}
			return runScan(ctx, cmd, root, path, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Output directory (default from config: forge-output)")
	cmd.Flags().BoolVar(&opts.incremental, "incremental", false, "Only process files changed since the last scan")
	cmd.Flags().BoolVar(&opts.full, "full", false, "Rebuild the index from every file")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Keep running and rescan incrementally on change")
	cmd.Flags().BoolVar(&opts.keywordIndex, "keyword-index", true, "Maintain the full-text keyword index")
	cmd.MarkFlagsMutuallyExclusive("incremental", "full")

	return cmd
}

func runScan(ctx context.Context, cmd *cobra.Command, root *rootOptions, path string, opts scanOptions) error {
	p, err := root.loadProject(path)
	if err != nil {
		return err
	}
	if opts.keywordIndexSet {
		p.cfg.VectorStore.KeywordIndex = opts.keywordIndex
	}

	runCfg := index.RunnerConfig{
		RootDir:     p.root,
		DataDir:     p.dataDir(),
		OutputDir:   p.outputDir(),
		Incremental: opts.incremental && !opts.full,
	}
	if opts.out != "" {
		abs, err := filepath.Abs(opts.out)
		if err != nil {
			return fmt.Errorf("failed to resolve output directory: %w", err)
		}
		runCfg.OutputDir = abs
	}

	slog.Info("scan_command_started",
		slog.String("root", p.root),
		slog.Bool("incremental", opts.incremental),
		slog.Bool("watch", opts.watch))

	provider, err := embed.NewProvider(ctx, p.cfg.Embedding)
	if err != nil {
		return err
	}
	defer func() { _ = provider.Close() }()

	summarizer, err := manifest.NewSummarizer(ctx, p.cfg.Summarizer)
	if err != nil {
		return err
	}

	uiCfg := ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.noTUI),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithProjectDir(p.root))
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}

	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer:   renderer,
		Config:     p.cfg,
		Provider:   provider,
		Summarizer: summarizer,
	})
	if err != nil {
		_ = renderer.Stop()
		return err
	}

	_, err = runner.Run(ctx, runCfg)
	_ = renderer.Stop()
	if err != nil {
		return err
	}
	if !opts.watch {
		return nil
	}
	return runWatch(ctx, cmd, p, runCfg, provider, summarizer)
}

// runWatch rescans incrementally on every settled batch of changes. Runs
// report one status line each instead of the full progress display.
func runWatch(
	ctx context.Context,
	cmd *cobra.Command,
	p *project,
	runCfg index.RunnerConfig,
	provider embed.Provider,
	summarizer manifest.Summarizer,
) error {
	out := output.NewConsole(cmd.OutOrStdout())

	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer:   ui.NopRenderer{},
		Config:     p.cfg,
		Provider:   provider,
		Summarizer: summarizer,
	})
	if err != nil {
		return err
	}

	coord, err := index.NewCoordinator(index.CoordinatorConfig{
		Runner: runner,
		Run:    runCfg,
		Watch: watcher.Options{
			DebounceWindow: p.cfg.Performance.WatchDebounce,
			Exclude:        p.cfg.Excludes(),
			SkipDirs:       watchSkipDirs(p.root, runCfg, p.cfg),
			ConfigNames:    config.ProjectConfigNames,
		},
		OnRun: func(res *index.RunnerResult, err error) {
			if err != nil {
				out.Errorf("Rescan failed: %v", err)
				return
			}
			out.Successf("Rescanned: %d changed, %d deleted, %d chunks embedded (%s)",
				res.Changed, res.Deleted, res.Embeddings, res.Duration.Round(time.Millisecond))
		},
	})
	if err != nil {
		return err
	}

	out.Statusf("👀", "Watching %s for changes (Ctrl+C to stop)", p.root)
	if err := coord.Watch(ctx); err != nil {
		return err
	}
	out.Status("✋", "Watch stopped")
	return nil
}

// watchSkipDirs lists the root-relative directories a scan writes to, so
// its own output never triggers another scan.
func watchSkipDirs(root string, runCfg index.RunnerConfig, cfg *config.Config) []string {
	candidates := []string{
		runCfg.DataDir,
		runCfg.OutputDir,
		config.ResolvePath(root, cfg.VectorStore.PersistDirectory),
	}
	dirs := []string{config.DataDirName}
	for _, dir := range candidates {
		rel, err := filepath.Rel(root, dir)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		dirs = append(dirs, filepath.ToSlash(rel))
	}
	return dedupe(dirs)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
