package cmd

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forge-ai/forge/internal/changes"
	"github.com/forge-ai/forge/internal/config"
	"github.com/forge-ai/forge/internal/index"
	"github.com/forge-ai/forge/internal/manifest"
	"github.com/forge-ai/forge/internal/output"
	"github.com/forge-ai/forge/internal/parse"
	"github.com/forge-ai/forge/internal/store"
	"github.com/forge-ai/forge/internal/ui"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show the last scan and index state",
		Long: `Show the outcome of the last scan, the persisted index and the
change tracker of a project. Nothing is modified.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runStatus(cmd.Context(), cmd, root, path, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, root *rootOptions, path string, jsonOutput bool) error {
	p, err := root.loadProject(path)
	if err != nil {
		return err
	}
	info := collectStatus(ctx, p)

	r := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()))
	if jsonOutput {
		return r.RenderJSON(info)
	}
	return r.Render(info)
}

// collectStatus reads the scan documents, the tracker and the keyword
// index. Missing pieces leave their fields zero.
func collectStatus(ctx context.Context, p *project) ui.StatusInfo {
	outDir := p.outputDir()
	info := ui.StatusInfo{
		ProjectRoot: p.root,
		Framework:   parse.DetectProject(p.root).Framework,
		Backend:     p.cfg.VectorStore.Backend,
		DataDir:     p.dataDir(),
		OutputDir:   outDir,
	}

	var log index.RunLog
	if err := output.ReadJSON(outDir, output.ScanLogFile, &log); err == nil {
		info.LastScan = log.Timestamp
		info.LastStatus = log.Status
		info.LastMode = log.Mode
		info.TotalFiles = log.TotalFiles
		info.Chunks = log.TotalChunks
		info.ErrorCount = len(log.Errors)
		info.EmbedderModel = log.Model
		info.Dimensions = log.Dimensions
		if log.Backend != "" {
			info.Backend = log.Backend
		}
	}

	var m manifest.Manifest
	if err := output.ReadJSON(outDir, output.ManifestFile, &m); err == nil {
		info.Entries = m.Index.Entries
		if m.Framework != "" {
			info.Framework = m.Framework
		}
	}

	if _, err := os.Stat(p.dataDir()); err != nil {
		return info
	}
	info.DataSize = dirSize(p.dataDir())

	trackerPath := filepath.Join(p.dataDir(), index.TrackerFileName)
	if _, err := os.Stat(trackerPath); err == nil {
		if t, err := changes.Open(ctx, trackerPath); err == nil {
			if digests, err := t.Load(ctx); err == nil {
				info.TrackedFiles = len(digests)
			}
			_ = t.Close()
		}
	}

	// The keyword index is only opened while no scan holds the data
	// directory; bleve would otherwise wait on its file lock.
	lock := index.NewDataLock(p.dataDir())
	if err := lock.Acquire(); err == nil {
		defer func() { _ = lock.Release() }()
		kwPath := filepath.Join(config.ResolvePath(p.root, p.cfg.VectorStore.PersistDirectory), store.KeywordDirName)
		if _, err := os.Stat(kwPath); err == nil {
			if kw, err := store.OpenKeywordIndex(kwPath); err == nil {
				info.KeywordEntries = kw.Count()
				_ = kw.Close()
			}
		}
	}
	return info
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}
