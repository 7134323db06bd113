package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ai/forge/internal/embed"
	"github.com/forge-ai/forge/internal/output"
	"github.com/forge-ai/forge/internal/telemetry"
)

func TestServeCmd_Flags(t *testing.T) {
	cmd := NewRootCmd()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	for name, def := range map[string]string{
		"path": ".", "transport": "stdio", "scan": "false", "telemetry": "true",
	} {
		f := serveCmd.Flags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, def, f.DefValue, name)
	}
}

func TestBackgroundScan(t *testing.T) {
	// Given: an unscanned project
	offlineEnv(t)
	root := writeCLIProject(t)
	opts := &rootOptions{}
	p, err := opts.loadProject(root)
	require.NoError(t, err)
	defer opts.stopLogging()

	ctx := context.Background()
	provider, err := embed.NewProvider(ctx, p.cfg.Embedding)
	require.NoError(t, err)
	defer func() { _ = provider.Close() }()

	// When: the server's background scan runs
	bg, err := newBackgroundScan(ctx, p, provider)
	require.NoError(t, err)
	bg.Start(ctx)
	require.NoError(t, bg.Wait())

	// Then: the scan committed and the progress is complete
	snap := bg.Progress().Snapshot()
	assert.Equal(t, "ready", snap.Status)
	assert.Equal(t, 3, snap.Files)
	assert.Positive(t, snap.Chunks)
	assert.FileExists(t, filepath.Join(p.outputDir(), output.ManifestFile))
}

func TestOpenQueryMetrics(t *testing.T) {
	isolateHome(t)
	root := t.TempDir()
	opts := &rootOptions{}
	p, err := opts.loadProject(root)
	require.NoError(t, err)
	defer opts.stopLogging()
	ctx := context.Background()

	metrics, closeMetrics := openQueryMetrics(ctx, p)
	metrics.Record(telemetry.QueryEvent{Query: "cart button", Type: telemetry.QueryTypeVector, ResultCount: 1})
	closeMetrics()

	st, err := telemetry.OpenStore(ctx, filepath.Join(p.dataDir(), telemetry.FileName))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	terms, err := st.TopTerms(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, terms, 2)
}
