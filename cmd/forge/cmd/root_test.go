package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ai/forge/internal/config"
	ferrors "github.com/forge-ai/forge/internal/errors"
)

// isolateHome points the user config and the log directory at a temp dir.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	return home
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	// Given: a root command
	cmd := NewRootCmd()

	// When: listing subcommands
	names := make(map[string]bool)
	for _, sc := range cmd.Commands() {
		names[sc.Name()] = true
	}

	// Then: every command is registered
	for _, want := range []string{"scan", "query", "serve", "status", "config", "doctor", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	cmd := NewRootCmd()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "", configFlag.DefValue)

	debugFlag := cmd.PersistentFlags().Lookup("debug")
	require.NotNil(t, debugFlag)
	assert.Equal(t, "false", debugFlag.DefValue)
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	out, err := execute(t, "--help")

	require.NoError(t, err)
	assert.Contains(t, out, "forge")
	assert.Contains(t, out, "Usage:")
}

func TestRootCmd_ShowsVersion(t *testing.T) {
	out, err := execute(t, "--version")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "forge version "), out)
}

func TestScanCmd_Flags(t *testing.T) {
	cmd := NewRootCmd()
	scanCmd, _, err := cmd.Find([]string{"scan"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		defValue string
	}{
		{"out", ""},
		{"incremental", "false"},
		{"full", "false"},
		{"no-tui", "false"},
		{"watch", "false"},
		{"keyword-index", "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := scanCmd.Flags().Lookup(tt.name)
			require.NotNil(t, f)
			assert.Equal(t, tt.defValue, f.DefValue)
		})
	}
}

func TestScanCmd_IncrementalAndFullConflict(t *testing.T) {
	isolateHome(t)

	_, err := execute(t, "scan", t.TempDir(), "--incremental", "--full")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestLoadProject_Errors(t *testing.T) {
	isolateHome(t)

	t.Run("missing root", func(t *testing.T) {
		opts := &rootOptions{}
		_, err := opts.loadProject(filepath.Join(t.TempDir(), "missing"))
		require.Error(t, err)
		assert.Equal(t, ferrors.ErrCodeRootInvalid, ferrors.GetCode(err))
	})

	t.Run("missing explicit config", func(t *testing.T) {
		opts := &rootOptions{configPath: filepath.Join(t.TempDir(), "nope.yaml")}
		_, err := opts.loadProject(t.TempDir())
		require.Error(t, err)
		assert.Equal(t, ferrors.ErrCodeConfigNotFound, ferrors.GetCode(err))
	})

	t.Run("defaults", func(t *testing.T) {
		opts := &rootOptions{}
		root := t.TempDir()
		p, err := opts.loadProject(root)
		require.NoError(t, err)
		defer opts.stopLogging()

		assert.Equal(t, filepath.Join(root, config.DataDirName), p.dataDir())
		assert.Equal(t, filepath.Join(root, "forge-output"), p.outputDir())
	})
}

func TestWatchSkipDirs(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "work", "app")
	cfg := config.NewConfig()

	tests := []struct {
		name   string
		outDir string
		want   []string
	}{
		{
			name:   "output inside the project",
			outDir: filepath.Join(root, "forge-output"),
			want:   []string{".forge", "forge-output", ".forge/vector_store"},
		},
		{
			name:   "output outside the project",
			outDir: filepath.Join(string(filepath.Separator), "tmp", "out"),
			want:   []string{".forge", ".forge/vector_store"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runCfg := indexRunConfig(root, tt.outDir)
			assert.Equal(t, tt.want, watchSkipDirs(root, runCfg, cfg))
		})
	}
}

func TestRootCmd_ProfileFlags(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()
	cpu := filepath.Join(dir, "cpu.prof")
	heap := filepath.Join(dir, "heap.prof")

	// When: running a command with profiling enabled
	_, err := execute(t, "version", "--profile-cpu", cpu, "--profile-mem", heap)

	// Then: both profiles are flushed when the command returns
	require.NoError(t, err)
	assert.FileExists(t, cpu)
	assert.FileExists(t, heap)
}
