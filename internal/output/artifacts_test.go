package output

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/forge-ai/forge/internal/errors"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func stagingLeftovers(t *testing.T, parent string) []string {
	t.Helper()
	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if strings.Contains(e.Name(), ".staging-") {
			out = append(out, e.Name())
		}
	}
	return out
}

// =============================================================================
// TS01: Staged writes
// =============================================================================

func TestStaging_CommitPublishesArtifacts(t *testing.T) {
	// Given: a staging area for a fresh output directory
	parent := t.TempDir()
	dir := filepath.Join(parent, "out")
	s, err := NewStaging(dir)
	require.NoError(t, err)

	// When: artifacts are written but not committed
	require.NoError(t, s.WriteJSON(ManifestFile, doc{Name: "m", Count: 1}))
	require.NoError(t, s.WriteJSON(InventoryFile, []doc{{Name: "a"}}))

	// Then: nothing is visible yet
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	// When: committed
	require.NoError(t, s.Commit())

	// Then: both artifacts exist and decode
	var got doc
	require.NoError(t, ReadJSON(dir, ManifestFile, &got))
	assert.Equal(t, doc{Name: "m", Count: 1}, got)
	assert.FileExists(t, filepath.Join(dir, InventoryFile))
	assert.Equal(t, []string{ManifestFile, InventoryFile}, s.Written())
	assert.Empty(t, stagingLeftovers(t, parent))

	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(raw), "}\n"))
	assert.Contains(t, string(raw), "\n  \"name\": \"m\"")
}

func TestStaging_CommitReplacesPreviousRun(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "out")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(`{"name":"old"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep"), 0o644))

	s, err := NewStaging(dir)
	require.NoError(t, err)
	require.NoError(t, s.WriteJSON(ManifestFile, doc{Name: "new"}))
	require.NoError(t, s.Commit())

	var got doc
	require.NoError(t, ReadJSON(dir, ManifestFile, &got))
	assert.Equal(t, "new", got.Name)

	// files not rewritten are carried over
	notes, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "keep", string(notes))
	assert.Empty(t, stagingLeftovers(t, parent))
}

func TestStaging_AbortLeavesOutputUntouched(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "out")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(`{"name":"old"}`), 0o644))

	s, err := NewStaging(dir)
	require.NoError(t, err)
	require.NoError(t, s.WriteJSON(ManifestFile, doc{Name: "new"}))
	s.Abort()
	s.Abort()

	var got doc
	require.NoError(t, ReadJSON(dir, ManifestFile, &got))
	assert.Equal(t, "old", got.Name)
	assert.Empty(t, stagingLeftovers(t, parent))

	// finished staging rejects further use
	err = s.WriteJSON(ScanLogFile, doc{})
	assert.Equal(t, ferrors.ErrCodeOutputWrite, ferrors.GetCode(err))
	err = s.Commit()
	assert.Equal(t, ferrors.ErrCodeOutputWrite, ferrors.GetCode(err))
}

func TestStaging_RejectsBadInput(t *testing.T) {
	s, err := NewStaging(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer s.Abort()

	tests := []struct {
		name     string
		artifact string
		value    any
		wantCode string
	}{
		{"empty name", "", doc{}, ferrors.ErrCodeInvalidInput},
		{"nested path", "sub/manifest.json", doc{}, ferrors.ErrCodeInvalidInput},
		{"unencodable", ManifestFile, make(chan int), ferrors.ErrCodeOutputWrite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.WriteJSON(tt.artifact, tt.value)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, ferrors.GetCode(err))
		})
	}
}

func TestReadJSON_Errors(t *testing.T) {
	dir := t.TempDir()

	var v doc
	err := ReadJSON(dir, ManifestFile, &v)
	assert.Equal(t, ferrors.ErrCodeFileRead, ferrors.GetCode(err))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("{not json"), 0o644))
	err = ReadJSON(dir, ManifestFile, &v)
	assert.Equal(t, ferrors.ErrCodeInvalidInput, ferrors.GetCode(err))
}
