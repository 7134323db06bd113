package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/forge-ai/forge/internal/errors"
)

func TestDataLock_AcquireRelease(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", ".forge")
	lock := NewDataLock(dir)

	require.NoError(t, lock.Acquire())
	assert.True(t, lock.Locked())
	_, err := os.Stat(lock.Path())
	assert.NoError(t, err, "lock file and missing parents are created")

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release(), "second release is a no-op")
	assert.False(t, lock.Locked())
}

func TestDataLock_SecondWriterFailsFast(t *testing.T) {
	// Given: one holder of the data directory lock
	dir := t.TempDir()
	first := NewDataLock(dir)
	require.NoError(t, first.Acquire())
	defer func() { _ = first.Release() }()

	// When: a second writer tries to lock
	err := NewDataLock(dir).Acquire()

	// Then: it fails immediately with a storage-fatal lock error
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeLocked, ferrors.GetCode(err))
	assert.Equal(t, ferrors.ClassStorage, ferrors.ClassOf(err))
}

func TestDataLock_ReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()
	first := NewDataLock(dir)
	require.NoError(t, first.Acquire())
	require.NoError(t, first.Release())

	second := NewDataLock(dir)
	require.NoError(t, second.Acquire())
	assert.NoError(t, second.Release())
}

func TestDataLock_Path(t *testing.T) {
	assert.Equal(t, filepath.Join("/data", LockFileName), NewDataLock("/data").Path())
}
