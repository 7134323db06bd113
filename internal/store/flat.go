package store

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	ferrors "github.com/forge-ai/forge/internal/errors"
)

const flatFormatVersion = 1

// flatFile is the on-disk form of a FlatIndex.
type flatFile struct {
	Version    int
	Collection string
	Dimensions int
	NextSeq    uint64
	Records    []record
}

// FlatIndex is an exact in-memory index serialized with gob on Persist.
type FlatIndex struct {
	*memIndex
	path       string
	collection string
}

var _ Index = (*FlatIndex)(nil)

// OpenFlat loads <dir>/<collection>.flat when it exists.
func OpenFlat(dir, collection string, dims int) (*FlatIndex, error) {
	idx := &FlatIndex{
		memIndex:   newMemIndex(dims),
		path:       filepath.Join(dir, collection+".flat"),
		collection: collection,
	}
	if err := idx.load(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (f *FlatIndex) load() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return ferrors.StorageError(ferrors.ErrCodeIndexOpen, "failed to open flat index", err)
	}
	defer func() { _ = file.Close() }()

	var ff flatFile
	if err := gob.NewDecoder(file).Decode(&ff); err != nil {
		return ferrors.StorageError(ferrors.ErrCodeIndexOpen,
			fmt.Sprintf("failed to decode flat index %s", f.path), err)
	}
	if ff.Version != flatFormatVersion {
		return ferrors.StorageError(ferrors.ErrCodeIndexOpen,
			fmt.Sprintf("unsupported flat index version %d", ff.Version), nil)
	}
	if ff.Dimensions != f.dims {
		return ferrors.DimensionMismatch(ff.Dimensions, f.dims).WithDetail("index", f.path)
	}

	for i := range ff.Records {
		rec := ff.Records[i]
		f.records[rec.Entry.ID] = &rec
	}
	f.nextSeq = max(ff.NextSeq, 1)
	slog.Debug("flat_index_loaded", slog.String("path", f.path), slog.Int("entries", len(f.records)))
	return nil
}

// Add implements Index.
func (f *FlatIndex) Add(ctx context.Context, entries ...Entry) error {
	if err := f.validate(entries); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ferrors.StorageError(ferrors.ErrCodeIndexPersist, "index is closed", nil)
	}
	for _, e := range entries {
		f.put(e)
	}
	return nil
}

// Replace implements Index. Nothing is durable until Persist.
func (f *FlatIndex) Replace(ctx context.Context, files []string, entries ...Entry) (int, error) {
	if err := f.validate(entries); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ferrors.StorageError(ferrors.ErrCodeIndexPersist, "index is closed", nil)
	}
	removed := 0
	for _, path := range files {
		removed += len(f.removeFile(path))
	}
	for _, e := range entries {
		f.put(e)
	}
	return removed, nil
}

// Query implements Index.
func (f *FlatIndex) Query(ctx context.Context, vec []float32, k int, filters Filters) ([]Hit, error) {
	if err := checkDims(f.dims, vec); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.scan(ctx, vec, k, filters)
}

// DeleteByFile implements Index.
func (f *FlatIndex) DeleteByFile(ctx context.Context, path string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.removeFile(path)), nil
}

// Persist writes the index to a temporary file and renames it into place.
func (f *FlatIndex) Persist() error {
	f.mu.RLock()
	ff := flatFile{
		Version:    flatFormatVersion,
		Collection: f.collection,
		Dimensions: f.dims,
		NextSeq:    f.nextSeq,
	}
	for _, rec := range f.sorted() {
		ff.Records = append(ff.Records, *rec)
	}
	f.mu.RUnlock()

	if err := writeAtomic(f.path, func(file *os.File) error {
		return gob.NewEncoder(file).Encode(&ff)
	}); err != nil {
		return ferrors.StorageError(ferrors.ErrCodeIndexPersist, "failed to persist flat index", err)
	}
	return nil
}

// Count implements Index.
func (f *FlatIndex) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.records)
}

// Dimensions implements Index.
func (f *FlatIndex) Dimensions() int { return f.dims }

// Backend implements Index.
func (f *FlatIndex) Backend() string { return BackendFlat }

// Path returns the index file.
func (f *FlatIndex) Path() string { return f.path }

// Close implements Index. Unpersisted entries are discarded.
func (f *FlatIndex) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// writeAtomic writes path via a temporary sibling and a rename.
func writeAtomic(path string, write func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if err := write(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
	}
	return nil
}
