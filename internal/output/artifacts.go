package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ferrors "github.com/forge-ai/forge/internal/errors"
)

// Artifact file names inside the output directory.
const (
	ManifestFile  = "manifest.json"
	InventoryFile = "file_inventory.json"
	ScanLogFile   = "scan_logs.json"
	SummariesFile = "hierarchical_summaries.json"
	ChangeSetFile = "changeset.json"
)

// Staging collects artifacts in a sibling directory and swaps it into place
// on Commit, so readers never see a half-written output directory.
type Staging struct {
	mu      sync.Mutex
	dir     string
	staging string
	written []string
	done    bool
}

// NewStaging creates a staging directory next to dir.
func NewStaging(dir string) (*Staging, error) {
	dir = filepath.Clean(dir)
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, writeErr("create output parent", err)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+".staging-*")
	if err != nil {
		return nil, writeErr("create staging directory", err)
	}
	return &Staging{dir: dir, staging: tmp}, nil
}

// Dir returns the final output directory.
func (s *Staging) Dir() string { return s.dir }

// Written returns the artifact names written so far.
func (s *Staging) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

// WriteJSON writes v as indented JSON under name.
func (s *Staging) WriteJSON(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ferrors.New(ferrors.ErrCodeOutputWrite, "staging already finished", nil)
	}
	if name == "" || filepath.Base(name) != name {
		return ferrors.New(ferrors.ErrCodeInvalidInput, fmt.Sprintf("invalid artifact name %q", name), nil)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return writeErr("encode "+name, err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(s.staging, name), data, 0o644); err != nil {
		return writeErr("write "+name, err)
	}
	s.written = append(s.written, name)
	return nil
}

// Commit replaces the output directory with the staged one. Artifacts from
// a previous run that were not rewritten are carried over.
func (s *Staging) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return ferrors.New(ferrors.ErrCodeOutputWrite, "staging already finished", nil)
	}
	s.done = true

	if err := carryOver(s.dir, s.staging); err != nil {
		_ = os.RemoveAll(s.staging)
		return err
	}

	prev := ""
	if _, err := os.Stat(s.dir); err == nil {
		prev = s.staging + ".prev"
		if err := os.Rename(s.dir, prev); err != nil {
			_ = os.RemoveAll(s.staging)
			return writeErr("move previous output aside", err)
		}
	}
	if err := os.Rename(s.staging, s.dir); err != nil {
		if prev != "" {
			_ = os.Rename(prev, s.dir)
		}
		_ = os.RemoveAll(s.staging)
		return writeErr("publish output directory", err)
	}
	if prev != "" {
		_ = os.RemoveAll(prev)
	}
	return nil
}

// Abort discards staged artifacts. The output directory is untouched.
// Safe to call after Commit.
func (s *Staging) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	_ = os.RemoveAll(s.staging)
}

// carryOver copies regular files from dir that are missing in staging.
func carryOver(dir, staging string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return writeErr("read previous output", err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		dst := filepath.Join(staging, e.Name())
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return writeErr("copy "+e.Name(), err)
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return writeErr("copy "+e.Name(), err)
		}
	}
	return nil
}

// ReadJSON decodes the artifact name from dir into v.
func ReadJSON(dir, name string, v any) error {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ferrors.FileError(ferrors.ErrCodeFileRead, filepath.Join(dir, name), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ferrors.New(ferrors.ErrCodeInvalidInput, "decode "+name, err)
	}
	return nil
}

func writeErr(op string, err error) error {
	return ferrors.New(ferrors.ErrCodeOutputWrite, op, err).
		WithSuggestion("check that the output directory is writable")
}
