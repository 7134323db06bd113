// Package scanner discovers the files of a project tree. Every file that
// passes the ignore, exclude, size and extension filters becomes a
// FileRecord carrying a streamed SHA-256 digest.
package scanner

import (
	"time"
)

// DefaultMaxFileSize is the size limit when ScanOptions leaves it unset (100MB).
const DefaultMaxFileSize = 100 * 1024 * 1024

// FileRecord describes one discovered file. Records are immutable; a
// re-scan produces new records.
type FileRecord struct {
	AbsPath string `json:"path"`
	// RelPath is slash-separated and relative to the project root.
	RelPath  string    `json:"relative_path"`
	Ext      string    `json:"extension"`
	Size     int64     `json:"size_bytes"`
	ModTime  time.Time `json:"last_modified"`
	Digest   string    `json:"sha256_hash"`
	MIME     string    `json:"mime_type,omitempty"`
	IsBinary bool      `json:"is_binary"`
	Hints    []string  `json:"framework_hints"`
}

// FileType is the extension without its dot, or "unknown".
func (r *FileRecord) FileType() string {
	if len(r.Ext) > 1 {
		return r.Ext[1:]
	}
	return "unknown"
}

// ScanOptions configures a scan.
type ScanOptions struct {
	// RootDir is the project root.
	RootDir string

	// Exclude lists exclude globs (see package ignore).
	Exclude []string

	// Extensions lists allowed extensions with their dot. Files without
	// an extension are always allowed. Empty allows everything.
	Extensions []string

	// MaxFileSize is the largest file admitted, in bytes.
	MaxFileSize int64

	RespectGitignore bool
	FollowSymlinks   bool

	// Workers bounds the hashing pool (0 = NumCPU).
	Workers int

	// ProgressFunc, when set, is called after each file is hashed.
	ProgressFunc func(done int)
}

// FileError is a recoverable per-file failure recorded during the walk.
type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// Inventory is the outcome of a scan.
type Inventory struct {
	ProjectRoot    string       `json:"project_root"`
	ScanTimestamp  time.Time    `json:"scan_timestamp"`
	TotalFiles     int          `json:"total_files"`
	TotalSizeBytes int64        `json:"total_size_bytes"`
	Files          []FileRecord `json:"files"`
	Errors         []FileError  `json:"errors"`
}

// Digests returns RelPath -> digest for every record.
func (inv *Inventory) Digests() map[string]string {
	out := make(map[string]string, len(inv.Files))
	for i := range inv.Files {
		out[inv.Files[i].RelPath] = inv.Files[i].Digest
	}
	return out
}

// ByPath returns the record for rel, or nil.
func (inv *Inventory) ByPath(rel string) *FileRecord {
	for i := range inv.Files {
		if inv.Files[i].RelPath == rel {
			return &inv.Files[i]
		}
	}
	return nil
}
