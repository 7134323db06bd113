package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"

	ferrors "github.com/forge-ai/forge/internal/errors"
	"github.com/forge-ai/forge/internal/sqlitedb"
)

// SQLiteFileName is the database file inside the persist directory.
const SQLiteFileName = "vectors.db"

var sqliteMigrations = []sqlitedb.Migration{
	{
		Version: 1,
		Up: `
CREATE TABLE collections (
	name       TEXT PRIMARY KEY,
	dimensions INTEGER NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE entries (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	file       TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	end_line   INTEGER NOT NULL,
	text       TEXT NOT NULL,
	metadata   TEXT NOT NULL,
	vector     BLOB NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX idx_entries_file ON entries(collection, file);
CREATE INDEX idx_entries_seq ON entries(collection, seq);`,
	},
}

// SQLiteIndex stores entries as rows and ranks them in Go with the same
// exact scan as the flat backend. Writes are durable when Add returns.
type SQLiteIndex struct {
	db         *sql.DB
	path       string
	collection string
	dims       int
}

var _ Index = (*SQLiteIndex)(nil)

// OpenSQLite opens or creates <dir>/vectors.db and the collection in it.
// An existing collection with different dimensions is a dimension
// mismatch.
func OpenSQLite(ctx context.Context, dir, collection string, dims int) (*SQLiteIndex, error) {
	path := filepath.Join(dir, SQLiteFileName)
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen, "failed to open vector database", err)
	}
	if err := sqlitedb.Migrate(ctx, db, sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen, "failed to migrate vector database", err)
	}

	var stored int
	err = db.QueryRowContext(ctx, "SELECT dimensions FROM collections WHERE name = ?", collection).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, "INSERT INTO collections (name, dimensions) VALUES (?, ?)", collection, dims); err != nil {
			_ = db.Close()
			return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen, "failed to create collection", err)
		}
	case err != nil:
		_ = db.Close()
		return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen, "failed to read collection", err)
	case stored != dims:
		_ = db.Close()
		return nil, ferrors.DimensionMismatch(stored, dims).WithDetail("collection", collection)
	}

	return &SQLiteIndex{db: db, path: path, collection: collection, dims: dims}, nil
}

// Add implements Index. All entries are written in one transaction.
func (s *SQLiteIndex) Add(ctx context.Context, entries ...Entry) error {
	_, err := s.Replace(ctx, nil, entries...)
	return err
}

// Replace implements Index. Deletes and inserts share one transaction.
func (s *SQLiteIndex) Replace(ctx context.Context, files []string, entries ...Entry) (int, error) {
	for _, e := range entries {
		if err := checkDims(s.dims, e.Vector); err != nil {
			return 0, err
		}
	}
	if len(files) == 0 && len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ferrors.StorageError(ferrors.ErrCodeIndexPersist, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	removed, err := deleteFiles(ctx, tx, s.collection, files)
	if err != nil {
		return 0, err
	}
	if err := insertEntries(ctx, tx, s.collection, entries); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, ferrors.StorageError(ferrors.ErrCodeIndexPersist, "failed to commit entries", err)
	}
	return removed, nil
}

func deleteFiles(ctx context.Context, tx *sql.Tx, collection string, files []string) (int, error) {
	if len(files) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, "DELETE FROM entries WHERE collection = ? AND file = ?")
	if err != nil {
		return 0, ferrors.StorageError(ferrors.ErrCodeIndexPersist, "failed to prepare delete", err)
	}
	defer func() { _ = stmt.Close() }()

	removed := 0
	for _, f := range files {
		res, err := stmt.ExecContext(ctx, collection, f)
		if err != nil {
			return 0, ferrors.StorageError(ferrors.ErrCodeIndexPersist,
				fmt.Sprintf("failed to delete entries for %s", f), err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}
	return removed, nil
}

func insertEntries(ctx context.Context, tx *sql.Tx, collection string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	var next int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM entries WHERE collection = ?", collection).Scan(&next); err != nil {
		return ferrors.StorageError(ferrors.ErrCodeIndexPersist, "failed to read sequence", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO entries
			(collection, id, seq, file, start_line, end_line, text, metadata, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return ferrors.StorageError(ferrors.ErrCodeIndexPersist, "failed to prepare insert", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, e := range entries {
		md, err := json.Marshal(e.Metadata)
		if err != nil {
			return ferrors.StorageError(ferrors.ErrCodeIndexPersist, "failed to encode metadata", err)
		}
		if _, err := stmt.ExecContext(ctx,
			collection, e.ID, next+int64(i),
			e.Provenance.File, e.Provenance.StartLine, e.Provenance.EndLine,
			e.Text, string(md), encodeVector(e.Vector)); err != nil {
			return ferrors.StorageError(ferrors.ErrCodeIndexPersist,
				fmt.Sprintf("failed to insert entry %s", e.ID), err)
		}
	}
	return nil
}

// Query implements Index.
func (s *SQLiteIndex) Query(ctx context.Context, vec []float32, k int, filters Filters) ([]Hit, error) {
	if err := checkDims(s.dims, vec); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, file, start_line, end_line, text, metadata, vector
		FROM entries WHERE collection = ? ORDER BY seq`, s.collection)
	if err != nil {
		return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen, "failed to query entries", err)
	}
	defer func() { _ = rows.Close() }()

	r := newRanker(vec, k, filters)
	for rows.Next() {
		var (
			rec  record
			seq  int64
			md   string
			blob []byte
		)
		e := &rec.Entry
		if err := rows.Scan(&e.ID, &seq, &e.Provenance.File, &e.Provenance.StartLine,
			&e.Provenance.EndLine, &e.Text, &md, &blob); err != nil {
			return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen, "failed to scan entry", err)
		}
		if err := json.Unmarshal([]byte(md), &e.Metadata); err != nil {
			return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen,
				fmt.Sprintf("corrupt metadata for entry %s", e.ID), err)
		}
		if !filters.Match(e.Metadata) {
			continue
		}
		rec.Seq = uint64(seq)
		e.Vector = decodeVector(blob)
		r.offer(&rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.StorageError(ferrors.ErrCodeIndexOpen, "failed to read entries", err)
	}
	return r.hits(), nil
}

// DeleteByFile implements Index.
func (s *SQLiteIndex) DeleteByFile(ctx context.Context, path string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE collection = ? AND file = ?", s.collection, path)
	if err != nil {
		return 0, ferrors.StorageError(ferrors.ErrCodeIndexPersist, "failed to delete entries", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Persist checkpoints the write-ahead log into the main database file.
func (s *SQLiteIndex) Persist() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return ferrors.StorageError(ferrors.ErrCodeIndexPersist, "failed to checkpoint vector database", err)
	}
	return nil
}

// Count implements Index.
func (s *SQLiteIndex) Count() int {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM entries WHERE collection = ?", s.collection).Scan(&n); err != nil {
		slog.Warn("sqlite_count_failed", slog.String("error", err.Error()))
		return 0
	}
	return n
}

// Dimensions implements Index.
func (s *SQLiteIndex) Dimensions() int { return s.dims }

// Backend implements Index.
func (s *SQLiteIndex) Backend() string { return BackendSQLite }

// Path returns the database file.
func (s *SQLiteIndex) Path() string { return s.path }

// Close implements Index.
func (s *SQLiteIndex) Close() error { return s.db.Close() }

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
