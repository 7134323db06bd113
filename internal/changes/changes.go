// Package changes persists the digest of every indexed file and diffs a
// fresh scan against it to decide what an incremental run must redo.
package changes

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	ferrors "github.com/forge-ai/forge/internal/errors"
	"github.com/forge-ai/forge/internal/sqlitedb"
)

// ChangeSet partitions the paths of two digest tables. All lists are sorted.
type ChangeSet struct {
	Changed   []string `json:"changed_paths"`
	Unchanged []string `json:"unchanged_paths"`
	Deleted   []string `json:"deleted_paths"`
}

// Empty reports whether nothing changed and nothing was deleted.
func (c ChangeSet) Empty() bool {
	return len(c.Changed) == 0 && len(c.Deleted) == 0
}

// Diff compares current against previous. A path whose digest differs or
// that previous lacks is changed; a path only previous has is deleted.
func Diff(previous, current map[string]string) ChangeSet {
	cs := ChangeSet{Changed: []string{}, Unchanged: []string{}, Deleted: []string{}}
	for path, digest := range current {
		if old, ok := previous[path]; ok && old == digest {
			cs.Unchanged = append(cs.Unchanged, path)
		} else {
			cs.Changed = append(cs.Changed, path)
		}
	}
	for path := range previous {
		if _, ok := current[path]; !ok {
			cs.Deleted = append(cs.Deleted, path)
		}
	}
	sort.Strings(cs.Changed)
	sort.Strings(cs.Unchanged)
	sort.Strings(cs.Deleted)
	return cs
}

var migrations = []sqlitedb.Migration{
	{Version: 1, Up: `
		CREATE TABLE IF NOT EXISTS digests (
			path   TEXT PRIMARY KEY,
			digest TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`},
}

// Tracker is the persisted path -> digest table.
type Tracker struct {
	db   *sql.DB
	path string
}

// Open opens or creates the tracker database at path.
func Open(ctx context.Context, path string) (*Tracker, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, ferrors.StorageError(ferrors.ErrCodeTracker, "failed to open change tracker", err)
	}
	if err := sqlitedb.Migrate(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, ferrors.StorageError(ferrors.ErrCodeTracker, "failed to migrate change tracker", err)
	}
	return &Tracker{db: db, path: path}, nil
}

// Load returns the stored digest table.
func (t *Tracker) Load(ctx context.Context) (map[string]string, error) {
	rows, err := t.db.QueryContext(ctx, "SELECT path, digest FROM digests")
	if err != nil {
		return nil, ferrors.StorageError(ferrors.ErrCodeTracker, "failed to read digests", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var p, d string
		if err := rows.Scan(&p, &d); err != nil {
			return nil, ferrors.StorageError(ferrors.ErrCodeTracker, "failed to scan digest row", err)
		}
		out[p] = d
	}
	if err := rows.Err(); err != nil {
		return nil, ferrors.StorageError(ferrors.ErrCodeTracker, "failed to read digests", err)
	}
	return out, nil
}

// Diff compares current with the stored table.
func (t *Tracker) Diff(ctx context.Context, current map[string]string) (ChangeSet, error) {
	previous, err := t.Load(ctx)
	if err != nil {
		return ChangeSet{}, err
	}
	return Diff(previous, current), nil
}

// Meta returns the stored value for key, or "" when unset.
func (t *Tracker) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := t.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", ferrors.StorageError(ferrors.ErrCodeTracker, "failed to read tracker metadata", err)
	}
	return v, nil
}

// SetMeta upserts one metadata value outside a commit.
func (t *Tracker) SetMeta(ctx context.Context, key, value string) error {
	if _, err := t.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value); err != nil {
		return ferrors.StorageError(ferrors.ErrCodeTracker, "failed to store tracker metadata", err)
	}
	return nil
}

// Commit replaces the whole digest table with current, and upserts meta,
// in one transaction. On any failure the previous table is kept intact.
func (t *Tracker) Commit(ctx context.Context, current map[string]string, meta map[string]string) (err error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return ferrors.StorageError(ferrors.ErrCodeTracker, "failed to begin tracker commit", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM digests"); err != nil {
		return ferrors.StorageError(ferrors.ErrCodeTracker, "failed to clear digests", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO digests (path, digest) VALUES (?, ?)")
	if err != nil {
		return ferrors.StorageError(ferrors.ErrCodeTracker, "failed to prepare digest insert", err)
	}
	defer func() { _ = stmt.Close() }()

	for path, digest := range current {
		if _, err = stmt.ExecContext(ctx, path, digest); err != nil {
			return ferrors.StorageError(ferrors.ErrCodeTracker, fmt.Sprintf("failed to store digest for %s", path), err)
		}
	}

	rows := map[string]string{"committed_at": time.Now().UTC().Format(time.RFC3339)}
	for k, v := range meta {
		rows[k] = v
	}
	for k, v := range rows {
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
			k, v); err != nil {
			return ferrors.StorageError(ferrors.ErrCodeTracker, "failed to store tracker metadata", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return ferrors.StorageError(ferrors.ErrCodeTracker, "failed to commit digests", err)
	}
	return nil
}

// Path returns the database file path.
func (t *Tracker) Path() string {
	return t.path
}

// Close closes the database.
func (t *Tracker) Close() error {
	return t.db.Close()
}
