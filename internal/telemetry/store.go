package telemetry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/forge-ai/forge/internal/sqlitedb"
)

// FileName is the telemetry database inside the data directory.
const FileName = "telemetry.db"

// maxZeroResultRows bounds the persisted zero-result history.
const maxZeroResultRows = 100

var migrations = []sqlitedb.Migration{
	{
		Version: 1,
		Up: `
		CREATE TABLE query_type_stats (
			date TEXT NOT NULL,
			query_type TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (date, query_type)
		);

		CREATE TABLE query_terms (
			term TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 1,
			last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX idx_query_terms_count ON query_terms(count DESC);

		CREATE TABLE zero_result_queries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			query TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL
		);

		CREATE TABLE query_latency_stats (
			date TEXT NOT NULL,
			bucket TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (date, bucket)
		);`,
	},
}

// Store persists query statistics in SQLite.
type Store struct {
	db *sql.DB
}

var _ Sink = (*Store)(nil)

// OpenStore opens or creates the database at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	if err := sqlitedb.Migrate(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("telemetry schema: %w", err)
	}
	return &Store{db: db}, nil
}

// WriteBatch adds b to the stored totals in one transaction.
func (s *Store) WriteBatch(ctx context.Context, b Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	date := b.Date()
	for qt, count := range b.Types {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_type_stats (date, query_type, count) VALUES (?, ?, ?)
			ON CONFLICT(date, query_type) DO UPDATE SET count = count + excluded.count`,
			date, string(qt), count); err != nil {
			return fmt.Errorf("insert query type count: %w", err)
		}
	}

	for term, count := range b.Terms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_terms (term, count, last_seen) VALUES (?, ?, ?)
			ON CONFLICT(term) DO UPDATE SET count = count + excluded.count, last_seen = excluded.last_seen`,
			term, count, b.At); err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}

	for bucket, count := range b.Latencies {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_latency_stats (date, bucket, count) VALUES (?, ?, ?)
			ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count`,
			date, string(bucket), count); err != nil {
			return fmt.Errorf("insert latency count: %w", err)
		}
	}

	if len(b.ZeroResults) > 0 {
		for _, q := range b.ZeroResults {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO zero_result_queries (query, timestamp) VALUES (?, ?)`, q, b.At); err != nil {
				return fmt.Errorf("insert zero-result query: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM zero_result_queries
			WHERE id NOT IN (SELECT id FROM zero_result_queries ORDER BY id DESC LIMIT ?)`,
			maxZeroResultRows); err != nil {
			return fmt.Errorf("trim zero-result queries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// TypeCounts sums query types over [from, to], both YYYY-MM-DD.
func (s *Store) TypeCounts(ctx context.Context, from, to string) (map[QueryType]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query_type, SUM(count) FROM query_type_stats
		WHERE date >= ? AND date <= ?
		GROUP BY query_type`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query type counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[QueryType]int64)
	for rows.Next() {
		var qt string
		var count int64
		if err := rows.Scan(&qt, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[QueryType(qt)] = count
	}
	return counts, rows.Err()
}

// TopTerms returns the most frequent terms.
func (s *Store) TopTerms(ctx context.Context, limit int) ([]TermCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT term, count FROM query_terms ORDER BY count DESC, term LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// ZeroResultQueries returns recent queries that found nothing, newest
// first.
func (s *Store) ZeroResultQueries(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT query FROM zero_result_queries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// LatencyCounts sums the latency histogram over [from, to].
func (s *Store) LatencyCounts(ctx context.Context, from, to string) (map[LatencyBucket]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket, SUM(count) FROM query_latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[LatencyBucket]int64)
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[LatencyBucket(bucket)] = count
	}
	return counts, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

