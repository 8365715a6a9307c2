package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/frothlab/froth/pkg/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	key        TEXT NOT NULL,
	doc        BLOB NOT NULL,
	version    INTEGER NOT NULL,
	PRIMARY KEY (collection, key)
);
CREATE TABLE IF NOT EXISTS counters (
	collection TEXT NOT NULL,
	key        TEXT NOT NULL,
	field      TEXT NOT NULL,
	value      INTEGER NOT NULL,
	PRIMARY KEY (collection, key, field)
);
`

// SQLiteStore is the persistent Store backend: documents as JSON blobs with
// a version column backing the compare-and-swap contract.
type SQLiteStore struct {
	db *sql.DB

	busyTimeout time.Duration
}

// SQLiteOption applies a configuration option to the SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithBusyTimeout sets how long a locked database is retried before an
// operation fails.
func WithBusyTimeout(d time.Duration) SQLiteOption {
	return func(s *SQLiteStore) {
		if d > 0 {
			s.busyTimeout = d
		}
	}
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	s := &SQLiteStore{busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrUnavailable, path, err)
	}
	// A single writer connection sidesteps SQLITE_BUSY on concurrent CAS.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d;", s.busyTimeout.Milliseconds())); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: busy_timeout: %w", ErrUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: journal_mode: %w", ErrUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: schema: %w", ErrUnavailable, err)
	}
	s.db = db
	return s, nil
}

// Get implements Store.Get.
func (s *SQLiteStore) Get(ctx context.Context, collection, key string) (Document, Revision, error) {
	defer observe("get", time.Now())

	var doc []byte
	var version uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT doc, version FROM documents WHERE collection = ? AND key = ?`,
		collection, key).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: get %s/%s: %w", ErrUnavailable, collection, key, err)
	}
	return doc, Revision(version), nil
}

// Put implements Store.Put.
func (s *SQLiteStore) Put(ctx context.Context, collection, key string, doc Document, rev Revision) (Revision, error) {
	defer observe("put", time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %w", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var current uint64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM documents WHERE collection = ? AND key = ?`,
		collection, key).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = 0
	case err != nil:
		return 0, fmt.Errorf("%w: put %s/%s: %w", ErrUnavailable, collection, key, err)
	}

	if Revision(current) != rev {
		metrics.RecordStoreConflict(collection)
		return 0, ErrRevisionMismatch
	}

	next := current + 1
	if current == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (collection, key, doc, version) VALUES (?, ?, ?, ?)`,
			collection, key, []byte(doc), next)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET doc = ?, version = ? WHERE collection = ? AND key = ?`,
			[]byte(doc), next, collection, key)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: put %s/%s: %w", ErrUnavailable, collection, key, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", ErrUnavailable, err)
	}
	return Revision(next), nil
}

// Delete implements Store.Delete.
func (s *SQLiteStore) Delete(ctx context.Context, collection, key string, rev Revision) error {
	defer observe("delete", time.Now())

	query := `DELETE FROM documents WHERE collection = ? AND key = ?`
	args := []any{collection, key}
	if rev != 0 {
		query += ` AND version = ?`
		args = append(args, uint64(rev))
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: delete %s/%s: %w", ErrUnavailable, collection, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: delete %s/%s: %w", ErrUnavailable, collection, key, err)
	}
	if n == 0 {
		if rev != 0 {
			var version uint64
			if scanErr := s.db.QueryRowContext(ctx,
				`SELECT version FROM documents WHERE collection = ? AND key = ?`,
				collection, key).Scan(&version); scanErr == nil {
				metrics.RecordStoreConflict(collection)
				return ErrRevisionMismatch
			}
		}
		return ErrNotFound
	}
	return nil
}

// Increment implements Store.Increment.
func (s *SQLiteStore) Increment(ctx context.Context, collection, key, field string, delta int64) (int64, error) {
	defer observe("increment", time.Now())

	var value int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO counters (collection, key, field, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT (collection, key, field) DO UPDATE SET value = value + excluded.value
		 RETURNING value`,
		collection, key, field, delta).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("%w: increment %s/%s.%s: %w", ErrUnavailable, collection, key, field, err)
	}
	return value, nil
}

// List implements Store.List.
func (s *SQLiteStore) List(ctx context.Context, collection string, offset, limit int) ([]Document, error) {
	defer observe("list", time.Now())
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM documents WHERE collection = ? ORDER BY key LIMIT ? OFFSET ?`,
		collection, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrUnavailable, collection, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Document
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("%w: list %s: %w", ErrUnavailable, collection, err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrUnavailable, collection, err)
	}
	return out, nil
}

// Count implements Store.Count.
func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %w", ErrUnavailable, collection, err)
	}
	return n, nil
}

// Close implements Store.Close.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite store: %w", err)
	}
	return nil
}
