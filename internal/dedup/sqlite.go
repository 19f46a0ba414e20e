package dedup

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS posts (
	key     TEXT NOT NULL,
	post_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_posts_key ON posts(key);
`

// SQLiteStore is a Store backed by an embedded SQLite database, with a
// single open connection to serialize writers.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) the posts table at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening dedup database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating dedup schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) HasAny(ctx context.Context, key Key) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE key = ? LIMIT 1`,
		key.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking dedup scope %+v: %w", key, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) IsProcessed(ctx context.Context, key Key, postID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE key = ? AND post_id = ?`,
		key.String(), postID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking dedup %+v/%s: %w", key, postID, err)
	}
	return n > 0, nil
}

// MarkProcessed inserts every id in postIDs in a single transaction. No
// uniqueness constraint guards against re-inserting an id already present;
// reads (HasAny, IsProcessed) tolerate duplicate rows via COUNT(*) > 0.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, key Key, postIDs []string) error {
	if len(postIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("marking processed %+v: %w", key, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO posts (key, post_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("marking processed %+v: %w", key, err)
	}
	defer stmt.Close()

	k := key.String()
	for _, postID := range postIDs {
		if _, err := stmt.ExecContext(ctx, k, postID); err != nil {
			return fmt.Errorf("marking processed %+v/%s: %w", key, postID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
