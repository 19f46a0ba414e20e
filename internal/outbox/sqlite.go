package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"go.feedmesh.dev/internal/message"
)

const schema = `
CREATE TABLE IF NOT EXISTS outbox (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	receiver_type TEXT NOT NULL,
	receiver_options TEXT NOT NULL,
	messages TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	in_progress_at INTEGER
);
CREATE INDEX IF NOT EXISTS outbox_unclaimed_idx ON outbox (created_at) WHERE in_progress_at IS NULL;
CREATE INDEX IF NOT EXISTS outbox_claimed_idx ON outbox (in_progress_at) WHERE in_progress_at IS NOT NULL;
`

// SQLiteStore is a Store backed by an embedded SQLite database. Writers
// are serialized through a single open connection (SetMaxOpenConns(1))
// rather than relying on SQLite's own locking, matching the rest of the
// repository's embedded-storage convention.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) the outbox table at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening outbox database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating outbox schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, item Item) (string, error) {
	receiverOptions, err := json.Marshal(item.ReceiverOptions)
	if err != nil {
		return "", fmt.Errorf("marshaling receiver options: %w", err)
	}
	messages, err := json.Marshal(item.Messages)
	if err != nil {
		return "", fmt.Errorf("marshaling messages: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outbox (id, source_id, receiver_type, receiver_options, messages, created_at, in_progress_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		id, item.SourceID, item.ReceiverType, string(receiverOptions), string(messages), time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("inserting outbox item: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) Claim(ctx context.Context, now time.Time, limit int) ([]*Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, source_id, receiver_type, receiver_options, messages, created_at FROM outbox
		 WHERE in_progress_at IS NULL ORDER BY created_at LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("selecting unclaimed items: %w", err)
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	stamp := now.Unix()
	upd, err := tx.PrepareContext(ctx, `UPDATE outbox SET in_progress_at = ? WHERE id = ?`)
	if err != nil {
		return nil, fmt.Errorf("preparing claim update: %w", err)
	}
	defer upd.Close()
	for _, it := range items {
		if _, err := upd.ExecContext(ctx, stamp, it.ID); err != nil {
			return nil, fmt.Errorf("claiming item %s: %w", it.ID, err)
		}
		t := now
		it.InProgressAt = &t
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) ClaimDeadLetters(ctx context.Context, now time.Time, limit int) ([]*Item, error) {
	cutoff := now.Add(-DeadLetterDelta).Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning dead-letter claim transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, source_id, receiver_type, receiver_options, messages, created_at FROM outbox
		 WHERE in_progress_at IS NOT NULL AND in_progress_at < ? ORDER BY in_progress_at LIMIT ?`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting dead-letter items: %w", err)
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	stamp := now.Unix()
	upd, err := tx.PrepareContext(ctx, `UPDATE outbox SET in_progress_at = ? WHERE id = ?`)
	if err != nil {
		return nil, fmt.Errorf("preparing dead-letter reclaim: %w", err)
	}
	defer upd.Close()
	for _, it := range items {
		if _, err := upd.ExecContext(ctx, stamp, it.ID); err != nil {
			return nil, fmt.Errorf("reclaiming dead letter %s: %w", it.ID, err)
		}
		t := now
		it.InProgressAt = &t
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing dead-letter reclaim: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) Commit(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("committing item %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting outbox: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// scanItems reads outbox rows into Items, leaving InProgressAt unset (claim
// callers stamp it themselves after the UPDATE succeeds within the same
// transaction).
func scanItems(rows *sql.Rows) ([]*Item, error) {
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		var (
			id               string
			sourceID         string
			receiverType     string
			receiverOptions  string
			messagesPayload  string
			createdAt        int64
		)
		if err := rows.Scan(&id, &sourceID, &receiverType, &receiverOptions, &messagesPayload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning outbox row: %w", err)
		}
		var opts map[string]any
		if err := json.Unmarshal([]byte(receiverOptions), &opts); err != nil {
			return nil, fmt.Errorf("unmarshaling receiver options for %s: %w", id, err)
		}
		var messages []message.Message
		if err := json.Unmarshal([]byte(messagesPayload), &messages); err != nil {
			return nil, fmt.Errorf("unmarshaling messages for %s: %w", id, err)
		}
		items = append(items, &Item{
			ID:              id,
			SourceID:        sourceID,
			ReceiverType:    receiverType,
			ReceiverOptions: opts,
			Messages:        messages,
			CreatedAt:       time.Unix(createdAt, 0),
		})
	}
	return items, rows.Err()
}
