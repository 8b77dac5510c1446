package idempotency

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

// SQLiteStore persists claims in a processed_events table.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the ledger at path. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path == ":memory:" {
		// pooled connections do not share a :memory: database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS processed_events (
			consumer TEXT NOT NULL,
			event_id TEXT NOT NULL,
			processed_at TEXT NOT NULL,
			PRIMARY KEY (consumer, event_id)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Claim(ctx context.Context, consumer, eventID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_events (consumer, event_id, processed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(consumer, event_id) DO NOTHING
	`, consumer, eventID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("claim %s/%s: %w", consumer, eventID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim %s/%s: %w", consumer, eventID, err)
	}

	if n == 0 {
		return fmt.Errorf("claim %s/%s: %w", consumer, eventID, berr.ErrAlreadyApplied)
	}

	return nil
}

func (s *SQLiteStore) Release(ctx context.Context, consumer, eventID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM processed_events WHERE consumer = ? AND event_id = ?
	`, consumer, eventID); err != nil {
		return fmt.Errorf("release %s/%s: %w", consumer, eventID, err)
	}

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	return s.db.Close()
}
