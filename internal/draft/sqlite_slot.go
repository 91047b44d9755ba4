package draft

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSlot implements Slot on a local SQLite file, one row per key.
type SQLiteSlot struct {
	db  *sql.DB
	key string
}

// OpenSQLiteSlot opens (creating if needed) the draft database at path.
// Use ":memory:" for a throwaway database.
func OpenSQLiteSlot(ctx context.Context, path, key string) (*SQLiteSlot, error) {
	if key == "" {
		key = DefaultKey
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening draft database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteSlot{db: db, key: key}
	if err := s.createTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSlot) createTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS drafts (
			slot_key   TEXT PRIMARY KEY,
			body       BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating drafts table: %w", err)
	}
	return nil
}

func (s *SQLiteSlot) Read(ctx context.Context) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM drafts WHERE slot_key = ?`, s.key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("reading draft: %w", err)
	}
	return body, nil
}

func (s *SQLiteSlot) Write(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drafts (slot_key, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(slot_key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, s.key, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing draft: %w", err)
	}
	return nil
}

func (s *SQLiteSlot) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE slot_key = ?`, s.key); err != nil {
		return fmt.Errorf("deleting draft: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteSlot) Close() error {
	return s.db.Close()
}
