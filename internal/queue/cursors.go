package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/clipcloud/internal/auth"
)

const (
	sqlGetCursor = `SELECT cursor FROM change_cursors WHERE provider = ?`
	sqlSetCursor = `INSERT INTO change_cursors (provider, cursor, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`
	sqlClearCursor = `DELETE FROM change_cursors WHERE provider = ?`
)

// Cursor returns the saved change-feed cursor for p, or "" when none is saved.
func (s *Store) Cursor(ctx context.Context, p auth.Provider) (string, error) {
	var cursor string

	err := s.db.QueryRowContext(ctx, sqlGetCursor, string(p)).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("queue: reading %s change cursor: %w", p, err)
	}

	return cursor, nil
}

// SetCursor saves the change-feed cursor for p.
func (s *Store) SetCursor(ctx context.Context, p auth.Provider, cursor string, now time.Time) error {
	if err := s.writable(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, sqlSetCursor, string(p), cursor, now.UnixNano()); err != nil {
		return fmt.Errorf("queue: saving %s change cursor: %w", p, err)
	}

	return nil
}

// ClearCursor forgets the change-feed cursor for p, e.g. after the provider
// reports it expired.
func (s *Store) ClearCursor(ctx context.Context, p auth.Provider) error {
	if err := s.writable(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, sqlClearCursor, string(p)); err != nil {
		return fmt.Errorf("queue: clearing %s change cursor: %w", p, err)
	}

	return nil
}
