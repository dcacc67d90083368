package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// FlagStore is a discovery.KeyValueStore backed by a two-column table:
//
//	CREATE TABLE flags (name TEXT PRIMARY KEY, value BOOLEAN NOT NULL, updated_at TIMESTAMPTZ NOT NULL);
type FlagStore struct {
	db    DB
	table string
	now   func() time.Time
}

// NewFlagStore wraps an open pool. table defaults to "flags".
func NewFlagStore(db DB, table string) (*FlagStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, "flags")
	if err != nil {
		return nil, err
	}
	return &FlagStore{db: db, table: name, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Get returns the flag value and whether a row exists.
func (s *FlagStore) Get(ctx context.Context, key string) (bool, bool, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE name = $1`, s.table)
	var value bool
	if err := s.db.QueryRow(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("get flag %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts the flag.
func (s *FlagStore) Set(ctx context.Context, key string, value bool) error {
	query := fmt.Sprintf(`
INSERT INTO %s (name, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE
SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.db.Exec(ctx, query, key, value, s.now()); err != nil {
		return fmt.Errorf("set flag %s: %w", key, err)
	}
	return nil
}
