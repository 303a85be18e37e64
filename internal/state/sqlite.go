// Package state persists the engine's recovery state between process runs:
// the per-thread watermark map and the sync cursor. Both are rewritten every
// cycle, so the store must be cheap to hit — a local SQLite file, no network.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const cursorKey = "sync_cursor"

// Store holds watermarks and the sync cursor in a local SQLite database.
type Store struct {
	db *sqlx.DB
}

// NewStore opens (or creates) a SQLite database at dbPath, enables WAL
// mode, and runs any pending schema migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Watermarks loads the full thread-id → last-processed-timestamp map.
func (s *Store) Watermarks(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT thread_id, last_processed FROM watermarks")
	if err != nil {
		return nil, fmt.Errorf("querying watermarks: %w", err)
	}
	defer rows.Close()

	watermarks := make(map[string]int64)
	for rows.Next() {
		var threadID string
		var ts int64
		if err := rows.Scan(&threadID, &ts); err != nil {
			return nil, fmt.Errorf("scanning watermark row: %w", err)
		}
		watermarks[threadID] = ts
	}

	return watermarks, rows.Err()
}

// SetWatermark upserts a single thread's watermark. Used on the creation
// path, where the watermark must be durable before the row write.
func (s *Store) SetWatermark(ctx context.Context, threadID string, ts int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO watermarks (thread_id, last_processed)
		VALUES (?, ?)`,
		threadID, ts,
	)
	if err != nil {
		return fmt.Errorf("setting watermark for thread %s: %w", threadID, err)
	}
	return nil
}

// SaveWatermarks upserts the whole watermark map in one transaction.
// Called at the end of every cycle.
func (s *Store) SaveWatermarks(ctx context.Context, watermarks map[string]int64) error {
	if len(watermarks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT OR REPLACE INTO watermarks (thread_id, last_processed)
		VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing watermark upsert: %w", err)
	}
	defer stmt.Close()

	for threadID, ts := range watermarks {
		if _, err := stmt.ExecContext(ctx, threadID, ts); err != nil {
			return fmt.Errorf("upserting watermark for thread %s: %w", threadID, err)
		}
	}

	return tx.Commit()
}

// Cursor returns the persisted sync cursor, 0 when unset.
func (s *Store) Cursor(ctx context.Context) (int64, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw,
		"SELECT value FROM sync_state WHERE key = ?", cursorKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading sync cursor: %w", err)
	}

	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sync cursor %q: %w", raw, err)
	}
	return cursor, nil
}

// SetCursor persists the sync cursor.
func (s *Store) SetCursor(ctx context.Context, cursor int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_state (key, value)
		VALUES (?, ?)`,
		cursorKey, strconv.FormatInt(cursor, 10),
	)
	if err != nil {
		return fmt.Errorf("writing sync cursor: %w", err)
	}
	return nil
}
