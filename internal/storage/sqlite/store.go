// Package sqlite provides a SQLite-backed session snapshot store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mbucher/tilehall/internal/game"
	sqlitemigrate "github.com/mbucher/tilehall/internal/platform/storage/sqlitemigrate"
	"github.com/mbucher/tilehall/internal/storage"
	"github.com/mbucher/tilehall/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists session snapshots in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite session store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveSession upserts the snapshot for doc.ID.
func (s *Store) SaveSession(ctx context.Context, doc game.SessionDoc, savedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("game id is required")
	}
	snapshot, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO game_sessions (game_id, snapshot, saved_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (game_id) DO UPDATE SET
		   snapshot = excluded.snapshot,
		   saved_at = excluded.saved_at`,
		doc.ID,
		string(snapshot),
		savedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", doc.ID, err)
	}
	return nil
}

// LoadSession returns the latest snapshot for the game id.
func (s *Store) LoadSession(ctx context.Context, gameID string) (game.SessionDoc, error) {
	if err := ctx.Err(); err != nil {
		return game.SessionDoc{}, err
	}
	if s == nil || s.sqlDB == nil {
		return game.SessionDoc{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(gameID) == "" {
		return game.SessionDoc{}, fmt.Errorf("game id is required")
	}
	var snapshot string
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT snapshot FROM game_sessions WHERE game_id = ?`,
		gameID,
	).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return game.SessionDoc{}, storage.ErrSessionNotFound
	}
	if err != nil {
		return game.SessionDoc{}, fmt.Errorf("load session %s: %w", gameID, err)
	}
	var doc game.SessionDoc
	if err := json.Unmarshal([]byte(snapshot), &doc); err != nil {
		return game.SessionDoc{}, fmt.Errorf("decode snapshot %s: %w", gameID, err)
	}
	return doc, nil
}

// DeleteSession removes the snapshot for the game id.
func (s *Store) DeleteSession(ctx context.Context, gameID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM game_sessions WHERE game_id = ?`, gameID)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", gameID, err)
	}
	return nil
}
