// Package storage defines the persistence boundary for game sessions.
//
// Saves are opportunistic: callers fire them after meaningful transitions
// and treat failures as log-only events. Loads back the post-crash restore
// path and return the raw document form so the state guardian can inspect
// it before anything trusts the data.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mbucher/tilehall/internal/game"
)

// ErrSessionNotFound reports that no snapshot exists for the game id.
var ErrSessionNotFound = errors.New("session snapshot not found")

// SessionStore persists full session snapshots keyed by game id.
type SessionStore interface {
	// SaveSession upserts the snapshot for doc.ID.
	SaveSession(ctx context.Context, doc game.SessionDoc, savedAt time.Time) error
	// LoadSession returns the latest snapshot for the game id, or
	// ErrSessionNotFound.
	LoadSession(ctx context.Context, gameID string) (game.SessionDoc, error)
	// DeleteSession removes the snapshot for the game id. Deleting a
	// missing snapshot is not an error.
	DeleteSession(ctx context.Context, gameID string) error
	Close() error
}
