// Package game models the Rummikub session this server keeps continuous.
//
// The rules engine (set validation, melds, scoring) lives outside this
// repository; the continuity core only needs the structural shape of a
// session: who is playing, whose turn it is, and where every tile sits.
package game

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrPlayerNotFound indicates the player id is not part of the session.
	ErrPlayerNotFound = errors.New("player is not part of this session")
	// ErrNoPlayers indicates a session without any players.
	ErrNoPlayers = errors.New("session has no players")
)

// Player is one seat in a session.
type Player struct {
	ID               string
	Name             string
	Hand             []Tile
	HasPlayedInitial bool
	Score            int
	Disconnected     bool
	DisconnectedAt   *time.Time
	IsBot            bool
}

// Session is the live, typed form of one game. All mutation goes through the
// continuity orchestrator, which serializes access per game.
type Session struct {
	ID                 string
	Started            bool
	Ended              bool
	Paused             bool
	PauseReason        string
	CurrentPlayerIndex int
	Players            []*Player
	Board              [][]Tile
	Deck               []Tile
	CreatedAt          time.Time
}

// NewSession builds a session from an id and seated players.
func NewSession(id string, players []*Player, now func() time.Time) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("session id is required")
	}
	if len(players) == 0 {
		return nil, ErrNoPlayers
	}
	if now == nil {
		now = time.Now
	}
	return &Session{
		ID:        id,
		Players:   players,
		Board:     [][]Tile{},
		Deck:      []Tile{},
		CreatedAt: now().UTC(),
	}, nil
}

// Player returns the seat with the given id.
func (s *Session) Player(playerID string) (*Player, error) {
	for _, p := range s.Players {
		if p.ID == playerID {
			return p, nil
		}
	}
	return nil, fmt.Errorf("player %s: %w", playerID, ErrPlayerNotFound)
}

// CurrentPlayer returns the seat the turn pointer currently targets.
func (s *Session) CurrentPlayer() (*Player, error) {
	if len(s.Players) == 0 {
		return nil, ErrNoPlayers
	}
	if s.CurrentPlayerIndex < 0 || s.CurrentPlayerIndex >= len(s.Players) {
		return nil, fmt.Errorf("current player index %d out of range", s.CurrentPlayerIndex)
	}
	return s.Players[s.CurrentPlayerIndex], nil
}

// IsCurrentPlayer reports whether the turn pointer targets the given player.
func (s *Session) IsCurrentPlayer(playerID string) bool {
	current, err := s.CurrentPlayer()
	if err != nil {
		return false
	}
	return current.ID == playerID
}

// AdvanceTurn moves the turn pointer to the next connected seat. Bots count
// as connected. When every other seat is disconnected the pointer still moves
// one step so repeated calls keep rotating.
func (s *Session) AdvanceTurn() error {
	if len(s.Players) == 0 {
		return ErrNoPlayers
	}
	for step := 1; step <= len(s.Players); step++ {
		next := (s.CurrentPlayerIndex + step) % len(s.Players)
		if !s.Players[next].Disconnected {
			s.CurrentPlayerIndex = next
			return nil
		}
	}
	s.CurrentPlayerIndex = (s.CurrentPlayerIndex + 1) % len(s.Players)
	return nil
}

// MarkDisconnected flags a seat as disconnected at the given time.
func (s *Session) MarkDisconnected(playerID string, at time.Time) error {
	p, err := s.Player(playerID)
	if err != nil {
		return err
	}
	at = at.UTC()
	p.Disconnected = true
	p.DisconnectedAt = &at
	return nil
}

// MarkConnected clears the disconnected flag for a seat.
func (s *Session) MarkConnected(playerID string) error {
	p, err := s.Player(playerID)
	if err != nil {
		return err
	}
	p.Disconnected = false
	p.DisconnectedAt = nil
	return nil
}

// ConnectedCount returns the number of seats not flagged disconnected.
func (s *Session) ConnectedCount() int {
	count := 0
	for _, p := range s.Players {
		if !p.Disconnected {
			count++
		}
	}
	return count
}

// ReplaceWithBot converts a seat into a bot seat, keeping its hand and score
// so play continues from the same position.
func (s *Session) ReplaceWithBot(playerID string, botName string) error {
	p, err := s.Player(playerID)
	if err != nil {
		return err
	}
	botName = strings.TrimSpace(botName)
	if botName == "" {
		botName = p.Name + " (bot)"
	}
	p.Name = botName
	p.IsBot = true
	p.Disconnected = false
	p.DisconnectedAt = nil
	return nil
}

// Freeze marks the session terminal. Frozen sessions accept no further
// turn advancement or pause transitions.
func (s *Session) Freeze(reason string) {
	s.Ended = true
	s.Paused = false
	s.PauseReason = strings.TrimSpace(reason)
}
