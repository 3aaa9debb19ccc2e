package game

import (
	"errors"
	"time"
)

// SessionDoc is the document form of a session: the shape that crosses the
// persistence boundary and the shape the state guardian inspects. Scalar
// fields are pointers so a missing field is distinguishable from a zero
// value after a crash-recovery load.
type SessionDoc struct {
	ID                 string      `json:"id,omitempty"`
	Started            *bool       `json:"started,omitempty"`
	Ended              *bool       `json:"ended,omitempty"`
	Paused             *bool       `json:"paused,omitempty"`
	PauseReason        string      `json:"pauseReason,omitempty"`
	CurrentPlayerIndex *int        `json:"currentPlayerIndex,omitempty"`
	Players            []PlayerDoc `json:"players,omitempty"`
	Board              [][]Tile    `json:"board,omitempty"`
	Deck               []Tile      `json:"deck,omitempty"`
	CreatedAt          time.Time   `json:"createdAt,omitzero"`
}

// PlayerDoc is the document form of one seat.
type PlayerDoc struct {
	ID               string     `json:"id,omitempty"`
	Name             string     `json:"name,omitempty"`
	Hand             []Tile     `json:"hand,omitempty"`
	HasPlayedInitial bool       `json:"hasPlayedInitial,omitempty"`
	Score            int        `json:"score,omitempty"`
	Disconnected     bool       `json:"disconnected,omitempty"`
	DisconnectedAt   *time.Time `json:"disconnectedAt,omitempty"`
	IsBot            bool       `json:"isBot,omitempty"`
}

// Doc converts the live session into its document form.
func (s *Session) Doc() SessionDoc {
	started := s.Started
	ended := s.Ended
	paused := s.Paused
	index := s.CurrentPlayerIndex

	players := make([]PlayerDoc, 0, len(s.Players))
	for _, p := range s.Players {
		players = append(players, PlayerDoc{
			ID:               p.ID,
			Name:             p.Name,
			Hand:             append([]Tile(nil), p.Hand...),
			HasPlayedInitial: p.HasPlayedInitial,
			Score:            p.Score,
			Disconnected:     p.Disconnected,
			DisconnectedAt:   p.DisconnectedAt,
			IsBot:            p.IsBot,
		})
	}

	board := make([][]Tile, 0, len(s.Board))
	for _, set := range s.Board {
		board = append(board, append([]Tile(nil), set...))
	}

	return SessionDoc{
		ID:                 s.ID,
		Started:            &started,
		Ended:              &ended,
		Paused:             &paused,
		PauseReason:        s.PauseReason,
		CurrentPlayerIndex: &index,
		Players:            players,
		Board:              board,
		Deck:               append([]Tile(nil), s.Deck...),
		CreatedAt:          s.CreatedAt,
	}
}

// FromDoc rehydrates a live session from its document form. The document is
// expected to be structurally valid; run the state guardian first on
// documents loaded after a crash.
func FromDoc(doc SessionDoc) (*Session, error) {
	if doc.ID == "" {
		return nil, errors.New("session document has no id")
	}
	if doc.Started == nil || doc.CurrentPlayerIndex == nil {
		return nil, errors.New("session document is missing required fields")
	}

	players := make([]*Player, 0, len(doc.Players))
	for _, p := range doc.Players {
		players = append(players, &Player{
			ID:               p.ID,
			Name:             p.Name,
			Hand:             append([]Tile(nil), p.Hand...),
			HasPlayedInitial: p.HasPlayedInitial,
			Score:            p.Score,
			Disconnected:     p.Disconnected,
			DisconnectedAt:   p.DisconnectedAt,
			IsBot:            p.IsBot,
		})
	}

	session := &Session{
		ID:                 doc.ID,
		Started:            *doc.Started,
		CurrentPlayerIndex: *doc.CurrentPlayerIndex,
		Players:            players,
		Board:              doc.Board,
		Deck:               doc.Deck,
		CreatedAt:          doc.CreatedAt,
	}
	if doc.Ended != nil {
		session.Ended = *doc.Ended
	}
	if doc.Paused != nil {
		session.Paused = *doc.Paused
	}
	session.PauseReason = doc.PauseReason
	if session.Board == nil {
		session.Board = [][]Tile{}
	}
	if session.Deck == nil {
		session.Deck = []Tile{}
	}
	return session, nil
}
