package game

// View is the snapshot of a session sent to one player. Only the viewer's
// own hand is included; other seats expose a tile count.
type View struct {
	GameID             string       `json:"gameId"`
	Started            bool         `json:"started"`
	Ended              bool         `json:"ended,omitempty"`
	Paused             bool         `json:"paused"`
	PauseReason        string       `json:"pauseReason,omitempty"`
	CurrentPlayerIndex int          `json:"currentPlayerIndex"`
	Players            []PlayerView `json:"players"`
	Board              [][]Tile     `json:"board"`
	DeckSize           int          `json:"deckSize"`
}

// PlayerView is one seat as seen by a viewer.
type PlayerView struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	TileCount        int    `json:"tileCount"`
	Hand             []Tile `json:"hand,omitempty"`
	HasPlayedInitial bool   `json:"hasPlayedInitial"`
	Score            int    `json:"score"`
	Disconnected     bool   `json:"disconnected,omitempty"`
	IsBot            bool   `json:"isBot,omitempty"`
}

// State returns the session snapshot as seen by viewerID. Unknown viewers
// get the fully redacted view.
func (s *Session) State(viewerID string) View {
	players := make([]PlayerView, 0, len(s.Players))
	for _, p := range s.Players {
		view := PlayerView{
			ID:               p.ID,
			Name:             p.Name,
			TileCount:        len(p.Hand),
			HasPlayedInitial: p.HasPlayedInitial,
			Score:            p.Score,
			Disconnected:     p.Disconnected,
			IsBot:            p.IsBot,
		}
		if p.ID == viewerID {
			view.Hand = append([]Tile(nil), p.Hand...)
		}
		players = append(players, view)
	}

	board := make([][]Tile, 0, len(s.Board))
	for _, set := range s.Board {
		board = append(board, append([]Tile(nil), set...))
	}

	return View{
		GameID:             s.ID,
		Started:            s.Started,
		Ended:              s.Ended,
		Paused:             s.Paused,
		PauseReason:        s.PauseReason,
		CurrentPlayerIndex: s.CurrentPlayerIndex,
		Players:            players,
		Board:              board,
		DeckSize:           len(s.Deck),
	}
}
