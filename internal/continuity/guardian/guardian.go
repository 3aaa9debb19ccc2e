// Package guardian validates the structural invariants of a session document
// and performs best-effort, deterministic repair.
//
// The guardian inspects the document form of a session (the shape that comes
// back from crash-recovery loads and the shape live sessions serialize to),
// where a missing field is distinguishable from a zero value. It never
// panics: the worst outcome is a report of remaining issues, and the caller
// decides whether the game is safe to resume.
package guardian

import (
	"fmt"

	"github.com/mbucher/tilehall/internal/game"
	"github.com/mbucher/tilehall/internal/platform/id"
)

// IssueTag labels one violated invariant.
type IssueTag string

const (
	IssueMissingGameID        IssueTag = "missing_game_id"
	IssueInvalidStartedFlag   IssueTag = "invalid_started_flag"
	IssueInvalidPlayersList   IssueTag = "invalid_players_list"
	IssueInvalidCurrentPlayer IssueTag = "invalid_current_player_index"
	IssueInvalidDeck          IssueTag = "invalid_deck"
	IssueInvalidBoard         IssueTag = "invalid_board"
	IssueTileCountOverflow    IssueTag = "tile_count_overflow"
	IssueDuplicateTileID      IssueTag = "duplicate_tile_id"
	IssueNegativeTileNumber   IssueTag = "negative_tile_number"
	IssueMissingPlayerName    IssueTag = "missing_player_name"
)

// RecoveryResult reports one repair pass.
type RecoveryResult struct {
	Recovered       bool
	Actions         []string
	RemainingIssues []IssueTag
}

// Guardian validates and repairs session documents.
type Guardian struct {
	newID func() (string, error)
}

// New builds a guardian. A nil idGenerator uses the platform generator.
func New(idGenerator func() (string, error)) *Guardian {
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	return &Guardian{newID: idGenerator}
}

// DetectCorruption returns every violated invariant in deterministic order.
// A structurally valid document yields an empty list.
func (g *Guardian) DetectCorruption(doc *game.SessionDoc) []IssueTag {
	if doc == nil {
		return []IssueTag{IssueMissingGameID, IssueInvalidStartedFlag, IssueInvalidPlayersList, IssueInvalidCurrentPlayer, IssueInvalidDeck, IssueInvalidBoard}
	}

	var issues []IssueTag
	if doc.ID == "" {
		issues = append(issues, IssueMissingGameID)
	}
	if doc.Started == nil {
		issues = append(issues, IssueInvalidStartedFlag)
	}
	if doc.Players == nil {
		issues = append(issues, IssueInvalidPlayersList)
	}
	if invalidCurrentPlayerIndex(doc) {
		issues = append(issues, IssueInvalidCurrentPlayer)
	}
	if doc.Deck == nil {
		issues = append(issues, IssueInvalidDeck)
	}
	if doc.Board == nil {
		issues = append(issues, IssueInvalidBoard)
	}
	if totalTileCount(doc) > game.MaxTiles {
		issues = append(issues, IssueTileCountOverflow)
	}
	if hasDuplicateTileIDs(doc) {
		issues = append(issues, IssueDuplicateTileID)
	}
	if hasNegativeHandTiles(doc) {
		issues = append(issues, IssueNegativeTileNumber)
	}
	if hasMissingPlayerNames(doc) {
		issues = append(issues, IssueMissingPlayerName)
	}
	return issues
}

// AttemptRecovery applies one deterministic repair per detected issue and
// re-checks the document. Running it on an already-valid document is a
// no-op: Recovered is false and Actions is empty.
func (g *Guardian) AttemptRecovery(doc *game.SessionDoc) RecoveryResult {
	if doc == nil {
		return RecoveryResult{RemainingIssues: g.DetectCorruption(nil)}
	}

	var actions []string
	for _, issue := range g.DetectCorruption(doc) {
		switch issue {
		case IssueMissingGameID:
			generated, err := g.newID()
			if err != nil {
				// Leave the issue in place; it shows up in RemainingIssues.
				continue
			}
			doc.ID = generated
			actions = append(actions, "assigned generated game id")
		case IssueInvalidStartedFlag:
			started := false
			doc.Started = &started
			actions = append(actions, "reset started flag to false")
		case IssueInvalidPlayersList:
			doc.Players = []game.PlayerDoc{}
			actions = append(actions, "reset players to empty list")
		case IssueInvalidCurrentPlayer:
			index := 0
			doc.CurrentPlayerIndex = &index
			actions = append(actions, "reset current player index to 0")
		case IssueInvalidDeck:
			doc.Deck = []game.Tile{}
			actions = append(actions, "reset deck to empty")
		case IssueInvalidBoard:
			doc.Board = [][]game.Tile{}
			actions = append(actions, "reset board to empty")
		case IssueTileCountOverflow:
			// Conservative fail-safe: no reconstruction attempt.
			doc.Deck = []game.Tile{}
			for i := range doc.Players {
				doc.Players[i].Hand = []game.Tile{}
			}
			actions = append(actions, "reset deck and hands after tile overflow")
		case IssueDuplicateTileID:
			removed := dropDuplicateTiles(doc)
			actions = append(actions, fmt.Sprintf("removed %d duplicate tiles", removed))
		case IssueNegativeTileNumber:
			removed := dropNegativeHandTiles(doc)
			actions = append(actions, fmt.Sprintf("removed %d negative tiles from hands", removed))
		case IssueMissingPlayerName:
			for i := range doc.Players {
				if doc.Players[i].Name == "" {
					doc.Players[i].Name = fmt.Sprintf("Player %d", i+1)
				}
			}
			actions = append(actions, "assigned placeholder player names")
		}
	}

	return RecoveryResult{
		Recovered:       len(actions) > 0,
		Actions:         actions,
		RemainingIssues: g.DetectCorruption(doc),
	}
}

func invalidCurrentPlayerIndex(doc *game.SessionDoc) bool {
	if doc.CurrentPlayerIndex == nil {
		return true
	}
	index := *doc.CurrentPlayerIndex
	if index < 0 {
		return true
	}
	// An empty seat list accepts only the zero index.
	if len(doc.Players) == 0 {
		return index != 0
	}
	return index >= len(doc.Players)
}

func totalTileCount(doc *game.SessionDoc) int {
	count := len(doc.Deck)
	for _, p := range doc.Players {
		count += len(p.Hand)
	}
	for _, set := range doc.Board {
		count += len(set)
	}
	return count
}

func hasDuplicateTileIDs(doc *game.SessionDoc) bool {
	seen := make(map[int]bool)
	duplicate := false
	forEachTile(doc, func(tile game.Tile) bool {
		if seen[tile.ID] {
			duplicate = true
			return false
		}
		seen[tile.ID] = true
		return true
	})
	return duplicate
}

func hasNegativeHandTiles(doc *game.SessionDoc) bool {
	for _, p := range doc.Players {
		for _, tile := range p.Hand {
			if tile.Number < 0 {
				return true
			}
		}
	}
	return false
}

func hasMissingPlayerNames(doc *game.SessionDoc) bool {
	for _, p := range doc.Players {
		if p.Name == "" {
			return true
		}
	}
	return false
}

// forEachTile visits hands in seat order, then the deck, then the board.
// The visitor returns false to stop early.
func forEachTile(doc *game.SessionDoc, visit func(game.Tile) bool) {
	for _, p := range doc.Players {
		for _, tile := range p.Hand {
			if !visit(tile) {
				return
			}
		}
	}
	for _, tile := range doc.Deck {
		if !visit(tile) {
			return
		}
	}
	for _, set := range doc.Board {
		for _, tile := range set {
			if !visit(tile) {
				return
			}
		}
	}
}

// dropDuplicateTiles keeps the first occurrence of each tile id, visiting
// hands in seat order, then the deck, then the board.
func dropDuplicateTiles(doc *game.SessionDoc) int {
	seen := make(map[int]bool)
	removed := 0

	keep := func(tiles []game.Tile) []game.Tile {
		kept := tiles[:0]
		for _, tile := range tiles {
			if seen[tile.ID] {
				removed++
				continue
			}
			seen[tile.ID] = true
			kept = append(kept, tile)
		}
		return kept
	}

	for i := range doc.Players {
		doc.Players[i].Hand = keep(doc.Players[i].Hand)
	}
	doc.Deck = keep(doc.Deck)
	for i := range doc.Board {
		doc.Board[i] = keep(doc.Board[i])
	}
	return removed
}

func dropNegativeHandTiles(doc *game.SessionDoc) int {
	removed := 0
	for i := range doc.Players {
		kept := doc.Players[i].Hand[:0]
		for _, tile := range doc.Players[i].Hand {
			if tile.Number < 0 {
				removed++
				continue
			}
			kept = append(kept, tile)
		}
		doc.Players[i].Hand = kept
	}
	return removed
}
