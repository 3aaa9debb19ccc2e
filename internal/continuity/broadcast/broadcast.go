// Package broadcast formats and emits the session-continuity wire messages.
//
// The broadcaster is stateless apart from the grace-period tickers it keeps
// per game. Payload field names are the client compatibility surface and
// must not change. Formatting failures degrade to a generic message and a
// log line; they never panic and never block the caller.
package broadcast

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/mbucher/tilehall/internal/continuity/scheduler"
)

// Frame is one wire message sent to clients.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Sender delivers frames to a game room or to a single player in it.
// The websocket transport implements it; tests use a recording fake.
type Sender interface {
	Broadcast(gameID string, frame Frame)
	SendToPlayer(gameID, playerID string, frame Frame)
}

// ContinuationOption is one choice offered during a continuation vote or a
// single-player decision.
type ContinuationOption struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// graceUpdateEvery is the cadence of gracePeriodUpdate broadcasts.
const graceUpdateEvery = 30 * time.Second

// Broadcaster emits the continuity message catalogue for all games.
type Broadcaster struct {
	sender Sender
	sched  scheduler.Scheduler
	now    func() time.Time
}

// New builds a broadcaster. A nil now uses time.Now.
func New(sender Sender, sched scheduler.Scheduler, now func() time.Time) *Broadcaster {
	if now == nil {
		now = time.Now
	}
	return &Broadcaster{sender: sender, sched: sched, now: now}
}

type gamePausedPayload struct {
	GameID     string `json:"gameId"`
	Message    string `json:"message"`
	Reason     string `json:"reason"`
	PlayerName string `json:"playerName"`
	PlayerID   string `json:"playerId"`
	PausedAt   string `json:"pausedAt"`
	Timestamp  string `json:"timestamp"`
}

type gameResumedPayload struct {
	GameID                 string `json:"gameId"`
	Message                string `json:"message"`
	PlayerName             string `json:"playerName"`
	PlayerID               string `json:"playerId"`
	ResumedAt              string `json:"resumedAt"`
	PauseDuration          int64  `json:"pauseDuration"`
	FormattedPauseDuration string `json:"formattedPauseDuration"`
	Timestamp              string `json:"timestamp"`
}

type playerDisconnectedPayload struct {
	GameID          string `json:"gameId"`
	Message         string `json:"message"`
	PlayerName      string `json:"playerName"`
	PlayerID        string `json:"playerId"`
	IsCurrentPlayer bool   `json:"isCurrentPlayer"`
	Reason          string `json:"reason"`
	DisconnectedAt  string `json:"disconnectedAt"`
	Timestamp       string `json:"timestamp"`
}

type playerReconnectedPayload struct {
	GameID        string `json:"gameId"`
	PlayerID      string `json:"playerId"`
	ReconnectedAt string `json:"reconnectedAt"`
	GameState     any    `json:"gameState"`
}

type playerWelcomeBackPayload struct {
	GameID                        string `json:"gameId"`
	PlayerID                      string `json:"playerId"`
	PlayerName                    string `json:"playerName"`
	Message                       string `json:"message"`
	DisconnectedDuration          int64  `json:"disconnectedDuration"`
	FormattedDisconnectedDuration string `json:"formattedDisconnectedDuration"`
	IsCurrentPlayer               bool   `json:"isCurrentPlayer"`
	Timestamp                     string `json:"timestamp"`
}

type gracePeriodStartPayload struct {
	GameID                 string `json:"gameId"`
	TargetPlayerName       string `json:"targetPlayerName"`
	TargetPlayerID         string `json:"targetPlayerId"`
	Duration               int64  `json:"duration"`
	FormattedTimeRemaining string `json:"formattedTimeRemaining"`
	Timestamp              string `json:"timestamp"`
}

type gracePeriodTickPayload struct {
	GameID                 string `json:"gameId"`
	TargetPlayerName       string `json:"targetPlayerName"`
	TargetPlayerID         string `json:"targetPlayerId"`
	TimeRemaining          int64  `json:"timeRemaining"`
	FormattedTimeRemaining string `json:"formattedTimeRemaining"`
	Timestamp              string `json:"timestamp"`
}

type continuationOptionsPayload struct {
	GameID           string               `json:"gameId"`
	TargetPlayerName string               `json:"targetPlayerName"`
	Options          []ContinuationOption `json:"options"`
	Timestamp        string               `json:"timestamp"`
}

type votingProgressPayload struct {
	GameID       string         `json:"gameId"`
	VoterName    string         `json:"voterName"`
	Choice       string         `json:"choice"`
	ChoiceText   string         `json:"choiceText"`
	TotalVotes   int            `json:"totalVotes"`
	TotalPlayers int            `json:"totalPlayers"`
	VoteCounts   map[string]int `json:"voteCounts"`
	IsComplete   bool           `json:"isComplete"`
	Timestamp    string         `json:"timestamp"`
}

type continuationDecisionPayload struct {
	GameID           string         `json:"gameId"`
	Decision         string         `json:"decision"`
	DecisionText     string         `json:"decisionText"`
	TargetPlayerName string         `json:"targetPlayerName"`
	ActionResult     string         `json:"actionResult"`
	Votes            map[string]int `json:"votes"`
	Timestamp        string         `json:"timestamp"`
}

type singlePlayerRemainingPayload struct {
	GameID     string               `json:"gameId"`
	PlayerID   string               `json:"playerId"`
	PlayerName string               `json:"playerName"`
	Message    string               `json:"message"`
	Options    []ContinuationOption `json:"options"`
	Timestamp  string               `json:"timestamp"`
}

type reconnectionSuccessfulPayload struct {
	GameID         string         `json:"gameId"`
	GameState      any            `json:"gameState"`
	ConnectionInfo connectionInfo `json:"connectionInfo"`
}

type connectionInfo struct {
	ReconnectedAt string `json:"reconnectedAt"`
	Attempts      int    `json:"attempts"`
}

type reconnectionFailedPayload struct {
	Reason    string   `json:"reason"`
	Message   string   `json:"message"`
	Fallbacks []string `json:"fallbacks"`
}

type reconnectionGuidancePayload struct {
	NextAttemptDelay int64    `json:"nextAttemptDelay"`
	AttemptNumber    int      `json:"attemptNumber"`
	Fallbacks        []string `json:"fallbacks"`
	MaxAttempts      int      `json:"maxAttempts"`
}

type gameStateCorruptedPayload struct {
	Message         string   `json:"message"`
	Recovered       bool     `json:"recovered"`
	CanContinue     bool     `json:"canContinue"`
	RecoveryActions []string `json:"recoveryActions"`
}

type gameStateRestoredPayload struct {
	GameState any    `json:"gameState"`
	Message   string `json:"message"`
}

// GamePaused announces a pause to the whole room.
func (b *Broadcaster) GamePaused(gameID, reason, playerName, playerID string, pausedAt time.Time) {
	b.broadcast(gameID, "gamePaused", gamePausedPayload{
		GameID:     gameID,
		Message:    fmt.Sprintf("Game paused: %s disconnected", playerName),
		Reason:     reason,
		PlayerName: playerName,
		PlayerID:   playerID,
		PausedAt:   b.stamp(pausedAt),
		Timestamp:  b.stamp(b.now()),
	})
}

// GameResumed announces the end of a pause, with how long it lasted.
func (b *Broadcaster) GameResumed(gameID, playerName, playerID string, resumedAt time.Time, pauseDuration time.Duration) {
	b.broadcast(gameID, "gameResumed", gameResumedPayload{
		GameID:                 gameID,
		Message:                fmt.Sprintf("Game resumed: %s is back", playerName),
		PlayerName:             playerName,
		PlayerID:               playerID,
		ResumedAt:              b.stamp(resumedAt),
		PauseDuration:          pauseDuration.Milliseconds(),
		FormattedPauseDuration: FormatDuration(pauseDuration),
		Timestamp:              b.stamp(b.now()),
	})
}

// PlayerDisconnected announces one seat dropping, flagging whether it was
// the seat whose turn it is.
func (b *Broadcaster) PlayerDisconnected(gameID, playerName, playerID, reason string, isCurrentPlayer bool, disconnectedAt time.Time) {
	b.broadcast(gameID, "playerDisconnected", playerDisconnectedPayload{
		GameID:          gameID,
		Message:         fmt.Sprintf("%s disconnected", playerName),
		PlayerName:      playerName,
		PlayerID:        playerID,
		IsCurrentPlayer: isCurrentPlayer,
		Reason:          reason,
		DisconnectedAt:  b.stamp(disconnectedAt),
		Timestamp:       b.stamp(b.now()),
	})
}

// PlayerReconnected announces a seat returning, carrying a fresh state
// snapshot for everyone.
func (b *Broadcaster) PlayerReconnected(gameID, playerID string, reconnectedAt time.Time, gameState any) {
	b.broadcast(gameID, "playerReconnected", playerReconnectedPayload{
		GameID:        gameID,
		PlayerID:      playerID,
		ReconnectedAt: b.stamp(reconnectedAt),
		GameState:     gameState,
	})
}

// PlayerWelcomeBack greets the returning player directly.
func (b *Broadcaster) PlayerWelcomeBack(gameID, playerID, playerName string, disconnectedFor time.Duration, isCurrentPlayer bool) {
	b.send(gameID, playerID, "playerWelcomeBack", playerWelcomeBackPayload{
		GameID:                        gameID,
		PlayerID:                      playerID,
		PlayerName:                    playerName,
		Message:                       fmt.Sprintf("Welcome back, %s! You were away for %s.", playerName, FormatDuration(disconnectedFor)),
		DisconnectedDuration:          disconnectedFor.Milliseconds(),
		FormattedDisconnectedDuration: FormatDuration(disconnectedFor),
		IsCurrentPlayer:               isCurrentPlayer,
		Timestamp:                     b.stamp(b.now()),
	})
}

// StartGracePeriod announces the grace window and starts the periodic
// countdown broadcast for the game. At most one ticker runs per game; a
// second call replaces the first.
func (b *Broadcaster) StartGracePeriod(gameID, targetPlayerName, targetPlayerID string, duration time.Duration) {
	deadline := b.now().Add(duration)
	b.broadcast(gameID, "gracePeriodStart", gracePeriodStartPayload{
		GameID:                 gameID,
		TargetPlayerName:       targetPlayerName,
		TargetPlayerID:         targetPlayerID,
		Duration:               duration.Milliseconds(),
		FormattedTimeRemaining: FormatDuration(duration),
		Timestamp:              b.stamp(b.now()),
	})
	b.sched.Every(graceTickerKey(gameID), graceUpdateEvery, func() {
		remaining := deadline.Sub(b.now())
		if remaining <= 0 {
			b.sched.Cancel(graceTickerKey(gameID))
			return
		}
		b.broadcast(gameID, "gracePeriodUpdate", gracePeriodTickPayload{
			GameID:                 gameID,
			TargetPlayerName:       targetPlayerName,
			TargetPlayerID:         targetPlayerID,
			TimeRemaining:          remaining.Milliseconds(),
			FormattedTimeRemaining: FormatDuration(remaining),
			Timestamp:              b.stamp(b.now()),
		})
	})
}

// GracePeriodExpired announces the window closing and stops the countdown.
func (b *Broadcaster) GracePeriodExpired(gameID, targetPlayerName, targetPlayerID string) {
	b.StopGracePeriod(gameID)
	b.broadcast(gameID, "gracePeriodExpired", gracePeriodTickPayload{
		GameID:                 gameID,
		TargetPlayerName:       targetPlayerName,
		TargetPlayerID:         targetPlayerID,
		TimeRemaining:          0,
		FormattedTimeRemaining: FormatDuration(0),
		Timestamp:              b.stamp(b.now()),
	})
}

// StopGracePeriod cancels the countdown ticker without announcing anything.
// Safe to call when no ticker is running.
func (b *Broadcaster) StopGracePeriod(gameID string) {
	b.sched.Cancel(graceTickerKey(gameID))
}

// ContinuationOptions presents the vote choices to the room.
func (b *Broadcaster) ContinuationOptions(gameID, targetPlayerName string, options []ContinuationOption) {
	b.broadcast(gameID, "continuationOptions", continuationOptionsPayload{
		GameID:           gameID,
		TargetPlayerName: targetPlayerName,
		Options:          options,
		Timestamp:        b.stamp(b.now()),
	})
}

// VotingProgress reports one recorded vote and the running tally.
func (b *Broadcaster) VotingProgress(gameID, voterName, choice, choiceText string, totalVotes, totalPlayers int, voteCounts map[string]int, isComplete bool) {
	b.broadcast(gameID, "votingProgress", votingProgressPayload{
		GameID:       gameID,
		VoterName:    voterName,
		Choice:       choice,
		ChoiceText:   choiceText,
		TotalVotes:   totalVotes,
		TotalPlayers: totalPlayers,
		VoteCounts:   voteCounts,
		IsComplete:   isComplete,
		Timestamp:    b.stamp(b.now()),
	})
}

// ContinuationDecision announces the resolved vote and what the server did.
func (b *Broadcaster) ContinuationDecision(gameID, decision, decisionText, targetPlayerName, actionResult string, votes map[string]int) {
	b.broadcast(gameID, "continuationDecision", continuationDecisionPayload{
		GameID:           gameID,
		Decision:         decision,
		DecisionText:     decisionText,
		TargetPlayerName: targetPlayerName,
		ActionResult:     actionResult,
		Votes:            votes,
		Timestamp:        b.stamp(b.now()),
	})
}

// SinglePlayerRemaining offers the last connected player their choices
// directly; no vote is opened.
func (b *Broadcaster) SinglePlayerRemaining(gameID, playerID, playerName string, options []ContinuationOption) {
	b.send(gameID, playerID, "singlePlayerRemaining", singlePlayerRemainingPayload{
		GameID:     gameID,
		PlayerID:   playerID,
		PlayerName: playerName,
		Message:    "You are the only player still connected. Choose how to continue.",
		Options:    options,
		Timestamp:  b.stamp(b.now()),
	})
}

// ReconnectionSuccessful confirms a restore to the returning player only.
func (b *Broadcaster) ReconnectionSuccessful(gameID, playerID string, gameState any, reconnectedAt time.Time, attempts int) {
	b.send(gameID, playerID, "reconnectionSuccessful", reconnectionSuccessfulPayload{
		GameID:    gameID,
		GameState: gameState,
		ConnectionInfo: connectionInfo{
			ReconnectedAt: b.stamp(reconnectedAt),
			Attempts:      attempts,
		},
	})
}

// ReconnectionFailed tells the player why a reconnect was refused and what
// they can still do.
func (b *Broadcaster) ReconnectionFailed(gameID, playerID, reason, message string, fallbacks []string) {
	b.send(gameID, playerID, "reconnectionFailed", reconnectionFailedPayload{
		Reason:    reason,
		Message:   message,
		Fallbacks: fallbacks,
	})
}

// ReconnectionGuidance coaches the retry loop after a failed attempt.
func (b *Broadcaster) ReconnectionGuidance(gameID, playerID string, nextAttemptDelay time.Duration, attemptNumber, maxAttempts int, fallbacks []string) {
	b.send(gameID, playerID, "reconnectionGuidance", reconnectionGuidancePayload{
		NextAttemptDelay: nextAttemptDelay.Milliseconds(),
		AttemptNumber:    attemptNumber,
		Fallbacks:        fallbacks,
		MaxAttempts:      maxAttempts,
	})
}

// GameStateCorrupted reports a failed or partial integrity check to the room.
func (b *Broadcaster) GameStateCorrupted(gameID string, recovered, canContinue bool, recoveryActions []string) {
	message := "The game state could not be repaired. The game will end; your scores are preserved."
	if canContinue {
		message = "A problem with the game state was repaired automatically. Play continues."
	}
	b.broadcast(gameID, "gameStateCorrupted", gameStateCorruptedPayload{
		Message:         message,
		Recovered:       recovered,
		CanContinue:     canContinue,
		RecoveryActions: recoveryActions,
	})
}

// GameStateRestored delivers a verified snapshot to one player.
func (b *Broadcaster) GameStateRestored(gameID, playerID string, gameState any) {
	b.send(gameID, playerID, "gameStateRestored", gameStateRestoredPayload{
		GameState: gameState,
		Message:   "Game state restored.",
	})
}

func (b *Broadcaster) broadcast(gameID, frameType string, payload any) {
	b.sender.Broadcast(gameID, b.frame(gameID, frameType, payload))
}

func (b *Broadcaster) send(gameID, playerID, frameType string, payload any) {
	b.sender.SendToPlayer(gameID, playerID, b.frame(gameID, frameType, payload))
}

// frame marshals the payload, degrading to a generic notice when the
// payload cannot be encoded.
func (b *Broadcaster) frame(gameID, frameType string, payload any) Frame {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("broadcast: payload encode failed game=%s type=%s err=%v", gameID, frameType, err)
		raw, _ = json.Marshal(map[string]string{
			"gameId":  gameID,
			"message": "A game update could not be delivered in full.",
		})
	}
	return Frame{Type: frameType, Payload: raw}
}

func (b *Broadcaster) stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func graceTickerKey(gameID string) string {
	return "game:" + gameID + ":grace-ticker"
}

// FormatDuration renders a duration the way clients display it, rounded to
// whole seconds: "45s", "2m 5s", "1h 3m".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
