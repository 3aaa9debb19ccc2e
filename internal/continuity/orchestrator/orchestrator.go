// Package orchestrator owns the per-game session continuity state machine.
//
// Every mutation to a game goes through its tracked entry's mutex, so
// disconnects, reconnects, timer callbacks, and votes for one game are
// strictly serialized while different games proceed in parallel. The
// orchestrator consumes the registry's event stream, drives pauses and
// grace periods through the scheduler, and reports everything through the
// broadcaster. Persistence is opportunistic: a failed save is a log line,
// never a blocked transition.
package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mbucher/tilehall/internal/continuity/broadcast"
	"github.com/mbucher/tilehall/internal/continuity/guardian"
	"github.com/mbucher/tilehall/internal/continuity/reconnect"
	"github.com/mbucher/tilehall/internal/continuity/registry"
	"github.com/mbucher/tilehall/internal/continuity/scheduler"
	"github.com/mbucher/tilehall/internal/game"
	apperrors "github.com/mbucher/tilehall/internal/platform/errors"
	"github.com/mbucher/tilehall/internal/platform/timeouts"
	"github.com/mbucher/tilehall/internal/storage"
)

// State is the continuity state of one game.
type State int

const (
	// StateUnspecified represents an invalid state value.
	StateUnspecified State = iota
	// StateRunning means play proceeds normally.
	StateRunning
	// StatePaused means play is held while a disconnected player may return.
	StatePaused
	// StateAwaitingDecision means the grace period expired and the remaining
	// players are voting on how to continue.
	StateAwaitingDecision
	// StateAbandoned means no player is connected; the game sits in its
	// recovery window before teardown.
	StateAbandoned
)

// String returns the wire spelling of the state.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateAwaitingDecision:
		return "awaiting_decision"
	case StateAbandoned:
		return "abandoned"
	default:
		return "unspecified"
	}
}

// Pause reasons carried on gamePaused broadcasts.
const (
	PauseCurrentPlayerDisconnect = "CURRENT_PLAYER_DISCONNECT"
	PauseMultipleDisconnects     = "MULTIPLE_DISCONNECTS"
	PauseAllPlayersDisconnect    = "ALL_PLAYERS_DISCONNECT"
)

// Choice is one continuation vote option.
type Choice string

const (
	ChoiceSkipTurn Choice = "skip_turn"
	ChoiceAddBot   Choice = "add_bot"
	ChoiceEndGame  Choice = "end_game"
)

// Single-player decision options. The last connected player decides alone.
const (
	SingleChoiceWait    = "wait"
	SingleChoiceAddBots = "add_bots"
	SingleChoiceEndGame = "end_game"
)

func choiceText(choice Choice) string {
	switch choice {
	case ChoiceSkipTurn:
		return "Skip their turn"
	case ChoiceAddBot:
		return "Replace them with a bot"
	case ChoiceEndGame:
		return "End the game"
	default:
		return string(choice)
	}
}

func continuationChoices() []broadcast.ContinuationOption {
	return []broadcast.ContinuationOption{
		{ID: string(ChoiceSkipTurn), Title: "Skip their turn", Description: "Play continues and the turn passes on", Icon: "skip"},
		{ID: string(ChoiceAddBot), Title: "Replace them with a bot", Description: "A bot takes over their hand and keeps playing", Icon: "bot"},
		{ID: string(ChoiceEndGame), Title: "End the game", Description: "Stop here and keep the current scores", Icon: "stop"},
	}
}

func singlePlayerChoices() []broadcast.ContinuationOption {
	return []broadcast.ContinuationOption{
		{ID: SingleChoiceWait, Title: "Wait for them", Description: "Hold the game while the others reconnect", Icon: "wait"},
		{ID: SingleChoiceAddBots, Title: "Fill seats with bots", Description: "Bots take over the empty seats and play on", Icon: "bot"},
		{ID: SingleChoiceEndGame, Title: "End the game", Description: "Stop here and keep the current scores", Icon: "stop"},
	}
}

// BotProvider supplies a replacement bot for an abandoned seat.
type BotProvider interface {
	ProvideBot(ctx context.Context, gameID, playerID string) (name string, err error)
}

// Config holds the continuity tunables.
type Config struct {
	// GracePeriod is how long a pause waits for the disconnected player.
	GracePeriod time.Duration
	// VoteTimeout bounds the continuation vote once the grace period ends.
	VoteTimeout time.Duration
	// AbandonmentWindow is how long an abandoned game stays recoverable.
	AbandonmentWindow time.Duration
	// Reconnect parameterizes the backoff guidance for retrying clients.
	Reconnect reconnect.Config
}

// DefaultConfig returns the production continuity tunables.
func DefaultConfig() Config {
	return Config{
		GracePeriod:       2 * time.Minute,
		VoteTimeout:       time.Minute,
		AbandonmentWindow: 5 * time.Minute,
		Reconnect:         reconnect.DefaultConfig(),
	}
}

// gracePeriod tracks the window opened by one player's disconnection.
type gracePeriod struct {
	targetPlayerID   string
	targetPlayerName string
	start            time.Time
	votes            map[string]Choice
}

type trackedGame struct {
	mu          sync.Mutex
	id          string
	session     *game.Session
	state       State
	pauseReason string
	pausedSince time.Time
	grace       *gracePeriod
	abandonedAt time.Time
}

// Orchestrator serializes continuity decisions per game.
type Orchestrator struct {
	cfg    Config
	reg    *registry.Registry
	events <-chan registry.Event
	notify *broadcast.Broadcaster
	guard  *guardian.Guardian
	sched  scheduler.Scheduler
	store  storage.SessionStore
	bots   BotProvider
	now    func() time.Time

	mu    sync.Mutex
	games map[string]*trackedGame
}

// New builds an orchestrator. A nil now uses wall time; bots and store may
// be nil, in which case add_bot degrades to skip_turn and saves are skipped.
func New(cfg Config, reg *registry.Registry, notify *broadcast.Broadcaster, guard *guardian.Guardian, sched scheduler.Scheduler, store storage.SessionStore, bots BotProvider, now func() time.Time) *Orchestrator {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultConfig().GracePeriod
	}
	if cfg.VoteTimeout <= 0 {
		cfg.VoteTimeout = DefaultConfig().VoteTimeout
	}
	if cfg.AbandonmentWindow <= 0 {
		cfg.AbandonmentWindow = DefaultConfig().AbandonmentWindow
	}
	if cfg.Reconnect.MaxAttempts <= 0 {
		cfg.Reconnect = reconnect.DefaultConfig()
	}
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		cfg:    cfg,
		reg:    reg,
		events: reg.Events(),
		notify: notify,
		guard:  guard,
		sched:  sched,
		store:  store,
		bots:   bots,
		now:    now,
		games:  make(map[string]*trackedGame),
	}
}

// Adopt places a session under continuity management in the Running state.
func (o *Orchestrator) Adopt(session *game.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.games[session.ID] = &trackedGame{id: session.ID, session: session, state: StateRunning}
}

// Run drains registry events until ctx is cancelled. Call it from one
// goroutine; per-game locks keep it safe alongside transport calls.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-o.events:
			if !ok {
				return nil
			}
			o.handleEvent(event)
		}
	}
}

// State reports the continuity state of a game.
func (o *Orchestrator) State(gameID string) (State, bool) {
	g, ok := o.tracked(gameID)
	if !ok {
		return StateUnspecified, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, true
}

// Session returns the live session for a game.
func (o *Orchestrator) Session(gameID string) (*game.Session, bool) {
	g, ok := o.tracked(gameID)
	if !ok {
		return nil, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session, true
}

func (o *Orchestrator) tracked(gameID string) (*trackedGame, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	g, ok := o.games[gameID]
	return g, ok
}

func (o *Orchestrator) handleEvent(event registry.Event) {
	g, ok := o.tracked(event.GameID)
	if !ok {
		log.Printf("continuity: event for untracked game type=%s game=%s", event.Type, event.GameID)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	switch event.Type {
	case registry.EventConnectionDisconnected:
		o.handleDisconnectLocked(g, event)
	case registry.EventConcurrentDisconnections:
		o.handleConcurrentLocked(g, event)
	case registry.EventGameAbandoned:
		o.handleAbandonedLocked(g, event)
	case registry.EventConnectionReconnected:
		// Reconnects are applied synchronously by HandleReconnect under the
		// same per-game lock; the event is informational here.
		log.Printf("continuity: reconnected game=%s player=%s conn=%s", event.GameID, event.PlayerID, event.ConnectionID)
	default:
		log.Printf("continuity: unhandled event type=%s game=%s", event.Type, event.GameID)
	}
}

func (o *Orchestrator) handleDisconnectLocked(g *trackedGame, event registry.Event) {
	session := g.session
	player, err := session.Player(event.PlayerID)
	if err != nil {
		log.Printf("continuity: disconnect for unknown player game=%s player=%s", event.GameID, event.PlayerID)
		return
	}
	if err := session.MarkDisconnected(event.PlayerID, event.At); err != nil {
		log.Printf("continuity: mark disconnected game=%s player=%s err=%v", event.GameID, event.PlayerID, err)
		return
	}

	isCurrent := session.IsCurrentPlayer(event.PlayerID)
	o.notify.PlayerDisconnected(session.ID, player.Name, player.ID, event.Reason, isCurrent, event.At)

	// A voter dropping out shrinks the required set; retally.
	if g.state == StateAwaitingDecision && g.grace != nil {
		delete(g.grace.votes, event.PlayerID)
		o.concludeVoteIfCompleteLocked(g)
		return
	}

	if g.state == StateRunning && isCurrent {
		o.pauseLocked(g, PauseCurrentPlayerDisconnect, player, event.At)
		return
	}

	if g.state == StateRunning && session.ConnectedCount() == 1 {
		o.offerSinglePlayerLocked(g)
	}
}

func (o *Orchestrator) handleConcurrentLocked(g *trackedGame, event registry.Event) {
	if g.state != StateRunning {
		return
	}
	if event.RemainingCount == 0 {
		// The abandonment event handles the zero-connected case.
		return
	}
	target := disconnectedTarget(g.session)
	if target == nil {
		log.Printf("continuity: concurrent disconnects with no disconnected seat game=%s", event.GameID)
		return
	}
	o.pauseLocked(g, PauseMultipleDisconnects, target, event.At)
}

func (o *Orchestrator) handleAbandonedLocked(g *trackedGame, event registry.Event) {
	if g.state == StateAbandoned {
		return
	}
	session := g.session
	o.cancelTimersLocked(session.ID)
	g.state = StateAbandoned
	g.grace = nil
	g.abandonedAt = event.At
	g.pauseReason = PauseAllPlayersDisconnect
	g.pausedSince = event.At
	session.Paused = true
	session.PauseReason = PauseAllPlayersDisconnect

	o.notify.GamePaused(session.ID, PauseAllPlayersDisconnect, "", "", event.At)
	o.saveAsync(session)

	gameID := session.ID
	o.sched.After(abandonKey(gameID), o.cfg.AbandonmentWindow, func() {
		o.expireAbandonment(gameID)
	})
	log.Printf("continuity: game abandoned game=%s window=%s", gameID, o.cfg.AbandonmentWindow)
}

// pauseLocked moves a running game to Paused and opens the grace period for
// the target player.
func (o *Orchestrator) pauseLocked(g *trackedGame, reason string, target *game.Player, at time.Time) {
	session := g.session
	g.state = StatePaused
	g.pauseReason = reason
	g.pausedSince = at
	g.grace = &gracePeriod{
		targetPlayerID:   target.ID,
		targetPlayerName: target.Name,
		start:            at,
		votes:            make(map[string]Choice),
	}
	session.Paused = true
	session.PauseReason = reason

	o.notify.GamePaused(session.ID, reason, target.Name, target.ID, at)
	o.notify.StartGracePeriod(session.ID, target.Name, target.ID, o.cfg.GracePeriod)
	o.saveAsync(session)

	gameID := session.ID
	o.sched.After(graceKey(gameID), o.cfg.GracePeriod, func() {
		o.expireGracePeriod(gameID)
	})
	log.Printf("continuity: game paused game=%s reason=%s target=%s", gameID, reason, target.ID)
}

// expireGracePeriod fires when the grace window elapses with the target
// still away. It opens the continuation vote.
func (o *Orchestrator) expireGracePeriod(gameID string) {
	g, ok := o.tracked(gameID)
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StatePaused || g.grace == nil {
		return
	}
	grace := g.grace
	g.state = StateAwaitingDecision

	o.notify.GracePeriodExpired(gameID, grace.targetPlayerName, grace.targetPlayerID)
	o.notify.ContinuationOptions(gameID, grace.targetPlayerName, continuationChoices())

	o.sched.After(voteKey(gameID), o.cfg.VoteTimeout, func() {
		o.expireVote(gameID)
	})

	// With one voter left there is no vote to hold; they decide alone.
	if len(o.eligibleVotersLocked(g)) == 1 {
		o.offerSinglePlayerLocked(g)
	}
}

// expireVote fires when voting stalls past the vote timeout.
func (o *Orchestrator) expireVote(gameID string) {
	g, ok := o.tracked(gameID)
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateAwaitingDecision || g.grace == nil {
		return
	}
	log.Printf("continuity: vote timed out game=%s", gameID)
	o.executeDecisionLocked(g, ChoiceSkipTurn, "vote timed out; turn skipped")
}

// CastVote records one continuation vote. Votes are accepted only from
// connected players other than the disconnected target.
func (o *Orchestrator) CastVote(gameID, voterID string, choice Choice) error {
	g, ok := o.tracked(gameID)
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeGameNotFound, "game is not under continuity management", map[string]string{"gameId": gameID})
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateAwaitingDecision || g.grace == nil {
		return apperrors.WithMetadata(apperrors.CodeVoteNotOpen, "no continuation vote is open", map[string]string{"gameId": gameID})
	}
	switch choice {
	case ChoiceSkipTurn, ChoiceAddBot, ChoiceEndGame:
	default:
		return apperrors.WithMetadata(apperrors.CodeVoteInvalidChoice, "unknown continuation choice", map[string]string{"choice": string(choice)})
	}
	if voterID == g.grace.targetPlayerID {
		return apperrors.New(apperrors.CodeVoteSelfTarget, "the disconnected player cannot vote on their own seat")
	}
	voter, err := g.session.Player(voterID)
	if err != nil {
		return apperrors.WithMetadata(apperrors.CodePlayerNotFound, "voter is not seated in this game", map[string]string{"playerId": voterID})
	}
	if voter.Disconnected {
		return apperrors.WithMetadata(apperrors.CodeVoterNotConnected, "only connected players can vote", map[string]string{"playerId": voterID})
	}

	g.grace.votes[voterID] = choice

	eligible := o.eligibleVotersLocked(g)
	counts := voteCountsLocked(g)
	total := len(g.grace.votes)
	complete := voteCompleteLocked(g, eligible, counts)
	o.notify.VotingProgress(gameID, voter.Name, string(choice), choiceText(choice), total, len(eligible), counts, complete)

	if complete {
		o.executeDecisionLocked(g, winningChoiceLocked(counts), "vote concluded")
	}
	return nil
}

// DecideSinglePlayer applies the choice of the last connected player.
func (o *Orchestrator) DecideSinglePlayer(gameID, playerID, choice string) error {
	g, ok := o.tracked(gameID)
	if !ok {
		return apperrors.WithMetadata(apperrors.CodeGameNotFound, "game is not under continuity management", map[string]string{"gameId": gameID})
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateAbandoned || g.session.Ended {
		return apperrors.New(apperrors.CodeGameAbandoned, "the game is no longer running")
	}
	if g.session.ConnectedCount() != 1 {
		return apperrors.New(apperrors.CodeVoteNotOpen, "a single-player decision needs exactly one connected player")
	}
	player, err := g.session.Player(playerID)
	if err != nil {
		return apperrors.WithMetadata(apperrors.CodePlayerNotFound, "player is not seated in this game", map[string]string{"playerId": playerID})
	}
	if player.Disconnected {
		return apperrors.WithMetadata(apperrors.CodeVoterNotConnected, "only the connected player can decide", map[string]string{"playerId": playerID})
	}

	switch choice {
	case SingleChoiceWait:
		// Keep waiting; the grace period and abandonment timers stand.
		log.Printf("continuity: single player waits game=%s player=%s", gameID, playerID)
		return nil
	case SingleChoiceAddBots:
		return o.fillSeatsWithBotsLocked(g, playerID)
	case SingleChoiceEndGame:
		o.executeDecisionLocked(g, ChoiceEndGame, "last connected player ended the game")
		return nil
	default:
		return apperrors.WithMetadata(apperrors.CodeVoteInvalidChoice, "unknown continuation choice", map[string]string{"choice": choice})
	}
}

func (o *Orchestrator) fillSeatsWithBotsLocked(g *trackedGame, deciderID string) error {
	session := g.session
	for _, p := range session.Players {
		if !p.Disconnected || p.IsBot {
			continue
		}
		name := ""
		if o.bots != nil {
			provided, err := o.bots.ProvideBot(context.Background(), session.ID, p.ID)
			if err != nil {
				log.Printf("continuity: bot provider game=%s player=%s err=%v", session.ID, p.ID, err)
			} else {
				name = provided
			}
		}
		if err := session.ReplaceWithBot(p.ID, name); err != nil {
			return apperrors.Wrap(apperrors.CodeServerError, "could not seat a bot", err)
		}
	}
	if g.state == StatePaused || g.state == StateAwaitingDecision {
		o.resumeLocked(g, deciderID, "seats filled with bots")
	} else {
		o.saveAsync(session)
	}
	o.notify.ContinuationDecision(g.id, SingleChoiceAddBots, "Fill seats with bots", "", "all empty seats are now bots", nil)
	return nil
}

// eligibleVotersLocked returns the connected, non-target players.
func (o *Orchestrator) eligibleVotersLocked(g *trackedGame) []*game.Player {
	var eligible []*game.Player
	for _, p := range g.session.Players {
		if p.Disconnected || p.ID == g.grace.targetPlayerID {
			continue
		}
		eligible = append(eligible, p)
	}
	return eligible
}

func voteCountsLocked(g *trackedGame) map[string]int {
	counts := make(map[string]int)
	for _, choice := range g.grace.votes {
		counts[string(choice)]++
	}
	return counts
}

// voteCompleteLocked reports whether every eligible voter has voted or one
// choice already holds a strict majority of the eligible set.
func voteCompleteLocked(g *trackedGame, eligible []*game.Player, counts map[string]int) bool {
	voted := 0
	for _, p := range eligible {
		if _, ok := g.grace.votes[p.ID]; ok {
			voted++
		}
	}
	if len(eligible) > 0 && voted >= len(eligible) {
		return true
	}
	for _, count := range counts {
		if count*2 > len(eligible) {
			return true
		}
	}
	return false
}

// winningChoiceLocked picks the plurality choice; ties fall back to
// skip_turn as the safe default.
func winningChoiceLocked(counts map[string]int) Choice {
	best := ChoiceSkipTurn
	bestCount := 0
	tied := false
	for _, choice := range []Choice{ChoiceSkipTurn, ChoiceAddBot, ChoiceEndGame} {
		count := counts[string(choice)]
		if count > bestCount {
			best = choice
			bestCount = count
			tied = false
		} else if count == bestCount && count > 0 && choice != best {
			tied = true
		}
	}
	if tied {
		return ChoiceSkipTurn
	}
	return best
}

func (o *Orchestrator) concludeVoteIfCompleteLocked(g *trackedGame) {
	eligible := o.eligibleVotersLocked(g)
	if len(eligible) == 0 {
		// Nobody left to vote; the abandonment path takes over.
		return
	}
	counts := voteCountsLocked(g)
	if voteCompleteLocked(g, eligible, counts) {
		o.executeDecisionLocked(g, winningChoiceLocked(counts), "vote concluded")
	}
}

// executeDecisionLocked applies a concluded continuation decision.
func (o *Orchestrator) executeDecisionLocked(g *trackedGame, decision Choice, actionResult string) {
	session := g.session
	grace := g.grace
	targetName := ""
	targetID := ""
	if grace != nil {
		targetName = grace.targetPlayerName
		targetID = grace.targetPlayerID
	}
	counts := map[string]int{}
	if grace != nil {
		counts = voteCountsLocked(g)
	}
	o.cancelTimersLocked(g.id)

	switch decision {
	case ChoiceSkipTurn:
		if session.IsCurrentPlayer(targetID) {
			if err := session.AdvanceTurn(); err != nil {
				log.Printf("continuity: advance turn game=%s err=%v", session.ID, err)
			}
		}
		g.state = StateRunning
		g.grace = nil
		g.pauseReason = ""
		session.Paused = false
		session.PauseReason = ""
	case ChoiceAddBot:
		name := ""
		if o.bots != nil {
			provided, err := o.bots.ProvideBot(context.Background(), session.ID, targetID)
			if err != nil {
				log.Printf("continuity: bot provider game=%s player=%s err=%v", session.ID, targetID, err)
			} else {
				name = provided
			}
		}
		if err := session.ReplaceWithBot(targetID, name); err != nil {
			log.Printf("continuity: replace with bot game=%s player=%s err=%v", session.ID, targetID, err)
			decision = ChoiceSkipTurn
			actionResult = "bot unavailable; turn skipped"
			if session.IsCurrentPlayer(targetID) {
				if err := session.AdvanceTurn(); err != nil {
					log.Printf("continuity: advance turn game=%s err=%v", session.ID, err)
				}
			}
		}
		g.state = StateRunning
		g.grace = nil
		g.pauseReason = ""
		session.Paused = false
		session.PauseReason = ""
	case ChoiceEndGame:
		session.Freeze("continuation decision: end_game")
		g.state = StateAbandoned
		g.grace = nil
	}

	o.notify.ContinuationDecision(g.id, string(decision), choiceText(decision), targetName, actionResult, counts)
	o.saveAsync(session)
	log.Printf("continuity: decision game=%s decision=%s result=%q", g.id, decision, actionResult)

	if decision == ChoiceEndGame {
		o.teardownLocked(g)
	}
}

// HandleReconnect rebinds a returning player to a new transport connection
// and resumes the game if they were the reason it paused. It returns the
// player's redacted view of the session.
func (o *Orchestrator) HandleReconnect(gameID, playerID, connectionID string) (game.View, int, error) {
	g, ok := o.tracked(gameID)
	if !ok {
		return game.View{}, 0, apperrors.WithMetadata(apperrors.CodeGameNotFound, "no such game to reconnect to", map[string]string{"gameId": gameID})
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	session := g.session
	player, err := session.Player(playerID)
	if err != nil {
		return game.View{}, 0, apperrors.WithMetadata(apperrors.CodePlayerNotFound, "player is not seated in this game", map[string]string{"gameId": gameID, "playerId": playerID})
	}

	if g.state == StateAbandoned {
		if g.session.Ended {
			return game.View{}, 0, apperrors.New(apperrors.CodeGameAbandoned, "the game has ended")
		}
		// Back inside the recovery window: the game comes back intact.
		o.sched.Cancel(abandonKey(gameID))
	}

	info, ok := o.reg.Reconnect(connectionID, gameID, playerID)
	if !ok {
		return game.View{}, 0, apperrors.WithMetadata(apperrors.CodeReconnectionFailed, "no connection record to rebind", map[string]string{"gameId": gameID, "playerId": playerID})
	}
	attempts := info.ReconnectionAttempts

	disconnectedFor := time.Duration(0)
	if player.DisconnectedAt != nil {
		disconnectedFor = o.now().Sub(*player.DisconnectedAt)
	}
	if err := session.MarkConnected(playerID); err != nil {
		log.Printf("continuity: mark connected game=%s player=%s err=%v", gameID, playerID, err)
	}

	wasTarget := g.grace != nil && g.grace.targetPlayerID == playerID
	if g.state == StateAbandoned || (wasTarget && (g.state == StatePaused || g.state == StateAwaitingDecision)) {
		if !o.verifyIntegrityLocked(g) {
			return game.View{}, attempts, apperrors.New(apperrors.CodeGameStateCorrupted, "the game state could not be repaired")
		}
		o.resumeLocked(g, playerID, "player reconnected")
	} else {
		// A returning non-target voter grows the eligible set; nothing to
		// conclude until they vote.
		o.notify.PlayerReconnected(gameID, playerID, o.now(), session.State(playerID))
	}

	o.notify.PlayerWelcomeBack(gameID, playerID, player.Name, disconnectedFor, session.IsCurrentPlayer(playerID))
	o.saveAsync(session)
	return session.State(playerID), attempts, nil
}

// resumeLocked brings a paused, deciding, or recoverable game back to
// Running and announces it.
func (o *Orchestrator) resumeLocked(g *trackedGame, playerID, cause string) {
	session := g.session
	o.cancelTimersLocked(session.ID)
	o.notify.StopGracePeriod(session.ID)

	pausedFor := time.Duration(0)
	if !g.pausedSince.IsZero() {
		pausedFor = o.now().Sub(g.pausedSince)
	}
	playerName := playerID
	if player, err := session.Player(playerID); err == nil {
		playerName = player.Name
	}

	g.state = StateRunning
	g.grace = nil
	g.pauseReason = ""
	g.pausedSince = time.Time{}
	g.abandonedAt = time.Time{}
	session.Paused = false
	session.PauseReason = ""

	o.notify.GameResumed(session.ID, playerName, playerID, o.now(), pausedFor)
	o.notify.PlayerReconnected(session.ID, playerID, o.now(), session.State(playerID))
	log.Printf("continuity: game resumed game=%s player=%s cause=%q paused_for=%s", session.ID, playerID, cause, pausedFor)
}

// verifyIntegrityLocked runs the guardian over the session before a resume.
// It returns false when the game is beyond repair, in which case it has
// already been ended.
func (o *Orchestrator) verifyIntegrityLocked(g *trackedGame) bool {
	doc := g.session.Doc()
	issues := o.guard.DetectCorruption(&doc)
	if len(issues) == 0 {
		return true
	}

	result := o.guard.AttemptRecovery(&doc)
	if len(result.RemainingIssues) > 0 {
		log.Printf("continuity: unrecoverable state game=%s remaining=%v", g.id, result.RemainingIssues)
		o.notify.GameStateCorrupted(g.id, result.Recovered, false, result.Actions)
		o.executeDecisionLocked(g, ChoiceEndGame, "state corruption could not be repaired")
		return false
	}

	repaired, err := game.FromDoc(doc)
	if err != nil {
		log.Printf("continuity: rehydrate repaired state game=%s err=%v", g.id, err)
		o.notify.GameStateCorrupted(g.id, true, false, result.Actions)
		o.executeDecisionLocked(g, ChoiceEndGame, "state corruption could not be repaired")
		return false
	}
	g.session = repaired
	log.Printf("continuity: state repaired game=%s actions=%d", g.id, len(result.Actions))
	o.notify.GameStateCorrupted(g.id, true, true, result.Actions)
	return true
}

// ReportReconnectFailure records a failed client attempt and answers with
// backoff guidance or, once attempts are exhausted, the fallback list.
func (o *Orchestrator) ReportReconnectFailure(gameID, playerID string, attempt int, cause string) {
	info, ok := o.reg.RecordReconnectionFailure(gameID, playerID, attempt, cause)
	if !ok {
		log.Printf("continuity: failure report for unknown connection game=%s player=%s", gameID, playerID)
		return
	}

	disconnectedAt := o.now()
	if info.DisconnectedAt != nil {
		disconnectedAt = *info.DisconnectedAt
	}
	fallbacks := reconnect.FallbackOptions(disconnectedAt, info.ReconnectionAttempts, o.now())

	if o.cfg.Reconnect.Exhausted(info.ReconnectionAttempts) {
		o.notify.ReconnectionFailed(gameID, playerID, "attempts_exhausted", "Automatic reconnection did not work. You can rejoin manually or start a new game.", fallbacks)
		return
	}
	next := o.cfg.Reconnect.DelayForAttempt(info.ReconnectionAttempts + 1)
	o.notify.ReconnectionGuidance(gameID, playerID, next, info.ReconnectionAttempts, o.cfg.Reconnect.MaxAttempts, fallbacks)
}

// RestoreGameState sends a verified snapshot to one player, reloading from
// storage when the game is no longer live in memory.
func (o *Orchestrator) RestoreGameState(ctx context.Context, gameID, playerID string) error {
	if g, ok := o.tracked(gameID); ok {
		g.mu.Lock()
		defer g.mu.Unlock()
		o.notify.GameStateRestored(gameID, playerID, g.session.State(playerID))
		return nil
	}

	if o.store == nil {
		return apperrors.WithMetadata(apperrors.CodeGameNotFound, "no such game", map[string]string{"gameId": gameID})
	}
	doc, err := o.store.LoadSession(ctx, gameID)
	if err != nil {
		if err == storage.ErrSessionNotFound {
			return apperrors.WithMetadata(apperrors.CodeGameNotFound, "no saved game to restore", map[string]string{"gameId": gameID})
		}
		return apperrors.Wrap(apperrors.CodeDatabaseError, "loading the saved game failed", err)
	}

	result := o.guard.AttemptRecovery(&doc)
	if len(result.RemainingIssues) > 0 {
		o.notify.GameStateCorrupted(gameID, result.Recovered, false, result.Actions)
		return apperrors.WithMetadata(apperrors.CodeGameStateCorrupted, "the saved game is beyond repair", map[string]string{"gameId": gameID})
	}
	session, err := game.FromDoc(doc)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeGameStateCorrupted, "the saved game could not be rebuilt", err)
	}

	o.Adopt(session)
	if result.Recovered {
		o.notify.GameStateCorrupted(gameID, true, true, result.Actions)
	}
	o.notify.GameStateRestored(gameID, playerID, session.State(playerID))
	return nil
}

// offerSinglePlayerLocked presents the solo decision to the one player left.
func (o *Orchestrator) offerSinglePlayerLocked(g *trackedGame) {
	for _, p := range g.session.Players {
		if !p.Disconnected {
			o.notify.SinglePlayerRemaining(g.session.ID, p.ID, p.Name, singlePlayerChoices())
			return
		}
	}
}

// expireAbandonment tears the game down after the recovery window closes.
func (o *Orchestrator) expireAbandonment(gameID string) {
	g, ok := o.tracked(gameID)
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateAbandoned {
		return
	}
	log.Printf("continuity: recovery window closed game=%s", gameID)
	g.session.Freeze("abandoned: no player returned")
	o.teardownLocked(g)
}

// teardownLocked releases every per-game resource. The session stays frozen
// in memory until the tracked entry is dropped here.
func (o *Orchestrator) teardownLocked(g *trackedGame) {
	// g.id survives even when a corrupted session lost its own id.
	gameID := g.id
	o.sched.CancelPrefix("game:" + gameID + ":")
	o.notify.StopGracePeriod(gameID)
	o.reg.DropGame(gameID)

	if o.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.StoreWrite)
		defer cancel()
		if err := o.store.DeleteSession(ctx, gameID); err != nil {
			log.Printf("continuity: delete session game=%s err=%v", gameID, err)
		}
	}

	o.mu.Lock()
	delete(o.games, gameID)
	o.mu.Unlock()
	log.Printf("continuity: game torn down game=%s", gameID)
}

func (o *Orchestrator) cancelTimersLocked(gameID string) {
	o.sched.Cancel(graceKey(gameID))
	o.sched.Cancel(voteKey(gameID))
	o.sched.Cancel(abandonKey(gameID))
}

// saveAsync persists the session without gating the state transition.
func (o *Orchestrator) saveAsync(session *game.Session) {
	if o.store == nil {
		return
	}
	doc := session.Doc()
	savedAt := o.now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.StoreWrite)
		defer cancel()
		if err := o.store.SaveSession(ctx, doc, savedAt); err != nil {
			log.Printf("continuity: save session game=%s err=%v", doc.ID, err)
		}
	}()
}

// disconnectedTarget picks the seat a multi-disconnect pause waits on:
// the current player when they are among the disconnected, otherwise the
// most recently disconnected seat.
func disconnectedTarget(session *game.Session) *game.Player {
	if current, err := session.CurrentPlayer(); err == nil && current.Disconnected {
		return current
	}
	var target *game.Player
	for _, p := range session.Players {
		if !p.Disconnected {
			continue
		}
		if target == nil {
			target = p
			continue
		}
		if p.DisconnectedAt != nil && (target.DisconnectedAt == nil || p.DisconnectedAt.After(*target.DisconnectedAt)) {
			target = p
		}
	}
	return target
}

func graceKey(gameID string) string {
	return "game:" + gameID + ":grace"
}

func voteKey(gameID string) string {
	return "game:" + gameID + ":vote"
}

func abandonKey(gameID string) string {
	return "game:" + gameID + ":abandon"
}
