// Package registry tracks one entry per live transport connection.
//
// The registry owns connection lifecycle facts (heartbeats, disconnect
// timestamps, reconnection attempts) and nothing about game rules. It
// reports transitions as typed events on a buffered channel consumed by the
// continuity orchestrator; no callback or global bus is involved.
package registry

import (
	"log"
	"sync"
	"time"
)

// Status describes the lifecycle state of one connection.
type Status int

const (
	// StatusUnspecified represents an invalid status value.
	StatusUnspecified Status = iota
	// StatusConnected indicates a live transport connection.
	StatusConnected
	// StatusDisconnected indicates the transport dropped.
	StatusDisconnected
	// StatusReconnecting indicates the client reported it is retrying.
	StatusReconnecting
)

// String returns the wire spelling of the status.
func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unspecified"
	}
}

// ConnectionInfo is the registry's record of one transport connection.
type ConnectionInfo struct {
	ConnectionID          string
	GameID                string
	PlayerID              string
	Status                Status
	LastSeen              time.Time
	Latency               time.Duration
	ReconnectionAttempts  int
	DisconnectedAt        *time.Time
	LastReconnectionError string
}

// EventType labels registry events.
type EventType string

const (
	// EventConnectionDisconnected fires when a game-bound connection drops.
	EventConnectionDisconnected EventType = "connectionDisconnected"
	// EventConnectionReconnected fires when a player re-establishes a connection.
	EventConnectionReconnected EventType = "connectionReconnected"
	// EventConcurrentDisconnections fires when two or more connections of the
	// same game drop within the coincidence window.
	EventConcurrentDisconnections EventType = "concurrentDisconnections"
	// EventGameAbandoned fires when the last connection of a game is gone.
	EventGameAbandoned EventType = "gameAbandoned"
)

// Event is one registry transition, carrying only identifiers and tallies.
type Event struct {
	Type              EventType
	GameID            string
	PlayerID          string
	ConnectionID      string
	Reason            string
	DisconnectedCount int
	RemainingCount    int
	At                time.Time
}

// Config holds the registry tunables.
type Config struct {
	// ConnectionTimeout is how long a disconnected entry survives before the
	// sweep evicts it.
	ConnectionTimeout time.Duration
	// CoincidenceWindow bounds how close two disconnections must be to count
	// as concurrent.
	CoincidenceWindow time.Duration
	// EventBuffer sizes the event channel.
	EventBuffer int
}

// DefaultConfig returns the production registry tunables.
func DefaultConfig() Config {
	return Config{
		ConnectionTimeout: 5 * time.Minute,
		CoincidenceWindow: 10 * time.Second,
		EventBuffer:       64,
	}
}

type playerKey struct {
	gameID   string
	playerID string
}

// Registry tracks live connections. Safe for concurrent use.
type Registry struct {
	mu                sync.Mutex
	cfg               Config
	now               func() time.Time
	conns             map[string]*ConnectionInfo
	byPlayer          map[playerKey]string
	recentDisconnects map[string][]time.Time
	events            chan Event
}

// New builds a registry with the given tunables. A nil now uses wall time.
func New(cfg Config, now func() time.Time) *Registry {
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = DefaultConfig().ConnectionTimeout
	}
	if cfg.CoincidenceWindow <= 0 {
		cfg.CoincidenceWindow = DefaultConfig().CoincidenceWindow
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		cfg:               cfg,
		now:               now,
		conns:             make(map[string]*ConnectionInfo),
		byPlayer:          make(map[playerKey]string),
		recentDisconnects: make(map[string][]time.Time),
		events:            make(chan Event, cfg.EventBuffer),
	}
}

// Events returns the channel registry transitions are reported on.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Register creates an entry for a fresh transport connection.
func (r *Registry) Register(connectionID string) ConnectionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := &ConnectionInfo{
		ConnectionID: connectionID,
		Status:       StatusConnected,
		LastSeen:     r.now().UTC(),
	}
	r.conns[connectionID] = info
	return *info
}

// Bind associates a connection with a game seat. If the seat already has a
// connected entry on another connection, the older entry is dropped so the
// one-connected-entry-per-seat invariant holds.
func (r *Registry) Bind(connectionID string, gameID string, playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.conns[connectionID]
	if !ok {
		log.Printf("registry: bind ignored for unknown connection=%s", connectionID)
		return
	}

	key := playerKey{gameID: gameID, playerID: playerID}
	if previousID, bound := r.byPlayer[key]; bound && previousID != connectionID {
		if previous, alive := r.conns[previousID]; alive && previous.Status == StatusConnected {
			delete(r.conns, previousID)
			log.Printf("registry: replaced stale connection=%s for game=%s player=%s", previousID, gameID, playerID)
		}
	}

	info.GameID = gameID
	info.PlayerID = playerID
	r.byPlayer[key] = connectionID
}

// Heartbeat updates liveness for a connection. Unknown ids are logged no-ops.
func (r *Registry) Heartbeat(connectionID string, clientTimestamp time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.conns[connectionID]
	if !ok {
		log.Printf("registry: heartbeat ignored for unknown connection=%s", connectionID)
		return
	}
	now := r.now().UTC()
	info.LastSeen = now
	if !clientTimestamp.IsZero() {
		latency := now.Sub(clientTimestamp)
		if latency >= 0 {
			info.Latency = latency
		}
	}
}

// Info returns a copy of the entry for a connection.
func (r *Registry) Info(connectionID string) (ConnectionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.conns[connectionID]
	if !ok {
		return ConnectionInfo{}, false
	}
	return *info, true
}

// Lookup returns a copy of the entry for a seat.
func (r *Registry) Lookup(gameID string, playerID string) (ConnectionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.lookupLocked(gameID, playerID)
	if !ok {
		return ConnectionInfo{}, false
	}
	return *info, true
}

func (r *Registry) lookupLocked(gameID string, playerID string) (*ConnectionInfo, bool) {
	connectionID, ok := r.byPlayer[playerKey{gameID: gameID, playerID: playerID}]
	if !ok {
		return nil, false
	}
	info, ok := r.conns[connectionID]
	return info, ok
}

// MarkDisconnected transitions a connection to disconnected and reports the
// drop, any concurrent-drop coincidence, and full-game abandonment.
func (r *Registry) MarkDisconnected(connectionID string, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.conns[connectionID]
	if !ok {
		log.Printf("registry: disconnect ignored for unknown connection=%s", connectionID)
		return
	}
	if info.Status == StatusDisconnected {
		return
	}

	now := r.now().UTC()
	info.Status = StatusDisconnected
	info.DisconnectedAt = &now

	if info.GameID == "" {
		return
	}

	r.emitLocked(Event{
		Type:         EventConnectionDisconnected,
		GameID:       info.GameID,
		PlayerID:     info.PlayerID,
		ConnectionID: connectionID,
		Reason:       reason,
		At:           now,
	})

	recent := append(r.pruneRecentLocked(info.GameID, now), now)
	r.recentDisconnects[info.GameID] = recent

	disconnected, remaining := r.tallyLocked(info.GameID)
	if len(recent) >= 2 {
		r.emitLocked(Event{
			Type:              EventConcurrentDisconnections,
			GameID:            info.GameID,
			DisconnectedCount: disconnected,
			RemainingCount:    remaining,
			At:                now,
		})
	}
	if remaining == 0 {
		r.emitLocked(Event{
			Type:   EventGameAbandoned,
			GameID: info.GameID,
			At:     now,
		})
	}
}

// RecordReconnectionFailure notes a client-reported failed attempt against
// the seat's entry and returns the updated copy.
func (r *Registry) RecordReconnectionFailure(gameID string, playerID string, attempt int, cause string) (ConnectionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.lookupLocked(gameID, playerID)
	if !ok {
		log.Printf("registry: reconnection failure ignored for unknown game=%s player=%s", gameID, playerID)
		return ConnectionInfo{}, false
	}
	if info.Status == StatusDisconnected {
		info.Status = StatusReconnecting
	}
	if attempt > info.ReconnectionAttempts {
		info.ReconnectionAttempts = attempt
	} else {
		info.ReconnectionAttempts++
	}
	info.LastReconnectionError = cause
	return *info, true
}

// Reconnect transitions the seat's entry back to connected, rebinding it to
// the new transport connection when the id changed.
func (r *Registry) Reconnect(connectionID string, gameID string, playerID string) (ConnectionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.lookupLocked(gameID, playerID)
	if !ok {
		log.Printf("registry: reconnect ignored for unknown game=%s player=%s", gameID, playerID)
		return ConnectionInfo{}, false
	}

	now := r.now().UTC()
	if info.ConnectionID != connectionID {
		delete(r.conns, info.ConnectionID)
		info.ConnectionID = connectionID
		r.conns[connectionID] = info
		r.byPlayer[playerKey{gameID: gameID, playerID: playerID}] = connectionID
	}
	info.Status = StatusConnected
	info.LastSeen = now
	info.DisconnectedAt = nil
	info.ReconnectionAttempts = 0
	info.LastReconnectionError = ""

	r.emitLocked(Event{
		Type:         EventConnectionReconnected,
		GameID:       gameID,
		PlayerID:     playerID,
		ConnectionID: connectionID,
		At:           now,
	})
	return *info, true
}

// Sweep evicts entries that stayed disconnected longer than the connection
// timeout, reporting abandonment when a game loses its last entry. The app
// loop calls this on a fixed cadence; the registry never schedules work
// itself.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	for connectionID, info := range r.conns {
		if info.Status == StatusConnected {
			continue
		}
		if info.DisconnectedAt == nil || now.Sub(*info.DisconnectedAt) < r.cfg.ConnectionTimeout {
			continue
		}

		delete(r.conns, connectionID)
		if info.GameID != "" {
			delete(r.byPlayer, playerKey{gameID: info.GameID, playerID: info.PlayerID})
			if r.gameEntryCountLocked(info.GameID) == 0 {
				r.emitLocked(Event{
					Type:   EventGameAbandoned,
					GameID: info.GameID,
					At:     now,
				})
			}
		}
		log.Printf("registry: evicted idle connection=%s game=%s player=%s", connectionID, info.GameID, info.PlayerID)
	}
}

// DropGame removes every entry bound to a game during teardown.
func (r *Registry) DropGame(gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for connectionID, info := range r.conns {
		if info.GameID == gameID {
			delete(r.conns, connectionID)
			delete(r.byPlayer, playerKey{gameID: gameID, playerID: info.PlayerID})
		}
	}
	delete(r.recentDisconnects, gameID)
}

func (r *Registry) tallyLocked(gameID string) (disconnected int, remaining int) {
	for _, info := range r.conns {
		if info.GameID != gameID {
			continue
		}
		if info.Status == StatusConnected {
			remaining++
		} else {
			disconnected++
		}
	}
	return disconnected, remaining
}

func (r *Registry) gameEntryCountLocked(gameID string) int {
	count := 0
	for _, info := range r.conns {
		if info.GameID == gameID {
			count++
		}
	}
	return count
}

func (r *Registry) pruneRecentLocked(gameID string, now time.Time) []time.Time {
	recent := r.recentDisconnects[gameID][:0]
	for _, at := range r.recentDisconnects[gameID] {
		if now.Sub(at) <= r.cfg.CoincidenceWindow {
			recent = append(recent, at)
		}
	}
	return recent
}

// emitLocked reports an event without ever blocking registry callers. When
// the consumer falls behind the event is dropped and logged.
func (r *Registry) emitLocked(event Event) {
	select {
	case r.events <- event:
	default:
		log.Printf("registry: event buffer full, dropped %s for game=%s", event.Type, event.GameID)
	}
}
