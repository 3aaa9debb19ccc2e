// Package ws hosts the websocket transport for session continuity.
//
// The transport stays thin: it decodes client frames, binds connections to
// seats in the registry, and forwards intent to the orchestrator. All game
// decisions live behind those two; the hub only fans formatted frames out.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/websocket"

	"github.com/mbucher/tilehall/internal/continuity/broadcast"
	"github.com/mbucher/tilehall/internal/continuity/orchestrator"
	"github.com/mbucher/tilehall/internal/continuity/registry"
	apperrors "github.com/mbucher/tilehall/internal/platform/errors"
	"github.com/mbucher/tilehall/internal/platform/errors/i18n"
	"github.com/mbucher/tilehall/internal/platform/id"
	"github.com/mbucher/tilehall/internal/platform/timeouts"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
)

// Config defines the inputs for the websocket transport boundary.
type Config struct {
	HTTPAddr          string
	HeartbeatInterval time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the continuity HTTP/websocket process.
type Server struct {
	httpAddr          string
	heartbeatInterval time.Duration
	shutdownTimeout   time.Duration
	httpServer        *http.Server
	hub               *Hub
	reg               *registry.Registry
	orch              *orchestrator.Orchestrator
	notify            *broadcast.Broadcaster
	messages          *i18n.Catalog
	now               func() time.Time
}

// NewServer builds a configured transport server. The returned server's Hub
// satisfies broadcast.Sender and must be the sender the broadcaster writes
// to.
func NewServer(config Config, reg *registry.Registry, orch *orchestrator.Orchestrator, hub *Hub, now func() time.Time) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	if hub == nil {
		hub = NewHub()
	}
	if now == nil {
		now = time.Now
	}

	server := &Server{
		httpAddr:          httpAddr,
		heartbeatInterval: config.HeartbeatInterval,
		shutdownTimeout:   config.ShutdownTimeout,
		hub:               hub,
		reg:               reg,
		orch:              orch,
		messages:          i18n.Default(),
		now:               now,
	}
	server.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           server.handler(),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return server, nil
}

// SetBroadcaster attaches the broadcaster used for reconnection replies.
func (s *Server) SetBroadcaster(notify *broadcast.Broadcaster) {
	s.notify = notify
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(s.handleConn)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})
	return mux
}

// connState is the transport-side identity of one websocket.
type connState struct {
	mu       sync.Mutex
	connID   string
	gameID   string
	playerID string
	peer     *wsPeer
}

func (c *connState) bind(gameID, playerID string) {
	c.mu.Lock()
	c.gameID = gameID
	c.playerID = playerID
	c.mu.Unlock()
}

func (c *connState) identity() (gameID, playerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameID, c.playerID
}

func (s *Server) handleConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	connID, err := id.NewID()
	if err != nil {
		log.Printf("ws: connection id generation failed: %v", err)
		return
	}

	decoder := json.NewDecoder(conn)
	state := &connState{connID: connID, peer: newWSPeer(json.NewEncoder(conn))}
	s.reg.Register(connID)

	if request := conn.Request(); request != nil {
		if sc := trace.SpanFromContext(request.Context()).SpanContext(); sc.IsValid() {
			log.Printf("ws: connection open conn=%s trace_id=%s", connID, sc.TraceID())
		} else {
			log.Printf("ws: connection open conn=%s", connID)
		}
	}

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(state, pingDone)

	defer func() {
		s.reg.MarkDisconnected(connID, "transport closed")
		gameID, _ := state.identity()
		if gameID != "" {
			s.hub.room(gameID).leave(state.peer)
			s.hub.dropIfEmpty(gameID)
		}
	}()

	windowStart := s.now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			s.writeError(state.peer, "", apperrors.CodeValidationError, nil)
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			s.writeError(state.peer, frame.RequestID, apperrors.CodeValidationError, nil)
			continue
		}

		now := s.now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			s.writeError(state.peer, frame.RequestID, apperrors.CodeServerError, nil)
			return
		}

		switch frame.Type {
		case "joinGame":
			s.handleJoin(state, frame)
		case "requestReconnection":
			s.handleReconnection(state, frame)
		case "requestGameStateRestore":
			s.handleRestore(state, frame)
		case "reportReconnectionFailure":
			s.handleFailureReport(state, frame)
		case "pong":
			s.handlePong(state, frame)
		case "continuationVote":
			s.handleVote(state, frame)
		case "singlePlayerDecision":
			s.handleSingleDecision(state, frame)
		default:
			s.writeError(state.peer, frame.RequestID, apperrors.CodeValidationError, map[string]string{"type": frame.Type})
		}
	}
}

// pingLoop emits heartbeat pings until the connection closes. Pong replies
// feed the registry's latency tracking.
func (s *Server) pingLoop(state *connState, done <-chan struct{}) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			payload, _ := json.Marshal(map[string]string{
				"timestamp": s.now().UTC().Format(time.RFC3339),
			})
			if err := state.peer.writeFrame(wsFrame{Type: "ping", Payload: payload}); err != nil {
				return
			}
		}
	}
}

type joinPayload struct {
	GameID     string `json:"gameId"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
}

type joinedPayload struct {
	GameID     string `json:"gameId"`
	PlayerID   string `json:"playerId"`
	ServerTime string `json:"serverTime"`
}

func (s *Server) handleJoin(state *connState, frame wsFrame) {
	var payload joinPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		s.writeError(state.peer, frame.RequestID, apperrors.CodeValidationError, nil)
		return
	}
	gameID := strings.TrimSpace(payload.GameID)
	playerID := strings.TrimSpace(payload.PlayerID)
	if gameID == "" || playerID == "" {
		s.writeError(state.peer, frame.RequestID, apperrors.CodeValidationError, nil)
		return
	}

	s.reg.Bind(state.connID, gameID, playerID)
	state.bind(gameID, playerID)
	s.hub.room(gameID).join(state.peer, playerID)

	reply, _ := json.Marshal(joinedPayload{
		GameID:     gameID,
		PlayerID:   playerID,
		ServerTime: s.now().UTC().Format(time.RFC3339),
	})
	if err := state.peer.writeFrame(wsFrame{Type: "joined", RequestID: frame.RequestID, Payload: reply}); err != nil {
		log.Printf("ws: join reply conn=%s err=%v", state.connID, err)
	}
	log.Printf("ws: joined conn=%s game=%s player=%s", state.connID, gameID, playerID)
}

type reconnectionPayload struct {
	GameID     string `json:"gameId"`
	PlayerName string `json:"playerName"`
	PlayerID   string `json:"playerId"`
}

func (s *Server) handleReconnection(state *connState, frame wsFrame) {
	var payload reconnectionPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		s.writeError(state.peer, frame.RequestID, apperrors.CodeValidationError, nil)
		return
	}
	gameID := strings.TrimSpace(payload.GameID)
	playerID := strings.TrimSpace(payload.PlayerID)
	if gameID == "" || playerID == "" {
		s.writeError(state.peer, frame.RequestID, apperrors.CodeValidationError, nil)
		return
	}

	// The seat must be visible in the room before the orchestrator's resume
	// broadcasts fan out.
	state.bind(gameID, playerID)
	s.hub.room(gameID).join(state.peer, playerID)

	view, attempts, err := s.orch.HandleReconnect(gameID, playerID, state.connID)
	if err != nil {
		log.Printf("ws: reconnection refused conn=%s game=%s player=%s err=%v", state.connID, gameID, playerID, err)
		s.hub.room(gameID).leave(state.peer)
		state.bind("", "")
		s.writeError(state.peer, frame.RequestID, apperrors.CodeOf(err), map[string]string{"gameId": gameID})
		return
	}

	if s.notify != nil {
		s.notify.ReconnectionSuccessful(gameID, playerID, view, s.now(), attempts)
	}
	log.Printf("ws: reconnected conn=%s game=%s player=%s attempts=%d", state.connID, gameID, playerID, attempts)
}

type restorePayload struct {
	GameID     string `json:"gameId"`
	PlayerName string `json:"playerName"`
}

func (s *Server) handleRestore(state *connState, frame wsFrame) {
	var payload restorePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		s.writeError(state.peer, frame.RequestID, apperrors.CodeValidationError, nil)
		return
	}
	gameID := strings.TrimSpace(payload.GameID)
	_, playerID := state.identity()
	if gameID == "" || playerID == "" {
		s.writeError(state.peer, frame.RequestID, apperrors.CodeValidationError, nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeouts.StoreWrite)
	defer cancel()
	if err := s.orch.RestoreGameState(ctx, gameID, playerID); err != nil {
		s.writeError(state.peer, frame.RequestID, apperrors.CodeOf(err), map[string]string{"gameId": gameID})
	}
}

type failureReportPayload struct {
	PlayerID      string `json:"playerId"`
	AttemptNumber int    `json:"attemptNumber"`
	Error         string `json:"error"`
}

func (s *Server) handleFailureReport(state *connState, frame wsFrame) {
	var payload failureReportPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		s.writeError(state.peer, frame.RequestID, apperrors.CodeValidationError, nil)
		return
	}
	gameID, boundPlayer := state.identity()
	playerID := strings.TrimSpace(payload.PlayerID)
	if playerID == "" {
		playerID = boundPlayer
	}
	if gameID == "" || playerID == "" {
		s.writeError(state.peer, frame.RequestID, apperrors.CodeValidationError, nil)
		return
	}
	s.orch.ReportReconnectFailure(gameID, playerID, payload.AttemptNumber, payload.Error)
}

type pongPayload struct {
	Timestamp string `json:"timestamp"`
}

func (s *Server) handlePong(state *connState, frame wsFrame) {
	var payload pongPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return
	}
	clientTime, err := time.Parse(time.RFC3339, payload.Timestamp)
	if err != nil {
		clientTime = s.now()
	}
	s.reg.Heartbeat(state.connID, clientTime)
}

type votePayload struct {
	GameID string `json:"gameId"`
	Choice string `json:"choice"`
}

func (s *Server) handleVote(state *connState, frame wsFrame) {
	var payload votePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		s.writeError(state.peer, frame.RequestID, apperrors.CodeValidationError, nil)
		return
	}
	gameID, playerID := state.identity()
	if requested := strings.TrimSpace(payload.GameID); requested != "" {
		gameID = requested
	}
	if gameID == "" || playerID == "" {
		s.writeError(state.peer, frame.RequestID, apperrors.CodeValidationError, nil)
		return
	}
	if err := s.orch.CastVote(gameID, playerID, orchestrator.Choice(payload.Choice)); err != nil {
		s.writeError(state.peer, frame.RequestID, apperrors.CodeOf(err), map[string]string{"choice": payload.Choice})
	}
}

func (s *Server) handleSingleDecision(state *connState, frame wsFrame) {
	var payload votePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		s.writeError(state.peer, frame.RequestID, apperrors.CodeValidationError, nil)
		return
	}
	gameID, playerID := state.identity()
	if requested := strings.TrimSpace(payload.GameID); requested != "" {
		gameID = requested
	}
	if gameID == "" || playerID == "" {
		s.writeError(state.peer, frame.RequestID, apperrors.CodeValidationError, nil)
		return
	}
	if err := s.orch.DecideSinglePlayer(gameID, playerID, payload.Choice); err != nil {
		s.writeError(state.peer, frame.RequestID, apperrors.CodeOf(err), map[string]string{"choice": payload.Choice})
	}
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// writeError sends the user-facing rendering of a failure. The raw cause
// stays in the server log; the wire carries only the actionable message.
func (s *Server) writeError(peer *wsPeer, requestID string, code apperrors.Code, metadata map[string]string) {
	var details map[string]any
	if len(metadata) > 0 {
		details = make(map[string]any, len(metadata))
		for k, v := range metadata {
			details[k] = v
		}
	}
	payload, err := json.Marshal(wsErrorEnvelope{
		Error: wsError{
			Code:      string(code),
			Message:   s.messages.Format(string(code), metadata),
			Retryable: code == apperrors.CodeConnectionError || code == apperrors.CodeTimeoutError,
			Details:   details,
		},
	})
	if err != nil {
		return
	}
	if err := peer.writeFrame(wsFrame{Type: "error", RequestID: requestID, Payload: payload}); err != nil {
		log.Printf("ws: error write err=%v", err)
	}
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("ws server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("ws server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Handler exposes the HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
