package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/mbucher/tilehall/internal/continuity/broadcast"
)

// wsFrame is the envelope for every message in either direction.
type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// wsPeer serializes frame writes to one connection.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// gameRoom fans frames out to the subscribed peers of one game.
type gameRoom struct {
	mu       sync.Mutex
	gameID   string
	peers    map[*wsPeer]struct{}
	byPlayer map[string]*wsPeer
}

func newGameRoom(gameID string) *gameRoom {
	return &gameRoom{
		gameID:   gameID,
		peers:    make(map[*wsPeer]struct{}),
		byPlayer: make(map[string]*wsPeer),
	}
}

func (r *gameRoom) join(peer *wsPeer, playerID string) {
	r.mu.Lock()
	r.peers[peer] = struct{}{}
	if playerID != "" {
		r.byPlayer[playerID] = peer
	}
	r.mu.Unlock()
}

// leave drops the peer and reports whether the room is now empty.
func (r *gameRoom) leave(peer *wsPeer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, peer)
	for playerID, seated := range r.byPlayer {
		if seated == peer {
			delete(r.byPlayer, playerID)
		}
	}
	return len(r.peers) == 0
}

func (r *gameRoom) broadcast(frame wsFrame) {
	r.mu.Lock()
	peers := make([]*wsPeer, 0, len(r.peers))
	for peer := range r.peers {
		peers = append(peers, peer)
	}
	r.mu.Unlock()

	for _, peer := range peers {
		if err := peer.writeFrame(frame); err != nil {
			log.Printf("ws: broadcast write game=%s type=%s err=%v", r.gameID, frame.Type, err)
		}
	}
}

func (r *gameRoom) sendToPlayer(playerID string, frame wsFrame) {
	r.mu.Lock()
	peer, ok := r.byPlayer[playerID]
	r.mu.Unlock()
	if !ok {
		log.Printf("ws: no peer for direct send game=%s player=%s type=%s", r.gameID, playerID, frame.Type)
		return
	}
	if err := peer.writeFrame(frame); err != nil {
		log.Printf("ws: direct write game=%s player=%s type=%s err=%v", r.gameID, playerID, frame.Type, err)
	}
}

// Hub indexes rooms by game id. It implements broadcast.Sender.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*gameRoom
}

// NewHub returns an empty hub ready to wire into a broadcaster.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*gameRoom)}
}

func (h *Hub) room(gameID string) *gameRoom {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[gameID]
	if ok {
		return room
	}
	room = newGameRoom(gameID)
	h.rooms[gameID] = room
	return room
}

func (h *Hub) dropIfEmpty(gameID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[gameID]
	if !ok {
		return
	}
	room.mu.Lock()
	empty := len(room.peers) == 0
	room.mu.Unlock()
	if empty {
		delete(h.rooms, gameID)
	}
}

// Broadcast delivers one continuity frame to every peer in the game room.
func (h *Hub) Broadcast(gameID string, frame broadcast.Frame) {
	h.room(gameID).broadcast(wsFrame{Type: frame.Type, Payload: frame.Payload})
}

// SendToPlayer delivers one continuity frame to a single seated peer.
func (h *Hub) SendToPlayer(gameID, playerID string, frame broadcast.Frame) {
	h.room(gameID).sendToPlayer(playerID, wsFrame{Type: frame.Type, Payload: frame.Payload})
}
