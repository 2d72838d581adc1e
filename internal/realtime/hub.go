package realtime

import (
	"sync"

	"github.com/rs/zerolog"
)

// Peer receives encoded envelopes. Send must not block; it reports false when
// the peer is gone or cannot keep up.
type Peer interface {
	Send(msg []byte) bool
}

// Hub tracks which peers are subscribed to each room.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]map[Peer]struct{}
	roomLocks sync.Map // room id -> *sync.Mutex
	logger    zerolog.Logger
}

// NewHub constructs an empty Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[Peer]struct{}),
		logger: logger,
	}
}

// Subscribe adds p to roomID's broadcast group.
func (h *Hub) Subscribe(roomID string, p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.rooms[roomID]
	if !ok {
		peers = make(map[Peer]struct{})
		h.rooms[roomID] = peers
	}
	peers[p] = struct{}{}
}

// Unsubscribe removes p from roomID's broadcast group.
func (h *Hub) Unsubscribe(roomID string, p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(peers, p)
	if len(peers) == 0 {
		delete(h.rooms, roomID)
	}
}

// Subscribers reports how many peers are in roomID's group.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Broadcast encodes the event once and sends it to every peer in roomID.
func (h *Hub) Broadcast(roomID, event string, data interface{}) {
	msg, err := encodeEnvelope(event, data)
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID).Str("event", event).Msg("encode broadcast")
		return
	}

	h.mu.RLock()
	peers := make([]Peer, 0, len(h.rooms[roomID]))
	for p := range h.rooms[roomID] {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		p.Send(msg)
	}
}

// lockRoom serialises membership changes and their broadcasts for one room so
// observers see participant counts in commit order. Entries are never pruned;
// there is at most one active room per district, so the map grows with the
// number of rooms ever joined by this process.
func (h *Hub) lockRoom(roomID string) func() {
	v, _ := h.roomLocks.LoadOrStore(roomID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
