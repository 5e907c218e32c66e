package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Hub is the room directory. A single lock covers the room map and every
// member set, so join and leave are atomic against each other and a room
// exists exactly while it has members.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*liveRoom
	seq   uint64
}

func NewHub() *Hub { return &Hub{rooms: map[string]*liveRoom{}} }

// Join admits c to roomID, creating the room on first use. created reports
// whether this call brought the room into existence.
func (h *Hub) Join(roomID string, c *clientConn) (r *liveRoom, created bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		r = newLiveRoom(roomID)
		h.rooms[roomID] = r
	}
	h.seq++
	c.seq = h.seq
	c.state.CompareAndSwap(int32(stateConnecting), int32(stateActive))
	r.members[c] = struct{}{}
	return r, !ok
}

// Leave removes c. remaining is the member count afterwards; the room is
// deleted when it reaches zero. ok is false if c was not a member.
func (h *Hub) Leave(roomID string, c *clientConn) (remaining int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, found := h.rooms[roomID]
	if !found {
		return 0, false
	}
	if _, ok = r.members[c]; !ok {
		return len(r.members), false
	}
	delete(r.members, c)
	if len(r.members) == 0 {
		delete(h.rooms, roomID)
	}
	return len(r.members), true
}

// Broadcast serializes payload once and queues it for every live member
// except exclude. Members with a full queue are skipped. It returns how many
// members got the frame and how many were skipped.
func (h *Hub) Broadcast(roomID string, payload any, exclude *clientConn) (sent, skipped int) {
	msg, err := json.Marshal(payload)
	if err != nil {
		zap.L().Error("ws.broadcast_encode", zap.String("room", roomID), zap.Error(err))
		return 0, 0
	}

	// Take a quick snapshot of the current members
	h.mu.RLock()
	r := h.rooms[roomID]
	var conns []*clientConn
	if r != nil {
		conns = make([]*clientConn, 0, len(r.members))
		for c := range r.members {
			if c != exclude {
				conns = append(conns, c)
			}
		}
	}
	h.mu.RUnlock()

	// Queue outside the lock
	for _, c := range conns {
		if c.enqueue(msg) {
			sent++
		} else {
			skipped++
		}
	}
	return sent, skipped
}

// LookupTarget returns the most recently joined live connection of userID in
// roomID, ignoring exclude. nil when the user has none.
func (h *Hub) LookupTarget(roomID, userID string, exclude *clientConn) *clientConn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := h.rooms[roomID]
	if r == nil {
		return nil
	}
	var best *clientConn
	for c := range r.members {
		if c == exclude || c.userID != userID || !c.active() {
			continue
		}
		if best == nil || c.seq > best.seq {
			best = c
		}
	}
	return best
}

// Room returns the live room or nil.
func (h *Hub) Room(roomID string) *liveRoom {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID]
}

func (h *Hub) MemberCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r := h.rooms[roomID]; r != nil {
		return len(r.members)
	}
	return 0
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Connections snapshots every member of every room.
func (h *Hub) Connections() []*clientConn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*clientConn
	for _, r := range h.rooms {
		for c := range r.members {
			out = append(out, c)
		}
	}
	return out
}
