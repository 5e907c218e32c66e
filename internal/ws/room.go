package ws

import (
	"sync"
	"time"
)

// liveRoom is the in-memory side of a room: its members and the latest
// document. members is guarded by Hub.mu; the document by mu.
type liveRoom struct {
	id      string
	members map[*clientConn]struct{}

	// closed once the cold-start read from the gateway has finished
	ready chan struct{}

	mu       sync.Mutex
	code     string
	language string
	rev      int64
	touched  bool
}

func newLiveRoom(id string) *liveRoom {
	return &liveRoom{
		id:      id,
		members: map[*clientConn]struct{}{},
		ready:   make(chan struct{}),
	}
}

// nextRev hands out a revision strictly greater than every earlier one.
// UnixMicro stays below 2^53, so it survives the trip through Lua numbers.
func (r *liveRoom) nextRev() int64 {
	rev := time.Now().UnixMicro()
	if rev <= r.rev {
		rev = r.rev + 1
	}
	r.rev = rev
	return rev
}

// applyCode records a last-writer-wins update and returns its revision.
// An empty language keeps the current one.
func (r *liveRoom) applyCode(code, language string) (string, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.code = code
	if language != "" {
		r.language = language
	}
	r.touched = true
	return r.language, r.nextRev()
}

func (r *liveRoom) applyLanguage(language string) (string, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.language = language
	r.touched = true
	return r.code, r.nextRev()
}

// seed installs the stored document unless a live update already landed.
func (r *liveRoom) seed(code, language string, rev int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.touched {
		return false
	}
	r.code, r.language = code, language
	if rev > r.rev {
		r.rev = rev
	}
	return true
}

func (r *liveRoom) document() (code, language string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code, r.language
}
