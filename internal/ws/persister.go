package ws

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"codecollab/internal/metrics"
)

// persister writes documents off the broadcast path. Ordering between
// concurrent writes is left to the store, which keeps the highest revision.
type persister struct {
	gw      Gateway
	timeout time.Duration
	metrics *metrics.Metrics

	mu      sync.Mutex
	wg      sync.WaitGroup
	stopped bool
}

// detach starts a write and reports whether it was accepted. Writes
// arriving after drain has begun are refused.
func (p *persister) detach(roomID, code, language string, rev int64) bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.metrics.PersistFailures.WithLabelValues("room_code").Inc()
		zap.L().Warn("ws.persist_refused", zap.String("room", roomID), zap.Int64("rev", rev))
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.gw.SetRoomCode(ctx, roomID, code, language, rev); err != nil {
			p.metrics.PersistFailures.WithLabelValues("room_code").Inc()
			zap.L().Warn("ws.persist_code",
				zap.String("room", roomID),
				zap.Int64("rev", rev),
				zap.Error(err),
			)
		}
	}()
	return true
}

// drain stops accepting writes and blocks until every accepted one is done.
func (p *persister) drain() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.wg.Wait()
}
