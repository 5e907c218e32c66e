package ws

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type connState int32

const (
	stateConnecting connState = iota
	stateActive
	stateClosed
)

// clientConn is one admitted socket. Identity fields are fixed at handshake
// and never change afterwards.
type clientConn struct {
	id        string
	roomID    string
	userID    string
	username  string
	createdAt time.Time

	rawConn *websocket.Conn
	limiter *rate.Limiter

	// send is drained by writePump and never closed; done signals teardown.
	send chan []byte
	done chan struct{}

	state atomic.Int32
	alive atomic.Bool
	seq   uint64 // join order, assigned by the Hub under its lock

	// written once by the goroutine that wins markClosed, read after done
	closeCode   int
	closeReason string
}

func newClientConn(raw *websocket.Conn, roomID, userID, username string, buffer int, limiter *rate.Limiter) *clientConn {
	c := &clientConn{
		id:        uuid.NewString(),
		roomID:    roomID,
		userID:    userID,
		username:  username,
		createdAt: time.Now(),
		rawConn:   raw,
		limiter:   limiter,
		send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

func (c *clientConn) sender() Sender {
	return Sender{UserID: c.userID, Username: c.username}
}

func (c *clientConn) active() bool {
	return connState(c.state.Load()) == stateActive
}

// enqueue hands msg to the write pump without blocking. A full or closed
// channel drops the frame and reports false.
func (c *clientConn) enqueue(msg []byte) bool {
	if !c.active() {
		return false
	}
	select {
	case <-c.done:
		return false
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// markClosed moves the connection to its terminal state. Only the first
// caller gets true; every later call is a no-op.
func (c *clientConn) markClosed(code int, reason string) bool {
	if connState(c.state.Swap(int32(stateClosed))) == stateClosed {
		return false
	}
	c.closeCode, c.closeReason = code, reason
	close(c.done)
	return true
}

// probe sends a liveness ping. WriteControl is safe next to writePump.
func (c *clientConn) probe() error {
	return c.rawConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *clientConn) writePump() {
	defer c.rawConn.Close()

	for {
		select {
		case msg := <-c.send:
			_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.rawConn.WriteMessage(websocket.TextMessage, msg); err != nil {
				zap.L().Debug("ws.write", zap.String("conn", c.id), zap.Error(err))
				return
			}
		case <-c.done:
			_ = c.rawConn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(c.closeCode, c.closeReason),
				time.Now().Add(closeWait),
			)
			return
		}
	}
}
