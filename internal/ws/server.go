package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"codecollab/internal/auth"
	"codecollab/internal/metrics"
	"codecollab/internal/services/room"
)

const (
	writeWait = 10 * time.Second
	closeWait = time.Second
)

// Gateway is the slice of the room store the realtime path needs.
// room.IRoomService satisfies it.
type Gateway interface {
	GetRoomCode(ctx context.Context, id string) (*room.RoomCode, error)
	SetRoomCode(ctx context.Context, id, code, language string, rev int64) error
	AppendMessage(ctx context.Context, roomID, content, senderID, senderName string) (*room.Message, error)
}

type Options struct {
	HeartbeatInterval time.Duration
	SendBuffer        int
	MaxMessageBytes   int64
	MessagesPerSecond float64
	MessageBurst      int
	PersistTimeout    time.Duration
	ChatTimeout       time.Duration
}

func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 30 * time.Second,
		SendBuffer:        256,
		MaxMessageBytes:   1 << 20,
		MessagesPerSecond: 100,
		MessageBurst:      200,
		PersistTimeout:    5 * time.Second,
		ChatTimeout:       4 * time.Second,
	}
}

type WsServer struct {
	hub      *Hub
	router   *Router
	gw       Gateway
	verifier *auth.Verifier
	metrics  *metrics.Metrics
	opts     Options
	persist  *persister
	upgrader websocket.Upgrader

	closeOnce sync.Once
	closing   chan struct{}
}

func NewWsServer(h *Hub, gw Gateway, verifier *auth.Verifier, m *metrics.Metrics, opts Options) *WsServer {
	srv := &WsServer{
		hub:      h,
		router:   NewRouter(),
		gw:       gw,
		verifier: verifier,
		metrics:  m,
		opts:     opts,
		persist:  &persister{gw: gw, timeout: opts.PersistTimeout, metrics: m},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browsers are gated by CORS on the REST side and by identity here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		closing: make(chan struct{}),
	}
	srv.registerHandlers() // ← all WS events configured here
	return srv
}

// ---------------------------------------------------------------------------
//  Public: Gin entry‑point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	s.ServeHTTP(ginCtx.Writer, ginCtx.Request)
}

func (s *WsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.closing:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	rawConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.L().Warn("ws.accept", zap.Error(err))
		return
	}

	roomID := r.URL.Query().Get("roomId")
	id, err := s.identity(r)
	if roomID == "" || err != nil {
		zap.L().Info("ws.handshake_rejected", zap.String("room", roomID), zap.Error(err))
		_ = rawConn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Missing required parameters"),
			time.Now().Add(closeWait),
		)
		_ = rawConn.Close()
		return
	}

	rawConn.SetReadLimit(s.opts.MaxMessageBytes)
	c := newClientConn(rawConn, roomID, id.UserID, id.Username, s.opts.SendBuffer,
		rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.MessageBurst))
	rawConn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	if !s.admit(c) {
		return
	}
	s.reader(c)
}

// Run drives the liveness sweep until ctx is done or Close is called.
func (s *WsServer) Run(ctx context.Context) {
	tk := time.NewTicker(s.opts.HeartbeatInterval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			return
		case <-tk.C:
			s.sweep()
		}
	}
}

// Close disconnects every client, refuses new ones and waits for detached
// persistence to drain.
func (s *WsServer) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
	for _, c := range s.hub.Connections() {
		s.disconnect(c, websocket.CloseGoingAway, "server shutting down")
	}
	s.persist.drain()
}

// PublishCode pushes a document written outside the socket path (REST) to
// the room's live members. No-op when nobody is connected.
func (s *WsServer) PublishCode(roomID string, by auth.Identity, code, language string) {
	lr := s.hub.Room(roomID)
	if lr == nil {
		return
	}
	language, _ = lr.applyCode(code, language)
	s.broadcast(roomID, CodeUpdateEvent{
		Type:     EventCodeUpdate,
		Sender:   Sender{UserID: by.UserID, Username: by.Username},
		Code:     code,
		Language: language,
	}, nil)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) identity(r *http.Request) (auth.Identity, error) {
	if s.verifier != nil {
		return s.verifier.FromRequest(r)
	}
	q := r.URL.Query()
	id := auth.Identity{UserID: q.Get("userId"), Username: q.Get("username")}
	if id.UserID == "" || id.Username == "" {
		return auth.Identity{}, auth.ErrNoIdentity
	}
	return id, nil
}

// admit joins c to its room and sends it the current document. It reports
// false when the server started closing while the join was in flight.
func (s *WsServer) admit(c *clientConn) bool {
	lr, created := s.hub.Join(c.roomID, c)
	s.metrics.Connections.Inc()
	if created {
		s.metrics.Rooms.Inc()
	}
	go c.writePump()

	// Close may have taken its snapshot of the hub before this join landed.
	select {
	case <-s.closing:
		if created {
			close(lr.ready)
		}
		s.disconnect(c, websocket.CloseGoingAway, "server shutting down")
		return false
	default:
	}

	zap.L().Info("ws.joined",
		zap.String("room", c.roomID),
		zap.String("user", c.userID),
		zap.String("conn", c.id),
	)
	s.broadcast(c.roomID, PresenceEvent{
		Type:      EventUserJoined,
		Sender:    c.sender(),
		Timestamp: timestamp(),
	}, c)

	if created {
		s.loadDocument(lr)
	} else {
		select {
		case <-lr.ready:
		case <-time.After(s.opts.PersistTimeout):
		}
	}
	if code, lang := lr.document(); code != "" || lang != "" {
		s.sendTo(c, CodeUpdateEvent{Type: EventCodeUpdate, Code: code, Language: lang})
	}
	return true
}

// broadcast fans payload out to the room and counts members whose queue
// could not take the frame.
func (s *WsServer) broadcast(roomID string, payload any, exclude *clientConn) {
	if _, skipped := s.hub.Broadcast(roomID, payload, exclude); skipped > 0 {
		s.metrics.Dropped.WithLabelValues("send_full").Add(float64(skipped))
	}
}

// sendTo queues payload for c alone.
func (s *WsServer) sendTo(c *clientConn, payload any) {
	msg, err := json.Marshal(payload)
	if err != nil {
		zap.L().Error("ws.encode", zap.String("conn", c.id), zap.Error(err))
		return
	}
	if !c.enqueue(msg) {
		s.metrics.Dropped.WithLabelValues("send_full").Inc()
	}
}

// loadDocument seeds a cold room from the gateway. Live updates that land
// first win over the stored copy.
func (s *WsServer) loadDocument(lr *liveRoom) {
	defer close(lr.ready)

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.PersistTimeout)
	defer cancel()
	doc, err := s.gw.GetRoomCode(ctx, lr.id)
	if err != nil {
		if !errors.Is(err, room.ErrRoomNotFound) {
			s.metrics.PersistFailures.WithLabelValues("room_code_read").Inc()
			zap.L().Warn("ws.load_document", zap.String("room", lr.id), zap.Error(err))
		}
		return
	}
	lr.seed(doc.Code, doc.Language, doc.Rev)
}

func (s *WsServer) reader(c *clientConn) {
	defer s.disconnect(c, websocket.CloseNormalClosure, "connection closed")

	for {
		_, frame, err := c.rawConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Debug("ws.read", zap.String("conn", c.id), zap.Error(err))
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				s.metrics.Dropped.WithLabelValues("too_large").Inc()
			}
			return
		}
		s.route(c, frame)
	}
}

// route dispatches one inbound frame. Frames still buffered when the
// connection was torn down are dropped.
func (s *WsServer) route(c *clientConn, frame []byte) {
	if !c.active() {
		s.metrics.Dropped.WithLabelValues("closed").Inc()
		return
	}
	if !c.limiter.Allow() {
		s.metrics.Dropped.WithLabelValues("rate_limited").Inc()
		zap.L().Debug("ws.rate_limited", zap.String("conn", c.id))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ChatTimeout)
	typ, err := s.router.dispatch(ctx, c, frame)
	cancel()

	if err != nil {
		reason := "handler"
		switch {
		case errors.Is(err, ErrMalformedEnvelope):
			reason = "malformed"
		case errors.Is(err, ErrUnknownEvent):
			reason = "unknown_type"
		case errors.Is(err, ErrInvalidPayload):
			reason = "invalid"
		}
		s.metrics.Dropped.WithLabelValues(reason).Inc()
		zap.L().Warn("ws.route_dropped",
			zap.String("room", c.roomID),
			zap.String("conn", c.id),
			zap.String("type", typ),
			zap.Error(err),
		)
		return
	}
	s.metrics.Events.WithLabelValues(typ).Inc()
}

// disconnect is the single teardown path. It runs its body once per
// connection regardless of how many closers race.
func (s *WsServer) disconnect(c *clientConn, code int, reason string) {
	if !c.markClosed(code, reason) {
		return
	}
	remaining, ok := s.hub.Leave(c.roomID, c)
	if !ok {
		return
	}
	s.metrics.Connections.Dec()
	if remaining == 0 {
		s.metrics.Rooms.Dec()
	}

	zap.L().Info("ws.left",
		zap.String("room", c.roomID),
		zap.String("user", c.userID),
		zap.String("conn", c.id),
		zap.Int("remaining", remaining),
		zap.String("reason", reason),
	)
	if remaining > 0 {
		s.broadcast(c.roomID, PresenceEvent{
			Type:      EventUserLeft,
			Sender:    c.sender(),
			Timestamp: timestamp(),
		}, nil)
	}
}

// sweep probes every active connection and evicts those that never answered
// the previous probe.
func (s *WsServer) sweep() {
	for _, c := range s.hub.Connections() {
		if !c.active() {
			continue
		}
		if !c.alive.Swap(false) {
			s.metrics.LivenessEvictions.Inc()
			s.disconnect(c, websocket.CloseGoingAway, "liveness timeout")
			continue
		}
		if err := c.probe(); err != nil {
			s.disconnect(c, websocket.CloseGoingAway, "probe failed")
		}
	}
}

func timestamp() string {
	return time.Now().UTC().Format(room.TimestampLayout)
}
