package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"codecollab/internal/auth"
	"codecollab/internal/metrics"
	"codecollab/internal/services/room"
)

const waitFor = 2 * time.Second

// fakeGateway keeps the highest revision per room, like room_code_set.
type fakeGateway struct {
	mu       sync.Mutex
	docs     map[string]room.RoomCode
	messages []room.Message
	failChat bool
}

func newFakeGateway() *fakeGateway { return &fakeGateway{docs: map[string]room.RoomCode{}} }

func (g *fakeGateway) GetRoomCode(_ context.Context, id string) (*room.RoomCode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.docs[id]
	if !ok {
		return nil, room.ErrRoomNotFound
	}
	return &d, nil
}

func (g *fakeGateway) SetRoomCode(_ context.Context, id, code, language string, rev int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rev <= g.docs[id].Rev {
		return nil
	}
	g.docs[id] = room.RoomCode{Code: code, Language: language, Rev: rev}
	return nil
}

func (g *fakeGateway) AppendMessage(_ context.Context, roomID, content, senderID, senderName string) (*room.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failChat {
		return nil, errors.New("db down")
	}
	m := room.Message{
		ID:         int64(len(g.messages) + 1),
		Content:    content,
		SenderID:   senderID,
		SenderName: senderName,
		RoomID:     roomID,
		Timestamp:  time.Now().UTC().Format(room.TimestampLayout),
	}
	g.messages = append(g.messages, m)
	return &m, nil
}

func (g *fakeGateway) put(id string, d room.RoomCode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.docs[id] = d
}

func (g *fakeGateway) failChats() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failChat = true
}

func (g *fakeGateway) doc(id string) room.RoomCode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.docs[id]
}

type testEnv struct {
	srv *WsServer
	hub *Hub
	gw  *fakeGateway
	ts  *httptest.Server
}

func newTestEnv(t *testing.T, verifier *auth.Verifier, tweak func(*Options)) *testEnv {
	t.Helper()
	opts := DefaultOptions()
	if tweak != nil {
		tweak(&opts)
	}
	env := &testEnv{hub: NewHub(), gw: newFakeGateway()}
	env.srv = NewWsServer(env.hub, env.gw, verifier, metrics.New(prometheus.NewRegistry()), opts)
	env.ts = httptest.NewServer(env.srv)
	t.Cleanup(env.ts.Close)
	t.Cleanup(env.srv.Close)
	return env
}

type testClient struct {
	conn   *websocket.Conn
	frames chan map[string]any
	err    chan error
}

func (env *testEnv) dial(t *testing.T, q url.Values, setup func(*websocket.Conn)) *testClient {
	t.Helper()
	u := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws?" + q.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	if setup != nil {
		setup(conn)
	}

	tc := &testClient{conn: conn, frames: make(chan map[string]any, 64), err: make(chan error, 1)}
	go func() {
		defer close(tc.frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				tc.err <- err
				return
			}
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				tc.frames <- m
			}
		}
	}()
	return tc
}

func (env *testEnv) join(t *testing.T, roomID, userID string) *testClient {
	t.Helper()
	before := env.hub.MemberCount(roomID)
	c := env.dial(t, url.Values{"roomId": {roomID}, "userId": {userID}, "username": {"name-" + userID}}, nil)
	require.Eventually(t, func() bool { return env.hub.MemberCount(roomID) > before }, waitFor, 5*time.Millisecond)
	return c
}

func (c *testClient) send(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, c.conn.WriteJSON(v))
}

func (c *testClient) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case m, ok := <-c.frames:
		require.True(t, ok, "connection closed")
		return m
	case <-time.After(waitFor):
		t.Fatal("no frame received")
		return nil
	}
}

func (c *testClient) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case m, ok := <-c.frames:
		require.True(t, ok, "connection closed")
		t.Fatalf("unexpected frame %v", m)
	case <-time.After(d):
	}
}

func (c *testClient) closeError(t *testing.T) *websocket.CloseError {
	t.Helper()
	select {
	case err := <-c.err:
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce
	case <-time.After(waitFor):
		t.Fatal("connection still open")
		return nil
	}
}

func TestCodeUpdateFanOutPersistAndDeparture(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	u1 := env.join(t, "abc123", "U1")
	u2 := env.join(t, "abc123", "U2")

	joined := u1.next(t)
	assert.Equal(t, EventUserJoined, joined["type"])
	assert.Equal(t, "U2", joined["userId"])

	u1.send(t, map[string]any{"type": "code_update", "code": "print(1)", "language": "python", "persist": true})
	got := u2.next(t)
	assert.Equal(t, EventCodeUpdate, got["type"])
	assert.Equal(t, "print(1)", got["code"])
	assert.Equal(t, "python", got["language"])
	assert.Equal(t, "U1", got["userId"])
	u1.expectSilence(t, 100*time.Millisecond)

	require.Eventually(t, func() bool { return env.gw.doc("abc123").Code == "print(1)" }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "python", env.gw.doc("abc123").Language)

	require.NoError(t, u1.conn.Close())
	left := u2.next(t)
	assert.Equal(t, EventUserLeft, left["type"])
	assert.Equal(t, "U1", left["userId"])
	assert.NotNil(t, env.hub.Room("abc123"))

	require.NoError(t, u2.conn.Close())
	require.Eventually(t, func() bool { return env.hub.Room("abc123") == nil }, waitFor, 5*time.Millisecond)
}

func TestLastPersistedWriteWins(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	u1 := env.join(t, "r1", "U1")
	u2 := env.join(t, "r1", "U2")
	u1.next(t)

	for _, code := range []string{"a", "b", "c"} {
		u1.send(t, map[string]any{"type": "code_update", "code": code, "language": "go", "shouldPersist": true})
		assert.Equal(t, code, u2.next(t)["code"])
	}
	env.srv.Close()
	assert.Equal(t, "c", env.gw.doc("r1").Code)
}

func TestLastPersistedWriteWinsAcrossSenders(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	u1 := env.join(t, "r1", "U1")
	u2 := env.join(t, "r1", "U2")
	u1.next(t)
	lr := env.hub.Room("r1")
	require.NotNil(t, lr)

	steps := []struct {
		from, to *testClient
		code     string
	}{
		{u1, u2, "a"},
		{u2, u1, "b"},
		{u1, u2, "c"},
		{u2, u1, "d"},
	}
	for _, st := range steps {
		st.from.send(t, map[string]any{"type": "code_update", "code": st.code, "language": "go", "persist": true})
		assert.Equal(t, st.code, st.to.next(t)["code"])
	}

	lr.mu.Lock()
	lastRev := lr.rev
	lr.mu.Unlock()

	env.srv.Close()
	got := env.gw.doc("r1")
	assert.Equal(t, "d", got.Code)
	assert.Equal(t, lastRev, got.Rev, "stored revision is the newest one handed out")
}

func TestJoinerReceivesStoredDocument(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.gw.put("r9", room.RoomCode{Code: "x = 1", Language: "python", Rev: 5})

	u1 := env.join(t, "r9", "U1")
	snap := u1.next(t)
	assert.Equal(t, EventCodeUpdate, snap["type"])
	assert.Equal(t, "x = 1", snap["code"])

	u1.send(t, map[string]any{"type": "code_update", "code": "x = 2", "language": "python"})
	require.Eventually(t, func() bool {
		code, _ := env.hub.Room("r9").document()
		return code == "x = 2"
	}, waitFor, 5*time.Millisecond)
	u2 := env.join(t, "r9", "U2")
	assert.Equal(t, "x = 2", u2.next(t)["code"], "later joiners see the live copy")
}

func TestLanguageUpdateExcludesSender(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	u1 := env.join(t, "r1", "U1")
	u2 := env.join(t, "r1", "U2")
	u1.next(t)

	u1.send(t, map[string]any{"type": "language_update", "language": "rust", "persist": true})
	got := u2.next(t)
	assert.Equal(t, EventLanguageUpdate, got["type"])
	assert.Equal(t, "rust", got["language"])
	assert.Equal(t, "U1", got["userId"])
	u1.expectSilence(t, 100*time.Millisecond)
	require.Eventually(t, func() bool { return env.gw.doc("r1").Language == "rust" }, waitFor, 5*time.Millisecond)
}

func TestChatPersistedThenBroadcast(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	u1 := env.join(t, "r1", "U1")
	u2 := env.join(t, "r1", "U2")
	u1.next(t)

	u1.send(t, map[string]any{"type": "chat_message", "content": "hello", "senderId": "spoofed"})
	got := u2.next(t)
	assert.Equal(t, EventChatMessage, got["type"])
	assert.Equal(t, "hello", got["content"])
	assert.Equal(t, "U1", got["senderId"])
	assert.EqualValues(t, 1, got["id"])
	u1.expectSilence(t, 100*time.Millisecond)
}

func TestChatPersistFailureReportsToSenderOnly(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.gw.failChats()
	u1 := env.join(t, "r1", "U1")
	u2 := env.join(t, "r1", "U2")
	u1.next(t)

	u1.send(t, map[string]any{"type": "chat_message", "content": "hello"})
	got := u1.next(t)
	assert.Equal(t, EventRoomError, got["type"])
	assert.NotEmpty(t, got["message"])
	u2.expectSilence(t, 150*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.srv.metrics.PersistFailures.WithLabelValues("chat")))
}

func TestSignalUnicastToTargetOnly(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	u1 := env.join(t, "r1", "U1")
	u2 := env.join(t, "r1", "U2")
	u1.next(t)
	u3 := env.join(t, "r1", "U3")
	u1.next(t)
	u2.next(t)

	u1.send(t, map[string]any{"type": "video_offer", "target": "U3", "signal": map[string]string{"sdp": "v=0"}})
	got := u3.next(t)
	assert.Equal(t, EventVideoOffer, got["type"])
	assert.Equal(t, "U1", got["userId"])
	assert.Equal(t, "U3", got["target"])
	assert.Equal(t, map[string]any{"sdp": "v=0"}, got["signal"])
	u2.expectSilence(t, 100*time.Millisecond)
	u1.expectSilence(t, 10*time.Millisecond)
}

func TestSignalToAbsentTargetIsSilent(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	u1 := env.join(t, "r1", "U1")
	u2 := env.join(t, "r1", "U2")
	u1.next(t)

	u1.send(t, map[string]any{"type": "video_offer", "target": "U3", "signal": "S"})
	u1.send(t, map[string]any{"type": "video_ice_candidate", "target": "U3", "candidate": "C"})
	u2.expectSilence(t, 100*time.Millisecond)
	u1.expectSilence(t, 10*time.Millisecond)

	// connection survives
	u1.send(t, map[string]any{"type": "cursor_update", "line": 1, "column": 2})
	assert.Equal(t, EventCursorUpdate, u2.next(t)["type"])
}

func TestSignalNeverCrossesRooms(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	u1 := env.join(t, "r1", "U1")
	other := env.join(t, "r2", "U3")

	u1.send(t, map[string]any{"type": "video_answer", "target": "U3", "signal": "S"})
	other.expectSilence(t, 100*time.Millisecond)
}

func TestVideoJoinIncludesSender(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	u1 := env.join(t, "r1", "U1")
	u2 := env.join(t, "r1", "U2")
	u1.next(t)

	u1.send(t, map[string]any{"type": "video_join", "callType": "video"})
	for _, c := range []*testClient{u1, u2} {
		got := c.next(t)
		assert.Equal(t, EventVideoJoin, got["type"])
		assert.Equal(t, "video", got["callType"])
		assert.Equal(t, "U1", got["userId"])
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	u1 := env.join(t, "r1", "U1")
	u2 := env.join(t, "r1", "U2")
	u1.next(t)

	require.NoError(t, u1.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	u1.send(t, map[string]any{"type": "compile", "code": "x"})
	u1.send(t, map[string]any{"type": "presence_query"})

	got := u2.next(t)
	assert.Equal(t, EventPresenceQuery, got["type"])
	assert.Equal(t, 1.0, testutil.ToFloat64(env.srv.metrics.Dropped.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.srv.metrics.Dropped.WithLabelValues("unknown_type")))
}

func TestHandshakeWithoutIdentityIsRejected(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	c := env.dial(t, url.Values{"roomId": {"r1"}}, nil)
	assert.Equal(t, websocket.ClosePolicyViolation, c.closeError(t).Code)

	c = env.dial(t, url.Values{"userId": {"U1"}, "username": {"alice"}}, nil)
	assert.Equal(t, websocket.ClosePolicyViolation, c.closeError(t).Code)
	assert.Zero(t, env.hub.RoomCount())
}

func TestHandshakeWithToken(t *testing.T) {
	v := auth.NewVerifier("s3cret")
	env := newTestEnv(t, v, nil)
	tok, err := v.Sign(auth.Identity{UserID: "U1", Username: "alice"}, time.Minute)
	require.NoError(t, err)

	env.dial(t, url.Values{"roomId": {"r1"}, "token": {tok}}, nil)
	require.Eventually(t, func() bool { return env.hub.MemberCount("r1") == 1 }, waitFor, 5*time.Millisecond)

	bad := env.dial(t, url.Values{"roomId": {"r1"}, "token": {"nope"}, "userId": {"U2"}, "username": {"bob"}}, nil)
	assert.Equal(t, websocket.ClosePolicyViolation, bad.closeError(t).Code)
	assert.Equal(t, 1, env.hub.MemberCount("r1"))
}

func TestLivenessEvictsSilentPeerOnce(t *testing.T) {
	env := newTestEnv(t, nil, func(o *Options) { o.HeartbeatInterval = 100 * time.Millisecond })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.srv.Run(ctx)

	u1 := env.join(t, "r1", "U1")
	// never answers pings
	env.dial(t, url.Values{"roomId": {"r1"}, "userId": {"U2"}, "username": {"bob"}}, func(c *websocket.Conn) {
		c.SetPingHandler(func(string) error { return nil })
	})
	assert.Equal(t, EventUserJoined, u1.next(t)["type"])

	left := u1.next(t)
	assert.Equal(t, EventUserLeft, left["type"])
	assert.Equal(t, "U2", left["userId"])
	u1.expectSilence(t, 400*time.Millisecond)

	assert.Equal(t, 1, env.hub.MemberCount("r1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.srv.metrics.LivenessEvictions))
}

func TestRateLimitDropsExcessFrames(t *testing.T) {
	env := newTestEnv(t, nil, func(o *Options) {
		o.MessagesPerSecond = 1
		o.MessageBurst = 1
	})
	u1 := env.join(t, "r1", "U1")
	u2 := env.join(t, "r1", "U2")
	u1.next(t)

	for i := 0; i < 3; i++ {
		u1.send(t, map[string]any{"type": "cursor_update", "line": i, "column": 0})
	}
	assert.Equal(t, EventCursorUpdate, u2.next(t)["type"])
	u2.expectSilence(t, 150*time.Millisecond)
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	env := newTestEnv(t, nil, func(o *Options) { o.MaxMessageBytes = 1024 })
	u1 := env.join(t, "r1", "U1")
	u2 := env.join(t, "r1", "U2")
	u1.next(t)

	u1.send(t, map[string]any{"type": "chat_message", "content": strings.Repeat("x", 2048)})
	left := u2.next(t)
	assert.Equal(t, EventUserLeft, left["type"])
	assert.Equal(t, "U1", left["userId"])
}

func TestPublishCodeReachesLiveMembers(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	u1 := env.join(t, "r1", "U1")

	env.srv.PublishCode("r1", auth.Identity{UserID: "U9", Username: "rest"}, "fn main() {}", "rust")
	got := u1.next(t)
	assert.Equal(t, "fn main() {}", got["code"])
	assert.Equal(t, "U9", got["userId"])

	env.srv.PublishCode("nobody-here", auth.Identity{}, "x", "go")
	assert.Nil(t, env.hub.Room("nobody-here"))
}

func TestCloseDisconnectsEveryone(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	u1 := env.join(t, "r1", "U1")
	u2 := env.join(t, "r2", "U2")

	env.srv.Close()
	assert.Equal(t, websocket.CloseGoingAway, u1.closeError(t).Code)
	assert.Equal(t, websocket.CloseGoingAway, u2.closeError(t).Code)
	assert.Zero(t, env.hub.RoomCount())
}

func TestJoinRacingCloseIsTurnedAway(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.srv.Close()

	// Upgrade by hand to reach admit past the closing check in ServeHTTP.
	admitted := make(chan bool, 1)
	late := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := env.srv.upgrader.Upgrade(w, r, nil)
		if err != nil {
			admitted <- true
			return
		}
		c := newClientConn(raw, "late", "U9", "name-U9", 4, rate.NewLimiter(rate.Inf, 1))
		admitted <- env.srv.admit(c)
	}))
	t.Cleanup(late.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(late.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.False(t, <-admitted)
	assert.Nil(t, env.hub.Room("late"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
}

func TestFrameReadAfterTeardownIsDropped(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	evicted := newTestConn("r1", "U1", 4)
	peer := newTestConn("r1", "U2", 4)
	env.hub.Join("r1", evicted)
	env.hub.Join("r1", peer)
	lr := env.hub.Room("r1")

	require.True(t, evicted.markClosed(websocket.CloseGoingAway, "liveness timeout"))
	env.srv.route(evicted, []byte(`{"type":"code_update","code":"late","language":"go","persist":true}`))

	code, _ := lr.document()
	assert.Empty(t, code)
	assert.Len(t, peer.send, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.srv.metrics.Dropped.WithLabelValues("closed")))

	env.srv.Close()
	assert.Zero(t, env.gw.doc("r1").Rev, "nothing was persisted")
}

func TestBroadcastCountsFullQueues(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	sender := newTestConn("r1", "U1", 4)
	slow := newTestConn("r1", "U2", 1)
	fast := newTestConn("r1", "U3", 4)
	for _, c := range []*clientConn{sender, slow, fast} {
		env.hub.Join("r1", c)
	}
	require.True(t, slow.enqueue([]byte(`{}`)))

	env.srv.broadcast("r1", CursorEvent{Type: EventCursorUpdate, Sender: sender.sender(), Line: 1}, sender)

	assert.Len(t, fast.send, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.srv.metrics.Dropped.WithLabelValues("send_full")))
}
