package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RaviKiran093/multilingual-video-call/internal/config"
	"github.com/RaviKiran093/multilingual-video-call/internal/metrics"
	"github.com/RaviKiran093/multilingual-video-call/internal/rooms"
)

type translatorFunc func(ctx context.Context, text, sourceLang, targetLang string) (string, error)

func (f translatorFunc) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	return f(ctx, text, sourceLang, targetLang)
}

type testRelay struct {
	srv     *Server
	metrics *metrics.Metrics
	httpSrv *httptest.Server
	wsURL   string
}

func newTestRelay(t *testing.T, translator Translator, mutate func(*config.Config)) *testRelay {
	t.Helper()
	cfg := config.Config{
		SignalingWSIdleTimeout:        5 * time.Second,
		SignalingWSPingInterval:       time.Second,
		MaxSignalingMessageBytes:      1 << 16,
		MaxSignalingMessagesPerSecond: 1000,
		DefaultTargetLang:             "en",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	srv := NewServer(cfg, logger, rooms.NewRegistry(), m, translator)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	httpSrv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		httpSrv.Close()
	})
	return &testRelay{
		srv:     srv,
		metrics: m,
		httpSrv: httpSrv,
		wsURL:   "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws",
	}
}

type testConn struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func (r *testRelay) dial(t *testing.T) *testConn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(r.wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", r.wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testConn{t: t, conn: conn}
}

func (c *testConn) write(msg message) {
	c.t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testConn) read() message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.t.Fatalf("unmarshal %s: %v", data, err)
	}
	return msg
}

func (c *testConn) expectSilence(d time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	_, data, err := c.conn.ReadMessage()
	if err == nil {
		c.t.Fatalf("unexpected message: %s", data)
	}
	var netErr interface{ Timeout() bool }
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		c.t.Fatalf("read failed with %v, want timeout", err)
	}
}

// join performs the join handshake and records the connection's own
// identifier from the all-users reply.
func (c *testConn) join(roomID, username string) message {
	c.t.Helper()
	c.write(message{Type: messageTypeJoinRoom, RoomID: roomID, Username: username})
	msg := c.read()
	if msg.Type != messageTypeAllUsers {
		c.t.Fatalf("join reply type = %q, want all-users", msg.Type)
	}
	if msg.ConnectionID == "" {
		c.t.Fatal("all-users reply missing own connection id")
	}
	c.id = msg.ConnectionID
	return msg
}

func TestJoinHandshakeAndDiscovery(t *testing.T) {
	relay := newTestRelay(t, nil, nil)

	alice := relay.dial(t)
	reply := alice.join("r1", "Alice")
	if len(reply.Users) != 0 {
		t.Fatalf("first joiner roster = %v, want empty", reply.Users)
	}

	bob := relay.dial(t)
	reply = bob.join("r1", "Bob")
	if len(reply.Users) != 1 || reply.Users[0].ConnectionID != alice.id || reply.Users[0].Username != "Alice" {
		t.Fatalf("bob's roster = %+v, want just alice", reply.Users)
	}

	// Alice hears about Bob exactly once; Bob gets no self-announcement.
	ann := alice.read()
	if ann.Type != messageTypeUserJoined || ann.ConnectionID != bob.id || ann.Username != "Bob" {
		t.Fatalf("announcement = %+v", ann)
	}
	alice.expectSilence(150 * time.Millisecond)
	bob.expectSilence(150 * time.Millisecond)
}

func TestRoomsAreIsolated(t *testing.T) {
	relay := newTestRelay(t, nil, nil)

	alice := relay.dial(t)
	alice.join("r1", "Alice")
	carol := relay.dial(t)
	reply := carol.join("r2", "Carol")
	if len(reply.Users) != 0 {
		t.Fatalf("carol's roster = %v, want empty", reply.Users)
	}
	alice.expectSilence(150 * time.Millisecond)
}

func TestSignalUnicastRewritesFrom(t *testing.T) {
	relay := newTestRelay(t, nil, nil)

	alice := relay.dial(t)
	alice.join("r1", "Alice")
	bob := relay.dial(t)
	bob.join("r1", "Bob")
	alice.read() // user-joined for bob

	payload := json.RawMessage(`{"type":"offer","sdp":"fake"}`)
	// A forged from field must not survive the relay.
	alice.write(message{Type: messageTypeSignal, To: bob.id, From: "spoofed", Signal: payload})

	got := bob.read()
	if got.Type != messageTypeSignal {
		t.Fatalf("type = %q, want signal", got.Type)
	}
	if got.From != alice.id {
		t.Fatalf("from = %q, want %q", got.From, alice.id)
	}
	if string(got.Signal) != string(payload) {
		t.Fatalf("signal = %s, want %s", got.Signal, payload)
	}
	alice.expectSilence(150 * time.Millisecond)
}

func TestSignalToUnknownTargetIsDropped(t *testing.T) {
	relay := newTestRelay(t, nil, nil)

	alice := relay.dial(t)
	alice.join("r1", "Alice")
	alice.write(message{Type: messageTypeSignal, To: "nobody", Signal: json.RawMessage(`{}`)})
	alice.expectSilence(150 * time.Millisecond)
	if got := relay.metrics.Get(metrics.SignalDroppedNoTarget); got != 1 {
		t.Fatalf("dropped counter = %d, want 1", got)
	}
}

func TestRoomEventsExcludeSender(t *testing.T) {
	relay := newTestRelay(t, nil, nil)

	alice := relay.dial(t)
	alice.join("r1", "Alice")
	bob := relay.dial(t)
	bob.join("r1", "Bob")
	alice.read()
	carol := relay.dial(t)
	carol.join("r1", "Carol")
	alice.read()
	bob.read()

	// Senders never see their own broadcast. The next read on each sender
	// below returns the following event in the sequence, which would fail
	// loudly if an echo had been queued first.
	off := false
	on := true
	alice.write(message{Type: messageTypeMediaStateChanged, Video: &off, Audio: &on})
	for _, peer := range []*testConn{bob, carol} {
		got := peer.read()
		if got.Type != messageTypeMediaStateChanged || got.ConnectionID != alice.id {
			t.Fatalf("media event = %+v", got)
		}
		if got.Video == nil || *got.Video || got.Audio == nil || !*got.Audio {
			t.Fatalf("media flags = %+v", got)
		}
	}

	bob.write(message{Type: messageTypeChatMessage, Message: "hi all"})
	for _, peer := range []*testConn{alice, carol} {
		got := peer.read()
		if got.Type != messageTypeChatMessage || got.ConnectionID != bob.id || got.Message != "hi all" {
			t.Fatalf("chat event = %+v", got)
		}
	}

	carol.write(message{Type: messageTypeSubtitle, Text: "hola", Lang: "es"})
	for _, peer := range []*testConn{alice, bob} {
		got := peer.read()
		if got.Type != messageTypeSubtitle || got.ConnectionID != carol.id || got.Text != "hola" || got.Lang != "es" {
			t.Fatalf("subtitle event = %+v", got)
		}
	}
	for _, peer := range []*testConn{alice, bob, carol} {
		peer.expectSilence(150 * time.Millisecond)
	}
}

func TestDisconnectNotifiesRoom(t *testing.T) {
	relay := newTestRelay(t, nil, nil)

	alice := relay.dial(t)
	alice.join("r1", "Alice")
	bob := relay.dial(t)
	bob.join("r1", "Bob")
	alice.read()

	bob.conn.Close()
	got := alice.read()
	if got.Type != messageTypeUserDisconnected || got.ConnectionID != bob.id {
		t.Fatalf("disconnect notice = %+v", got)
	}
}

func TestLeaveRoomKeepsConnectionUsable(t *testing.T) {
	relay := newTestRelay(t, nil, nil)

	alice := relay.dial(t)
	alice.join("r1", "Alice")
	bob := relay.dial(t)
	bob.join("r1", "Bob")
	alice.read()

	bob.write(message{Type: messageTypeLeaveRoom})
	got := alice.read()
	if got.Type != messageTypeUserDisconnected || got.ConnectionID != bob.id {
		t.Fatalf("leave notice = %+v", got)
	}

	// The connection survives leave-room and can join again.
	reply := bob.join("r2", "Bob")
	if len(reply.Users) != 0 {
		t.Fatalf("roster after rejoin = %v, want empty", reply.Users)
	}
}

func TestJoinWhileJoinedRejected(t *testing.T) {
	relay := newTestRelay(t, nil, nil)

	alice := relay.dial(t)
	alice.join("r1", "Alice")
	alice.write(message{Type: messageTypeJoinRoom, RoomID: "r2", Username: "Alice"})
	got := alice.read()
	if got.Type != messageTypeError || got.Code != "already_joined" {
		t.Fatalf("reply = %+v, want already_joined error", got)
	}
	if got := relay.metrics.Get(metrics.JoinRejected); got != 1 {
		t.Fatalf("rejected counter = %d, want 1", got)
	}
}

func TestMalformedMessageKeepsConnection(t *testing.T) {
	relay := newTestRelay(t, nil, nil)

	alice := relay.dial(t)
	for _, raw := range []string{
		`not json`,
		`{"type":"join-room"}`,
		`{"type":"all-users"}`,
		`{"type":"join-room","roomId":"r1","username":"Alice","bogus":1}`,
	} {
		if err := alice.conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("write %q: %v", raw, err)
		}
		got := alice.read()
		if got.Type != messageTypeError || got.Code != "bad_message" {
			t.Fatalf("reply to %q = %+v", raw, got)
		}
	}
	// Still usable.
	alice.join("r1", "Alice")
}

func TestTranslateMessage(t *testing.T) {
	relay := newTestRelay(t, translatorFunc(func(_ context.Context, text, source, target string) (string, error) {
		if text == "hola" && source == "es" && target == "en" {
			return "hello", nil
		}
		return "", errors.New("unsupported")
	}), nil)

	alice := relay.dial(t)
	alice.join("r1", "Alice")
	bob := relay.dial(t)
	bob.join("r1", "Bob")
	alice.read()

	alice.write(message{Type: messageTypeTranslateMessage, To: bob.id, Text: "hola", Lang: "es", TargetLang: "en"})
	got := bob.read()
	if got.Type != messageTypeTranslatedMessage || got.From != alice.id {
		t.Fatalf("translated event = %+v", got)
	}
	if got.Original != "hola" || got.Translated != "hello" {
		t.Fatalf("translation = %+v", got)
	}

	// Failures come back to the requester with the marker text, not to the
	// original addressee. A stray success echo to alice would surface here
	// as the wrong event.
	alice.write(message{Type: messageTypeTranslateMessage, To: bob.id, Text: "xyzzy", Lang: "tlh", TargetLang: "en"})
	got = alice.read()
	if got.Type != messageTypeTranslatedMessage || got.From != "server" || got.Translated != translateFailedText {
		t.Fatalf("failure event = %+v", got)
	}
	bob.expectSilence(150 * time.Millisecond)
	if got := relay.metrics.Get(metrics.TranslateFailure); got != 1 {
		t.Fatalf("failure counter = %d, want 1", got)
	}
}

func TestRateLimitClosesConnection(t *testing.T) {
	relay := newTestRelay(t, nil, func(cfg *config.Config) {
		cfg.MaxSignalingMessagesPerSecond = 5
	})

	alice := relay.dial(t)
	closed := false
	for i := 0; i < 50; i++ {
		if err := alice.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"leave-room"}`)); err != nil {
			closed = true
			break
		}
	}
	if !closed {
		_ = alice.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := alice.conn.ReadMessage(); err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) && closeErr.Code != websocket.ClosePolicyViolation {
					t.Fatalf("close code = %d, want policy violation", closeErr.Code)
				}
				break
			}
		}
	}
	if got := relay.metrics.Get(metrics.DropReasonRateLimited); got != 1 {
		t.Fatalf("rate limited counter = %d, want 1", got)
	}
}

func TestOriginFiltering(t *testing.T) {
	relay := newTestRelay(t, nil, func(cfg *config.Config) {
		cfg.AllowedOrigins = []string{"https://call.example.com"}
	})

	header := http.Header{"Origin": {"https://call.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(relay.wsURL, header)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()

	header = http.Header{"Origin": {"https://evil.example.com"}}
	if _, resp, err := websocket.DefaultDialer.Dial(relay.wsURL, header); err == nil {
		t.Fatal("disallowed origin accepted")
	} else if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}
