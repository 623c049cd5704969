package signaling

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meetmesh/signaling-relay/internal/config"
	"github.com/meetmesh/signaling-relay/internal/metrics"
)

func testConfig() config.Config {
	return config.Config{
		WSIdleTimeout:        5 * time.Second,
		WSPingInterval:       50 * time.Millisecond,
		MaxMessageBytes:      config.DefaultMaxMessageBytes,
		MaxMessagesPerSecond: 1000,
		SendQueueSize:        config.DefaultSendQueueSize,
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*httptest.Server, *metrics.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	met := metrics.New()
	srv := NewWebSocketServer(cfg, logger, met, NewRouter(logger, met))
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, met
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func sendEvent(t *testing.T, ws *websocket.Conn, event string, payload any) {
	t.Helper()
	raw, err := encodeEvent(event, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// readEvent reads frames until one matches the wanted event name.
func readEvent(t *testing.T, ws *websocket.Conn, want string) Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	_ = ws.SetReadDeadline(deadline)
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", want, err)
		}
		env, err := parseEnvelope(raw)
		if err != nil {
			t.Fatalf("bad frame %s: %v", raw, err)
		}
		if env.Event == want {
			return env
		}
	}
}

func TestWebSocket_JoinSignalLeaveFlow(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())

	wsA := dialWS(t, ts)
	sendEvent(t, wsA, EventJoinRoom, JoinRoom{RoomID: "r1", Name: "Alice"})

	var aExisting []Peer
	env := readEvent(t, wsA, EventExistingUsers)
	if err := json.Unmarshal(env.Data, &aExisting); err != nil {
		t.Fatalf("decode existing-users: %v", err)
	}
	if len(aExisting) != 0 {
		t.Fatalf("first joiner existing-users = %v, want []", aExisting)
	}

	wsB := dialWS(t, ts)
	sendEvent(t, wsB, EventJoinRoom, JoinRoom{RoomID: "r1", Name: "Bob"})

	var bExisting []Peer
	env = readEvent(t, wsB, EventExistingUsers)
	if err := json.Unmarshal(env.Data, &bExisting); err != nil {
		t.Fatalf("decode existing-users: %v", err)
	}
	if len(bExisting) != 1 || bExisting[0].Name != "Alice" {
		t.Fatalf("B existing-users = %v, want [Alice]", bExisting)
	}
	idA := bExisting[0].SocketID

	var joined Peer
	env = readEvent(t, wsA, EventUserJoined)
	if err := json.Unmarshal(env.Data, &joined); err != nil {
		t.Fatalf("decode user-joined: %v", err)
	}
	if joined.Name != "Bob" {
		t.Fatalf("A saw user-joined %+v, want Bob", joined)
	}
	idB := joined.SocketID

	// B signals A directly (the newcomer initiates).
	offer := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n"}`)
	sendEvent(t, wsB, EventSignal, Signal{To: idA, Data: offer})

	var fwd SignalForward
	env = readEvent(t, wsA, EventSignal)
	if err := json.Unmarshal(env.Data, &fwd); err != nil {
		t.Fatalf("decode signal: %v", err)
	}
	if fwd.From != idB || fwd.Name != "Bob" || string(fwd.Data) != string(offer) {
		t.Fatalf("forwarded signal = %+v", fwd)
	}

	// A broadcasts to the room (no target): B receives it.
	sendEvent(t, wsA, EventSignal, Signal{Data: json.RawMessage(`{"candidate":"cand"}`)})
	env = readEvent(t, wsB, EventSignal)
	if err := json.Unmarshal(env.Data, &fwd); err != nil {
		t.Fatalf("decode signal: %v", err)
	}
	if fwd.From != idA || fwd.Name != "Alice" {
		t.Fatalf("broadcast signal = %+v, want from Alice", fwd)
	}

	// B drops its transport: A gets user-left{B}.
	_ = wsB.Close()
	var left UserLeft
	env = readEvent(t, wsA, EventUserLeft)
	if err := json.Unmarshal(env.Data, &left); err != nil {
		t.Fatalf("decode user-left: %v", err)
	}
	if left.SocketID != idB {
		t.Fatalf("user-left = %+v, want %s", left, idB)
	}
}

func TestWebSocket_WhoamiReportsIDAndRoom(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())

	ws := dialWS(t, ts)
	sendEvent(t, ws, EventJoinRoom, JoinRoom{RoomID: "lobby", Name: "Eve"})
	readEvent(t, ws, EventExistingUsers)

	sendEvent(t, ws, EventWhoami, nil)
	env := readEvent(t, ws, EventWhoami)

	var reply WhoamiReply
	if err := json.Unmarshal(env.Data, &reply); err != nil {
		t.Fatalf("decode whoami: %v", err)
	}
	if reply.ID == "" || reply.RoomID != "lobby" {
		t.Fatalf("whoami = %+v", reply)
	}
}

func TestWebSocket_MalformedFramesAreIgnored(t *testing.T) {
	ts, met := newTestServer(t, testConfig())

	ws := dialWS(t, ts)
	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"no-such-event"}`)); err != nil {
		t.Fatalf("write unknown event: %v", err)
	}

	// The connection survives and still works.
	sendEvent(t, ws, EventJoinRoom, JoinRoom{RoomID: "r1", Name: "Alice"})
	readEvent(t, ws, EventExistingUsers)

	if met.Get(metrics.DropReasonMalformed) != 1 {
		t.Fatalf("malformed drop = %d, want 1", met.Get(metrics.DropReasonMalformed))
	}
	if met.Get(metrics.DropReasonUnknownEvent) != 1 {
		t.Fatalf("unknown-event drop = %d, want 1", met.Get(metrics.DropReasonUnknownEvent))
	}
}

func TestWebSocket_EmptyRoomIDJoinHasNoReply(t *testing.T) {
	ts, met := newTestServer(t, testConfig())

	ws := dialWS(t, ts)
	sendEvent(t, ws, EventJoinRoom, JoinRoom{RoomID: "", Name: "Alice"})

	// No existing-users reply arrives; the next valid join still works.
	sendEvent(t, ws, EventJoinRoom, JoinRoom{RoomID: "r1", Name: "Alice"})
	readEvent(t, ws, EventExistingUsers)

	if met.Get(metrics.RoomJoinsRejected) != 1 {
		t.Fatalf("rejected joins = %d, want 1", met.Get(metrics.RoomJoinsRejected))
	}
	if met.Get(metrics.RoomJoins) != 1 {
		t.Fatalf("joins = %d, want 1", met.Get(metrics.RoomJoins))
	}
}

func TestWebSocket_ServerPingsClient(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())

	ws := dialWS(t, ts)
	pinged := make(chan struct{}, 1)
	ws.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})

	// Ping/pong control frames are only processed by a pending read.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatalf("no ping received within keepalive interval")
	}
	_ = ws.Close()
	<-done
}

func TestWebSocket_RateLimitDropsExcessFrames(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessagesPerSecond = 1
	ts, met := newTestServer(t, cfg)

	ws := dialWS(t, ts)
	// First frame consumes the bucket; the rest are dropped.
	for i := 0; i < 5; i++ {
		sendEvent(t, ws, EventWhoami, nil)
	}
	readEvent(t, ws, EventWhoami)

	deadline := time.Now().Add(2 * time.Second)
	for met.Get(metrics.DropReasonRateLimited) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("rate-limited drops never counted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
