package signaling

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/meetmesh/signaling-relay/internal/config"
	"github.com/meetmesh/signaling-relay/internal/metrics"
	"github.com/meetmesh/signaling-relay/internal/origin"
	"github.com/meetmesh/signaling-relay/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

// WebSocketServer is the transport binding: it upgrades HTTP requests, frames
// events as JSON envelopes and feeds them to the Router. Each connection gets
// an opaque server-assigned id, a read pump (this handler's goroutine) and a
// write pump draining a bounded queue.
type WebSocketServer struct {
	cfg      config.Config
	log      *slog.Logger
	met      *metrics.Metrics
	router   *Router
	upgrader websocket.Upgrader

	// clock feeds the per-connection message rate limiter; tests inject a fake.
	clock ratelimit.Clock
}

func NewWebSocketServer(cfg config.Config, logger *slog.Logger, met *metrics.Metrics, router *Router) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketServer{
		cfg:    cfg,
		log:    logger,
		met:    met,
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				header := r.Header.Get("Origin")
				if header == "" {
					// Non-browser clients (and tests) send no Origin.
					return true
				}
				normalized, host, ok := origin.Normalize(header)
				return ok && origin.IsAllowed(normalized, host, r.Host, cfg.AllowedOrigins)
			},
		},
		clock: ratelimit.RealClock{},
	}
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	connID := uuid.NewString()
	c := newWSClient(connID, conn, s.cfg.SendQueueSize)

	s.met.Inc(metrics.WSConnects)
	s.log.Info("websocket connected", "conn_id", connID, "remote_addr", r.RemoteAddr)

	s.router.Connect(connID, c)
	go c.writePump(s.cfg.WSPingInterval)

	s.readPump(c)

	// The read pump returning is the connection's single terminal signal.
	s.router.Disconnect(connID)
	c.close()

	s.met.Inc(metrics.WSDisconnects)
	s.log.Info("websocket disconnected", "conn_id", connID)
}

func (s *WebSocketServer) readPump(c *wsClient) {
	conn := c.conn
	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))
	})

	rate := int64(s.cfg.MaxMessagesPerSecond)
	limiter := ratelimit.NewTokenBucket(s.clock, rate, rate)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.WSIdleTimeout))

		if !limiter.Allow(1) {
			s.met.Inc(metrics.DropReasonRateLimited)
			s.log.Debug("dropped frame: rate limited", "conn_id", c.id)
			continue
		}

		s.dispatch(c, raw)
	}
}

// dispatch routes one inbound frame. Malformed frames and unknown events are
// dropped without a reply; the protocol has no error channel back to clients.
func (s *WebSocketServer) dispatch(c *wsClient, raw []byte) {
	env, err := parseEnvelope(raw)
	if err != nil {
		s.met.Inc(metrics.DropReasonMalformed)
		s.log.Debug("dropped frame: malformed envelope", "conn_id", c.id, "err", err)
		return
	}

	switch env.Event {
	case EventJoinRoom:
		var req JoinRoom
		if err := json.Unmarshal(env.Data, &req); err != nil {
			s.met.Inc(metrics.DropReasonMalformed)
			s.log.Debug("dropped frame: malformed join-room", "conn_id", c.id, "err", err)
			return
		}
		s.router.Join(c.id, req.RoomID, req.Name)

	case EventSignal:
		var req Signal
		if err := json.Unmarshal(env.Data, &req); err != nil {
			s.met.Inc(metrics.DropReasonMalformed)
			s.log.Debug("dropped frame: malformed signal", "conn_id", c.id, "err", err)
			return
		}
		s.router.Relay(c.id, req.To, req.Data)

	case EventWhoami:
		s.router.Whoami(c.id)

	default:
		s.met.Inc(metrics.DropReasonUnknownEvent)
		s.log.Debug("dropped frame: unknown event", "conn_id", c.id, "event", env.Event)
	}
}

// wsClient wraps one websocket connection with a bounded outbound queue.
type wsClient struct {
	id   string
	conn *websocket.Conn

	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newWSClient(id string, conn *websocket.Conn, queueSize int) *wsClient {
	return &wsClient{
		id:   id,
		conn: conn,
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

// Send implements Sender. It never blocks: when the queue is full the frame
// is dropped and false returned.
func (c *wsClient) Send(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// writePump drains the outbound queue and keeps the connection alive with
// periodic pings. It exits when a write fails or the client is closed.
func (c *wsClient) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		}
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
