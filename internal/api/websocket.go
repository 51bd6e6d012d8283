package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/fleetlink-core/internal/agent"
	"github.com/nerrad567/fleetlink-core/internal/connection"
	"github.com/nerrad567/fleetlink-core/internal/dashboard"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/config"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/logging"
)

const (
	// wsSendBufferSize is the per-connection outbound frame buffer.
	wsSendBufferSize = 256

	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

// wsTimings returns the ping interval and pong timeout, defaulting unset values.
func wsTimings(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping, pong = defaultPingInterval, defaultPongTimeout
	if cfg.PingInterval > 0 {
		ping = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		pong = time.Duration(cfg.PongTimeout) * time.Second
	}
	return ping, pong
}

// wsConn is an upgraded connection. Frames are queued without blocking and
// written by a single writePump goroutine.
type wsConn struct {
	id     string
	kind   string
	conn   *websocket.Conn
	logger *logging.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newWSConn(conn *websocket.Conn, kind string, logger *logging.Logger) *wsConn {
	return &wsConn{
		id:     uuid.NewString(),
		kind:   kind,
		conn:   conn,
		logger: logger,
		send:   make(chan []byte, wsSendBufferSize),
	}
}

// ID returns the connection id.
func (c *wsConn) ID() string { return c.id }

// enqueue queues a frame for the writer.
func (c *wsConn) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return connection.ErrChannelClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return connection.ErrSendBufferFull
	}
}

// shutdown stops accepting frames. The writer flushes what is queued, sends a
// close frame and closes the socket, which in turn ends the read loop.
func (c *wsConn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump delivers each text frame to handle, in order, until the socket
// fails or closes.
func (c *wsConn) readPump(cfg config.WebSocketConfig, handle func([]byte)) {
	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	ping, pong := wsTimings(cfg)
	wait := ping + pong
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "kind", c.kind, "channel_id", c.id, "error", err)
			} else {
				c.logger.Debug("websocket closed", "kind", c.kind, "channel_id", c.id, "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(wait))
		if msgType != websocket.TextMessage {
			continue
		}
		handle(message)
	}
}

func (c *wsConn) writePump(cfg config.WebSocketConfig) {
	pingInterval, writeWait := wsTimings(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // Best-effort close frame
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", "kind", c.kind, "channel_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// agentChannel adapts a connection to agent.Channel.
type agentChannel struct{ *wsConn }

func (c *agentChannel) Send(msg agent.Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding agent frame: %w", err)
	}
	return c.enqueue(data)
}

// dashboardChannel adapts a connection to dashboard.Channel.
type dashboardChannel struct{ *wsConn }

func (c *dashboardChannel) Emit(event string, payload any) error {
	data, err := dashboard.Encode(event, payload)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", event, err)
	}
	return c.enqueue(data)
}

var (
	_ agent.Channel     = (*agentChannel)(nil)
	_ dashboard.Channel = (*dashboardChannel)(nil)
)

// lifecycle is what both channel handlers (agent.Dispatcher, dashboard.Hub)
// expose, over their own channel type.
type lifecycle[C any] struct {
	opened func(C)
	handle func(context.Context, C, []byte)
	closed func(context.Context, C)
}

func serveChannel[C any](s *Server, w http.ResponseWriter, r *http.Request, kind string, wrap func(*wsConn) C, lc lifecycle[C]) {
	if !s.accepting() {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "server shutting down")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "kind", kind, "error", err)
		return
	}

	c := newWSConn(conn, kind, s.logger)
	if !s.track(c) {
		c.shutdown()
		go c.writePump(s.wsCfg)
		return
	}
	ch := wrap(c)
	ctx := s.ctx

	lc.opened(ch)
	go c.writePump(s.wsCfg)
	go func() {
		defer s.untrack(c)
		c.readPump(s.wsCfg, func(raw []byte) { lc.handle(ctx, ch, raw) })
		c.shutdown()
		lc.closed(context.WithoutCancel(ctx), ch)
	}()
}

func (s *Server) handleAgentSocket(w http.ResponseWriter, r *http.Request) {
	serveChannel(s, w, r, "agent",
		func(c *wsConn) *agentChannel { return &agentChannel{c} },
		lifecycle[*agentChannel]{
			opened: func(ch *agentChannel) { s.agents.Opened(ch) },
			handle: func(ctx context.Context, ch *agentChannel, raw []byte) { s.agents.Handle(ctx, ch, raw) },
			closed: func(ctx context.Context, ch *agentChannel) { s.agents.Closed(ctx, ch) },
		})
}

func (s *Server) handleDashboardSocket(w http.ResponseWriter, r *http.Request) {
	serveChannel(s, w, r, "dashboard",
		func(c *wsConn) *dashboardChannel { return &dashboardChannel{c} },
		lifecycle[*dashboardChannel]{
			opened: func(ch *dashboardChannel) { s.hub.Opened(ch) },
			handle: func(ctx context.Context, ch *dashboardChannel, raw []byte) { s.hub.Handle(ctx, ch, raw) },
			closed: func(ctx context.Context, ch *dashboardChannel) { s.hub.Closed(ctx, ch) },
		})
}

func (s *Server) accepting() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conns != nil
}

// track registers c for Close. It refuses new connections once closing.
func (s *Server) track(c *wsConn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[c] = struct{}{}
	s.connWG.Add(1)
	return true
}

func (s *Server) untrack(c *wsConn) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
	s.connWG.Done()
}

// closeConns shuts every live connection down and refuses new ones.
func (s *Server) closeConns() {
	s.connMu.Lock()
	conns := s.conns
	s.conns = nil
	s.connMu.Unlock()

	for c := range conns {
		c.shutdown()
	}
}

// connCounts reports live connections per kind.
func (s *Server) connCounts() map[string]int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	counts := map[string]int{"agent": 0, "dashboard": 0}
	for c := range s.conns {
		counts[c.kind]++
	}
	return counts
}
