package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/log4ym/station-core/internal/hub"
	"github.com/log4ym/station-core/internal/infrastructure/config"
)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// wsClient is one streaming consumer: a WebSocket connection paired
// with a hub subscriber. Events are written as raw hub event JSON; the
// subscriber's bounded queue absorbs bursts and sheds load for clients
// that cannot keep up.
type wsClient struct {
	server *Server
	conn   *websocket.Conn
	sub    *hub.Subscriber
	once   sync.Once
}

// handleWebSocket upgrades the HTTP connection, attaches a hub
// subscriber, and rehydrates it so the client starts from the full
// current picture before live events flow.
//
// Authentication runs in the normal middleware chain; browser clients
// pass the bearer token as a "token" query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sub := s.hub.Subscribe()
	if err := s.hub.Rehydrate(sub.ID()); err != nil {
		s.logger.Warn("websocket rehydrate failed", "subscriber_id", sub.ID(), "error", err)
	}

	client := &wsClient{
		server: s,
		conn:   conn,
		sub:    sub,
	}

	s.wsClients.Add(1)
	s.logger.Debug("websocket client connected",
		"subscriber_id", sub.ID(),
		"remote", r.RemoteAddr,
		"clients", s.wsClients.Load(),
	)

	go client.writeLoop(s.srvCtx, s.wsCfg)
	go client.readLoop(s.wsCfg)
}

// teardown detaches the subscriber and closes the connection. Safe to
// call from both pumps; only the first call does the work.
func (c *wsClient) teardown() {
	c.once.Do(func() {
		//nolint:errcheck // Best-effort detach; hub may already be closed
		c.server.hub.Unsubscribe(c.sub.ID())
		c.conn.Close()
		c.server.logger.Debug("websocket client disconnected",
			"subscriber_id", c.sub.ID(),
			"dropped", c.sub.Dropped(),
			"clients", c.server.wsClients.Add(-1),
		)
	})
}

// writeLoop streams hub events to the client. The subscriber queue is
// the pacing point: when no event arrives within the ping interval the
// loop sends a protocol ping instead, so event delivery and keepalive
// share one goroutine. A client too slow to drain the write within the
// pong timeout is dropped.
func (c *wsClient) writeLoop(ctx context.Context, cfg config.WebSocketConfig) {
	defer c.teardown()

	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}

	for {
		nextCtx, cancel := context.WithTimeout(ctx, pingInterval)
		ev, err := c.sub.Next(nextCtx)
		cancel()

		switch {
		case err == nil:
			data, merr := json.Marshal(ev)
			if merr != nil {
				c.server.logger.Error("websocket event marshal failed", "error", merr)
				continue
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if werr := c.conn.WriteMessage(websocket.TextMessage, data); werr != nil {
				return
			}
		case errors.Is(err, context.DeadlineExceeded):
			// Idle interval elapsed with nothing to send.
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if werr := c.conn.WriteMessage(websocket.PingMessage, nil); werr != nil {
				return
			}
		default:
			// Server shutdown or subscriber closed.
			//nolint:errcheck // Best-effort close message
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// readLoop consumes client frames. The stream is one-way; inbound
// payloads are discarded, but reads drive the pong handler and surface
// connection loss promptly.
func (c *wsClient) readLoop(cfg config.WebSocketConfig) {
	defer c.teardown()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	if pongWait <= 0 {
		pongWait = 10 * time.Second
	}

	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps the
		// connection alive even if the client never answers pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}
}
