package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"MarketWatch/internal/core"
	"MarketWatch/internal/event"
	"MarketWatch/internal/fanout"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024

	// sendBuf must hold a full cold-start replay plus some live headroom;
	// overflow fails the send and the dispatcher evicts the client.
	sendBuf = 1024

	// inbound control messages per client, tokens per second / burst
	clientMsgRate  = 5
	clientMsgBurst = 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// In prod, check origin and require auth.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient adapts one WebSocket connection to the fanout.Observer
// contract. Send and Close are only called from the engine goroutine; the
// write pump is the only reader of the send queue.
type wsClient struct {
	id      string
	conn    *websocket.Conn
	send    chan event.Outbound
	closed  bool
	engine  *core.Engine
	limiter *rate.Limiter
	log     zerolog.Logger
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Send(ev event.Outbound) error {
	if c.closed {
		return fanout.ErrObserverClosed
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return fanout.ErrObserverBlocked
	}
}

func (c *wsClient) Close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ServeWS upgrades the request, replays the snapshot into the client's
// queue and registers it for live broadcasts.
func ServeWS(engine *core.Engine, log zerolog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan event.Outbound, sendBuf),
		engine:  engine,
		limiter: rate.NewLimiter(clientMsgRate, clientMsgBurst),
		log:     log.With().Str("client", conn.RemoteAddr().String()).Logger(),
	}

	// writer first so the replay drains while attach returns
	go client.writePump()
	engine.Attach(client)
	go client.readPump()
}

// readPump consumes inbound frames. The relay has no client commands yet;
// reading keeps pong handling alive and detects closure. A flood of
// frames beyond the rate limit closes the connection.
func (c *wsClient) readPump() {
	defer func() {
		c.engine.Detach(c.id)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure,
			) {
				c.log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		if !c.limiter.Allow() {
			c.log.Warn().Msg("client exceeded message rate, closing")
			return
		}
	}
}

// writePump serializes all writes to the connection: queued envelopes as
// JSON text frames plus periodic pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// engine detached us
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
