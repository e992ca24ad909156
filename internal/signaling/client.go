package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/RaviKiran093/multilingual-video-call/internal/metrics"
	"github.com/RaviKiran093/multilingual-video-call/internal/ratelimit"
)

const (
	// Time allowed to write one message to the peer.
	writeWait = 10 * time.Second

	// Outbound queue depth per connection. Slow consumers get messages
	// dropped rather than stalling a room-wide broadcast.
	sendQueueSize = 256
)

// client is the server side of one signaling websocket connection.
//
// All reads happen on the run goroutine, all writes on the writePump
// goroutine; other goroutines communicate through the buffered sendCh.
type client struct {
	id  string
	srv *Server

	conn    *websocket.Conn
	sendCh  chan []byte
	limiter *ratelimit.TokenBucket

	// ctx is canceled when the connection goes away; translation calls and
	// other collaborator work scoped to this connection hang off it.
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func newClient(s *Server, conn *websocket.Conn) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		id:      s.registry.Register(),
		srv:     s,
		conn:    conn,
		sendCh:  make(chan []byte, sendQueueSize),
		limiter: ratelimit.NewTokenBucket(ratelimit.RealClock{}, int64(s.messagesPerSec), int64(s.messagesPerSec)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// run pumps inbound messages until the connection dies, then finalizes the
// client. Blocks for the connection's lifetime.
func (c *client) run() {
	go c.writePump()
	c.readPump()
	c.srv.dropClient(c)
}

func (c *client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(c.srv.maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.srv.idleTimeout))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.srv.log.Debug("websocket read error", "connection_id", c.id, "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.idleTimeout))

		// Rate-limit after the read so bytes already buffered by the OS are
		// consumed; closing with unread data can turn into an abortive close
		// that hides the close code from the client.
		if !c.limiter.Allow(1) {
			c.srv.metrics.Inc(metrics.DropReasonRateLimited)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		msg, err := parseMessage(data)
		if err != nil {
			c.srv.log.Debug("bad signaling message", "connection_id", c.id, "err", err)
			c.send(message{Type: messageTypeError, Code: "bad_message", Message: err.Error()})
			continue
		}

		c.srv.handleMessage(c, msg)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.srv.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func (c *client) send(msg message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.sendRaw(data)
}

// sendRaw queues an already-encoded message, dropping it if the client's
// queue is full so one slow consumer cannot stall a broadcast.
func (c *client) sendRaw(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		c.srv.log.Warn("send queue full, dropping message", "connection_id", c.id)
	}
}

func (c *client) closeWith(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = c.conn.Close()
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	})
}
