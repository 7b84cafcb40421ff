package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Websocket event names.
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventMessage     = "message"
)

const (
	// DefaultQueueSize bounds each client's outbound queue.
	DefaultQueueSize = 256

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Event is the JSON frame exchanged over the socket.
type Event struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// Client represents a websocket client connection. Payloads are queued by Send and
// written by WritePump, which drops anything queued for a room the client has left.
type Client struct {
	membership

	conn  *websocket.Conn
	log   *slog.Logger
	queue chan outbound
	done  chan struct{}
	once  sync.Once
}

// NewClient constructs a client wrapper with an outbound queue of queueSize entries.
func NewClient(conn *websocket.Conn, logger *slog.Logger, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Client{
		conn:  conn,
		log:   logger,
		queue: make(chan outbound, queueSize),
		done:  make(chan struct{}),
	}
}

// Send queues payload for delivery without blocking.
func (c *Client) Send(room string, payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.queue <- outbound{room: room, payload: payload}:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close terminates the connection. It is safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// WritePump drains the outbound queue and keeps the connection alive with pings until the
// client is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.queue:
			if !c.member(msg.room) {
				continue
			}
			frame, err := json.Marshal(Event{Event: EventMessage, Data: string(msg.payload)})
			if err != nil {
				c.log.Warn("websocket encode failed", "error", err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

// ReadPump reads client events and passes them to handle until the connection fails.
// Malformed frames are logged and skipped.
func (c *Client) ReadPump(handle func(Event)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read failed", "error", err)
			}
			return
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			c.log.Debug("websocket frame ignored", "error", err)
			continue
		}
		handle(evt)
	}
}
