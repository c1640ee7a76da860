package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"hostchat/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 45 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 64 * 1024
	sendQueueSize  = 64
)

// Client is one authenticated socket. Identity is fixed at connect time.
type Client struct {
	id       string
	identity domain.Identity
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	log      *slog.Logger
}

func newClient(conn *websocket.Conn, identity domain.Identity, log *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:       id,
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
		log:      log.With("conn_id", id, "user_id", identity.ID),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Identity() domain.Identity { return c.identity }

// Enqueue queues a frame without blocking. A client that cannot keep up is closed.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn("send queue full, closing connection")
		c.Close()
		return false
	}
}

func (c *Client) emit(event string, ack json.RawMessage, data any) {
	frame, err := encodeFrame(event, ack, data)
	if err != nil {
		c.log.Error("encode frame", "event", event, "error", err)
		return
	}
	c.Enqueue(frame)
}

func (c *Client) emitError(ack json.RawMessage, err error) {
	c.emit(EventError, ack, errorFrameData(err))
}

// Close stops the write pump and closes the socket. Safe to call repeatedly.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
