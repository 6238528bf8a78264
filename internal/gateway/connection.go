package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classboard/pkg/types"
)

// Connection wraps one live socket. The gateway owns it exclusively; other
// components hold it only through the interfaces.Connection lookup. Writes
// are serialized through a single writer goroutine so concurrent broadcasts
// never race on the underlying socket.
type Connection struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	id        string
	identity  types.Identity
	roomID    string
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	mu        sync.RWMutex
}

// NewConnection wraps an upgraded socket for an already-verified identity.
func NewConnection(conn *websocket.Conn, id string, identity types.Identity, bufferSize int) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:     conn,
		writeCh:  make(chan []byte, bufferSize),
		id:       id,
		identity: identity,
		ctx:      ctx,
		cancel:   cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop owns the socket's write side. On any write failure it cancels
// the connection context so queued and future WriteJSON calls fail with
// ErrConnectionClosed instead of piling onto a dead socket. The channel is
// never closed; once nothing references the connection it is collected.
func (c *Connection) writeLoop() {
	defer c.cancel()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues a JSON message for the writer goroutine. Safe for
// concurrent callers.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(5 * time.Second):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close tears the socket down once; subsequent calls are no-ops.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func (c *Connection) ConnectionID() string { return c.id }
func (c *Connection) UserID() string       { return c.identity.UserID }
func (c *Connection) DisplayName() string  { return c.identity.DisplayName }
func (c *Connection) Role() string         { return c.identity.Role }

func (c *Connection) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Connection) SetRoomID(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}
