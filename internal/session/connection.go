package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
)

// Connection adapts a github.com/coder/websocket connection to the
// Provider Registry's WriteHandle interface. Writes are serialized
// through mu because the websocket protocol does not support concurrent
// writers on one connection.
type Connection struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewConnection wraps an already-accepted websocket connection.
func NewConnection(conn *websocket.Conn) *Connection {
	return &Connection{conn: conn}
}

// Send marshals msg as JSON and writes it as one text frame.
func (c *Connection) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("session: marshal message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("session: connection closed")
	}
	if err := c.conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	return nil
}

// Close closes the underlying connection. It is safe to call more than
// once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close(websocket.StatusNormalClosure, "closing")
}

// Read blocks for the next inbound frame and returns its raw bytes.
func (c *Connection) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: read: %w", err)
	}
	return data, nil
}
