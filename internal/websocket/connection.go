package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// defaultWriteBuffer is the per-connection outbound queue depth used when
// no size is configured. Sized for classroom fan-out bursts.
const defaultWriteBuffer = 100

// Connection wraps one participant's WebSocket. All writes are serialized
// through a single writer goroutine so concurrent fan-outs never race on
// the underlying socket, and a slow client only fills its own queue.
type Connection struct {
	conn          *websocket.Conn
	writeCh       chan []byte
	userID        string // set after role assignment
	role          string // set after role assignment
	sessionID     string // set after role assignment
	authenticated bool
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	mu            sync.RWMutex // protects credential fields
}

// NewConnection creates a connection wrapper and starts its writer
// goroutine. bufferSize <= 0 selects the default queue depth.
func NewConnection(conn *websocket.Conn, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = defaultWriteBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, bufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop is the single writer for the underlying socket. Any exit,
// including a write error on a dead client, cancels the connection context
// so pending and future WriteJSON calls fail with ErrConnectionClosed. The
// channel itself is never closed; a concurrent enqueue must not be able to
// hit a closed channel after the writer is gone.
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

// WriteJSON queues a JSON message for delivery. Safe for concurrent
// callers. Fan-out enqueues are non-blocking up to the timeout, so a dead
// client cannot stall a session's broadcast path.
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

// Close shuts down the writer goroutine and the socket. Idempotent.
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

// Done exposes the connection's lifetime for goroutines tied to it.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// SetCredentials binds the connection to its user, role, and session after
// the room has assigned the role.
func (c *Connection) SetCredentials(userID, role, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = userID
	c.role = role
	c.sessionID = sessionID
	c.authenticated = true

	return nil
}

// IsAuthenticated reports whether credentials have been set.
func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// GetUserID returns the connected user's id.
func (c *Connection) GetUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// GetRole returns "teacher" or "student".
func (c *Connection) GetRole() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// GetSessionID returns the session this connection is scoped to.
func (c *Connection) GetSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}
