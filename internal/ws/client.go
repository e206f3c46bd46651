package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type clientConn struct {
	rawConn *websocket.Conn
	mu      sync.Mutex
}

// WriteText satisfies registry.Conn. The per-connection mutex serializes
// writers (broadcast fan-out and the reader's ack path share the socket).
func (c *clientConn) WriteText(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.rawConn.SetWriteDeadline(deadline)
	return c.rawConn.WriteMessage(websocket.TextMessage, data)
}

func (c *clientConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteJSON(v)
}

func (c *clientConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rawConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}
