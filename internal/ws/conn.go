package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one outbound message channel to a viewer. The manager only needs
// to address, write to and close it; tests substitute in-memory conns.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

const writeWait = 10 * time.Second

// socketConn adapts a gorilla websocket connection. Gorilla allows at most
// one concurrent writer, so writes serialize on the mutex.
type socketConn struct {
	id string

	mu sync.Mutex
	ws *websocket.Conn
}

// NewConn wraps a websocket connection under the given id.
func NewConn(id string, ws *websocket.Conn) Conn {
	return &socketConn{id: id, ws: ws}
}

func (c *socketConn) ID() string { return c.id }

func (c *socketConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *socketConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return c.ws.Close()
}
