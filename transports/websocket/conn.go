package websocket

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned when writing to a closed connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// Conn is one accepted plugin connection. It implements bridge.Peer.
type Conn struct {
	ws           *websocket.Conn
	id           string
	writeTimeout time.Duration

	writeMu   sync.Mutex
	open      atomic.Bool
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, id string, writeTimeout time.Duration) *Conn {
	c := &Conn{ws: ws, id: id, writeTimeout: writeTimeout}
	c.open.Store(true)
	return c
}

// ID returns the connection id used in logs
func (c *Conn) ID() string {
	return c.id
}

// Send writes data as one text message. Concurrent calls are serialized.
func (c *Conn) Send(data []byte) error {
	if !c.open.Load() {
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	return nil
}

// IsOpen reports whether the connection can still carry frames
func (c *Conn) IsOpen() bool {
	return c.open.Load()
}

// Close sends a close frame and closes the connection. Calling Close again is a no-op.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.markClosed()

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

func (c *Conn) markClosed() {
	c.open.Store(false)
}
