// Package wsconn defines the message-level connection used by relay
// sessions and adapts gorilla/websocket connections to it.
package wsconn

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Message types, identical to the gorilla/websocket constants.
const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
)

// closeWriteTimeout bounds the close frame write on Close.
const closeWriteTimeout = time.Second

// Conn is a bidirectional message channel. *websocket.Conn satisfies the
// read/write half; Adapter adds idempotent Close and Closed.
type Conn interface {
	// ReadMessage blocks until a complete message arrives.
	ReadMessage() (messageType int, data []byte, err error)

	// WriteMessage sends a single message.
	WriteMessage(messageType int, data []byte) error

	// Close releases the connection. Calling it more than once is safe.
	Close() error
}

// ClosedReporter is implemented by connections that know whether they
// have already been closed.
type ClosedReporter interface {
	Closed() bool
}

// IsClosed reports whether c is known to be closed. Connections that
// cannot tell are assumed open.
func IsClosed(c Conn) bool {
	if r, ok := c.(ClosedReporter); ok {
		return r.Closed()
	}
	return false
}

// Adapter wraps a *websocket.Conn.
type Adapter struct {
	conn      *websocket.Conn
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	writeMu   sync.Mutex
}

// NewAdapter wraps conn.
func NewAdapter(conn *websocket.Conn) *Adapter {
	return &Adapter{conn: conn}
}

// ReadMessage implements Conn. A close frame from the peer marks the
// adapter closed.
func (a *Adapter) ReadMessage() (int, []byte, error) {
	mt, data, err := a.conn.ReadMessage()
	if err != nil && IsCleanClose(err) {
		a.closed.Store(true)
	}
	return mt, data, err
}

// WriteMessage implements Conn.
func (a *Adapter) WriteMessage(messageType int, data []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteMessage(messageType, data)
}

// Close sends a normal-closure frame (best effort) and closes the
// underlying network connection exactly once.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		_ = a.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout),
		)
		a.closeErr = a.conn.Close()
	})
	return a.closeErr
}

// Closed implements ClosedReporter.
func (a *Adapter) Closed() bool {
	return a.closed.Load()
}

// RemoteAddr returns the peer address.
func (a *Adapter) RemoteAddr() net.Addr {
	return a.conn.RemoteAddr()
}

// IsCleanClose reports whether err signals an orderly shutdown by the
// peer rather than a transport failure.
func IsCleanClose(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return true
	}
	return errors.Is(err, io.EOF)
}
