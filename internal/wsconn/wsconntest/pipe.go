// Package wsconntest provides an in-memory wsconn.Conn pair for tests.
package wsconntest

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

const bufferSize = 64

type message struct {
	messageType int
	data        []byte
}

// Conn is one end of an in-memory connection created by Pipe.
type Conn struct {
	in   chan message
	done chan struct{}
	peer *Conn

	closeOnce  sync.Once
	closed     atomic.Bool
	closeCalls atomic.Int32
	peerErr    error

	mu       sync.Mutex
	writeErr error
}

// Pipe returns two connected ends. Messages written to one are read from
// the other in order.
func Pipe() (*Conn, *Conn) {
	a := &Conn{in: make(chan message, bufferSize), done: make(chan struct{})}
	b := &Conn{in: make(chan message, bufferSize), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

// ReadMessage implements wsconn.Conn. Messages already delivered are
// returned before a peer close is reported.
func (c *Conn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-c.in:
		return m.messageType, m.data, nil
	default:
	}

	select {
	case m := <-c.in:
		return m.messageType, m.data, nil
	case <-c.done:
		return 0, nil, net.ErrClosed
	case <-c.peer.done:
		select {
		case m := <-c.in:
			return m.messageType, m.data, nil
		default:
		}
		return 0, nil, c.peer.peerErr
	}
}

// WriteMessage implements wsconn.Conn.
func (c *Conn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	writeErr := c.writeErr
	c.mu.Unlock()
	if writeErr != nil {
		return writeErr
	}

	if c.closed.Load() {
		return net.ErrClosed
	}
	if c.peer.closed.Load() {
		return websocket.ErrCloseSent
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case c.peer.in <- message{messageType: messageType, data: buf}:
		return nil
	case <-c.done:
		return net.ErrClosed
	case <-c.peer.done:
		return websocket.ErrCloseSent
	}
}

// Close closes this end. The peer observes a normal closure.
func (c *Conn) Close() error {
	c.closeCalls.Add(1)
	c.shutdown(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	return nil
}

// Abort closes this end and makes the peer's pending and future reads
// fail with err, simulating a transport failure.
func (c *Conn) Abort(err error) {
	c.shutdown(err)
}

func (c *Conn) shutdown(peerErr error) {
	c.closeOnce.Do(func() {
		c.peerErr = peerErr
		c.closed.Store(true)
		close(c.done)
	})
}

// Closed implements wsconn.ClosedReporter.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// CloseCalls returns how many times Close was called.
func (c *Conn) CloseCalls() int {
	return int(c.closeCalls.Load())
}

// Done is closed once this end is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// FailWrites makes every later WriteMessage return err.
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// Send writes a text message, for use by test peers.
func (c *Conn) Send(text string) error {
	return c.WriteMessage(websocket.TextMessage, []byte(text))
}
