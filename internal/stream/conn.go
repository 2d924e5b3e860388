// Package stream provides the server-side half of a long-lived one-way
// connection: a bounded outbox the registry writes into, and pumps that drain
// it onto an SSE response or a WebSocket.
package stream

import (
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by writes to, and repeated closes of, a closed Conn.
	ErrClosed = errors.New("stream closed")
	// ErrSlowConsumer is returned when the outbox is full. The Conn is closed.
	ErrSlowConsumer = errors.New("stream outbox full")
)

// DefaultBufferSize is the outbox capacity used when none is configured.
const DefaultBufferSize = 64

// Conn is a bounded, non-blocking outbox for one subscriber.
type Conn struct {
	mu     sync.Mutex
	out    chan []byte
	done   chan struct{}
	closed bool
}

// NewConn creates a Conn whose outbox holds up to size frames.
func NewConn(size int) *Conn {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Conn{
		out:  make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// Write enqueues p without blocking. A full outbox closes the Conn.
func (c *Conn) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.out <- p:
		return nil
	default:
		c.closeLocked()
		return ErrSlowConsumer
	}
}

// Close terminates the Conn. Frames still queued are discarded by the pump.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.closeLocked()
	return nil
}

func (c *Conn) closeLocked() {
	c.closed = true
	close(c.done)
}

// Done is closed when the Conn is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Outbox exposes queued frames to a pump.
func (c *Conn) Outbox() <-chan []byte {
	return c.out
}
