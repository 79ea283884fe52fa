// Package session tracks connected observers: their instance, their view,
// the entity they control, and their outbound message queue.
package session

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrOutboxClosed is returned by Push after Close.
	ErrOutboxClosed = errors.New("outbox closed")
	// ErrOutboxFull is returned by Push when the buffer has no room.
	ErrOutboxFull = errors.New("outbox buffer full")
)

// Outbox is a bounded, non-blocking queue of encoded frames for one client.
// The transport writer goroutine drains Frames.
type Outbox struct {
	owner  string
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox holding at most bufferSize frames.
//
// Postcondition: bufferSize <= 0 is replaced by 64.
func NewOutbox(owner string, bufferSize int) *Outbox {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Outbox{
		owner:  owner,
		frames: make(chan []byte, bufferSize),
	}
}

// Push enqueues frame without blocking. Frames are shared between clients and
// must not be modified after Push.
//
// Postcondition: returns nil when enqueued, or an error wrapping
// ErrOutboxClosed or ErrOutboxFull.
func (o *Outbox) Push(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("client %s: %w", o.owner, ErrOutboxClosed)
	}
	select {
	case o.frames <- frame:
		return nil
	default:
		return fmt.Errorf("client %s: %w", o.owner, ErrOutboxFull)
	}
}

// Frames returns the receive side of the queue. It is closed by Close.
func (o *Outbox) Frames() <-chan []byte {
	return o.frames
}

// Len returns the number of queued frames.
func (o *Outbox) Len() int {
	return len(o.frames)
}

// Close closes the queue. Further Push calls fail. Close is idempotent.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.frames)
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
