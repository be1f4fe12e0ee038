package gameserver

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOutboxFull is returned by Send when the connection is not draining fast enough.
var ErrOutboxFull = errors.New("outbox full")

// ErrOutboxClosed is returned by Send after Close.
var ErrOutboxClosed = errors.New("outbox closed")

// Conn is the session's view of one client transport.
type Conn interface {
	// ID identifies the underlying transport connection.
	ID() string
	// Send queues a frame without blocking.
	Send(frame []byte) error
	// Close releases the connection. It must be idempotent.
	Close()
}

// Outbox is a Conn backed by a bounded frame buffer that a writer goroutine
// drains onto the real transport.
type Outbox struct {
	id     string
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox for the transport connection id.
//
// Precondition: id must be non-empty.
// Postcondition: Returns an open Outbox; size <= 0 falls back to 64.
func NewOutbox(id string, size int) *Outbox {
	if size <= 0 {
		size = 64
	}
	return &Outbox{
		id:     id,
		frames: make(chan []byte, size),
	}
}

// ID returns the transport connection id.
func (o *Outbox) ID() string {
	return o.id
}

// Send enqueues a frame.
//
// Postcondition: The frame is queued, or ErrOutboxClosed / ErrOutboxFull is returned.
func (o *Outbox) Send(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("conn %s: %w", o.id, ErrOutboxClosed)
	}
	select {
	case o.frames <- frame:
		return nil
	default:
		return fmt.Errorf("conn %s: %w", o.id, ErrOutboxFull)
	}
}

// Frames returns the channel the writer drains. It is closed by Close.
func (o *Outbox) Frames() <-chan []byte {
	return o.frames
}

// Close closes the frame channel. Safe to call multiple times.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.frames)
	}
}

// Closed reports whether Close has been called.
func (o *Outbox) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
