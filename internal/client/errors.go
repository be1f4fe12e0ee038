package client

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by senders while no transport is live.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected is returned by Connect while connecting or connected.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrCancelled is returned by Connect when Disconnect interrupts it.
	ErrCancelled = errors.New("connect cancelled")
)

// ConnectionError reports a failed handshake or a dropped transport.
type ConnectionError struct {
	URL     string
	Attempt int
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed (attempt %d): %v", e.URL, e.Attempt, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ServerError is an error message pushed by the session.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}
