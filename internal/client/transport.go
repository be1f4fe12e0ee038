package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cory-johannsen/worldsync/internal/config"
)

// Transport is one live, ordered, bidirectional frame stream.
type Transport interface {
	// ReadFrame blocks for the next inbound frame.
	ReadFrame() ([]byte, error)
	// WriteFrame sends one frame. Safe for concurrent use.
	WriteFrame(frame []byte) error
	// Close releases the connection and unblocks ReadFrame. Idempotent.
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WSDialer dials WebSocket transports with gorilla/websocket.
type WSDialer struct {
	// HandshakeTimeout bounds the opening handshake. Zero uses the library default.
	HandshakeTimeout time.Duration
	// WriteTimeout is the per-frame write deadline. Zero disables it.
	WriteTimeout time.Duration
	// ReadTimeout is how long the link may stay silent, pings included, before
	// ReadFrame fails. Zero disables it.
	ReadTimeout time.Duration
}

// NewWSDialer returns a dialer using the link timeouts of cfg. The server pings
// at cfg.PingInterval(), inside ReadTimeout, so a healthy idle link never
// times out.
func NewWSDialer(cfg config.HTTPConfig) WSDialer {
	return WSDialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		ReadTimeout:      cfg.ReadTimeout,
	}
}

// Dial opens a WebSocket connection to url.
//
// Postcondition: Returns an open Transport or the dial error.
func (d WSDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := *websocket.DefaultDialer
	if d.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = d.HandshakeTimeout
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	t := &wsTransport{conn: conn, writeTimeout: d.WriteTimeout, readTimeout: d.ReadTimeout}
	conn.SetPingHandler(func(data string) error {
		t.extendRead()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return t, nil
}

type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (t *wsTransport) extendRead() {
	if t.readTimeout > 0 {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	}
}

// ReadFrame fails once the link has been silent for the read timeout.
func (t *wsTransport) ReadFrame() ([]byte, error) {
	t.extendRead()
	_, frame, err := t.conn.ReadMessage()
	return frame, err
}

// WriteFrame serializes writers; gorilla allows one concurrent writer.
func (t *wsTransport) WriteFrame(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		t.mu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
