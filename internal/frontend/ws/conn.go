package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cory-johannsen/worldsync/internal/protocol"
)

// Conn wraps a WebSocket connection with per-frame deadlines.
// Reads happen on one goroutine; writes are serialized by an internal lock.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewConn wraps an upgraded connection. A pong extends the read deadline.
//
// Precondition: ws must be an open connection; maxMessageBytes > 0.
// Postcondition: Returns a Conn ready for reading and writing.
func NewConn(ws *websocket.Conn, readTimeout, writeTimeout time.Duration, maxMessageBytes int64) *Conn {
	c := &Conn{
		ws:           ws,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
	ws.SetReadLimit(maxMessageBytes)
	ws.SetPongHandler(func(string) error {
		c.extendRead(c.readTimeout)
		return nil
	})
	return c
}

func (c *Conn) extendRead(d time.Duration) {
	if d > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(d))
	}
}

// ReadFrame reads the next data frame, waiting at most the read timeout.
//
// Postcondition: Returns the frame bytes or the transport error.
func (c *Conn) ReadFrame() ([]byte, error) {
	return c.ReadFrameWithin(c.readTimeout)
}

// ReadFrameWithin reads the next data frame, waiting at most d.
func (c *Conn) ReadFrameWithin(d time.Duration) ([]byte, error) {
	c.extendRead(d)
	_, frame, err := c.ws.ReadMessage()
	return frame, err
}

// WriteFrame sends one text frame.
func (c *Conn) WriteFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extendWrite()
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// WriteError sends an error message.
func (c *Conn) WriteError(code int, message string) error {
	frame, err := protocol.Encode(protocol.TypeError, protocol.Error{Code: code, Message: message})
	if err != nil {
		return err
	}
	return c.WriteFrame(frame)
}

// WritePing sends a keepalive ping.
func (c *Conn) WritePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// CloseWith sends a close frame with code and reason, then closes the socket.
func (c *Conn) CloseWith(code int, reason string) {
	c.mu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	c.mu.Unlock()
	_ = c.ws.Close()
}

// Close closes the socket without a close handshake.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *Conn) extendWrite() {
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
}
