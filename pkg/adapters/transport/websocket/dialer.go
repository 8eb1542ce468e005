// Package websocket connects the channel manager to the execution backend
// over gorilla/websocket.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aescanero/dago-studio/internal/application/channel"
)

// Dialer opens websocket connections to a fixed backend URL
type Dialer struct {
	url          string
	header       http.Header
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	readLimit    int64
}

// Option configures a Dialer
type Option func(*Dialer)

// WithHeader adds headers to the opening handshake.
func WithHeader(h http.Header) Option {
	return func(d *Dialer) { d.header = h.Clone() }
}

// WithWriteTimeout bounds every write. Zero disables the deadline.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(d *Dialer) { d.writeTimeout = timeout }
}

// WithReadLimit caps the size of inbound messages.
func WithReadLimit(limit int64) Option {
	return func(d *Dialer) { d.readLimit = limit }
}

// NewDialer creates a dialer for url (ws:// or wss://)
func NewDialer(url string, opts ...Option) *Dialer {
	d := &Dialer{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		writeTimeout: 10 * time.Second,
		readLimit:    4 << 20,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial implements channel.Dialer
func (d *Dialer) Dial(ctx context.Context) (channel.Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, d.url, d.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}
	if d.readLimit > 0 {
		ws.SetReadLimit(d.readLimit)
	}
	return &Conn{ws: ws, writeTimeout: d.writeTimeout}, nil
}

// Conn adapts a gorilla connection to channel.Conn. Messages travel as text
// frames.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

// ReadMessage returns the payload of the next data frame.
func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// WriteMessage sends data as one text frame.
func (c *Conn) WriteMessage(data []byte) error {
	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the underlying connection.
func (c *Conn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

var _ channel.Dialer = (*Dialer)(nil)
