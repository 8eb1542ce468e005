package channel

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/aescanero/dago-studio/internal/protocol"
)

// fakeConn is an in-memory Conn. Inbound messages are queued with push;
// drop simulates the backend going away.
type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	// autoPong answers every ping
	autoPong bool

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}

	c.mu.Lock()
	c.writes = append(c.writes, data)
	c.mu.Unlock()

	if c.autoPong {
		if msg, err := protocol.Decode(data); err == nil {
			if ping, ok := msg.(*protocol.Ping); ok {
				pong, _ := protocol.Encode(&protocol.Pong{Type: protocol.TypePong, Timestamp: ping.Timestamp})
				c.push(pong)
			}
		}
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) drop() { _ = c.Close() }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(data []byte) {
	c.inbound <- data
}

func (c *fakeConn) written() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, 0, len(c.writes))
	for _, w := range c.writes {
		msg, err := protocol.Decode(w)
		if err == nil {
			out = append(out, msg)
		}
	}
	return out
}

// fakeDialer hands out connections from a script. A nil error with a nil
// connection creates a fresh fakeConn.
type fakeDialer struct {
	mu      sync.Mutex
	errs    []error
	conns   []*fakeConn
	dials   int
	gate    chan struct{}
	failAll error
	pong    bool
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++

	if d.failAll != nil {
		return nil, d.failAll
	}
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	c := newFakeConn()
	c.autoPong = d.pong
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}
