package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/dago-studio/internal/application/channel"
	"github.com/aescanero/dago-studio/internal/domain"
	"github.com/aescanero/dago-studio/internal/protocol"
)

// backendConn is the server side of one test connection
type backendConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *backendConn) send(t *testing.T, msg any) {
	t.Helper()
	data, err := protocol.Encode(msg)
	require.NoError(t, err)
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NoError(t, c.ws.WriteMessage(websocket.TextMessage, data))
}

// fakeBackend answers pings and records everything else it receives
type fakeBackend struct {
	server *httptest.Server
	conns  chan *backendConn

	mu       sync.Mutex
	received []any
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{conns: make(chan *backendConn, 8)}
	upgrader := websocket.Upgrader{}

	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := &backendConn{ws: ws}
		b.conns <- conn

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.Decode(data)
			if err != nil {
				continue
			}
			if ping, ok := msg.(*protocol.Ping); ok {
				conn.mu.Lock()
				pong, _ := protocol.Encode(&protocol.Pong{Type: protocol.TypePong, Timestamp: ping.Timestamp})
				_ = ws.WriteMessage(websocket.TextMessage, pong)
				conn.mu.Unlock()
				continue
			}
			b.mu.Lock()
			b.received = append(b.received, msg)
			b.mu.Unlock()
		}
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http") + "/ws"
}

func (b *fakeBackend) messages() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]any(nil), b.received...)
}

func (b *fakeBackend) nextConn(t *testing.T) *backendConn {
	t.Helper()
	select {
	case c := <-b.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("backend saw no connection")
		return nil
	}
}

func TestDialer_RoundTrip(t *testing.T) {
	backend := newFakeBackend(t)

	conn, err := NewDialer(backend.url()).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	server := backend.nextConn(t)

	data, err := protocol.Encode(protocol.NewCommand(protocol.TypeStart, "run-1", "req-1"))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(data))

	require.Eventually(t, func() bool { return len(backend.messages()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cmd, ok := backend.messages()[0].(*protocol.Command)
	require.True(t, ok)
	assert.Equal(t, "run-1", cmd.ExecutionID)

	server.send(t, &protocol.Error{Type: protocol.TypeError, Message: "boom"})
	raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "boom", msg.(*protocol.Error).Message)
}

func TestDialer_Unreachable(t *testing.T) {
	backend := newFakeBackend(t)
	url := backend.url()
	backend.server.Close()

	_, err := NewDialer(url).Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial")
}

func TestDialer_CloseUnblocksRead(t *testing.T) {
	backend := newFakeBackend(t)

	conn, err := NewDialer(backend.url()).Dial(context.Background())
	require.NoError(t, err)
	backend.nextConn(t)

	done := make(chan error, 1)
	go func() {
		_, err := conn.ReadMessage()
		done <- err
	}()

	require.NoError(t, conn.Close())
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return after close")
	}
}

func TestDialer_WithManager(t *testing.T) {
	backend := newFakeBackend(t)

	cfg := channel.DefaultConfig()
	cfg.ClientID = "studio-test"
	cfg.BaseReconnectDelay = 10 * time.Millisecond
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PingTimeout = 50 * time.Millisecond

	m := channel.NewManager(NewDialer(backend.url()), cfg, nil, zap.NewNop())
	defer m.Disconnect()

	inbound := make(chan any, 8)
	m.OnMessage(func(msg any) { inbound <- msg })

	require.NoError(t, m.Connect(context.Background()))
	server := backend.nextConn(t)

	require.Eventually(t, func() bool { return len(backend.messages()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	hs, ok := backend.messages()[0].(*protocol.Handshake)
	require.True(t, ok)
	assert.Equal(t, "studio-test", hs.ClientID)

	server.send(t, &protocol.NodeStatus{
		Type:   protocol.TypeNodeStatus,
		NodeID: "n1",
		Result: protocol.NodeResult{Status: "running"},
	})
	select {
	case msg := <-inbound:
		assert.Equal(t, "n1", msg.(*protocol.NodeStatus).NodeID)
	case <-time.After(2 * time.Second):
		t.Fatal("node status not dispatched")
	}

	// pongs from the backend keep the channel healthy
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, domain.ConnectionStatusConnected, m.Status().Status)
	assert.Zero(t, m.Status().MissedPongs)

	// the backend dropping the socket triggers a reconnect and a new handshake
	server.ws.Close()
	backend.nextConn(t)
	require.Eventually(t, func() bool {
		return m.Status().Status == domain.ConnectionStatusConnected && m.Status().ReconnectAttempt == 0
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		handshakes := 0
		for _, msg := range backend.messages() {
			if _, ok := msg.(*protocol.Handshake); ok {
				handshakes++
			}
		}
		return handshakes == 2
	}, 2*time.Second, 5*time.Millisecond)
}
