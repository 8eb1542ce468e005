package websocket

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/dago-studio/internal/domain"
	"github.com/aescanero/dago-studio/internal/ports"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientQueueLen = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Topics streamed to clients
var Topics = []string{domain.TopicExecutionEvents, domain.TopicConnectionEvents}

type client struct {
	send        chan []byte
	executionID string
	topics      map[string]bool
}

// wants reports whether the client asked for events of this kind.
// Connection events carry no execution id and pass the execution filter.
func (c *client) wants(topic string, event domain.Event) bool {
	if len(c.topics) > 0 && !c.topics[topic] {
		return false
	}
	if c.executionID != "" && event.ExecutionID != "" && event.ExecutionID != c.executionID {
		return false
	}
	return true
}

// Handler fans events from the bus out to WebSocket clients. It holds one
// bus subscription per topic regardless of the number of clients.
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	cancel  context.CancelFunc
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
		clients:  make(map[*client]struct{}),
	}
}

// Start subscribes to the streamed topics until Stop or ctx ends.
func (h *Handler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	for _, topic := range Topics {
		topic := topic
		handler := func(_ context.Context, event domain.Event) error {
			h.broadcast(topic, event)
			return nil
		}
		if err := h.eventBus.Subscribe(ctx, topic, handler); err != nil {
			cancel()
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
	return nil
}

// Stop ends the subscriptions and disconnects every client.
func (h *Handler) Stop() {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Handler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleEventStream upgrades the request and streams events until the client
// goes away. Query parameters: execution_id restricts execution events to one
// run, topics is a comma separated topic list.
func (h *Handler) HandleEventStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	cl := &client{
		send:        make(chan []byte, clientQueueLen),
		executionID: c.Query("execution_id"),
	}
	if raw := c.Query("topics"); raw != "" {
		cl.topics = make(map[string]bool)
		for _, t := range strings.Split(raw, ",") {
			cl.topics[strings.TrimSpace(t)] = true
		}
	}

	h.register(cl)
	h.logger.Info("WebSocket client connected",
		zap.String("client", c.ClientIP()),
		zap.String("execution_id", cl.executionID))

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, cl, done)

	h.unregister(cl)
	_ = conn.Close()
	h.logger.Info("WebSocket client disconnected", zap.String("client", c.ClientIP()))
}

// readPump discards client input; it exists to process control frames and
// notice when the client disconnects.
func (h *Handler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, cl *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case data, ok := <-cl.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("failed to write message", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) register(cl *client) {
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) unregister(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
	}
	h.mu.Unlock()
}

// broadcast never blocks the bus: a client whose queue is full misses the
// event.
func (h *Handler) broadcast(topic string, event domain.Event) {
	data, err := json.Marshal(streamMessage{Topic: topic, Event: event})
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for cl := range h.clients {
		if !cl.wants(topic, event) {
			continue
		}
		select {
		case cl.send <- data:
		default:
			h.logger.Warn("client queue full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
	}
}

// streamMessage is what clients receive
type streamMessage struct {
	Topic string `json:"topic"`
	domain.Event
}
