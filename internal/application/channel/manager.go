package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/dago-studio/internal/domain"
	"github.com/aescanero/dago-studio/internal/ports"
	"github.com/aescanero/dago-studio/internal/protocol"
	"github.com/aescanero/dago-studio/internal/pubsub"
)

// Config holds the channel policy
type Config struct {
	ClientType   string
	ClientID     string
	Capabilities []string

	MaxReconnectAttempts int
	BaseReconnectDelay   time.Duration
	MaxReconnectDelay    time.Duration
	DialTimeout          time.Duration

	PingInterval   time.Duration
	PingTimeout    time.Duration
	PongSlack      time.Duration
	MaxMissedPongs int
}

// DefaultConfig returns the policy used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ClientType:           "studio",
		Capabilities:         []string{"execute", "debug", "step", "breakpoints", "variables"},
		MaxReconnectAttempts: 10,
		BaseReconnectDelay:   time.Second,
		MaxReconnectDelay:    30 * time.Second,
		DialTimeout:          10 * time.Second,
		PingInterval:         30 * time.Second,
		PingTimeout:          10 * time.Second,
		PongSlack:            5 * time.Second,
		MaxMissedPongs:       3,
	}
}

// Manager owns one logical duplex connection and recovers it automatically
type Manager struct {
	dialer  Dialer
	config  Config
	backoff Backoff
	metrics ports.MetricsCollector
	logger  *zap.Logger
	now     func() time.Time

	mu             sync.Mutex
	record         domain.ConnectionRecord
	conn           Conn
	generation     uint64
	connecting     bool
	manual         bool
	reconnectTimer *time.Timer
	timerSeq       uint64
	heartbeat      *heartbeat
	lastPingSent   time.Time

	writeMu sync.Mutex

	statusListeners  pubsub.Listeners[domain.ConnectionRecord]
	messageListeners pubsub.Listeners[any]
}

// NewManager creates a disconnected channel manager
func NewManager(dialer Dialer, config Config, metrics ports.MetricsCollector, logger *zap.Logger) *Manager {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxMissedPongs <= 0 {
		config.MaxMissedPongs = 3
	}
	return &Manager{
		dialer:  dialer,
		config:  config,
		backoff: Backoff{Base: config.BaseReconnectDelay, Max: config.MaxReconnectDelay},
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		record:  domain.ConnectionRecord{Status: domain.ConnectionStatusDisconnected},
	}
}

// OnStatusChange registers fn for connection record changes.
func (m *Manager) OnStatusChange(fn func(domain.ConnectionRecord)) func() {
	return m.statusListeners.Add(fn)
}

// OnMessage registers fn for decoded inbound messages. Pongs are consumed by
// the heartbeat and not forwarded.
func (m *Manager) OnMessage(fn func(msg any)) func() {
	return m.messageListeners.Add(fn)
}

// Status returns a copy of the connection record.
func (m *Manager) Status() domain.ConnectionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record
}

// Connect opens the connection. It returns immediately when a connection is
// open or an attempt is already in flight. A failed attempt schedules a
// reconnect and returns the dial error.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.manual = false
	m.mu.Unlock()

	return m.dial(ctx)
}

// Disconnect closes the connection and suppresses automatic reconnection.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	m.stopReconnectTimerLocked()
	conn := m.detachLocked()
	m.record.Status = domain.ConnectionStatusDisconnected
	m.record.NextRetryDelay = 0
	rec := m.record
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Debug("error closing connection", zap.Error(err))
		}
	}
	m.logger.Info("channel disconnected")
	m.notifyStatus(rec)
}

// Reconnect resets the attempt counter and connects again, replacing any
// open connection. It is the way out of the error state.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	m.manual = false
	m.stopReconnectTimerLocked()
	m.record.ReconnectAttempt = 0
	m.record.NextRetryDelay = 0
	conn := m.detachLocked()
	if !m.connecting {
		m.record.Status = domain.ConnectionStatusDisconnected
	}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.logger.Info("manual reconnect requested")
	return m.dial(ctx)
}

// Close is Disconnect.
func (m *Manager) Close() error {
	m.Disconnect()
	return nil
}

// Send writes msg if the channel is connected. It never blocks on a
// reconnect and reports whether the message was written.
func (m *Manager) Send(msg any) bool {
	m.mu.Lock()
	conn := m.conn
	connected := m.record.Status == domain.ConnectionStatusConnected && conn != nil
	m.mu.Unlock()

	if !connected {
		m.logger.Warn("cannot send message",
			zap.String("type", string(protocol.TypeOf(msg))),
			zap.Error(ErrNotConnected))
		return false
	}

	if err := m.write(conn, msg); err != nil {
		m.logger.Warn("failed to send message",
			zap.String("type", string(protocol.TypeOf(msg))),
			zap.Error(err))
		return false
	}
	return true
}

func (m *Manager) dial(ctx context.Context) error {
	m.mu.Lock()
	if m.manual || m.connecting || m.record.Status == domain.ConnectionStatusConnected {
		m.mu.Unlock()
		return nil
	}
	m.connecting = true
	m.stopReconnectTimerLocked()
	m.record.Status = domain.ConnectionStatusConnecting
	m.record.NextRetryDelay = 0
	attempt := m.record.ReconnectAttempt
	rec := m.record
	m.mu.Unlock()

	m.notifyStatus(rec)
	m.logger.Info("connecting to execution backend", zap.Int("attempt", attempt))

	dialCtx := ctx
	if m.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.config.DialTimeout)
		defer cancel()
	}
	conn, err := m.dialer.Dial(dialCtx)

	m.mu.Lock()
	m.connecting = false

	if err != nil {
		m.record.LastError = err.Error()
		m.logger.Warn("failed to connect to execution backend", zap.Error(err))
		if m.manual {
			m.record.Status = domain.ConnectionStatusDisconnected
		} else {
			m.scheduleReconnectLocked()
		}
		rec = m.record
		m.mu.Unlock()
		m.notifyStatus(rec)
		return fmt.Errorf("failed to connect: %w", err)
	}

	if m.manual {
		m.mu.Unlock()
		_ = conn.Close()
		return nil
	}

	now := m.now()
	m.generation++
	gen := m.generation
	m.conn = conn
	m.lastPingSent = time.Time{}
	m.record = domain.ConnectionRecord{
		Status:       domain.ConnectionStatusConnected,
		LastPongTime: now,
		ConnectedAt:  now,
	}
	m.startHeartbeatLocked(gen)
	rec = m.record

	// the handshake goes out before any other writer sees the connection
	m.writeMu.Lock()
	m.mu.Unlock()
	handshake := protocol.NewHandshake(m.config.ClientType, m.config.ClientID, m.config.Capabilities)
	if err := m.writeLocked(conn, handshake); err != nil {
		m.logger.Warn("failed to send handshake", zap.Error(err))
	}
	m.writeMu.Unlock()

	go m.readLoop(conn, gen)

	m.logger.Info("connected to execution backend", zap.String("client_id", m.config.ClientID))
	m.notifyStatus(rec)
	return nil
}

// readLoop decodes inbound messages and dispatches them in arrival order
// until the connection fails.
func (m *Manager) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			m.logger.Warn("dropping undecodable message", zap.Error(err))
			continue
		}
		m.metrics.RecordMessageReceived(string(protocol.TypeOf(msg)))

		if pong, ok := msg.(*protocol.Pong); ok {
			m.handlePong(gen, pong)
			continue
		}
		m.messageListeners.Notify(msg)
	}
}

// handleClose reacts to the loss of connection gen. Closes of connections
// that were already replaced or torn down are ignored.
func (m *Manager) handleClose(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.generation || m.conn == nil {
		m.mu.Unlock()
		return
	}
	m.detachLocked()

	if m.manual {
		m.record.Status = domain.ConnectionStatusDisconnected
		rec := m.record
		m.mu.Unlock()
		m.notifyStatus(rec)
		return
	}

	m.record.LastError = cause.Error()
	m.logger.Warn("connection to execution backend lost", zap.Error(cause))
	m.scheduleReconnectLocked()
	rec := m.record
	m.mu.Unlock()

	m.notifyStatus(rec)
}

// scheduleReconnectLocked arms the single reconnect timer, or gives up once
// the attempt budget is spent.
func (m *Manager) scheduleReconnectLocked() {
	if m.record.ReconnectAttempt >= m.config.MaxReconnectAttempts {
		m.record.Status = domain.ConnectionStatusError
		m.record.NextRetryDelay = 0
		m.logger.Error("giving up on execution backend",
			zap.Int("attempts", m.record.ReconnectAttempt),
			zap.String("last_error", m.record.LastError))
		return
	}

	delay := m.backoff.Delay(m.record.ReconnectAttempt)
	m.record.ReconnectAttempt++
	m.record.Status = domain.ConnectionStatusReconnecting
	m.record.NextRetryDelay = delay
	m.metrics.RecordReconnectAttempt()

	m.stopReconnectTimerLocked()
	m.timerSeq++
	seq := m.timerSeq
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if seq != m.timerSeq || m.manual {
			m.mu.Unlock()
			return
		}
		m.reconnectTimer = nil
		m.mu.Unlock()

		_ = m.dial(context.Background())
	})

	m.logger.Info("reconnect scheduled",
		zap.Int("attempt", m.record.ReconnectAttempt),
		zap.Duration("delay", delay))
}

func (m *Manager) stopReconnectTimerLocked() {
	m.timerSeq++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) startHeartbeatLocked(gen uint64) {
	m.stopHeartbeatLocked()
	if m.config.PingInterval <= 0 {
		return
	}
	m.heartbeat = newHeartbeat(m.config.PingInterval, func() { m.heartbeatTick(gen) })
	m.heartbeat.Start()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}
}

// detachLocked forgets the current connection and invalidates its reader
// and heartbeat. The caller closes the returned connection.
func (m *Manager) detachLocked() Conn {
	conn := m.conn
	m.conn = nil
	m.generation++
	m.stopHeartbeatLocked()
	m.record.MissedPongs = 0
	return conn
}

// heartbeatTick counts a miss when the last ping is unanswered for longer
// than PingTimeout+PongSlack, force-closes after MaxMissedPongs consecutive
// misses and otherwise sends the next ping.
func (m *Manager) heartbeatTick(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.conn == nil {
		m.mu.Unlock()
		return
	}

	now := m.now()
	conn := m.conn
	outstanding := !m.lastPingSent.IsZero() && m.record.LastPongTime.Before(m.lastPingSent)
	changed := false
	if outstanding && now.Sub(m.record.LastPongTime) > m.config.PingTimeout+m.config.PongSlack {
		m.record.MissedPongs++
		changed = true
		m.logger.Warn("pong overdue",
			zap.Int("missed", m.record.MissedPongs),
			zap.Duration("since_last_pong", now.Sub(m.record.LastPongTime)))

		if m.record.MissedPongs >= m.config.MaxMissedPongs {
			m.mu.Unlock()
			m.metrics.RecordHeartbeatTimeout()
			m.logger.Warn("heartbeat timeout, closing connection")
			m.handleClose(gen, ErrHeartbeatTimeout)
			_ = conn.Close()
			return
		}
	}
	m.lastPingSent = now
	rec := m.record
	m.mu.Unlock()

	if changed {
		m.notifyStatus(rec)
	}
	if err := m.write(conn, protocol.NewPing(now)); err != nil {
		m.logger.Debug("failed to send ping", zap.Error(err))
	}
}

func (m *Manager) handlePong(gen uint64, pong *protocol.Pong) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	recovered := m.record.MissedPongs > 0
	m.record.LastPongTime = m.now()
	m.record.MissedPongs = 0
	rec := m.record
	m.mu.Unlock()

	if pong.Timestamp > 0 {
		rtt := m.now().Sub(time.UnixMilli(pong.Timestamp))
		m.logger.Debug("pong received", zap.Duration("rtt", rtt))
	}
	if recovered {
		m.notifyStatus(rec)
	}
}

func (m *Manager) write(conn Conn, msg any) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.writeLocked(conn, msg)
}

func (m *Manager) writeLocked(conn Conn, msg any) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

func (m *Manager) notifyStatus(rec domain.ConnectionRecord) {
	m.metrics.SetConnectionStatus(string(rec.Status))
	m.statusListeners.Notify(rec)
}
