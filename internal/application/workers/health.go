package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthStatus is a point-in-time view of the pool
type HealthStatus struct {
	TotalWorkers   int       `json:"totalWorkers"`
	IdleWorkers    int       `json:"idleWorkers"`
	BusyWorkers    int       `json:"busyWorkers"`
	StoppedWorkers int       `json:"stoppedWorkers"`
	QueueDepth     int       `json:"queueDepth"`
	QueueCapacity  int       `json:"queueCapacity"`
	Dropped        int64     `json:"dropped"`
	Failures       int64     `json:"failures"`
	Healthy        bool      `json:"healthy"`
	Timestamp      time.Time `json:"timestamp"`
}

// HealthMonitor periodically logs pool health and reports on demand
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	// last counters seen by the periodic check
	lastDropped  int64
	lastFailures int64
}

// NewHealthMonitor creates a monitor checking pool every interval
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
	}
}

// Start begins periodic checks. It is a no-op while already running or
// when the interval is not positive.
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil || h.interval <= 0 {
		return
	}
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	go h.loop(h.stop, h.done)
}

// Stop ends periodic checks and waits for the loop to exit.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	stop, done := h.stop, h.done
	h.stop, h.done = nil, nil
	h.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (h *HealthMonitor) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.check()
		}
	}
}

// check logs the status and warns about events lost since the previous
// check.
func (h *HealthMonitor) check() {
	status := h.GetStatus()

	h.logger.Info("worker pool health check",
		zap.Int("idle", status.IdleWorkers),
		zap.Int("busy", status.BusyWorkers),
		zap.Int("stopped", status.StoppedWorkers),
		zap.Int("queue_depth", status.QueueDepth),
		zap.Bool("healthy", status.Healthy))

	dropped := status.Dropped - h.lastDropped
	failures := status.Failures - h.lastFailures
	h.lastDropped, h.lastFailures = status.Dropped, status.Failures

	if dropped > 0 || failures > 0 {
		h.logger.Warn("events lost since last health check",
			zap.Int64("dropped", dropped),
			zap.Int64("publish_failures", failures))
	}
	if !status.Healthy {
		h.logger.Warn("worker pool is unhealthy",
			zap.Int("stopped", status.StoppedWorkers),
			zap.Int("queue_depth", status.QueueDepth),
			zap.Int("queue_capacity", status.QueueCapacity))
	}
}

// GetStatus returns the current health status. The pool is unhealthy when a
// worker has stopped or the event queue is more than three quarters full.
func (h *HealthMonitor) GetStatus() *HealthStatus {
	status := &HealthStatus{
		QueueDepth:    h.pool.QueueDepth(),
		QueueCapacity: cap(h.pool.queue),
		Dropped:       h.pool.dropped.Load(),
		Failures:      h.pool.failures.Load(),
		Timestamp:     time.Now(),
	}

	for _, ws := range h.pool.GetStatus() {
		status.TotalWorkers++
		switch ws {
		case WorkerStatusIdle:
			status.IdleWorkers++
		case WorkerStatusBusy:
			status.BusyWorkers++
		case WorkerStatusStopped:
			status.StoppedWorkers++
		}
	}

	status.Healthy = status.StoppedWorkers == 0 && status.QueueDepth*4 <= status.QueueCapacity*3
	return status
}

// IsHealthy reports whether the pool is healthy
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
