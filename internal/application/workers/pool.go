package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/dago-studio/internal/domain"
	"github.com/aescanero/dago-studio/internal/ports"
)

// SnapshotFunc returns the snapshot to persist. ok is false when there is
// nothing to save yet.
type SnapshotFunc func() (snapshot domain.ExecutionSnapshot, ok bool)

// PoolConfig tunes the pool
type PoolConfig struct {
	QueueSize           int
	PublishTimeout      time.Duration
	SaveTimeout         time.Duration
	HealthCheckInterval time.Duration
}

// DefaultPoolConfig returns the settings used by the studio service.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		QueueSize:           1024,
		PublishTimeout:      5 * time.Second,
		SaveTimeout:         5 * time.Second,
		HealthCheckInterval: time.Minute,
	}
}

type publishJob struct {
	topic string
	event domain.Event
}

// Pool manages the background worker goroutines
type Pool struct {
	eventBus   ports.EventBus
	executions ports.ExecutionStore
	snapshot   SnapshotFunc
	config     PoolConfig
	logger     *zap.Logger
	health     *HealthMonitor

	queue  chan publishJob
	saveCh chan struct{}

	dropped  atomic.Int64
	failures atomic.Int64
	started  atomic.Bool

	workers []*worker
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

func (w *worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = s
	if s == WorkerStatusBusy {
		w.lastJob = time.Now()
	}
}

// NewPool creates a new worker pool. eventBus and executions may be nil, in
// which case the matching worker discards its work.
func NewPool(
	eventBus ports.EventBus,
	executions ports.ExecutionStore,
	snapshot SnapshotFunc,
	config PoolConfig,
	logger *zap.Logger,
) *Pool {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultPoolConfig().QueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		eventBus:   eventBus,
		executions: executions,
		snapshot:   snapshot,
		config:     config,
		logger:     logger,
		queue:      make(chan publishJob, config.QueueSize),
		saveCh:     make(chan struct{}, 1),
		workers: []*worker{
			{id: "publisher", status: WorkerStatusStopped},
			{id: "persister", status: WorkerStatusStopped},
		},
		ctx:    ctx,
		cancel: cancel,
	}

	pool.health = NewHealthMonitor(pool, config.HealthCheckInterval, logger)

	return pool
}

// Start starts the worker pool. Calls after the first are no-ops.
func (p *Pool) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		p.logger.Warn("worker pool already started")
		return nil
	}
	p.logger.Info("starting worker pool", zap.Int("queue_size", p.config.QueueSize))

	for _, w := range p.workers {
		w.setStatus(WorkerStatusIdle)
	}

	p.wg.Add(2)
	go p.runPublisher(p.ctx, p.workers[0])
	go p.runPersister(p.ctx, p.workers[1])

	if p.config.HealthCheckInterval > 0 {
		p.health.Start()
	}

	p.logger.Info("worker pool started", zap.Int("workers", len(p.workers)))
	return nil
}

// Shutdown stops the workers after they flush queued events and save a
// final snapshot
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout")
	}
}

// Publish queues an event for the event bus. It never blocks; when the
// queue is full the event is dropped and false is returned.
func (p *Pool) Publish(topic string, event domain.Event) bool {
	select {
	case p.queue <- publishJob{topic: topic, event: event}:
		return true
	default:
		p.dropped.Add(1)
		p.logger.Warn("event queue full, dropping event",
			zap.String("topic", topic),
			zap.String("event_type", string(event.Type)))
		return false
	}
}

// RequestSnapshot asks the persister to save the current snapshot. Requests
// made while a save is pending are merged into it.
func (p *Pool) RequestSnapshot() {
	select {
	case p.saveCh <- struct{}{}:
	default:
	}
}

// GetStatus returns the status of all workers
func (p *Pool) GetStatus() map[string]WorkerStatus {
	status := make(map[string]WorkerStatus)
	for _, w := range p.workers {
		w.mu.RLock()
		status[w.id] = w.status
		w.mu.RUnlock()
	}
	return status
}

// Health returns the pool's health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// QueueDepth returns the number of events waiting to be published
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// runPublisher publishes queued events in order until the pool stops, then
// flushes what is left
func (p *Pool) runPublisher(ctx context.Context, w *worker) {
	defer p.wg.Done()
	defer w.setStatus(WorkerStatusStopped)

	for {
		select {
		case job := <-p.queue:
			p.publish(w, job)
		case <-ctx.Done():
			for {
				select {
				case job := <-p.queue:
					p.publish(w, job)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) publish(w *worker, job publishJob) {
	if p.eventBus == nil {
		return
	}
	w.setStatus(WorkerStatusBusy)
	defer w.setStatus(WorkerStatusIdle)

	ctx, cancel := p.jobContext(p.config.PublishTimeout)
	defer cancel()

	if err := p.eventBus.Publish(ctx, job.topic, job.event); err != nil {
		p.failures.Add(1)
		p.logger.Error("failed to publish event",
			zap.String("worker_id", w.id),
			zap.String("topic", job.topic),
			zap.String("event_type", string(job.event.Type)),
			zap.Error(err))
	}
}

// runPersister saves the latest snapshot whenever one is requested and once
// more on shutdown
func (p *Pool) runPersister(ctx context.Context, w *worker) {
	defer p.wg.Done()
	defer w.setStatus(WorkerStatusStopped)

	for {
		select {
		case <-p.saveCh:
			p.save(w)
		case <-ctx.Done():
			select {
			case <-p.saveCh:
				p.save(w)
			default:
			}
			return
		}
	}
}

func (p *Pool) save(w *worker) {
	if p.executions == nil || p.snapshot == nil {
		return
	}
	snap, ok := p.snapshot()
	if !ok {
		return
	}
	w.setStatus(WorkerStatusBusy)
	defer w.setStatus(WorkerStatusIdle)

	ctx, cancel := p.jobContext(p.config.SaveTimeout)
	defer cancel()

	if err := p.executions.SaveExecution(ctx, &snap); err != nil {
		p.failures.Add(1)
		p.logger.Error("failed to save execution snapshot",
			zap.String("worker_id", w.id),
			zap.String("execution_id", snap.State.ID),
			zap.Error(err))
	}
}

// jobContext is independent of the pool context so that work flushed during
// shutdown still gets its full timeout.
func (p *Pool) jobContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}
