package channel

import (
	"sync"
	"time"
)

// heartbeat calls tick on a fixed interval until stopped
type heartbeat struct {
	interval time.Duration
	tick     func()

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

func newHeartbeat(interval time.Duration, tick func()) *heartbeat {
	return &heartbeat{
		interval: interval,
		tick:     tick,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the ticker loop. Calling Start twice is a no-op.
func (h *heartbeat) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop ends the loop. It does not wait for a tick in progress.
func (h *heartbeat) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.stopCh)
}

func (h *heartbeat) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.tick()
		}
	}
}
