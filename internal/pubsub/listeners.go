// Package pubsub provides the callback registry behind every OnChange-style
// subscription in the studio.
package pubsub

import "sync"

type entry[T any] struct {
	id uint64
	fn func(T)
}

// Listeners is a set of callbacks notified in registration order.
// The zero value is ready to use.
type Listeners[T any] struct {
	mu      sync.RWMutex
	seq     uint64
	entries []entry[T]
}

// Add registers fn and returns a function that removes it again.
func (l *Listeners[T]) Add(fn func(T)) func() {
	l.mu.Lock()
	l.seq++
	id := l.seq
	l.entries = append(l.entries, entry[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

// Notify calls every registered callback with v. Callbacks run on the
// caller's goroutine and may add or remove listeners.
func (l *Listeners[T]) Notify(v T) {
	l.mu.RLock()
	fns := make([]func(T), len(l.entries))
	for i, e := range l.entries {
		fns[i] = e.fn
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of registered callbacks.
func (l *Listeners[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Listeners[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}
