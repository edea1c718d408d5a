// Package syncx provides extended synchronization primitives
package syncx

import "sync"

// Latest holds the most recently published value and wakes watchers when it
// changes. Watchers see coalesced signals: several publishes between two
// reads produce one wakeup, and Load then returns the newest value.
type Latest[T any] struct {
	mu       sync.RWMutex
	value    T
	version  uint64
	watchers map[uint64]chan struct{}
	nextID   uint64
}

// NewLatest creates a holder publishing initial at version 0.
func NewLatest[T any](initial T) *Latest[T] {
	return &Latest[T]{value: initial, watchers: make(map[uint64]chan struct{})}
}

// Load returns the current value and its version.
func (l *Latest[T]) Load() (T, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.version
}

// Get returns the current value (T should be value type or immutable).
func (l *Latest[T]) Get() T {
	v, _ := l.Load()
	return v
}

// Publish replaces the value and signals every watcher without blocking.
func (l *Latest[T]) Publish(v T) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value = v
	l.version++
	for _, ch := range l.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return l.version
}

// Watch registers a watcher. The returned func unregisters it and closes
// the channel; it is safe to call more than once.
func (l *Latest[T]) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.watchers[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.watchers, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}

// Watchers returns the number of registered watchers.
func (l *Latest[T]) Watchers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.watchers)
}
