// Package keylock serializes work per key while letting different keys proceed in parallel.
//
// Each key owns a one-slot channel used as a mutex, so waiting honours context
// cancellation. Entries are reference counted and dropped once nobody holds or
// waits for them, keeping the table proportional to in-flight keys.
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	sem  chan struct{}
	refs int
}

// Table is a set of mutexes addressed by key. The zero value is not usable; use New.
type Table[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

// New creates an empty lock table.
func New[K comparable]() *Table[K] {
	return &Table[K]{entries: make(map[K]*entry)}
}

// Lock blocks until the lock for key is held or ctx is done. The returned
// function releases the lock and must be called exactly once.
func (t *Table[K]) Lock(ctx context.Context, key K) (func(), error) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		t.entries[key] = e
	}
	e.refs++
	t.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		t.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			t.release(key, e)
		})
	}, nil
}

// Len reports how many keys are currently held or awaited.
func (t *Table[K]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Table[K]) release(key K, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
}
