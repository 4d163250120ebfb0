// Package syncutil provides per-key locking for work that must not
// interleave for the same wallet.
package syncutil

import (
	"context"
	"sync"
)

// KeyedMutex hands out one lock per key. Entries for keys nobody holds or
// waits on are dropped, so memory tracks active keys only.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	token chan struct{}
	refs  int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done. On success the returned
// unlock function must be called exactly once; extra calls are ignored.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{token: make(chan struct{}, 1)}
		l.token <- struct{}{}
		m.locks[key] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case <-l.token:
		var once sync.Once
		return func() {
			once.Do(func() { m.release(key, l, true) })
		}, nil
	case <-ctx.Done():
		m.release(key, l, false)
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) release(key string, l *keyLock, held bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if held {
		l.token <- struct{}{}
	}
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
