// Package lock provides per-key mutual exclusion for serializing mutating
// operations on a single invoice or batch.
package lock

import "sync"

// KeyLocker hands out one mutex per key. Locks are never evicted; the key
// space (invoice and batch ids) is bounded by retained records.
type KeyLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyLocker() *KeyLocker {
	return &KeyLocker{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use, and returns the
// unlock function.
func (l *KeyLocker) Lock(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
