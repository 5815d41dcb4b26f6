// Package keylock provides a per-key mutex so concurrently delivered
// webhooks for the same payment or shipment apply their state transitions
// one at a time.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyLock serializes critical sections by string key. Locks for distinct
// keys do not contend; an entry is dropped once its last holder unlocks.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New creates a KeyLock.
func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key and returns the unlock function.
func (k *KeyLock) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
