package deliver

import "sync"

// keyedLocks serializes work per delivery identifier. Two concurrent
// attempts for the same identifier (a log redelivery racing an in-flight
// attempt) must not interleave journal reads and writes.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: map[string]*lockEntry{}}
}

// Acquire blocks until the lock for key is held and returns the release
// func. Entries are dropped once the last holder releases.
func (k *keyedLocks) Acquire(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
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
