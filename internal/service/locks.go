package service

import "sync"

// keyedMutex serializes work per settlement cycle. Confirmations for
// different cycles proceed in parallel; confirmations for the same
// cycle queue behind each other so quorum evaluation and closure see a
// consistent ledger.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*cycleLock
}

type cycleLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*cycleLock)}
}

// lock acquires the mutex for key and returns the matching unlock.
// Entries are reference counted so the map does not grow with every
// cycle ever seen.
func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &cycleLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
