package service

import "sync"

// keyedMutex provides a mutex per file name so operations on different
// files never block each other. Entries are reference-counted and removed
// when the last holder releases, keeping the map bounded by in-flight work.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	refs int
	mu   sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*lockEntry)}
}

// lock acquires the mutex for key and returns its release function.
func (km *keyedMutex) lock(key string) (unlock func()) {
	km.mu.Lock()
	entry, ok := km.entries[key]
	if !ok {
		entry = &lockEntry{}
		km.entries[key] = entry
	}
	entry.refs++
	km.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		km.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(km.entries, key)
		}
		km.mu.Unlock()
	}
}
