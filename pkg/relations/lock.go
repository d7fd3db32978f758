package relations

import "sync"

type entityKey struct {
	project int
	id      int
}

// keyedMutex hands out one mutex per entity, dropping it once unused
type keyedMutex struct {
	mu    sync.Mutex
	locks map[entityKey]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[entityKey]*refMutex)}
}

// Lock blocks until the entity is free and returns its unlock func
func (k *keyedMutex) Lock(key entityKey) func() {
	k.mu.Lock()
	lock, exists := k.locks[key]
	if !exists {
		lock = &refMutex{}
		k.locks[key] = lock
	}
	lock.refs++
	k.mu.Unlock()

	lock.Lock()

	return func() {
		lock.Unlock()

		k.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
