package utils

import (
	"fmt"
	"sync"
)

// KeyedMutex hands out one mutex per key and forgets it once nobody holds or
// waits on it. At most maxKeys keys can be in use at the same time.
type KeyedMutex[K comparable] struct {
	edit    sync.Mutex
	waiting map[K]int
	mutexes map[K]*sync.Mutex
	maxKeys int
}

func NewKeyedMutex[K comparable](maxKeys int) *KeyedMutex[K] {
	return &KeyedMutex[K]{
		waiting: make(map[K]int),
		mutexes: make(map[K]*sync.Mutex),
		maxKeys: maxKeys,
	}
}

func (m *KeyedMutex[K]) Lock(key K) error {
	m.edit.Lock()

	mu, ok := m.mutexes[key]
	if !ok {
		if len(m.mutexes) >= m.maxKeys {
			m.edit.Unlock()
			return fmt.Errorf("too many keys locked, limit is %d", m.maxKeys)
		}
		mu = &sync.Mutex{}
		m.mutexes[key] = mu
	}
	m.waiting[key]++

	m.edit.Unlock()

	mu.Lock()
	return nil
}

func (m *KeyedMutex[K]) Unlock(key K) error {
	m.edit.Lock()
	defer m.edit.Unlock()

	mu, ok := m.mutexes[key]
	if !ok {
		return fmt.Errorf("key %v is not locked", key)
	}

	mu.Unlock()
	m.waiting[key]--

	if m.waiting[key] == 0 {
		delete(m.mutexes, key)
		delete(m.waiting, key)
	}

	return nil
}
