package utils

import "sync"

// MutexMap hands out one mutex per key. Entries are dropped once nobody holds
// or waits on them, so the map only grows with the number of active keys.
type MutexMap[K comparable] struct {
	edit    sync.Mutex
	waiters map[K]int
	mutexes map[K]*sync.Mutex
}

func NewMutexMap[K comparable]() *MutexMap[K] {
	return &MutexMap[K]{
		waiters: make(map[K]int),
		mutexes: make(map[K]*sync.Mutex),
	}
}

func (m *MutexMap[K]) Lock(key K) {
	m.edit.Lock()
	mu, ok := m.mutexes[key]
	if !ok {
		mu = &sync.Mutex{}
		m.mutexes[key] = mu
	}
	m.waiters[key]++
	m.edit.Unlock()

	mu.Lock()
}

func (m *MutexMap[K]) Unlock(key K) {
	m.edit.Lock()
	defer m.edit.Unlock()

	mu, ok := m.mutexes[key]
	if !ok {
		panic("unlock of unlocked key")
	}
	mu.Unlock()

	m.waiters[key]--
	if m.waiters[key] == 0 {
		delete(m.mutexes, key)
		delete(m.waiters, key)
	}
}

func (m *MutexMap[K]) Len() int {
	m.edit.Lock()
	defer m.edit.Unlock()
	return len(m.mutexes)
}
