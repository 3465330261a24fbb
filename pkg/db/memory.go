package db

import (
	"context"
	"sync"
	"time"
)

// MemoryDB is an in-process KV used by tests and by STORE_BACKEND=memory.
type MemoryDB struct {
	mu     sync.RWMutex
	values map[string]string
	nonces map[string]time.Time
}

// NewMemoryDB returns an empty in-memory store.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		values: make(map[string]string),
		nonces: make(map[string]time.Time),
	}
}

func (m *MemoryDB) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryDB) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryDB) Update(_ context.Context, key string, fn UpdateFunc) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.values[key]
	next, write, err := fn(current, ok)
	if err != nil || !write {
		return false, err
	}
	m.values[key] = next
	return true, nil
}

func (m *MemoryDB) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryDB) Ping(context.Context) error { return nil }

func (m *MemoryDB) HasSeenNonce(nonce string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.nonces[nonce]
	return ok, nil
}

func (m *MemoryDB) SaveNonce(nonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nonces[nonce]; !ok {
		m.nonces[nonce] = time.Now()
	}
	return nil
}

func (m *MemoryDB) CleanupOldNonces(olderThan time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for n, seen := range m.nonces {
		if seen.Before(olderThan) {
			delete(m.nonces, n)
		}
	}
	return nil
}

func (m *MemoryDB) Close() error { return nil }
