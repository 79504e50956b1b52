package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is an in-process Store. It is the default backend when no
// MongoDB URI is configured and the backend used by tests.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func memKey(kind, id string) string {
	return kind + "/" + id
}

func (m *Memory) Get(ctx context.Context, kind, id string, out interface{}) error {
	m.mu.RLock()
	data, ok := m.docs[memKey(kind, id)]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(data, out)
}

func (m *Memory) Put(ctx context.Context, kind, id string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[memKey(kind, id)] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, kind, id string) error {
	m.mu.Lock()
	delete(m.docs, memKey(kind, id))
	m.mu.Unlock()
	return nil
}
