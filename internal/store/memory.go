package store

import (
	"encoding/json"
	"sync"
)

// Memory is an in-process Store. Save is a no-op.
type Memory struct {
	mu   sync.RWMutex
	data map[entryKey]json.RawMessage
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[entryKey]json.RawMessage)}
}

func (m *Memory) Get(category, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[entryKey{category, key}]
	return v, ok, nil
}

func (m *Memory) Set(category, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[entryKey{category, key}] = append(json.RawMessage(nil), value...)
	return nil
}

func (m *Memory) Save() error  { return nil }
func (m *Memory) Close() error { return nil }
