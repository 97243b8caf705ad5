package host

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Write is one staged key/value pair. Delete removes the key instead.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// Backend is the committed state store. Commit must apply all writes or none.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Commit(ctx context.Context, writes []Write) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// MemoryBackend keeps committed state in a map (demo/development mode).
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *MemoryBackend) Commit(_ context.Context, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range writes {
		if w.Delete {
			delete(m.data, w.Key)
			continue
		}
		cp := make([]byte, len(w.Value))
		copy(cp, w.Value)
		m.data[w.Key] = cp
	}
	return nil
}

func (m *MemoryBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryBackend) Close() error { return nil }

var _ Backend = (*MemoryBackend)(nil)
