package db

import (
	"context"
	"sync"
)

// Backend persists whole collections. Load of a collection that was never
// saved returns an empty Collection. Save replaces the collection atomically.
type Backend interface {
	Load(ctx context.Context, name string) (Collection, error)
	Save(ctx context.Context, name string, c Collection) error
	Close() error
}

// MemoryBackend keeps encoded collections in memory. It encodes on Save and
// decodes on Load so values behave exactly as they do on disk.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

// Load returns an empty collection for a name never saved.
func (b *MemoryBackend) Load(_ context.Context, name string) (Collection, error) {
	b.mu.RLock()
	data, ok := b.data[name]
	b.mu.RUnlock()
	if !ok {
		return Collection{}, nil
	}
	return decodeCollection(data)
}

func (b *MemoryBackend) Save(_ context.Context, name string, c Collection) error {
	data, err := encodeCollection(c)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.data[name] = data
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
