package vector

import (
	"context"
	"sync"
)

// MemoryIndex is an exact, in-process index. Queries scan the whole collection.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]map[string][]float32
}

// NewMemoryIndex creates an empty index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string]map[string][]float32)}
}

// Query returns up to k neighbors of vec in collection
func (m *MemoryIndex) Query(ctx context.Context, collection string, vec []float32, k int) ([]Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	return topK(vec, m.collections[collection], k), nil
}

// Upsert stores a copy of vec under id
func (m *MemoryIndex) Upsert(ctx context.Context, collection, id string, vec []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string][]float32)
		m.collections[collection] = coll
	}
	coll[id] = append([]float32(nil), vec...)
	return nil
}

// Delete removes id from collection
func (m *MemoryIndex) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.collections[collection], id)
	return nil
}

// Len returns the number of vectors in collection
func (m *MemoryIndex) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}
