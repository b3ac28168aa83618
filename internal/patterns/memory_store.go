package patterns

import (
	"context"
	"sync"
)

// MemoryStore держит сериализованный снимок в памяти. Для тестов и режима без диска.
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreFromRaw позволяет подложить произвольные (в т.ч. битые) байты.
func NewMemoryStoreFromRaw(raw []byte) *MemoryStore {
	return &MemoryStore{data: raw}
}

func (s *MemoryStore) Load(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return decodeSnapshot(s.data)
}

func (s *MemoryStore) Save(ctx context.Context, snapshot map[string]int) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.saves++
	s.mu.Unlock()
	return nil
}

// Saves — сколько раз вызывался Save.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
