package shadow

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRepository keeps documents in process memory.
type MemoryRepository struct {
	docs    map[string]map[int]string
	cursors map[string]map[Kind]int
	mu      sync.RWMutex
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		docs:    make(map[string]map[int]string),
		cursors: make(map[string]map[Kind]int),
	}
}

func (r *MemoryRepository) SaveDocument(_ context.Context, thing string, slot int, kind Kind, doc string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.docs[thing] == nil {
		r.docs[thing] = make(map[int]string)
		r.cursors[thing] = make(map[Kind]int)
	}
	r.docs[thing][slot] = doc
	r.cursors[thing][kind] = slot
	return nil
}

func (r *MemoryRepository) Document(_ context.Context, thing string, slot int) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[thing][slot]
	if !ok {
		return "", fmt.Errorf("%w: slot %d", ErrNotFound, slot)
	}
	return doc, nil
}

func (r *MemoryRepository) Cursors(_ context.Context, thing string) (map[Kind]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Kind]int, len(r.cursors[thing]))
	for k, v := range r.cursors[thing] {
		out[k] = v
	}
	return out, nil
}
