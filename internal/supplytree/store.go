package supplytree

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Store persists finalized trees. Implementations serialize with the tree's JSON form.
type Store interface {
	// Put stores t and returns a reference for Get. Storing a tree with an existing ID
	// replaces it.
	Put(ctx context.Context, t *SupplyTree) (string, error)
	Get(ctx context.Context, ref string) (*SupplyTree, error)
	Delete(ctx context.Context, ref string) error
}

// MemoryStore keeps serialized trees in process memory. The match server uses it to
// hand out tree references.
type MemoryStore struct {
	mu    sync.RWMutex
	trees map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trees: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, t *SupplyTree) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t == nil || t.ID == "" {
		return "", fmt.Errorf("%w: tree has no id", ErrNotFound)
	}
	if !t.Finalized() {
		return "", fmt.Errorf("supplytree: tree %s is not finalized", t.ID)
	}
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode tree %s: %w", t.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trees[t.ID] = data
	return t.ID, nil
}

func (s *MemoryStore) Get(ctx context.Context, ref string) (*SupplyTree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.trees[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tree %s", ErrNotFound, ref)
	}
	var t SupplyTree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode tree %s: %w", ref, err)
	}
	return &t, nil
}

func (s *MemoryStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trees, ref)
	return nil
}

// Refs lists stored references in lexical order.
func (s *MemoryStore) Refs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.trees))
	for k := range s.trees {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
