package grant

import (
	"context"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore keeps issued grants in process memory. Used by tests and DSN-less
// runs.
type MemStore struct {
	mu     sync.Mutex
	grants []Grant
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Create(ctx context.Context, g *Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = append(s.grants, *g)
	return nil
}

// Grants returns a copy of everything issued so far.
func (s *MemStore) Grants() []Grant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Grant, len(s.grants))
	copy(out, s.grants)
	return out
}
