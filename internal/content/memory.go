package content

import (
	"context"
	"sync"
	"time"

	"edvault.org/internal/ids"
)

var _ Store = (*MemStore)(nil)

// MemStore implements Store with in-process concurrency safety. Used by tests
// and DSN-less runs.
type MemStore struct {
	mu       sync.RWMutex
	units    map[string]*Unit
	mappings map[string][]Mapping
}

func NewMemStore() *MemStore {
	return &MemStore{
		units:    make(map[string]*Unit),
		mappings: make(map[string][]Mapping),
	}
}

func (m *MemStore) Create(ctx context.Context, u *Unit, mappings []Mapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	m.units[u.ID] = &cp
	for i := range mappings {
		mp := mappings[i]
		if mp.ID == "" {
			mp.ID = ids.New()
		}
		mp.UnitID = u.ID
		mp.CreatedAt = now
		m.mappings[u.ID] = append(m.mappings[u.ID], mp)
	}
	return nil
}

func (m *MemStore) Find(ctx context.Context, id string) (*Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.units[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemStore) Transition(ctx context.Context, id string, from, to UnitStatus, stamp TransitionStamp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[id]
	if !ok {
		return ErrNotFound
	}
	if u.Status != from {
		return ErrConflict
	}
	u.Status = to
	u.UpdatedAt = time.Now().UTC()
	if to == UnitActive {
		at := stamp.At
		u.ActivatedAt = &at
		u.ActivatedBy = stamp.Actor
	} else {
		at := stamp.At
		u.DeactivatedAt = &at
		u.DeactivatedBy = stamp.Actor
		u.DeactivateReason = stamp.Reason
	}
	return nil
}

func (m *MemStore) AddMapping(ctx context.Context, mp *Mapping) (*Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[mp.UnitID]
	if !ok {
		return nil, ErrNotFound
	}
	if mp.ID == "" {
		mp.ID = ids.New()
	}
	mp.CreatedAt = time.Now().UTC()
	m.mappings[u.ID] = append(m.mappings[u.ID], *mp)
	u.MappingCount++
	u.MappingState = mappingState(u.MappingCount, u.RequiredMappings)
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	return &cp, nil
}

func (m *MemStore) ListActiveByPublisher(ctx context.Context, publisherID string) ([]*Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Unit
	for _, u := range m.units {
		if u.PublisherID == publisherID && u.Status == UnitActive {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}
