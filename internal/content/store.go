package content

import (
	"context"
	"time"
)

// TransitionStamp records who moved a unit and when.
type TransitionStamp struct {
	At     time.Time
	Actor  string
	Reason string
}

// Store describes persistence for content units and their competency
// mappings.
type Store interface {
	// Create persists the unit together with any initial mappings atomically.
	Create(ctx context.Context, u *Unit, mappings []Mapping) error
	Find(ctx context.Context, id string) (*Unit, error)
	// Transition is a conditional status update: it succeeds only while the
	// row still carries the expected `from` status, so interactive requests
	// and sweeps racing on the same unit resolve one way. ErrConflict when
	// the row moved underneath.
	Transition(ctx context.Context, id string, from, to UnitStatus, stamp TransitionStamp) error
	// AddMapping inserts the mapping and recomputes the unit's mapping count
	// and completeness flag, returning the updated unit.
	AddMapping(ctx context.Context, m *Mapping) (*Unit, error)
	ListActiveByPublisher(ctx context.Context, publisherID string) ([]*Unit, error)
}
