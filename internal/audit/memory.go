package audit

import (
	"context"
	"sync"
	"time"

	"edvault.org/internal/ids"
)

var _ Ledger = (*MemLedger)(nil)

// MemLedger keeps events in process memory. Used by tests and DSN-less runs.
type MemLedger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemLedger() *MemLedger {
	return &MemLedger{}
}

func (l *MemLedger) Append(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = nowUTC()
	}
	l.mu.Lock()
	l.events = append(l.events, *e)
	l.mu.Unlock()
	mirror(e)
	return nil
}

// Events returns a copy of everything appended so far.
func (l *MemLedger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// ByAction filters recorded events by action kind.
func (l *MemLedger) ByAction(action string) []Event {
	var out []Event
	for _, e := range l.Events() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
