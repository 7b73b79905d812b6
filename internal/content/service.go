package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"edvault.org/internal/audit"
	"edvault.org/internal/auth"
)

const defaultSessionExpiryMinutes = 30

// Service is the single entry point for content status transitions. The
// mapping gate is enforced here, not at creation time only: no path may move
// a unit into active without at least one competency mapping.
type Service struct {
	store  Store
	ledger audit.Ledger
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(store Store, ledger audit.Ledger, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("content: store is required")
	}
	if ledger == nil {
		return nil, errors.New("content: audit ledger is required")
	}
	s := &Service{store: store, ledger: ledger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateInput describes a new content unit.
type CreateInput struct {
	PublisherID          string
	Title                string
	Kind                 string
	RequiredMappings     int
	WatermarkEnabled     bool
	SessionExpiryMinutes int
	CompetencyIDs        []string
}

// Create persists a new unit. With zero competency mappings the unit lands in
// pending_mapping; with at least one it is auto-activated and stamped with
// the creating principal.
func (s *Service) Create(ctx context.Context, in CreateInput, actor auth.Principal, meta auth.ClientMeta) (*Unit, error) {
	if strings.TrimSpace(in.PublisherID) == "" {
		return nil, fmt.Errorf("%w: publisher id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	required := in.RequiredMappings
	if required <= 0 {
		required = 1
	}
	expiry := in.SessionExpiryMinutes
	if expiry <= 0 {
		expiry = defaultSessionExpiryMinutes
	}

	now := s.now().UTC()
	u := &Unit{
		PublisherID:          in.PublisherID,
		Title:                strings.TrimSpace(in.Title),
		Kind:                 in.Kind,
		Status:               UnitPendingMapping,
		MappingCount:         len(in.CompetencyIDs),
		MappingState:         mappingState(len(in.CompetencyIDs), required),
		RequiredMappings:     required,
		WatermarkEnabled:     in.WatermarkEnabled,
		SessionExpiryMinutes: expiry,
	}
	var mappings []Mapping
	for _, cid := range in.CompetencyIDs {
		mappings = append(mappings, Mapping{CompetencyID: cid})
	}
	if len(mappings) > 0 {
		u.Status = UnitActive
		u.ActivatedAt = &now
		u.ActivatedBy = actor.ID
	}
	if err := s.store.Create(ctx, u, mappings); err != nil {
		return nil, err
	}
	if u.Status == UnitActive {
		s.append(ctx, actor, meta, &audit.Event{
			Action:      audit.ActionContentActivated,
			TargetType:  "content_unit",
			TargetID:    u.ID,
			TenantID:    u.PublisherID,
			Description: "auto-activated on create",
		})
	}
	return u, nil
}

// AddMapping attaches one competency mapping and refreshes the completeness
// flag. It never changes the publish status by itself.
func (s *Service) AddMapping(ctx context.Context, unitID, competencyID string) (*Unit, error) {
	if strings.TrimSpace(competencyID) == "" {
		return nil, fmt.Errorf("%w: competency id is required", ErrInvalidInput)
	}
	return s.store.AddMapping(ctx, &Mapping{UnitID: unitID, CompetencyID: competencyID})
}

// Activate moves a unit into active. Activating an already-active unit is a
// no-op success. A unit with zero mappings is rejected with
// ErrMappingRequired regardless of its current status.
func (s *Service) Activate(ctx context.Context, unitID string, actor auth.Principal, meta auth.ClientMeta) (*Unit, error) {
	u, err := s.store.Find(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if u.Status == UnitActive {
		return u, nil
	}
	if u.MappingCount == 0 {
		return nil, ErrMappingRequired
	}
	now := s.now().UTC()
	stamp := TransitionStamp{At: now, Actor: actor.ID}
	if err := s.store.Transition(ctx, u.ID, u.Status, UnitActive, stamp); err != nil {
		return nil, err
	}
	u.Status = UnitActive
	u.ActivatedAt = &now
	u.ActivatedBy = actor.ID
	s.append(ctx, actor, meta, &audit.Event{
		Action:     audit.ActionContentActivated,
		TargetType: "content_unit",
		TargetID:   u.ID,
		TenantID:   u.PublisherID,
	})
	return u, nil
}

// Deactivate always succeeds from active and is idempotent on inactive
// units. Draft and pending units have nothing to deactivate.
func (s *Service) Deactivate(ctx context.Context, unitID string, actor auth.Principal, reason string, meta auth.ClientMeta) (*Unit, error) {
	return s.takeOffline(ctx, unitID, UnitInactive, actor, reason, meta)
}

// Suspend is the administrative/contract-expiry path from active to
// suspended.
func (s *Service) Suspend(ctx context.Context, unitID string, actor auth.Principal, reason string, meta auth.ClientMeta) (*Unit, error) {
	return s.takeOffline(ctx, unitID, UnitSuspended, actor, reason, meta)
}

func (s *Service) takeOffline(ctx context.Context, unitID string, target UnitStatus, actor auth.Principal, reason string, meta auth.ClientMeta) (*Unit, error) {
	u, err := s.store.Find(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if u.Status == target {
		return u, nil
	}
	if u.Status != UnitActive {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, u.Status, target)
	}
	now := s.now().UTC()
	stamp := TransitionStamp{At: now, Actor: actor.ID, Reason: reason}
	if err := s.store.Transition(ctx, u.ID, UnitActive, target, stamp); err != nil {
		return nil, err
	}
	u.Status = target
	u.DeactivatedAt = &now
	u.DeactivatedBy = actor.ID
	u.DeactivateReason = reason
	s.append(ctx, actor, meta, &audit.Event{
		Action:      audit.ActionContentDeactived,
		TargetType:  "content_unit",
		TargetID:    u.ID,
		TenantID:    u.PublisherID,
		Description: reason,
	})
	return u, nil
}

// ChangeStatus dispatches an explicit status request through the state
// machine. Only active, inactive and suspended are reachable by request;
// draft and pending_mapping are creation-time states.
func (s *Service) ChangeStatus(ctx context.Context, unitID string, target UnitStatus, actor auth.Principal, reason string, meta auth.ClientMeta) (*Unit, error) {
	switch target {
	case UnitActive:
		return s.Activate(ctx, unitID, actor, meta)
	case UnitInactive:
		return s.Deactivate(ctx, unitID, actor, reason, meta)
	case UnitSuspended:
		return s.Suspend(ctx, unitID, actor, reason, meta)
	default:
		return nil, fmt.Errorf("%w: status %q not reachable by request", ErrInvalidTransition, target)
	}
}

// BulkDeactivateForPublisher takes every active unit of a publisher offline
// through the regular Deactivate entry point. One audit event per unit plus
// one summary event.
func (s *Service) BulkDeactivateForPublisher(ctx context.Context, publisherID string, actor auth.Principal, reason string, meta auth.ClientMeta) (int, error) {
	units, err := s.store.ListActiveByPublisher(ctx, publisherID)
	if err != nil {
		return 0, err
	}
	var done int
	for _, u := range units {
		if _, err := s.Deactivate(ctx, u.ID, actor, reason, meta); err != nil {
			// A unit already moved by a concurrent request is not a failure
			// of the bulk operation.
			if errors.Is(err, ErrConflict) {
				continue
			}
			return done, err
		}
		done++
	}
	s.append(ctx, actor, meta, &audit.Event{
		Action:      audit.ActionContentBulkOff,
		TargetType:  "tenant",
		TargetID:    publisherID,
		TenantID:    publisherID,
		Description: fmt.Sprintf("deactivated %d content units: %s", done, reason),
	})
	return done, nil
}

// Find loads one unit.
func (s *Service) Find(ctx context.Context, unitID string) (*Unit, error) {
	return s.store.Find(ctx, unitID)
}

func (s *Service) append(ctx context.Context, actor auth.Principal, meta auth.ClientMeta, e *audit.Event) {
	e.OccurredAt = s.now().UTC()
	e.ActorID = actor.ID
	e.IP = meta.IP
	e.UserAgent = meta.UserAgent
	_ = s.ledger.Append(ctx, e)
}
