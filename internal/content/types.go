package content

import (
	"errors"
	"time"
)

// UnitStatus is the publish status of a content unit.
type UnitStatus string

const (
	UnitDraft          UnitStatus = "draft"
	UnitPendingMapping UnitStatus = "pending_mapping"
	UnitActive         UnitStatus = "active"
	UnitInactive       UnitStatus = "inactive"
	UnitSuspended      UnitStatus = "suspended"
)

// MappingState summarizes competency-mapping completeness.
type MappingState string

const (
	MappingPending  MappingState = "pending"
	MappingPartial  MappingState = "partial"
	MappingComplete MappingState = "complete"
)

var (
	ErrNotFound = errors.New("content: not found")
	// ErrMappingRequired is the lifecycle gate: a unit without at least one
	// competency mapping can never become active.
	ErrMappingRequired   = errors.New("content: competency mapping required")
	ErrInvalidTransition = errors.New("content: invalid status transition")
	ErrConflict          = errors.New("content: concurrent status change")
	ErrInvalidInput      = errors.New("content: invalid input")
)

// Unit is a protected learning content unit owned by exactly one publisher.
type Unit struct {
	ID                   string       `json:"id"`
	PublisherID          string       `json:"publisher_id"`
	Title                string       `json:"title"`
	Kind                 string       `json:"kind"`
	Status               UnitStatus   `json:"status"`
	MappingCount         int          `json:"mapping_count"`
	MappingState         MappingState `json:"mapping_state"`
	RequiredMappings     int          `json:"required_mappings"`
	WatermarkEnabled     bool         `json:"watermark_enabled"`
	SessionExpiryMinutes int          `json:"session_expiry_minutes"`
	ActivatedAt          *time.Time   `json:"activated_at,omitempty"`
	ActivatedBy          string       `json:"activated_by,omitempty"`
	DeactivatedAt        *time.Time   `json:"deactivated_at,omitempty"`
	DeactivatedBy        string       `json:"deactivated_by,omitempty"`
	DeactivateReason     string       `json:"deactivate_reason,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// Mapping associates a unit with one governance taxonomy entry.
type Mapping struct {
	ID           string    `json:"id"`
	UnitID       string    `json:"unit_id"`
	CompetencyID string    `json:"competency_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// mappingState derives the completeness flag from counts.
func mappingState(count, required int) MappingState {
	if count == 0 {
		return MappingPending
	}
	if required > 0 && count >= required {
		return MappingComplete
	}
	return MappingPartial
}
