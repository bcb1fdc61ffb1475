// Package requests implements the permission request lifecycle.
package requests

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/authority"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Status enumerates request states.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusRejected Status = "REJECTED"
	StatusExpired  Status = "EXPIRED"
)

// Decision is an approver's verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// transitions is the single source of truth for reachable states.
// ACTIVE -> ACTIVE is a level downgrade.
var transitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusRejected},
	StatusActive:  {StatusActive, StatusExpired},
}

// Audit actions written by the service.
const (
	ActionCreate        = "request.create"
	ActionAutoApprove   = "request.auto_approve"
	ActionApprove       = "request.approve"
	ActionReject        = "request.reject"
	ActionAutoDowngrade = "request.auto_downgrade"
	ActionExpire        = "request.expire"
)

// MaxDurationHours caps a requested grant duration at ten years.
const MaxDurationHours = 87600

// SystemDecider is recorded as decided_by for engine-driven transitions.
const SystemDecider = "system"

var (
	// ErrNotFound indicates the request does not exist.
	ErrNotFound = fmt.Errorf("requests: %w", shared.ErrNotFound)
	// ErrDuplicatePending indicates an identical request is already awaiting a decision.
	ErrDuplicatePending = fmt.Errorf("requests: identical request already pending: %w", shared.ErrConflict)
	// ErrNotDue indicates a time-based transition is not yet applicable.
	ErrNotDue = errors.New("requests: transition not due")
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PermissionRequest is the aggregate tracked through its lifecycle.
type PermissionRequest struct {
	ID             string          `json:"id"`
	RequesterID    string          `json:"requester_id"`
	RequesterEmail string          `json:"requester_email"`
	RequesterRole  authority.Role  `json:"requester_role"`
	ResourceID     string          `json:"resource_id"`
	RequestedLevel authority.Level `json:"requested_level"`
	CurrentLevel   authority.Level `json:"current_level,omitempty"`
	Status         Status          `json:"status"`
	RequestedAt    time.Time       `json:"requested_at"`
	DecidedAt      *time.Time      `json:"decided_at,omitempty"`
	DecidedBy      string          `json:"decided_by,omitempty"`
	ExpiryAt       *time.Time      `json:"expiry_at,omitempty"`
	DurationHours  int             `json:"duration_hours,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	Version        int64           `json:"version"`
}

// CreateInput carries a new request.
type CreateInput struct {
	ResourceID    string
	Level         string
	Notes         string
	DurationHours int
}

// ListFilter narrows request listings.
type ListFilter struct {
	Status      Status
	RequesterID string
	ResourceID  string
	Page        int
	PerPage     int
}

// DaysUntilExpiry returns the whole calendar days between today and the
// expiry date, both in UTC.
func (r PermissionRequest) DaysUntilExpiry(now time.Time) (int, bool) {
	if r.ExpiryAt == nil {
		return 0, false
	}
	expiry := truncateDay(*r.ExpiryAt)
	today := truncateDay(now)
	return int(expiry.Sub(today).Hours() / 24), true
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
