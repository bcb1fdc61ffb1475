// Package clients decides which external resources a principal may see or act on.
package clients

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/authority"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Principal is an authenticated actor known to the engine.
type Principal struct {
	ID     string         `json:"id"`
	Email  string         `json:"email"`
	Name   string         `json:"name"`
	Role   authority.Role `json:"role"`
	Active bool           `json:"active"`
}

// Resource is an external resource whose bindings the provider holds.
type Resource struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// AssignmentStatus enumerates assignment states.
type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "active"
	AssignmentInactive  AssignmentStatus = "inactive"
	AssignmentSuspended AssignmentStatus = "suspended"
)

// Valid reports whether s is a known assignment status.
func (s AssignmentStatus) Valid() bool {
	switch s {
	case AssignmentActive, AssignmentInactive, AssignmentSuspended:
		return true
	}
	return false
}

// Assignment ties a principal to a resource.
type Assignment struct {
	ID          string           `json:"id"`
	PrincipalID string           `json:"principal_id"`
	ResourceID  string           `json:"resource_id"`
	Status      AssignmentStatus `json:"status"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CreatedBy   string           `json:"created_by"`
}

// Effective reports whether the assignment grants access at now.
func (a Assignment) Effective(now time.Time) bool {
	if a.Status != AssignmentActive {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// Audit actions written by the service.
const (
	ActionAssignmentCreate = "assignment.create"
	ActionAssignmentStatus = "assignment.status"
	ActionAssignmentDelete = "assignment.delete"
	ActionResourceDelete   = "resource.delete"
)

var (
	// ErrPrincipalNotFound indicates the principal is unknown.
	ErrPrincipalNotFound = fmt.Errorf("clients: principal: %w", shared.ErrNotFound)
	// ErrResourceNotFound indicates the resource is unknown.
	ErrResourceNotFound = fmt.Errorf("clients: resource: %w", shared.ErrNotFound)
	// ErrAssignmentNotFound indicates the assignment is unknown.
	ErrAssignmentNotFound = fmt.Errorf("clients: assignment: %w", shared.ErrNotFound)
	// ErrAssignmentExists indicates an active assignment already covers the pair.
	ErrAssignmentExists = fmt.Errorf("clients: active assignment already exists: %w", shared.ErrConflict)
)
