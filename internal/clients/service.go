package clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-access/internal/audit"
	"github.com/odyssey-erp/odyssey-access/internal/authority"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Repository exposes the directory and assignment store.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Principal(ctx context.Context, id string) (Principal, error)
	PrincipalByEmail(ctx context.Context, email string) (Principal, error)
	PrincipalsWithRoles(ctx context.Context, roles []authority.Role) ([]Principal, error)
	Resource(ctx context.Context, id string) (Resource, error)
	ActiveResources(ctx context.Context) ([]Resource, error)
	AssignmentsForPrincipal(ctx context.Context, principalID string) ([]Assignment, error)
	Assignment(ctx context.Context, id string) (Assignment, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	ActiveAssignment(ctx context.Context, principalID, resourceID string) (Assignment, bool, error)
	InsertAssignment(ctx context.Context, a Assignment) error
	UpdateAssignmentStatus(ctx context.Context, id string, status AssignmentStatus) error
	DeleteAssignment(ctx context.Context, id string) error
	DeleteResource(ctx context.Context, id string) (int64, error)
	AppendAudit(ctx context.Context, entry audit.Entry) (audit.Entry, error)
}

// Service resolves access and manages assignments.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger.With(slog.String("component", "clients")), now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Principal returns a principal by id.
func (s *Service) Principal(ctx context.Context, id string) (Principal, error) {
	return s.repo.Principal(ctx, id)
}

// PrincipalByEmail returns a principal by email.
func (s *Service) PrincipalByEmail(ctx context.Context, email string) (Principal, error) {
	return s.repo.PrincipalByEmail(ctx, email)
}

// PrincipalsWithRoleAtLeast lists active principals ranked at or above role.
func (s *Service) PrincipalsWithRoleAtLeast(ctx context.Context, role authority.Role) ([]Principal, error) {
	return s.repo.PrincipalsWithRoles(ctx, authority.AtLeast(role))
}

// Resource returns a resource by id.
func (s *Service) Resource(ctx context.Context, id string) (Resource, error) {
	return s.repo.Resource(ctx, id)
}

func seesEverything(role authority.Role) bool {
	return role == authority.RoleSuperAdmin || role == authority.RoleAdmin
}

// AccessibleResources returns the sorted ids of resources principal may act on.
func (s *Service) AccessibleResources(ctx context.Context, principal Principal) ([]string, error) {
	if !principal.Active {
		return nil, nil
	}
	resources, err := s.repo.ActiveResources(ctx)
	if err != nil {
		return nil, err
	}
	active := make(map[string]struct{}, len(resources))
	for _, r := range resources {
		active[r.ID] = struct{}{}
	}

	var ids []string
	if seesEverything(principal.Role) {
		for id := range active {
			ids = append(ids, id)
		}
	} else {
		assignments, err := s.repo.AssignmentsForPrincipal(ctx, principal.ID)
		if err != nil {
			return nil, err
		}
		now := s.now()
		seen := make(map[string]struct{})
		for _, a := range assignments {
			if _, ok := active[a.ResourceID]; !ok || !a.Effective(now) {
				continue
			}
			if _, dup := seen[a.ResourceID]; dup {
				continue
			}
			seen[a.ResourceID] = struct{}{}
			ids = append(ids, a.ResourceID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// HasAccess reports whether principal may act on resourceID.
func (s *Service) HasAccess(ctx context.Context, principal Principal, resourceID string) (bool, error) {
	if !principal.Active {
		return false, nil
	}
	resource, err := s.repo.Resource(ctx, resourceID)
	if errors.Is(err, ErrResourceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !resource.Active {
		return false, nil
	}
	if seesEverything(principal.Role) {
		return true, nil
	}
	assignments, err := s.repo.AssignmentsForPrincipal(ctx, principal.ID)
	if err != nil {
		return false, err
	}
	now := s.now()
	for _, a := range assignments {
		if a.ResourceID == resourceID && a.Effective(now) {
			return true, nil
		}
	}
	return false, nil
}

// CreateAssignmentInput carries a new assignment.
type CreateAssignmentInput struct {
	PrincipalID string
	ResourceID  string
	ExpiresAt   *time.Time
}

// CreateAssignment links a principal to a resource. An active, unexpired pair
// yields ErrAssignmentExists; an expired one is retired in the same unit of work.
func (s *Service) CreateAssignment(ctx context.Context, actor shared.Actor, input CreateAssignmentInput) (Assignment, error) {
	if input.PrincipalID == "" {
		return Assignment{}, shared.NewValidationError("principal_id", "required")
	}
	if input.ResourceID == "" {
		return Assignment{}, shared.NewValidationError("resource_id", "required")
	}
	now := s.now()
	if input.ExpiresAt != nil && !input.ExpiresAt.After(now) {
		return Assignment{}, shared.NewValidationError("expires_at", "must be in the future")
	}
	target, err := s.authorizeManage(ctx, actor, input.PrincipalID, ActionAssignmentCreate)
	if err != nil {
		return Assignment{}, err
	}
	resource, err := s.repo.Resource(ctx, input.ResourceID)
	if err != nil {
		return Assignment{}, err
	}
	if !resource.Active {
		return Assignment{}, shared.NewValidationError("resource_id", "resource is inactive")
	}

	assignment := Assignment{
		ID:          uuid.NewString(),
		PrincipalID: target.ID,
		ResourceID:  resource.ID,
		Status:      AssignmentActive,
		ExpiresAt:   input.ExpiresAt,
		CreatedAt:   now,
		CreatedBy:   actor.ID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		details := map[string]any{"principal_id": target.ID, "resource_id": resource.ID}
		existing, found, err := tx.ActiveAssignment(ctx, target.ID, resource.ID)
		if err != nil {
			return err
		}
		if found {
			if existing.Effective(now) {
				return ErrAssignmentExists
			}
			if err := tx.UpdateAssignmentStatus(ctx, existing.ID, AssignmentInactive); err != nil {
				return err
			}
			details["replaced"] = existing.ID
		}
		if err := tx.InsertAssignment(ctx, assignment); err != nil {
			return err
		}
		_, err = tx.AppendAudit(ctx, audit.Entry{
			At:         now,
			Actor:      actor.ID,
			Action:     ActionAssignmentCreate,
			TargetType: audit.TargetAssignment,
			TargetID:   assignment.ID,
			Outcome:    audit.OutcomeSuccess,
			Details:    details,
		})
		return err
	})
	if err != nil {
		return Assignment{}, err
	}
	s.logger.Info("assignment created", slog.String("assignment_id", assignment.ID), slog.String("principal_id", target.ID), slog.String("resource_id", resource.ID))
	return assignment, nil
}

// SetAssignmentStatus changes the status of an assignment.
func (s *Service) SetAssignmentStatus(ctx context.Context, actor shared.Actor, id string, status AssignmentStatus) (Assignment, error) {
	if !status.Valid() {
		return Assignment{}, shared.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	assignment, err := s.repo.Assignment(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if _, err := s.authorizeManage(ctx, actor, assignment.PrincipalID, ActionAssignmentStatus); err != nil {
		return Assignment{}, err
	}
	if assignment.Status == status {
		return assignment, nil
	}
	previous := assignment.Status
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if status == AssignmentActive {
			existing, found, err := tx.ActiveAssignment(ctx, assignment.PrincipalID, assignment.ResourceID)
			if err != nil {
				return err
			}
			if found && existing.ID != assignment.ID {
				return ErrAssignmentExists
			}
		}
		if err := tx.UpdateAssignmentStatus(ctx, id, status); err != nil {
			return err
		}
		_, err := tx.AppendAudit(ctx, audit.Entry{
			At:         s.now(),
			Actor:      actor.ID,
			Action:     ActionAssignmentStatus,
			TargetType: audit.TargetAssignment,
			TargetID:   id,
			Outcome:    audit.OutcomeSuccess,
			Details:    map[string]any{"from": string(previous), "to": string(status)},
		})
		return err
	})
	if err != nil {
		return Assignment{}, err
	}
	assignment.Status = status
	return assignment, nil
}

// DeleteAssignment removes an assignment.
func (s *Service) DeleteAssignment(ctx context.Context, actor shared.Actor, id string) error {
	assignment, err := s.repo.Assignment(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.authorizeManage(ctx, actor, assignment.PrincipalID, ActionAssignmentDelete); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DeleteAssignment(ctx, id); err != nil {
			return err
		}
		_, err := tx.AppendAudit(ctx, audit.Entry{
			At:         s.now(),
			Actor:      actor.ID,
			Action:     ActionAssignmentDelete,
			TargetType: audit.TargetAssignment,
			TargetID:   id,
			Outcome:    audit.OutcomeSuccess,
			Details:    map[string]any{"principal_id": assignment.PrincipalID, "resource_id": assignment.ResourceID},
		})
		return err
	})
}

// DeleteResource removes a resource and all of its assignments atomically.
func (s *Service) DeleteResource(ctx context.Context, actor shared.Actor, resourceID string) (int64, error) {
	if actor.Role.Rank() < authority.RoleAdmin.Rank() {
		return 0, s.deny(ctx, actor, ActionResourceDelete, audit.TargetResource, resourceID,
			"required role: "+authority.RoleAdmin.DisplayName())
	}
	if _, err := s.repo.Resource(ctx, resourceID); err != nil {
		return 0, err
	}
	var removed int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.DeleteResource(ctx, resourceID)
		if err != nil {
			return err
		}
		removed = n
		_, err = tx.AppendAudit(ctx, audit.Entry{
			At:         s.now(),
			Actor:      actor.ID,
			Action:     ActionResourceDelete,
			TargetType: audit.TargetResource,
			TargetID:   resourceID,
			Outcome:    audit.OutcomeSuccess,
			Details:    map[string]any{"assignments_removed": n},
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("resource deleted", slog.String("resource_id", resourceID), slog.Int64("assignments_removed", removed))
	return removed, nil
}

func (s *Service) authorizeManage(ctx context.Context, actor shared.Actor, principalID, action string) (Principal, error) {
	target, err := s.repo.Principal(ctx, principalID)
	if err != nil {
		return Principal{}, err
	}
	if !authority.CanManageRole(actor.Role, target.Role) {
		return Principal{}, s.deny(ctx, actor, action, audit.TargetAssignment, principalID,
			fmt.Sprintf("%s cannot manage %s", actor.Role.DisplayName(), target.Role.DisplayName()))
	}
	return target, nil
}

// deny records a refused attempt and returns the authorization error.
func (s *Service) deny(ctx context.Context, actor shared.Actor, action, targetType, targetID, reason string) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := tx.AppendAudit(ctx, audit.Entry{
			At:         s.now(),
			Actor:      actor.ID,
			Action:     action,
			TargetType: targetType,
			TargetID:   targetID,
			Outcome:    audit.OutcomeDenied,
			Details:    map[string]any{"reason": reason},
		})
		return err
	})
	if err != nil {
		s.logger.Error("audit denied attempt", slog.String("action", action), slog.Any("error", err))
	}
	return shared.NewAuthorizationError(actor.ID, action, reason)
}

// LookupActor resolves id into an actor for request authentication.
func (s *Service) LookupActor(ctx context.Context, id string) (shared.Actor, bool, error) {
	p, err := s.repo.Principal(ctx, id)
	if err != nil {
		return shared.Actor{}, false, err
	}
	return shared.Actor{ID: p.ID, Email: p.Email, Role: p.Role}, p.Active, nil
}
