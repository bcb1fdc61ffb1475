package requests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-access/internal/audit"
	"github.com/odyssey-erp/odyssey-access/internal/authority"
	"github.com/odyssey-erp/odyssey-access/internal/clients"
	"github.com/odyssey-erp/odyssey-access/internal/notify"
	"github.com/odyssey-erp/odyssey-access/internal/provider"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// ErrRenewed indicates a newer grant supersedes the request, so no downgrade applies.
var ErrRenewed = errors.New("requests: superseded by a newer grant")

// Repository is the persistence port for requests.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id string) (PermissionRequest, error)
	List(ctx context.Context, filter ListFilter) ([]PermissionRequest, int, error)
	ListActive(ctx context.Context) ([]PermissionRequest, error)
	ActiveFor(ctx context.Context, requesterID, resourceID string) ([]PermissionRequest, error)
	CountPending(ctx context.Context) (int, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	PendingExists(ctx context.Context, requesterID, resourceID string, level authority.Level) (bool, error)
	Insert(ctx context.Context, req PermissionRequest) error
	// UpdateState writes req when the stored version equals expectedVersion,
	// otherwise it returns shared.ErrConcurrency.
	UpdateState(ctx context.Context, req PermissionRequest, expectedVersion int64) error
	AppendAudit(ctx context.Context, entry audit.Entry) (audit.Entry, error)
}

// Directory resolves principals, resources and access.
type Directory interface {
	Principal(ctx context.Context, id string) (clients.Principal, error)
	HasAccess(ctx context.Context, principal clients.Principal, resourceID string) (bool, error)
}

// Grants performs the external side effects.
type Grants interface {
	Grant(ctx context.Context, resourceID, email string, level authority.Level) (provider.Result, error)
	Revoke(ctx context.Context, resourceID, email string) (provider.Result, error)
	Update(ctx context.Context, resourceID, email string, level authority.Level) (provider.Result, error)
}

// Publisher hands events to the notification pipeline.
type Publisher interface {
	Publish(ctx context.Context, events ...notify.Event) error
}

// Observer counts lifecycle transitions by action and outcome.
type Observer interface {
	ObserveTransition(action, outcome string)
}

// Config carries lifecycle durations.
type Config struct {
	AccessDuration time.Duration
	GracePeriod    time.Duration
}

// Service orchestrates the request lifecycle.
type Service struct {
	repo      Repository
	directory Directory
	grants    Grants
	publisher Publisher
	observer  Observer
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the service.
func NewService(repo Repository, directory Directory, grants Grants, publisher Publisher, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AccessDuration <= 0 {
		cfg.AccessDuration = 90 * 24 * time.Hour
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 7 * 24 * time.Hour
	}
	return &Service{
		repo:      repo,
		directory: directory,
		grants:    grants,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "requests")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithObserver reports every transition attempt to o.
func (s *Service) WithObserver(o Observer) *Service {
	s.observer = o
	return s
}

// Create files a request for actor. Auto-approvable levels are granted first
// and persisted ACTIVE; anything else is persisted PENDING.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (PermissionRequest, error) {
	level, err := authority.ParseLevel(input.Level)
	if err != nil {
		return PermissionRequest{}, shared.NewValidationError("level", err.Error())
	}
	resourceID := strings.TrimSpace(input.ResourceID)
	if resourceID == "" {
		return PermissionRequest{}, shared.NewValidationError("resource_id", "required")
	}
	if input.DurationHours < 0 || input.DurationHours > MaxDurationHours {
		return PermissionRequest{}, shared.NewValidationError("duration_hours", fmt.Sprintf("must be between 0 and %d", MaxDurationHours))
	}
	requester, err := s.directory.Principal(ctx, actor.ID)
	if err != nil {
		return PermissionRequest{}, err
	}
	if !requester.Active {
		return PermissionRequest{}, s.deny(ctx, actor, ActionCreate, audit.TargetResource, resourceID, "principal is inactive")
	}
	allowed, err := s.directory.HasAccess(ctx, requester, resourceID)
	if err != nil {
		return PermissionRequest{}, err
	}
	if !allowed {
		return PermissionRequest{}, s.deny(ctx, actor, ActionCreate, audit.TargetResource, resourceID, "no access to resource "+resourceID)
	}

	now := s.now()
	req := PermissionRequest{
		ID:             uuid.NewString(),
		RequesterID:    requester.ID,
		RequesterEmail: requester.Email,
		RequesterRole:  requester.Role,
		ResourceID:     resourceID,
		RequestedLevel: level,
		Status:         StatusPending,
		RequestedAt:    now,
		DurationHours:  input.DurationHours,
		Notes:          strings.TrimSpace(input.Notes),
		Version:        1,
	}

	approver := authority.RequiredApprover(level, requester.Role)
	if approver.Auto {
		return s.createActive(ctx, req, now)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.PendingExists(ctx, req.RequesterID, req.ResourceID, req.RequestedLevel)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicatePending
		}
		if err := tx.Insert(ctx, req); err != nil {
			return err
		}
		_, err = tx.AppendAudit(ctx, audit.Entry{
			At:         now,
			Actor:      req.RequesterID,
			Action:     ActionCreate,
			TargetType: audit.TargetRequest,
			TargetID:   req.ID,
			Outcome:    audit.OutcomeSuccess,
			Details: map[string]any{
				"resource_id":       req.ResourceID,
				"level":             string(req.RequestedLevel),
				"status":            string(StatusPending),
				"required_approver": string(approver.Role),
			},
		})
		return err
	})
	if err != nil {
		return PermissionRequest{}, err
	}
	s.logger.Info("request pending", slog.String("request_id", req.ID), slog.String("level", string(level)), slog.String("required_approver", approver.String()))
	s.publish(ctx, notify.Event{
		Type:         notify.TypePendingApproval,
		TargetID:     req.ID,
		RequestID:    req.ID,
		RequesterID:  req.RequesterID,
		ResourceID:   req.ResourceID,
		Level:        req.RequestedLevel,
		ApproverRole: approver.Role,
		Notes:        req.Notes,
		OccurredAt:   now,
	})
	return req, nil
}

func (s *Service) createActive(ctx context.Context, req PermissionRequest, now time.Time) (PermissionRequest, error) {
	binding, err := s.bindingLevel(ctx, req, req.RequestedLevel)
	if err != nil {
		return PermissionRequest{}, err
	}
	result, err := s.grants.Grant(ctx, req.ResourceID, req.RequesterEmail, binding)
	if err != nil {
		s.recordFailure(ctx, shared.SystemActor, ActionAutoApprove, audit.TargetResource, req.ResourceID, err)
		s.observe(ActionAutoApprove, err)
		return PermissionRequest{}, fmt.Errorf("requests: auto approve: %w", err)
	}
	req.Status = StatusActive
	req.CurrentLevel = req.RequestedLevel
	req.DecidedAt = &now
	req.DecidedBy = SystemDecider
	expiry := s.expiryFor(req, now)
	req.ExpiryAt = &expiry

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Insert(ctx, req); err != nil {
			return err
		}
		_, err := tx.AppendAudit(ctx, audit.Entry{
			At:         now,
			Actor:      SystemDecider,
			Action:     ActionAutoApprove,
			TargetType: audit.TargetRequest,
			TargetID:   req.ID,
			Outcome:    audit.OutcomeSuccess,
			Details: map[string]any{
				"requester_id":  req.RequesterID,
				"resource_id":   req.ResourceID,
				"level":         string(req.RequestedLevel),
				"binding_level": string(binding),
				"binding_id":    result.BindingID,
				"noop":          result.NoOp,
			},
		})
		return err
	})
	s.observe(ActionAutoApprove, err)
	if err != nil {
		return PermissionRequest{}, err
	}
	s.logger.Info("request auto approved", slog.String("request_id", req.ID), slog.String("level", string(req.RequestedLevel)))
	s.publish(ctx, s.approvalEvent(req, now))
	return req, nil
}

// Decide records an approver's verdict on a pending request.
func (s *Service) Decide(ctx context.Context, actor shared.Actor, id string, decision Decision, notes string) (PermissionRequest, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return PermissionRequest{}, shared.NewValidationError("decision", fmt.Sprintf("unknown decision %q", decision))
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return PermissionRequest{}, err
	}
	if current.Status != StatusPending {
		return current, fmt.Errorf("requests: decide %s request: %w", current.Status, shared.ErrInvalidTransition)
	}
	if !authority.CanApprove(actor.Role, current.RequestedLevel, current.RequesterRole) {
		required := authority.RequiredApprover(current.RequestedLevel, current.RequesterRole)
		action := ActionApprove
		if decision == DecisionReject {
			action = ActionReject
		}
		return current, s.deny(ctx, actor, action, audit.TargetRequest, current.ID, "required approver: "+required.String())
	}
	notes = strings.TrimSpace(notes)

	if decision == DecisionReject {
		return s.applyTo(ctx, actor, current, transition{
			action:  ActionReject,
			to:      StatusRejected,
			details: map[string]any{"notes": notes},
			mutate: func(req *PermissionRequest, now time.Time) {
				req.DecidedAt = &now
				req.DecidedBy = actor.ID
			},
			events: func(req PermissionRequest, now time.Time) []notify.Event {
				return []notify.Event{s.event(notify.TypeRejected, req, now, notes)}
			},
		})
	}

	return s.applyTo(ctx, actor, current, transition{
		action:  ActionApprove,
		to:      StatusActive,
		details: map[string]any{"notes": notes, "level": string(current.RequestedLevel)},
		effect: func(ctx context.Context, req PermissionRequest) (map[string]any, error) {
			binding, err := s.bindingLevel(ctx, req, req.RequestedLevel)
			if err != nil {
				return nil, err
			}
			result, err := s.grants.Grant(ctx, req.ResourceID, req.RequesterEmail, binding)
			if err != nil {
				return nil, err
			}
			return map[string]any{"binding_id": result.BindingID, "binding_level": string(binding), "noop": result.NoOp}, nil
		},
		mutate: func(req *PermissionRequest, now time.Time) {
			req.CurrentLevel = req.RequestedLevel
			req.DecidedAt = &now
			req.DecidedBy = actor.ID
			expiry := s.expiryFor(*req, now)
			req.ExpiryAt = &expiry
		},
		events: func(req PermissionRequest, now time.Time) []notify.Event {
			return []notify.Event{s.approvalEvent(req, now)}
		},
	})
}

// AutoDowngrade moves an Editor grant past the grace period down to Viewer.
func (s *Service) AutoDowngrade(ctx context.Context, id string) (PermissionRequest, error) {
	return s.apply(ctx, shared.SystemActor, id, transition{
		action:  ActionAutoDowngrade,
		to:      StatusActive,
		details: map[string]any{"from_level": string(authority.LevelEditor), "to_level": string(authority.LevelViewer)},
		guard: func(ctx context.Context, req PermissionRequest, now time.Time) error {
			if req.Status != StatusActive || req.CurrentLevel != authority.LevelEditor || req.DecidedAt == nil {
				return ErrNotDue
			}
			if now.Sub(*req.DecidedAt) < s.cfg.GracePeriod {
				return ErrNotDue
			}
			renewed, err := s.renewed(ctx, req)
			if err != nil {
				return err
			}
			if renewed {
				return ErrRenewed
			}
			return nil
		},
		effect: func(ctx context.Context, req PermissionRequest) (map[string]any, error) {
			binding, err := s.bindingLevel(ctx, req, authority.LevelViewer)
			if err != nil {
				return nil, err
			}
			result, err := s.grants.Update(ctx, req.ResourceID, req.RequesterEmail, binding)
			if err != nil {
				return nil, err
			}
			return map[string]any{"binding_id": result.BindingID, "binding_level": string(binding), "noop": result.NoOp}, nil
		},
		mutate: func(req *PermissionRequest, _ time.Time) {
			req.CurrentLevel = authority.LevelViewer
		},
		events: func(req PermissionRequest, now time.Time) []notify.Event {
			return []notify.Event{s.event(notify.TypeEditorAutoDowngrade, req, now, "")}
		},
	})
}

// Expire revokes an ACTIVE request whose expiry has passed. When another ACTIVE
// grant covers the same requester and resource, the binding is kept at that level.
func (s *Service) Expire(ctx context.Context, id string) (PermissionRequest, error) {
	return s.apply(ctx, shared.SystemActor, id, transition{
		action: ActionExpire,
		to:     StatusExpired,
		guard: func(_ context.Context, req PermissionRequest, now time.Time) error {
			if req.ExpiryAt == nil || req.ExpiryAt.After(now) {
				return ErrNotDue
			}
			return nil
		},
		effect: func(ctx context.Context, req PermissionRequest) (map[string]any, error) {
			retained, err := s.retainedLevel(ctx, req)
			if err != nil {
				return nil, err
			}
			if retained != "" {
				result, err := s.grants.Update(ctx, req.ResourceID, req.RequesterEmail, retained)
				if err != nil {
					return nil, err
				}
				return map[string]any{"binding_id": result.BindingID, "retained_level": string(retained)}, nil
			}
			result, err := s.grants.Revoke(ctx, req.ResourceID, req.RequesterEmail)
			if err != nil {
				return nil, err
			}
			return map[string]any{"binding_id": result.BindingID, "noop": result.NoOp}, nil
		},
		mutate: func(*PermissionRequest, time.Time) {},
		events: func(req PermissionRequest, now time.Time) []notify.Event {
			return []notify.Event{s.event(notify.TypeExpired, req, now, "")}
		},
	})
}

// Get returns a request visible to actor.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id string) (PermissionRequest, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return PermissionRequest{}, err
	}
	if !canSeeAll(actor) && req.RequesterID != actor.ID {
		return PermissionRequest{}, shared.NewAuthorizationError(actor.ID, "request.read", "not your request")
	}
	return req, nil
}

// List returns a page of requests. Requesters only see their own.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]PermissionRequest, shared.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Pagination{}, shared.NewValidationError("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	if !canSeeAll(actor) {
		filter.RequesterID = actor.ID
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// ListActive returns every ACTIVE request.
func (s *Service) ListActive(ctx context.Context) ([]PermissionRequest, error) {
	return s.repo.ListActive(ctx)
}

// PendingCount returns the number of requests awaiting a decision.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	return s.repo.CountPending(ctx)
}

func canSeeAll(actor shared.Actor) bool {
	return actor.Role.Rank() >= authority.RoleAdmin.Rank()
}

type transition struct {
	action  string
	to      Status
	details map[string]any
	guard   func(context.Context, PermissionRequest, time.Time) error
	effect  func(context.Context, PermissionRequest) (map[string]any, error)
	mutate  func(*PermissionRequest, time.Time)
	events  func(PermissionRequest, time.Time) []notify.Event
}

func (s *Service) apply(ctx context.Context, actor shared.Actor, id string, t transition) (PermissionRequest, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return PermissionRequest{}, err
	}
	return s.applyTo(ctx, actor, current, t)
}

// applyTo validates the source state, performs the external call, then writes
// state and audit together guarded by the version read in current. If the
// write loses the version race the external call is reconciled.
func (s *Service) applyTo(ctx context.Context, actor shared.Actor, current PermissionRequest, t transition) (PermissionRequest, error) {
	if !CanTransition(current.Status, t.to) {
		return current, fmt.Errorf("requests: %s from %s: %w", t.action, current.Status, shared.ErrInvalidTransition)
	}
	now := s.now()
	if t.guard != nil {
		if err := t.guard(ctx, current, now); err != nil {
			return current, err
		}
	}
	details := map[string]any{"from": string(current.Status), "to": string(t.to)}
	maps.Copy(details, t.details)
	effected := false
	if t.effect != nil {
		extra, err := t.effect(ctx, current)
		if err != nil {
			s.recordFailure(ctx, actor, t.action, audit.TargetRequest, current.ID, err)
			s.observe(t.action, err)
			return current, fmt.Errorf("requests: %s: %w", t.action, err)
		}
		maps.Copy(details, extra)
		effected = true
	}

	next := current
	t.mutate(&next, now)
	next.Status = t.to
	next.Version = current.Version + 1

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateState(ctx, next, current.Version); err != nil {
			return err
		}
		_, err := tx.AppendAudit(ctx, audit.Entry{
			At:         now,
			Actor:      actor.ID,
			Action:     t.action,
			TargetType: audit.TargetRequest,
			TargetID:   next.ID,
			Outcome:    audit.OutcomeSuccess,
			Details:    details,
		})
		return err
	})
	s.observe(t.action, err)
	if err != nil {
		if effected && errors.Is(err, shared.ErrConcurrency) {
			s.reconcile(ctx, actor, current, t.action, err)
		}
		return current, err
	}
	s.logger.Info("request transitioned",
		slog.String("request_id", next.ID),
		slog.String("action", t.action),
		slog.String("status", string(next.Status)),
		slog.String("level", string(next.CurrentLevel)),
	)
	if t.events != nil {
		s.publish(ctx, t.events(next, now)...)
	}
	return next, nil
}

func (s *Service) observe(action string, err error) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveTransition(action, outcomeOf(err))
}

func outcomeOf(err error) string {
	var perr *provider.Error
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, shared.ErrConcurrency):
		return "conflict"
	case errors.As(err, &perr):
		return "provider_" + string(perr.Kind)
	default:
		return "error"
	}
}

// renewed reports whether a newer ACTIVE grant at Editor or above exists.
func (s *Service) renewed(ctx context.Context, req PermissionRequest) (bool, error) {
	others, err := s.repo.ActiveFor(ctx, req.RequesterID, req.ResourceID)
	if err != nil {
		return false, err
	}
	for _, other := range others {
		if other.ID == req.ID || other.DecidedAt == nil {
			continue
		}
		if other.DecidedAt.After(*req.DecidedAt) && other.CurrentLevel.Rank() >= authority.LevelEditor.Rank() {
			return true, nil
		}
	}
	return false, nil
}

// retainedLevel returns the highest level held by other ACTIVE grants for the
// same requester and resource.
func (s *Service) retainedLevel(ctx context.Context, req PermissionRequest) (authority.Level, error) {
	others, err := s.repo.ActiveFor(ctx, req.RequesterID, req.ResourceID)
	if err != nil {
		return "", err
	}
	var best authority.Level
	for _, other := range others {
		if other.ID == req.ID {
			continue
		}
		if other.CurrentLevel.Rank() > best.Rank() {
			best = other.CurrentLevel
		}
	}
	return best, nil
}

// bindingLevel returns the level the provider binding must hold when req moves
// to level: the higher of level and any other ACTIVE grant on the same pair.
func (s *Service) bindingLevel(ctx context.Context, req PermissionRequest, level authority.Level) (authority.Level, error) {
	retained, err := s.retainedLevel(ctx, req)
	if err != nil {
		return "", err
	}
	if retained.Rank() > level.Rank() {
		return retained, nil
	}
	return level, nil
}

// reconcile runs when a transition lost the version race after its external
// call succeeded. The binding is put back to what committed state implies and
// the attempt is audited as failed.
func (s *Service) reconcile(ctx context.Context, actor shared.Actor, current PermissionRequest, action string, cause error) {
	ctx = context.WithoutCancel(ctx)
	logger := s.logger.With(slog.String("request_id", current.ID), slog.String("action", action))
	fresh, err := s.repo.Get(ctx, current.ID)
	if err != nil {
		logger.Error("reconcile: reload request", slog.Any("error", err))
		return
	}
	level, err := s.retainedLevel(ctx, fresh)
	if err != nil {
		logger.Error("reconcile: load other grants", slog.Any("error", err))
		return
	}
	if fresh.Status == StatusActive && fresh.CurrentLevel.Rank() >= level.Rank() {
		level = fresh.CurrentLevel
	}

	details := map[string]any{
		"error":             cause.Error(),
		"committed_status":  string(fresh.Status),
		"committed_version": fresh.Version,
	}
	var result provider.Result
	if level == "" {
		result, err = s.grants.Revoke(ctx, fresh.ResourceID, fresh.RequesterEmail)
		details["reconciled"] = "revoked"
	} else {
		result, err = s.grants.Update(ctx, fresh.ResourceID, fresh.RequesterEmail, level)
		details["reconciled"] = string(level)
	}
	details["noop"] = result.NoOp
	if err != nil {
		details["reconcile_error"] = err.Error()
		logger.Error("reconcile binding after lost update", slog.Any("error", err))
	} else {
		logger.Warn("binding reconciled after lost update", slog.String("status", string(fresh.Status)), slog.Any("reconciled", details["reconciled"]))
	}
	s.appendStandalone(ctx, audit.Entry{
		At:         s.now(),
		Actor:      actor.ID,
		Action:     action,
		TargetType: audit.TargetRequest,
		TargetID:   current.ID,
		Outcome:    audit.OutcomeFailed,
		Details:    details,
	})
}

func (s *Service) expiryFor(req PermissionRequest, decidedAt time.Time) time.Time {
	duration := s.cfg.AccessDuration
	if req.DurationHours > 0 {
		if requested := time.Duration(req.DurationHours) * time.Hour; requested < duration {
			duration = requested
		}
	}
	return decidedAt.Add(duration)
}

func (s *Service) approvalEvent(req PermissionRequest, now time.Time) notify.Event {
	return s.event(notify.ApprovalType(req.CurrentLevel), req, now, "")
}

func (s *Service) event(kind notify.Type, req PermissionRequest, now time.Time, notes string) notify.Event {
	evt := notify.Event{
		Type:        kind,
		TargetID:    req.ID,
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		ResourceID:  req.ResourceID,
		Level:       req.CurrentLevel,
		Notes:       notes,
		OccurredAt:  now,
	}
	if evt.Level == "" {
		evt.Level = req.RequestedLevel
	}
	if req.ExpiryAt != nil {
		evt.Data = map[string]any{"expiry_at": req.ExpiryAt.Format(time.RFC3339)}
	}
	return evt
}

func (s *Service) publish(ctx context.Context, events ...notify.Event) {
	if s.publisher == nil || len(events) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		s.logger.Error("publish notification events", slog.Int("count", len(events)), slog.Any("error", err))
	}
}

// deny records a refused attempt as a denied audit entry and returns the error.
func (s *Service) deny(ctx context.Context, actor shared.Actor, action, targetType, targetID, reason string) error {
	s.appendStandalone(ctx, audit.Entry{
		At:         s.now(),
		Actor:      actor.ID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Outcome:    audit.OutcomeDenied,
		Details:    map[string]any{"reason": reason, "role": string(actor.Role)},
	})
	s.logger.Warn("request action denied", slog.String("actor", actor.ID), slog.String("action", action), slog.String("target_id", targetID), slog.String("reason", reason))
	return shared.NewAuthorizationError(actor.ID, action, reason)
}

func (s *Service) recordFailure(ctx context.Context, actor shared.Actor, action, targetType, targetID string, cause error) {
	s.appendStandalone(ctx, audit.Entry{
		At:         s.now(),
		Actor:      actor.ID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Outcome:    audit.OutcomeFailed,
		Details:    map[string]any{"error": cause.Error(), "class": string(provider.Classify(cause))},
	})
}

func (s *Service) appendStandalone(ctx context.Context, entry audit.Entry) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := tx.AppendAudit(ctx, entry)
		return err
	})
	if err != nil {
		s.logger.Error("append audit entry", slog.String("action", entry.Action), slog.Any("error", err))
	}
}
