package clients

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Handler exposes assignment and resource management.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers the routes; callers mount them behind rbac.Authenticate.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/assignments", func(r chi.Router) {
		r.Post("/", h.createAssignment)
		r.Patch("/{id}", h.updateAssignment)
		r.Delete("/{id}", h.deleteAssignment)
	})
	r.Route("/resources", func(r chi.Router) {
		r.Get("/", h.listResources)
		r.Delete("/{id}", h.deleteResource)
	})
}

type assignmentPayload struct {
	PrincipalID string     `json:"principal_id" validate:"required,max=128"`
	ResourceID  string     `json:"resource_id" validate:"required,max=128"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

type statusPayload struct {
	Status string `json:"status" validate:"required,oneof=active inactive suspended"`
}

func (h *Handler) createAssignment(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.CurrentActor(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var payload assignmentPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "malformed JSON"))
		return
	}
	if err := httpx.Validate(h.validator, payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	assignment, err := h.service.CreateAssignment(r.Context(), actor, CreateAssignmentInput{
		PrincipalID: payload.PrincipalID,
		ResourceID:  payload.ResourceID,
		ExpiresAt:   payload.ExpiresAt,
	})
	if err != nil {
		h.fail(w, "create assignment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, assignment)
}

func (h *Handler) updateAssignment(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.CurrentActor(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var payload statusPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "malformed JSON"))
		return
	}
	if err := httpx.Validate(h.validator, payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	assignment, err := h.service.SetAssignmentStatus(r.Context(), actor, chi.URLParam(r, "id"), AssignmentStatus(payload.Status))
	if err != nil {
		h.fail(w, "update assignment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignment)
}

func (h *Handler) deleteAssignment(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.CurrentActor(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	if err := h.service.DeleteAssignment(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.fail(w, "delete assignment", err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) deleteResource(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.CurrentActor(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	removed, err := h.service.DeleteResource(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "delete resource", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"assignments_removed": removed})
}

func (h *Handler) listResources(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.CurrentActor(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	principal, err := h.service.Principal(r.Context(), actor.ID)
	if err != nil {
		h.fail(w, "load principal", err)
		return
	}
	ids, err := h.service.AccessibleResources(r.Context(), principal)
	if err != nil {
		h.fail(w, "list resources", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"resource_ids": ids})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !shared.IsValidation(err) && !shared.IsAuthorization(err) {
		h.logger.Warn(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
