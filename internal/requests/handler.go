package requests

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Handler exposes the request lifecycle over JSON.
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

// MountRoutes registers request routes; callers mount them behind rbac.Authenticate.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/decision", h.decide)
}

type createPayload struct {
	ResourceID    string `json:"resource_id" validate:"required,max=128"`
	Level         string `json:"level" validate:"required"`
	Notes         string `json:"notes" validate:"max=2000"`
	DurationHours int    `json:"duration_hours" validate:"gte=0,max=87600"`
}

type decisionPayload struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Notes    string `json:"notes" validate:"max=2000"`
}

type listResponse struct {
	Items      []PermissionRequest `json:"items"`
	Page       int                 `json:"page"`
	PerPage    int                 `json:"per_page"`
	Total      int                 `json:"total"`
	TotalPages int                 `json:"total_pages"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.CurrentActor(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var payload createPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "malformed JSON"))
		return
	}
	if err := httpx.Validate(h.validator, payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.service.Create(r.Context(), actor, CreateInput{
		ResourceID:    payload.ResourceID,
		Level:         payload.Level,
		Notes:         payload.Notes,
		DurationHours: payload.DurationHours,
	})
	if err != nil {
		h.fail(w, "create request", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, req)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.CurrentActor(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var payload decisionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "malformed JSON"))
		return
	}
	if err := httpx.Validate(h.validator, payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.service.Decide(r.Context(), actor, chi.URLParam(r, "id"), Decision(payload.Decision), payload.Notes)
	if err != nil {
		h.fail(w, "decide request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.CurrentActor(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	req, err := h.service.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.CurrentActor(r)
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	q := r.URL.Query()
	filter := ListFilter{
		Status:      Status(q.Get("status")),
		RequesterID: q.Get("requester_id"),
		ResourceID:  q.Get("resource_id"),
		Page:        atoiDefault(q.Get("page"), 1),
		PerPage:     atoiDefault(q.Get("per_page"), 20),
	}
	items, page, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, "list requests", err)
		return
	}
	if items == nil {
		items = []PermissionRequest{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{
		Items:      items,
		Page:       page.Page,
		PerPage:    page.PerPage,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !shared.IsValidation(err) && !shared.IsAuthorization(err) {
		h.logger.Warn(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func atoiDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
