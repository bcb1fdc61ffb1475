package scheduler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
)

// Trigger queues an on-demand sweep and returns the task id.
type Trigger interface {
	EnqueueSweep(ctx context.Context) (string, error)
}

// Handler exposes the manual sweep trigger.
type Handler struct {
	trigger Trigger
	logger  *slog.Logger
}

// NewHandler builds Handler instance.
func NewHandler(trigger Trigger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{trigger: trigger, logger: logger}
}

// MountRoutes registers the trigger; callers restrict it to administrators.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.enqueue)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	id, err := h.trigger.EnqueueSweep(r.Context())
	if err != nil {
		h.logger.Error("enqueue sweep", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}
