// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-access/internal/provider"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var validation *shared.ValidationError
	var authz *shared.AuthorizationError
	var perr *provider.Error
	switch {
	case errors.As(err, &validation):
		Problem(w, http.StatusBadRequest, "Validation Failed", validation.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.As(err, &authz):
		Problem(w, http.StatusForbidden, "Forbidden", authz.Reason)
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConcurrency):
		Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrInvalidTransition):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.As(err, &perr):
		respondProvider(w, perr)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func respondProvider(w http.ResponseWriter, perr *provider.Error) {
	switch perr.Kind {
	case provider.KindNotFound:
		Problem(w, http.StatusUnprocessableEntity, "Principal Not Registered", "the provider does not know this principal; an invitation is required")
	case provider.KindTransient:
		w.Header().Set("Retry-After", "30")
		Problem(w, http.StatusServiceUnavailable, "Provider Unavailable", string(perr.Kind))
	default:
		Problem(w, http.StatusBadGateway, "Provider Error", string(perr.Kind))
	}
}
