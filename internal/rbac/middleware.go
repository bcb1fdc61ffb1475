// Package rbac resolves the calling principal and gates routes by role.
package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-access/internal/authority"
	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// PrincipalHeader carries the principal id set by the upstream gateway.
const PrincipalHeader = "X-Principal-ID"

// ErrInactive indicates the principal exists but may not act.
var ErrInactive = errors.New("rbac: principal inactive")

// Lookup resolves a principal id into an authorization context.
type Lookup func(ctx context.Context, id string) (shared.Actor, bool, error)

// Middleware wires authorization helpers for HTTP handlers.
type Middleware struct {
	Lookup Lookup
	Logger *slog.Logger
}

// Authenticate loads the actor named by PrincipalHeader into the request context.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(PrincipalHeader))
		if id == "" {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		actor, active, err := m.Lookup(r.Context(), id)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if m.Logger != nil {
				m.Logger.Error("rbac lookup principal", slog.String("principal_id", id), slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
		if !active {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", ErrInactive.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}

// RequireRole ensures the current actor ranks at or above min.
func (m Middleware) RequireRole(min authority.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if actor.Role.Rank() < min.Rank() {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "required role: "+min.DisplayName())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CurrentActor returns the actor stored by Authenticate.
func CurrentActor(r *http.Request) (shared.Actor, bool) {
	return shared.ActorFromContext(r.Context())
}
