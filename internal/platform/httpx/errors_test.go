package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/provider"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", shared.NewValidationError("level", "unknown"), http.StatusBadRequest},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized},
		{"authorization", shared.NewAuthorizationError("u1", "request.approve", "required approver: Super Admin"), http.StatusForbidden},
		{"not found", fmt.Errorf("requests: get: %w", shared.ErrNotFound), http.StatusNotFound},
		{"concurrency", shared.ErrConcurrency, http.StatusConflict},
		{"invalid transition", shared.ErrInvalidTransition, http.StatusConflict},
		{"provider not found", provider.NewError(provider.KindNotFound, "grant", errors.New("unknown")), http.StatusUnprocessableEntity},
		{"provider transient", provider.NewError(provider.KindTransient, "grant", errors.New("503")), http.StatusServiceUnavailable},
		{"provider denied", provider.NewError(provider.KindPermissionDenied, "grant", nil), http.StatusBadGateway},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tc.err)
			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
			var problem ProblemDetail
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			assert.Equal(t, tc.want, problem.Status)
		})
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("pq: password authentication failed"))
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestDecodeJSONRejectsOversizedBody(t *testing.T) {
	body := `{"notes":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var target struct {
		Notes string `json:"notes"`
	}
	assert.Error(t, DecodeJSON(req, &target))
}

func TestValidateReportsFirstField(t *testing.T) {
	type payload struct {
		Decision string `json:"decision" validate:"required,oneof=approve reject"`
	}
	err := Validate(validator.New(), payload{Decision: "maybe"})
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Contains(t, err.Error(), "Decision")
}
