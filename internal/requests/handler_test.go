package requests_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/requests"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

func newTestRouter(h *harness) http.Handler {
	actors := map[string]shared.Actor{}
	for _, actor := range []shared.Actor{requester, viewerUser, admin, superAdmin} {
		actors[actor.ID] = actor
	}
	mw := rbac.Middleware{Lookup: func(_ context.Context, id string) (shared.Actor, bool, error) {
		actor, ok := actors[id]
		if !ok {
			return shared.Actor{}, false, shared.ErrNotFound
		}
		return actor, true, nil
	}}
	r := chi.NewRouter()
	r.Route("/requests", func(r chi.Router) {
		r.Use(mw.Authenticate)
		requests.NewHandler(nil, h.svc).MountRoutes(r)
	})
	return r
}

func doJSON(t *testing.T, handler http.Handler, method, path, principal, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if principal != "" {
		req.Header.Set(rbac.PrincipalHeader, principal)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreateAndDecide(t *testing.T) {
	h := newHarness(t)
	router := newTestRouter(h)

	rec := doJSON(t, router, http.MethodPost, "/requests", requester.ID, `{"resource_id":"R123","level":"administrator"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created requests.PermissionRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, requests.StatusPending, created.Status)

	rec = doJSON(t, router, http.MethodPost, "/requests/"+created.ID+"/decision", admin.ID, `{"decision":"approve"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "required approver: Super Admin", problem.Detail)

	rec = doJSON(t, router, http.MethodPost, "/requests/"+created.ID+"/decision", superAdmin.ID, `{"decision":"approve"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/requests/"+created.ID+"/decision", superAdmin.ID, `{"decision":"reject"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	router := newTestRouter(h)

	cases := []struct {
		name      string
		principal string
		method    string
		path      string
		body      string
		want      int
	}{
		{"missing principal", "", http.MethodGet, "/requests", "", http.StatusUnauthorized},
		{"unknown principal", "ghost", http.MethodGet, "/requests", "", http.StatusUnauthorized},
		{"unknown level", requester.ID, http.MethodPost, "/requests", `{"resource_id":"R123","level":"analyst"}`, http.StatusBadRequest},
		{"missing resource", requester.ID, http.MethodPost, "/requests", `{"level":"viewer"}`, http.StatusBadRequest},
		{"malformed body", requester.ID, http.MethodPost, "/requests", `{`, http.StatusBadRequest},
		{"overlong duration", requester.ID, http.MethodPost, "/requests", `{"resource_id":"R123","level":"viewer","duration_hours":90000}`, http.StatusBadRequest},
		{"negative duration", requester.ID, http.MethodPost, "/requests", `{"resource_id":"R123","level":"viewer","duration_hours":-1}`, http.StatusBadRequest},
		{"bad decision", admin.ID, http.MethodPost, "/requests/x/decision", `{"decision":"maybe"}`, http.StatusBadRequest},
		{"unknown request", admin.ID, http.MethodGet, "/requests/nope", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, tc.method, tc.path, tc.principal, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandlerListReturnsPage(t *testing.T) {
	h := newHarness(t)
	router := newTestRouter(h)

	rec := doJSON(t, router, http.MethodPost, "/requests", requester.ID, `{"resource_id":"R123","level":"viewer"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/requests?status=ACTIVE", admin.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Items []requests.PermissionRequest `json:"items"`
		Total int                          `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	require.Len(t, body.Items, 1)
	assert.Equal(t, "R123", body.Items[0].ResourceID)
}
