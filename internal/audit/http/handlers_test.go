package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-access/internal/audit"
	"github.com/odyssey-erp/odyssey-access/internal/authority"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.Entry
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.Entry, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

func newAuditHandler(service *stubTimelineService) *Handler {
	handler := NewHandler(nil, service)
	handler.now = func() time.Time { return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC) }
	return handler
}

func withActor(req *http.Request, role authority.Role) *http.Request {
	actor := shared.Actor{ID: "u-7", Role: role}
	return req.WithContext(shared.ContextWithActor(req.Context(), actor))
}

func TestTimelineRequiresAdmin(t *testing.T) {
	handler := newAuditHandler(&stubTimelineService{})
	req := withActor(httptest.NewRequest(http.MethodGet, "/audit", nil), authority.RoleViewer)
	rr := httptest.NewRecorder()
	handler.handleTimeline(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.handleTimeline(rr, httptest.NewRequest(http.MethodGet, "/audit", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestTimelineReturnsRows(t *testing.T) {
	rows := []audit.Entry{{ID: 1, At: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), Actor: "u-super", Action: "request.approve", TargetType: audit.TargetRequest, TargetID: "r1", Outcome: audit.OutcomeSuccess}}
	service := &stubTimelineService{result: audit.Result{Rows: rows, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	handler := newAuditHandler(service)
	req := withActor(httptest.NewRequest(http.MethodGet, "/audit?from=2024-03-01&to=2024-03-15&target_id=r1", nil), authority.RoleAdmin)
	rr := httptest.NewRecorder()
	handler.handleTimeline(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body audit.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Rows) != 1 || body.Rows[0].Actor != "u-super" {
		t.Fatalf("unexpected rows: %+v", body.Rows)
	}
	if service.lastFilters.From.Format("2006-01-02") != "2024-03-01" || service.lastFilters.TargetID != "r1" {
		t.Fatalf("unexpected filters: %+v", service.lastFilters)
	}
	if !service.lastFilters.To.After(time.Date(2024, 3, 15, 23, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected inclusive end of day, got %s", service.lastFilters.To)
	}
}

func TestTimelineRejectsBadRange(t *testing.T) {
	handler := newAuditHandler(&stubTimelineService{})
	for _, query := range []string{"from=2024-03-10&to=2024-03-01", "to=15-03-2024", "page=0", "from=2023-01-01&to=2024-03-01"} {
		req := withActor(httptest.NewRequest(http.MethodGet, "/audit?"+query, nil), authority.RoleSuperAdmin)
		rr := httptest.NewRecorder()
		handler.handleTimeline(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestExportCSV(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.Entry{{ID: 3, Actor: "system", Action: "request.expire", Outcome: audit.OutcomeSuccess}}}
	handler := newAuditHandler(service)
	req := withActor(httptest.NewRequest(http.MethodGet, "/audit/export.csv?from=2024-03-01&to=2024-03-05", nil), authority.RoleAdmin)
	rr := httptest.NewRecorder()
	handler.handleExport(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ctype := rr.Header().Get("Content-Type"); !strings.Contains(ctype, "text/csv") {
		t.Fatalf("unexpected content-type: %s", ctype)
	}
	if !strings.Contains(rr.Body.String(), "request.expire") {
		t.Fatalf("expected row in csv: %s", rr.Body.String())
	}
}

func TestTargetHistoryUsesPathAndWideWindow(t *testing.T) {
	service := &stubTimelineService{result: audit.Result{Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	handler := newAuditHandler(service)
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, withActor(r, authority.RoleAdmin))
		})
	})
	router.Route("/audit", handler.MountRoutes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit/targets/request/r-42", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if service.lastFilters.TargetType != "request" || service.lastFilters.TargetID != "r-42" {
		t.Fatalf("unexpected target filters: %+v", service.lastFilters)
	}
	if span := service.lastFilters.To.Sub(service.lastFilters.From); span < 89*24*time.Hour {
		t.Fatalf("expected 90 day window, got %s", span)
	}
	if !strings.Contains(rr.Body.String(), `"rows":[]`) {
		t.Fatalf("expected empty rows array: %s", rr.Body.String())
	}
}

func TestExportRateLimitRespondsWithProblem(t *testing.T) {
	handler := newAuditHandler(&stubTimelineService{})
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, withActor(r, authority.RoleAdmin))
		})
	})
	router.Route("/audit", handler.MountRoutes)

	var last *httptest.ResponseRecorder
	for i := 0; i <= rateLimit; i++ {
		last = httptest.NewRecorder()
		router.ServeHTTP(last, httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil))
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d exports, got %d", rateLimit, last.Code)
	}
	if ctype := last.Header().Get("Content-Type"); !strings.Contains(ctype, "problem+json") {
		t.Fatalf("unexpected content-type: %s", ctype)
	}
}
