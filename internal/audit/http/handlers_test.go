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

	"github.com/projectdesk/projectdesk/internal/audit"
	"github.com/projectdesk/projectdesk/internal/shared"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(_ context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(_ context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.lastFilters = filters
	return s.exportRows, nil
}

func newAuditRouter(service *stubTimelineService) http.Handler {
	h := NewHandler(nil, service)
	h.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/admin", h.MountRoutes)
	return r
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req = req.WithContext(shared.ContextWithIdentity(req.Context(), shared.Identity{UserID: 1, Status: "approved"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestTimelineDefaultsToLastWeek(t *testing.T) {
	service := &stubTimelineService{result: audit.Result{Rows: []audit.TimelineRow{{ID: 1, Action: "project.create"}}, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	rec := get(newAuditRouter(service), "/admin/audit?entity=project&actor_id=4")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	f := service.lastFilters
	if !f.To.Equal(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)) || !f.From.Equal(time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected range %s - %s", f.From, f.To)
	}
	if f.Entity != "project" || f.ActorID != 4 {
		t.Fatalf("unexpected filters %+v", f)
	}
	var body audit.Result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Rows) != 1 || body.Rows[0].Action != "project.create" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	router := newAuditRouter(&stubTimelineService{})
	for _, q := range []string{
		"from=2026-03-10&to=2026-03-01",
		"from=2025-01-01&to=2026-03-01",
		"to=yesterday",
		"page=0",
		"page_size=abc",
		"actor_id=-3",
	} {
		if rec := get(router, "/admin/audit?"+q); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestExportCSV(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.TimelineRow{{ID: 9, At: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), ActorID: 2, Action: "user.status", Entity: "user", EntityID: "3"}}}
	rec := get(newAuditRouter(service), "/admin/audit/export.csv?from=2026-03-01&to=2026-03-02")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "9,2026-03-01T00:00:00Z,2,user.status,user,3,") {
		t.Fatalf("unexpected csv %q", rec.Body.String())
	}
}
