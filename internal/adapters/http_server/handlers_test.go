package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"taxsale/internal/app"
	"taxsale/internal/domain"
)

type stubReader struct {
	recs    map[string]domain.PropertyRecord
	lastQ   domain.PropertyQuery
	listErr error
}

func (s *stubReader) GetProperty(_ context.Context, aan string) (domain.PropertyRecord, error) {
	r, ok := s.recs[aan]
	if !ok {
		return domain.PropertyRecord{}, fmt.Errorf("property %s: %w", aan, domain.ErrNotFound)
	}
	return r, nil
}

func (s *stubReader) ListProperties(_ context.Context, q domain.PropertyQuery) (domain.PropertyPage, error) {
	s.lastQ = q
	if s.listErr != nil {
		return domain.PropertyPage{}, s.listErr
	}
	var out []domain.PropertyRecord
	for _, r := range s.recs {
		out = append(out, r)
	}
	next := "00254118"
	return domain.PropertyPage{Items: out, NextCursor: &next}, nil
}

type stubRuns struct {
	err     error
	started []int64
	refresh bool
}

func (s *stubRuns) Start(_ context.Context, id int64, opts app.RunOptions) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.started = append(s.started, id)
	s.refresh = opts.Refresh
	return "run-1", nil
}

func newTestServer(r *stubReader, runs *stubRuns) http.Handler {
	s := New(0)
	h := &Handlers{Q: r}
	if runs != nil {
		h.Runs = runs
	}
	s.MountHandlers(h)
	return s.Mux()
}

func do(t *testing.T, h http.Handler, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func sampleReader() *stubReader {
	return &stubReader{recs: map[string]domain.PropertyRecord{
		"00254118": {
			AssessmentNumber: "00254118",
			MunicipalityName: "Victoria County",
			OwnerName:        domain.Ptr("Donald John Beaton"),
			Status:           domain.StatusActive,
			PropertyDetails:  domain.Details{"living_units": 1, "garage": "N"},
		},
	}}
}

func TestGetProperty_OKAndETag(t *testing.T) {
	h := newTestServer(sampleReader(), nil)

	rr := do(t, h, http.MethodGet, "/v1/properties/00254118", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	var got domain.PropertyRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.AssessmentNumber != "00254118" || got.PropertyDetails["garage"] != "N" {
		t.Fatalf("body: %+v", got)
	}
	etag := rr.Header().Get("ETag")
	if !strings.HasPrefix(etag, `W/"`) {
		t.Fatalf("etag: %q", etag)
	}

	rr = do(t, h, http.MethodGet, "/v1/properties/00254118", map[string]string{"If-None-Match": etag})
	if rr.Code != http.StatusNotModified || rr.Body.Len() != 0 {
		t.Fatalf("expected 304, got %d", rr.Code)
	}
}

func TestGetProperty_NotFoundIsProblem(t *testing.T) {
	rr := do(t, newTestServer(sampleReader(), nil), http.MethodGet, "/v1/properties/99999999", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type %q", ct)
	}
	var p problem
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil || p.Status != 404 {
		t.Fatalf("problem body: %+v err=%v", p, err)
	}
}

func TestListProperties_Filters(t *testing.T) {
	r := sampleReader()
	h := newTestServer(r, nil)

	rr := do(t, h, http.MethodGet, "/v1/properties?municipality=Victoria%20County&status=ACTIVE&limit=20&cursor=00000001", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	q := r.lastQ
	if q.Municipality == nil || *q.Municipality != "Victoria County" || q.Status == nil || *q.Status != domain.StatusActive {
		t.Fatalf("filters: %+v", q)
	}
	if q.Limit != 20 || q.Cursor == nil || *q.Cursor != "00000001" {
		t.Fatalf("paging: %+v", q)
	}
	var page propertyPage
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.NextCursor == nil {
		t.Fatalf("page: %+v", page)
	}

	do(t, h, http.MethodGet, "/v1/properties", nil)
	if r.lastQ.Limit != defaultListLimit || r.lastQ.Status != nil || r.lastQ.Municipality != nil {
		t.Fatalf("defaults: %+v", r.lastQ)
	}
}

func TestListProperties_RejectsBadInput(t *testing.T) {
	h := newTestServer(sampleReader(), nil)
	for _, target := range []string{
		"/v1/properties?status=pending",
		"/v1/properties?limit=0",
		"/v1/properties?limit=501",
		"/v1/properties?limit=ten",
	} {
		if rr := do(t, h, http.MethodGet, target, nil); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d", target, rr.Code)
		}
	}
}

func TestListProperties_EmptyIsArray(t *testing.T) {
	h := newTestServer(&stubReader{}, nil)
	rr := do(t, h, http.MethodGet, "/v1/properties", nil)
	if !strings.Contains(rr.Body.String(), `"items":[]`) {
		t.Fatalf("body: %s", rr.Body.String())
	}
}

func TestListProperties_StoreFailure(t *testing.T) {
	r := &stubReader{listErr: fmt.Errorf("list: %w", domain.ErrTransport)}
	rr := do(t, newTestServer(r, nil), http.MethodGet, "/v1/properties", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", rr.Code)
	}
}

func TestStartRun(t *testing.T) {
	runs := &stubRuns{}
	h := newTestServer(sampleReader(), runs)

	rr := do(t, h, http.MethodPost, "/v1/sources/7/runs?refresh=true", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	var acc runAccepted
	if err := json.Unmarshal(rr.Body.Bytes(), &acc); err != nil {
		t.Fatal(err)
	}
	if acc.RunID != "run-1" || acc.SourceID != 7 || len(runs.started) != 1 || !runs.refresh {
		t.Fatalf("accepted=%+v runs=%+v", acc, runs)
	}

	if rr := do(t, h, http.MethodPost, "/v1/sources/abc/runs", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", rr.Code)
	}
}

func TestStartRun_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("source 1: %w: disabled", domain.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("source 1: %w: run in progress", domain.ErrConflict), http.StatusConflict},
	}
	for _, tc := range cases {
		h := newTestServer(sampleReader(), &stubRuns{err: tc.err})
		if rr := do(t, h, http.MethodPost, "/v1/sources/1/runs", nil); rr.Code != tc.want {
			t.Fatalf("%v: status %d want %d", tc.err, rr.Code, tc.want)
		}
	}
}

func TestRunRouteAbsentWithoutTrigger(t *testing.T) {
	rr := do(t, newTestServer(sampleReader(), nil), http.MethodPost, "/v1/sources/1/runs", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status %d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	rr := do(t, newTestServer(sampleReader(), nil), http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rr.Code, rr.Body.String())
	}
}

func TestRemoteIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	if got := remoteIP(req); got != "10.0.0.9" {
		t.Fatalf("remote addr: %q", got)
	}
	req.Header.Set("X-Real-IP", "192.0.2.4")
	if got := remoteIP(req); got != "192.0.2.4" {
		t.Fatalf("x-real-ip: %q", got)
	}
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if got := remoteIP(req); got != "198.51.100.7" {
		t.Fatalf("x-forwarded-for: %q", got)
	}
}
