package fetch_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"taxsale/internal/adapters/fetch"
	"taxsale/internal/domain"
)

func newClient() *fetch.Client {
	return fetch.NewClient("test", fetch.Options{Timeout: 2 * time.Second, RPS: 100}) // high RPS for tests
}

func TestAssessments_RetriesThenSuccess(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/property/00254118" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		switch atomic.AddInt32(&hits, 1) {
		case 1:
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			// transient failure
			w.WriteHeader(http.StatusBadGateway)
		default:
			fmt.Fprint(w, "<html><body>Living Units 1</body></html>")
		}
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	page, err := fetch.NewAssessments(newClient(), ts.URL+"/").FetchAssessment(ctx, "00254118")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if page != "<html><body>Living Units 1</body></html>" {
		t.Fatalf("unexpected page: %q", page)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("expected 3 calls due to retries, got %d", hits)
	}
}

func TestClient_RetriesRespectRateLimit(t *testing.T) {
	var (
		hits  int32
		times [2]time.Time
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n <= 2 {
			times[n-1] = time.Now()
		}
		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "Living Units 1")
	}))
	defer ts.Close()

	// one request every 2s; the retry backoff alone is well under that
	c := fetch.NewClient("geocoder", fetch.Options{Timeout: 2 * time.Second, RPS: 0.5})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := fetch.NewAssessments(c, ts.URL+"/").FetchAssessment(ctx, "00254118"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected 2 calls, got %d", hits)
	}
	if gap := times[1].Sub(times[0]); gap < 1500*time.Millisecond {
		t.Fatalf("retry bypassed the rate limit: gap %v", gap)
	}
}

func TestAssessments_ErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{"404", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) }, domain.ErrNotFound},
		{"403", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) }, domain.ErrTransport},
		{"503 exhausted", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
		}, domain.ErrTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(tc.handler)
			defer ts.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := fetch.NewAssessments(newClient(), ts.URL).FetchAssessment(ctx, "1")
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
		})
	}
}

func TestAssessments_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := fetch.NewAssessments(newClient(), ts.URL).FetchAssessment(ctx, "1")
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("timeout should be a transport failure, got %v", err)
	}
}

func TestBoundaries(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("f") != "json" || r.URL.Query().Get("outSR") != "4326" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		switch r.URL.Query().Get("where") {
		case "PID='85006500'":
			fmt.Fprint(w, `{"features":[{"attributes":{"PID":"85006500"},"geometry":{"rings":[[[-60.71,46.09],[-60.69,46.09],[-60.69,46.11],[-60.71,46.11],[-60.71,46.09]]]}}]}`)
		case "PID='99999999'":
			fmt.Fprint(w, `{"error":{"code":500,"message":"Unable to complete operation."}}`)
		default:
			fmt.Fprint(w, `{"features":[]}`)
		}
	}))
	defer ts.Close()
	b := fetch.NewBoundaries(newClient(), ts.URL)
	ctx := context.Background()

	res, err := b.LookupBoundary(ctx, "85006500")
	if err != nil || !res.Found || len(res.Polygon) != 5 {
		t.Fatalf("found: %+v err=%v", res, err)
	}
	if res.Polygon[0] != (domain.Point{46.09, -60.71}) {
		t.Fatalf("points must be lat,lon: %v", res.Polygon[0])
	}

	res, err = b.LookupBoundary(ctx, "11111111")
	if err != nil || res.Found {
		t.Fatalf("missing parcel: %+v err=%v", res, err)
	}

	if _, err = b.LookupBoundary(ctx, "99999999"); !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("service error: %v", err)
	}
}

func TestGeocoder(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("q") {
		case "45 Shore Rd, Baddeck, Nova Scotia, Canada":
			fmt.Fprint(w, `[{"lat":"46.1001","lon":"-60.7502","display_name":"45 Shore Rd"}]`)
		case "garbage, Nova Scotia, Canada":
			fmt.Fprint(w, `{"oops":true}`)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	defer ts.Close()
	g := fetch.NewGeocoder(newClient(), ts.URL, "Nova Scotia, Canada")
	ctx := context.Background()

	p, err := g.Geocode(ctx, "45 Shore Rd, Baddeck")
	if err != nil || p != (domain.Point{46.1001, -60.7502}) {
		t.Fatalf("geocode: %v err=%v", p, err)
	}
	if _, err := g.Geocode(ctx, "nowhere"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("not found: %v", err)
	}
	if _, err := g.Geocode(ctx, "garbage"); !errors.Is(err, domain.ErrFormat) {
		t.Fatalf("format: %v", err)
	}
}

func TestDocuments_DiscoversLinkedNotice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/finance/tax-sale", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>
<a href="/files/budget-2026.pdf">Budget</a>
<a href="/files/Tax-Sale-Notice-Oct-2026.pdf">October Tax Sale</a>
</body></html>`)
	})
	mux.HandleFunc("/files/Tax-Sale-Notice-Oct-2026.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.4 fake")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	d := fetch.NewDocuments(newClient())
	src := domain.MunicipalitySourceConfig{ID: 1, BaseURL: ts.URL + "/finance/tax-sale", DocumentPatterns: []string{`tax[-_ ]sale.*\.pdf$`}}
	doc, err := d.FetchDocument(context.Background(), src)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if doc.URL != ts.URL+"/files/Tax-Sale-Notice-Oct-2026.pdf" || doc.ContentType != "application/pdf" {
		t.Fatalf("doc: %s %s", doc.URL, doc.ContentType)
	}

	src.DocumentPatterns = []string{`\.xlsx$`}
	if _, err := d.FetchDocument(context.Background(), src); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	// a page without patterns is itself the document
	src.DocumentPatterns = nil
	doc, err = d.FetchDocument(context.Background(), src)
	if err != nil || doc.ContentType != "text/html" {
		t.Fatalf("page as document: %v %v", doc.ContentType, err)
	}
}
