package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"taxsale/internal/domain"
)

// ---- fakes ----

// memRepo stores records as JSON like the SQL store does, so detail numbers come back
// as float64 and callers never share memory with stored state.
type memRepo struct {
	mu        sync.Mutex
	rows      map[string][]byte
	versions  map[string]int64
	conflicts map[string]int // forced update conflicts per key
	runs      []domain.RunSummary
	sources   []domain.MunicipalitySourceConfig
	updates   int
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[string][]byte{}, versions: map[string]int64{}, conflicts: map[string]int{}}
}

func (m *memRepo) InsertProperty(_ context.Context, p domain.PropertyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.AssessmentNumber]; ok {
		return domain.ErrConflict
	}
	b, _ := json.Marshal(p)
	m.rows[p.AssessmentNumber] = b
	m.versions[p.AssessmentNumber] = 1
	return nil
}

func (m *memRepo) UpdateProperty(_ context.Context, p domain.PropertyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts[p.AssessmentNumber] > 0 {
		m.conflicts[p.AssessmentNumber]--
		m.versions[p.AssessmentNumber]++ // someone else won
		return domain.ErrConflict
	}
	if m.versions[p.AssessmentNumber] != p.Version {
		return domain.ErrConflict
	}
	b, _ := json.Marshal(p)
	m.rows[p.AssessmentNumber] = b
	m.versions[p.AssessmentNumber]++
	m.updates++
	return nil
}

func (m *memRepo) SaveRun(_ context.Context, s domain.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, s)
	return nil
}

func (m *memRepo) GetProperty(_ context.Context, aan string) (domain.PropertyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[aan]
	if !ok {
		return domain.PropertyRecord{}, domain.ErrNotFound
	}
	var p domain.PropertyRecord
	_ = json.Unmarshal(b, &p)
	p.Version = m.versions[aan]
	return p, nil
}

func (m *memRepo) ListProperties(_ context.Context, q domain.PropertyQuery) (domain.PropertyPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PropertyRecord
	for _, b := range m.rows {
		var p domain.PropertyRecord
		_ = json.Unmarshal(b, &p)
		if q.Municipality != nil && p.MunicipalityName != *q.Municipality {
			continue
		}
		out = append(out, p)
	}
	return domain.PropertyPage{Items: out}, nil
}

func (m *memRepo) ListSources(context.Context) ([]domain.MunicipalitySourceConfig, error) {
	return m.sources, nil
}

func (m *memRepo) GetSource(_ context.Context, id int64) (domain.MunicipalitySourceConfig, error) {
	for _, s := range m.sources {
		if s.ID == id {
			return s, nil
		}
	}
	return domain.MunicipalitySourceConfig{}, domain.ErrNotFound
}

func (m *memRepo) get(aan string) domain.PropertyRecord {
	p, _ := m.GetProperty(context.Background(), aan)
	return p
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type fakeCache struct {
	mu      sync.Mutex
	store   map[string]any
	deleted []string
	flushed []string
	down    bool
}

func (c *fakeCache) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down || c.store == nil {
		return false, nil
	}
	v, ok := c.store[key]
	if !ok {
		return false, nil
	}
	switch d := dst.(type) {
	case *domain.PropertyRecord:
		*d = v.(domain.PropertyRecord)
	case *domain.PropertyPage:
		*d = v.(domain.PropertyPage)
	}
	return true, nil
}

func (c *fakeCache) Set(_ context.Context, key string, v any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return domain.ErrCacheUnavailable
	}
	if c.store == nil {
		c.store = map[string]any{}
	}
	c.store[key] = v
	return nil
}

func (c *fakeCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return domain.ErrCacheUnavailable
	}
	c.deleted = append(c.deleted, key)
	delete(c.store, key)
	return nil
}

func (c *fakeCache) FlushPattern(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return domain.ErrCacheUnavailable
	}
	c.flushed = append(c.flushed, prefix)
	for k := range c.store {
		if strings.HasPrefix(k, prefix) {
			delete(c.store, k)
		}
	}
	return nil
}

type fakeDocs struct {
	doc domain.Document
	err error
}

func (f *fakeDocs) FetchDocument(context.Context, domain.MunicipalitySourceConfig) (domain.Document, error) {
	return f.doc, f.err
}

type fakeAssessments struct {
	mu    sync.Mutex
	pages map[string]string
	calls int
}

func (f *fakeAssessments) FetchAssessment(_ context.Context, aan string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if p, ok := f.pages[aan]; ok {
		return p, nil
	}
	return "", fmt.Errorf("assessment %s: %w", aan, domain.ErrNotFound)
}

type fakeBoundary struct {
	polys map[string]domain.Polygon
	err   error
}

func (f *fakeBoundary) LookupBoundary(_ context.Context, pid string) (domain.BoundaryResult, error) {
	if f.err != nil {
		return domain.BoundaryResult{}, f.err
	}
	p, ok := f.polys[pid]
	return domain.BoundaryResult{Found: ok, Polygon: p}, nil
}

type fakeGeocoder struct {
	mu     sync.Mutex
	points map[string]domain.Point
	calls  []string
}

func (f *fakeGeocoder) Geocode(_ context.Context, address string) (domain.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, address)
	if p, ok := f.points[address]; ok {
		return p, nil
	}
	return domain.Point{}, domain.ErrNotFound
}

func ptr[T any](v T) *T { return &v }
func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func jsonOf(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}
