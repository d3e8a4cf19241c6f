package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taxsale/internal/domain"
)

// Cache key layout. Property entries are evicted one by one; every search page is
// flushed by prefix whenever any property changes.
const (
	propertyKeyPrefix = "property:"
	SearchKeyPrefix   = "search:"
)

func PropertyKey(aan string) string { return propertyKeyPrefix + aan }

func searchKey(q domain.PropertyQuery) string {
	var muni, status, cursor string
	if q.Municipality != nil {
		muni = *q.Municipality
	}
	if q.Status != nil {
		status = string(*q.Status)
	}
	if q.Cursor != nil {
		cursor = *q.Cursor
	}
	return fmt.Sprintf("%smuni=%s:status=%s:limit=%d:cursor=%s", SearchKeyPrefix, muni, status, q.Limit, cursor)
}

// QueryService serves reads through the cache; the repository stays the source of truth.
type QueryService struct {
	repo     domain.PropertyRepository
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewQueryService(r domain.PropertyRepository, c domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{repo: r, cache: c, cacheTTL: ttl}
}

func (s *QueryService) GetProperty(ctx context.Context, aan string) (domain.PropertyRecord, error) {
	key := PropertyKey(aan)
	var rec domain.PropertyRecord
	if ok, _ := s.cache.Get(ctx, key, &rec); ok {
		return rec, nil
	}
	rec, err := s.repo.GetProperty(ctx, aan)
	if err != nil {
		return domain.PropertyRecord{}, err
	}
	_ = s.cache.Set(ctx, key, rec, s.cacheTTL)
	return rec, nil
}

func (s *QueryService) ListProperties(ctx context.Context, q domain.PropertyQuery) (domain.PropertyPage, error) {
	key := searchKey(q)
	var out domain.PropertyPage
	if ok, _ := s.cache.Get(ctx, key, &out); ok {
		return out, nil
	}

	page, err := s.repo.ListProperties(ctx, q)
	if err != nil {
		return domain.PropertyPage{}, err
	}

	// copy slice to avoid aliasing the repo's backing array
	cp := domain.PropertyPage{NextCursor: page.NextCursor}
	if n := len(page.Items); n > 0 {
		cp.Items = make([]domain.PropertyRecord, n)
		copy(cp.Items, page.Items)
	}

	// optional size guard
	if b, _ := json.Marshal(cp); len(b) < 1_000_000 {
		_ = s.cache.Set(ctx, key, cp, s.cacheTTL)
	}
	return cp, nil
}

// invalidate evicts the given properties and every cached search page.
func invalidate(ctx context.Context, c domain.Cache, aans ...string) {
	if c == nil || len(aans) == 0 {
		return
	}
	for _, aan := range aans {
		_ = c.Del(ctx, PropertyKey(aan))
	}
	_ = c.FlushPattern(ctx, SearchKeyPrefix)
}
