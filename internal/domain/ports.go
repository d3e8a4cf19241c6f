package domain

import (
	"context"
	"time"
)

type PropertyRepository interface {
	// Write paths
	InsertProperty(ctx context.Context, p PropertyRecord) error
	// UpdateProperty writes p only if the stored version still equals p.Version; otherwise ErrConflict.
	UpdateProperty(ctx context.Context, p PropertyRecord) error
	SaveRun(ctx context.Context, s RunSummary) error

	// Read paths
	GetProperty(ctx context.Context, aan string) (PropertyRecord, error)
	ListProperties(ctx context.Context, q PropertyQuery) (PropertyPage, error)
	ListSources(ctx context.Context) ([]MunicipalitySourceConfig, error)
	GetSource(ctx context.Context, id int64) (MunicipalitySourceConfig, error)
}

type DocumentSource interface {
	FetchDocument(ctx context.Context, src MunicipalitySourceConfig) (Document, error)
}

// EnrichmentSource returns the assessment page for one property as plain text.
type EnrichmentSource interface {
	FetchAssessment(ctx context.Context, aan string) (string, error)
}

type BoundaryResult struct {
	Found    bool
	Polygon  Polygon
	Centroid *Point
}

type BoundarySource interface {
	LookupBoundary(ctx context.Context, pid string) (BoundaryResult, error)
}

type Geocoder interface {
	Geocode(ctx context.Context, address string) (Point, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	FlushPattern(ctx context.Context, prefix string) error
}

// Read models & queries
type PropertyQuery struct {
	Municipality *string
	Status       *Status
	Limit        int
	Cursor       *string
}

type PropertyPage struct {
	Items      []PropertyRecord
	NextCursor *string
}
