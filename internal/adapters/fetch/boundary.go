package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"taxsale/internal/domain"
)

// Boundaries queries an ArcGIS feature layer for a parcel polygon by PID.
type Boundaries struct {
	c    *Client
	base string
}

func NewBoundaries(c *Client, base string) *Boundaries {
	return &Boundaries{c: c, base: strings.TrimRight(base, "/")}
}

type featureSet struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Features []struct {
		Geometry struct {
			Rings [][][2]float64 `json:"rings"` // [lon, lat]
		} `json:"geometry"`
	} `json:"features"`
}

func (b *Boundaries) LookupBoundary(ctx context.Context, pid string) (domain.BoundaryResult, error) {
	if b.base == "" {
		return domain.BoundaryResult{}, fmt.Errorf("%w: boundary source not configured", domain.ErrTransport)
	}
	q := url.Values{}
	q.Set("where", fmt.Sprintf("PID='%s'", strings.ReplaceAll(pid, "'", "")))
	q.Set("outFields", "PID")
	q.Set("returnGeometry", "true")
	q.Set("outSR", "4326")
	q.Set("f", "json")
	resp, err := b.c.get(ctx, "boundary", b.base+"/query?"+q.Encode(), "application/json")
	if err != nil {
		return domain.BoundaryResult{}, err
	}

	var fs featureSet
	if err := json.Unmarshal(resp.body, &fs); err != nil {
		return domain.BoundaryResult{}, fmt.Errorf("%w: boundary response: %v", domain.ErrFormat, err)
	}
	if fs.Error != nil {
		return domain.BoundaryResult{}, fmt.Errorf("%w: arcgis %d: %s", domain.ErrTransport, fs.Error.Code, fs.Error.Message)
	}
	if len(fs.Features) == 0 || len(fs.Features[0].Geometry.Rings) == 0 {
		return domain.BoundaryResult{Found: false}, nil
	}
	// outer ring only
	ring := fs.Features[0].Geometry.Rings[0]
	poly := make(domain.Polygon, 0, len(ring))
	for _, xy := range ring {
		poly = append(poly, domain.Point{xy[1], xy[0]})
	}
	return domain.BoundaryResult{Found: len(poly) >= 3, Polygon: poly}, nil
}
