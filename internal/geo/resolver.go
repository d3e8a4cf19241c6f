// Package geo assigns coordinates and parcel boundaries to properties.
//
// Resolution is a small state machine: a PID boundary lookup first, then address
// geocoding, then a terminal failure. Each step is a pure transition over injected
// lookups so the ordering can be tested without a network.
package geo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"taxsale/internal/domain"
)

type Kind int

const (
	Failed Kind = iota
	Bounded
	AddressResolved
	// Retained: a stored polygon could not be re-verified (transport failure) and was kept.
	Retained
)

func (k Kind) String() string {
	switch k {
	case Bounded:
		return "bounded"
	case AddressResolved:
		return "address_resolved"
	case Retained:
		return "retained"
	}
	return "failed"
}

// Input is what the resolver knows about one property.
type Input struct {
	AssessmentNumber string
	PID              *string
	// Addresses in preference order: the record's civic address, then enrichment hints.
	Addresses []string
	// MapPoint is a coordinate pair read from an assessment-page map link.
	MapPoint *domain.Point
	// HasBoundary is true when the stored record already carries a polygon.
	HasBoundary bool
}

// Outcome is the tagged result of one resolution.
type Outcome struct {
	Kind    Kind
	Point   *domain.Point
	Polygon domain.Polygon
	Note    string
	Err     error
}

type state int

const (
	stateUnresolved state = iota
	stateAddressFallback
	stateDone
)

type Resolver struct {
	boundary domain.BoundarySource
	geocoder domain.Geocoder
	bbox     BBox
}

func NewResolver(b domain.BoundarySource, g domain.Geocoder, bbox BBox) *Resolver {
	if !bbox.Valid() {
		bbox = NovaScotia
	}
	return &Resolver{boundary: b, geocoder: g, bbox: bbox}
}

var rePID = regexp.MustCompile(`^\d{8}$`)

// Resolve walks the chain until a terminal outcome.
func (r *Resolver) Resolve(ctx context.Context, in Input) Outcome {
	st := stateUnresolved
	var (
		out   Outcome
		notes []string
	)
	for st != stateDone {
		switch st {
		case stateUnresolved:
			st, out = r.stepBoundary(ctx, in, &notes)
		case stateAddressFallback:
			st, out = r.stepAddress(ctx, in, &notes)
		}
	}
	if out.Note == "" {
		out.Note = strings.Join(notes, "; ")
	}
	log.Debug().Str("aan", in.AssessmentNumber).Str("outcome", out.Kind.String()).Str("note", out.Note).Msg("geolocation resolved")
	return out
}

func (r *Resolver) stepBoundary(ctx context.Context, in Input, notes *[]string) (state, Outcome) {
	if in.PID == nil || strings.TrimSpace(*in.PID) == "" {
		*notes = append(*notes, "no pid")
		return stateAddressFallback, Outcome{}
	}
	pid := strings.TrimSpace(*in.PID)
	if !rePID.MatchString(pid) {
		*notes = append(*notes, fmt.Sprintf("malformed pid %q", pid))
		return stateAddressFallback, Outcome{}
	}
	if r.boundary == nil {
		*notes = append(*notes, "no boundary service")
		return stateAddressFallback, Outcome{}
	}

	res, err := r.boundary.LookupBoundary(ctx, pid)
	switch {
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		// unverifiable: an existing polygon is not downgraded on a transport failure
		if in.HasBoundary {
			return stateDone, Outcome{Kind: Retained, Note: "boundary re-check failed, polygon kept", Err: err}
		}
		*notes = append(*notes, "boundary lookup failed: "+err.Error())
		return stateAddressFallback, Outcome{}
	case err != nil || !res.Found || len(res.Polygon) < 3:
		*notes = append(*notes, "no boundary for pid "+pid)
		return stateAddressFallback, Outcome{}
	}

	c := res.Centroid
	if c == nil {
		p, ok := Centroid(res.Polygon)
		if !ok {
			*notes = append(*notes, "empty boundary for pid "+pid)
			return stateAddressFallback, Outcome{}
		}
		c = &p
	}
	if !r.bbox.Contains(*c) {
		*notes = append(*notes, fmt.Sprintf("boundary centroid %.5f,%.5f outside region", c.Lat(), c.Lon()))
		return stateAddressFallback, Outcome{}
	}
	return stateDone, Outcome{Kind: Bounded, Point: c, Polygon: res.Polygon}
}

func (r *Resolver) stepAddress(ctx context.Context, in Input, notes *[]string) (state, Outcome) {
	var lastErr error
	seen := map[string]bool{}
	for _, a := range in.Addresses {
		a = strings.TrimSpace(a)
		key := strings.ToLower(a)
		if a == "" || seen[key] {
			continue
		}
		seen[key] = true
		if r.geocoder == nil {
			lastErr = fmt.Errorf("%w: no geocoder configured", domain.ErrNotFound)
			*notes = append(*notes, "no geocoder")
			break
		}

		p, err := r.geocoder.Geocode(ctx, a)
		if err != nil {
			lastErr = err
			*notes = append(*notes, fmt.Sprintf("geocode %q: %v", a, err))
			continue
		}
		if !r.bbox.Contains(p) {
			lastErr = fmt.Errorf("%w: %.5f,%.5f outside region", domain.ErrValidation, p.Lat(), p.Lon())
			*notes = append(*notes, fmt.Sprintf("geocode %q: outside region", a))
			continue
		}
		return stateDone, Outcome{Kind: AddressResolved, Point: &p}
	}

	if in.MapPoint != nil && r.bbox.Contains(*in.MapPoint) {
		p := *in.MapPoint
		return stateDone, Outcome{Kind: AddressResolved, Point: &p, Note: "coordinates from assessment map link"}
	}

	if len(seen) == 0 {
		*notes = append(*notes, "no address")
		lastErr = fmt.Errorf("%w: no pid boundary and no address", domain.ErrNotFound)
	}
	return stateDone, Outcome{Kind: Failed, Err: lastErr}
}

// Apply writes an outcome onto a stored record. Failed and Retained never clear
// coordinates or polygons that an earlier run resolved.
func (o Outcome) Apply(rec *domain.PropertyRecord, now time.Time) {
	rec.GeoCheckedAt = &now
	rec.GeoNote = nil
	if o.Note != "" {
		note := o.Note
		rec.GeoNote = &note
	}
	switch o.Kind {
	case Bounded:
		rec.Latitude, rec.Longitude = domain.Ptr(o.Point.Lat()), domain.Ptr(o.Point.Lon())
		rec.BoundaryData = o.Polygon
		rec.GeoStatus = domain.GeoBounded
	case AddressResolved:
		rec.Latitude, rec.Longitude = domain.Ptr(o.Point.Lat()), domain.Ptr(o.Point.Lon())
		rec.BoundaryData = nil
		rec.GeoStatus = domain.GeoAddress
	case Retained:
	default:
		rec.GeoStatus = domain.GeoFailed
	}
}
