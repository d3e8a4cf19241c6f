package domain

import (
	"strings"
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSold      Status = "sold"
	StatusRedeemed  Status = "redeemed"
	StatusWithdrawn Status = "withdrawn"
)

func ValidStatus(s string) bool {
	switch Status(s) {
	case StatusActive, StatusSold, StatusRedeemed, StatusWithdrawn:
		return true
	}
	return false
}

// GeoStatus records how the stored coordinates were obtained.
type GeoStatus string

const (
	GeoUnresolved GeoStatus = ""
	GeoBounded    GeoStatus = "bounded"
	GeoAddress    GeoStatus = "address"
	GeoFailed     GeoStatus = "failed"
)

// Point is a [lat, lon] pair in decimal degrees.
type Point [2]float64

func (p Point) Lat() float64 { return p[0] }
func (p Point) Lon() float64 { return p[1] }

// Polygon is an ordered ring of points. Never synthesized: only set from a boundary lookup.
type Polygon []Point

// Details holds heterogeneous enrichment attributes (string, int, float64, bool).
type Details map[string]any

type PropertyRecord struct {
	AssessmentNumber    string     `json:"assessment_number"`
	MunicipalityName    string     `json:"municipality_name"`
	OwnerName           *string    `json:"owner_name,omitempty"`
	CivicAddress        *string    `json:"civic_address,omitempty"`
	PropertyDescription *string    `json:"property_description,omitempty"`
	PIDNumber           *string    `json:"pid_number,omitempty"`
	OpeningBid          *float64   `json:"opening_bid,omitempty"`
	Status              Status     `json:"status"`
	Latitude            *float64   `json:"latitude,omitempty"`
	Longitude           *float64   `json:"longitude,omitempty"`
	BoundaryData        Polygon    `json:"boundary_data,omitempty"`
	PropertyDetails     Details    `json:"property_details"`
	RawSourceExcerpt    string     `json:"raw_source_excerpt"`
	NeedsReview         bool       `json:"needs_review"`
	ReviewReason        *string    `json:"review_reason,omitempty"`
	GeoStatus           GeoStatus  `json:"geo_status,omitempty"`
	GeoNote             *string    `json:"geo_note,omitempty"`
	GeoCheckedAt        *time.Time `json:"geo_checked_at,omitempty"`
	Version             int64      `json:"-"`
	LastUpdated         time.Time  `json:"last_updated"`
}

// Draft is a parsed, not yet reconciled, listing. Nil/empty means "not supplied".
type Draft struct {
	AssessmentNumber    string
	MunicipalityName    string
	OwnerName           *string
	CivicAddress        *string
	PropertyDescription *string
	PIDNumber           *string
	OpeningBid          *float64
	Status              Status
	Latitude            *float64
	Longitude           *float64
	BoundaryData        Polygon
	Details             Details
	RawSourceExcerpt    string
	NeedsReview         bool
	ReviewReason        *string
}

// Overlay copies every non-empty field of next onto d (later occurrence wins).
func (d *Draft) Overlay(next Draft) {
	overlayStr(&d.OwnerName, next.OwnerName)
	overlayStr(&d.CivicAddress, next.CivicAddress)
	overlayStr(&d.PropertyDescription, next.PropertyDescription)
	overlayStr(&d.PIDNumber, next.PIDNumber)
	overlayStr(&d.ReviewReason, next.ReviewReason)
	if next.MunicipalityName != "" {
		d.MunicipalityName = next.MunicipalityName
	}
	if next.OpeningBid != nil {
		d.OpeningBid = next.OpeningBid
	}
	if next.Status != "" {
		d.Status = next.Status
	}
	if next.Latitude != nil && next.Longitude != nil {
		d.Latitude, d.Longitude = next.Latitude, next.Longitude
	}
	if len(next.BoundaryData) > 0 {
		d.BoundaryData = next.BoundaryData
	}
	if len(next.Details) > 0 {
		if d.Details == nil {
			d.Details = Details{}
		}
		for k, v := range next.Details {
			if !EmptyValue(v) {
				d.Details[k] = v
			}
		}
	}
	if next.RawSourceExcerpt != "" {
		if d.RawSourceExcerpt == "" {
			d.RawSourceExcerpt = next.RawSourceExcerpt
		} else {
			d.RawSourceExcerpt += "\n" + next.RawSourceExcerpt
		}
	}
	d.NeedsReview = d.NeedsReview || next.NeedsReview
}

func overlayStr(dst **string, src *string) {
	if src != nil && strings.TrimSpace(*src) != "" {
		*dst = src
	}
}

// EmptyValue reports whether v counts as "absent" for merge purposes.
func EmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case *string:
		return t == nil || strings.TrimSpace(*t) == ""
	}
	return false
}

func Ptr[T any](v T) *T { return &v }

func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Settlement is a notice listing marked paid, redeemed or withdrawn. It never creates a
// record; it only moves a stored one out of the active state.
type Settlement struct {
	AssessmentNumber string
	Status           Status
}
