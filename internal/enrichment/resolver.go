// Package enrichment fetches per-property assessment pages and extracts supplementary
// attributes into property_details.
package enrichment

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"taxsale/internal/doctext"
	"taxsale/internal/domain"
)

// Hint is location data found on the assessment page, handed to the geolocation stage.
type Hint struct {
	Address  *string
	MapURL   *string
	MapPoint *domain.Point
}

func (h Hint) Empty() bool { return h.Address == nil && h.MapURL == nil && h.MapPoint == nil }

type Result struct {
	Details domain.Details
	Hint    Hint
}

type Resolver struct {
	src domain.EnrichmentSource
}

func NewResolver(src domain.EnrichmentSource) *Resolver { return &Resolver{src: src} }

// Resolve performs one lookup for aan. On any failure the result is empty and err wraps
// one of domain.ErrTransport, domain.ErrNotFound or domain.ErrFormat.
func (r *Resolver) Resolve(ctx context.Context, aan string) (Result, error) {
	page, err := r.src.FetchAssessment(ctx, aan)
	if err != nil {
		return Result{}, fmt.Errorf("enrich %s: %w", aan, err)
	}
	text := page
	var hint Hint
	if looksLikeMarkup(page) {
		if text, err = doctext.FromHTML(strings.NewReader(page)); err != nil {
			return Result{}, fmt.Errorf("enrich %s: %w: %v", aan, domain.ErrFormat, err)
		}
		hint = mapHint(page)
	}
	if a := addressHint(text); a != nil {
		hint.Address = a
	}

	details := Extract(text)
	if len(details) == 0 && hint.Empty() {
		return Result{}, fmt.Errorf("enrich %s: %w: no assessment attributes on page", aan, domain.ErrFormat)
	}
	return Result{Details: details, Hint: hint}, nil
}

func looksLikeMarkup(s string) bool {
	head := strings.ToLower(strings.TrimSpace(s))
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.HasPrefix(head, "<") || strings.Contains(head, "<html") || strings.Contains(head, "<body")
}

var reAddressLine = regexp.MustCompile(`(?im)^[ \t]*(?:civic\s+address|property\s+address|property\s+location|location)[ \t]*:?[ \t]*([^\n]{3,120}?)[ \t]*$`)

func addressHint(text string) *string {
	m := reAddressLine.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	a := strings.TrimSpace(m[1])
	if a == "" {
		return nil
	}
	return &a
}

var reCoordPair = regexp.MustCompile(`(-?\d{1,2}\.\d{3,})\s*(?:,|%2C)\s*(-?\d{1,3}\.\d{3,})`)

// mapHint picks the first map link on the page and, when the link carries a lat,lon pair,
// its coordinates.
func mapHint(page string) Hint {
	links, err := doctext.Links(strings.NewReader(page), "http://localhost/")
	if err != nil {
		return Hint{}
	}
	for _, l := range links {
		h := strings.ToLower(l.Href)
		if !strings.Contains(h, "map") {
			continue
		}
		href := l.Href
		hint := Hint{MapURL: &href}
		if m := reCoordPair.FindStringSubmatch(l.Href); m != nil {
			lat, err1 := strconv.ParseFloat(m[1], 64)
			lon, err2 := strconv.ParseFloat(m[2], 64)
			if err1 == nil && err2 == nil {
				hint.MapPoint = &domain.Point{lat, lon}
			}
		}
		return hint
	}
	return Hint{}
}
