package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"taxsale/internal/domain"
)

// Geocoder resolves addresses through a Nominatim-compatible /search endpoint. Callers
// should construct its Client with a low RPS; public instances allow one request per second.
type Geocoder struct {
	c      *Client
	base   string
	region string
}

// NewGeocoder appends region (e.g. "Nova Scotia, Canada") to queries that do not mention it.
func NewGeocoder(c *Client, base, region string) *Geocoder {
	return &Geocoder{c: c, base: strings.TrimRight(base, "/"), region: region}
}

type place struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (g *Geocoder) Geocode(ctx context.Context, address string) (domain.Point, error) {
	if g.base == "" {
		return domain.Point{}, fmt.Errorf("%w: geocoder not configured", domain.ErrTransport)
	}
	query := strings.TrimSpace(address)
	if g.region != "" && !strings.Contains(strings.ToLower(query), strings.ToLower(g.region)) {
		query += ", " + g.region
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "1")
	resp, err := g.c.get(ctx, "geocode", g.base+"/search?"+q.Encode(), "application/json")
	if err != nil {
		return domain.Point{}, err
	}

	var places []place
	if err := json.Unmarshal(resp.body, &places); err != nil {
		return domain.Point{}, fmt.Errorf("%w: geocode response: %v", domain.ErrFormat, err)
	}
	if len(places) == 0 {
		return domain.Point{}, fmt.Errorf("geocode %q: %w", address, domain.ErrNotFound)
	}
	lat, err1 := strconv.ParseFloat(places[0].Lat, 64)
	lon, err2 := strconv.ParseFloat(places[0].Lon, 64)
	if err1 != nil || err2 != nil {
		return domain.Point{}, fmt.Errorf("%w: geocode coordinates %q,%q", domain.ErrFormat, places[0].Lat, places[0].Lon)
	}
	return domain.Point{lat, lon}, nil
}
