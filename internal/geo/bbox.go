package geo

import (
	"math"

	"taxsale/internal/domain"
)

// BBox is the plausible region for resolved coordinates.
type BBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// NovaScotia covers the mainland and Cape Breton Island.
var NovaScotia = BBox{MinLat: 43.3, MaxLat: 47.1, MinLon: -66.5, MaxLon: -59.6}

func (b BBox) Contains(p domain.Point) bool {
	lat, lon := p.Lat(), p.Lon()
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

func (b BBox) Valid() bool { return b.MinLat < b.MaxLat && b.MinLon < b.MaxLon }

// Centroid returns the area centroid of a ring, falling back to the vertex mean for
// degenerate (zero-area) rings. A closing point equal to the first is ignored.
func Centroid(poly domain.Polygon) (domain.Point, bool) {
	pts := []domain.Point(poly)
	if n := len(pts); n > 1 && pts[0] == pts[n-1] {
		pts = pts[:n-1]
	}
	if len(pts) == 0 {
		return domain.Point{}, false
	}
	var a, cx, cy float64
	for i := range pts {
		j := (i + 1) % len(pts)
		x0, y0 := pts[i].Lon(), pts[i].Lat()
		x1, y1 := pts[j].Lon(), pts[j].Lat()
		cross := x0*y1 - x1*y0
		a += cross
		cx += (x0 + x1) * cross
		cy += (y0 + y1) * cross
	}
	if math.Abs(a) < 1e-12 {
		var slat, slon float64
		for _, p := range pts {
			slat += p.Lat()
			slon += p.Lon()
		}
		n := float64(len(pts))
		return domain.Point{slat / n, slon / n}, true
	}
	a *= 0.5
	return domain.Point{cy / (6 * a), cx / (6 * a)}, true
}
