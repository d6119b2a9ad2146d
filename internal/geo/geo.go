// Package geo provides the radius checks used to match cached prospects
// against a search area.
package geo

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/prospector/internal/model"
)

const earthRadiusMeters = 6371008.8

// Distance returns the great-circle distance in meters between a and b.
func Distance(a, b model.Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Box returns the lng/lat bounding box enclosing a circle of radiusMeters
// around center. X is longitude, Y is latitude.
func Box(center model.Coordinates, radiusMeters float64) *geom.Bounds {
	dLat := radiusMeters / earthRadiusMeters * 180 / math.Pi

	cosLat := math.Cos(center.Lat * math.Pi / 180)
	dLng := 180.0
	if cosLat > 1e-9 {
		dLng = math.Min(180, dLat/cosLat)
	}

	return geom.NewBounds(geom.XY).Set(
		center.Lng-dLng, math.Max(-90, center.Lat-dLat),
		center.Lng+dLng, math.Min(90, center.Lat+dLat),
	)
}

// Circle is a search area. Within first tests the bounding box and only
// then computes the exact distance.
type Circle struct {
	Center model.Coordinates
	Radius float64
	bounds *geom.Bounds
}

// NewCircle builds a Circle with its bounding box precomputed.
func NewCircle(center model.Coordinates, radiusMeters float64) Circle {
	return Circle{Center: center, Radius: radiusMeters, bounds: Box(center, radiusMeters)}
}

// Bounds exposes the prefilter box, e.g. for SQL BETWEEN clauses.
func (c Circle) Bounds() *geom.Bounds { return c.bounds }

// Within reports whether p lies inside the circle.
func (c Circle) Within(p model.Coordinates) bool {
	if c.bounds != nil && !c.bounds.OverlapsPoint(geom.XY, geom.Coord{p.Lng, p.Lat}) {
		return false
	}
	return Distance(c.Center, p) <= c.Radius
}

// ParseLatLng parses a "lat,lng" literal. ok is false when s is not a
// coordinate pair, in which case s should be geocoded instead.
func ParseLatLng(s string) (model.Coordinates, bool, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return model.Coordinates{}, false, nil
	}
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, errLng := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLat != nil || errLng != nil {
		return model.Coordinates{}, false, nil
	}
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) ||
		lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return model.Coordinates{}, true, eris.Errorf("geo: coordinates out of range: %s", s)
	}
	return model.Coordinates{Lat: lat, Lng: lng}, true, nil
}
