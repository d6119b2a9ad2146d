package search

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/geo"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/pkg/geocode"
)

// Locator turns location text into coordinates. "lat,lng" literals are
// parsed directly; anything else is geocoded.
type Locator struct {
	geocoder geocode.Client
	guard    *resilience.Guard
}

// NewLocator builds a Locator. geocoder may be nil, in which case only
// literal coordinates are accepted.
func NewLocator(geocoder geocode.Client, guard *resilience.Guard) *Locator {
	return &Locator{geocoder: geocoder, guard: guard}
}

// Resolve returns the coordinates for text.
func (l *Locator) Resolve(ctx context.Context, text string) (model.Coordinates, error) {
	c, ok, err := geo.ParseLatLng(text)
	if err != nil {
		return model.Coordinates{}, model.Invalid("location", "%v", err)
	}
	if ok {
		return c, nil
	}
	if l.geocoder == nil {
		return model.Coordinates{}, model.Invalid("location", "geocoding is not configured; use lat,lng")
	}

	res, err := resilience.Call(ctx, l.guard, func(ctx context.Context) (*geocode.Result, error) {
		return l.geocoder.Geocode(ctx, text)
	})
	if err != nil {
		return model.Coordinates{}, eris.Wrap(err, "search: geocode location")
	}
	if !res.Matched {
		return model.Coordinates{}, model.Invalid("location", "could not find %q; try a more specific address", text)
	}
	return model.Coordinates{Lat: res.Latitude, Lng: res.Longitude}, nil
}
