// Package geocode resolves free-text locations to coordinates via the Google
// Geocoding API.
package geocode

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Client geocodes free-text locations.
type Client interface {
	// Geocode resolves text to coordinates. An unmatched location is not an
	// error; Result.Matched is false.
	Geocode(ctx context.Context, text string) (*Result, error)
}

// Result holds the geocoding output for a location.
type Result struct {
	Latitude         float64
	Longitude        float64
	FormattedAddress string
	Quality          string // "rooftop", "range", "centroid", "approximate"
	Matched          bool
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithBaseURL overrides the Geocoding API endpoint.
func WithBaseURL(u string) Option {
	return func(g *geocoder) {
		g.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithRateLimit sets the requests-per-second rate limit.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		g.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
	}
}

// WithLanguage sets the language of formatted addresses.
func WithLanguage(lang string) Option {
	return func(g *geocoder) {
		g.language = lang
	}
}

type geocoder struct {
	apiKey     string
	baseURL    string
	language   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Google geocoding Client.
func NewClient(apiKey string, opts ...Option) Client {
	g := &geocoder{
		apiKey:     apiKey,
		baseURL:    googleGeocodeURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *geocoder) Geocode(ctx context.Context, text string) (*Result, error) {
	return g.geocodeGoogle(ctx, text)
}
