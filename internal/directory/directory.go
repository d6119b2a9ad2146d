// Package directory adapts the Google Places API to the place-search
// contract used by search sessions.
package directory

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospector/internal/geo"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/pkg/google"
)

// maxPages bounds pagination; Places returns at most 60 results per query.
const maxPages = 3

// Query is one place search request.
type Query struct {
	Text   string
	Center model.Coordinates
	Radius float64
	// Limit caps how many new candidates are returned.
	Limit int
	// Exclude lists external ids already known to the caller. They do not
	// count towards Limit.
	Exclude map[string]bool
}

// Client returns raw candidate prospects for a query.
type Client interface {
	Search(ctx context.Context, q Query) ([]model.Prospect, error)
	// EstimateCount returns the provider's count of matches when it has a
	// cheap way to produce one. ok is false otherwise.
	EstimateCount(ctx context.Context, q Query) (n int, ok bool, err error)
}

// Places implements Client over Google Places Text Search.
type Places struct {
	api      google.Client
	guard    *resilience.Guard
	limiter  *rate.Limiter
	language string
	log      *zap.Logger
}

// PlacesOption configures Places.
type PlacesOption func(*Places)

// WithRateLimit caps outgoing page requests per second.
func WithRateLimit(rps float64) PlacesOption {
	return func(p *Places) {
		if rps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithLanguage sets the languageCode sent with each search.
func WithLanguage(lang string) PlacesOption {
	return func(p *Places) { p.language = lang }
}

// NewPlaces builds a Places directory. guard bounds every page request.
func NewPlaces(api google.Client, guard *resilience.Guard, opts ...PlacesOption) *Places {
	p := &Places{
		api:     api,
		guard:   guard,
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     zap.L().With(zap.String("component", "directory")),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Search pages through Places results until Limit new candidates inside the
// radius are collected or the provider runs out. Any upstream failure is
// reported as model.ErrUpstreamUnavailable. Paging continues after the
// caller's context is cancelled; the guard timeout bounds each page.
func (p *Places) Search(ctx context.Context, q Query) ([]model.Prospect, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	ctx = context.WithoutCancel(ctx)
	circle := geo.NewCircle(q.Center, q.Radius)
	seen := make(map[string]bool)
	out := make([]model.Prospect, 0, q.Limit)

	var pageToken string
	for page := 0; page < maxPages && len(out) < q.Limit; page++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "directory: rate limit")
		}

		req := google.SearchTextRequest{
			TextQuery: q.Text,
			LocationBias: &google.LocationBias{Circle: google.Circle{
				Center: google.LatLng{Latitude: q.Center.Lat, Longitude: q.Center.Lng},
				Radius: q.Radius,
			}},
			PageSize:     google.MaxPageSize,
			PageToken:    pageToken,
			LanguageCode: p.language,
		}
		resp, err := resilience.Call(ctx, p.guard, func(ctx context.Context) (*google.SearchTextResponse, error) {
			return p.api.SearchText(ctx, req)
		})
		if err != nil {
			return nil, err
		}

		for _, place := range resp.Places {
			if place.ID == "" || seen[place.ID] || q.Exclude[place.ID] {
				continue
			}
			seen[place.ID] = true
			prospect := FromPlace(place)
			// locationBias only biases ranking; results outside the circle are dropped.
			if !circle.Within(prospect.Location) {
				continue
			}
			out = append(out, prospect)
			if len(out) == q.Limit {
				break
			}
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	p.log.Debug("directory: search complete",
		zap.String("query", q.Text),
		zap.Int("limit", q.Limit),
		zap.Int("returned", len(out)),
	)
	return out, nil
}

// EstimateCount reports ok=false: Places has no count endpoint and a real
// search would be billed.
func (p *Places) EstimateCount(_ context.Context, _ Query) (int, bool, error) {
	return 0, false, nil
}

// FromPlace maps a Places result onto a Prospect. Derived fields are left
// for the store to fill in.
func FromPlace(pl google.Place) model.Prospect {
	pr := model.Prospect{
		ExternalID:       pl.ID,
		Name:             strings.TrimSpace(pl.DisplayName.Text),
		Address:          pl.FormattedAddress,
		Location:         model.Coordinates{Lat: pl.Location.Latitude, Lng: pl.Location.Longitude},
		Category:         pl.PrimaryType,
		Phone:            pl.NationalPhoneNumber,
		Website:          pl.WebsiteURI,
		Rating:           pl.Rating,
		UserRatingsTotal: pl.UserRatingCount,
	}
	if pl.PrimaryTypeDisplayName != nil && pl.PrimaryTypeDisplayName.Text != "" {
		pr.Category = pl.PrimaryTypeDisplayName.Text
	}
	if pr.Phone == "" {
		pr.Phone = pl.InternationalPhoneNumber
	}
	for _, ph := range pl.Photos {
		if ph.Name != "" {
			pr.Photos = append(pr.Photos, ph.Name)
		}
	}
	for _, r := range pl.Reviews {
		pr.Reviews = append(pr.Reviews, model.Review{
			Author: r.AuthorAttribution.DisplayName,
			Rating: r.Rating,
			Text:   r.Text.Text,
			When:   r.RelativePublishTimeDescription,
		})
	}
	pr.Social = socialFromWebsite(pr.Website)
	return pr
}

// socialFromWebsite records the website as a social handle when the
// business only lists a social profile.
func socialFromWebsite(website string) model.SocialHandles {
	var h model.SocialHandles
	lower := strings.ToLower(website)
	switch {
	case strings.Contains(lower, "facebook.com"):
		h.Facebook = website
	case strings.Contains(lower, "instagram.com"):
		h.Instagram = website
	case strings.Contains(lower, "tiktok.com"):
		h.TikTok = website
	case strings.Contains(lower, "linkedin.com"):
		h.LinkedIn = website
	}
	return h
}
