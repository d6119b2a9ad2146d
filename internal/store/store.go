// Package store persists prospects, search sessions, quotas, demos, leads
// and notifications.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/sells-group/prospector/internal/geo"
	"github.com/sells-group/prospector/internal/model"
)

// NearbyQuery selects cached prospects inside a circle whose folded search
// text contains Term. Limit <= 0 means no limit.
type NearbyQuery struct {
	Center model.Coordinates
	Radius float64
	Term   string
	Limit  int
}

func (q NearbyQuery) area() geo.Circle { return geo.NewCircle(q.Center, q.Radius) }

// NewSession carries everything written atomically when a search completes.
type NewSession struct {
	Session   model.SearchSession
	Fetched   []model.Prospect // upserted by external_id
	CachedIDs []string         // existing prospects re-surfaced from cache
}

// Store defines the persistence interface for the prospecting core.
type Store interface {
	// Prospects
	FindNearby(ctx context.Context, q NearbyQuery) ([]model.Prospect, error)
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	SaveQuickAnalysis(ctx context.Context, id string, a model.AIAnalysis) (*model.Prospect, error)
	SaveDeepAnalysis(ctx context.Context, id string, audit model.DigitalAudit, intel model.SalesIntelligence, quality int) (*model.Prospect, error)
	AssignProspect(ctx context.Context, id, userID string) error

	// Sessions
	CreateSession(ctx context.Context, ns NewSession) (*model.SearchSession, []model.Prospect, error)
	GetSession(ctx context.Context, id string) (*model.SearchSession, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]model.SearchSession, error)
	ListSessionProspects(ctx context.Context, sessionID string) ([]model.Prospect, error)
	DeleteSession(ctx context.Context, id string) (model.DeleteResult, error)

	// Quota
	ReserveQuota(ctx context.Context, userID, day string, limit int) (int, error)
	ReleaseQuota(ctx context.Context, userID, day string) error
	GetQuota(ctx context.Context, userID, day string) (int, error)

	// Conversion
	ConvertProspect(ctx context.Context, id, owner string) (*model.Lead, bool, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)

	// Demos
	CreateDemo(ctx context.Context, d *model.DemoPublication) error
	GetDemoByToken(ctx context.Context, token string) (*model.DemoPublication, error)
	IncrementDemoViews(ctx context.Context, token string) (int64, error)
	AcceptDemo(ctx context.Context, token string, at time.Time) (bool, error)
	RevokeDemo(ctx context.Context, id string) error
	ListDemos(ctx context.Context, prospectID string) ([]model.DemoPublication, error)
	AddContactRequest(ctx context.Context, c *model.ContactRequest) error
	ListContactRequests(ctx context.Context, token string) ([]model.ContactRequest, error)

	// Users
	UpsertUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	ListUsersByRole(ctx context.Context, role string) ([]model.User, error)

	// Notifications
	CreateNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// prospectInsertCols are written when a fetched prospect is upserted.
var prospectInsertCols = []string{
	"id", "external_id", "name", "address", "lat", "lng", "category", "search_text",
	"phone", "website", "social", "photos", "reviews", "rating", "user_ratings_total",
	"quality_score", "state", "search_session_id", "created_at", "updated_at",
}

// prospectRefreshCols are refreshed when a prospect is rediscovered. state,
// processed, lead_id, assigned_user, search_session_id and enrichment
// columns are never overwritten.
var prospectRefreshCols = []string{
	"name", "address", "lat", "lng", "category", "search_text", "phone", "website",
	"social", "photos", "reviews", "rating", "user_ratings_total", "quality_score", "updated_at",
}

// filterNearby applies the exact circle test and term match to box
// candidates, then orders by quality and truncates to q.Limit.
func filterNearby(candidates []model.Prospect, q NearbyQuery, circle geo.Circle) []model.Prospect {
	out := make([]model.Prospect, 0, len(candidates))
	for _, p := range candidates {
		if !circle.Within(p.Location) || !model.MatchesTerm(p.SearchText, q.Term) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].QualityScore != out[j].QualityScore {
			return out[i].QualityScore > out[j].QualityScore
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// boxArgs returns minLat, maxLat, minLng, maxLng for SQL prefilters.
func boxArgs(c geo.Circle) (float64, float64, float64, float64) {
	b := c.Bounds()
	return b.Min(1), b.Max(1), b.Min(0), b.Max(0)
}

// likeTerm builds a LIKE pattern for the folded term.
func likeTerm(term string) string {
	return "%" + model.Fold(term) + "%"
}

// prepareFetched fills derived fields on a freshly fetched prospect.
func prepareFetched(p *model.Prospect, now time.Time) {
	if p.SearchText == "" {
		p.SearchText = model.SearchTextFor(p.Category, p.Name)
	}
	p.QualityScore = model.ComputeQualityScore(*p)
	if p.State == "" {
		p.State = model.StateNew
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
}
