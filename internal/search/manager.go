package search

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/config"
	"github.com/sells-group/prospector/internal/directory"
	"github.com/sells-group/prospector/internal/metrics"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/store"
)

const dayLayout = "2006-01-02"

// Result is the outcome of one search execution.
type Result struct {
	Session  *model.SearchSession `json:"session"`
	Saved    []model.Prospect     `json:"saved"`
	Degraded bool                 `json:"degraded"`
	Warning  string               `json:"warning,omitempty"`
	Quota    model.QuotaStatus    `json:"quota"`
}

// Manager executes searches and manages their sessions.
type Manager struct {
	store   store.Store
	dir     directory.Client
	locator *Locator
	cfg     config.SearchConfig
	loc     *time.Location
	now     func() time.Time
	log     *zap.Logger
}

// NewManager creates a Manager. dir may be nil, which makes every search
// cache-only.
func NewManager(st store.Store, dir directory.Client, locator *Locator, cfg config.SearchConfig) *Manager {
	return &Manager{
		store:   st,
		dir:     dir,
		locator: locator,
		cfg:     cfg,
		loc:     cfg.Location(),
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "search")),
	}
}

// Search runs one quota-metered search for caller. The quota is reserved
// before any external call and released only when the session could not be
// written. A directory failure degrades the result to cache hits.
func (m *Manager) Search(ctx context.Context, caller model.Caller, req Request) (*Result, error) {
	req, err := normalize(req, m.cfg)
	if err != nil {
		return nil, err
	}
	// A client that disconnects mid-search still gets its results saved.
	ctx = context.WithoutCancel(ctx)

	day := m.day()
	used, err := m.store.ReserveQuota(ctx, caller.UserID, day, m.cfg.DailyQuota)
	if err != nil {
		if errors.Is(err, model.ErrQuotaExceeded) {
			metrics.RecordSearch("quota_exceeded", 0, 0)
		}
		return nil, err
	}
	release := func(cause error) {
		if rerr := m.store.ReleaseQuota(ctx, caller.UserID, day); rerr != nil {
			m.log.Error("search: release quota", zap.String("user_id", caller.UserID), zap.Error(rerr))
		}
		m.log.Warn("search: quota released after failure", zap.String("user_id", caller.UserID), zap.Error(cause))
	}

	center, err := m.locator.Resolve(ctx, req.Location)
	if err != nil {
		release(err)
		return nil, err
	}

	var cached []model.Prospect
	if req.Strategy != model.StrategyFresh {
		cached, err = m.store.FindNearby(ctx, store.NearbyQuery{
			Center: center, Radius: req.Radius, Term: req.Query, Limit: req.Limit,
		})
		if err != nil {
			release(err)
			return nil, err
		}
	}

	res := &Result{}
	var fetched []model.Prospect
	shortfall := req.Limit - len(cached)
	if shortfall > 0 && req.Strategy != model.StrategyCacheOnly {
		if m.dir == nil {
			res.Degraded = true
			res.Warning = "directory search is not configured; showing cached results only"
		} else {
			exclude := make(map[string]bool, len(cached))
			for _, p := range cached {
				exclude[p.ExternalID] = true
			}
			fetched, err = m.dir.Search(ctx, directory.Query{
				Text: req.Query, Center: center, Radius: req.Radius, Limit: shortfall, Exclude: exclude,
			})
			if err != nil {
				if !errors.Is(err, model.ErrUpstreamUnavailable) {
					release(err)
					return nil, err
				}
				m.log.Warn("search: directory unavailable, returning cached results",
					zap.String("user_id", caller.UserID), zap.Error(err))
				res.Degraded = true
				res.Warning = "the business directory is unavailable right now; showing cached results only"
				fetched = nil
			}
		}
	}

	cachedIDs := make([]string, len(cached))
	for i, p := range cached {
		cachedIDs[i] = p.ID
	}
	sess, saved, err := m.store.CreateSession(ctx, store.NewSession{
		Session: model.SearchSession{
			Query:          req.Query,
			Location:       req.Location,
			Center:         center,
			Radius:         int(req.Radius),
			RequestedLimit: req.Limit,
			Strategy:       req.Strategy,
			UserID:         caller.UserID,
			CachedCount:    len(cached),
			FetchedCount:   len(fetched),
		},
		Fetched:   fetched,
		CachedIDs: cachedIDs,
	})
	if err != nil {
		release(err)
		return nil, eris.Wrap(err, "search: create session")
	}

	outcome := "ok"
	if res.Degraded {
		outcome = "degraded"
	}
	metrics.RecordSearch(outcome, len(cached), len(fetched))
	m.log.Info("search: session created",
		zap.String("session_id", sess.ID),
		zap.String("user_id", caller.UserID),
		zap.Int("cached", len(cached)),
		zap.Int("fetched", len(fetched)),
		zap.Bool("degraded", res.Degraded),
	)

	res.Session = sess
	res.Saved = saved
	res.Quota = m.status(day, used)
	return res, nil
}

// Get returns a session and its members. Only the owner or an admin may
// read it.
func (m *Manager) Get(ctx context.Context, caller model.Caller, id string) (*model.SearchSession, []model.Prospect, error) {
	sess, err := m.authorized(ctx, caller, id)
	if err != nil {
		return nil, nil, err
	}
	members, err := m.store.ListSessionProspects(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return sess, members, nil
}

// List returns the caller's most recent sessions, newest first. Admins see
// every user's sessions.
func (m *Manager) List(ctx context.Context, caller model.Caller, limit int) ([]model.SearchSession, error) {
	userID := caller.UserID
	if caller.IsAdmin() {
		userID = ""
	}
	return m.store.ListSessions(ctx, userID, limit)
}

// Delete removes a session. Members that were never processed and belong
// to no other session are deleted; the rest are detached and kept.
func (m *Manager) Delete(ctx context.Context, caller model.Caller, id string) (model.DeleteResult, error) {
	if _, err := m.authorized(ctx, caller, id); err != nil {
		return model.DeleteResult{}, err
	}
	res, err := m.store.DeleteSession(ctx, id)
	if err != nil {
		return res, err
	}
	m.log.Info("search: session deleted",
		zap.String("session_id", id),
		zap.String("user_id", caller.UserID),
		zap.Int("deleted", res.Deleted),
		zap.Int("detached", res.Detached),
	)
	return res, nil
}

// Quota reports the caller's usage for the current day.
func (m *Manager) Quota(ctx context.Context, caller model.Caller) (model.QuotaStatus, error) {
	day := m.day()
	used, err := m.store.GetQuota(ctx, caller.UserID, day)
	if err != nil {
		return model.QuotaStatus{}, err
	}
	return m.status(day, used), nil
}

func (m *Manager) authorized(ctx context.Context, caller model.Caller, id string) (*model.SearchSession, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.UserID != caller.UserID && !caller.IsAdmin() {
		return nil, eris.Wrapf(model.ErrForbidden, "search session %q belongs to another user", id)
	}
	return sess, nil
}

// day is the quota key: the calendar date in the configured timezone.
func (m *Manager) day() string {
	return m.now().In(m.loc).Format(dayLayout)
}

func (m *Manager) status(day string, used int) model.QuotaStatus {
	start, _ := time.ParseInLocation(dayLayout, day, m.loc)
	return model.QuotaStatus{
		Day:       day,
		Used:      used,
		Limit:     m.cfg.DailyQuota,
		Remaining: max(0, m.cfg.DailyQuota-used),
		ResetsAt:  start.AddDate(0, 0, 1),
	}
}
