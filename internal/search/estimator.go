// Package search estimates and executes quota-metered prospect searches.
package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/config"
	"github.com/sells-group/prospector/internal/directory"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/store"
)

// EstimateResult splits a prospective search into cached and billable
// prospects.
type EstimateResult struct {
	ExistingCount        int               `json:"existing_count"`
	NewCount             int               `json:"new_count"`
	DisplayCount         int               `json:"display_count"`
	PotentialRevenueText string            `json:"potential_revenue_text"`
	Center               model.Coordinates `json:"center"`
	ProviderEstimate     bool              `json:"provider_estimate"`
}

// Estimator computes EstimateResults. It never writes to the store and
// never consumes quota.
type Estimator struct {
	store   store.Store
	dir     directory.Client
	locator *Locator
	cfg     config.SearchConfig
}

// NewEstimator creates an Estimator.
func NewEstimator(st store.Store, dir directory.Client, locator *Locator, cfg config.SearchConfig) *Estimator {
	return &Estimator{store: st, dir: dir, locator: locator, cfg: cfg}
}

// Estimate counts cached matches around the location and estimates how many
// more the directory would add, up to req.Limit.
func (e *Estimator) Estimate(ctx context.Context, req Request) (*EstimateResult, error) {
	req, err := normalize(req, e.cfg)
	if err != nil {
		return nil, err
	}
	center, err := e.locator.Resolve(ctx, req.Location)
	if err != nil {
		return nil, err
	}

	cached, err := e.store.FindNearby(ctx, store.NearbyQuery{Center: center, Radius: req.Radius, Term: req.Query})
	if err != nil {
		return nil, err
	}
	existing := len(cached)

	res := &EstimateResult{ExistingCount: existing, Center: center}
	shortfall := max(0, req.Limit-existing)
	res.NewCount = shortfall

	if e.dir != nil && req.Strategy != model.StrategyCacheOnly {
		n, ok, err := e.dir.EstimateCount(ctx, directory.Query{
			Text: req.Query, Center: center, Radius: req.Radius, Limit: req.Limit,
		})
		switch {
		case err != nil:
			zap.L().Warn("search: provider estimate failed, using heuristic", zap.Error(err))
		case ok:
			res.NewCount = min(max(0, n-existing), shortfall)
			res.ProviderEstimate = true
		}
	}
	if req.Strategy == model.StrategyCacheOnly {
		res.NewCount = 0
	}

	res.DisplayCount = min(existing+res.NewCount, req.Limit)
	res.PotentialRevenueText = RevenueText(res.DisplayCount, e.cfg.AvgTicket, e.cfg.Currency, e.cfg.Locale)
	return res, nil
}
