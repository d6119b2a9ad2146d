package search

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/prospector/internal/config"
	"github.com/sells-group/prospector/internal/model"
)

const maxQueryLen = 120

// Request is the shared input of estimate and search.
type Request struct {
	Query    string  `json:"query"`
	Location string  `json:"location"`
	Radius   float64 `json:"radius"`
	Limit    int     `json:"limit"`
	Strategy string  `json:"strategy,omitempty"`
}

// normalize trims the request and fills in defaults, then validates it.
// Validation runs before any side effect.
func normalize(req Request, cfg config.SearchConfig) (Request, error) {
	req.Query = strings.TrimSpace(req.Query)
	req.Location = strings.TrimSpace(req.Location)
	if req.Limit == 0 {
		req.Limit = cfg.DefaultLimit
	}
	if req.Strategy == "" {
		req.Strategy = model.StrategyCacheFirst
	}

	switch {
	case req.Query == "":
		return req, model.Invalid("query", "enter a business category or name to search for")
	case utf8.RuneCountInString(req.Query) > maxQueryLen:
		return req, model.Invalid("query", "must be at most %d characters", maxQueryLen)
	case req.Location == "":
		return req, model.Invalid("location", "enter a city, address or lat,lng")
	case req.Radius < cfg.RadiusMin || req.Radius > cfg.RadiusMax:
		return req, model.Invalid("radius", "must be between %.0f and %.0f metres", cfg.RadiusMin, cfg.RadiusMax)
	case !slices.Contains(cfg.AllowedLimits, req.Limit):
		return req, model.Invalid("limit", "must be one of %v", cfg.AllowedLimits)
	}

	switch req.Strategy {
	case model.StrategyCacheFirst, model.StrategyFresh, model.StrategyCacheOnly:
	default:
		return req, model.Invalid("strategy", "must be %s, %s or %s",
			model.StrategyCacheFirst, model.StrategyFresh, model.StrategyCacheOnly)
	}
	return req, nil
}
