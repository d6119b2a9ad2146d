package model

import "time"

// Search strategies.
const (
	StrategyCacheFirst = "cache_first"
	StrategyFresh      = "fresh"
	StrategyCacheOnly  = "cache_only"
)

// SearchSession is one user-initiated search execution and the prospects it returned.
type SearchSession struct {
	ID             string      `json:"id"`
	Query          string      `json:"query"`
	Location       string      `json:"location"`
	Center         Coordinates `json:"center"`
	Radius         int         `json:"radius"`
	RequestedLimit int         `json:"requested_limit"`
	Strategy       string      `json:"strategy"`
	UserID         string      `json:"user_id"`
	ResultCount    int         `json:"result_count"`
	CachedCount    int         `json:"cached_count"`
	FetchedCount   int         `json:"fetched_count"`
	CreatedAt      time.Time   `json:"created_at"`
}

// QuotaStatus reports a user's search quota for the current day.
type QuotaStatus struct {
	Day       string    `json:"day"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// DeleteResult accounts for what a session deletion removed.
type DeleteResult struct {
	Deleted  int `json:"deleted"`
	Detached int `json:"detached"`
}
