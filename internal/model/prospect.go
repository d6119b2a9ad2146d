// Package model defines the core prospecting types shared across packages.
package model

import (
	"time"
)

// ProspectState tracks how far a prospect has moved through enrichment and conversion.
type ProspectState string

const (
	StateNew          ProspectState = "new"
	StateCached       ProspectState = "cached"
	StateAnalyzed     ProspectState = "analyzed"
	StateDeepAnalyzed ProspectState = "deep_analyzed"
	StateConverted    ProspectState = "converted"
)

// Rank orders states so transitions can be checked for forward movement.
// new and cached share a rank: cached only records that the prospect was
// re-surfaced from a previous search.
func (s ProspectState) Rank() int {
	switch s {
	case StateAnalyzed:
		return 1
	case StateDeepAnalyzed:
		return 2
	case StateConverted:
		return 3
	default:
		return 0
	}
}

// Advance returns the later of s and next. A state never moves backwards.
func (s ProspectState) Advance(next ProspectState) ProspectState {
	if next.Rank() > s.Rank() {
		return next
	}
	return s
}

// Coordinates is a WGS84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Review is a single review captured from the directory provider.
type Review struct {
	Author string  `json:"author"`
	Rating float64 `json:"rating"`
	Text   string  `json:"text"`
	When   string  `json:"when,omitempty"`
}

// SocialHandles holds known social profile URLs.
type SocialHandles struct {
	Facebook  string `json:"facebook,omitempty"`
	Instagram string `json:"instagram,omitempty"`
	TikTok    string `json:"tiktok,omitempty"`
	LinkedIn  string `json:"linkedin,omitempty"`
}

// Empty reports whether no handle is known.
func (h SocialHandles) Empty() bool {
	return h.Facebook == "" && h.Instagram == "" && h.TikTok == "" && h.LinkedIn == ""
}

// Prospect is one real-world business candidate discovered via directory search.
type Prospect struct {
	ID               string             `json:"id"`
	ExternalID       string             `json:"external_id"`
	Name             string             `json:"name"`
	Address          string             `json:"address,omitempty"`
	Location         Coordinates        `json:"location"`
	Category         string             `json:"category,omitempty"`
	SearchText       string             `json:"-"`
	Phone            string             `json:"phone,omitempty"`
	Website          string             `json:"website,omitempty"`
	Social           SocialHandles      `json:"social"`
	Photos           []string           `json:"photos,omitempty"`
	Reviews          []Review           `json:"reviews,omitempty"`
	Rating           float64            `json:"rating"`
	UserRatingsTotal int                `json:"user_ratings_total"`
	QualityScore     int                `json:"quality_score"`
	DigitalAudit     *DigitalAudit      `json:"digital_audit,omitempty"`
	SalesIntel       *SalesIntelligence `json:"sales_intelligence,omitempty"`
	AIAnalysis       *AIAnalysis        `json:"ai_analysis,omitempty"`
	State            ProspectState      `json:"state"`
	SearchSessionID  string             `json:"search_session_id,omitempty"`
	AssignedUser     string             `json:"assigned_user,omitempty"`
	Processed        bool               `json:"processed"`
	LeadID           string             `json:"lead_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Note is caller-supplied context about a prospect. Only notes flagged
// UseForAnalysis are fed to the quick analysis prompt.
type Note struct {
	Text           string `json:"text"`
	UseForAnalysis bool   `json:"use_for_analysis"`
}

// ComputeQualityScore derives a 0-100 score from directory data and, when
// present, the digital audit.
func ComputeQualityScore(p Prospect) int {
	if p.DigitalAudit != nil {
		a := p.DigitalAudit
		return clampScore((a.Web.Score*40 + a.Social.Score*25 + a.Reputation.Score*35) / 100)
	}

	score := 0
	if p.Rating > 0 {
		score += int(p.Rating / 5 * 40)
	}
	switch {
	case p.UserRatingsTotal >= 200:
		score += 25
	case p.UserRatingsTotal >= 50:
		score += 18
	case p.UserRatingsTotal >= 10:
		score += 10
	case p.UserRatingsTotal > 0:
		score += 4
	}
	if p.Website != "" {
		score += 15
	}
	if p.Phone != "" {
		score += 10
	}
	if len(p.Photos) > 0 {
		score += 10
	}
	return clampScore(score)
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
