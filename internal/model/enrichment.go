package model

import "time"

// Priority is the quick-analysis tier for a prospect.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is a known priority tier.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// AIAnalysis is the result of the quick analysis pass.
type AIAnalysis struct {
	Priority    Priority  `json:"priority"`
	Opportunity string    `json:"opportunity"`
	Summary     string    `json:"summary,omitempty"`
	Score       int       `json:"score"`
	Model       string    `json:"model,omitempty"`
	AnalyzedAt  time.Time `json:"analyzed_at"`
}

// Per-channel qualitative statuses.
const (
	WebModern   = "modern"
	WebOutdated = "outdated"
	WebMissing  = "missing"

	SocialHealthy  = "healthy"
	SocialInactive = "inactive"
	SocialCritical = "critical"
	SocialMissing  = "missing"

	ReputationExcellent = "excellent"
	ReputationGood      = "good"
	ReputationFair      = "fair"
	ReputationPoor      = "poor"
)

// ChannelAudit scores one channel of a prospect's digital presence.
type ChannelAudit struct {
	Score    int      `json:"score"`
	Status   string   `json:"status"`
	Findings []string `json:"findings,omitempty"`
}

// DigitalAudit is the per-channel result of the deep analysis.
type DigitalAudit struct {
	Web        ChannelAudit `json:"web"`
	Social     ChannelAudit `json:"social"`
	Reputation ChannelAudit `json:"reputation"`
	AuditedAt  time.Time    `json:"audited_at"`
}

// SalesIntelligence is the selling guidance produced by the deep analysis.
type SalesIntelligence struct {
	PainPoint           string   `json:"pain_point"`
	OpeningMessage      string   `json:"opening_message"`
	RecommendedStrategy string   `json:"recommended_strategy"`
	SuggestedProduct    string   `json:"suggested_product"`
	EstimatedValue      *float64 `json:"estimated_value,omitempty"`
	CloseProbability    *float64 `json:"close_probability,omitempty"`
}

// Summary is the condensed view rendered in the prospect sidebar.
type Summary struct {
	Source      string  `json:"source"` // "sales_intelligence", "ai_analysis" or "none"
	Headline    string  `json:"headline"`
	Detail      string  `json:"detail"`
	Priority    string  `json:"priority,omitempty"`
	Opening     string  `json:"opening_message,omitempty"`
	Probability float64 `json:"close_probability,omitempty"`
}

// Summarize builds the sidebar summary, preferring sales intelligence over
// the older quick-analysis shape when both exist.
func Summarize(p Prospect) Summary {
	if si := p.SalesIntel; si != nil {
		s := Summary{
			Source:   "sales_intelligence",
			Headline: si.PainPoint,
			Detail:   si.RecommendedStrategy,
			Opening:  si.OpeningMessage,
		}
		if si.CloseProbability != nil {
			s.Probability = *si.CloseProbability
		}
		if p.AIAnalysis != nil {
			s.Priority = string(p.AIAnalysis.Priority)
		}
		return s
	}
	if a := p.AIAnalysis; a != nil {
		return Summary{
			Source:   "ai_analysis",
			Headline: a.Opportunity,
			Detail:   a.Summary,
			Priority: string(a.Priority),
		}
	}
	return Summary{Source: "none"}
}
