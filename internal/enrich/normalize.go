package enrich

import (
	"slices"
	"strings"

	"github.com/sells-group/prospector/internal/model"
)

// normalizeQuick validates the model's quick reply. An unknown priority is
// derived from the score.
func normalizeQuick(r quickReply) model.AIAnalysis {
	score := clamp(r.Score, 0, 100)
	priority := model.Priority(strings.ToLower(strings.TrimSpace(r.Priority)))
	if !priority.Valid() {
		priority = priorityFor(score)
	}
	return model.AIAnalysis{
		Priority:    priority,
		Opportunity: strings.TrimSpace(r.Opportunity),
		Summary:     strings.TrimSpace(r.Summary),
		Score:       score,
	}
}

func priorityFor(score int) model.Priority {
	switch {
	case score >= 70:
		return model.PriorityHigh
	case score >= 40:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// normalizeDeep clamps scores, validates channel statuses and sales
// figures. Directory facts win over the model: no website is always
// missing, and reputation falls back to the rating.
func normalizeDeep(r deepReply, pr model.Prospect, site *siteEvidence) (model.DigitalAudit, model.SalesIntelligence) {
	audit := model.DigitalAudit{
		Web:        normalizeChannel(r.DigitalAudit.Web, webStatuses, webStatusFor),
		Social:     normalizeChannel(r.DigitalAudit.Social, socialStatuses, socialStatusFor),
		Reputation: normalizeReputation(r.DigitalAudit.Reputation, pr),
	}
	if pr.Website == "" {
		audit.Web.Score = 0
		audit.Web.Status = model.WebMissing
	} else if site != nil && !site.Reachable && audit.Web.Status == model.WebModern {
		audit.Web.Status = model.WebOutdated
	}

	si := r.SalesIntelligence
	intel := model.SalesIntelligence{
		PainPoint:           strings.TrimSpace(si.PainPoint),
		OpeningMessage:      strings.TrimSpace(si.OpeningMessage),
		RecommendedStrategy: strings.TrimSpace(si.RecommendedStrategy),
		SuggestedProduct:    strings.TrimSpace(si.SuggestedProduct),
	}
	if v := si.EstimatedValue; v != nil && *v >= 0 {
		ev := *v
		intel.EstimatedValue = &ev
	}
	if v := si.CloseProbability; v != nil {
		cp := *v
		if cp > 1 {
			cp /= 100 // percent
		}
		cp = max(0, min(cp, 1))
		intel.CloseProbability = &cp
	}
	return audit, intel
}

var (
	webStatuses        = []string{model.WebModern, model.WebOutdated, model.WebMissing}
	socialStatuses     = []string{model.SocialHealthy, model.SocialInactive, model.SocialCritical, model.SocialMissing}
	reputationStatuses = []string{model.ReputationExcellent, model.ReputationGood, model.ReputationFair, model.ReputationPoor}
)

func normalizeChannel(c channelReply, allowed []string, fallback func(int) string) model.ChannelAudit {
	score := 0
	if c.Score != nil {
		score = clamp(*c.Score, 0, 100)
	}
	status := strings.ToLower(strings.TrimSpace(c.Status))
	if !slices.Contains(allowed, status) {
		status = fallback(score)
	}
	return model.ChannelAudit{Score: score, Status: status, Findings: cleanFindings(c.Findings)}
}

func normalizeReputation(c channelReply, pr model.Prospect) model.ChannelAudit {
	out := model.ChannelAudit{Findings: cleanFindings(c.Findings)}
	if c.Score != nil {
		out.Score = clamp(*c.Score, 0, 100)
	} else {
		out.Score = clamp(int(pr.Rating/5*100), 0, 100)
	}
	status := strings.ToLower(strings.TrimSpace(c.Status))
	if slices.Contains(reputationStatuses, status) {
		out.Status = status
	} else {
		out.Status = reputationStatusFor(pr.Rating)
	}
	return out
}

func webStatusFor(score int) string {
	switch {
	case score >= 60:
		return model.WebModern
	case score > 0:
		return model.WebOutdated
	default:
		return model.WebMissing
	}
}

func socialStatusFor(score int) string {
	switch {
	case score >= 60:
		return model.SocialHealthy
	case score >= 35:
		return model.SocialInactive
	case score > 0:
		return model.SocialCritical
	default:
		return model.SocialMissing
	}
}

func reputationStatusFor(rating float64) string {
	switch {
	case rating >= 4.5:
		return model.ReputationExcellent
	case rating >= 4.0:
		return model.ReputationGood
	case rating >= 3.0:
		return model.ReputationFair
	default:
		return model.ReputationPoor
	}
}

func cleanFindings(in []string) []string {
	var out []string
	for _, f := range in {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
