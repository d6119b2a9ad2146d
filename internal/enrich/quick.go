package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/metrics"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/pkg/anthropic"
)

const quickSystemPrompt = `You qualify local businesses as sales prospects for a web and digital marketing agency.
Reply with a single JSON object and nothing else:
{"priority":"high|medium|low","opportunity":"<one sentence>","summary":"<two or three sentences>","score":<0-100>}
priority reflects how likely the business is to buy a website or digital marketing service soon.
Write the opportunity and summary in Spanish.`

type quickReply struct {
	Priority    string `json:"priority"`
	Opportunity string `json:"opportunity"`
	Summary     string `json:"summary"`
	Score       int    `json:"score"`
}

func (p *Pipeline) analyze(ctx context.Context, prospectID string, notes []model.Note) (*AnalysisResult, error) {
	pr, err := p.store.GetProspect(ctx, prospectID)
	if err != nil {
		return nil, err
	}
	log := p.log.With(zap.String("prospect_id", pr.ID), zap.String("stage", "quick"))

	req := anthropic.MessageRequest{
		Model:     p.cfg.QuickModel,
		MaxTokens: p.cfg.QuickMaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(quickSystemPrompt, "5m"),
		Messages:  []anthropic.Message{{Role: "user", Content: quickPrompt(*pr, notes)}},
	}
	resp, err := resilience.Call(ctx, p.guards.AI, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return p.ai.CreateMessage(ctx, req)
	})
	if err != nil {
		metrics.RecordEnrichment("quick", err)
		log.Warn("enrich: quick analysis failed", zap.Error(err))
		return nil, err
	}
	resp.Usage.LogCost(p.cfg.QuickModel, "quick")

	var reply quickReply
	if err := anthropic.DecodeJSON(resp.Text(), &reply); err != nil {
		err = eris.Wrapf(model.ErrUpstreamUnavailable, "enrich: unreadable quick analysis: %v", err)
		metrics.RecordEnrichment("quick", err)
		return nil, err
	}
	analysis := normalizeQuick(reply)
	analysis.Model = p.cfg.QuickModel
	analysis.AnalyzedAt = p.now()

	saved, err := p.store.SaveQuickAnalysis(ctx, pr.ID, analysis)
	metrics.RecordEnrichment("quick", err)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: save quick analysis")
	}
	log.Info("enrich: quick analysis saved",
		zap.String("priority", string(analysis.Priority)),
		zap.Int("score", analysis.Score),
		zap.String("state", string(saved.State)),
	)
	return &AnalysisResult{Prospect: saved, Analysis: analysis, Summary: model.Summarize(*saved)}, nil
}

func quickPrompt(pr model.Prospect, notes []model.Note) string {
	var b strings.Builder
	writeProspect(&b, pr)
	var extra []string
	for _, n := range notes {
		if n.UseForAnalysis && strings.TrimSpace(n.Text) != "" {
			extra = append(extra, strings.TrimSpace(n.Text))
		}
	}
	if len(extra) > 0 {
		b.WriteString("\nSales rep notes:\n")
		for _, n := range extra {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	return b.String()
}

// writeProspect renders the directory snapshot shared by both prompts.
func writeProspect(b *strings.Builder, pr model.Prospect) {
	fmt.Fprintf(b, "Business: %s\n", pr.Name)
	if pr.Category != "" {
		fmt.Fprintf(b, "Category: %s\n", pr.Category)
	}
	if pr.Address != "" {
		fmt.Fprintf(b, "Address: %s\n", pr.Address)
	}
	if pr.Phone != "" {
		fmt.Fprintf(b, "Phone: %s\n", pr.Phone)
	}
	if pr.Website != "" {
		fmt.Fprintf(b, "Website: %s\n", pr.Website)
	} else {
		b.WriteString("Website: none\n")
	}
	if pr.Rating > 0 {
		fmt.Fprintf(b, "Rating: %.1f from %d reviews\n", pr.Rating, pr.UserRatingsTotal)
	}
	fmt.Fprintf(b, "Photos: %d\n", len(pr.Photos))
	for _, h := range []struct{ name, url string }{
		{"Facebook", pr.Social.Facebook},
		{"Instagram", pr.Social.Instagram},
		{"TikTok", pr.Social.TikTok},
		{"LinkedIn", pr.Social.LinkedIn},
	} {
		if h.url != "" {
			fmt.Fprintf(b, "%s: %s\n", h.name, h.url)
		}
	}
	for i, r := range pr.Reviews {
		if i == 5 {
			break
		}
		fmt.Fprintf(b, "Review (%.0f stars): %s\n", r.Rating, truncate(r.Text, 300))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
