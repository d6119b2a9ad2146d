package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospector/internal/metrics"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/pkg/anthropic"
	"github.com/sells-group/prospector/pkg/jina"
	"github.com/sells-group/prospector/pkg/perplexity"
)

// maxSiteChars bounds the website excerpt sent to the model.
const maxSiteChars = 6000

const deepSystemPrompt = `You audit the digital presence of local businesses for a web and digital marketing agency and prepare the sales approach.
Reply with a single JSON object and nothing else:
{
  "digital_audit": {
    "web": {"score": 0-100, "status": "modern|outdated|missing", "findings": ["..."]},
    "social": {"score": 0-100, "status": "healthy|inactive|critical|missing", "findings": ["..."]},
    "reputation": {"score": 0-100, "status": "excellent|good|fair|poor", "findings": ["..."]}
  },
  "sales_intelligence": {
    "pain_point": "...",
    "opening_message": "...",
    "recommended_strategy": "...",
    "suggested_product": "...",
    "estimated_value": <number in EUR or null>,
    "close_probability": <0.0-1.0 or null>
  }
}
A business without a website has web status "missing" and score 0.
Base every finding on the evidence provided. Write all text in Spanish.`

// siteEvidence is what the website probe learned.
type siteEvidence struct {
	URL         string
	Reachable   bool
	Title       string
	Description string
	Content     string
}

// researchEvidence is what the social and reviews probe learned.
type researchEvidence struct {
	Text      string
	Citations []string
}

type deepReply struct {
	DigitalAudit struct {
		Web        channelReply `json:"web"`
		Social     channelReply `json:"social"`
		Reputation channelReply `json:"reputation"`
	} `json:"digital_audit"`
	SalesIntelligence struct {
		PainPoint           string   `json:"pain_point"`
		OpeningMessage      string   `json:"opening_message"`
		RecommendedStrategy string   `json:"recommended_strategy"`
		SuggestedProduct    string   `json:"suggested_product"`
		EstimatedValue      *float64 `json:"estimated_value"`
		CloseProbability    *float64 `json:"close_probability"`
	} `json:"sales_intelligence"`
}

type channelReply struct {
	Score    *int     `json:"score"`
	Status   string   `json:"status"`
	Findings []string `json:"findings"`
}

func (p *Pipeline) deepAnalyze(ctx context.Context, prospectID string) (*AuditResult, error) {
	pr, err := p.store.GetProspect(ctx, prospectID)
	if err != nil {
		return nil, err
	}
	log := p.log.With(zap.String("prospect_id", pr.ID), zap.String("stage", "deep"))

	// Website and research failures degrade the evidence; the audit still
	// runs on the directory facts.
	var (
		site     *siteEvidence
		research *researchEvidence
		g        errgroup.Group
	)
	g.Go(func() error {
		var err error
		site, err = p.probeWebsite(ctx, *pr)
		metrics.RecordEnrichment("website", err)
		if err != nil {
			log.Warn("enrich: website probe failed, continuing without it", zap.Error(err))
			site = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		research, err = p.probeResearch(ctx, *pr)
		metrics.RecordEnrichment("research", err)
		if err != nil {
			log.Warn("enrich: research probe failed, continuing without it", zap.Error(err))
			research = nil
		}
		return nil
	})
	_ = g.Wait()

	req := anthropic.MessageRequest{
		Model:     p.cfg.DeepModel,
		MaxTokens: p.cfg.DeepMaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(deepSystemPrompt, "1h"),
		Messages:  []anthropic.Message{{Role: "user", Content: deepPrompt(*pr, site, research)}},
	}
	resp, err := resilience.Call(ctx, p.guards.AI, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return p.ai.CreateMessage(ctx, req)
	})
	if err != nil {
		metrics.RecordEnrichment("deep", err)
		log.Warn("enrich: deep analysis failed", zap.Error(err))
		return nil, err
	}
	resp.Usage.LogCost(p.cfg.DeepModel, "deep")

	var reply deepReply
	if err := anthropic.DecodeJSON(resp.Text(), &reply); err != nil {
		err = eris.Wrapf(model.ErrUpstreamUnavailable, "enrich: unreadable deep analysis: %v", err)
		metrics.RecordEnrichment("deep", err)
		return nil, err
	}

	audit, intel := normalizeDeep(reply, *pr, site)
	audit.AuditedAt = p.now()
	withAudit := *pr
	withAudit.DigitalAudit = &audit
	quality := model.ComputeQualityScore(withAudit)

	saved, err := p.store.SaveDeepAnalysis(ctx, pr.ID, audit, intel, quality)
	metrics.RecordEnrichment("deep", err)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: save deep analysis")
	}
	log.Info("enrich: deep analysis saved",
		zap.String("web", audit.Web.Status),
		zap.String("social", audit.Social.Status),
		zap.String("reputation", audit.Reputation.Status),
		zap.Int("quality_score", quality),
	)
	return &AuditResult{
		Prospect:     saved,
		Audit:        audit,
		Intelligence: intel,
		QualityScore: quality,
		Summary:      model.Summarize(*saved),
	}, nil
}

// probeWebsite reads the prospect's site. A site that answers with a
// permanent error is recorded as unreachable evidence rather than failing
// the run.
func (p *Pipeline) probeWebsite(ctx context.Context, pr model.Prospect) (*siteEvidence, error) {
	if pr.Website == "" || p.reader == nil {
		return nil, nil
	}
	return resilience.Call(ctx, p.guards.Reader, func(ctx context.Context) (*siteEvidence, error) {
		resp, err := p.reader.Read(ctx, pr.Website)
		if err != nil {
			if resilience.IsTransient(err) {
				return nil, err
			}
			p.log.Debug("enrich: website unreachable", zap.String("url", pr.Website), zap.Error(err))
			return &siteEvidence{URL: pr.Website}, nil
		}
		return siteFrom(pr.Website, resp), nil
	})
}

func siteFrom(url string, resp *jina.ReadResponse) *siteEvidence {
	content := strings.TrimSpace(resp.Data.Content)
	return &siteEvidence{
		URL:         url,
		Reachable:   content != "",
		Title:       resp.Data.Title,
		Description: resp.Data.Description,
		Content:     truncate(content, maxSiteChars),
	}
}

func (p *Pipeline) probeResearch(ctx context.Context, pr model.Prospect) (*researchEvidence, error) {
	if p.research == nil {
		return nil, nil
	}
	req := perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: "You research the online presence of small local businesses. Be factual and concise."},
			{Role: "user", Content: researchPrompt(pr)},
		},
	}
	return resilience.Call(ctx, p.guards.Research, func(ctx context.Context) (*researchEvidence, error) {
		resp, err := p.research.ChatCompletion(ctx, req)
		if err != nil {
			return nil, err
		}
		return &researchEvidence{Text: resp.Text(), Citations: resp.Citations}, nil
	})
}

func researchPrompt(pr model.Prospect) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Business: %s", pr.Name)
	if pr.Address != "" {
		fmt.Fprintf(&b, ", %s", pr.Address)
	}
	b.WriteString("\n")
	if !pr.Social.Empty() {
		b.WriteString("Known profiles:")
		for _, u := range []string{pr.Social.Facebook, pr.Social.Instagram, pr.Social.TikTok, pr.Social.LinkedIn} {
			if u != "" {
				fmt.Fprintf(&b, " %s", u)
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("Find its social media profiles (Facebook, Instagram, TikTok, LinkedIn), when each last posted and roughly how many followers it has. ")
	b.WriteString("Then summarise what customers say about it on review sites other than Google Maps.")
	return b.String()
}

func deepPrompt(pr model.Prospect, site *siteEvidence, research *researchEvidence) string {
	var b strings.Builder
	writeProspect(&b, pr)

	b.WriteString("\n## Website\n")
	switch {
	case pr.Website == "":
		b.WriteString("The business has no website.\n")
	case site == nil:
		b.WriteString("The website was not inspected.\n")
	case !site.Reachable:
		fmt.Fprintf(&b, "%s could not be loaded.\n", site.URL)
	default:
		fmt.Fprintf(&b, "Title: %s\nDescription: %s\n\n%s\n", site.Title, site.Description, site.Content)
	}

	b.WriteString("\n## Social media and reviews research\n")
	if research == nil || strings.TrimSpace(research.Text) == "" {
		b.WriteString("No research available.\n")
	} else {
		b.WriteString(research.Text)
		b.WriteString("\n")
		if len(research.Citations) > 0 {
			fmt.Fprintf(&b, "Sources: %s\n", strings.Join(research.Citations, ", "))
		}
	}
	return b.String()
}
