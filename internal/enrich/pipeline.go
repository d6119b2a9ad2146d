// Package enrich runs the AI enrichment stages for a prospect: a quick
// priority pass and a deep digital-presence audit.
package enrich

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/internal/store"
	"github.com/sells-group/prospector/pkg/anthropic"
	"github.com/sells-group/prospector/pkg/jina"
	"github.com/sells-group/prospector/pkg/perplexity"
)

// Config selects models and token budgets.
type Config struct {
	QuickModel     string
	DeepModel      string
	QuickMaxTokens int64
	DeepMaxTokens  int64
}

// Guards holds one resilience guard per upstream service.
type Guards struct {
	AI       *resilience.Guard
	Reader   *resilience.Guard
	Research *resilience.Guard
}

// AnalysisResult is returned by Analyze.
type AnalysisResult struct {
	Prospect *model.Prospect  `json:"prospect"`
	Analysis model.AIAnalysis `json:"ai_analysis"`
	Summary  model.Summary    `json:"summary"`
}

// AuditResult is returned by DeepAnalyze.
type AuditResult struct {
	Prospect     *model.Prospect         `json:"prospect"`
	Audit        model.DigitalAudit      `json:"digital_audit"`
	Intelligence model.SalesIntelligence `json:"sales_intelligence"`
	QualityScore int                     `json:"quality_score"`
	Summary      model.Summary           `json:"summary"`
}

// Pipeline runs enrichment. Concurrent requests for the same prospect and
// stage share one upstream call.
type Pipeline struct {
	store    store.Store
	ai       anthropic.Client
	reader   jina.Client
	research perplexity.Client
	guards   Guards
	cfg      Config

	quick singleflight.Group
	deep  singleflight.Group

	now func() time.Time
	log *zap.Logger
}

// New creates a Pipeline. reader and research may be nil; deep analysis
// then runs without the corresponding probe.
func New(st store.Store, ai anthropic.Client, reader jina.Client, research perplexity.Client, guards Guards, cfg Config) *Pipeline {
	if guards.AI == nil {
		guards.AI = resilience.NewGuard("anthropic", resilience.GuardConfig{})
	}
	if guards.Reader == nil {
		guards.Reader = resilience.NewGuard("jina", resilience.GuardConfig{})
	}
	if guards.Research == nil {
		guards.Research = resilience.NewGuard("perplexity", resilience.GuardConfig{})
	}
	return &Pipeline{
		store:    st,
		ai:       ai,
		reader:   reader,
		research: research,
		guards:   guards,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		log:      zap.L().With(zap.String("component", "enrich")),
	}
}

// Analyze runs the quick analysis. Notes flagged UseForAnalysis are added
// to the prompt. A concurrent call for the same prospect waits for and
// returns the in-flight result.
func (p *Pipeline) Analyze(ctx context.Context, prospectID string, notes []model.Note) (*AnalysisResult, error) {
	v, err, shared := p.quick.Do(prospectID, func() (any, error) {
		return p.analyze(context.WithoutCancel(ctx), prospectID, notes)
	})
	if shared {
		p.log.Debug("enrich: quick analysis coalesced", zap.String("prospect_id", prospectID))
	}
	if err != nil {
		return nil, err
	}
	return v.(*AnalysisResult), nil
}

// DeepAnalyze runs the website, social and reputation probes, then asks the
// model for an audit and sales intelligence.
func (p *Pipeline) DeepAnalyze(ctx context.Context, prospectID string) (*AuditResult, error) {
	v, err, shared := p.deep.Do(prospectID, func() (any, error) {
		return p.deepAnalyze(context.WithoutCancel(ctx), prospectID)
	})
	if shared {
		p.log.Debug("enrich: deep analysis coalesced", zap.String("prospect_id", prospectID))
	}
	if err != nil {
		return nil, err
	}
	return v.(*AuditResult), nil
}

// Summary returns the sidebar summary of a prospect.
func (p *Pipeline) Summary(ctx context.Context, prospectID string) (model.Summary, error) {
	pr, err := p.store.GetProspect(ctx, prospectID)
	if err != nil {
		return model.Summary{}, err
	}
	return model.Summarize(*pr), nil
}
