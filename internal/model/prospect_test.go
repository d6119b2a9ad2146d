package model

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestProspectState_Advance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from ProspectState
		to   ProspectState
		want ProspectState
	}{
		{"new to analyzed", StateNew, StateAnalyzed, StateAnalyzed},
		{"cached to analyzed", StateCached, StateAnalyzed, StateAnalyzed},
		{"analyzed to deep", StateAnalyzed, StateDeepAnalyzed, StateDeepAnalyzed},
		{"new straight to deep", StateNew, StateDeepAnalyzed, StateDeepAnalyzed},
		{"deep does not fall back to analyzed", StateDeepAnalyzed, StateAnalyzed, StateDeepAnalyzed},
		{"converted stays converted", StateConverted, StateDeepAnalyzed, StateConverted},
		{"new to cached keeps new", StateNew, StateCached, StateNew},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.from.Advance(tt.to))
		})
	}
}

func TestComputeQualityScore(t *testing.T) {
	t.Parallel()

	t.Run("empty prospect", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 0, ComputeQualityScore(Prospect{}))
	})

	t.Run("directory signals", func(t *testing.T) {
		t.Parallel()
		p := Prospect{
			Rating:           4.5,
			UserRatingsTotal: 120,
			Website:          "https://example.com",
			Phone:            "+34 600 000 000",
			Photos:           []string{"a"},
		}
		// 36 + 18 + 15 + 10 + 10
		assert.Equal(t, 89, ComputeQualityScore(p))
	})

	t.Run("audit takes over", func(t *testing.T) {
		t.Parallel()
		p := Prospect{
			Rating: 5,
			DigitalAudit: &DigitalAudit{
				Web:        ChannelAudit{Score: 50},
				Social:     ChannelAudit{Score: 20},
				Reputation: ChannelAudit{Score: 80},
			},
		}
		assert.Equal(t, 53, ComputeQualityScore(p))
	})

	t.Run("clamped", func(t *testing.T) {
		t.Parallel()
		p := Prospect{DigitalAudit: &DigitalAudit{
			Web:        ChannelAudit{Score: 400},
			Social:     ChannelAudit{Score: 400},
			Reputation: ChannelAudit{Score: 400},
		}}
		assert.Equal(t, 100, ComputeQualityScore(p))
	})
}

func TestSummarize_PrefersSalesIntelligence(t *testing.T) {
	t.Parallel()

	prob := 0.4
	p := Prospect{
		AIAnalysis: &AIAnalysis{Priority: PriorityHigh, Opportunity: "No website", Summary: "quick"},
		SalesIntel: &SalesIntelligence{
			PainPoint:           "Invisible online",
			RecommendedStrategy: "Lead with a demo",
			OpeningMessage:      "Hola",
			CloseProbability:    &prob,
		},
	}

	s := Summarize(p)
	assert.Equal(t, "sales_intelligence", s.Source)
	assert.Equal(t, "Invisible online", s.Headline)
	assert.Equal(t, "high", s.Priority)
	assert.InDelta(t, 0.4, s.Probability, 0.0001)

	p.SalesIntel = nil
	s = Summarize(p)
	assert.Equal(t, "ai_analysis", s.Source)
	assert.Equal(t, "No website", s.Headline)

	assert.Equal(t, "none", Summarize(Prospect{}).Source)
}

func TestLeadFromProspect(t *testing.T) {
	t.Parallel()

	v := 1200.0
	p := Prospect{
		ID: "p1", Name: "Pizzeria Roma", Phone: "123", Website: "https://roma.es",
		Address: "Calle Mayor 1", AssignedUser: "u-sales",
		SalesIntel: &SalesIntelligence{EstimatedValue: &v},
	}

	l := LeadFromProspect(p, "u-admin")
	assert.Equal(t, "p1", l.ProspectID)
	assert.Equal(t, LeadSource, l.Source)
	assert.Equal(t, "u-sales", l.OwnerUser)
	assert.Equal(t, &v, l.EstimatedValue)

	p.AssignedUser = ""
	assert.Equal(t, "u-admin", LeadFromProspect(p, "u-admin").OwnerUser)
}

func TestErrors_MatchThroughWrapping(t *testing.T) {
	t.Parallel()

	err := eris.Wrap(Invalid("radius", "must be between %d and %d", 500, 10000), "search: validate")
	assert.True(t, errors.Is(err, ErrValidation))

	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, "radius", ve.Field)

	nf := eris.Wrap(NotFound("prospect", "p1"), "enrich: load")
	assert.True(t, IsNotFound(nf))
	assert.False(t, IsNotFound(err))
}

func TestPriority_Valid(t *testing.T) {
	t.Parallel()
	assert.True(t, PriorityMedium.Valid())
	assert.False(t, Priority("urgent").Valid())
}

func TestFold(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pizzeria roma", Fold("  Pizzería   ROMA "))
	assert.Equal(t, "pizza restaurant", Fold("pizza_restaurant"))
	assert.True(t, MatchesTerm(SearchTextFor("restaurant", "Pizzería Roma"), "PIZZERIA"))
	assert.False(t, MatchesTerm(SearchTextFor("bakery", "Horno Sol"), "pizzeria"))
	assert.True(t, MatchesTerm("anything", " "))
}
