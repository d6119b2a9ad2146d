package demo

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/pkg/anthropic"
)

const copySystemPrompt = `You write landing-page copy in Spanish for small local businesses.
Reply with a single JSON object and nothing else:
{"headline":"...","tagline":"...","about":"<two short paragraphs>","services":["..."],"call_to_action":"..."}
Use at most six services. Never invent prices, awards or facts that are not in the brief.`

// Copy is the text shown on a demo page.
type Copy struct {
	Headline     string   `json:"headline"`
	Tagline      string   `json:"tagline"`
	About        string   `json:"about"`
	Services     []string `json:"services"`
	CallToAction string   `json:"call_to_action"`
}

func (c Copy) complete() bool {
	return strings.TrimSpace(c.Headline) != "" && strings.TrimSpace(c.About) != ""
}

// writeCopy asks the model for page copy. Any failure falls back to copy
// built from the prospect record; the bool reports whether the model's
// copy was used.
func (p *Publisher) writeCopy(ctx context.Context, pr model.Prospect, theme Theme, customPrompt string) (Copy, bool) {
	fallback := fallbackCopy(pr, theme)
	if p.ai == nil {
		return fallback, false
	}

	req := anthropic.MessageRequest{
		Model:     p.cfg.Model,
		MaxTokens: p.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(copySystemPrompt, "5m"),
		Messages:  []anthropic.Message{{Role: "user", Content: copyBrief(pr, theme, customPrompt)}},
	}
	resp, err := resilience.Call(ctx, p.guards.AI, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return p.ai.CreateMessage(ctx, req)
	})
	if err != nil {
		p.log.Warn("demo: copy generation failed, using fallback", zap.String("prospect_id", pr.ID), zap.Error(err))
		return fallback, false
	}
	resp.Usage.LogCost(p.cfg.Model, "demo_copy")

	var c Copy
	if err := anthropic.DecodeJSON(resp.Text(), &c); err != nil || !c.complete() {
		p.log.Warn("demo: unusable copy, using fallback", zap.String("prospect_id", pr.ID), zap.Error(err))
		return fallback, false
	}
	if len(c.Services) > 6 {
		c.Services = c.Services[:6]
	}
	if strings.TrimSpace(c.Tagline) == "" {
		c.Tagline = fallback.Tagline
	}
	if strings.TrimSpace(c.CallToAction) == "" {
		c.CallToAction = fallback.CallToAction
	}
	return c, true
}

func copyBrief(pr model.Prospect, theme Theme, customPrompt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Business: %s\nType of site: %s\n", pr.Name, theme.Label)
	if pr.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", pr.Category)
	}
	if pr.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", pr.Address)
	}
	if pr.Rating > 0 {
		fmt.Fprintf(&b, "Google rating: %.1f (%d reviews)\n", pr.Rating, pr.UserRatingsTotal)
	}
	if a := pr.AIAnalysis; a != nil && a.Opportunity != "" {
		fmt.Fprintf(&b, "Opportunity: %s\n", a.Opportunity)
	}
	if si := pr.SalesIntel; si != nil {
		if si.PainPoint != "" {
			fmt.Fprintf(&b, "Pain point to address: %s\n", si.PainPoint)
		}
		if si.SuggestedProduct != "" {
			fmt.Fprintf(&b, "Product being pitched: %s\n", si.SuggestedProduct)
		}
	}
	for i, r := range pr.Reviews {
		if i == 3 {
			break
		}
		if r.Rating >= 4 && r.Text != "" {
			fmt.Fprintf(&b, "Customer review: %s\n", r.Text)
		}
	}
	fmt.Fprintf(&b, "Default call to action: %s\n", theme.CTA)
	if s := strings.TrimSpace(customPrompt); s != "" {
		fmt.Fprintf(&b, "\nInstructions from the sales rep: %s\n", s)
	}
	return b.String()
}

// fallbackCopy builds deterministic copy from the prospect record.
func fallbackCopy(pr model.Prospect, theme Theme) Copy {
	category := pr.Category
	if category == "" {
		category = theme.Label
	}
	tagline := category
	if city := cityOf(pr.Address); city != "" {
		tagline = fmt.Sprintf("%s en %s", category, city)
	}

	about := fmt.Sprintf("En %s te atendemos con la cercanía de siempre.", pr.Name)
	if pr.Rating >= 4 && pr.UserRatingsTotal > 0 {
		about += fmt.Sprintf(" Nuestros clientes nos valoran con un %.1f sobre 5 en más de %d opiniones.", pr.Rating, pr.UserRatingsTotal)
	}
	if pr.Address != "" {
		about += fmt.Sprintf(" Encuéntranos en %s.", pr.Address)
	}

	var services []string
	if pr.Category != "" {
		services = append(services, pr.Category)
	}
	if pr.SalesIntel != nil && pr.SalesIntel.SuggestedProduct != "" {
		services = append(services, pr.SalesIntel.SuggestedProduct)
	}

	return Copy{
		Headline:     pr.Name,
		Tagline:      tagline,
		About:        about,
		Services:     services,
		CallToAction: theme.CTA,
	}
}

// cityOf guesses the locality from a formatted address: the last
// comma-separated part before the country, stripped of a postal code.
func cityOf(address string) string {
	parts := strings.Split(address, ",")
	if len(parts) < 2 {
		return ""
	}
	idx := len(parts) - 1
	if len(parts) >= 3 {
		idx = len(parts) - 2
	}
	fields := strings.Fields(parts[idx])
	for len(fields) > 0 && isPostalCode(fields[0]) {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

func isPostalCode(s string) bool {
	if len(s) < 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
