package convert

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/pkg/notion"
	"github.com/sells-group/prospector/pkg/salesforce"
)

// Sink mirrors a created lead into an external CRM. Sync must be idempotent.
type Sink interface {
	Name() string
	Sync(ctx context.Context, lead model.Lead, p model.Prospect) error
}

// SalesforceSink creates a Salesforce Lead, or refreshes the details of an
// open one that already exists for the same company and phone.
type SalesforceSink struct {
	client salesforce.Client
	guard  *resilience.Guard
}

// NewSalesforceSink creates a Salesforce sink.
func NewSalesforceSink(c salesforce.Client, g *resilience.Guard) *SalesforceSink {
	if g == nil {
		g = resilience.NewGuard("salesforce", resilience.GuardConfig{})
	}
	return &SalesforceSink{client: c, guard: g}
}

// Name implements Sink.
func (s *SalesforceSink) Name() string { return "salesforce" }

// Sync implements Sink.
func (s *SalesforceSink) Sync(ctx context.Context, lead model.Lead, p model.Prospect) error {
	_, err := resilience.Call(ctx, s.guard, func(ctx context.Context) (string, error) {
		existing, err := salesforce.FindLead(ctx, s.client, lead.Name, lead.Phone)
		if err != nil {
			return "", err
		}
		fields := salesforceFields(lead, p)
		if existing == nil {
			return salesforce.CreateLead(ctx, s.client, fields)
		}
		refresh := refreshFields(fields)
		if len(refresh) == 0 {
			return existing.ID, nil
		}
		return existing.ID, salesforce.UpdateLead(ctx, s.client, existing.ID, refresh)
	})
	return err
}

func salesforceFields(lead model.Lead, p model.Prospect) map[string]any {
	fields := map[string]any{
		"Company":    lead.Name,
		"LastName":   lead.Name,
		"LeadSource": model.LeadSource,
		"Status":     "Open - Not Contacted",
	}
	if lead.Phone != "" {
		fields["Phone"] = lead.Phone
	}
	if lead.Website != "" {
		fields["Website"] = lead.Website
	}
	if lead.Address != "" {
		fields["Street"] = lead.Address
	}
	if p.Category != "" {
		fields["Industry"] = p.Category
	}
	if lead.EstimatedValue != nil {
		fields["AnnualRevenue"] = *lead.EstimatedValue
	}
	if sum := model.Summarize(p); sum.Source != "none" {
		fields["Description"] = sum.Headline + "\n\n" + sum.Detail
	}
	return fields
}

// refreshFields drops the fields a sales rep may have changed since the
// lead was first mirrored.
func refreshFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case "Company", "LastName", "LeadSource", "Status":
			continue
		}
		out[k] = v
	}
	return out
}

// NotionSink writes one page per lead into a Notion database keyed by lead ID.
type NotionSink struct {
	client notion.Client
	dbID   string
	guard  *resilience.Guard
}

// NewNotionSink creates a Notion sink for the given database.
func NewNotionSink(c notion.Client, dbID string, g *resilience.Guard) (*NotionSink, error) {
	if dbID == "" {
		return nil, eris.New("convert: notion lead database is required")
	}
	if g == nil {
		g = resilience.NewGuard("notion", resilience.GuardConfig{})
	}
	return &NotionSink{client: c, dbID: dbID, guard: g}, nil
}

// Name implements Sink.
func (s *NotionSink) Name() string { return "notion" }

// Sync implements Sink.
func (s *NotionSink) Sync(ctx context.Context, lead model.Lead, p model.Prospect) error {
	page := notion.LeadPage{
		LeadID:   lead.ID,
		Name:     lead.Name,
		Category: p.Category,
		Address:  lead.Address,
		Phone:    lead.Phone,
		Website:  lead.Website,
		Score:    p.QualityScore,
		Owner:    lead.OwnerUser,
	}
	if p.AIAnalysis != nil {
		page.Priority = string(p.AIAnalysis.Priority)
	}
	_, err := resilience.Call(ctx, s.guard, func(ctx context.Context) (string, error) {
		id, _, err := notion.UpsertLead(ctx, s.client, s.dbID, page)
		return id, err
	})
	return err
}
