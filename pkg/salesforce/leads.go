package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Lead is the subset of the Salesforce Lead object the mirror reads back.
type Lead struct {
	ID         string `json:"Id" salesforce:"Id"`
	Company    string `json:"Company" salesforce:"Company"`
	LastName   string `json:"LastName" salesforce:"LastName"`
	Phone      string `json:"Phone" salesforce:"Phone"`
	Website    string `json:"Website" salesforce:"Website"`
	LeadSource string `json:"LeadSource" salesforce:"LeadSource"`
	Status     string `json:"Status" salesforce:"Status"`
}

var leadFields = []string{"Id", "Company", "LastName", "Phone", "Website", "LeadSource", "Status"}

// FindLead looks up an open lead by company name and phone. It returns nil
// when none exists.
func FindLead(ctx context.Context, c Client, company, phone string) (*Lead, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Lead WHERE Company = '%s' AND Phone = '%s' AND IsConverted = false LIMIT 1",
		strings.Join(leadFields, ", "),
		escapeSoql(company),
		escapeSoql(phone),
	)

	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find lead %s", company))
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return &leads[0], nil
}

// CreateLead creates a Lead and returns its Salesforce ID. Company and
// LastName are required by Salesforce.
func CreateLead(ctx context.Context, c Client, fields map[string]any) (string, error) {
	for _, f := range []string{"Company", "LastName"} {
		if v, _ := fields[f].(string); v == "" {
			return "", eris.Errorf("sf: lead %s is required", f)
		}
	}
	id, err := c.InsertOne(ctx, "Lead", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create lead")
	}
	return id, nil
}

// UpdateLead updates fields on an existing Lead.
func UpdateLead(ctx context.Context, c Client, leadID string, fields map[string]any) error {
	if leadID == "" {
		return eris.New("sf: lead id is required")
	}
	if len(fields) == 0 {
		return eris.New("sf: no fields to update")
	}
	if err := c.UpdateOne(ctx, "Lead", leadID, fields); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update lead %s", leadID))
	}
	return nil
}

// escapeSoql escapes backslashes and single quotes in SOQL string literals.
func escapeSoql(s string) string {
	return strings.NewReplacer(`\`, `\\`, "'", `\'`).Replace(s)
}
