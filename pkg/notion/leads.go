package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// LeadIDProperty is the rich text column that keys mirrored leads.
const LeadIDProperty = "Lead ID"

// LeadPage is one lead row in the sales database.
type LeadPage struct {
	LeadID   string
	Name     string
	Category string
	Address  string
	Phone    string
	Website  string
	Priority string
	Score    int
	Owner    string
}

// UpsertLead creates the lead page, or refreshes the properties of the page
// already keyed by the same lead ID. It returns the page ID and whether a
// page was created.
func UpsertLead(ctx context.Context, c Client, dbID string, l LeadPage) (string, bool, error) {
	if l.LeadID == "" || l.Name == "" {
		return "", false, eris.New("notion: lead id and name are required")
	}
	existing, err := FindPage(ctx, c, dbID, LeadIDProperty, l.LeadID)
	if err != nil {
		return "", false, err
	}
	if existing != nil {
		id := string(existing.ID)
		if _, err := c.UpdatePage(ctx, id, &notionapi.PageUpdateRequest{Properties: leadProperties(l)}); err != nil {
			return "", false, eris.Wrap(err, "notion: update lead page")
		}
		return id, false, nil
	}

	page, err := c.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: leadProperties(l),
	})
	if err != nil {
		return "", false, eris.Wrap(err, "notion: create lead page")
	}
	return string(page.ID), true, nil
}

func leadProperties(l LeadPage) notionapi.Properties {
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: []notionapi.RichText{richText(l.Name)},
		},
		LeadIDProperty: textProperty(l.LeadID),
		"Score": notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: float64(l.Score),
		},
	}
	if l.Category != "" {
		props["Category"] = textProperty(l.Category)
	}
	if l.Address != "" {
		props["Address"] = textProperty(l.Address)
	}
	if l.Owner != "" {
		props["Owner"] = textProperty(l.Owner)
	}
	if l.Phone != "" {
		props["Phone"] = notionapi.PhoneNumberProperty{
			Type:        notionapi.PropertyTypePhoneNumber,
			PhoneNumber: l.Phone,
		}
	}
	if l.Website != "" {
		props["Website"] = notionapi.URLProperty{
			Type: notionapi.PropertyTypeURL,
			URL:  l.Website,
		}
	}
	if l.Priority != "" {
		props["Priority"] = notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: l.Priority},
		}
	}
	return props
}

func richText(s string) notionapi.RichText {
	return notionapi.RichText{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}
}

func textProperty(s string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: []notionapi.RichText{richText(s)},
	}
}
