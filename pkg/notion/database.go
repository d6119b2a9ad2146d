package notion

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// FindPage returns the first page whose rich text property equals value, or
// nil when none matches.
func FindPage(ctx context.Context, c Client, dbID, property, value string) (*notionapi.Page, error) {
	req := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: property,
			RichText: &notionapi.TextFilterCondition{Equals: value},
		},
		PageSize: 1,
	}
	resp, err := c.QueryDatabase(ctx, dbID, req)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("notion: find page %s=%s", property, value))
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}
