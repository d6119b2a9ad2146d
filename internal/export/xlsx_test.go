package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/prospector/internal/model"
)

func TestSessionXLSX(t *testing.T) {
	sess := model.SearchSession{
		ID:        "s1",
		Query:     "floristería",
		Location:  "Sevilla",
		Radius:    2000,
		UserID:    "sales-1",
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	prospects := []model.Prospect{
		{
			Name:             "Flores Triana",
			Category:         "Floristería",
			Phone:            "+34 954 000 000",
			Rating:           4.7,
			UserRatingsTotal: 88,
			QualityScore:     64,
			State:            model.StateAnalyzed,
			AIAnalysis:       &model.AIAnalysis{Priority: model.PriorityHigh, Opportunity: "Sin web"},
			Location:         model.Coordinates{Lat: 37.38, Lng: -6.0},
		},
		{Name: "Rosa y Lirio", State: model.StateNew},
	}

	var buf bytes.Buffer
	require.NoError(t, SessionXLSX(&buf, sess, prospects))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)

	sheet, ok := f.Sheet[prospectSheet]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "Nombre", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, len(prospectHeader), len(sheet.Rows[1].Cells))

	first := sheet.Rows[1].Cells
	assert.Equal(t, "Flores Triana", first[0].String())
	assert.Equal(t, "+34 954 000 000", first[3].String())
	score, err := first[7].Float()
	require.NoError(t, err)
	assert.InDelta(t, 64, score, 0.001)
	assert.Equal(t, "high", first[9].String())
	assert.Equal(t, "Sin web", first[10].String())

	second := sheet.Rows[2].Cells
	assert.Equal(t, "Rosa y Lirio", second[0].String())
	assert.Equal(t, "", second[9].String())

	meta, ok := f.Sheet[sessionSheet]
	require.True(t, ok)
	assert.Equal(t, "floristería", meta.Rows[0].Cells[1].String())
	n, err := meta.Rows[3].Cells[1].Int()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSessionXLSX_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SessionXLSX(&buf, model.SearchSession{Query: "bar"}, nil))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, f.Sheet[prospectSheet].Rows, 1)
}
