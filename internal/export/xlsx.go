// Package export writes search sessions to spreadsheets.
package export

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/prospector/internal/model"
)

// ContentType is the MIME type of SessionXLSX output.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	prospectSheet = "Prospectos"
	sessionSheet  = "Busqueda"
)

var prospectHeader = []string{
	"Nombre", "Categoría", "Dirección", "Teléfono", "Web", "Valoración", "Reseñas",
	"Calidad", "Estado", "Prioridad", "Oportunidad", "Latitud", "Longitud", "Lead",
}

// SessionXLSX writes one row per member prospect, plus a sheet with the
// search parameters.
func SessionXLSX(w io.Writer, sess model.SearchSession, prospects []model.Prospect) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet(prospectSheet)
	if err != nil {
		return eris.Wrap(err, "export: add prospect sheet")
	}
	addStrings(sheet.AddRow(), prospectHeader...)
	for _, p := range prospects {
		writeProspect(sheet.AddRow(), p)
	}

	meta, err := f.AddSheet(sessionSheet)
	if err != nil {
		return eris.Wrap(err, "export: add session sheet")
	}
	addStrings(meta.AddRow(), "Búsqueda", sess.Query)
	addStrings(meta.AddRow(), "Ubicación", sess.Location)
	addNumber(addStrings(meta.AddRow(), "Radio (m)"), float64(sess.Radius))
	addNumber(addStrings(meta.AddRow(), "Resultados"), float64(len(prospects)))
	addStrings(meta.AddRow(), "Usuario", sess.UserID)
	addStrings(meta.AddRow(), "Fecha", sess.CreatedAt.UTC().Format(time.RFC3339))

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}

func writeProspect(row *xlsx.Row, p model.Prospect) {
	addStrings(row, p.Name, p.Category, p.Address, p.Phone, p.Website)
	addNumber(row, p.Rating)
	addNumber(row, float64(p.UserRatingsTotal))
	addNumber(row, float64(p.QualityScore))
	addStrings(row, string(p.State))

	var priority, opportunity string
	if a := p.AIAnalysis; a != nil {
		priority = string(a.Priority)
		opportunity = a.Opportunity
	}
	addStrings(row, priority, opportunity)
	addNumber(row, p.Location.Lat)
	addNumber(row, p.Location.Lng)
	addStrings(row, p.LeadID)
}

func addStrings(row *xlsx.Row, values ...string) *xlsx.Row {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
	return row
}

func addNumber(row *xlsx.Row, v float64) *xlsx.Row {
	row.AddCell().SetFloat(v)
	return row
}
