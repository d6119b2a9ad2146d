package convert

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/notify"
)

var leadMailTmpl = template.Must(template.New("lead").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<h2>Nuevo lead: {{.Name}}</h2>
<table cellpadding="4">
{{if .Address}}<tr><td><b>Dirección</b></td><td>{{.Address}}</td></tr>{{end}}
{{if .Phone}}<tr><td><b>Teléfono</b></td><td>{{.Phone}}</td></tr>{{end}}
{{if .Website}}<tr><td><b>Web</b></td><td><a href="{{.Website}}">{{.Website}}</a></td></tr>{{end}}
{{if .OwnerUser}}<tr><td><b>Responsable</b></td><td>{{.OwnerUser}}</td></tr>{{end}}
{{with .EstimatedValue}}<tr><td><b>Valor estimado</b></td><td>{{.}}</td></tr>{{end}}
</table>
</body></html>`))

// leadMailView shadows the lead's optional value with its display text.
type leadMailView struct {
	model.Lead
	EstimatedValue string
}

func leadMail(lead model.Lead, to []string) (notify.Mail, error) {
	view := leadMailView{Lead: lead}
	if lead.EstimatedValue != nil {
		view.EstimatedValue = fmt.Sprintf("%.0f", *lead.EstimatedValue)
	}

	var buf bytes.Buffer
	if err := leadMailTmpl.Execute(&buf, view); err != nil {
		return notify.Mail{}, eris.Wrap(err, "convert: render lead email")
	}
	text := fmt.Sprintf("Nuevo lead: %s\nTeléfono: %s\nWeb: %s\n", lead.Name, lead.Phone, lead.Website)
	if view.EstimatedValue != "" {
		text += "Valor estimado: " + view.EstimatedValue + "\n"
	}
	return notify.Mail{
		To:      to,
		Subject: "Nuevo lead: " + lead.Name,
		Text:    text,
		HTML:    buf.String(),
	}, nil
}

func (s *Service) emailAdmins(ctx context.Context, lead model.Lead) error {
	admins, err := s.store.ListUsersByRole(ctx, model.RoleAdmin)
	if err != nil {
		return eris.Wrap(err, "convert: list admins")
	}
	var to []string
	for _, u := range admins {
		if u.Email != "" {
			to = append(to, u.Email)
		}
	}
	if len(to) == 0 {
		return nil
	}
	m, err := leadMail(lead, to)
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, m); err != nil {
		return eris.Wrap(err, "convert: email admins")
	}
	return nil
}
