package api

import (
	"errors"
	"html/template"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/demo"
	"github.com/sells-group/prospector/internal/model"
)

var thanksTmpl = template.Must(template.New("thanks").Parse(`<!doctype html>
<html lang="es"><head><meta charset="utf-8"><meta name="robots" content="noindex">
<title>{{.Title}}</title></head>
<body style="font-family:sans-serif;text-align:center;padding:4rem 1rem">
<h1>{{.Title}}</h1><p>{{.Message}}</p>
<p><a href="/d/{{.Token}}">Volver</a></p>
</body></html>`))

func (s *Server) generateDemo(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DemoType     string `json:"demo_type"`
		CustomPrompt string `json:"custom_prompt"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	gen, err := s.deps.Demos.Generate(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"), body.DemoType, body.CustomPrompt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      gen.Demo.ID,
		"token":   gen.Token,
		"url":     gen.PublicURL,
		"ai_copy": gen.AICopy,
	})
}

func (s *Server) listDemos(w http.ResponseWriter, r *http.Request) {
	demos, err := s.deps.Demos.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for i := range demos {
		demos[i].RenderedContent = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{"demos": demos})
}

func (s *Server) revokeDemo(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Demos.Revoke(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// demoContacts lists contact requests for a demo. The path segment is the
// public token; it shares the {id} name with the revoke route.
func (s *Server) demoContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.deps.Demos.Contacts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

// showDemo serves the public page and counts the view. A failed count never
// blocks the page.
func (s *Server) showDemo(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	d, err := s.deps.Demos.Resolve(r.Context(), token)
	if err != nil {
		s.writePublicError(w, r, err)
		return
	}
	if _, err := s.deps.Demos.RecordView(r.Context(), token); err != nil {
		s.log.Warn("api: record demo view", zap.String("token", token), zap.Error(err))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Robots-Tag", "noindex")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(d.RenderedContent))
}

// submitContact accepts the page's HTML form or a JSON body.
func (s *Server) submitContact(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	var in demo.ContactInput
	asForm := !isJSON(r)
	if asForm {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			s.writePublicError(w, r, model.Invalid("body", "malformed form"))
			return
		}
		in = demo.ContactInput{
			Name:    r.PostForm.Get("name"),
			Email:   r.PostForm.Get("email"),
			Phone:   r.PostForm.Get("phone"),
			Message: r.PostForm.Get("message"),
		}
	} else if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := s.deps.Demos.SubmitContact(r.Context(), token, in); err != nil {
		if asForm {
			s.writePublicError(w, r, err)
		} else {
			s.writeError(w, r, err)
		}
		return
	}
	if asForm {
		s.writeThanks(w, token, "Mensaje enviado", "Gracias, te contactaremos muy pronto.")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) acceptDemo(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	first, err := s.deps.Demos.Accept(r.Context(), token)
	if err != nil {
		if isJSON(r) {
			s.writeError(w, r, err)
		} else {
			s.writePublicError(w, r, err)
		}
		return
	}
	if isJSON(r) {
		writeJSON(w, http.StatusOK, map[string]bool{"accepted": true, "first": first})
		return
	}
	s.writeThanks(w, token, "Propuesta aceptada", "Gracias, nos pondremos en contacto contigo.")
}

// writePublicError renders a plain page for visitors.
func (s *Server) writePublicError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := "Esta página no está disponible."
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		msg = "Revisa el formulario: " + verr.Field + " " + verr.Message
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("api: public request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func (s *Server) writeThanks(w http.ResponseWriter, token, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := thanksTmpl.Execute(w, map[string]string{"Title": title, "Message": message, "Token": token}); err != nil {
		s.log.Warn("api: render thanks page", zap.Error(err))
	}
}

func isJSON(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/json"
}
