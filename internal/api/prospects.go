package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/prospector/internal/model"
)

func (s *Server) getProspect(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Store.GetProspect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prospect": p,
		"summary":  model.Summarize(*p),
	})
}

func (s *Server) prospectSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Enricher.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Notes []model.Note `json:"notes"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Enricher.Analyze(r.Context(), chi.URLParam(r, "id"), body.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) deepAnalyze(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Enricher.DeepAnalyze(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Converter.Process(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"lead_id": res.Lead.ID,
		"lead":    res.Lead,
		"created": res.Created,
	})
}

func (s *Server) assign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Converter.Assign(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"), body.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
