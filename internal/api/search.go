package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/export"
	"github.com/sells-group/prospector/internal/search"
)

func searchRequestFromQuery(r *http.Request) (search.Request, error) {
	q := r.URL.Query()
	req := search.Request{
		Query:    q.Get("query"),
		Location: q.Get("location"),
		Strategy: q.Get("strategy"),
	}
	var err error
	if req.Radius, err = queryFloat(r, "radius"); err != nil {
		return req, err
	}
	if req.Limit, err = queryInt(r, "limit"); err != nil {
		return req, err
	}
	return req, nil
}

func (s *Server) estimate(w http.ResponseWriter, r *http.Request) {
	req, err := searchRequestFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Estimator.Estimate(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Searcher.Search(r.Context(), callerFrom(r.Context()), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sessions, err := s.deps.Searcher.List(r.Context(), callerFrom(r.Context()), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, prospects, err := s.deps.Searcher.Get(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess, "prospects": prospects})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Searcher.Delete(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, prospects, err := s.deps.Searcher.Get(r.Context(), callerFrom(r.Context()), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="busqueda-%s.xlsx"`, id))
	if err := export.SessionXLSX(w, *sess, prospects); err != nil {
		// Headers are already sent; the client sees a truncated file.
		s.log.Error("api: export failed", zap.String("session_id", id), zap.Error(err))
	}
}

func (s *Server) quota(w http.ResponseWriter, r *http.Request) {
	q, err := s.deps.Searcher.Quota(r.Context(), callerFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}
