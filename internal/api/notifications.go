package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	unread := r.URL.Query().Get("unread") == "true"
	caller := callerFrom(r.Context())
	ns, err := s.deps.Notifications.List(r.Context(), caller.UserID, unread, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": ns})
}

func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	if err := s.deps.Notifications.MarkRead(r.Context(), caller.UserID, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) streamNotifications(w http.ResponseWriter, r *http.Request) {
	if s.deps.Streamer == nil {
		s.writeError(w, r, unavailable("websocket push"))
		return
	}
	caller := callerFrom(r.Context())
	if err := s.deps.Streamer.Serve(w, r, caller.UserID); err != nil {
		s.log.Debug("api: notification stream closed", zap.String("user_id", caller.UserID), zap.Error(err))
	}
}
