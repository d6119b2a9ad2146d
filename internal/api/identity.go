package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/sells-group/prospector/internal/model"
)

// Identity headers set by the authenticating proxy in front of the API.
const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

type callerKey struct{}

// identify rejects requests without a user and stores the caller in the
// request context. An unknown role is treated as sales.
func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerUserID))
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + headerUserID})
			return
		}
		role := strings.ToLower(strings.TrimSpace(r.Header.Get(headerUserRole)))
		if role != model.RoleAdmin {
			role = model.RoleSales
		}
		ctx := context.WithValue(r.Context(), callerKey{}, model.Caller{UserID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// callerFrom returns the caller stored by identify.
func callerFrom(ctx context.Context) model.Caller {
	c, _ := ctx.Value(callerKey{}).(model.Caller)
	return c
}
