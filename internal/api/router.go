// Package api exposes the prospecting core over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/convert"
	"github.com/sells-group/prospector/internal/demo"
	"github.com/sells-group/prospector/internal/enrich"
	"github.com/sells-group/prospector/internal/metrics"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/search"
)

// Searcher runs and manages search sessions.
type Searcher interface {
	Search(ctx context.Context, caller model.Caller, req search.Request) (*search.Result, error)
	Get(ctx context.Context, caller model.Caller, id string) (*model.SearchSession, []model.Prospect, error)
	List(ctx context.Context, caller model.Caller, limit int) ([]model.SearchSession, error)
	Delete(ctx context.Context, caller model.Caller, id string) (model.DeleteResult, error)
	Quota(ctx context.Context, caller model.Caller) (model.QuotaStatus, error)
}

// Estimator previews a search without side effects.
type Estimator interface {
	Estimate(ctx context.Context, req search.Request) (*search.EstimateResult, error)
}

// Enricher runs the AI enrichment stages.
type Enricher interface {
	Analyze(ctx context.Context, prospectID string, notes []model.Note) (*enrich.AnalysisResult, error)
	DeepAnalyze(ctx context.Context, prospectID string) (*enrich.AuditResult, error)
	Summary(ctx context.Context, prospectID string) (model.Summary, error)
}

// Demos publishes and serves demo pages.
type Demos interface {
	Generate(ctx context.Context, caller model.Caller, prospectID, demoType, customPrompt string) (*demo.Generated, error)
	Resolve(ctx context.Context, token string) (*model.DemoPublication, error)
	RecordView(ctx context.Context, token string) (int64, error)
	SubmitContact(ctx context.Context, token string, in demo.ContactInput) (*model.ContactRequest, error)
	Accept(ctx context.Context, token string) (bool, error)
	Revoke(ctx context.Context, demoID string) error
	List(ctx context.Context, prospectID string) ([]model.DemoPublication, error)
	Contacts(ctx context.Context, token string) ([]model.ContactRequest, error)
}

// Converter turns prospects into leads.
type Converter interface {
	Process(ctx context.Context, caller model.Caller, prospectID string) (*convert.Result, error)
	Assign(ctx context.Context, caller model.Caller, prospectID, userID string) error
}

// Notifications lists and acknowledges a user's notifications.
type Notifications interface {
	List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
}

// Streamer upgrades a request to a live notification stream.
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, userID string) error
}

// Store is the read access the API needs directly.
type Store interface {
	GetProspect(ctx context.Context, id string) (*model.Prospect, error)
	Ping(ctx context.Context) error
}

// Deps are the services behind the routes. Streamer is nil when websocket
// push is disabled.
type Deps struct {
	Store         Store
	Searcher      Searcher
	Estimator     Estimator
	Enricher      Enricher
	Demos         Demos
	Converter     Converter
	Notifications Notifications
	Streamer      Streamer
	CORSOrigins   []string
}

// Server holds the route handlers.
type Server struct {
	deps Deps
	log  *zap.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps) http.Handler {
	s := &Server{deps: deps, log: zap.L().With(zap.String("component", "api"))}

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", headerUserID, headerUserRole},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/d/{token}", func(r chi.Router) {
		r.Get("/", s.showDemo)
		r.Post("/contact", s.submitContact)
		r.Post("/accept", s.acceptDemo)
	})

	r.Group(func(r chi.Router) {
		r.Use(identify)

		r.Get("/ws/notifications", s.streamNotifications)

		r.Route("/api", func(r chi.Router) {
			r.Get("/quota", s.quota)

			r.Route("/search", func(r chi.Router) {
				r.Get("/estimate", s.estimate)
				r.Post("/", s.search)
				r.Get("/", s.listSessions)
				r.Get("/{id}", s.getSession)
				r.Delete("/{id}", s.deleteSession)
				r.Get("/{id}/export", s.exportSession)
			})

			r.Route("/prospects/{id}", func(r chi.Router) {
				r.Get("/", s.getProspect)
				r.Get("/summary", s.prospectSummary)
				r.Post("/analyze", s.analyze)
				r.Post("/deep-analyze", s.deepAnalyze)
				r.Post("/process", s.process)
				r.Post("/assign", s.assign)
				r.Post("/demos", s.generateDemo)
				r.Get("/demos", s.listDemos)
			})

			r.Delete("/demos/{id}", s.revokeDemo)
			r.Get("/demos/{id}/contacts", s.demoContacts)

			r.Get("/notifications", s.listNotifications)
			r.Post("/notifications/{id}/read", s.markNotificationRead)
		})
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			s.log.Error("health: store ping failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// recoverer turns handler panics into 500 responses.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error("api: handler panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
