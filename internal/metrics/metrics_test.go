package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/prospects/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/prospects/{id}", "418"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/prospects/abc", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/prospects/{id}", "418"))
	assert.Equal(t, before+1, after)
}

func TestRecordUpstream(t *testing.T) {
	before := testutil.ToFloat64(upstreamCalls.WithLabelValues("places", "error"))
	RecordUpstream("places", errors.New("timeout"))
	RecordUpstream("places", nil)
	assert.Equal(t, before+1, testutil.ToFloat64(upstreamCalls.WithLabelValues("places", "error")))
}

func TestRecordSearch(t *testing.T) {
	before := testutil.ToFloat64(prospectsSaved.WithLabelValues("directory"))
	RecordSearch("ok", 5, 15)
	assert.Equal(t, before+15, testutil.ToFloat64(prospectsSaved.WithLabelValues("directory")))
}
