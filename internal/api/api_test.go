package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/prospector/internal/convert"
	"github.com/sells-group/prospector/internal/demo"
	"github.com/sells-group/prospector/internal/enrich"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/search"
)

type fixture struct {
	store     *mockStore
	searcher  *mockSearcher
	estimator *mockEstimator
	enricher  *mockEnricher
	demos     *mockDemos
	converter *mockConverter
	notes     *mockNotifications
	handler   http.Handler
}

func newFixture(t *testing.T, streamer Streamer) *fixture {
	t.Helper()
	f := &fixture{
		store:     new(mockStore),
		searcher:  new(mockSearcher),
		estimator: new(mockEstimator),
		enricher:  new(mockEnricher),
		demos:     new(mockDemos),
		converter: new(mockConverter),
		notes:     new(mockNotifications),
	}
	f.handler = NewRouter(Deps{
		Store:         f.store,
		Searcher:      f.searcher,
		Estimator:     f.estimator,
		Enricher:      f.enricher,
		Demos:         f.demos,
		Converter:     f.converter,
		Notifications: f.notes,
		Streamer:      streamer,
	})
	return f
}

var (
	salesCaller = model.Caller{UserID: "u-sales", Role: model.RoleSales}
	adminCaller = model.Caller{UserID: "u-admin", Role: model.RoleAdmin}
)

func (f *fixture) do(method, target string, body any, caller *model.Caller) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != nil {
		req.Header.Set(headerUserID, caller.UserID)
		req.Header.Set(headerUserRole, caller.Role)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	f.store.On("Ping", mock.Anything).Return(nil).Once()
	rec := f.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	f.store.On("Ping", mock.Anything).Return(errors.New("db down")).Once()
	rec = f.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestIdentityRequired(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/api/quota", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	f.searcher.AssertNotCalled(t, "Quota", mock.Anything, mock.Anything)
}

func TestIdentity_UnknownRoleIsSales(t *testing.T) {
	f := newFixture(t, nil)
	f.searcher.On("Quota", mock.Anything, model.Caller{UserID: "u1", Role: model.RoleSales}).
		Return(model.QuotaStatus{Used: 1, Limit: 10, Remaining: 9}, nil).Once()

	rec := f.do(http.MethodGet, "/api/quota", nil, &model.Caller{UserID: "u1", Role: "superuser"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 9, decodeBody(t, rec)["remaining"])
}

func TestEstimate_ParsesQuery(t *testing.T) {
	f := newFixture(t, nil)
	want := search.Request{Query: "panadería", Location: "Bilbao", Radius: 1500, Limit: 40}
	f.estimator.On("Estimate", mock.Anything, want).
		Return(&search.EstimateResult{ExistingCount: 3, NewCount: 17, DisplayCount: 20}, nil).Once()

	q := url.Values{"query": {"panadería"}, "location": {"Bilbao"}, "radius": {"1500"}, "limit": {"40"}}
	rec := f.do(http.MethodGet, "/api/search/estimate?"+q.Encode(), nil, &salesCaller)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 3, body["existing_count"])
	assert.EqualValues(t, 17, body["new_count"])
}

func TestEstimate_BadNumber(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/api/search/estimate?radius=far", nil, &salesCaller)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "radius", decodeBody(t, rec)["field"])
	f.estimator.AssertNotCalled(t, "Estimate", mock.Anything, mock.Anything)
}

func TestSearch_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", model.Invalid("limit", "must be one of [20 40 60]"), http.StatusBadRequest},
		{"quota", eris.Wrap(model.ErrQuotaExceeded, "search: reserve quota"), http.StatusTooManyRequests},
		{"upstream", eris.Wrap(model.ErrUpstreamUnavailable, "search: geocode"), http.StatusServiceUnavailable},
		{"internal", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.searcher.On("Search", mock.Anything, salesCaller, mock.Anything).Return(nil, tt.err).Once()

			rec := f.do(http.MethodPost, "/api/search", map[string]any{"query": "bar", "location": "Madrid", "radius": 1000}, &salesCaller)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, rec.Body.String(), "disk full")
			}
		})
	}
}

func TestSearch_Created(t *testing.T) {
	f := newFixture(t, nil)
	want := search.Request{Query: "bar", Location: "Madrid", Radius: 1000, Limit: 20, Strategy: "fresh"}
	f.searcher.On("Search", mock.Anything, adminCaller, want).Return(&search.Result{
		Session: &model.SearchSession{ID: "s1"},
		Saved:   []model.Prospect{{ID: "p1"}},
	}, nil).Once()

	rec := f.do(http.MethodPost, "/api/search", want, &adminCaller)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "s1", body["session"].(map[string]any)["id"])
}

func TestSearch_MalformedBody(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodPost, "/api/search", `{"query":`, &salesCaller)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessions(t *testing.T) {
	f := newFixture(t, nil)
	f.searcher.On("List", mock.Anything, salesCaller, 5).Return([]model.SearchSession{{ID: "s1"}}, nil).Once()
	f.searcher.On("Get", mock.Anything, salesCaller, "s2").
		Return(nil, nil, eris.Wrap(model.ErrForbidden, "search session \"s2\" belongs to another user")).Once()
	f.searcher.On("Get", mock.Anything, salesCaller, "nope").Return(nil, nil, model.NotFound("search session", "nope")).Once()
	f.searcher.On("Delete", mock.Anything, salesCaller, "s1").Return(model.DeleteResult{Deleted: 4, Detached: 1}, nil).Once()

	rec := f.do(http.MethodGet, "/api/search?limit=5", nil, &salesCaller)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["sessions"], 1)

	rec = f.do(http.MethodGet, "/api/search/s2", nil, &salesCaller)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/api/search/nope", nil, &salesCaller)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodDelete, "/api/search/s1", nil, &salesCaller)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 4, body["deleted"])
	assert.EqualValues(t, 1, body["detached"])
}

func TestExportSession(t *testing.T) {
	f := newFixture(t, nil)
	f.searcher.On("Get", mock.Anything, salesCaller, "s1").
		Return(&model.SearchSession{ID: "s1", Query: "bar"}, []model.Prospect{{Name: "Bar Pepe"}}, nil).Once()

	rec := f.do(http.MethodGet, "/api/search/s1/export", nil, &salesCaller)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "busqueda-s1.xlsx")

	file, err := xlsx.OpenBinary(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Bar Pepe", file.Sheets[0].Rows[1].Cells[0].String())
}

func TestGetProspect(t *testing.T) {
	f := newFixture(t, nil)
	f.store.On("GetProspect", mock.Anything, "p1").Return(&model.Prospect{
		ID:         "p1",
		Name:       "Bar Pepe",
		AIAnalysis: &model.AIAnalysis{Priority: model.PriorityHigh, Opportunity: "Sin web"},
	}, nil).Once()

	rec := f.do(http.MethodGet, "/api/prospects/p1", nil, &salesCaller)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody(t, rec)["summary"].(map[string]any)
	assert.Equal(t, "ai_analysis", summary["source"])
	assert.Equal(t, "Sin web", summary["headline"])
}

func TestProspectSummary(t *testing.T) {
	f := newFixture(t, nil)
	f.enricher.On("Summary", mock.Anything, "p1").
		Return(model.Summary{Source: "sales_intelligence", Headline: "Sin web", Priority: "high"}, nil).Once()
	f.enricher.On("Summary", mock.Anything, "nope").
		Return(model.Summary{}, model.NotFound("prospect", "nope")).Once()

	rec := f.do(http.MethodGet, "/api/prospects/p1/summary", nil, &salesCaller)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "sales_intelligence", body["source"])
	assert.Equal(t, "Sin web", body["headline"])

	rec = f.do(http.MethodGet, "/api/prospects/nope/summary", nil, &salesCaller)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	f.enricher.AssertExpectations(t)
}

func TestAnalyze_PassesNotes(t *testing.T) {
	f := newFixture(t, nil)
	notes := []model.Note{{Text: "Cierra los lunes", UseForAnalysis: true}}
	f.enricher.On("Analyze", mock.Anything, "p1", notes).
		Return(&enrich.AnalysisResult{Analysis: model.AIAnalysis{Priority: model.PriorityMedium, Score: 55}}, nil).Once()

	rec := f.do(http.MethodPost, "/api/prospects/p1/analyze", map[string]any{"notes": notes}, &salesCaller)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "medium", decodeBody(t, rec)["ai_analysis"].(map[string]any)["priority"])
}

func TestAnalyze_EmptyBody(t *testing.T) {
	f := newFixture(t, nil)
	f.enricher.On("Analyze", mock.Anything, "p1", []model.Note(nil)).
		Return(&enrich.AnalysisResult{}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/api/prospects/p1/analyze", nil)
	req.Header.Set(headerUserID, "u1")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeepAnalyze_Upstream(t *testing.T) {
	f := newFixture(t, nil)
	f.enricher.On("DeepAnalyze", mock.Anything, "p1").
		Return(nil, eris.Wrap(model.ErrUpstreamUnavailable, "anthropic")).Once()

	rec := f.do(http.MethodPost, "/api/prospects/p1/deep-analyze", nil, &salesCaller)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProcess(t *testing.T) {
	f := newFixture(t, nil)
	lead := &model.Lead{ID: "l1", ProspectID: "p1"}
	f.converter.On("Process", mock.Anything, salesCaller, "p1").Return(&convert.Result{Lead: lead, Created: true}, nil).Once()
	f.converter.On("Process", mock.Anything, salesCaller, "p1").Return(&convert.Result{Lead: lead}, nil).Once()

	rec := f.do(http.MethodPost, "/api/prospects/p1/process", nil, &salesCaller)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "l1", decodeBody(t, rec)["lead_id"])

	rec = f.do(http.MethodPost, "/api/prospects/p1/process", nil, &salesCaller)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "l1", body["lead_id"])
	assert.Equal(t, false, body["created"])
}

func TestAssign(t *testing.T) {
	f := newFixture(t, nil)
	f.converter.On("Assign", mock.Anything, salesCaller, "p1", "u2").
		Return(eris.Wrap(model.ErrForbidden, "convert: assign requires admin")).Once()
	f.converter.On("Assign", mock.Anything, adminCaller, "p1", "u2").Return(nil).Once()

	rec := f.do(http.MethodPost, "/api/prospects/p1/assign", map[string]string{"user_id": "u2"}, &salesCaller)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/api/prospects/p1/assign", map[string]string{"user_id": "u2"}, &adminCaller)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGenerateDemo(t *testing.T) {
	f := newFixture(t, nil)
	f.demos.On("Generate", mock.Anything, salesCaller, "p1", "restaurant", "tono cercano").Return(&demo.Generated{
		Demo:      &model.DemoPublication{ID: "d1"},
		Token:     "tok",
		PublicURL: "https://demo.example/d/tok",
		AICopy:    true,
	}, nil).Once()

	rec := f.do(http.MethodPost, "/api/prospects/p1/demos",
		map[string]string{"demo_type": "restaurant", "custom_prompt": "tono cercano"}, &salesCaller)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "tok", body["token"])
	assert.Equal(t, "https://demo.example/d/tok", body["url"])
}

func TestListDemos_OmitsRenderedContent(t *testing.T) {
	f := newFixture(t, nil)
	f.demos.On("List", mock.Anything, "p1").
		Return([]model.DemoPublication{{ID: "d1", Token: "tok", RenderedContent: "<html>big</html>"}}, nil).Once()

	rec := f.do(http.MethodGet, "/api/prospects/p1/demos", nil, &salesCaller)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<html>big</html>")
}

func TestRevokeAndContacts(t *testing.T) {
	f := newFixture(t, nil)
	f.demos.On("Revoke", mock.Anything, "d1").Return(nil).Once()
	f.demos.On("Contacts", mock.Anything, "tok").Return([]model.ContactRequest{{Name: "Ana"}}, nil).Once()

	rec := f.do(http.MethodDelete, "/api/demos/d1", nil, &adminCaller)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/api/demos/tok/contacts", nil, &adminCaller)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["contacts"], 1)
}

func TestShowDemo(t *testing.T) {
	f := newFixture(t, nil)
	f.demos.On("Resolve", mock.Anything, "tok").Return(&model.DemoPublication{RenderedContent: "<h1>Bar Pepe</h1>"}, nil).Once()
	f.demos.On("RecordView", mock.Anything, "tok").Return(int64(0), errors.New("counter down")).Once()
	f.demos.On("Resolve", mock.Anything, "gone").Return(nil, model.NotFound("demo", "gone")).Once()

	rec := f.do(http.MethodGet, "/d/tok", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<h1>Bar Pepe</h1>", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	rec = f.do(http.MethodGet, "/d/gone", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	f.demos.AssertNotCalled(t, "RecordView", mock.Anything, "gone")
}

func TestSubmitContact_Form(t *testing.T) {
	f := newFixture(t, nil)
	in := demo.ContactInput{Name: "Ana", Email: "ana@example.com", Message: "Hola"}
	f.demos.On("SubmitContact", mock.Anything, "tok", in).Return(&model.ContactRequest{ID: "c1"}, nil).Once()
	f.demos.On("SubmitContact", mock.Anything, "tok", demo.ContactInput{}).
		Return(nil, model.Invalid("name", "is required")).Once()

	form := url.Values{"name": {"Ana"}, "email": {"ana@example.com"}, "message": {"Hola"}}
	req := httptest.NewRequest(http.MethodPost, "/d/tok/contact", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Mensaje enviado")

	req = httptest.NewRequest(http.MethodPost, "/d/tok/contact", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "name")
}

func TestSubmitContact_JSON(t *testing.T) {
	f := newFixture(t, nil)
	in := demo.ContactInput{Name: "Ana", Phone: "600000000"}
	f.demos.On("SubmitContact", mock.Anything, "tok", in).Return(&model.ContactRequest{ID: "c1"}, nil).Once()

	rec := f.do(http.MethodPost, "/d/tok/contact", in, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestAcceptDemo(t *testing.T) {
	f := newFixture(t, nil)
	f.demos.On("Accept", mock.Anything, "tok").Return(true, nil).Once()
	f.demos.On("Accept", mock.Anything, "tok").Return(false, nil).Once()

	rec := f.do(http.MethodPost, "/d/tok/accept", map[string]any{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["first"])

	req := httptest.NewRequest(http.MethodPost, "/d/tok/accept", nil)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Propuesta aceptada")
}

func TestNotifications(t *testing.T) {
	f := newFixture(t, nil)
	f.notes.On("List", mock.Anything, "u-sales", true, 10).
		Return([]model.Notification{{ID: "n1", Type: model.NotifyDemoViewed}}, nil).Once()
	f.notes.On("MarkRead", mock.Anything, "u-sales", "n1").Return(nil).Once()
	f.notes.On("MarkRead", mock.Anything, "u-sales", "n2").Return(model.NotFound("notification", "n2")).Once()

	rec := f.do(http.MethodGet, "/api/notifications?unread=true&limit=10", nil, &salesCaller)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["notifications"], 1)

	rec = f.do(http.MethodPost, "/api/notifications/n1/read", nil, &salesCaller)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodPost, "/api/notifications/n2/read", nil, &salesCaller)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotificationStream(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/ws/notifications", nil, &salesCaller)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	streamer := &stubStreamer{}
	f = newFixture(t, streamer)
	rec = f.do(http.MethodGet, "/ws/notifications", nil, &salesCaller)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-sales", streamer.userID)
}

func TestRecoverer(t *testing.T) {
	f := newFixture(t, nil)
	f.store.On("GetProspect", mock.Anything, "boom").Return(nil, nil).Run(func(mock.Arguments) {
		panic("nil map")
	}).Once()

	rec := f.do(http.MethodGet, "/api/prospects/boom", nil, &salesCaller)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.Invalid("radius", "too big"), http.StatusBadRequest},
		{model.NotFound("prospect", "x"), http.StatusNotFound},
		{eris.Wrap(model.ErrForbidden, "x"), http.StatusForbidden},
		{eris.Wrap(model.ErrQuotaExceeded, "x"), http.StatusTooManyRequests},
		{eris.Wrap(model.ErrAlreadyProcessed, "x"), http.StatusConflict},
		{eris.Wrap(model.ErrConflict, "x"), http.StatusConflict},
		{eris.Wrap(model.ErrUpstreamUnavailable, "x"), http.StatusServiceUnavailable},
		{errors.New("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
