package convert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/notify"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/internal/store"
	"github.com/sells-group/prospector/pkg/salesforce"
)

var (
	admin = model.Caller{UserID: "admin-1", Role: model.RoleAdmin}
	sales = model.Caller{UserID: "sales-1", Role: model.RoleSales}
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, model.Notification) error {
	return errors.New("push refused")
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []notify.Mail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, mail notify.Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mail)
	return m.err
}

type recordingSink struct {
	mu    sync.Mutex
	leads []model.Lead
	err   error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Sync(_ context.Context, lead model.Lead, _ model.Prospect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads = append(s.leads, lead)
	return s.err
}

func setup(t *testing.T) (*store.MemoryStore, model.Prospect) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	for _, u := range []model.User{
		{ID: "admin-1", Role: model.RoleAdmin, Email: "ana@example.com"},
		{ID: "admin-2", Role: model.RoleAdmin, Email: "luis@example.com"},
		{ID: "admin-3", Role: model.RoleAdmin},
		{ID: "sales-1", Role: model.RoleSales, Email: "sara@example.com"},
	} {
		require.NoError(t, st.UpsertUser(ctx, u))
	}
	_, saved, err := st.CreateSession(ctx, store.NewSession{
		Session: model.SearchSession{UserID: "sales-1", Query: "peluqueria"},
		Fetched: []model.Prospect{{
			ExternalID: "places/xyz",
			Name:       "Peluquería Marta",
			Category:   "Peluquería",
			Address:    "Calle Luna 3, Valencia",
			Location:   model.Coordinates{Lat: 39.47, Lng: -0.37},
			Phone:      "+34 960 000 000",
			Rating:     4.4,
		}},
	})
	require.NoError(t, err)
	require.Len(t, saved, 1)
	return st, saved[0]
}

func TestProcess_ConcurrentCallsCreateOneLead(t *testing.T) {
	st, p := setup(t)
	fan := notify.NewFanout(st, nil)
	svc := NewService(st, fan)

	const callers = 20
	results := make([]*Result, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Process(context.Background(), sales, p.ID)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()
	fan.Wait()

	assert.Equal(t, 1, st.LeadCount())
	created := 0
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, results[0].Lead.ID, r.Lead.ID)
		if r.Created {
			created++
		}
	}
	assert.GreaterOrEqual(t, created, 1)

	for _, id := range []string{"admin-1", "admin-2", "admin-3"} {
		ns, err := st.ListNotifications(context.Background(), id, false, 0)
		require.NoError(t, err)
		assert.Len(t, ns, 1, id)
	}
}

func TestProcess_IdempotentReturn(t *testing.T) {
	st, p := setup(t)
	fan := notify.NewFanout(st, nil)
	svc := NewService(st, fan)
	ctx := context.Background()

	first, err := svc.Process(ctx, sales, p.ID)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, model.LeadSource, first.Lead.Source)
	assert.Equal(t, "sales-1", first.Lead.OwnerUser)

	second, err := svc.Process(ctx, sales, p.ID)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Lead.ID, second.Lead.ID)

	got, err := st.GetProspect(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.Equal(t, first.Lead.ID, got.LeadID)
	assert.Equal(t, model.StateConverted, got.State)

	fan.Wait()
	ns, err := st.ListNotifications(ctx, "admin-1", false, 0)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, model.NotifyNewLead, ns[0].Type)
	assert.Equal(t, "/prospects/"+p.ID, ns[0].Link)
}

func TestProcess_SideEffectFailuresDoNotFailConversion(t *testing.T) {
	st, p := setup(t)
	fan := notify.NewFanout(st, failingPublisher{})
	mailer := &recordingMailer{err: errors.New("smtp down")}
	sink := &recordingSink{err: errors.New("crm down")}
	svc := NewService(st, fan, WithMailer(mailer), WithSinks(sink))

	res, err := svc.Process(context.Background(), sales, p.ID)
	require.NoError(t, err)
	assert.True(t, res.Created)
	fan.Wait()

	require.Len(t, mailer.sent, 1)
	assert.ElementsMatch(t, []string{"ana@example.com", "luis@example.com"}, mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].Subject, "Peluquería Marta")
	require.Len(t, sink.leads, 1)
	assert.Equal(t, res.Lead.ID, sink.leads[0].ID)

	// Rows are still persisted even though every push failed.
	ns, err := st.ListNotifications(context.Background(), "admin-2", false, 0)
	require.NoError(t, err)
	assert.Len(t, ns, 1)
}

func TestProcess_SideEffectsRunOnlyOnCreate(t *testing.T) {
	st, p := setup(t)
	fan := notify.NewFanout(st, nil)
	mailer := &recordingMailer{}
	sink := &recordingSink{}
	svc := NewService(st, fan, WithMailer(mailer), WithSinks(sink))

	for range 3 {
		_, err := svc.Process(context.Background(), sales, p.ID)
		require.NoError(t, err)
	}
	fan.Wait()
	assert.Len(t, mailer.sent, 1)
	assert.Len(t, sink.leads, 1)
}

func TestProcess_SurvivesCancelledCaller(t *testing.T) {
	st, p := setup(t)
	fan := notify.NewFanout(st, nil)
	svc := NewService(st, fan)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := svc.Process(ctx, sales, p.ID)
	require.NoError(t, err)
	assert.True(t, res.Created)
	fan.Wait()
}

func TestProcess_Errors(t *testing.T) {
	st, _ := setup(t)
	svc := NewService(st, notify.NewFanout(st, nil))

	_, err := svc.Process(context.Background(), sales, " ")
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = svc.Process(context.Background(), sales, "missing")
	assert.True(t, model.IsNotFound(err))
	assert.Equal(t, 0, st.LeadCount())
}

func TestAssign(t *testing.T) {
	st, p := setup(t)
	svc := NewService(st, nil)
	ctx := context.Background()

	err := svc.Assign(ctx, sales, p.ID, "sales-1")
	assert.ErrorIs(t, err, model.ErrForbidden)

	err = svc.Assign(ctx, admin, p.ID, "nobody")
	assert.True(t, model.IsNotFound(err))

	err = svc.Assign(ctx, admin, p.ID, "")
	assert.ErrorIs(t, err, model.ErrValidation)

	require.NoError(t, svc.Assign(ctx, admin, p.ID, "sales-1"))
	got, err := st.GetProspect(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "sales-1", got.AssignedUser)

	// The assignee owns the lead even when an admin converts it.
	res, err := svc.Process(ctx, admin, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "sales-1", res.Lead.OwnerUser)
}

func TestLeadMail_EscapesContent(t *testing.T) {
	value := 1200.0
	m, err := leadMail(model.Lead{
		Name:           "Bar <script>",
		Phone:          "+34 1",
		Website:        "https://bar.example",
		EstimatedValue: &value,
	}, []string{"ana@example.com"})
	require.NoError(t, err)
	assert.Contains(t, m.HTML, "Bar &lt;script&gt;")
	assert.Contains(t, m.HTML, "<td>1200</td>")
	assert.NotContains(t, m.HTML, "%!")
	assert.NotContains(t, m.HTML, "Dirección")
	assert.Contains(t, m.Text, "Teléfono: +34 1")
	assert.Contains(t, m.Text, "Valor estimado: 1200")
}

func TestLeadMail_WithoutEstimatedValue(t *testing.T) {
	m, err := leadMail(model.Lead{Name: "Bar Pepe"}, []string{"ana@example.com"})
	require.NoError(t, err)
	assert.NotContains(t, m.HTML, "Valor estimado")
	assert.NotContains(t, m.Text, "Valor estimado")
}

type mockSFClient struct {
	mock.Mock
}

func (m *mockSFClient) Query(ctx context.Context, soql string, out any) error {
	args := m.Called(ctx, soql, out)
	if leads, ok := args.Get(1).([]salesforce.Lead); ok {
		*(out.(*[]salesforce.Lead)) = leads
	}
	return args.Error(0)
}

func (m *mockSFClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	args := m.Called(ctx, sObjectName, record)
	return args.String(0), args.Error(1)
}

func (m *mockSFClient) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	args := m.Called(ctx, sObjectName, id, fields)
	return args.Error(0)
}

func fastGuard(name string) *resilience.Guard {
	return resilience.NewGuard(name, resilience.GuardConfig{Timeout: time.Second, MaxAttempts: 1})
}

func TestSalesforceSink_CreatesLead(t *testing.T) {
	sf := new(mockSFClient)
	sf.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil, []salesforce.Lead{}).Once()
	sf.On("InsertOne", mock.Anything, "Lead", mock.MatchedBy(func(f map[string]any) bool {
		return f["Company"] == "Peluquería Marta" &&
			f["LeadSource"] == model.LeadSource &&
			f["Phone"] == "+34 960 000 000" &&
			f["Industry"] == "Peluquería"
	})).Return("00Qnew", nil).Once()

	sink := NewSalesforceSink(sf, fastGuard("salesforce"))
	err := sink.Sync(context.Background(),
		model.Lead{ID: "l1", Name: "Peluquería Marta", Phone: "+34 960 000 000"},
		model.Prospect{Category: "Peluquería"},
	)
	require.NoError(t, err)
	sf.AssertExpectations(t)
}

func TestSalesforceSink_RefreshesExistingLead(t *testing.T) {
	sf := new(mockSFClient)
	sf.On("Query", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, []salesforce.Lead{{ID: "00Qold"}}).Once()
	sf.On("UpdateOne", mock.Anything, "Lead", "00Qold", mock.MatchedBy(func(f map[string]any) bool {
		_, status := f["Status"]
		_, company := f["Company"]
		return f["Website"] == "https://marta.es" && f["Industry"] == "Peluquería" && !status && !company
	})).Return(nil).Once()

	sink := NewSalesforceSink(sf, fastGuard("salesforce"))
	err := sink.Sync(context.Background(),
		model.Lead{Name: "Peluquería Marta", Website: "https://marta.es"},
		model.Prospect{Category: "Peluquería"},
	)
	require.NoError(t, err)
	sf.AssertExpectations(t)
	sf.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestSalesforceSink_ExistingLeadWithNothingToRefresh(t *testing.T) {
	sf := new(mockSFClient)
	sf.On("Query", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, []salesforce.Lead{{ID: "00Qold"}}).Once()

	sink := NewSalesforceSink(sf, fastGuard("salesforce"))
	require.NoError(t, sink.Sync(context.Background(), model.Lead{Name: "Bar"}, model.Prospect{}))
	sf.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything, mock.Anything)
	sf.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSalesforceSink_FailureIsUpstream(t *testing.T) {
	sf := new(mockSFClient)
	sf.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("session expired"), nil)

	sink := NewSalesforceSink(sf, fastGuard("salesforce"))
	err := sink.Sync(context.Background(), model.Lead{Name: "Bar"}, model.Prospect{})
	assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)
}

type mockNotionClient struct {
	mock.Mock
}

func (m *mockNotionClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *mockNotionClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *mockNotionClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func TestNotionSink_CreatesPage(t *testing.T) {
	nc := new(mockNotionClient)
	nc.On("QueryDatabase", mock.Anything, "db-leads", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{}, nil).Once()
	nc.On("CreatePage", mock.Anything, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		prio, ok := req.Properties["Priority"].(notionapi.SelectProperty)
		return ok && prio.Select.Name == "high"
	})).Return(&notionapi.Page{ID: "page-1"}, nil).Once()

	sink, err := NewNotionSink(nc, "db-leads", fastGuard("notion"))
	require.NoError(t, err)
	err = sink.Sync(context.Background(),
		model.Lead{ID: "l1", Name: "Peluquería Marta"},
		model.Prospect{AIAnalysis: &model.AIAnalysis{Priority: model.PriorityHigh}},
	)
	require.NoError(t, err)
	nc.AssertExpectations(t)
}

func TestNewNotionSink_RequiresDatabase(t *testing.T) {
	_, err := NewNotionSink(new(mockNotionClient), "", nil)
	assert.Error(t, err)
}
