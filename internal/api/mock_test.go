package api

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/prospector/internal/convert"
	"github.com/sells-group/prospector/internal/demo"
	"github.com/sells-group/prospector/internal/enrich"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/search"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Prospect), args.Error(1)
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockSearcher struct{ mock.Mock }

func (m *mockSearcher) Search(ctx context.Context, caller model.Caller, req search.Request) (*search.Result, error) {
	args := m.Called(ctx, caller, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*search.Result), args.Error(1)
}

func (m *mockSearcher) Get(ctx context.Context, caller model.Caller, id string) (*model.SearchSession, []model.Prospect, error) {
	args := m.Called(ctx, caller, id)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*model.SearchSession), args.Get(1).([]model.Prospect), args.Error(2)
}

func (m *mockSearcher) List(ctx context.Context, caller model.Caller, limit int) ([]model.SearchSession, error) {
	args := m.Called(ctx, caller, limit)
	return args.Get(0).([]model.SearchSession), args.Error(1)
}

func (m *mockSearcher) Delete(ctx context.Context, caller model.Caller, id string) (model.DeleteResult, error) {
	args := m.Called(ctx, caller, id)
	return args.Get(0).(model.DeleteResult), args.Error(1)
}

func (m *mockSearcher) Quota(ctx context.Context, caller model.Caller) (model.QuotaStatus, error) {
	args := m.Called(ctx, caller)
	return args.Get(0).(model.QuotaStatus), args.Error(1)
}

type mockEstimator struct{ mock.Mock }

func (m *mockEstimator) Estimate(ctx context.Context, req search.Request) (*search.EstimateResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*search.EstimateResult), args.Error(1)
}

type mockEnricher struct{ mock.Mock }

func (m *mockEnricher) Analyze(ctx context.Context, id string, notes []model.Note) (*enrich.AnalysisResult, error) {
	args := m.Called(ctx, id, notes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*enrich.AnalysisResult), args.Error(1)
}

func (m *mockEnricher) DeepAnalyze(ctx context.Context, id string) (*enrich.AuditResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*enrich.AuditResult), args.Error(1)
}

func (m *mockEnricher) Summary(ctx context.Context, id string) (model.Summary, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Summary), args.Error(1)
}

type mockDemos struct{ mock.Mock }

func (m *mockDemos) Generate(ctx context.Context, caller model.Caller, prospectID, demoType, customPrompt string) (*demo.Generated, error) {
	args := m.Called(ctx, caller, prospectID, demoType, customPrompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*demo.Generated), args.Error(1)
}

func (m *mockDemos) Resolve(ctx context.Context, token string) (*model.DemoPublication, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DemoPublication), args.Error(1)
}

func (m *mockDemos) RecordView(ctx context.Context, token string) (int64, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockDemos) SubmitContact(ctx context.Context, token string, in demo.ContactInput) (*model.ContactRequest, error) {
	args := m.Called(ctx, token, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ContactRequest), args.Error(1)
}

func (m *mockDemos) Accept(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

func (m *mockDemos) Revoke(ctx context.Context, demoID string) error {
	return m.Called(ctx, demoID).Error(0)
}

func (m *mockDemos) List(ctx context.Context, prospectID string) ([]model.DemoPublication, error) {
	args := m.Called(ctx, prospectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.DemoPublication), args.Error(1)
}

func (m *mockDemos) Contacts(ctx context.Context, token string) ([]model.ContactRequest, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ContactRequest), args.Error(1)
}

type mockConverter struct{ mock.Mock }

func (m *mockConverter) Process(ctx context.Context, caller model.Caller, prospectID string) (*convert.Result, error) {
	args := m.Called(ctx, caller, prospectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*convert.Result), args.Error(1)
}

func (m *mockConverter) Assign(ctx context.Context, caller model.Caller, prospectID, userID string) error {
	return m.Called(ctx, caller, prospectID, userID).Error(0)
}

type mockNotifications struct{ mock.Mock }

func (m *mockNotifications) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	args := m.Called(ctx, userID, unreadOnly, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Notification), args.Error(1)
}

func (m *mockNotifications) MarkRead(ctx context.Context, userID, id string) error {
	return m.Called(ctx, userID, id).Error(0)
}

type stubStreamer struct {
	userID string
}

func (s *stubStreamer) Serve(w http.ResponseWriter, _ *http.Request, userID string) error {
	s.userID = userID
	w.WriteHeader(http.StatusOK)
	return nil
}
