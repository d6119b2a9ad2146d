package search

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector/internal/config"
	"github.com/sells-group/prospector/internal/directory"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/internal/store"
	"github.com/sells-group/prospector/pkg/geocode"
)

const madridLiteral = "40.4168,-3.7038"

var (
	madrid = model.Coordinates{Lat: 40.4168, Lng: -3.7038}
	alice  = model.Caller{UserID: "alice", Role: model.RoleSales}
	bob    = model.Caller{UserID: "bob", Role: model.RoleSales}
	admin  = model.Caller{UserID: "root", Role: model.RoleAdmin}
)

func testConfig() config.SearchConfig {
	return config.SearchConfig{
		RadiusMin:     500,
		RadiusMax:     10000,
		AllowedLimits: []int{20, 40, 60},
		DefaultLimit:  20,
		DailyQuota:    3,
		Timezone:      "Europe/Madrid",
		AvgTicket:     600,
		Currency:      "EUR",
		Locale:        "en",
	}
}

type mockDirectory struct {
	mu      sync.Mutex
	pool    []model.Prospect
	err     error
	count   int
	countOK bool
	queries []directory.Query
}

func (d *mockDirectory) Search(_ context.Context, q directory.Query) ([]model.Prospect, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries = append(d.queries, q)
	if d.err != nil {
		return nil, d.err
	}
	var out []model.Prospect
	for _, p := range d.pool {
		if len(out) == q.Limit {
			break
		}
		if q.Exclude[p.ExternalID] {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (d *mockDirectory) EstimateCount(_ context.Context, _ directory.Query) (int, bool, error) {
	return d.count, d.countOK, nil
}

func (d *mockDirectory) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queries)
}

func pizzeria(ext string, i int) model.Prospect {
	return model.Prospect{
		ExternalID: ext,
		Name:       fmt.Sprintf("Pizzería %d", i),
		Category:   "Pizzería",
		Location:   model.Coordinates{Lat: madrid.Lat + float64(i)*0.001, Lng: madrid.Lng},
		Rating:     4,
	}
}

func pizzerias(prefix string, n int) []model.Prospect {
	out := make([]model.Prospect, n)
	for i := range out {
		out[i] = pizzeria(fmt.Sprintf("%s-%d", prefix, i), i)
	}
	return out
}

func seed(t *testing.T, st store.Store, ps []model.Prospect) {
	t.Helper()
	_, _, err := st.CreateSession(context.Background(), store.NewSession{
		Session: model.SearchSession{UserID: "seed", Query: "seed"},
		Fetched: ps,
	})
	require.NoError(t, err)
}

func newManager(st store.Store, dir directory.Client) *Manager {
	m := NewManager(st, dir, NewLocator(nil, nil), testConfig())
	m.now = func() time.Time { return time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC) }
	return m
}

func TestEstimate_ProviderCountClampedToShortfall(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, pizzerias("cached", 5))
	dir := &mockDirectory{count: 30, countOK: true}
	e := NewEstimator(st, dir, NewLocator(nil, nil), testConfig())

	before := st.ProspectCount()
	res, err := e.Estimate(context.Background(), Request{Query: "pizzeria", Location: madridLiteral, Radius: 2000, Limit: 20})

	require.NoError(t, err)
	assert.Equal(t, 5, res.ExistingCount)
	assert.Equal(t, 15, res.NewCount)
	assert.Equal(t, 20, res.DisplayCount)
	assert.True(t, res.ProviderEstimate)
	assert.Equal(t, "8,400 - 15,600 EUR", res.PotentialRevenueText)
	assert.Equal(t, before, st.ProspectCount())
	assert.Zero(t, dir.calls())

	used, err := st.GetQuota(context.Background(), "alice", "2026-10-15")
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestEstimate_HeuristicWithoutProviderCount(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, pizzerias("cached", 5))
	e := NewEstimator(st, &mockDirectory{}, NewLocator(nil, nil), testConfig())

	res, err := e.Estimate(context.Background(), Request{Query: "PIZZERIA", Location: madridLiteral, Radius: 2000, Limit: 40})

	require.NoError(t, err)
	assert.Equal(t, 5, res.ExistingCount)
	assert.Equal(t, 35, res.NewCount)
	assert.Equal(t, 40, res.DisplayCount)
	assert.False(t, res.ProviderEstimate)
}

func TestEstimate_ProviderBelowExisting(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, pizzerias("cached", 5))
	e := NewEstimator(st, &mockDirectory{count: 3, countOK: true}, NewLocator(nil, nil), testConfig())

	res, err := e.Estimate(context.Background(), Request{Query: "pizzeria", Location: madridLiteral, Radius: 2000})

	require.NoError(t, err)
	assert.Equal(t, 0, res.NewCount)
	assert.Equal(t, 5, res.DisplayCount)
}

func TestEstimate_CacheOnly(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, pizzerias("cached", 2))
	e := NewEstimator(st, &mockDirectory{count: 50, countOK: true}, NewLocator(nil, nil), testConfig())

	res, err := e.Estimate(context.Background(), Request{Query: "pizzeria", Location: madridLiteral, Radius: 2000, Strategy: model.StrategyCacheOnly})
	require.NoError(t, err)
	assert.Equal(t, 0, res.NewCount)
	assert.Equal(t, 2, res.DisplayCount)
}

func TestEstimate_Validation(t *testing.T) {
	e := NewEstimator(store.NewMemory(), nil, NewLocator(nil, nil), testConfig())
	cases := []Request{
		{Query: "", Location: madridLiteral, Radius: 2000},
		{Query: "pizza", Location: "", Radius: 2000},
		{Query: "pizza", Location: madridLiteral, Radius: 100},
		{Query: "pizza", Location: madridLiteral, Radius: 20000},
		{Query: "pizza", Location: madridLiteral, Radius: 2000, Limit: 25},
		{Query: "pizza", Location: madridLiteral, Radius: 2000, Strategy: "random"},
		{Query: "pizza", Location: "95,10", Radius: 2000},
	}
	for _, c := range cases {
		_, err := e.Estimate(context.Background(), c)
		assert.ErrorIs(t, err, model.ErrValidation, "%+v", c)
	}
}

func TestSearch_MergesCacheAndFetchesOnlyShortfall(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, pizzerias("cached", 5))
	dir := &mockDirectory{pool: append(pizzerias("cached", 2), pizzerias("fresh", 30)...)}
	m := newManager(st, dir)

	res, err := m.Search(context.Background(), alice, Request{Query: "pizzeria", Location: madridLiteral, Radius: 2000, Limit: 20})

	require.NoError(t, err)
	require.Len(t, dir.queries, 1)
	assert.Equal(t, 15, dir.queries[0].Limit)
	assert.True(t, dir.queries[0].Exclude["cached-0"])
	assert.Len(t, res.Saved, 20)
	assert.Equal(t, 5, res.Session.CachedCount)
	assert.Equal(t, 15, res.Session.FetchedCount)
	assert.Equal(t, 20, res.Session.ResultCount)
	assert.False(t, res.Degraded)
	assert.Equal(t, 1, res.Quota.Used)
	assert.Equal(t, 2, res.Quota.Remaining)
	assert.Equal(t, 20, st.ProspectCount())
}

// disconnectingDirectory cancels the request context before answering and
// fails the way a context-bound client would if it saw the cancellation.
type disconnectingDirectory struct {
	mockDirectory
	cancel context.CancelFunc
}

func (d *disconnectingDirectory) Search(ctx context.Context, q directory.Query) ([]model.Prospect, error) {
	d.cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.mockDirectory.Search(ctx, q)
}

func TestSearch_ClientDisconnectStillPersists(t *testing.T) {
	st := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := &disconnectingDirectory{mockDirectory: mockDirectory{pool: pizzerias("fresh", 20)}, cancel: cancel}
	m := newManager(st, dir)

	res, err := m.Search(ctx, alice, Request{Query: "pizzeria", Location: madridLiteral, Radius: 2000, Limit: 20})

	require.NoError(t, err)
	assert.Len(t, res.Saved, 20)
	assert.False(t, res.Degraded)
	assert.Equal(t, 20, st.ProspectCount())

	used, err := st.GetQuota(context.Background(), "alice", "2026-10-15")
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestSearch_QuotaIncrementsByOneRegardlessOfResults(t *testing.T) {
	st := store.NewMemory()
	m := newManager(st, &mockDirectory{})

	res, err := m.Search(context.Background(), alice, Request{Query: "nothing here", Location: madridLiteral, Radius: 2000, Limit: 60})
	require.NoError(t, err)
	assert.Empty(t, res.Saved)

	used, err := st.GetQuota(context.Background(), "alice", "2026-10-15")
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestSearch_QuotaExhausted(t *testing.T) {
	st := store.NewMemory()
	dir := &mockDirectory{pool: pizzerias("fresh", 5)}
	m := newManager(st, dir)
	req := Request{Query: "pizzeria", Location: madridLiteral, Radius: 2000}

	for range 3 {
		_, err := m.Search(context.Background(), alice, req)
		require.NoError(t, err)
	}
	count := st.ProspectCount()
	calls := dir.calls()

	_, err := m.Search(context.Background(), alice, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrQuotaExceeded)
	assert.Equal(t, count, st.ProspectCount())
	assert.Equal(t, calls, dir.calls())

	// other users are unaffected
	_, err = m.Search(context.Background(), bob, req)
	assert.NoError(t, err)
}

func TestSearch_ValidationConsumesNoQuota(t *testing.T) {
	st := store.NewMemory()
	m := newManager(st, &mockDirectory{})

	_, err := m.Search(context.Background(), alice, Request{Query: "pizza", Location: madridLiteral, Radius: 1})
	require.ErrorIs(t, err, model.ErrValidation)

	used, err := st.GetQuota(context.Background(), "alice", "2026-10-15")
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestSearch_DirectoryUnavailableDegrades(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, pizzerias("cached", 3))
	dir := &mockDirectory{err: fmt.Errorf("places: %w", model.ErrUpstreamUnavailable)}
	m := newManager(st, dir)

	res, err := m.Search(context.Background(), alice, Request{Query: "pizzeria", Location: madridLiteral, Radius: 2000})

	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.NotEmpty(t, res.Warning)
	assert.Len(t, res.Saved, 3)
	assert.Equal(t, 1, res.Quota.Used)
}

func TestSearch_CacheOnlySkipsDirectory(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, pizzerias("cached", 2))
	dir := &mockDirectory{pool: pizzerias("fresh", 10)}
	m := newManager(st, dir)

	res, err := m.Search(context.Background(), alice, Request{Query: "pizzeria", Location: madridLiteral, Radius: 2000, Strategy: model.StrategyCacheOnly})

	require.NoError(t, err)
	assert.Zero(t, dir.calls())
	assert.Len(t, res.Saved, 2)
}

func TestSearch_FreshSkipsCacheButDedups(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, pizzerias("p", 4))
	dir := &mockDirectory{pool: pizzerias("p", 6)}
	m := newManager(st, dir)

	res, err := m.Search(context.Background(), alice, Request{Query: "pizzeria", Location: madridLiteral, Radius: 2000, Strategy: model.StrategyFresh})

	require.NoError(t, err)
	require.Len(t, dir.queries, 1)
	assert.Equal(t, 20, dir.queries[0].Limit)
	assert.Empty(t, dir.queries[0].Exclude)
	assert.Len(t, res.Saved, 6)
	assert.Equal(t, 6, st.ProspectCount())
}

func TestSearch_CachedHitsMarkedCached(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, pizzerias("cached", 1))
	m := newManager(st, &mockDirectory{})

	res, err := m.Search(context.Background(), alice, Request{Query: "pizzeria", Location: madridLiteral, Radius: 2000})
	require.NoError(t, err)
	require.Len(t, res.Saved, 1)
	assert.Equal(t, model.StateCached, res.Saved[0].State)
}

func TestDelete_OwnerOrAdmin(t *testing.T) {
	st := store.NewMemory()
	m := newManager(st, &mockDirectory{pool: pizzerias("fresh", 3)})

	res, err := m.Search(context.Background(), alice, Request{Query: "pizzeria", Location: madridLiteral, Radius: 2000})
	require.NoError(t, err)

	_, err = m.Delete(context.Background(), bob, res.Session.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	del, err := m.Delete(context.Background(), admin, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, del.Deleted)
	assert.Zero(t, st.ProspectCount())

	_, err = m.Delete(context.Background(), alice, res.Session.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGetAndList(t *testing.T) {
	st := store.NewMemory()
	m := newManager(st, &mockDirectory{pool: pizzerias("fresh", 2)})
	req := Request{Query: "pizzeria", Location: madridLiteral, Radius: 2000}

	res, err := m.Search(context.Background(), alice, req)
	require.NoError(t, err)
	_, err = m.Search(context.Background(), bob, req)
	require.NoError(t, err)

	sess, members, err := m.Get(context.Background(), alice, res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.UserID)
	assert.Len(t, members, 2)

	_, _, err = m.Get(context.Background(), bob, res.Session.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)

	mine, err := m.List(context.Background(), alice, 10)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	all, err := m.List(context.Background(), admin, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestQuota_DayKeyUsesTimezone(t *testing.T) {
	st := store.NewMemory()
	m := newManager(st, &mockDirectory{})
	// 23:30 UTC is already the next day in Madrid.
	m.now = func() time.Time { return time.Date(2026, 10, 15, 23, 30, 0, 0, time.UTC) }

	_, err := m.Search(context.Background(), alice, Request{Query: "x", Location: madridLiteral, Radius: 2000})
	require.NoError(t, err)

	q, err := m.Quota(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-16", q.Day)
	assert.Equal(t, 1, q.Used)
	assert.Equal(t, 2, q.Remaining)
	madridLoc, _ := time.LoadLocation("Europe/Madrid")
	assert.True(t, q.ResetsAt.Equal(time.Date(2026, 10, 17, 0, 0, 0, 0, madridLoc)))
}

type fakeGeocoder struct {
	result *geocode.Result
	err    error
}

func (f fakeGeocoder) Geocode(context.Context, string) (*geocode.Result, error) {
	return f.result, f.err
}

func TestLocator(t *testing.T) {
	guard := resilience.NewGuard("geocode", resilience.GuardConfig{Timeout: time.Second, MaxAttempts: 1})

	l := NewLocator(fakeGeocoder{result: &geocode.Result{Latitude: 41.38, Longitude: 2.17, Matched: true}}, guard)
	c, err := l.Resolve(context.Background(), "Barcelona")
	require.NoError(t, err)
	assert.InDelta(t, 41.38, c.Lat, 1e-9)

	l = NewLocator(fakeGeocoder{result: &geocode.Result{}}, guard)
	_, err = l.Resolve(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, model.ErrValidation)

	l = NewLocator(fakeGeocoder{err: assert.AnError}, guard)
	_, err = l.Resolve(context.Background(), "Madrid")
	assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)

	_, err = NewLocator(nil, nil).Resolve(context.Background(), "Madrid")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestRevenueText(t *testing.T) {
	assert.Equal(t, "8,400 - 15,600 EUR", RevenueText(20, 600, "EUR", "en"))
	assert.Equal(t, "16.800 - 31.200 EUR", RevenueText(40, 600, "EUR", "es"))
	assert.Equal(t, "", RevenueText(0, 600, "EUR", "en"))
}
