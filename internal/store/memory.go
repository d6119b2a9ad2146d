package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/model"
)

// MemoryStore is an in-process Store. A single mutex serializes every
// operation, which gives the same atomicity the SQL backends get from
// transactions.
type MemoryStore struct {
	mu sync.Mutex

	prospects     map[string]*model.Prospect
	byExternal    map[string]string
	sessions      map[string]*model.SearchSession
	members       map[string][]string // session id -> prospect ids
	quota         map[string]int      // user|day -> used
	leads         map[string]*model.Lead
	demos         map[string]*model.DemoPublication // token -> demo
	contacts      []model.ContactRequest
	users         map[string]model.User
	notifications []model.Notification

	now func() time.Time
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		prospects:  make(map[string]*model.Prospect),
		byExternal: make(map[string]string),
		sessions:   make(map[string]*model.SearchSession),
		members:    make(map[string][]string),
		quota:      make(map[string]int),
		leads:      make(map[string]*model.Lead),
		demos:      make(map[string]*model.DemoPublication),
		users:      make(map[string]model.User),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ProspectCount returns the number of stored prospects.
func (m *MemoryStore) ProspectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prospects)
}

// LeadCount returns the number of stored leads.
func (m *MemoryStore) LeadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leads)
}

func (m *MemoryStore) FindNearby(_ context.Context, q NearbyQuery) ([]model.Prospect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]model.Prospect, 0, len(m.prospects))
	for _, p := range m.prospects {
		all = append(all, cloneProspect(p))
	}
	return filterNearby(all, q, q.area()), nil
}

func (m *MemoryStore) GetProspect(_ context.Context, id string) (*model.Prospect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.prospects[id]
	if !ok {
		return nil, model.NotFound("prospect", id)
	}
	c := cloneProspect(p)
	return &c, nil
}

func (m *MemoryStore) SaveQuickAnalysis(_ context.Context, id string, a model.AIAnalysis) (*model.Prospect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.prospects[id]
	if !ok {
		return nil, model.NotFound("prospect", id)
	}
	p.AIAnalysis = &a
	p.State = p.State.Advance(model.StateAnalyzed)
	p.UpdatedAt = m.now()
	c := cloneProspect(p)
	return &c, nil
}

func (m *MemoryStore) SaveDeepAnalysis(_ context.Context, id string, audit model.DigitalAudit, intel model.SalesIntelligence, quality int) (*model.Prospect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.prospects[id]
	if !ok {
		return nil, model.NotFound("prospect", id)
	}
	p.DigitalAudit = &audit
	p.SalesIntel = &intel
	p.QualityScore = quality
	p.State = p.State.Advance(model.StateDeepAnalyzed)
	p.UpdatedAt = m.now()
	c := cloneProspect(p)
	return &c, nil
}

func (m *MemoryStore) AssignProspect(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.prospects[id]
	if !ok {
		return model.NotFound("prospect", id)
	}
	p.AssignedUser = userID
	p.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) CreateSession(_ context.Context, ns NewSession) (*model.SearchSession, []model.Prospect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	sess := ns.Session
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	sess.CreatedAt = now

	for _, id := range ns.CachedIDs {
		if _, ok := m.prospects[id]; !ok {
			return nil, nil, model.NotFound("prospect", id)
		}
	}

	var ids []string
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, id := range ns.CachedIDs {
		p := m.prospects[id]
		if p.State == model.StateNew {
			p.State = model.StateCached
			p.UpdatedAt = now
		}
		add(id)
	}

	for _, f := range ns.Fetched {
		f := f
		prepareFetched(&f, now)
		if id, ok := m.byExternal[f.ExternalID]; ok {
			mergeRediscovered(m.prospects[id], f, now)
			add(id)
			continue
		}
		f.ID = uuid.New().String()
		f.SearchSessionID = sess.ID
		f.Processed = false
		f.LeadID = ""
		m.prospects[f.ID] = &f
		m.byExternal[f.ExternalID] = f.ID
		add(f.ID)
	}

	sess.ResultCount = len(ids)
	m.sessions[sess.ID] = &sess
	m.members[sess.ID] = ids

	saved := make([]model.Prospect, 0, len(ids))
	for _, id := range ids {
		saved = append(saved, cloneProspect(m.prospects[id]))
	}
	out := sess
	return &out, saved, nil
}

// mergeRediscovered updates mutable directory fields. Ownership, processing
// and enrichment fields are preserved.
func mergeRediscovered(dst *model.Prospect, src model.Prospect, now time.Time) {
	dst.Name = src.Name
	dst.Address = src.Address
	dst.Location = src.Location
	dst.Category = src.Category
	dst.SearchText = src.SearchText
	dst.Phone = src.Phone
	dst.Website = src.Website
	dst.Photos = src.Photos
	dst.Reviews = src.Reviews
	dst.Rating = src.Rating
	dst.UserRatingsTotal = src.UserRatingsTotal
	if !src.Social.Empty() {
		dst.Social = src.Social
	}
	if dst.DigitalAudit == nil {
		dst.QualityScore = src.QualityScore
	}
	dst.UpdatedAt = now
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*model.SearchSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, model.NotFound("search session", id)
	}
	out := *s
	return &out, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, userID string, limit int) ([]model.SearchSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.SearchSession
	for _, s := range m.sessions {
		if userID == "" || s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListSessionProspects(_ context.Context, sessionID string) ([]model.Prospect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, model.NotFound("search session", sessionID)
	}
	ids := m.members[sessionID]
	out := make([]model.Prospect, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.prospects[id]; ok {
			out = append(out, cloneProspect(p))
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, id string) (model.DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return model.DeleteResult{}, model.NotFound("search session", id)
	}

	var res model.DeleteResult
	for _, pid := range m.members[id] {
		p, ok := m.prospects[pid]
		if !ok {
			continue
		}
		if m.removable(p, id) {
			delete(m.prospects, pid)
			delete(m.byExternal, p.ExternalID)
			res.Deleted++
			continue
		}
		if p.SearchSessionID == id {
			p.SearchSessionID = ""
		}
		res.Detached++
	}
	delete(m.members, id)
	delete(m.sessions, id)
	return res, nil
}

// removable mirrors the SQL delete predicate: never processed or
// converted, unassigned, no demos, and not a member of any other session.
func (m *MemoryStore) removable(p *model.Prospect, sessionID string) bool {
	if p.Processed || p.LeadID != "" || p.State == model.StateConverted || p.AssignedUser != "" {
		return false
	}
	for _, d := range m.demos {
		if d.ProspectID == p.ID {
			return false
		}
	}
	for sid, ids := range m.members {
		if sid == sessionID {
			continue
		}
		for _, id := range ids {
			if id == p.ID {
				return false
			}
		}
	}
	return true
}

func (m *MemoryStore) ReserveQuota(_ context.Context, userID, day string, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := userID + "|" + day
	if m.quota[key] >= limit {
		return m.quota[key], eris.Wrapf(model.ErrQuotaExceeded, "user %s used %d of %d searches", userID, m.quota[key], limit)
	}
	m.quota[key]++
	return m.quota[key], nil
}

func (m *MemoryStore) ReleaseQuota(_ context.Context, userID, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := userID + "|" + day
	if m.quota[key] > 0 {
		m.quota[key]--
	}
	return nil
}

func (m *MemoryStore) GetQuota(_ context.Context, userID, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quota[userID+"|"+day], nil
}

func (m *MemoryStore) ConvertProspect(_ context.Context, id, owner string) (*model.Lead, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.prospects[id]
	if !ok {
		return nil, false, model.NotFound("prospect", id)
	}
	if p.Processed {
		l, ok := m.leads[p.LeadID]
		if !ok {
			return nil, false, model.NotFound("lead", p.LeadID)
		}
		out := *l
		return &out, false, nil
	}

	now := m.now()
	l := model.LeadFromProspect(*p, owner)
	l.ID = uuid.New().String()
	l.CreatedAt = now
	m.leads[l.ID] = &l

	p.Processed = true
	p.LeadID = l.ID
	p.State = model.StateConverted
	p.UpdatedAt = now

	out := l
	return &out, true, nil
}

func (m *MemoryStore) GetLead(_ context.Context, id string) (*model.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.leads[id]
	if !ok {
		return nil, model.NotFound("lead", id)
	}
	out := *l
	return &out, nil
}

func (m *MemoryStore) CreateDemo(_ context.Context, d *model.DemoPublication) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.prospects[d.ProspectID]; !ok {
		return model.NotFound("prospect", d.ProspectID)
	}
	if _, dup := m.demos[d.Token]; dup {
		return eris.Wrapf(model.ErrConflict, "demo token %s already exists", d.Token)
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = m.now()
	}
	c := *d
	m.demos[d.Token] = &c
	return nil
}

func (m *MemoryStore) GetDemoByToken(_ context.Context, token string) (*model.DemoPublication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.demos[token]
	if !ok || d.Revoked {
		return nil, model.NotFound("demo", token)
	}
	out := *d
	return &out, nil
}

func (m *MemoryStore) IncrementDemoViews(_ context.Context, token string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.demos[token]
	if !ok || d.Revoked {
		return 0, model.NotFound("demo", token)
	}
	d.ViewCount++
	return d.ViewCount, nil
}

func (m *MemoryStore) AcceptDemo(_ context.Context, token string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.demos[token]
	if !ok || d.Revoked {
		return false, model.NotFound("demo", token)
	}
	if d.AcceptedAt != nil {
		return false, nil
	}
	d.AcceptedAt = &at
	return true, nil
}

func (m *MemoryStore) RevokeDemo(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.demos {
		if d.ID == id {
			d.Revoked = true
			return nil
		}
	}
	return model.NotFound("demo", id)
}

func (m *MemoryStore) ListDemos(_ context.Context, prospectID string) ([]model.DemoPublication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.DemoPublication
	for _, d := range m.demos {
		if d.ProspectID == prospectID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) AddContactRequest(_ context.Context, c *model.ContactRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.demos[c.DemoToken]; !ok {
		return model.NotFound("demo", c.DemoToken)
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	m.contacts = append(m.contacts, *c)
	return nil
}

func (m *MemoryStore) ListContactRequests(_ context.Context, token string) ([]model.ContactRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.ContactRequest
	for _, c := range m.contacts {
		if c.DemoToken == token {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertUser(_ context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, model.NotFound("user", id)
	}
	return &u, nil
}

func (m *MemoryStore) ListUsersByRole(_ context.Context, role string) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.User
	for _, u := range m.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) CreateNotification(_ context.Context, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = m.now()
	}
	m.notifications = append(m.notifications, *n)
	return nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		n := m.notifications[i]
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkNotificationRead(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.notifications {
		if m.notifications[i].ID == id && m.notifications[i].UserID == userID {
			m.notifications[i].Read = true
			return nil
		}
	}
	return model.NotFound("notification", id)
}

func (m *MemoryStore) Ping(context.Context) error    { return nil }
func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func cloneProspect(p *model.Prospect) model.Prospect {
	c := *p
	c.Photos = append([]string(nil), p.Photos...)
	c.Reviews = append([]model.Review(nil), p.Reviews...)
	if p.AIAnalysis != nil {
		a := *p.AIAnalysis
		c.AIAnalysis = &a
	}
	if p.DigitalAudit != nil {
		a := *p.DigitalAudit
		c.DigitalAudit = &a
	}
	if p.SalesIntel != nil {
		s := *p.SalesIntel
		c.SalesIntel = &s
	}
	return c
}
