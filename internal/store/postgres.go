package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector/internal/db"
	"github.com/sells-group/prospector/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresWithPool(pool, pool.Close), nil
}

func newPostgresWithPool(pool db.Pool, closeFn func()) *PostgresStore {
	return &PostgresStore{
		pool:    pool,
		closeFn: closeFn,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS search_sessions (
	id              TEXT PRIMARY KEY,
	query           TEXT NOT NULL,
	location        TEXT NOT NULL,
	center_lat      DOUBLE PRECISION NOT NULL,
	center_lng      DOUBLE PRECISION NOT NULL,
	radius          INTEGER NOT NULL,
	requested_limit INTEGER NOT NULL,
	strategy        TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	result_count    INTEGER NOT NULL DEFAULT 0,
	cached_count    INTEGER NOT NULL DEFAULT 0,
	fetched_count   INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS prospects (
	id                 TEXT PRIMARY KEY,
	external_id        TEXT NOT NULL UNIQUE,
	name               TEXT NOT NULL,
	address            TEXT NOT NULL DEFAULT '',
	lat                DOUBLE PRECISION NOT NULL,
	lng                DOUBLE PRECISION NOT NULL,
	category           TEXT NOT NULL DEFAULT '',
	search_text        TEXT NOT NULL DEFAULT '',
	phone              TEXT NOT NULL DEFAULT '',
	website            TEXT NOT NULL DEFAULT '',
	social             JSONB NOT NULL DEFAULT '{}',
	photos             JSONB NOT NULL DEFAULT '[]',
	reviews            JSONB NOT NULL DEFAULT '[]',
	rating             DOUBLE PRECISION NOT NULL DEFAULT 0,
	user_ratings_total INTEGER NOT NULL DEFAULT 0,
	quality_score      INTEGER NOT NULL DEFAULT 0,
	digital_audit      JSONB,
	sales_intelligence JSONB,
	ai_analysis        JSONB,
	state              TEXT NOT NULL DEFAULT 'new',
	search_session_id  TEXT REFERENCES search_sessions(id) ON DELETE SET NULL,
	assigned_user      TEXT,
	processed          BOOLEAN NOT NULL DEFAULT false,
	lead_id            TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT prospects_processed_has_lead CHECK (NOT processed OR lead_id IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_prospects_lat_lng ON prospects(lat, lng);

CREATE TABLE IF NOT EXISTS search_session_members (
	session_id  TEXT NOT NULL REFERENCES search_sessions(id) ON DELETE CASCADE,
	prospect_id TEXT NOT NULL REFERENCES prospects(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	PRIMARY KEY (session_id, prospect_id)
);

CREATE INDEX IF NOT EXISTS idx_session_members_prospect ON search_session_members(prospect_id);

CREATE TABLE IF NOT EXISTS daily_quota (
	user_id TEXT NOT NULL,
	day     TEXT NOT NULL,
	used    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, day)
);

CREATE TABLE IF NOT EXISTS leads (
	id              TEXT PRIMARY KEY,
	prospect_id     TEXT NOT NULL UNIQUE REFERENCES prospects(id),
	name            TEXT NOT NULL,
	phone           TEXT NOT NULL DEFAULT '',
	email           TEXT NOT NULL DEFAULT '',
	website         TEXT NOT NULL DEFAULT '',
	address         TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL,
	status          TEXT NOT NULL,
	owner_user      TEXT NOT NULL DEFAULT '',
	estimated_value DOUBLE PRECISION,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS demo_publications (
	id               TEXT PRIMARY KEY,
	prospect_id      TEXT NOT NULL REFERENCES prospects(id),
	token            TEXT NOT NULL UNIQUE,
	demo_type        TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	rendered_content TEXT NOT NULL,
	view_count       BIGINT NOT NULL DEFAULT 0,
	revoked          BOOLEAN NOT NULL DEFAULT false,
	accepted_at      TIMESTAMPTZ,
	created_by       TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_demo_publications_prospect ON demo_publications(prospect_id);

CREATE TABLE IF NOT EXISTS contact_requests (
	id         TEXT PRIMARY KEY,
	demo_token TEXT NOT NULL REFERENCES demo_publications(token),
	name       TEXT NOT NULL,
	email      TEXT NOT NULL DEFAULT '',
	phone      TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_contact_requests_token ON contact_requests(demo_token);

CREATE TABLE IF NOT EXISTS users (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	role  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	title      TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	link       TEXT NOT NULL DEFAULT '',
	read       BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const prospectColumns = `id, external_id, name, address, lat, lng, category, search_text, phone, website,
	social, photos, reviews, rating, user_ratings_total, quality_score, digital_audit,
	sales_intelligence, ai_analysis, state, search_session_id, assigned_user, processed,
	lead_id, created_at, updated_at`

var prospectUpsert = mustUpsertSQL(db.UpsertConfig{
	Table:        "prospects",
	Columns:      prospectInsertCols,
	ConflictKeys: []string{"external_id"},
	UpdateCols:   prospectRefreshCols,
	UpdateExprs: map[string]string{
		"social":        `CASE WHEN EXCLUDED.social = '{}'::jsonb THEN t.social ELSE EXCLUDED.social END`,
		"quality_score": `CASE WHEN t.digital_audit IS NULL THEN EXCLUDED.quality_score ELSE t.quality_score END`,
	},
	Returning: []string{"id"},
})

func mustUpsertSQL(cfg db.UpsertConfig) string {
	sql, err := db.UpsertSQL(cfg)
	if err != nil {
		panic(err)
	}
	return sql
}

func (s *PostgresStore) FindNearby(ctx context.Context, q NearbyQuery) ([]model.Prospect, error) {
	area := q.area()
	minLat, maxLat, minLng, maxLng := boxArgs(area)
	rows, err := s.pool.Query(ctx,
		`SELECT `+prospectColumns+` FROM prospects
		WHERE lat BETWEEN $1 AND $2 AND lng BETWEEN $3 AND $4 AND search_text LIKE $5`,
		minLat, maxLat, minLng, maxLng, likeTerm(q.Term),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find nearby")
	}
	candidates, err := collectProspects(rows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find nearby")
	}
	return filterNearby(candidates, q, area), nil
}

func (s *PostgresStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	return getProspect(ctx, s.pool, id, false)
}

func getProspect(ctx context.Context, q db.Querier, id string, forUpdate bool) (*model.Prospect, error) {
	sql := `SELECT ` + prospectColumns + ` FROM prospects WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	p, err := scanProspect(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFound("prospect", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get prospect %s", id)
	}
	return p, nil
}

func (s *PostgresStore) SaveQuickAnalysis(ctx context.Context, id string, a model.AIAnalysis) (*model.Prospect, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal ai analysis")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE prospects SET ai_analysis = $1,
			state = CASE WHEN state IN ('new', 'cached') THEN 'analyzed' ELSE state END,
			updated_at = $2
		WHERE id = $3`,
		data, s.now(), id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: save quick analysis %s", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, model.NotFound("prospect", id)
	}
	return s.GetProspect(ctx, id)
}

func (s *PostgresStore) SaveDeepAnalysis(ctx context.Context, id string, audit model.DigitalAudit, intel model.SalesIntelligence, quality int) (*model.Prospect, error) {
	auditJSON, err := json.Marshal(audit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal digital audit")
	}
	intelJSON, err := json.Marshal(intel)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal sales intelligence")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE prospects SET digital_audit = $1, sales_intelligence = $2, quality_score = $3,
			state = CASE WHEN state IN ('new', 'cached', 'analyzed') THEN 'deep_analyzed' ELSE state END,
			updated_at = $4
		WHERE id = $5`,
		auditJSON, intelJSON, quality, s.now(), id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: save deep analysis %s", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, model.NotFound("prospect", id)
	}
	return s.GetProspect(ctx, id)
}

func (s *PostgresStore) AssignProspect(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE prospects SET assigned_user = $1, updated_at = $2 WHERE id = $3`,
		userID, s.now(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: assign prospect %s", id)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("prospect", id)
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, ns NewSession) (*model.SearchSession, []model.Prospect, error) {
	now := s.now()
	sess := ns.Session
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	sess.CreatedAt = now

	var ids []string
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, id := range ns.CachedIDs {
		add(id)
	}

	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		// The session row goes first so new prospects can reference it.
		if _, err := tx.Exec(ctx,
			`INSERT INTO search_sessions (id, query, location, center_lat, center_lng, radius,
				requested_limit, strategy, user_id, result_count, cached_count, fetched_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			sess.ID, sess.Query, sess.Location, sess.Center.Lat, sess.Center.Lng, sess.Radius,
			sess.RequestedLimit, sess.Strategy, sess.UserID, 0, sess.CachedCount, sess.FetchedCount, now,
		); err != nil {
			return eris.Wrap(err, "insert session")
		}

		if len(ns.CachedIDs) > 0 {
			if _, err := tx.Exec(ctx,
				`UPDATE prospects SET state = 'cached', updated_at = $1 WHERE id = ANY($2) AND state = 'new'`,
				now, ns.CachedIDs,
			); err != nil {
				return eris.Wrap(err, "mark cached")
			}
		}

		for i := range ns.Fetched {
			f := ns.Fetched[i]
			prepareFetched(&f, now)
			args, err := upsertArgs(f, sess.ID)
			if err != nil {
				return err
			}
			var id string
			if err := tx.QueryRow(ctx, prospectUpsert, args...).Scan(&id); err != nil {
				return eris.Wrapf(err, "upsert prospect %s", f.ExternalID)
			}
			add(id)
		}

		for pos, id := range ids {
			if _, err := tx.Exec(ctx,
				`INSERT INTO search_session_members (session_id, prospect_id, position) VALUES ($1, $2, $3)
				ON CONFLICT (session_id, prospect_id) DO NOTHING`,
				sess.ID, id, pos,
			); err != nil {
				return eris.Wrapf(err, "insert member %s", id)
			}
		}

		sess.ResultCount = len(ids)
		if _, err := tx.Exec(ctx,
			`UPDATE search_sessions SET result_count = $1 WHERE id = $2`,
			sess.ResultCount, sess.ID,
		); err != nil {
			return eris.Wrap(err, "update result count")
		}
		return nil
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "postgres: create session")
	}

	saved, err := s.ListSessionProspects(ctx, sess.ID)
	if err != nil {
		return nil, nil, err
	}
	return &sess, saved, nil
}

func upsertArgs(p model.Prospect, sessionID string) ([]any, error) {
	social, err := json.Marshal(p.Social)
	if err != nil {
		return nil, eris.Wrap(err, "marshal social")
	}
	photos, err := json.Marshal(nonNil(p.Photos))
	if err != nil {
		return nil, eris.Wrap(err, "marshal photos")
	}
	reviews, err := json.Marshal(nonNil(p.Reviews))
	if err != nil {
		return nil, eris.Wrap(err, "marshal reviews")
	}
	return []any{
		uuid.New().String(), p.ExternalID, p.Name, p.Address, p.Location.Lat, p.Location.Lng,
		p.Category, p.SearchText, p.Phone, p.Website, social, photos, reviews, p.Rating,
		p.UserRatingsTotal, p.QualityScore, string(p.State), sessionID, p.CreatedAt, p.UpdatedAt,
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

const sessionColumns = `id, query, location, center_lat, center_lng, radius, requested_limit,
	strategy, user_id, result_count, cached_count, fetched_count, created_at`

func scanSession(row pgx.Row) (*model.SearchSession, error) {
	var ss model.SearchSession
	err := row.Scan(&ss.ID, &ss.Query, &ss.Location, &ss.Center.Lat, &ss.Center.Lng, &ss.Radius,
		&ss.RequestedLimit, &ss.Strategy, &ss.UserID, &ss.ResultCount, &ss.CachedCount,
		&ss.FetchedCount, &ss.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ss, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.SearchSession, error) {
	ss, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM search_sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFound("search session", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session %s", id)
	}
	return ss, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, userID string, limit int) ([]model.SearchSession, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM search_sessions
		WHERE ($1 = '' OR user_id = $1) ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var out []model.SearchSession
	for rows.Next() {
		ss, err := scanSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		out = append(out, *ss)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sessions")
}

func (s *PostgresStore) ListSessionProspects(ctx context.Context, sessionID string) ([]model.Prospect, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+prefixed("p.", prospectColumns)+` FROM prospects p
		JOIN search_session_members m ON m.prospect_id = p.id
		WHERE m.session_id = $1 ORDER BY m.position`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list session prospects %s", sessionID)
	}
	out, err := collectProspects(rows)
	return out, eris.Wrapf(err, "postgres: list session prospects %s", sessionID)
}

// deletableMembers selects members of $1 that may be removed with the session.
const deletableMembers = `SELECT p.id FROM prospects p
	JOIN search_session_members m ON m.prospect_id = p.id AND m.session_id = $1
	WHERE NOT p.processed AND p.lead_id IS NULL AND p.state <> 'converted'
	AND COALESCE(p.assigned_user, '') = ''
	AND NOT EXISTS (SELECT 1 FROM search_session_members o WHERE o.prospect_id = p.id AND o.session_id <> $1)
	AND NOT EXISTS (SELECT 1 FROM demo_publications d WHERE d.prospect_id = p.id)
	FOR UPDATE OF p`

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) (model.DeleteResult, error) {
	var res model.DeleteResult
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var total int
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM search_session_members WHERE session_id = $1`, id,
		).Scan(&total); err != nil {
			return eris.Wrap(err, "count members")
		}

		rows, err := tx.Query(ctx, deletableMembers, id)
		if err != nil {
			return eris.Wrap(err, "select deletable")
		}
		var doomed []string
		for rows.Next() {
			var pid string
			if err := rows.Scan(&pid); err != nil {
				rows.Close()
				return eris.Wrap(err, "scan deletable")
			}
			doomed = append(doomed, pid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return eris.Wrap(err, "select deletable")
		}

		tag, err := tx.Exec(ctx, `DELETE FROM search_sessions WHERE id = $1`, id)
		if err != nil {
			return eris.Wrap(err, "delete session")
		}
		if tag.RowsAffected() == 0 {
			return model.NotFound("search session", id)
		}

		if len(doomed) > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM prospects WHERE id = ANY($1)`, doomed); err != nil {
				return eris.Wrap(err, "delete prospects")
			}
		}
		res = model.DeleteResult{Deleted: len(doomed), Detached: total - len(doomed)}
		return nil
	})
	if err != nil {
		return model.DeleteResult{}, eris.Wrapf(err, "postgres: delete session %s", id)
	}
	return res, nil
}

// ReserveQuota atomically takes one search from the (user, day) allowance.
// The conditional upsert returns no row when the allowance is spent.
func (s *PostgresStore) ReserveQuota(ctx context.Context, userID, day string, limit int) (int, error) {
	if limit <= 0 {
		return 0, eris.Wrapf(model.ErrQuotaExceeded, "user %s has no daily searches", userID)
	}
	var used int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO daily_quota (user_id, day, used) VALUES ($1, $2, 1)
		ON CONFLICT (user_id, day) DO UPDATE SET used = daily_quota.used + 1
		WHERE daily_quota.used < $3
		RETURNING used`,
		userID, day, limit,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return limit, eris.Wrapf(model.ErrQuotaExceeded, "user %s used %d of %d searches", userID, limit, limit)
	}
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reserve quota")
	}
	return used, nil
}

func (s *PostgresStore) ReleaseQuota(ctx context.Context, userID, day string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE daily_quota SET used = used - 1 WHERE user_id = $1 AND day = $2 AND used > 0`,
		userID, day,
	)
	return eris.Wrap(err, "postgres: release quota")
}

func (s *PostgresStore) GetQuota(ctx context.Context, userID, day string) (int, error) {
	var used int
	err := s.pool.QueryRow(ctx,
		`SELECT used FROM daily_quota WHERE user_id = $1 AND day = $2`, userID, day,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return used, eris.Wrap(err, "postgres: get quota")
}

// ConvertProspect locks the prospect row so concurrent conversions see the
// first one's lead instead of inserting a second.
func (s *PostgresStore) ConvertProspect(ctx context.Context, id, owner string) (*model.Lead, bool, error) {
	var (
		lead    *model.Lead
		created bool
	)
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		p, err := getProspect(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if p.Processed {
			lead, err = getLead(ctx, tx, p.LeadID)
			return err
		}

		now := s.now()
		l := model.LeadFromProspect(*p, owner)
		l.ID = uuid.New().String()
		l.CreatedAt = now
		if _, err := tx.Exec(ctx,
			`INSERT INTO leads (id, prospect_id, name, phone, email, website, address, source, status,
				owner_user, estimated_value, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			l.ID, l.ProspectID, l.Name, l.Phone, l.Email, l.Website, l.Address, l.Source, l.Status,
			l.OwnerUser, l.EstimatedValue, l.CreatedAt,
		); err != nil {
			return eris.Wrap(err, "insert lead")
		}
		if _, err := tx.Exec(ctx,
			`UPDATE prospects SET processed = true, lead_id = $1, state = 'converted', updated_at = $2 WHERE id = $3`,
			l.ID, now, id,
		); err != nil {
			return eris.Wrap(err, "mark processed")
		}
		lead, created = &l, true
		return nil
	})
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: convert prospect %s", id)
	}
	return lead, created, nil
}

const leadColumns = `id, prospect_id, name, phone, email, website, address, source, status,
	owner_user, estimated_value, created_at`

func getLead(ctx context.Context, q db.Querier, id string) (*model.Lead, error) {
	var l model.Lead
	var value pgtype.Float8
	err := q.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id).Scan(
		&l.ID, &l.ProspectID, &l.Name, &l.Phone, &l.Email, &l.Website, &l.Address, &l.Source,
		&l.Status, &l.OwnerUser, &value, &l.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFound("lead", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	if value.Valid {
		v := value.Float64
		l.EstimatedValue = &v
	}
	return &l, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	return getLead(ctx, s.pool, id)
}

func (s *PostgresStore) CreateDemo(ctx context.Context, d *model.DemoPublication) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO demo_publications (id, prospect_id, token, demo_type, title, rendered_content,
			view_count, revoked, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, false, $7, $8)`,
		d.ID, d.ProspectID, d.Token, d.DemoType, d.Title, d.RenderedContent, d.CreatedBy, d.CreatedAt,
	)
	if isUniqueViolation(err) {
		return eris.Wrapf(model.ErrConflict, "demo token %s already exists", d.Token)
	}
	return eris.Wrap(err, "postgres: create demo")
}

const demoColumns = `id, prospect_id, token, demo_type, title, rendered_content, view_count,
	revoked, accepted_at, created_by, created_at`

func scanDemo(row pgx.Row) (*model.DemoPublication, error) {
	var d model.DemoPublication
	var accepted pgtype.Timestamptz
	if err := row.Scan(&d.ID, &d.ProspectID, &d.Token, &d.DemoType, &d.Title, &d.RenderedContent,
		&d.ViewCount, &d.Revoked, &accepted, &d.CreatedBy, &d.CreatedAt); err != nil {
		return nil, err
	}
	if accepted.Valid {
		t := accepted.Time
		d.AcceptedAt = &t
	}
	return &d, nil
}

func (s *PostgresStore) GetDemoByToken(ctx context.Context, token string) (*model.DemoPublication, error) {
	d, err := scanDemo(s.pool.QueryRow(ctx,
		`SELECT `+demoColumns+` FROM demo_publications WHERE token = $1 AND NOT revoked`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFound("demo", token)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get demo")
	}
	return d, nil
}

func (s *PostgresStore) IncrementDemoViews(ctx context.Context, token string) (int64, error) {
	var views int64
	err := s.pool.QueryRow(ctx,
		`UPDATE demo_publications SET view_count = view_count + 1
		WHERE token = $1 AND NOT revoked RETURNING view_count`, token,
	).Scan(&views)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, model.NotFound("demo", token)
	}
	return views, eris.Wrap(err, "postgres: increment demo views")
}

func (s *PostgresStore) AcceptDemo(ctx context.Context, token string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE demo_publications SET accepted_at = $1
		WHERE token = $2 AND NOT revoked AND accepted_at IS NULL`, at, token,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: accept demo")
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetDemoByToken(ctx, token); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) RevokeDemo(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE demo_publications SET revoked = true WHERE id = $1`, id)
	if err != nil {
		return eris.Wrap(err, "postgres: revoke demo")
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("demo", id)
	}
	return nil
}

func (s *PostgresStore) ListDemos(ctx context.Context, prospectID string) ([]model.DemoPublication, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+demoColumns+` FROM demo_publications WHERE prospect_id = $1 ORDER BY created_at DESC`,
		prospectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list demos")
	}
	defer rows.Close()

	var out []model.DemoPublication
	for rows.Next() {
		d, err := scanDemo(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan demo")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list demos")
}

func (s *PostgresStore) AddContactRequest(ctx context.Context, c *model.ContactRequest) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contact_requests (id, demo_token, name, email, phone, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.DemoToken, c.Name, c.Email, c.Phone, c.Message, c.CreatedAt,
	)
	return eris.Wrap(err, "postgres: add contact request")
}

func (s *PostgresStore) ListContactRequests(ctx context.Context, token string) ([]model.ContactRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, demo_token, name, email, phone, message, created_at
		FROM contact_requests WHERE demo_token = $1 ORDER BY created_at`, token,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contact requests")
	}
	defer rows.Close()

	var out []model.ContactRequest
	for rows.Next() {
		var c model.ContactRequest
		if err := rows.Scan(&c.ID, &c.DemoToken, &c.Name, &c.Email, &c.Phone, &c.Message, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact request")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list contact requests")
}

func (s *PostgresStore) UpsertUser(ctx context.Context, u model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, role) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, role = EXCLUDED.role`,
		u.ID, u.Name, u.Email, u.Role,
	)
	return eris.Wrap(err, "postgres: upsert user")
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx, `SELECT id, name, email, role FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFound("user", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get user")
	}
	return &u, nil
}

func (s *PostgresStore) ListUsersByRole(ctx context.Context, role string) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, email, role FROM users WHERE role = $1 ORDER BY id`, role)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list users")
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role); err != nil {
			return nil, eris.Wrap(err, "postgres: scan user")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list users")
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message, link, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, n.Link, n.CreatedAt,
	)
	return eris.Wrap(err, "postgres: create notification")
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, title, message, link, read, created_at FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR NOT read) ORDER BY created_at DESC LIMIT $3`,
		userID, unreadOnly, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list notifications")
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var typ string
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan notification")
		}
		n.Type = model.NotificationType(typ)
		out = append(out, n)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list notifications")
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return eris.Wrap(err, "postgres: mark notification read")
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("notification", id)
	}
	return nil
}

func collectProspects(rows pgx.Rows) ([]model.Prospect, error) {
	defer rows.Close()
	var out []model.Prospect
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanProspect(row pgx.Row) (*model.Prospect, error) {
	var (
		p                           model.Prospect
		state                       string
		social, photos, reviews     []byte
		audit, intel, analysis      []byte
		sessionID, assigned, leadID pgtype.Text
	)
	err := row.Scan(&p.ID, &p.ExternalID, &p.Name, &p.Address, &p.Location.Lat, &p.Location.Lng,
		&p.Category, &p.SearchText, &p.Phone, &p.Website, &social, &photos, &reviews, &p.Rating,
		&p.UserRatingsTotal, &p.QualityScore, &audit, &intel, &analysis, &state, &sessionID,
		&assigned, &p.Processed, &leadID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.State = model.ProspectState(state)
	p.SearchSessionID = sessionID.String
	p.AssignedUser = assigned.String
	p.LeadID = leadID.String

	if err := decodeProspectJSON(&p, social, photos, reviews, audit, intel, analysis); err != nil {
		return nil, err
	}
	return &p, nil
}

// decodeProspectJSON fills the JSON-encoded prospect columns. Empty input
// leaves the field at its zero value.
func decodeProspectJSON(p *model.Prospect, social, photos, reviews, audit, intel, analysis []byte) error {
	fields := []struct {
		raw  []byte
		dst  any
		name string
	}{
		{social, &p.Social, "social"},
		{photos, &p.Photos, "photos"},
		{reviews, &p.Reviews, "reviews"},
	}
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return eris.Wrapf(err, "unmarshal %s", f.name)
		}
	}
	if len(audit) > 0 {
		p.DigitalAudit = &model.DigitalAudit{}
		if err := json.Unmarshal(audit, p.DigitalAudit); err != nil {
			return eris.Wrap(err, "unmarshal digital_audit")
		}
	}
	if len(intel) > 0 {
		p.SalesIntel = &model.SalesIntelligence{}
		if err := json.Unmarshal(intel, p.SalesIntel); err != nil {
			return eris.Wrap(err, "unmarshal sales_intelligence")
		}
	}
	if len(analysis) > 0 {
		p.AIAnalysis = &model.AIAnalysis{}
		if err := json.Unmarshal(analysis, p.AIAnalysis); err != nil {
			return eris.Wrap(err, "unmarshal ai_analysis")
		}
	}
	return nil
}

// prefixed qualifies each column in a comma-separated list with prefix.
func prefixed(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, c := range parts {
		parts[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
