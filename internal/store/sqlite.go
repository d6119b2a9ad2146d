package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/prospector/internal/db"
	"github.com/sells-group/prospector/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is meant for
// local runs of the CLI; a single connection serializes writers.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn, now: func() time.Time { return time.Now().UTC() }}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS search_sessions (
	id              TEXT PRIMARY KEY,
	query           TEXT NOT NULL,
	location        TEXT NOT NULL,
	center_lat      REAL NOT NULL,
	center_lng      REAL NOT NULL,
	radius          INTEGER NOT NULL,
	requested_limit INTEGER NOT NULL,
	strategy        TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	result_count    INTEGER NOT NULL DEFAULT 0,
	cached_count    INTEGER NOT NULL DEFAULT 0,
	fetched_count   INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS prospects (
	id                 TEXT PRIMARY KEY,
	external_id        TEXT NOT NULL UNIQUE,
	name               TEXT NOT NULL,
	address            TEXT NOT NULL DEFAULT '',
	lat                REAL NOT NULL,
	lng                REAL NOT NULL,
	category           TEXT NOT NULL DEFAULT '',
	search_text        TEXT NOT NULL DEFAULT '',
	phone              TEXT NOT NULL DEFAULT '',
	website            TEXT NOT NULL DEFAULT '',
	social             TEXT NOT NULL DEFAULT '{}',
	photos             TEXT NOT NULL DEFAULT '[]',
	reviews            TEXT NOT NULL DEFAULT '[]',
	rating             REAL NOT NULL DEFAULT 0,
	user_ratings_total INTEGER NOT NULL DEFAULT 0,
	quality_score      INTEGER NOT NULL DEFAULT 0,
	digital_audit      TEXT,
	sales_intelligence TEXT,
	ai_analysis        TEXT,
	state              TEXT NOT NULL DEFAULT 'new',
	search_session_id  TEXT REFERENCES search_sessions(id) ON DELETE SET NULL,
	assigned_user      TEXT,
	processed          BOOLEAN NOT NULL DEFAULT 0,
	lead_id            TEXT,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL,
	CHECK (NOT processed OR lead_id IS NOT NULL)
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
	estimated_value REAL,
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS demo_publications (
	id               TEXT PRIMARY KEY,
	prospect_id      TEXT NOT NULL REFERENCES prospects(id),
	token            TEXT NOT NULL UNIQUE,
	demo_type        TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	rendered_content TEXT NOT NULL,
	view_count       INTEGER NOT NULL DEFAULT 0,
	revoked          BOOLEAN NOT NULL DEFAULT 0,
	accepted_at      DATETIME,
	created_by       TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS contact_requests (
	id         TEXT PRIMARY KEY,
	demo_token TEXT NOT NULL REFERENCES demo_publications(token),
	name       TEXT NOT NULL,
	email      TEXT NOT NULL DEFAULT '',
	phone      TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

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
	read       BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
`

var sqliteProspectUpsert = mustUpsertSQL(db.UpsertConfig{
	Table:        "prospects",
	Columns:      prospectInsertCols,
	ConflictKeys: []string{"external_id"},
	UpdateCols:   prospectRefreshCols,
	UpdateExprs: map[string]string{
		"social":        `CASE WHEN excluded.social = '{}' THEN t.social ELSE excluded.social END`,
		"quality_score": `CASE WHEN t.digital_audit IS NULL THEN excluded.quality_score ELSE t.quality_score END`,
	},
	Returning:  []string{"id"},
	Positional: true,
})

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// inTx mirrors db.InTx for database/sql.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) FindNearby(ctx context.Context, q NearbyQuery) ([]model.Prospect, error) {
	area := q.area()
	minLat, maxLat, minLng, maxLng := boxArgs(area)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prospectColumns+` FROM prospects
		WHERE lat BETWEEN ? AND ? AND lng BETWEEN ? AND ? AND search_text LIKE ?`,
		minLat, maxLat, minLng, maxLng, likeTerm(q.Term),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find nearby")
	}
	candidates, err := collectSQLiteProspects(rows)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find nearby")
	}
	return filterNearby(candidates, q, area), nil
}

func (s *SQLiteStore) GetProspect(ctx context.Context, id string) (*model.Prospect, error) {
	return sqliteGetProspect(ctx, s.db, id)
}

func sqliteGetProspect(ctx context.Context, q sqlQuerier, id string) (*model.Prospect, error) {
	p, err := scanSQLiteProspect(q.QueryRowContext(ctx,
		`SELECT `+prospectColumns+` FROM prospects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("prospect", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get prospect %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) SaveQuickAnalysis(ctx context.Context, id string, a model.AIAnalysis) (*model.Prospect, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal ai analysis")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE prospects SET ai_analysis = ?,
			state = CASE WHEN state IN ('new', 'cached') THEN 'analyzed' ELSE state END,
			updated_at = ?
		WHERE id = ?`,
		string(data), s.now(), id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: save quick analysis %s", id)
	}
	if err := checkRowsAffected(res, "prospect", id); err != nil {
		return nil, err
	}
	return s.GetProspect(ctx, id)
}

func (s *SQLiteStore) SaveDeepAnalysis(ctx context.Context, id string, audit model.DigitalAudit, intel model.SalesIntelligence, quality int) (*model.Prospect, error) {
	auditJSON, err := json.Marshal(audit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal digital audit")
	}
	intelJSON, err := json.Marshal(intel)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal sales intelligence")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE prospects SET digital_audit = ?, sales_intelligence = ?, quality_score = ?,
			state = CASE WHEN state IN ('new', 'cached', 'analyzed') THEN 'deep_analyzed' ELSE state END,
			updated_at = ?
		WHERE id = ?`,
		string(auditJSON), string(intelJSON), quality, s.now(), id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: save deep analysis %s", id)
	}
	if err := checkRowsAffected(res, "prospect", id); err != nil {
		return nil, err
	}
	return s.GetProspect(ctx, id)
}

func (s *SQLiteStore) AssignProspect(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE prospects SET assigned_user = ?, updated_at = ? WHERE id = ?`, userID, s.now(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: assign prospect %s", id)
	}
	return checkRowsAffected(res, "prospect", id)
}

func (s *SQLiteStore) CreateSession(ctx context.Context, ns NewSession) (*model.SearchSession, []model.Prospect, error) {
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

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO search_sessions (id, query, location, center_lat, center_lng, radius,
				requested_limit, strategy, user_id, result_count, cached_count, fetched_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.Query, sess.Location, sess.Center.Lat, sess.Center.Lng, sess.Radius,
			sess.RequestedLimit, sess.Strategy, sess.UserID, 0, sess.CachedCount, sess.FetchedCount, now,
		); err != nil {
			return eris.Wrap(err, "insert session")
		}

		for _, id := range ns.CachedIDs {
			if _, err := tx.ExecContext(ctx,
				`UPDATE prospects SET state = 'cached', updated_at = ? WHERE id = ? AND state = 'new'`,
				now, id,
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
			for j, a := range args {
				if b, ok := a.([]byte); ok {
					args[j] = string(b)
				}
			}
			var id string
			if err := tx.QueryRowContext(ctx, sqliteProspectUpsert, args...).Scan(&id); err != nil {
				return eris.Wrapf(err, "upsert prospect %s", f.ExternalID)
			}
			add(id)
		}

		for pos, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO search_session_members (session_id, prospect_id, position) VALUES (?, ?, ?)
				ON CONFLICT (session_id, prospect_id) DO NOTHING`,
				sess.ID, id, pos,
			); err != nil {
				return eris.Wrapf(err, "insert member %s", id)
			}
		}

		sess.ResultCount = len(ids)
		_, err := tx.ExecContext(ctx,
			`UPDATE search_sessions SET result_count = ? WHERE id = ?`, sess.ResultCount, sess.ID)
		return eris.Wrap(err, "update result count")
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: create session")
	}

	saved, err := s.ListSessionProspects(ctx, sess.ID)
	if err != nil {
		return nil, nil, err
	}
	return &sess, saved, nil
}

func scanSQLiteSession(row interface{ Scan(...any) error }) (*model.SearchSession, error) {
	var ss model.SearchSession
	err := row.Scan(&ss.ID, &ss.Query, &ss.Location, &ss.Center.Lat, &ss.Center.Lng, &ss.Radius,
		&ss.RequestedLimit, &ss.Strategy, &ss.UserID, &ss.ResultCount, &ss.CachedCount,
		&ss.FetchedCount, &ss.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ss, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.SearchSession, error) {
	ss, err := scanSQLiteSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM search_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("search session", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get session %s", id)
	}
	return ss, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, userID string, limit int) ([]model.SearchSession, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM search_sessions
		WHERE (? = '' OR user_id = ?) ORDER BY created_at DESC LIMIT ?`,
		userID, userID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var out []model.SearchSession
	for rows.Next() {
		ss, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		out = append(out, *ss)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sessions")
}

func (s *SQLiteStore) ListSessionProspects(ctx context.Context, sessionID string) ([]model.Prospect, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixed("p.", prospectColumns)+` FROM prospects p
		JOIN search_session_members m ON m.prospect_id = p.id
		WHERE m.session_id = ? ORDER BY m.position`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list session prospects %s", sessionID)
	}
	out, err := collectSQLiteProspects(rows)
	return out, eris.Wrapf(err, "sqlite: list session prospects %s", sessionID)
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) (model.DeleteResult, error) {
	var res model.DeleteResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var total int
		if err := tx.QueryRowContext(ctx,
			`SELECT count(*) FROM search_session_members WHERE session_id = ?`, id,
		).Scan(&total); err != nil {
			return eris.Wrap(err, "count members")
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT p.id FROM prospects p
			JOIN search_session_members m ON m.prospect_id = p.id AND m.session_id = ?
			WHERE NOT p.processed AND p.lead_id IS NULL AND p.state <> 'converted'
			AND COALESCE(p.assigned_user, '') = ''
			AND NOT EXISTS (SELECT 1 FROM search_session_members o WHERE o.prospect_id = p.id AND o.session_id <> ?)
			AND NOT EXISTS (SELECT 1 FROM demo_publications d WHERE d.prospect_id = p.id)`,
			id, id,
		)
		if err != nil {
			return eris.Wrap(err, "select deletable")
		}
		var doomed []string
		for rows.Next() {
			var pid string
			if err := rows.Scan(&pid); err != nil {
				rows.Close() //nolint:errcheck
				return eris.Wrap(err, "scan deletable")
			}
			doomed = append(doomed, pid)
		}
		rows.Close() //nolint:errcheck
		if err := rows.Err(); err != nil {
			return eris.Wrap(err, "select deletable")
		}

		r, err := tx.ExecContext(ctx, `DELETE FROM search_sessions WHERE id = ?`, id)
		if err != nil {
			return eris.Wrap(err, "delete session")
		}
		if err := checkRowsAffected(r, "search session", id); err != nil {
			return err
		}

		for _, pid := range doomed {
			if _, err := tx.ExecContext(ctx, `DELETE FROM prospects WHERE id = ?`, pid); err != nil {
				return eris.Wrapf(err, "delete prospect %s", pid)
			}
		}
		res = model.DeleteResult{Deleted: len(doomed), Detached: total - len(doomed)}
		return nil
	})
	if err != nil {
		return model.DeleteResult{}, eris.Wrapf(err, "sqlite: delete session %s", id)
	}
	return res, nil
}

func (s *SQLiteStore) ReserveQuota(ctx context.Context, userID, day string, limit int) (int, error) {
	if limit <= 0 {
		return 0, eris.Wrapf(model.ErrQuotaExceeded, "user %s has no daily searches", userID)
	}
	var used int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO daily_quota (user_id, day, used) VALUES (?, ?, 1)
		ON CONFLICT (user_id, day) DO UPDATE SET used = used + 1
		WHERE used < ?
		RETURNING used`,
		userID, day, limit,
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return limit, eris.Wrapf(model.ErrQuotaExceeded, "user %s used %d of %d searches", userID, limit, limit)
	}
	return used, eris.Wrap(err, "sqlite: reserve quota")
}

func (s *SQLiteStore) ReleaseQuota(ctx context.Context, userID, day string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE daily_quota SET used = used - 1 WHERE user_id = ? AND day = ? AND used > 0`, userID, day)
	return eris.Wrap(err, "sqlite: release quota")
}

func (s *SQLiteStore) GetQuota(ctx context.Context, userID, day string) (int, error) {
	var used int
	err := s.db.QueryRowContext(ctx,
		`SELECT used FROM daily_quota WHERE user_id = ? AND day = ?`, userID, day).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return used, eris.Wrap(err, "sqlite: get quota")
}

func (s *SQLiteStore) ConvertProspect(ctx context.Context, id, owner string) (*model.Lead, bool, error) {
	var (
		lead    *model.Lead
		created bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		p, err := sqliteGetProspect(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Processed {
			lead, err = sqliteGetLead(ctx, tx, p.LeadID)
			return err
		}

		now := s.now()
		l := model.LeadFromProspect(*p, owner)
		l.ID = uuid.New().String()
		l.CreatedAt = now
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO leads (id, prospect_id, name, phone, email, website, address, source, status,
				owner_user, estimated_value, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.ProspectID, l.Name, l.Phone, l.Email, l.Website, l.Address, l.Source, l.Status,
			l.OwnerUser, nullFloat(l.EstimatedValue), l.CreatedAt,
		); err != nil {
			return eris.Wrap(err, "insert lead")
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE prospects SET processed = 1, lead_id = ?, state = 'converted', updated_at = ? WHERE id = ?`,
			l.ID, now, id,
		); err != nil {
			return eris.Wrap(err, "mark processed")
		}
		lead, created = &l, true
		return nil
	})
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: convert prospect %s", id)
	}
	return lead, created, nil
}

func sqliteGetLead(ctx context.Context, q sqlQuerier, id string) (*model.Lead, error) {
	var l model.Lead
	var value sql.NullFloat64
	err := q.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id).Scan(
		&l.ID, &l.ProspectID, &l.Name, &l.Phone, &l.Email, &l.Website, &l.Address, &l.Source,
		&l.Status, &l.OwnerUser, &value, &l.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("lead", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	if value.Valid {
		v := value.Float64
		l.EstimatedValue = &v
	}
	return &l, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	return sqliteGetLead(ctx, s.db, id)
}

func (s *SQLiteStore) CreateDemo(ctx context.Context, d *model.DemoPublication) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO demo_publications (id, prospect_id, token, demo_type, title, rendered_content,
			view_count, revoked, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		d.ID, d.ProspectID, d.Token, d.DemoType, d.Title, d.RenderedContent, d.CreatedBy, d.CreatedAt,
	)
	if isSQLiteUnique(err) {
		return eris.Wrapf(model.ErrConflict, "demo token %s already exists", d.Token)
	}
	return eris.Wrap(err, "sqlite: create demo")
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func scanSQLiteDemo(row interface{ Scan(...any) error }) (*model.DemoPublication, error) {
	var d model.DemoPublication
	var accepted sql.NullTime
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

func (s *SQLiteStore) GetDemoByToken(ctx context.Context, token string) (*model.DemoPublication, error) {
	d, err := scanSQLiteDemo(s.db.QueryRowContext(ctx,
		`SELECT `+demoColumns+` FROM demo_publications WHERE token = ? AND NOT revoked`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("demo", token)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get demo")
	}
	return d, nil
}

func (s *SQLiteStore) IncrementDemoViews(ctx context.Context, token string) (int64, error) {
	var views int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE demo_publications SET view_count = view_count + 1
		WHERE token = ? AND NOT revoked RETURNING view_count`, token,
	).Scan(&views)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, model.NotFound("demo", token)
	}
	return views, eris.Wrap(err, "sqlite: increment demo views")
}

func (s *SQLiteStore) AcceptDemo(ctx context.Context, token string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE demo_publications SET accepted_at = ?
		WHERE token = ? AND NOT revoked AND accepted_at IS NULL`, at, token)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: accept demo")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	if _, err := s.GetDemoByToken(ctx, token); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) RevokeDemo(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE demo_publications SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrap(err, "sqlite: revoke demo")
	}
	return checkRowsAffected(res, "demo", id)
}

func (s *SQLiteStore) ListDemos(ctx context.Context, prospectID string) ([]model.DemoPublication, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+demoColumns+` FROM demo_publications WHERE prospect_id = ? ORDER BY created_at DESC`,
		prospectID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list demos")
	}
	defer rows.Close()

	var out []model.DemoPublication
	for rows.Next() {
		d, err := scanSQLiteDemo(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan demo")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list demos")
}

func (s *SQLiteStore) AddContactRequest(ctx context.Context, c *model.ContactRequest) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contact_requests (id, demo_token, name, email, phone, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.DemoToken, c.Name, c.Email, c.Phone, c.Message, c.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: add contact request")
}

func (s *SQLiteStore) ListContactRequests(ctx context.Context, token string) ([]model.ContactRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, demo_token, name, email, phone, message, created_at
		FROM contact_requests WHERE demo_token = ? ORDER BY created_at`, token)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contact requests")
	}
	defer rows.Close()

	var out []model.ContactRequest
	for rows.Next() {
		var c model.ContactRequest
		if err := rows.Scan(&c.ID, &c.DemoToken, &c.Name, &c.Email, &c.Phone, &c.Message, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact request")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list contact requests")
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, u model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, role) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, email = excluded.email, role = excluded.role`,
		u.ID, u.Name, u.Email, u.Role)
	return eris.Wrap(err, "sqlite: upsert user")
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, `SELECT id, name, email, role FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("user", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get user")
	}
	return &u, nil
}

func (s *SQLiteStore) ListUsersByRole(ctx context.Context, role string) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, email, role FROM users WHERE role = ? ORDER BY id`, role)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list users")
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan user")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list users")
}

func (s *SQLiteStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message, link, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, n.Link, n.CreatedAt)
	return eris.Wrap(err, "sqlite: create notification")
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, type, title, message, link, read, created_at FROM notifications
		WHERE user_id = ? AND (? = 0 OR NOT read) ORDER BY created_at DESC LIMIT ?`,
		userID, unreadOnly, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list notifications")
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		var typ string
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan notification")
		}
		n.Type = model.NotificationType(typ)
		out = append(out, n)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list notifications")
}

func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return eris.Wrap(err, "sqlite: mark notification read")
	}
	return checkRowsAffected(res, "notification", id)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return model.NotFound(entity, id)
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func collectSQLiteProspects(rows *sql.Rows) ([]model.Prospect, error) {
	defer rows.Close()
	var out []model.Prospect
	for rows.Next() {
		p, err := scanSQLiteProspect(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanSQLiteProspect(row interface{ Scan(...any) error }) (*model.Prospect, error) {
	var (
		p                           model.Prospect
		state                       string
		social, photos, reviews     string
		audit, intel, analysis      sql.NullString
		sessionID, assigned, leadID sql.NullString
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

	if err := decodeProspectJSON(&p, []byte(social), []byte(photos), []byte(reviews),
		[]byte(audit.String), []byte(intel.String), []byte(analysis.String)); err != nil {
		return nil, err
	}
	return &p, nil
}
