package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/leadscrape/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id                    TEXT PRIMARY KEY,
	name                  TEXT NOT NULL DEFAULT '',
	name_key              TEXT NOT NULL DEFAULT '',
	domain                TEXT NOT NULL DEFAULT '',
	website               TEXT NOT NULL DEFAULT '',
	linkedin_url          TEXT NOT NULL DEFAULT '',
	industry              TEXT NOT NULL DEFAULT '',
	employees_scraped     BOOLEAN NOT NULL DEFAULT 0,
	employees_scraped_at  DATETIME,
	seo_analyzed_at       DATETIME,
	seo_data              TEXT,
	company_linkedin_post TEXT NOT NULL DEFAULT '',
	review_count          INTEGER NOT NULL DEFAULT 0,
	review_rating         REAL,
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_domain ON companies(domain) WHERE domain <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_linkedin_url ON companies(linkedin_url) WHERE linkedin_url <> '';
CREATE INDEX IF NOT EXISTS idx_companies_name_key ON companies(name_key);

CREATE TABLE IF NOT EXISTS leads (
	id                    TEXT PRIMARY KEY,
	user_id               TEXT NOT NULL,
	company_id            TEXT,
	first_name            TEXT NOT NULL DEFAULT '',
	last_name             TEXT NOT NULL DEFAULT '',
	full_name             TEXT NOT NULL DEFAULT '',
	position              TEXT NOT NULL DEFAULT '',
	email                 TEXT NOT NULL DEFAULT '',
	email_certainty       TEXT NOT NULL DEFAULT '',
	linkedin_url          TEXT NOT NULL DEFAULT '',
	person_linkedin_post  TEXT NOT NULL DEFAULT '',
	company_linkedin_post TEXT NOT NULL DEFAULT '',
	email_verify          TEXT NOT NULL DEFAULT '',
	validated             BOOLEAN NOT NULL DEFAULT 0,
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_user_email ON leads(user_id, email);
CREATE INDEX IF NOT EXISTS idx_leads_user_linkedin ON leads(user_id, linkedin_url);
CREATE INDEX IF NOT EXISTS idx_leads_company_id ON leads(company_id);

CREATE TABLE IF NOT EXISTS collection_leads (
	collection_id TEXT NOT NULL,
	lead_id       TEXT NOT NULL,
	created_at    DATETIME NOT NULL,
	PRIMARY KEY (collection_id, lead_id)
);

CREATE TABLE IF NOT EXISTS posts (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL UNIQUE,
	author_url TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL DEFAULT '',
	posted_at  DATETIME,
	lead_id    TEXT,
	company_id TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	scraper_id    TEXT NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT '',
	collection_id TEXT NOT NULL DEFAULT '',
	company_id    TEXT NOT NULL DEFAULT '',
	lead_id       TEXT NOT NULL DEFAULT '',
	item_count    INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	cost_usd      REAL,
	usage_details TEXT,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_scraper_started ON runs(scraper_id, started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS entity_scraper_usage (
	id          TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	scraper_id  TEXT NOT NULL,
	run_id      TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL DEFAULT '',
	has_result  BOOLEAN NOT NULL DEFAULT 0,
	item_count  INTEGER NOT NULL DEFAULT 0,
	config_used TEXT,
	user_id     TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_entity ON entity_scraper_usage(entity_type, entity_id, scraper_id);
`

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

// --- Companies ---

func (s *SQLiteStore) FindCompany(ctx context.Context, m CompanyMatch) (*model.Company, error) {
	if m.Empty() {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+companyColumns+` FROM companies
		WHERE (?1 <> '' AND name_key = ?1) OR (?2 <> '' AND domain = ?2) OR (?3 <> '' AND linkedin_url = ?3)
		ORDER BY created_at, id LIMIT 1`,
		m.NameKey, m.Domain, m.LinkedInURL,
	)
	c, err := sqliteScanCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find company")
	}
	return c, nil
}

func (s *SQLiteStore) CreateCompany(ctx context.Context, c *model.Company, nameKey string) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (id, name, name_key, domain, website, linkedin_url, industry, company_linkedin_post, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, nameKey, c.Domain, c.Website, c.LinkedInURL, c.Industry, string(c.CompanyLinkedInPost), now, now,
	)
	if isSQLiteUnique(err) {
		return ErrConflict
	}
	return eris.Wrap(err, "sqlite: insert company")
}

func (s *SQLiteStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	c, err := sqliteScanCompany(s.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get company %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) UpdateCompany(ctx context.Context, id string, p CompanyPatch) error {
	err := s.patch(ctx, "companies", id, p.columns())
	if isSQLiteUnique(err) {
		return ErrConflict
	}
	return err
}

// --- Leads ---

func (s *SQLiteStore) FindLead(ctx context.Context, m LeadMatch) (*model.Lead, error) {
	if m.Email == "" && m.LinkedInURL == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads
		WHERE user_id = ?1 AND ((email <> '' AND lower(email) = ?2) OR (linkedin_url <> '' AND linkedin_url = ?3))
		ORDER BY created_at, id LIMIT 1`,
		m.UserID, strings.ToLower(m.Email), m.LinkedInURL,
	)
	l, err := sqliteScanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find lead")
	}
	return l, nil
}

func (s *SQLiteStore) CreateLead(ctx context.Context, l *model.Lead) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	l.CreatedAt, l.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (`+leadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.UserID, nullString(l.CompanyID), l.FirstName, l.LastName, l.FullName, l.Position,
		l.Email, l.EmailCertainty, l.LinkedInURL, string(l.PersonLinkedInPost), string(l.CompanyLinkedInPost),
		string(l.EmailVerify), l.Validated, now, now,
	)
	return eris.Wrap(err, "sqlite: insert lead")
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, err := sqliteScanLead(s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return l, nil
}

func (s *SQLiteStore) UpdateLead(ctx context.Context, id string, p LeadPatch) error {
	return s.patch(ctx, "leads", id, p.columns())
}

func (s *SQLiteStore) ListLeadsByCompanyLinkedIn(ctx context.Context, userID, linkedinURL string) ([]model.Lead, error) {
	query := `SELECT ` + prefixColumns("l", leadColumns) + ` FROM leads l
		JOIN companies c ON c.id = l.company_id
		WHERE c.linkedin_url = ?`
	args := []any{linkedinURL}
	if userID != "" {
		query += ` AND l.user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY l.created_at, l.id`
	return s.queryLeads(ctx, "list leads by company linkedin", query, args...)
}

func (s *SQLiteStore) ListCollectionLeads(ctx context.Context, collectionID string) ([]model.Lead, error) {
	return s.queryLeads(ctx, "list collection leads",
		`SELECT `+prefixColumns("l", leadColumns)+` FROM leads l
		JOIN collection_leads cl ON cl.lead_id = l.id
		WHERE cl.collection_id = ?
		ORDER BY cl.created_at, l.id`,
		collectionID,
	)
}

func (s *SQLiteStore) AddLeadToCollection(ctx context.Context, collectionID, leadID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO collection_leads (collection_id, lead_id, created_at) VALUES (?, ?, ?)`,
		collectionID, leadID, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: add lead %s to collection %s", leadID, collectionID)
}

func (s *SQLiteStore) queryLeads(ctx context.Context, op, query string, args ...any) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: "+op)
	}
	defer rows.Close() //nolint:errcheck

	var leads []model.Lead
	for rows.Next() {
		l, err := sqliteScanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: "+op+" iterate")
}

// --- Posts ---

func (s *SQLiteStore) InsertPosts(ctx context.Context, posts []model.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert posts: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO posts (id, url, author_url, text, posted_at, lead_id, company_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert posts: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	created := 0
	for i := range posts {
		p := &posts[i]
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		p.CreatedAt = now
		res, err := stmt.ExecContext(ctx, p.ID, p.URL, p.AuthorURL, p.Text, p.PostedAt,
			nullString(p.LeadID), nullString(p.CompanyID), now)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert post %s", p.URL)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		created += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert posts: commit")
	}
	return created, nil
}

// --- Runs ---

func (s *SQLiteStore) UpsertRun(ctx context.Context, r *model.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			item_count = excluded.item_count,
			cost_usd = COALESCE(excluded.cost_usd, runs.cost_usd),
			usage_details = COALESCE(excluded.usage_details, runs.usage_details),
			finished_at = COALESCE(excluded.finished_at, runs.finished_at)`,
		r.ID, r.ScraperID, r.UserID, string(r.Source), r.CollectionID, r.CompanyID, r.LeadID,
		r.ItemCount, string(r.Status), r.CostUSD, nullJSON(r.UsageDetails), r.StartedAt.UTC(), utcPtr(r.FinishedAt),
	)
	return eris.Wrapf(err, "sqlite: upsert run %s", r.ID)
}

func (s *SQLiteStore) UpdateRunCost(ctx context.Context, runID string, costUSD float64, details json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET cost_usd = ?, usage_details = COALESCE(?, usage_details) WHERE id = ?`,
		costUSD, nullJSON(details), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run cost %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := sqliteScanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.ScraperID != "" {
		query += ` AND scraper_id = ?`
		args = append(args, filter.ScraperID)
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.CollectionID != "" {
		query += ` AND collection_id = ?`
		args = append(args, filter.CollectionID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY started_at DESC, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := sqliteScanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// --- Usage ledger ---

func (s *SQLiteStore) InsertUsage(ctx context.Context, usage []model.EntityScraperUsage) error {
	if len(usage) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert usage: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range usage {
		u := &usage[i]
		if u.ID == "" {
			u.ID = uuid.New().String()
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO entity_scraper_usage (`+usageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, string(u.EntityType), u.EntityID, u.ScraperID, u.RunID, string(u.Source),
			u.HasResult, u.ItemCount, nullJSON(u.ConfigUsed), u.UserID, u.CreatedAt.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert usage for %s %s", u.EntityType, u.EntityID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: insert usage: commit")
}

func (s *SQLiteStore) HasUsage(ctx context.Context, entityType model.EntityType, entityID, scraperID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM entity_scraper_usage WHERE entity_type = ? AND entity_id = ? AND scraper_id = ? AND has_result = 1)`,
		string(entityType), entityID, scraperID,
	).Scan(&ok)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: has usage")
	}
	return ok, nil
}

func (s *SQLiteStore) ListUsage(ctx context.Context, entityType model.EntityType, entityID string) ([]model.EntityScraperUsage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+usageColumns+` FROM entity_scraper_usage WHERE entity_type = ? AND entity_id = ? ORDER BY created_at, id`,
		string(entityType), entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list usage")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.EntityScraperUsage
	for rows.Next() {
		var u model.EntityScraperUsage
		var cfg sql.NullString
		if err := rows.Scan(&u.ID, &u.EntityType, &u.EntityID, &u.ScraperID, &u.RunID, &u.Source,
			&u.HasResult, &u.ItemCount, &cfg, &u.UserID, &u.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan usage")
		}
		if cfg.Valid {
			u.ConfigUsed = json.RawMessage(cfg.String)
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list usage iterate")
}

// helpers

func (s *SQLiteStore) patch(ctx context.Context, table, id string, cols []column) error {
	if len(cols) == 0 {
		return nil
	}
	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+2)
	for _, c := range cols {
		sets = append(sets, c.name+" = ?")
		args = append(args, c.value)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(sets, ", ")), args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update %s %s", table, id)
	}
	return checkRowsAffected(res, table, id)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

// isSQLiteUnique reports a UNIQUE or PRIMARY KEY constraint failure.
func isSQLiteUnique(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func sqliteScanCompany(row scannable) (*model.Company, error) {
	var c model.Company
	var scrapedAt, seoAt sql.NullTime
	var seo sql.NullString
	var rating sql.NullFloat64
	err := row.Scan(&c.ID, &c.Name, &c.Domain, &c.Website, &c.LinkedInURL, &c.Industry,
		&c.EmployeesScraped, &scrapedAt, &seoAt, &seo, &c.CompanyLinkedInPost,
		&c.ReviewCount, &rating, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.EmployeesScrapedAt = nullTimePtr(scrapedAt)
	c.SEOAnalyzedAt = nullTimePtr(seoAt)
	if seo.Valid {
		c.SEOData = json.RawMessage(seo.String)
	}
	if rating.Valid {
		c.ReviewRating = &rating.Float64
	}
	return &c, nil
}

func sqliteScanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var companyID sql.NullString
	err := row.Scan(&l.ID, &l.UserID, &companyID, &l.FirstName, &l.LastName, &l.FullName, &l.Position,
		&l.Email, &l.EmailCertainty, &l.LinkedInURL, &l.PersonLinkedInPost, &l.CompanyLinkedInPost,
		&l.EmailVerify, &l.Validated, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.CompanyID = companyID.String
	return &l, nil
}

func sqliteScanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var cost sql.NullFloat64
	var details sql.NullString
	var finished sql.NullTime
	err := row.Scan(&r.ID, &r.ScraperID, &r.UserID, &r.Source, &r.CollectionID, &r.CompanyID, &r.LeadID,
		&r.ItemCount, &r.Status, &cost, &details, &r.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	if cost.Valid {
		r.CostUSD = &cost.Float64
	}
	if details.Valid {
		r.UsageDetails = json.RawMessage(details.String)
	}
	r.FinishedAt = nullTimePtr(finished)
	return &r, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
