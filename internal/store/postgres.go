package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscrape/internal/db"
	"github.com/sells-group/leadscrape/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	pingFn  func(context.Context) error
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hot-path lookups prepared on each new
// connection.
var preparedStatements = map[string]string{
	"find_lead":   `SELECT ` + leadColumns + ` FROM leads WHERE user_id = $1 AND ((email <> '' AND lower(email) = $2) OR (linkedin_url <> '' AND linkedin_url = $3)) ORDER BY created_at, id LIMIT 1`,
	"has_usage":   `SELECT EXISTS (SELECT 1 FROM entity_scraper_usage WHERE entity_type = $1 AND entity_id = $2 AND scraper_id = $3 AND has_result)`,
	"get_run":     `SELECT ` + runColumns + ` FROM runs WHERE id = $1`,
	"get_lead":    `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`,
	"get_company": `SELECT ` + companyColumns + ` FROM companies WHERE id = $1`,
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, pingFn: pool.Ping}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id                    TEXT PRIMARY KEY,
	name                  TEXT NOT NULL DEFAULT '',
	name_key              TEXT NOT NULL DEFAULT '',
	domain                TEXT NOT NULL DEFAULT '',
	website               TEXT NOT NULL DEFAULT '',
	linkedin_url          TEXT NOT NULL DEFAULT '',
	industry              TEXT NOT NULL DEFAULT '',
	employees_scraped     BOOLEAN NOT NULL DEFAULT false,
	employees_scraped_at  TIMESTAMPTZ,
	seo_analyzed_at       TIMESTAMPTZ,
	seo_data              JSONB,
	company_linkedin_post TEXT NOT NULL DEFAULT '',
	review_count          INTEGER NOT NULL DEFAULT 0,
	review_rating         DOUBLE PRECISION,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_domain ON companies(domain) WHERE domain <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_companies_linkedin_url ON companies(linkedin_url) WHERE linkedin_url <> '';
CREATE INDEX IF NOT EXISTS idx_companies_name_key ON companies(name_key) WHERE name_key <> '';

CREATE TABLE IF NOT EXISTS leads (
	id                    TEXT PRIMARY KEY,
	user_id               TEXT NOT NULL,
	company_id            TEXT REFERENCES companies(id),
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
	validated             BOOLEAN NOT NULL DEFAULT false,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_user_email ON leads(user_id, lower(email));
CREATE INDEX IF NOT EXISTS idx_leads_user_linkedin ON leads(user_id, linkedin_url);
CREATE INDEX IF NOT EXISTS idx_leads_company_id ON leads(company_id);

CREATE TABLE IF NOT EXISTS collection_leads (
	collection_id TEXT NOT NULL,
	lead_id       TEXT NOT NULL REFERENCES leads(id),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection_id, lead_id)
);

CREATE TABLE IF NOT EXISTS posts (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL UNIQUE,
	author_url TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL DEFAULT '',
	posted_at  TIMESTAMPTZ,
	lead_id    TEXT,
	company_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
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
	cost_usd      DOUBLE PRECISION,
	usage_details JSONB,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_runs_scraper_started ON runs(scraper_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS entity_scraper_usage (
	id          TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	scraper_id  TEXT NOT NULL,
	run_id      TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL DEFAULT '',
	has_result  BOOLEAN NOT NULL DEFAULT false,
	item_count  INTEGER NOT NULL DEFAULT 0,
	config_used JSONB,
	user_id     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_usage_entity ON entity_scraper_usage(entity_type, entity_id, scraper_id);
`

const (
	companyColumns = `id, name, domain, website, linkedin_url, industry, employees_scraped, employees_scraped_at, seo_analyzed_at, seo_data, company_linkedin_post, review_count, review_rating, created_at, updated_at`
	leadColumns    = `id, user_id, company_id, first_name, last_name, full_name, position, email, email_certainty, linkedin_url, person_linkedin_post, company_linkedin_post, email_verify, validated, created_at, updated_at`
	runColumns     = `id, scraper_id, user_id, source, collection_id, company_id, lead_id, item_count, status, cost_usd, usage_details, started_at, finished_at`
	usageColumns   = `id, entity_type, entity_id, scraper_id, run_id, source, has_result, item_count, config_used, user_id, created_at`
)

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pingFn != nil {
		return eris.Wrap(s.pingFn(ctx), "postgres: ping")
	}
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

// --- Companies ---

func (s *PostgresStore) FindCompany(ctx context.Context, m CompanyMatch) (*model.Company, error) {
	if m.Empty() {
		return nil, nil
	}
	row := s.pool.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies
		WHERE ($1 <> '' AND name_key = $1) OR ($2 <> '' AND domain = $2) OR ($3 <> '' AND linkedin_url = $3)
		ORDER BY created_at, id LIMIT 1`,
		m.NameKey, m.Domain, m.LinkedInURL,
	)
	c, err := pgScanCompany(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find company")
	}
	return c, nil
}

func (s *PostgresStore) CreateCompany(ctx context.Context, c *model.Company, nameKey string) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO companies (id, name, name_key, domain, website, linkedin_url, industry, company_linkedin_post, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.Name, nameKey, c.Domain, c.Website, c.LinkedInURL, c.Industry, string(c.CompanyLinkedInPost), now, now,
	)
	if db.IsUniqueViolation(err) {
		return ErrConflict
	}
	return eris.Wrap(err, "postgres: insert company")
}

func (s *PostgresStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	c, err := pgScanCompany(s.pool.QueryRow(ctx, preparedStatements["get_company"], id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get company %s", id)
	}
	return c, nil
}

func (s *PostgresStore) UpdateCompany(ctx context.Context, id string, p CompanyPatch) error {
	err := s.patch(ctx, "companies", id, p.columns())
	if db.IsUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// --- Leads ---

func (s *PostgresStore) FindLead(ctx context.Context, m LeadMatch) (*model.Lead, error) {
	if m.Email == "" && m.LinkedInURL == "" {
		return nil, nil
	}
	l, err := pgScanLead(s.pool.QueryRow(ctx, preparedStatements["find_lead"], m.UserID, strings.ToLower(m.Email), m.LinkedInURL))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find lead")
	}
	return l, nil
}

func (s *PostgresStore) CreateLead(ctx context.Context, l *model.Lead) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	l.CreatedAt, l.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO leads (`+leadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		l.ID, l.UserID, nullString(l.CompanyID), l.FirstName, l.LastName, l.FullName, l.Position,
		l.Email, l.EmailCertainty, l.LinkedInURL, string(l.PersonLinkedInPost), string(l.CompanyLinkedInPost),
		string(l.EmailVerify), l.Validated, now, now,
	)
	return eris.Wrap(err, "postgres: insert lead")
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, err := pgScanLead(s.pool.QueryRow(ctx, preparedStatements["get_lead"], id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return l, nil
}

func (s *PostgresStore) UpdateLead(ctx context.Context, id string, p LeadPatch) error {
	return s.patch(ctx, "leads", id, p.columns())
}

func (s *PostgresStore) ListLeadsByCompanyLinkedIn(ctx context.Context, userID, linkedinURL string) ([]model.Lead, error) {
	query := `SELECT ` + prefixColumns("l", leadColumns) + ` FROM leads l
		JOIN companies c ON c.id = l.company_id
		WHERE c.linkedin_url = $1`
	args := []any{linkedinURL}
	if userID != "" {
		query += ` AND l.user_id = $2`
		args = append(args, userID)
	}
	query += ` ORDER BY l.created_at, l.id`
	return s.queryLeads(ctx, "list leads by company linkedin", query, args...)
}

func (s *PostgresStore) ListCollectionLeads(ctx context.Context, collectionID string) ([]model.Lead, error) {
	return s.queryLeads(ctx, "list collection leads",
		`SELECT `+prefixColumns("l", leadColumns)+` FROM leads l
		JOIN collection_leads cl ON cl.lead_id = l.id
		WHERE cl.collection_id = $1
		ORDER BY cl.created_at, l.id`,
		collectionID,
	)
}

func (s *PostgresStore) AddLeadToCollection(ctx context.Context, collectionID, leadID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO collection_leads (collection_id, lead_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (collection_id, lead_id) DO NOTHING`,
		collectionID, leadID, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: add lead %s to collection %s", leadID, collectionID)
}

func (s *PostgresStore) queryLeads(ctx context.Context, op, query string, args ...any) ([]model.Lead, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: "+op)
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := pgScanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: "+op+" iterate")
}

// --- Posts ---

var postColumns = []string{"id", "url", "author_url", "text", "posted_at", "lead_id", "company_id", "created_at"}

// InsertPosts writes posts whose URL is not already stored and returns how
// many were new.
func (s *PostgresStore) InsertPosts(ctx context.Context, posts []model.Post) (int, error) {
	if len(posts) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, len(posts))
	for i := range posts {
		p := &posts[i]
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		p.CreatedAt = now
		rows[i] = []any{p.ID, p.URL, p.AuthorURL, p.Text, p.PostedAt, nullString(p.LeadID), nullString(p.CompanyID), now}
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:           "posts",
		Columns:         postColumns,
		ConflictKeys:    []string{"url"},
		IgnoreConflicts: true,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert posts")
	}
	return int(n), nil
}

// --- Runs ---

// UpsertRun inserts the run or, for a known id, updates the fields that change
// at completion. Cost and usage details are only overwritten when set.
func (s *PostgresStore) UpsertRun(ctx context.Context, r *model.Run) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			item_count = EXCLUDED.item_count,
			cost_usd = COALESCE(EXCLUDED.cost_usd, runs.cost_usd),
			usage_details = COALESCE(EXCLUDED.usage_details, runs.usage_details),
			finished_at = COALESCE(EXCLUDED.finished_at, runs.finished_at)`,
		r.ID, r.ScraperID, r.UserID, string(r.Source), r.CollectionID, r.CompanyID, r.LeadID,
		r.ItemCount, string(r.Status), r.CostUSD, nullJSON(r.UsageDetails), r.StartedAt.UTC(), utcPtr(r.FinishedAt),
	)
	return eris.Wrapf(err, "postgres: upsert run %s", r.ID)
}

func (s *PostgresStore) UpdateRunCost(ctx context.Context, runID string, costUSD float64, details json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET cost_usd = $1, usage_details = COALESCE($2, usage_details) WHERE id = $3`,
		costUSD, nullJSON(details), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run cost %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := pgScanRun(s.pool.QueryRow(ctx, preparedStatements["get_run"], runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	add := func(cond string, v any) {
		query += fmt.Sprintf(cond, argIdx)
		args = append(args, v)
		argIdx++
	}
	if filter.ScraperID != "" {
		add(` AND scraper_id = $%d`, filter.ScraperID)
	}
	if filter.UserID != "" {
		add(` AND user_id = $%d`, filter.UserID)
	}
	if filter.CollectionID != "" {
		add(` AND collection_id = $%d`, filter.CollectionID)
	}
	if filter.Status != "" {
		add(` AND status = $%d`, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		add(` AND started_at >= $%d`, filter.Since.UTC())
	}
	query += ` ORDER BY started_at DESC`
	add(` LIMIT $%d`, listLimit(filter.Limit))
	if filter.Offset > 0 {
		add(` OFFSET $%d`, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := pgScanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// --- Usage ledger ---

var usageCopyColumns = strings.Split(strings.ReplaceAll(usageColumns, " ", ""), ",")

func (s *PostgresStore) InsertUsage(ctx context.Context, usage []model.EntityScraperUsage) error {
	now := time.Now().UTC()
	for i := range usage {
		if usage[i].ID == "" {
			usage[i].ID = uuid.New().String()
		}
		if usage[i].CreatedAt.IsZero() {
			usage[i].CreatedAt = now
		}
	}
	_, err := db.CopyRows(ctx, s.pool, "entity_scraper_usage", usageCopyColumns, usage, usageRowValues)
	return eris.Wrap(err, "postgres: insert usage")
}

func usageRowValues(u model.EntityScraperUsage) []any {
	return []any{
		u.ID, string(u.EntityType), u.EntityID, u.ScraperID, u.RunID, string(u.Source),
		u.HasResult, u.ItemCount, nullJSON(u.ConfigUsed), u.UserID, u.CreatedAt,
	}
}

func (s *PostgresStore) HasUsage(ctx context.Context, entityType model.EntityType, entityID, scraperID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, preparedStatements["has_usage"], string(entityType), entityID, scraperID).Scan(&ok)
	if err != nil {
		return false, eris.Wrap(err, "postgres: has usage")
	}
	return ok, nil
}

func (s *PostgresStore) ListUsage(ctx context.Context, entityType model.EntityType, entityID string) ([]model.EntityScraperUsage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+usageColumns+` FROM entity_scraper_usage WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at`,
		string(entityType), entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list usage")
	}
	defer rows.Close()

	var out []model.EntityScraperUsage
	for rows.Next() {
		var u model.EntityScraperUsage
		var cfg []byte
		if err := rows.Scan(&u.ID, &u.EntityType, &u.EntityID, &u.ScraperID, &u.RunID, &u.Source,
			&u.HasResult, &u.ItemCount, &cfg, &u.UserID, &u.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan usage")
		}
		if len(cfg) > 0 {
			u.ConfigUsed = json.RawMessage(cfg)
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list usage iterate")
}

// --- helpers ---

func (s *PostgresStore) patch(ctx context.Context, table, id string, cols []column) error {
	if len(cols) == 0 {
		return nil
	}
	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+2)
	for i, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", c.name, i+1))
		args = append(args, c.value)
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(cols)+1))
	args = append(args, time.Now().UTC(), id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", table, strings.Join(sets, ", "), len(args))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update %s %s", table, id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: %s not found: %s", table, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func pgScanCompany(row scannable) (*model.Company, error) {
	var c model.Company
	var seo []byte
	err := row.Scan(&c.ID, &c.Name, &c.Domain, &c.Website, &c.LinkedInURL, &c.Industry,
		&c.EmployeesScraped, &c.EmployeesScrapedAt, &c.SEOAnalyzedAt, &seo, &c.CompanyLinkedInPost,
		&c.ReviewCount, &c.ReviewRating, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(seo) > 0 {
		c.SEOData = json.RawMessage(seo)
	}
	return &c, nil
}

func pgScanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var companyID *string
	err := row.Scan(&l.ID, &l.UserID, &companyID, &l.FirstName, &l.LastName, &l.FullName, &l.Position,
		&l.Email, &l.EmailCertainty, &l.LinkedInURL, &l.PersonLinkedInPost, &l.CompanyLinkedInPost,
		&l.EmailVerify, &l.Validated, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if companyID != nil {
		l.CompanyID = *companyID
	}
	return &l, nil
}

func pgScanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var details []byte
	err := row.Scan(&r.ID, &r.ScraperID, &r.UserID, &r.Source, &r.CollectionID, &r.CompanyID, &r.LeadID,
		&r.ItemCount, &r.Status, &r.CostUSD, &details, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		r.UsageDetails = json.RawMessage(details)
	}
	return &r, nil
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
