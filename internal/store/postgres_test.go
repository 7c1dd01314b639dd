package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscrape/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, scraper_id, .* FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	r, err := s.GetRun(context.Background(), "nonexistent-run")
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM runs WHERE id = \$1`).
		WithArgs("r1").
		WillReturnError(errors.New("connection reset"))

	_, err := s.GetRun(context.Background(), "r1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run r1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLead_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM leads WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	l, err := s.GetLead(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, l)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindLead_LowercasesEmail(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM leads WHERE user_id = \$1 AND`).
		WithArgs("u1", "x@y.com", "").
		WillReturnError(pgx.ErrNoRows)

	l, err := s.FindLead(context.Background(), LeadMatch{UserID: "u1", Email: "X@Y.com"})
	require.NoError(t, err)
	assert.Nil(t, l)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindLead_NoKeysSkipsQuery(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	l, err := s.FindLead(context.Background(), LeadMatch{UserID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, l)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindCompany_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM companies\s+WHERE \(\$1 <> '' AND name_key = \$1\)`).
		WithArgs("acme", "acme.com", "").
		WillReturnError(pgx.ErrNoRows)

	c, err := s.FindCompany(context.Background(), CompanyMatch{NameKey: "acme", Domain: "acme.com"})
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateCompany_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO companies`).
		WithArgs(pgxmock.AnyArg(), "Acme", "acme", "acme.com", "", "", "", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := s.CreateCompany(context.Background(), &model.Company{Name: "Acme", Domain: "acme.com"}, "acme")
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateCompany_AssignsID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO companies`).
		WithArgs(pgxmock.AnyArg(), "Acme", "acme", "acme.com", "", "", "", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	c := &model.Company{Name: "Acme", Domain: "acme.com"}
	require.NoError(t, s.CreateCompany(context.Background(), c, "acme"))
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLead_Patch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET email = \$1, email_certainty = \$2, updated_at = \$3 WHERE id = \$4`).
		WithArgs("a@b.com", "probable", pgxmock.AnyArg(), "l1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateLead(context.Background(), "l1", LeadPatch{Email: ptr("a@b.com"), EmailCertainty: ptr("probable")})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLead_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE leads SET email_verify = \$1`).
		WithArgs("valid", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateLead(context.Background(), "missing", LeadPatch{EmailVerify: ptr(model.EmailVerifyValid)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leads not found: missing")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateCompany_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE companies SET linkedin_url = \$1`).
		WithArgs("https://www.linkedin.com/company/acme", pgxmock.AnyArg(), "c1").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.UpdateCompany(context.Background(), "c1", CompanyPatch{LinkedInURL: ptr("https://www.linkedin.com/company/acme")})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddLeadToCollection(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO collection_leads .* ON CONFLICT \(collection_id, lead_id\) DO NOTHING`).
		WithArgs("col-1", "l1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, s.AddLeadToCollection(context.Background(), "col-1", "l1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertPosts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_posts"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_posts"}, postColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "posts" .* ON CONFLICT \("url"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.InsertPosts(context.Background(), []model.Post{
		{URL: "https://linkedin.com/posts/1"},
		{URL: "https://linkedin.com/posts/2"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO runs .* ON CONFLICT \(id\) DO UPDATE SET`).
		WithArgs("run-1", "contact-finder", "u1", "collection", "col-1", "", "", 0, "RUNNING",
			pgxmock.AnyArg(), pgxmock.AnyArg(), started, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertRun(context.Background(), &model.Run{
		ID:           "run-1",
		ScraperID:    "contact-finder",
		UserID:       "u1",
		Source:       model.SourceCollection,
		CollectionID: "col-1",
		Status:       model.RunStatusRunning,
		StartedAt:    started,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunCost_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET cost_usd = \$1`).
		WithArgs(0.25, pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunCost(context.Background(), "missing", 0.25, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM runs WHERE true AND scraper_id = \$1 AND status = \$2 ORDER BY started_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("contact-finder", "FAILED", 20, 40).
		WillReturnRows(mock.NewRows([]string{"id"}))

	runs, err := s.ListRuns(context.Background(), RunFilter{
		ScraperID: "contact-finder",
		Status:    model.RunStatusFailed,
		Limit:     20,
		Offset:    40,
	})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertUsage_UsesCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"entity_scraper_usage"}, usageCopyColumns).WillReturnResult(2)

	rows := []model.EntityScraperUsage{
		{EntityType: model.EntityLead, EntityID: "l1", ScraperID: "s"},
		{EntityType: model.EntityCompany, EntityID: "c1", ScraperID: "s", HasResult: true},
	}
	require.NoError(t, s.InsertUsage(context.Background(), rows))
	assert.NotEmpty(t, rows[0].ID)
	assert.NotEmpty(t, rows[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_HasUsage(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("lead", "l1", "person-posts").
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.HasUsage(context.Background(), model.EntityLead, "l1", "person-posts")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS companies`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping_FallsBackToSelect(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPrefixColumns(t *testing.T) {
	assert.Equal(t, "l.id, l.user_id", prefixColumns("l", "id, user_id"))
}
