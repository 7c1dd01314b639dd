package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscrape/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func ptr[T any](v T) *T { return &v }

// --- Companies ---

func TestSQLite_Company_CreateAndFind(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := &model.Company{Name: "Acme Inc", Domain: "acme.com", LinkedInURL: "https://www.linkedin.com/company/acme"}
	require.NoError(t, st.CreateCompany(ctx, c, "acme inc"))
	assert.NotEmpty(t, c.ID)

	byDomain, err := st.FindCompany(ctx, CompanyMatch{Domain: "acme.com"})
	require.NoError(t, err)
	require.NotNil(t, byDomain)
	assert.Equal(t, c.ID, byDomain.ID)

	byName, err := st.FindCompany(ctx, CompanyMatch{NameKey: "acme inc", Domain: "other.com"})
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, c.ID, byName.ID)

	byLinkedIn, err := st.FindCompany(ctx, CompanyMatch{LinkedInURL: "https://www.linkedin.com/company/acme"})
	require.NoError(t, err)
	require.NotNil(t, byLinkedIn)
	assert.Equal(t, c.ID, byLinkedIn.ID)

	missing, err := st.FindCompany(ctx, CompanyMatch{Domain: "nope.com"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_Company_EmptyMatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateCompany(ctx, &model.Company{Name: "Blank"}, ""))

	got, err := st.FindCompany(ctx, CompanyMatch{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_Company_FirstMatchWins(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := &model.Company{Name: "First", Domain: "first.com"}
	require.NoError(t, st.CreateCompany(ctx, first, "first"))
	time.Sleep(2 * time.Millisecond)
	second := &model.Company{Name: "Second", Domain: "second.com"}
	require.NoError(t, st.CreateCompany(ctx, second, "second"))

	got, err := st.FindCompany(ctx, CompanyMatch{NameKey: "second", Domain: "first.com"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
}

func TestSQLite_Company_DomainConflict(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateCompany(ctx, &model.Company{Name: "A", Domain: "dup.com"}, "a"))
	err := st.CreateCompany(ctx, &model.Company{Name: "B", Domain: "dup.com"}, "b")
	assert.ErrorIs(t, err, ErrConflict)

	// Empty domains never conflict.
	require.NoError(t, st.CreateCompany(ctx, &model.Company{Name: "C"}, "c"))
	require.NoError(t, st.CreateCompany(ctx, &model.Company{Name: "D"}, "d"))
}

func TestSQLite_Company_Update(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := &model.Company{Name: "Acme", Domain: "acme.com"}
	require.NoError(t, st.CreateCompany(ctx, c, "acme"))

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.UpdateCompany(ctx, c.ID, CompanyPatch{
		EmployeesScraped:    ptr(true),
		EmployeesScrapedAt:  &now,
		SEOAnalyzedAt:       &now,
		SEOData:             json.RawMessage(`{"score":87}`),
		CompanyLinkedInPost: ptr(model.PostStatusEnriched),
		ReviewCount:         ptr(12),
		ReviewRating:        ptr(4.5),
	}))

	got, err := st.GetCompany(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.EmployeesScraped)
	require.NotNil(t, got.EmployeesScrapedAt)
	assert.True(t, now.Equal(*got.EmployeesScrapedAt))
	require.NotNil(t, got.SEOAnalyzedAt)
	assert.JSONEq(t, `{"score":87}`, string(got.SEOData))
	assert.Equal(t, model.PostStatusEnriched, got.CompanyLinkedInPost)
	assert.Equal(t, 12, got.ReviewCount)
	require.NotNil(t, got.ReviewRating)
	assert.InDelta(t, 4.5, *got.ReviewRating, 0.001)
	assert.Equal(t, "acme.com", got.Domain)
}

func TestSQLite_Company_UpdateNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.UpdateCompany(context.Background(), "missing", CompanyPatch{ReviewCount: ptr(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_Company_EmptyPatchIsNoop(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.UpdateCompany(context.Background(), "missing", CompanyPatch{}))
}

func TestSQLite_GetCompany_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	got, err := st.GetCompany(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// --- Leads ---

func TestSQLite_Lead_FindByEmailOrLinkedIn(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := &model.Lead{UserID: "u1", Email: "x@y.com"}
	b := &model.Lead{UserID: "u1", LinkedInURL: "https://linkedin.com/in/b"}
	require.NoError(t, st.CreateLead(ctx, a))
	require.NoError(t, st.CreateLead(ctx, b))

	got, err := st.FindLead(ctx, LeadMatch{UserID: "u1", Email: "X@Y.com"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)

	got, err = st.FindLead(ctx, LeadMatch{UserID: "u1", Email: "other@z.com", LinkedInURL: "https://linkedin.com/in/b"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, b.ID, got.ID)

	// Other users never match.
	got, err = st.FindLead(ctx, LeadMatch{UserID: "u2", Email: "x@y.com"})
	require.NoError(t, err)
	assert.Nil(t, got)

	// Empty keys never match leads with empty fields.
	got, err = st.FindLead(ctx, LeadMatch{UserID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_Lead_UpdateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	l := &model.Lead{UserID: "u1", FullName: "Ada Lovelace"}
	require.NoError(t, st.CreateLead(ctx, l))

	require.NoError(t, st.UpdateLead(ctx, l.ID, LeadPatch{
		Email:              ptr("ada@example.com"),
		EmailCertainty:     ptr("ultra_sure"),
		EmailVerify:        ptr(model.EmailVerifyValid),
		PersonLinkedInPost: ptr(model.PostStatusNoPosts),
	}))

	got, err := st.GetLead(ctx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.Equal(t, "ultra_sure", got.EmailCertainty)
	assert.Equal(t, model.EmailVerifyValid, got.EmailVerify)
	assert.Equal(t, model.PostStatusNoPosts, got.PersonLinkedInPost)
	assert.Equal(t, model.PostStatusUnset, got.CompanyLinkedInPost)
	assert.Equal(t, "Ada Lovelace", got.FullName)
	assert.Empty(t, got.CompanyID)
}

func TestSQLite_Lead_ListByCompanyLinkedIn(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	co := &model.Company{Name: "Acme", LinkedInURL: "https://www.linkedin.com/company/acme"}
	require.NoError(t, st.CreateCompany(ctx, co, "acme"))
	other := &model.Company{Name: "Other", LinkedInURL: "https://www.linkedin.com/company/other"}
	require.NoError(t, st.CreateCompany(ctx, other, "other"))

	for _, l := range []*model.Lead{
		{UserID: "u1", CompanyID: co.ID, Email: "a@acme.com"},
		{UserID: "u1", CompanyID: co.ID, Email: "b@acme.com"},
		{UserID: "u2", CompanyID: co.ID, Email: "c@acme.com"},
		{UserID: "u1", CompanyID: other.ID, Email: "d@other.com"},
		{UserID: "u1", Email: "e@nowhere.com"},
	} {
		require.NoError(t, st.CreateLead(ctx, l))
	}

	leads, err := st.ListLeadsByCompanyLinkedIn(ctx, "u1", co.LinkedInURL)
	require.NoError(t, err)
	assert.Len(t, leads, 2)

	all, err := st.ListLeadsByCompanyLinkedIn(ctx, "", co.LinkedInURL)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLite_Collection_AddIsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	l := &model.Lead{UserID: "u1", Email: "a@b.com"}
	require.NoError(t, st.CreateLead(ctx, l))

	require.NoError(t, st.AddLeadToCollection(ctx, "col-1", l.ID))
	require.NoError(t, st.AddLeadToCollection(ctx, "col-1", l.ID))

	leads, err := st.ListCollectionLeads(ctx, "col-1")
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, l.ID, leads[0].ID)

	empty, err := st.ListCollectionLeads(ctx, "col-2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// --- Posts ---

func TestSQLite_InsertPosts_DedupByURL(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	posts := []model.Post{
		{URL: "https://linkedin.com/posts/1", Text: "one", LeadID: "l1"},
		{URL: "https://linkedin.com/posts/2", Text: "two", LeadID: "l1"},
	}
	n, err := st.InsertPosts(ctx, posts)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = st.InsertPosts(ctx, []model.Post{
		{URL: "https://linkedin.com/posts/2", Text: "two again"},
		{URL: "https://linkedin.com/posts/3", Text: "three"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = st.InsertPosts(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// --- Runs ---

func TestSQLite_Run_UpsertAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Add(-time.Minute).Truncate(time.Second)
	r := &model.Run{
		ID:           "run-1",
		ScraperID:    "contact-finder",
		UserID:       "u1",
		Source:       model.SourceCollection,
		CollectionID: "col-1",
		Status:       model.RunStatusRunning,
		StartedAt:    started,
	}
	require.NoError(t, st.UpsertRun(ctx, r))

	finished := started.Add(45 * time.Second)
	r.Status = model.RunStatusSucceeded
	r.ItemCount = 7
	r.FinishedAt = &finished
	require.NoError(t, st.UpsertRun(ctx, r))

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.RunStatusSucceeded, got.Status)
	assert.Equal(t, 7, got.ItemCount)
	assert.Equal(t, "col-1", got.CollectionID)
	assert.Equal(t, model.SourceCollection, got.Source)
	assert.Nil(t, got.CostUSD)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, 45*time.Second, got.Duration())
}

func TestSQLite_Run_UpsertKeepsCost(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	r := &model.Run{ID: "run-2", ScraperID: "s", Status: model.RunStatusSucceeded, StartedAt: time.Now().UTC()}
	require.NoError(t, st.UpsertRun(ctx, r))
	require.NoError(t, st.UpdateRunCost(ctx, "run-2", 0.42, json.RawMessage(`{"ACTOR_COMPUTE_UNITS":0.1}`)))

	// A later upsert without cost must not clear it.
	require.NoError(t, st.UpsertRun(ctx, r))

	got, err := st.GetRun(ctx, "run-2")
	require.NoError(t, err)
	require.NotNil(t, got.CostUSD)
	assert.InDelta(t, 0.42, *got.CostUSD, 0.0001)
	assert.JSONEq(t, `{"ACTOR_COMPUTE_UNITS":0.1}`, string(got.UsageDetails))
}

func TestSQLite_UpdateRunCost_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.UpdateRunCost(context.Background(), "missing", 1, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	got, err := st.GetRun(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_ListRuns_Filter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, tc := range []struct {
		scraper string
		status  model.RunStatus
	}{
		{"contact-finder", model.RunStatusSucceeded},
		{"contact-finder", model.RunStatusFailed},
		{"email-validator", model.RunStatusSucceeded},
	} {
		require.NoError(t, st.UpsertRun(ctx, &model.Run{
			ID:        "run-" + string(rune('a'+i)),
			ScraperID: tc.scraper,
			UserID:    "u1",
			Status:    tc.status,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run-c", all[0].ID, "newest first")

	byScraper, err := st.ListRuns(ctx, RunFilter{ScraperID: "contact-finder"})
	require.NoError(t, err)
	assert.Len(t, byScraper, 2)

	byStatus, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "run-b", byStatus[0].ID)

	page, err := st.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "run-b", page[0].ID)
}

// --- Usage ---

func TestSQLite_Usage_InsertHasList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rows := []model.EntityScraperUsage{
		{EntityType: model.EntityLead, EntityID: "l1", ScraperID: "person-posts", RunID: "r1", Source: model.SourceLead, HasResult: false, UserID: "u1"},
		{EntityType: model.EntityLead, EntityID: "l2", ScraperID: "person-posts", RunID: "r1", Source: model.SourceLead, HasResult: true, ItemCount: 3, ConfigUsed: json.RawMessage(`{"maxPosts":10}`), UserID: "u1"},
	}
	require.NoError(t, st.InsertUsage(ctx, rows))
	assert.NotEmpty(t, rows[0].ID)

	ok, err := st.HasUsage(ctx, model.EntityLead, "l1", "person-posts")
	require.NoError(t, err)
	assert.False(t, ok, "attempt without result does not count")

	ok, err = st.HasUsage(ctx, model.EntityLead, "l2", "person-posts")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.HasUsage(ctx, model.EntityLead, "l2", "company-posts")
	require.NoError(t, err)
	assert.False(t, ok)

	// Append-only: a second attempt adds a row.
	require.NoError(t, st.InsertUsage(ctx, []model.EntityScraperUsage{
		{EntityType: model.EntityLead, EntityID: "l2", ScraperID: "person-posts", HasResult: true, ItemCount: 1},
	}))
	list, err := st.ListUsage(ctx, model.EntityLead, "l2")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.JSONEq(t, `{"maxPosts":10}`, string(list[0].ConfigUsed))
	assert.Equal(t, 3, list[0].ItemCount)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, st.Ping(context.Background()))
}
