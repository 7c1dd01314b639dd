package usage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscrape/internal/cost"
	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/internal/store"
)

// fakeStore records calls and can be told to fail or panic.
type fakeStore struct {
	mu        sync.Mutex
	runs      []model.Run
	costs     map[string]float64
	usage     []model.EntityScraperUsage
	err       error
	panicMsg  string
	hasUsage  bool
	hasErr    error
	upsertGap time.Duration
}

func (f *fakeStore) UpsertRun(_ context.Context, r *model.Run) error {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.upsertGap > 0 && r.Status == model.RunStatusRunning {
		time.Sleep(f.upsertGap)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.runs = append(f.runs, *r)
	return nil
}

func (f *fakeStore) UpdateRunCost(_ context.Context, runID string, usd float64, _ json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.costs == nil {
		f.costs = make(map[string]float64)
	}
	f.costs[runID] = usd
	return nil
}

func (f *fakeStore) InsertUsage(_ context.Context, rows []model.EntityScraperUsage) error {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.usage = append(f.usage, rows...)
	return nil
}

func (f *fakeStore) HasUsage(context.Context, model.EntityType, string, string) (bool, error) {
	return f.hasUsage, f.hasErr
}

type fixedCost struct {
	usd     float64
	details json.RawMessage
	err     error
}

func (c fixedCost) RunCost(context.Context, string) (float64, json.RawMessage, error) {
	return c.usd, c.details, c.err
}

func testCalc() *cost.Calculator {
	return cost.NewCalculator(cost.Rates{
		Scrapers:       map[string]cost.ScraperRate{"seo": {PerItem: 0.01, PerRun: 0.1}},
		ComputeUnitUSD: 0.4,
	})
}

func finished(id, scraper string, items int) model.Run {
	now := time.Now().UTC()
	return model.Run{ID: id, ScraperID: scraper, Status: model.RunStatusSucceeded, ItemCount: items, StartedAt: now, FinishedAt: &now}
}

func flush(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Flush(ctx))
}

func TestRecordRun_ProviderCostWins(t *testing.T) {
	st := &fakeStore{}
	r := NewRecorder(st, testCalc())
	defer r.Close()

	r.RecordRun(context.Background(), finished("run-1", "seo", 10), RunOptions{FetchCost: true, Lookup: fixedCost{usd: 0.77}})
	flush(t, r)

	require.Len(t, st.runs, 1)
	assert.InDelta(t, 0.77, st.costs["run-1"], 1e-9)
}

func TestRecordRun_FallsBackToEstimate(t *testing.T) {
	tests := []struct {
		name    string
		lookup  CostLookup
		scraper string
		want    float64
	}{
		{"no lookup", nil, "seo", 0.2},
		{"lookup error", fixedCost{err: errors.New("boom")}, "seo", 0.2},
		{"zero reported", fixedCost{}, "seo", 0.2},
		{"compute units for unpriced scraper", fixedCost{details: json.RawMessage(`{"ACTOR_COMPUTE_UNITS":0.5}`)}, "other", 0.2},
		{"nothing known", nil, "other", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStore{}
			r := NewRecorder(st, testCalc())
			defer r.Close()

			r.RecordRun(context.Background(), finished("run-1", tt.scraper, 10), RunOptions{FetchCost: true, Lookup: tt.lookup})
			flush(t, r)
			assert.InDelta(t, tt.want, st.costs["run-1"], 1e-9)
		})
	}
}

func TestRecordRun_NoCostWhileRunning(t *testing.T) {
	st := &fakeStore{}
	r := NewRecorder(st, testCalc())
	defer r.Close()

	r.RecordRun(context.Background(), model.Run{ID: "run-1", ScraperID: "seo", Status: model.RunStatusRunning}, RunOptions{FetchCost: true})
	flush(t, r)
	require.Len(t, st.runs, 1)
	assert.Empty(t, st.costs)
}

func TestRecordRun_WritesApplyInCallOrder(t *testing.T) {
	st := &fakeStore{upsertGap: 50 * time.Millisecond}
	r := NewRecorder(st, nil)
	defer r.Close()

	r.RecordRun(context.Background(), model.Run{ID: "run-1", Status: model.RunStatusRunning}, RunOptions{})
	r.RecordRun(context.Background(), finished("run-1", "seo", 3), RunOptions{})
	flush(t, r)

	require.Len(t, st.runs, 2)
	assert.Equal(t, model.RunStatusRunning, st.runs[0].Status)
	assert.Equal(t, model.RunStatusSucceeded, st.runs[1].Status)
}

func TestRecordRun_SurvivesCallerCancel(t *testing.T) {
	st := &fakeStore{}
	r := NewRecorder(st, nil)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.RecordRun(ctx, finished("run-1", "seo", 1), RunOptions{})
	flush(t, r)
	assert.Len(t, st.runs, 1)
}

func TestFailingStoreNeverSurfaces(t *testing.T) {
	for _, st := range []*fakeStore{{err: errors.New("db down")}, {panicMsg: "nil map"}} {
		r := NewRecorder(st, testCalc())
		assert.NotPanics(t, func() {
			r.RecordRun(context.Background(), finished("run-1", "seo", 1), RunOptions{FetchCost: true})
			r.RecordEntityUsage(context.Background(), model.EntityScraperUsage{EntityType: model.EntityLead, EntityID: "l1", ScraperID: "seo"})
			flush(t, r)
		})
		r.Close()
	}
}

func TestRecordEntityUsage_Empty(t *testing.T) {
	st := &fakeStore{}
	r := NewRecorder(st, nil)
	defer r.Close()

	r.RecordEntityUsage(context.Background())
	flush(t, r)
	assert.Empty(t, st.usage)
}

func TestAlreadyEnriched(t *testing.T) {
	r := NewRecorder(&fakeStore{hasUsage: true}, nil)
	defer r.Close()
	assert.True(t, r.AlreadyEnriched(context.Background(), model.EntityLead, "l1", "seo"))

	r2 := NewRecorder(&fakeStore{hasUsage: true, hasErr: errors.New("db down")}, nil)
	defer r2.Close()
	assert.False(t, r2.AlreadyEnriched(context.Background(), model.EntityLead, "l1", "seo"))
}

func TestClose_DropsLaterWrites(t *testing.T) {
	st := &fakeStore{}
	r := NewRecorder(st, nil)
	r.Close()
	r.Close()

	r.RecordRun(context.Background(), finished("run-1", "seo", 1), RunOptions{})
	r.RecordEntityUsage(context.Background(), model.EntityScraperUsage{EntityID: "l1"})
	flush(t, r)
	assert.Empty(t, st.runs)
	assert.Empty(t, st.usage)
}

func TestRecorder_SQLite(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	r := NewRecorder(st, testCalc(), WithTaskTimeout(5*time.Second))
	defer r.Close()

	r.RecordRun(ctx, finished("run-1", "seo", 10), RunOptions{FetchCost: true})
	r.RecordEntityUsage(ctx,
		model.EntityScraperUsage{EntityType: model.EntityCompany, EntityID: "c1", ScraperID: "seo", RunID: "run-1", HasResult: true, ItemCount: 10, UserID: "u1"},
		model.EntityScraperUsage{EntityType: model.EntityCompany, EntityID: "c2", ScraperID: "seo", RunID: "run-1", UserID: "u1"},
	)
	flush(t, r)

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NotNil(t, got.CostUSD)
	assert.InDelta(t, 0.2, *got.CostUSD, 1e-9)

	assert.True(t, r.AlreadyEnriched(ctx, model.EntityCompany, "c1", "seo"))
	assert.False(t, r.AlreadyEnriched(ctx, model.EntityCompany, "c2", "seo"))
}
