package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/internal/resilience"
	"github.com/sells-group/leadscrape/internal/scraper"
	"github.com/sells-group/leadscrape/internal/usage"
)

// fakeClock advances only when slept on.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps++
	return nil
}

// fakeAdapter returns scripted statuses; the last one repeats.
type fakeAdapter struct {
	execErrs    []error
	statuses    []model.RunStatus
	statusErr   error
	items       []scraper.Item
	resultsErr  error
	execCalls   int
	statusCalls int
}

func (f *fakeAdapter) Info() scraper.Info {
	return scraper.Info{ID: "fake", MapperType: scraper.MapperSEOCrawler}
}

func (f *fakeAdapter) Execute(context.Context, scraper.Params) (*model.Run, error) {
	f.execCalls++
	if len(f.execErrs) >= f.execCalls {
		if err := f.execErrs[f.execCalls-1]; err != nil {
			return nil, err
		}
	}
	return &model.Run{ID: "run-1", Status: model.RunStatusReady}, nil
}

func (f *fakeAdapter) GetStatus(context.Context, string) (model.RunStatus, error) {
	f.statusCalls++
	if f.statusErr != nil {
		return "", f.statusErr
	}
	i := f.statusCalls - 1
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	return f.statuses[i], nil
}

func (f *fakeAdapter) GetResults(context.Context, string) ([]scraper.Item, error) {
	return f.items, f.resultsErr
}

func (f *fakeAdapter) MapToLeads(context.Context, []scraper.Item, scraper.Target, scraper.MapOptions) (*model.MappingResult, error) {
	return &model.MappingResult{}, nil
}

type recorded struct {
	run  model.Run
	opts usage.RunOptions
}

type captureRecorder struct {
	mu   sync.Mutex
	runs []recorded
}

func (r *captureRecorder) RecordRun(_ context.Context, run model.Run, opts usage.RunOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, recorded{run: run, opts: opts})
}

func (r *captureRecorder) last(t *testing.T) recorded {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.runs)
	return r.runs[len(r.runs)-1]
}

func newTestController(rec RunRecorder, clk Clock, opts ...Option) *Controller {
	base := []Option{
		WithClock(clk),
		WithPollInterval(5 * time.Second),
		WithCeiling(30 * time.Minute),
		WithFetchCost(true),
	}
	return New(rec, append(base, opts...)...)
}

func TestRun_Succeeds(t *testing.T) {
	clk := newFakeClock()
	rec := &captureRecorder{}
	a := &fakeAdapter{
		statuses: []model.RunStatus{model.RunStatusReady, model.RunStatusRunning, model.RunStatusSucceeded},
		items:    []scraper.Item{scraper.Item(`{}`), scraper.Item(`{}`)},
	}

	out, err := newTestController(rec, clk).Run(context.Background(), a, Request{UserID: "u1", Source: model.SourceCompany, CompanyID: "c1"})
	require.NoError(t, err)
	assert.Len(t, out.Items, 2)
	assert.Equal(t, 3, out.Polls)
	assert.Equal(t, 3, a.statusCalls, "no status check after a terminal status")

	require.Len(t, rec.runs, 2)
	first := rec.runs[0].run
	assert.Equal(t, model.RunStatusRunning, first.Status)
	assert.Nil(t, first.FinishedAt)

	final := rec.last(t)
	assert.Equal(t, model.RunStatusSucceeded, final.run.Status)
	assert.Equal(t, 2, final.run.ItemCount)
	assert.Equal(t, "fake", final.run.ScraperID)
	assert.Equal(t, "u1", final.run.UserID)
	assert.Equal(t, "c1", final.run.CompanyID)
	require.NotNil(t, final.run.FinishedAt)
	assert.Equal(t, 15*time.Second, final.run.Duration())
	assert.True(t, final.opts.FetchCost)
}

func TestRun_CeilingStopsAfterExactPollCount(t *testing.T) {
	clk := newFakeClock()
	rec := &captureRecorder{}
	a := &fakeAdapter{statuses: []model.RunStatus{model.RunStatusRunning}}

	out, err := newTestController(rec, clk).Run(context.Background(), a, Request{})
	require.Error(t, err)

	var te *model.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.False(t, te.ProviderReported)
	assert.Equal(t, model.RunStatusRunning, te.LastStatus)
	assert.Equal(t, "run-1", te.RunID)
	assert.Equal(t, model.ErrorCategoryTimeout, model.Classify(err))

	assert.Equal(t, int((30*time.Minute)/(5*time.Second)), a.statusCalls)
	assert.Equal(t, a.statusCalls, out.Polls)

	final := rec.last(t)
	assert.Equal(t, model.RunStatusRunning, final.run.Status)
	assert.Equal(t, 0, final.run.ItemCount)
	assert.False(t, final.opts.FetchCost)
}

func TestRun_TransientStatusErrorsConsumeCeiling(t *testing.T) {
	clk := newFakeClock()
	a := &fakeAdapter{statusErr: &model.ProviderError{Kind: model.ProviderUnreachable}}

	_, err := newTestController(nil, clk, WithCeiling(time.Minute)).Run(context.Background(), a, Request{})
	var te *model.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 12, a.statusCalls)
	assert.Error(t, te.LastErr)
}

func TestRun_RateLimitedPollsEndAsTimeout(t *testing.T) {
	a := &fakeAdapter{statusErr: &model.RateLimitError{ScraperID: "fake", RetryAfter: time.Second}}

	_, err := newTestController(nil, newFakeClock(), WithCeiling(time.Minute)).Run(context.Background(), a, Request{})
	require.Error(t, err)
	assert.Equal(t, model.ErrorCategoryTimeout, model.Classify(err))
}

func TestRun_TerminalFailures(t *testing.T) {
	tests := []struct {
		status   model.RunStatus
		category model.ErrorCategory
		kind     model.ProviderFailure
	}{
		{model.RunStatusFailed, model.ErrorCategoryProvider, model.ProviderFailed},
		{model.RunStatusAborted, model.ErrorCategoryProvider, model.ProviderAborted},
		{model.RunStatusTimedOut, model.ErrorCategoryTimeout, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			rec := &captureRecorder{}
			a := &fakeAdapter{statuses: []model.RunStatus{model.RunStatusRunning, tt.status}, items: []scraper.Item{scraper.Item(`{}`)}}

			out, err := newTestController(rec, newFakeClock()).Run(context.Background(), a, Request{})
			require.Error(t, err)
			assert.Equal(t, tt.category, model.Classify(err))
			assert.Equal(t, 2, a.statusCalls)
			require.NotNil(t, out)
			assert.Empty(t, out.Items)

			if tt.kind != "" {
				var pe *model.ProviderError
				require.True(t, errors.As(err, &pe))
				assert.Equal(t, tt.kind, pe.Kind)
				assert.Equal(t, "run-1", pe.RunID)
			} else {
				var te *model.TimeoutError
				require.True(t, errors.As(err, &te))
				assert.True(t, te.ProviderReported)
			}

			final := rec.last(t)
			assert.Equal(t, tt.status, final.run.Status)
			assert.Equal(t, 0, final.run.ItemCount)
			assert.NotNil(t, final.run.FinishedAt)
		})
	}
}

func TestRun_ResultsFetchFails(t *testing.T) {
	rec := &captureRecorder{}
	a := &fakeAdapter{statuses: []model.RunStatus{model.RunStatusSucceeded}, resultsErr: errors.New("dataset gone")}

	_, err := newTestController(rec, newFakeClock()).Run(context.Background(), a, Request{})
	var pe *model.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, model.ProviderFinishedWithError, pe.Kind)

	final := rec.last(t)
	assert.Equal(t, model.RunStatusSucceeded, final.run.Status)
	assert.Equal(t, 0, final.run.ItemCount)
}

func TestRun_SubmitFailureRecordsNothing(t *testing.T) {
	rec := &captureRecorder{}
	a := &fakeAdapter{execErrs: []error{&model.ProviderError{Kind: model.ProviderRejected}}}

	out, err := newTestController(rec, newFakeClock()).Run(context.Background(), a, Request{})
	assert.Nil(t, out)
	assert.Equal(t, model.ErrorCategoryProvider, model.Classify(err))
	assert.Empty(t, rec.runs)
	assert.Zero(t, a.statusCalls)
}

func TestRun_RateLimitSurfacesWithoutOptIn(t *testing.T) {
	a := &fakeAdapter{execErrs: []error{&model.RateLimitError{ScraperID: "fake"}}, statuses: []model.RunStatus{model.RunStatusSucceeded}}

	_, err := newTestController(nil, newFakeClock()).Run(context.Background(), a, Request{})
	assert.Equal(t, model.ErrorCategoryRateLimit, model.Classify(err))
	assert.Equal(t, 1, a.execCalls)
}

func TestRun_RateLimitRetriedWhenOptedIn(t *testing.T) {
	a := &fakeAdapter{
		execErrs: []error{&model.RateLimitError{ScraperID: "fake"}, &model.RateLimitError{ScraperID: "fake"}},
		statuses: []model.RunStatus{model.RunStatusSucceeded},
	}
	clock := newFakeClock()

	out, err := newTestController(nil, clock, WithRetryConfig(resilience.RateLimitedExecuteConfig(3))).Run(context.Background(), a, Request{})
	require.NoError(t, err)
	assert.Equal(t, 3, a.execCalls)
	assert.Equal(t, "run-1", out.Run.ID)
	// Two back-off waits on the controller clock, then one poll.
	assert.Equal(t, 3, clock.sleeps)
}

func TestRun_CancelledContextEndsAsTimeout(t *testing.T) {
	rec := &captureRecorder{}
	a := &fakeAdapter{statuses: []model.RunStatus{model.RunStatusRunning}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestController(rec, newFakeClock()).Run(ctx, a, Request{})
	var te *model.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, a.statusCalls)
	assert.Len(t, rec.runs, 2)
}

func TestNew_Defaults(t *testing.T) {
	c := New(nil)
	assert.Equal(t, DefaultPollInterval, c.pollInterval)
	assert.Equal(t, DefaultCeiling, c.ceiling)
	assert.Nil(t, c.retry)

	c = New(nil, WithRateLimitRetry(4), WithPollInterval(0))
	require.NotNil(t, c.retry)
	assert.Equal(t, 4, c.retry.MaxAttempts)
	assert.Equal(t, DefaultPollInterval, c.pollInterval)
}
