// Package runner drives a scraper run from submission to a terminal outcome.
package runner

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/internal/resilience"
	"github.com/sells-group/leadscrape/internal/scraper"
	"github.com/sells-group/leadscrape/internal/usage"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultCeiling      = 30 * time.Minute
)

// RunRecorder persists run records without blocking the caller.
type RunRecorder interface {
	RecordRun(ctx context.Context, run model.Run, opts usage.RunOptions)
}

// Request describes one run to drive.
type Request struct {
	Params       scraper.Params
	UserID       string
	Source       model.Source
	CollectionID string
	CompanyID    string
	LeadID       string
}

// Outcome is the result of a run. Run is set whenever the provider accepted
// the job, including on failure.
type Outcome struct {
	Run   *model.Run
	Items []scraper.Item
	Polls int
}

// Controller submits runs and polls them to completion.
type Controller struct {
	recorder     RunRecorder
	clock        Clock
	pollInterval time.Duration
	ceiling      time.Duration
	fetchCost    bool
	retry        *resilience.RetryConfig
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the poll loop time source.
func WithClock(c Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithPollInterval sets the delay between status checks.
func WithPollInterval(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.pollInterval = d
		}
	}
}

// WithCeiling sets the wall-clock limit after which a run is abandoned.
func WithCeiling(d time.Duration) Option {
	return func(ctl *Controller) {
		if d > 0 {
			ctl.ceiling = d
		}
	}
}

// WithFetchCost asks the recorder to attach a cost to finished runs.
func WithFetchCost(on bool) Option {
	return func(ctl *Controller) { ctl.fetchCost = on }
}

// WithRateLimitRetry retries rate-limited submissions up to attempts times.
// Without it a 429 surfaces to the caller as *model.RateLimitError.
func WithRateLimitRetry(attempts int) Option {
	return func(ctl *Controller) {
		cfg := resilience.RateLimitedExecuteConfig(attempts)
		cfg.OnRetry = resilience.RetryLogger("apify", "start_run")
		ctl.retry = &cfg
	}
}

// WithRetryConfig replaces the submission retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(ctl *Controller) { ctl.retry = &cfg }
}

// New creates a Controller. recorder may be nil.
func New(recorder RunRecorder, opts ...Option) *Controller {
	c := &Controller{
		recorder:     recorder,
		clock:        realClock{},
		pollInterval: DefaultPollInterval,
		ceiling:      DefaultCeiling,
	}
	for _, o := range opts {
		o(c)
	}
	if c.retry != nil && c.retry.Sleep == nil {
		c.retry.Sleep = c.clock.Sleep
	}
	return c
}

// Run submits req to a, polls until a terminal status or the ceiling, and
// fetches the results of a successful run. Every outcome after submission
// records the run; failures record it with ItemCount 0.
//
// Errors: *model.RateLimitError or *model.ProviderError from submission;
// *model.TimeoutError when the ceiling is hit or the provider timed out;
// *model.ProviderError (failed, aborted, finished-with-error) otherwise.
func (c *Controller) Run(ctx context.Context, a scraper.Adapter, req Request) (*Outcome, error) {
	info := a.Info()
	log := zap.L().With(zap.String("scraper_id", info.ID))

	run, err := c.submit(ctx, a, req.Params)
	if err != nil {
		log.Warn("runner: submit failed", zap.Error(err))
		return nil, err
	}
	run.ScraperID = info.ID
	run.UserID = req.UserID
	run.Source = req.Source
	run.CollectionID = req.CollectionID
	run.CompanyID = req.CompanyID
	run.LeadID = req.LeadID
	run.Status = model.RunStatusRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = c.clock.Now().UTC()
	}
	log = log.With(zap.String("run_id", run.ID))
	log.Info("runner: submitted")
	c.record(ctx, *run)

	out := &Outcome{Run: run}
	p := c.poll(ctx, a, run.ID, out)

	if !p.status.Terminal() {
		if p.status != "" {
			run.Status = p.status
		}
		c.finish(ctx, run, 0, a, false)
		log.Warn("runner: ceiling reached",
			zap.Duration("elapsed", p.elapsed),
			zap.String("last_status", string(p.status)),
			zap.Int("polls", out.Polls),
		)
		lastErr := p.lastErr
		if ctxErr := ctx.Err(); ctxErr != nil {
			lastErr = ctxErr
		}
		return out, &model.TimeoutError{
			ScraperID:  info.ID,
			RunID:      run.ID,
			Elapsed:    p.elapsed,
			LastStatus: p.status,
			LastErr:    lastErr,
		}
	}

	run.Status = p.status
	if p.status != model.RunStatusSucceeded {
		c.finish(ctx, run, 0, a, true)
		log.Warn("runner: run did not succeed", zap.String("status", string(p.status)))
		return out, terminalError(info.ID, run.ID, p)
	}

	items, err := a.GetResults(ctx, run.ID)
	if err != nil {
		c.finish(ctx, run, 0, a, true)
		return out, &model.ProviderError{
			ScraperID: info.ID,
			RunID:     run.ID,
			Kind:      model.ProviderFinishedWithError,
			Err:       eris.Wrap(err, "runner: fetch results"),
		}
	}
	out.Items = items
	c.finish(ctx, run, len(items), a, true)
	log.Info("runner: run succeeded",
		zap.Int("items", len(items)),
		zap.Int("polls", out.Polls),
		zap.Duration("elapsed", p.elapsed),
	)
	return out, nil
}

// terminalError classifies a terminal status other than SUCCEEDED.
func terminalError(scraperID, runID string, p pollResult) error {
	switch p.status {
	case model.RunStatusTimedOut:
		return &model.TimeoutError{ScraperID: scraperID, RunID: runID, Elapsed: p.elapsed, ProviderReported: true, LastStatus: p.status}
	case model.RunStatusAborted:
		return &model.ProviderError{ScraperID: scraperID, RunID: runID, Kind: model.ProviderAborted}
	default:
		return &model.ProviderError{ScraperID: scraperID, RunID: runID, Kind: model.ProviderFailed}
	}
}

func (c *Controller) submit(ctx context.Context, a scraper.Adapter, params scraper.Params) (*model.Run, error) {
	if c.retry == nil {
		return a.Execute(ctx, params)
	}
	return resilience.DoVal(ctx, *c.retry, func(ctx context.Context) (*model.Run, error) {
		return a.Execute(ctx, params)
	})
}

type pollResult struct {
	status  model.RunStatus
	lastErr error
	elapsed time.Duration
}

// poll sleeps then checks status until a terminal status or until the
// ceiling has elapsed. Status check errors are logged and polling continues.
// No status check follows a terminal status.
func (c *Controller) poll(ctx context.Context, a scraper.Adapter, runID string, out *Outcome) pollResult {
	start := c.clock.Now()
	var p pollResult
	for c.clock.Now().Sub(start) < c.ceiling {
		if err := c.clock.Sleep(ctx, c.pollInterval); err != nil {
			break
		}
		s, err := a.GetStatus(ctx, runID)
		out.Polls++
		if err != nil {
			p.lastErr = err
			zap.L().Warn("runner: status check failed",
				zap.String("run_id", runID),
				zap.Int("poll", out.Polls),
				zap.Error(err),
			)
			continue
		}
		p.status = s
		if s.Terminal() {
			break
		}
	}
	p.elapsed = c.clock.Now().Sub(start)
	return p
}

// finish records the final state of run. A terminal run is stamped finished
// and may have its cost attached.
func (c *Controller) finish(ctx context.Context, run *model.Run, items int, a scraper.Adapter, terminal bool) {
	run.ItemCount = items
	if terminal {
		at := c.clock.Now().UTC()
		run.FinishedAt = &at
	}
	if c.recorder == nil {
		return
	}
	opts := usage.RunOptions{FetchCost: terminal && c.fetchCost}
	if lookup, ok := a.(usage.CostLookup); ok {
		opts.Lookup = lookup
	}
	c.recorder.RecordRun(ctx, *run, opts)
}

func (c *Controller) record(ctx context.Context, run model.Run) {
	if c.recorder != nil {
		c.recorder.RecordRun(ctx, run, usage.RunOptions{})
	}
}
