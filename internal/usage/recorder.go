// Package usage is the run and per-entity usage ledger. Writes happen in
// detached background tasks: they never block the caller and a failing store
// never fails the operation that produced the usage.
package usage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/leadscrape/internal/cost"
	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/internal/store"
)

// Store is the subset of store.Store the recorder writes through.
type Store interface {
	UpsertRun(ctx context.Context, r *model.Run) error
	UpdateRunCost(ctx context.Context, runID string, costUSD float64, details json.RawMessage) error
	InsertUsage(ctx context.Context, rows []model.EntityScraperUsage) error
	HasUsage(ctx context.Context, entityType model.EntityType, entityID, scraperID string) (bool, error)
}

var _ Store = (store.Store)(nil)

// CostLookup reports the provider-billed cost of a finished run.
type CostLookup interface {
	RunCost(ctx context.Context, runID string) (usd float64, details json.RawMessage, err error)
}

// RunOptions controls RecordRun.
type RunOptions struct {
	// FetchCost attaches a cost to a terminal run: the provider-reported
	// figure when Lookup has one, the calculator estimate otherwise.
	FetchCost bool
	Lookup    CostLookup
}

const (
	defaultTaskTimeout  = 30 * time.Second
	defaultDrainTimeout = 10 * time.Second
)

// Recorder writes run and usage rows in the background.
type Recorder struct {
	store        Store
	calc         *cost.Calculator
	taskTimeout  time.Duration
	drainTimeout time.Duration

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	// runs chains writes of the same run so they land in call order.
	runs map[string]chan struct{}
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithTaskTimeout bounds each background write.
func WithTaskTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.taskTimeout = d
		}
	}
}

// WithDrainTimeout bounds how long Close waits for in-flight writes.
func WithDrainTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.drainTimeout = d
		}
	}
}

// NewRecorder creates a Recorder. calc may be nil, in which case runs
// without a provider-reported cost get none.
func NewRecorder(st Store, calc *cost.Calculator, opts ...Option) *Recorder {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Recorder{
		store:        st,
		calc:         calc,
		taskTimeout:  defaultTaskTimeout,
		drainTimeout: defaultDrainTimeout,
		base:         ctx,
		cancel:       cancel,
		runs:         make(map[string]chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RecordRun upserts run in the background and, for a terminal run with
// opts.FetchCost, attaches its cost. Writes for one run apply in call order.
func (r *Recorder) RecordRun(ctx context.Context, run model.Run, opts RunOptions) {
	r.mu.Lock()
	prev := r.runs[run.ID]
	done := make(chan struct{})
	r.runs[run.ID] = done
	r.mu.Unlock()

	release := func() {
		close(done)
		r.mu.Lock()
		if r.runs[run.ID] == done {
			delete(r.runs, run.ID)
		}
		r.mu.Unlock()
	}

	started := r.spawn(ctx, "record run", []zap.Field{zap.String("run_id", run.ID), zap.String("scraper_id", run.ScraperID)},
		func(ctx context.Context) error {
			defer release()
			if prev != nil {
				select {
				case <-prev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err := r.store.UpsertRun(ctx, &run); err != nil {
				return err
			}
			if !opts.FetchCost || !run.Status.Terminal() {
				return nil
			}
			usd, details := r.runCost(ctx, run, opts.Lookup)
			return r.store.UpdateRunCost(ctx, run.ID, usd, details)
		})
	if !started {
		release()
	}
}

// runCost prefers the provider-billed cost and falls back to the calculator:
// the per-item estimate, then compute units priced at the configured rate.
func (r *Recorder) runCost(ctx context.Context, run model.Run, lookup CostLookup) (float64, json.RawMessage) {
	var details json.RawMessage
	if lookup != nil {
		usd, d, err := lookup.RunCost(ctx, run.ID)
		if err != nil {
			zap.L().Warn("usage: cost lookup failed, estimating",
				zap.String("run_id", run.ID),
				zap.Error(err),
			)
		} else if usd > 0 {
			return usd, d
		} else {
			details = d
		}
	}
	if r.calc == nil {
		return 0, details
	}
	if !r.calc.Known(run.ScraperID) {
		zap.L().Debug("usage: no rate for scraper", zap.String("scraper_id", run.ScraperID))
	} else if est := r.calc.Estimate(run.ScraperID, run.ItemCount); est > 0 {
		return est, details
	}
	var u struct {
		ComputeUnits float64 `json:"ACTOR_COMPUTE_UNITS"`
	}
	if len(details) > 0 && json.Unmarshal(details, &u) == nil {
		return r.calc.ComputeUnits(u.ComputeUnits), details
	}
	return 0, details
}

// RecordEntityUsage appends ledger rows in the background.
func (r *Recorder) RecordEntityUsage(ctx context.Context, rows ...model.EntityScraperUsage) {
	if len(rows) == 0 {
		return
	}
	r.spawn(ctx, "record entity usage", []zap.Field{zap.String("scraper_id", rows[0].ScraperID), zap.Int("rows", len(rows))},
		func(ctx context.Context) error {
			return r.store.InsertUsage(ctx, rows)
		})
}

// AlreadyEnriched reports whether the ledger holds a successful attempt of
// scraperID on the entity. Read errors count as not enriched.
func (r *Recorder) AlreadyEnriched(ctx context.Context, entityType model.EntityType, entityID, scraperID string) bool {
	ok, err := r.store.HasUsage(ctx, entityType, entityID, scraperID)
	if err != nil {
		zap.L().Warn("usage: ledger lookup failed",
			zap.String("entity_id", entityID),
			zap.String("scraper_id", scraperID),
			zap.Error(err),
		)
		return false
	}
	return ok
}

// Flush waits for every in-flight write or for ctx to end.
func (r *Recorder) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes, waits up to the drain timeout for in-flight
// ones and then cancels whatever is left.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.drainTimeout)
	defer cancel()
	if err := r.Flush(ctx); err != nil {
		zap.L().Warn("usage: drain timed out, cancelling pending writes", zap.Error(err))
	}
	r.cancel()
}

// spawn runs fn detached from the caller's cancellation. Errors and panics are
// logged and dropped. It reports false when the recorder is closed.
func (r *Recorder) spawn(parent context.Context, op string, fields []zap.Field, fn func(context.Context) error) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		zap.L().Warn("usage: recorder closed, dropping write", append(fields, zap.String("op", op))...)
		return false
	}
	r.wg.Add(1)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.taskTimeout)
	stop := context.AfterFunc(r.base, cancel)

	go func() {
		defer r.wg.Done()
		defer cancel()
		defer stop()
		defer func() {
			if p := recover(); p != nil {
				zap.L().Error("usage: write panicked", append(fields, zap.String("op", op), zap.Any("panic", p))...)
			}
		}()
		if err := fn(ctx); err != nil {
			zap.L().Warn("usage: write failed", append(fields, zap.String("op", op), zap.Error(err))...)
		}
	}()
	return true
}
