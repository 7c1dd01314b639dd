package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscrape/internal/config"
	"github.com/sells-group/leadscrape/internal/cost"
	"github.com/sells-group/leadscrape/internal/mapping"
	"github.com/sells-group/leadscrape/internal/orchestrate"
	"github.com/sells-group/leadscrape/internal/runner"
	"github.com/sells-group/leadscrape/internal/scraper"
	"github.com/sells-group/leadscrape/internal/store"
	"github.com/sells-group/leadscrape/internal/usage"
	"github.com/sells-group/leadscrape/pkg/apify"
)

// appEnv holds the store, usage recorder and orchestration service needed by
// the run, batch and serve commands.
type appEnv struct {
	Store    store.Store
	Recorder *usage.Recorder
	Service  *orchestrate.Service
}

// Close drains pending usage writes and releases the store.
func (e *appEnv) Close() {
	if e.Recorder != nil {
		e.Recorder.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates cfg for mode, opens the store, and wires the Apify
// client, scraper registry, run controller and orchestration service.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	infos, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	client := apify.NewClient(cfg.Apify.Token,
		apify.WithBaseURL(cfg.Apify.BaseURL),
		apify.WithRateLimit(cfg.Apify.RateLimitRPS),
		apify.WithTimeout(time.Duration(cfg.Apify.TimeoutSecs)*time.Second),
	)

	reg, err := scraper.BuildRegistry(infos, client, mapping.New(st))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	rec := usage.NewRecorder(st, cost.NewCalculator(buildRates(cfg, infos)),
		usage.WithTaskTimeout(cfg.Usage.TaskTimeout),
		usage.WithDrainTimeout(cfg.Usage.DrainTimeout),
	)
	ctl := runner.New(rec, runnerOptions(cfg.Run, cfg.Usage)...)

	zap.L().Info("scrapers loaded", zap.Int("count", len(infos)))

	return &appEnv{
		Store:    st,
		Recorder: rec,
		Service:  orchestrate.New(st, reg, ctl, rec, cfg.Mapping.MaxBatchSize),
	}, nil
}

// loadCatalog reads the configured catalog file, or the built-in one.
func loadCatalog(c config.CatalogConfig) ([]scraper.Info, error) {
	if c.Path == "" {
		infos, err := scraper.DefaultCatalog()
		return infos, eris.Wrap(err, "load default catalog")
	}
	infos, err := scraper.LoadCatalog(c.Path)
	return infos, eris.Wrapf(err, "load catalog %s", c.Path)
}

// buildRates layers catalog prices, then configured overrides, on the
// defaults.
func buildRates(c *config.Config, infos []scraper.Info) cost.Rates {
	rates := cost.DefaultRates().Merge(scraper.CatalogRates(infos))
	override := cost.Rates{
		Scrapers:       make(map[string]cost.ScraperRate, len(c.Pricing.Scrapers)),
		ComputeUnitUSD: c.Pricing.ComputeUnitUSD,
	}
	for id, p := range c.Pricing.Scrapers {
		override.Scrapers[id] = cost.ScraperRate{PerItem: p.PerItem, PerRun: p.PerRun}
	}
	return rates.Merge(override)
}

func runnerOptions(rc config.RunConfig, uc config.UsageConfig) []runner.Option {
	opts := []runner.Option{
		runner.WithPollInterval(rc.PollInterval),
		runner.WithCeiling(rc.Ceiling),
		runner.WithFetchCost(uc.FetchCost),
	}
	if rc.RetryRateLimited {
		opts = append(opts, runner.WithRateLimitRetry(rc.RetryAttempts))
	}
	return opts
}
