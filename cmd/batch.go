package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/internal/orchestrate"
)

var (
	batchFile  string
	batchLimit int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run a file of enrichment requests concurrently",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reqs, err := loadBatchFile(batchFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		sum, err := processBatch(ctx, reqs, batchLimit, cfg.Batch.MaxConcurrent, env.Service.Run)
		if err != nil {
			return err
		}
		if err := writeMetrics(os.Stdout, &sum.Totals); err != nil {
			return eris.Wrap(err, "write batch metrics")
		}
		if sum.Failed > 0 {
			return eris.Errorf("batch: %d of %d requests failed", sum.Failed, sum.Failed+sum.Succeeded)
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "YAML or JSON list of requests (required)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max number of requests to process")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}

// batchItem is one entry of a batch file.
type batchItem struct {
	ScraperID       string         `yaml:"scraper_id"`
	UserID          string         `yaml:"user_id"`
	CollectionID    string         `yaml:"collection_id"`
	CompanyID       string         `yaml:"company_id"`
	LeadID          string         `yaml:"lead_id"`
	Params          map[string]any `yaml:"params"`
	ForceEnrichment bool           `yaml:"force_enrichment"`
}

// loadBatchFile reads a list of requests. JSON parses as YAML.
func loadBatchFile(path string) ([]orchestrate.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "batch: read file")
	}
	return parseBatch(data)
}

func parseBatch(data []byte) ([]orchestrate.Request, error) {
	var items []batchItem
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, eris.Wrap(err, "batch: parse file")
	}
	reqs := make([]orchestrate.Request, 0, len(items))
	for i, it := range items {
		req := orchestrate.Request{
			ScraperID:       it.ScraperID,
			UserID:          it.UserID,
			CollectionID:    it.CollectionID,
			CompanyID:       it.CompanyID,
			LeadID:          it.LeadID,
			Params:          it.Params,
			ForceEnrichment: it.ForceEnrichment,
			Batch:           true,
		}
		if err := req.Validate(); err != nil {
			return nil, eris.Wrapf(err, "batch: request %d", i)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// runFunc is the callback signature for running one request.
type runFunc func(ctx context.Context, req orchestrate.Request) (*model.Metrics, error)

// batchSummary aggregates the outcome of a batch.
type batchSummary struct {
	Succeeded int
	Failed    int
	Totals    model.Metrics
}

// processBatch applies limit, then runs requests concurrently. A failed
// request is logged and counted; it does not stop the others.
func processBatch(ctx context.Context, reqs []orchestrate.Request, limit, concurrency int, run runFunc) (batchSummary, error) {
	sum := batchSummary{Totals: model.Metrics{RunIDs: []string{}}}
	if len(reqs) == 0 {
		zap.L().Info("no batch requests found")
		return sum, nil
	}
	if limit > 0 && len(reqs) > limit {
		reqs = reqs[:limit]
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("requests", len(reqs)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var mu sync.Mutex
	for i, req := range reqs {
		g.Go(func() error {
			log := zap.L().With(zap.Int("request", i), zap.String("scraper_id", req.ScraperID))

			m, err := run(gctx, req)

			mu.Lock()
			defer mu.Unlock()
			if m != nil {
				sum.Totals.Add(&m.MappingResult)
				sum.Totals.TotalFound += m.TotalFound
				sum.Totals.RunIDs = append(sum.Totals.RunIDs, m.RunIDs...)
				sum.Totals.Duration += m.Duration
			}
			if err != nil {
				sum.Failed++
				log.Error("batch request failed", zap.String("category", string(model.Classify(err))), zap.Error(err))
				return nil
			}
			sum.Succeeded++
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return sum, eris.Wrap(err, "batch processing")
	}
	sum.Totals.Touched = nil

	zap.L().Info("batch complete",
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}
