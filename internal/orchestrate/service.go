// Package orchestrate validates an enrichment request, fans it out into one
// scraper run per distinct target, and maps the results back onto leads and
// companies.
package orchestrate

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/internal/runner"
	"github.com/sells-group/leadscrape/internal/scraper"
	"github.com/sells-group/leadscrape/internal/store"
)

// Request is one inbound enrichment call. Exactly one of CollectionID,
// CompanyID and LeadID names the target.
type Request struct {
	ScraperID       string         `json:"scraper_id"`
	UserID          string         `json:"user_id"`
	CollectionID    string         `json:"collection_id,omitempty"`
	CompanyID       string         `json:"company_id,omitempty"`
	LeadID          string         `json:"lead_id,omitempty"`
	Params          scraper.Params `json:"params,omitempty"`
	ForceEnrichment bool           `json:"force_enrichment,omitempty"`

	// Batch tags the runs as started by the batch command.
	Batch bool `json:"-"`
}

// Source derives the calling-context tag from the target.
func (r Request) Source() model.Source {
	switch {
	case r.Batch:
		return model.SourceBatch
	case r.LeadID != "":
		return model.SourceLead
	case r.CompanyID != "":
		return model.SourceCompany
	default:
		return model.SourceCollection
	}
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if strings.TrimSpace(r.ScraperID) == "" {
		return model.NewValidationError("scraper_id", "is required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return model.NewValidationError("user_id", "is required")
	}
	n := 0
	for _, id := range []string{r.CollectionID, r.CompanyID, r.LeadID} {
		if id != "" {
			n++
		}
	}
	if n != 1 {
		return model.NewValidationError("target", "exactly one of collection_id, company_id, lead_id is required")
	}
	return nil
}

// Runner drives one scraper run to completion.
type Runner interface {
	Run(ctx context.Context, a scraper.Adapter, req runner.Request) (*runner.Outcome, error)
}

// Ledger is the usage ledger the service reads and appends to.
type Ledger interface {
	RecordEntityUsage(ctx context.Context, rows ...model.EntityScraperUsage)
	AlreadyEnriched(ctx context.Context, entityType model.EntityType, entityID, scraperID string) bool
}

// Service runs enrichment requests.
type Service struct {
	store    store.Store
	registry *scraper.Registry
	runner   Runner
	ledger   Ledger
	maxBatch int
	now      func() time.Time
}

// New creates a Service. maxBatch caps the items per bulk run on top of each
// scraper's own limit; zero means no extra cap.
func New(st store.Store, reg *scraper.Registry, r Runner, ledger Ledger, maxBatch int) *Service {
	return &Service{
		store:    st,
		registry: reg,
		runner:   r,
		ledger:   ledger,
		maxBatch: maxBatch,
		now:      time.Now,
	}
}

// Registry returns the scraper registry.
func (s *Service) Registry() *scraper.Registry { return s.registry }

// job is one provider run and the mapping context of its results.
type job struct {
	params   scraper.Params
	target   scraper.Target
	opts     scraper.MapOptions
	entities []model.EntityRef
}

// Run validates req, plans one run per distinct target, drives each run and
// maps its results. Runs execute sequentially; the first failed run stops the
// request and its classified error is returned with the metrics so far.
func (s *Service) Run(ctx context.Context, req Request) (*model.Metrics, error) {
	start := s.now()
	metrics := &model.Metrics{RunIDs: []string{}}

	if err := req.Validate(); err != nil {
		return metrics, err
	}
	adapter := s.registry.Get(req.ScraperID)
	if adapter == nil {
		return metrics, model.NewValidationError("scraper_id", "unknown scraper %q", req.ScraperID)
	}
	info := adapter.Info()
	log := zap.L().With(
		zap.String("scraper_id", info.ID),
		zap.String("user_id", req.UserID),
		zap.String("source", string(req.Source())),
	)

	jobs, err := s.plan(ctx, info, req)
	if err != nil {
		return metrics, err
	}
	log.Info("orchestrate: planned runs", zap.Int("jobs", len(jobs)))

	defer func() { metrics.Duration = s.now().Sub(start) }()

	for i, j := range jobs {
		if !req.ForceEnrichment && s.allEnriched(ctx, info.ID, j.entities) {
			metrics.Skipped += len(j.entities)
			log.Debug("orchestrate: already enriched, skipping run", zap.Int("job", i))
			continue
		}
		if err := s.runJob(ctx, adapter, req, j, metrics); err != nil {
			log.Warn("orchestrate: run failed",
				zap.Int("job", i),
				zap.String("category", string(model.Classify(err))),
				zap.Error(err),
			)
			return metrics, err
		}
	}

	log.Info("orchestrate: done",
		zap.Int("created", metrics.Created),
		zap.Int("skipped", metrics.Skipped),
		zap.Int("enriched", metrics.Enriched),
		zap.Int("errors", metrics.Errors),
		zap.Int("total_found", metrics.TotalFound),
	)
	return metrics, nil
}

func (s *Service) runJob(ctx context.Context, a scraper.Adapter, req Request, j job, metrics *model.Metrics) error {
	info := a.Info()
	out, err := s.runner.Run(ctx, a, runner.Request{
		Params:       j.params,
		UserID:       req.UserID,
		Source:       req.Source(),
		CollectionID: req.CollectionID,
		CompanyID:    j.target.CompanyID,
		LeadID:       j.target.LeadID,
	})
	runID := ""
	if out != nil && out.Run != nil {
		runID = out.Run.ID
		metrics.RunIDs = append(metrics.RunIDs, runID)
	}
	if err != nil {
		s.recordUsage(ctx, info.ID, runID, req, j, nil)
		return err
	}

	metrics.TotalFound += len(out.Items)
	res, err := a.MapToLeads(ctx, out.Items, j.target, j.opts)
	metrics.Add(res)
	s.recordUsage(ctx, info.ID, runID, req, j, res)
	if err != nil {
		return eris.Wrapf(err, "orchestrate: map results of run %s", runID)
	}
	return nil
}

func (s *Service) allEnriched(ctx context.Context, scraperID string, entities []model.EntityRef) bool {
	if s.ledger == nil || len(entities) == 0 {
		return false
	}
	for _, e := range entities {
		if !s.ledger.AlreadyEnriched(ctx, e.Type, e.ID, scraperID) {
			return false
		}
	}
	return true
}

// recordUsage appends one ledger row per entity the run attempted: the
// entities the mapping touched, and every planned entity it did not reach
// without a result.
func (s *Service) recordUsage(ctx context.Context, scraperID, runID string, req Request, j job, res *model.MappingResult) {
	if s.ledger == nil {
		return
	}
	var config json.RawMessage
	if len(j.params) > 0 {
		config, _ = json.Marshal(j.params)
	}

	seen := make(map[string]bool)
	var rows []model.EntityScraperUsage
	add := func(e model.EntityRef) {
		key := string(e.Type) + ":" + e.ID
		if e.ID == "" || seen[key] {
			return
		}
		seen[key] = true
		rows = append(rows, model.EntityScraperUsage{
			EntityType: e.Type,
			EntityID:   e.ID,
			ScraperID:  scraperID,
			RunID:      runID,
			Source:     req.Source(),
			HasResult:  e.HasResult,
			ItemCount:  e.ItemCount,
			ConfigUsed: config,
			UserID:     req.UserID,
		})
	}
	if res != nil {
		for _, e := range res.Touched {
			add(e)
		}
	}
	for _, e := range j.entities {
		add(model.EntityRef{Type: e.Type, ID: e.ID})
	}
	s.ledger.RecordEntityUsage(ctx, rows...)
}
