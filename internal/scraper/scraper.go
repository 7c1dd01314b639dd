// Package scraper adapts third-party scraping jobs to one contract: submit,
// poll, fetch results and map them onto Lead and Company rows.
package scraper

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscrape/internal/mapping"
	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/pkg/apify"
)

// MapperType selects how an adapter maps its results.
type MapperType string

const (
	MapperContactFinder  MapperType = "contact_finder"
	MapperCompanyPosts   MapperType = "company_posts"
	MapperPersonPosts    MapperType = "person_posts"
	MapperEmailFinder    MapperType = "email_finder"
	MapperEmailValidator MapperType = "email_validator"
	MapperSEOCrawler     MapperType = "seo_crawler"
	MapperReviewCrawler  MapperType = "review_crawler"
)

// Valid reports whether t is a known mapper type.
func (t MapperType) Valid() bool {
	switch t {
	case MapperContactFinder, MapperCompanyPosts, MapperPersonPosts, MapperEmailFinder,
		MapperEmailValidator, MapperSEOCrawler, MapperReviewCrawler:
		return true
	default:
		return false
	}
}

// Info describes a configured scraper.
type Info struct {
	ID             string     `yaml:"id" json:"id"`
	Name           string     `yaml:"name" json:"name"`
	ActorID        string     `yaml:"actor_id" json:"actor_id"`
	MapperType     MapperType `yaml:"mapper_type" json:"mapper_type"`
	CostPerItemUSD float64    `yaml:"cost_per_item_usd" json:"cost_per_item_usd"`
	CostPerRunUSD  float64    `yaml:"cost_per_run_usd" json:"cost_per_run_usd"`
	RequiredParams []string   `yaml:"required_params" json:"required_params,omitempty"`
	MaxBatchSize   int        `yaml:"max_batch_size" json:"max_batch_size,omitempty"`
	MemoryMB       int        `yaml:"memory_mb" json:"memory_mb,omitempty"`
}

// Params are the caller-supplied provider parameters.
type Params map[string]any

// Item is one raw provider result record.
type Item = json.RawMessage

// Target is the entity context results are mapped into.
type Target = mapping.Target

// MapOptions carries pre-resolved context for MapToLeads.
type MapOptions struct {
	// CompanyLinkedInURL is the organization URL a job was run for.
	CompanyLinkedInURL string
	// EmailIndex maps a normalized email to the ids of leads holding it.
	EmailIndex map[string][]string
	// URLIndex maps a normalized LinkedIn URL to the ids of leads behind it.
	URLIndex map[string][]string
	// LeadID is the single lead a job was run for.
	LeadID string
	// ForceEnrichment re-counts leads already at enriched.
	ForceEnrichment bool
}

// Adapter is implemented once per MapperType.
type Adapter interface {
	Info() Info
	// Execute submits a job. It fails with *model.ProviderError when the
	// provider rejects params or is unreachable, and *model.RateLimitError
	// on HTTP 429.
	Execute(ctx context.Context, params Params) (*model.Run, error)
	// GetStatus is a point-in-time status read, safe to repeat.
	GetStatus(ctx context.Context, runID string) (model.RunStatus, error)
	// GetResults returns every result item of a finished run; an empty slice
	// when nothing was found.
	GetResults(ctx context.Context, runID string) ([]Item, error)
	MapToLeads(ctx context.Context, items []Item, target Target, opts MapOptions) (*model.MappingResult, error)
}

// CostLookup is implemented by adapters that can report the provider-billed
// cost of a finished run.
type CostLookup interface {
	RunCost(ctx context.Context, runID string) (usd float64, details json.RawMessage, err error)
}

var (
	errNoPeople      = eris.New("no person with a domain or linkedin url")
	errNoEmails      = eris.New("no valid emails")
	errBatchTooLarge = eris.New("batch exceeds max batch size")
	errNoSite        = eris.New("no start url")
	errNoCompany     = eris.New("no company to attach results to")
)

// New builds the adapter variant selected by info.MapperType.
func New(info Info, client apify.Client, mapper *mapping.Mapper) (Adapter, error) {
	r := &actorRunner{info: info, client: client}
	switch info.MapperType {
	case MapperContactFinder:
		return &ContactFinder{actorRunner: r, mapper: mapper}, nil
	case MapperCompanyPosts:
		return &PostCrawler{actorRunner: r, mapper: mapper, scope: model.EntityCompany}, nil
	case MapperPersonPosts:
		return &PostCrawler{actorRunner: r, mapper: mapper, scope: model.EntityLead}, nil
	case MapperEmailFinder:
		return &EmailFinder{actorRunner: r, mapper: mapper}, nil
	case MapperEmailValidator:
		return &EmailValidator{actorRunner: r, mapper: mapper}, nil
	case MapperSEOCrawler:
		return &SeoCrawler{actorRunner: r, mapper: mapper}, nil
	case MapperReviewCrawler:
		return &ReviewCrawler{actorRunner: r, mapper: mapper}, nil
	default:
		return nil, eris.Errorf("scraper: unknown mapper type %q for %s", info.MapperType, info.ID)
	}
}
