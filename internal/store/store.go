package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscrape/internal/model"
)

// ErrConflict is returned by create operations that hit a unique constraint.
// Callers re-read the existing row.
var ErrConflict = eris.New("store: unique constraint conflict")

// CompanyMatch holds the OR-match keys for company resolution. Empty keys are
// ignored; NameKey is the folded company name.
type CompanyMatch struct {
	NameKey     string
	Domain      string
	LinkedInURL string
}

// Empty reports whether no key is set.
func (m CompanyMatch) Empty() bool {
	return m.NameKey == "" && m.Domain == "" && m.LinkedInURL == ""
}

// LeadMatch identifies a lead for mapping-time dedup: same user and the same
// non-empty email or LinkedIn URL.
type LeadMatch struct {
	UserID      string
	Email       string
	LinkedInURL string
}

// CompanyPatch lists company columns to change. Nil fields are left as is.
type CompanyPatch struct {
	Domain              *string
	Website             *string
	LinkedInURL         *string
	EmployeesScraped    *bool
	EmployeesScrapedAt  *time.Time
	SEOAnalyzedAt       *time.Time
	SEOData             json.RawMessage
	CompanyLinkedInPost *model.PostStatus
	ReviewCount         *int
	ReviewRating        *float64
}

// LeadPatch lists lead columns to change. Nil fields are left as is.
type LeadPatch struct {
	CompanyID           *string
	Email               *string
	EmailCertainty      *string
	PersonLinkedInPost  *model.PostStatus
	CompanyLinkedInPost *model.PostStatus
	EmailVerify         *model.EmailVerifyStatus
	Validated           *bool
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	ScraperID    string          `json:"scraper_id,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	CollectionID string          `json:"collection_id,omitempty"`
	Status       model.RunStatus `json:"status,omitempty"`
	Since        time.Time       `json:"since,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for runs, usage and the mapped
// Lead/Company entities. Single-row getters return nil, nil when the row does
// not exist.
type Store interface {
	// Companies
	FindCompany(ctx context.Context, m CompanyMatch) (*model.Company, error)
	CreateCompany(ctx context.Context, c *model.Company, nameKey string) error
	GetCompany(ctx context.Context, id string) (*model.Company, error)
	UpdateCompany(ctx context.Context, id string, p CompanyPatch) error

	// Leads
	FindLead(ctx context.Context, m LeadMatch) (*model.Lead, error)
	CreateLead(ctx context.Context, l *model.Lead) error
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	UpdateLead(ctx context.Context, id string, p LeadPatch) error
	ListLeadsByCompanyLinkedIn(ctx context.Context, userID, linkedinURL string) ([]model.Lead, error)
	ListCollectionLeads(ctx context.Context, collectionID string) ([]model.Lead, error)
	AddLeadToCollection(ctx context.Context, collectionID, leadID string) error

	// Posts
	InsertPosts(ctx context.Context, posts []model.Post) (int, error)

	// Runs
	UpsertRun(ctx context.Context, r *model.Run) error
	UpdateRunCost(ctx context.Context, runID string, costUSD float64, details json.RawMessage) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Usage ledger
	InsertUsage(ctx context.Context, rows []model.EntityScraperUsage) error
	HasUsage(ctx context.Context, entityType model.EntityType, entityID, scraperID string) (bool, error)
	ListUsage(ctx context.Context, entityType model.EntityType, entityID string) ([]model.EntityScraperUsage, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// column is one SET assignment in a patch update.
type column struct {
	name  string
	value any
}

func (p CompanyPatch) columns() []column {
	var cols []column
	if p.Domain != nil {
		cols = append(cols, column{"domain", *p.Domain})
	}
	if p.Website != nil {
		cols = append(cols, column{"website", *p.Website})
	}
	if p.LinkedInURL != nil {
		cols = append(cols, column{"linkedin_url", *p.LinkedInURL})
	}
	if p.EmployeesScraped != nil {
		cols = append(cols, column{"employees_scraped", *p.EmployeesScraped})
	}
	if p.EmployeesScrapedAt != nil {
		cols = append(cols, column{"employees_scraped_at", p.EmployeesScrapedAt.UTC()})
	}
	if p.SEOAnalyzedAt != nil {
		cols = append(cols, column{"seo_analyzed_at", p.SEOAnalyzedAt.UTC()})
	}
	if p.SEOData != nil {
		cols = append(cols, column{"seo_data", string(p.SEOData)})
	}
	if p.CompanyLinkedInPost != nil {
		cols = append(cols, column{"company_linkedin_post", string(*p.CompanyLinkedInPost)})
	}
	if p.ReviewCount != nil {
		cols = append(cols, column{"review_count", *p.ReviewCount})
	}
	if p.ReviewRating != nil {
		cols = append(cols, column{"review_rating", *p.ReviewRating})
	}
	return cols
}

func (p LeadPatch) columns() []column {
	var cols []column
	if p.CompanyID != nil {
		cols = append(cols, column{"company_id", nullString(*p.CompanyID)})
	}
	if p.Email != nil {
		cols = append(cols, column{"email", *p.Email})
	}
	if p.EmailCertainty != nil {
		cols = append(cols, column{"email_certainty", *p.EmailCertainty})
	}
	if p.PersonLinkedInPost != nil {
		cols = append(cols, column{"person_linkedin_post", string(*p.PersonLinkedInPost)})
	}
	if p.CompanyLinkedInPost != nil {
		cols = append(cols, column{"company_linkedin_post", string(*p.CompanyLinkedInPost)})
	}
	if p.EmailVerify != nil {
		cols = append(cols, column{"email_verify", string(*p.EmailVerify)})
	}
	if p.Validated != nil {
		cols = append(cols, column{"validated", *p.Validated})
	}
	return cols
}

// nullString maps "" to NULL for optional foreign keys.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullJSON maps an empty document to NULL.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func listLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
