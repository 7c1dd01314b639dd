package model

import (
	"encoding/json"
	"time"
)

// PostStatus records whether a LinkedIn post enrichment ran for an entity.
type PostStatus string

const (
	PostStatusUnset    PostStatus = ""
	PostStatusEnriched PostStatus = "enriched"
	PostStatusNoPosts  PostStatus = "no-posts"
)

// EmailVerifyStatus is the verdict from an email validator.
type EmailVerifyStatus string

const (
	EmailVerifyUnset   EmailVerifyStatus = ""
	EmailVerifyValid   EmailVerifyStatus = "valid"
	EmailVerifyInvalid EmailVerifyStatus = "invalid"
	EmailVerifyRisky   EmailVerifyStatus = "risky"
	EmailVerifyUnknown EmailVerifyStatus = "unknown"
)

// Company is an organization resolved from provider output. Companies are
// shared across users.
type Company struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Domain              string          `json:"domain,omitempty"`
	Website             string          `json:"website,omitempty"`
	LinkedInURL         string          `json:"linkedin_url,omitempty"`
	Industry            string          `json:"industry,omitempty"`
	EmployeesScraped    bool            `json:"employees_scraped"`
	EmployeesScrapedAt  *time.Time      `json:"employees_scraped_at,omitempty"`
	SEOAnalyzedAt       *time.Time      `json:"seo_analyzed_at,omitempty"`
	SEOData             json.RawMessage `json:"seo_data,omitempty"`
	CompanyLinkedInPost PostStatus      `json:"company_linkedin_post,omitempty"`
	ReviewCount         int             `json:"review_count"`
	ReviewRating        *float64        `json:"review_rating,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Lead is a person owned by a user.
type Lead struct {
	ID                  string            `json:"id"`
	UserID              string            `json:"user_id"`
	CompanyID           string            `json:"company_id,omitempty"`
	FirstName           string            `json:"first_name,omitempty"`
	LastName            string            `json:"last_name,omitempty"`
	FullName            string            `json:"full_name,omitempty"`
	Position            string            `json:"position,omitempty"`
	Email               string            `json:"email,omitempty"`
	EmailCertainty      string            `json:"email_certainty,omitempty"`
	LinkedInURL         string            `json:"linkedin_url,omitempty"`
	PersonLinkedInPost  PostStatus        `json:"person_linkedin_post,omitempty"`
	CompanyLinkedInPost PostStatus        `json:"company_linkedin_post,omitempty"`
	EmailVerify         EmailVerifyStatus `json:"email_verify,omitempty"`
	Validated           bool              `json:"validated"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// Post is a LinkedIn post collected by a post crawler.
type Post struct {
	ID        string     `json:"id"`
	URL       string     `json:"url"`
	AuthorURL string     `json:"author_url,omitempty"`
	Text      string     `json:"text,omitempty"`
	PostedAt  *time.Time `json:"posted_at,omitempty"`
	LeadID    string     `json:"lead_id,omitempty"`
	CompanyID string     `json:"company_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
