package model

import (
	"encoding/json"
	"time"
)

// RunStatus is the provider-reported state of a scraper run.
type RunStatus string

const (
	RunStatusReady     RunStatus = "READY"
	RunStatusQueued    RunStatus = "QUEUED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusTimingOut RunStatus = "TIMING-OUT"
	RunStatusTimedOut  RunStatus = "TIMED-OUT"
	RunStatusAborting  RunStatus = "ABORTING"
	RunStatusAborted   RunStatus = "ABORTED"
)

// Terminal reports whether the status ends the poll loop.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusAborted, RunStatusTimedOut:
		return true
	default:
		return false
	}
}

// Source tags the calling context that triggered a run.
type Source string

const (
	SourceCollection Source = "collection"
	SourceCompany    Source = "company"
	SourceLead       Source = "lead"
	SourceBatch      Source = "batch"
)

// Run is one externally executed, asynchronously polled scraper job.
type Run struct {
	ID           string          `json:"id"`
	ScraperID    string          `json:"scraper_id"`
	UserID       string          `json:"user_id"`
	Source       Source          `json:"source"`
	CollectionID string          `json:"collection_id,omitempty"`
	CompanyID    string          `json:"company_id,omitempty"`
	LeadID       string          `json:"lead_id,omitempty"`
	ItemCount    int             `json:"item_count"`
	Status       RunStatus       `json:"status"`
	CostUSD      *float64        `json:"cost_usd,omitempty"`
	UsageDetails json.RawMessage `json:"usage_details,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// Duration returns how long the run took, or zero if it has not finished.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// EntityType names the kind of entity a usage row refers to.
type EntityType string

const (
	EntityLead    EntityType = "lead"
	EntityCompany EntityType = "company"
)

// EntityScraperUsage is one append-only ledger row per (entity, attempt).
type EntityScraperUsage struct {
	ID         string          `json:"id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	ScraperID  string          `json:"scraper_id"`
	RunID      string          `json:"run_id,omitempty"`
	Source     Source          `json:"source"`
	HasResult  bool            `json:"has_result"`
	ItemCount  int             `json:"item_count"`
	ConfigUsed json.RawMessage `json:"config_used,omitempty"`
	UserID     string          `json:"user_id"`
	CreatedAt  time.Time       `json:"created_at"`
}
