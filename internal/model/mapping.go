package model

import "time"

// EntityRef names one entity a mapping call touched, for the usage ledger.
type EntityRef struct {
	Type      EntityType
	ID        string
	HasResult bool
	ItemCount int
}

// MappingResult aggregates the outcome of one mapping call. Counts are
// order-independent.
type MappingResult struct {
	Created  int `json:"created"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
	Enriched int `json:"enriched"`
	NoPosts  int `json:"no_posts,omitempty"`

	// Touched lists the entities the call attempted to enrich.
	Touched []EntityRef `json:"-"`
}

// Add folds o into r.
func (r *MappingResult) Add(o *MappingResult) {
	if o == nil {
		return
	}
	r.Created += o.Created
	r.Skipped += o.Skipped
	r.Errors += o.Errors
	r.Enriched += o.Enriched
	r.NoPosts += o.NoPosts
	r.Touched = append(r.Touched, o.Touched...)
}

// Touch records an entity attempt.
func (r *MappingResult) Touch(t EntityType, id string, hasResult bool, items int) {
	if id == "" {
		return
	}
	r.Touched = append(r.Touched, EntityRef{Type: t, ID: id, HasResult: hasResult, ItemCount: items})
}

// Metrics is the summary returned to an orchestration caller.
type Metrics struct {
	MappingResult
	TotalFound int           `json:"total_found"`
	RunIDs     []string      `json:"run_ids"`
	Duration   time.Duration `json:"duration"`
}
