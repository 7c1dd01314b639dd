// Package mapping turns normalized provider records into Lead and Company
// rows: company resolution, lead dedup and enrichment status transitions.
package mapping

import (
	"time"

	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/internal/store"
)

// Target is the entity context a mapping call writes into.
type Target struct {
	UserID       string
	CollectionID string
	CompanyID    string
	LeadID       string
	Source       model.Source
}

// Mapper is the shared dedup and company-resolution engine used by every
// scraper adapter.
type Mapper struct {
	store store.Store
	now   func() time.Time
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithNow overrides the clock used for enrichment timestamps.
func WithNow(fn func() time.Time) Option {
	return func(m *Mapper) { m.now = fn }
}

// New creates a Mapper over st.
func New(st store.Store, opts ...Option) *Mapper {
	m := &Mapper{store: st, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Store returns the underlying store.
func (m *Mapper) Store() store.Store { return m.store }
