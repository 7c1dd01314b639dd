package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscrape/internal/model"
	"github.com/sells-group/leadscrape/internal/store"
)

// statsLimit bounds the runs read for one snapshot.
const statsLimit = 10000

// ScraperStats holds run totals for one scraper.
type ScraperStats struct {
	ScraperID string  `json:"scraper_id"`
	Total     int     `json:"total"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	Items     int     `json:"items"`
	CostUSD   float64 `json:"cost_usd"`
}

// RunStats is a point-in-time view of run outcomes within a lookback window.
type RunStats struct {
	Total       int            `json:"total"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	TimedOut    int            `json:"timed_out"`
	Aborted     int            `json:"aborted"`
	Running     int            `json:"running"`
	FailRate    float64        `json:"fail_rate"`
	Items       int            `json:"items"`
	CostUSD     float64        `json:"cost_usd"`
	Unpriced    int            `json:"unpriced"` // finished runs without a recorded cost
	AvgDuration time.Duration  `json:"avg_duration"`
	Scrapers    []ScraperStats `json:"scrapers"`
	Since       time.Time      `json:"since"`
	CollectedAt time.Time      `json:"collected_at"`
}

// RunLister is the store read the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector aggregates run history from the store.
type Collector struct {
	store RunLister
	now   func() time.Time
}

// NewCollector creates a new run stats collector.
func NewCollector(st RunLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect summarizes the runs started within lookback, optionally for one
// scraper or user.
func (c *Collector) Collect(ctx context.Context, lookback time.Duration, filter store.RunFilter) (*RunStats, error) {
	now := c.now().UTC()
	filter.Since = now.Add(-lookback)
	filter.Limit = statsLimit
	filter.Offset = 0

	runs, err := c.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	stats := Summarize(runs)
	stats.Since = filter.Since
	stats.CollectedAt = now
	return stats, nil
}

// Summarize computes RunStats over runs.
func Summarize(runs []model.Run) *RunStats {
	s := &RunStats{Total: len(runs), Scrapers: []ScraperStats{}}
	byScraper := make(map[string]*ScraperStats)

	var totalDur time.Duration
	var durCount int
	for _, r := range runs {
		ss := byScraper[r.ScraperID]
		if ss == nil {
			ss = &ScraperStats{ScraperID: r.ScraperID}
			byScraper[r.ScraperID] = ss
		}
		ss.Total++
		ss.Items += r.ItemCount
		s.Items += r.ItemCount

		switch r.Status {
		case model.RunStatusSucceeded:
			s.Succeeded++
			ss.Succeeded++
		case model.RunStatusFailed:
			s.Failed++
			ss.Failed++
		case model.RunStatusTimedOut:
			s.TimedOut++
			ss.Failed++
		case model.RunStatusAborted:
			s.Aborted++
			ss.Failed++
		default:
			s.Running++
		}

		if r.CostUSD != nil {
			s.CostUSD += *r.CostUSD
			ss.CostUSD += *r.CostUSD
		} else if r.Status.Terminal() {
			s.Unpriced++
		}
		if d := r.Duration(); d > 0 {
			totalDur += d
			durCount++
		}
	}

	finished := s.Succeeded + s.Failed + s.TimedOut + s.Aborted
	if finished > 0 {
		s.FailRate = float64(finished-s.Succeeded) / float64(finished)
	}
	if durCount > 0 {
		s.AvgDuration = totalDur / time.Duration(durCount)
	}

	for _, ss := range byScraper {
		s.Scrapers = append(s.Scrapers, *ss)
	}
	sort.Slice(s.Scrapers, func(i, j int) bool { return s.Scrapers[i].ScraperID < s.Scrapers[j].ScraperID })
	return s
}
