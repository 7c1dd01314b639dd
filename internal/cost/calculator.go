package cost

// ScraperRate holds per-scraper pricing in USD.
type ScraperRate struct {
	PerItem float64 `yaml:"per_item" mapstructure:"per_item"`
	PerRun  float64 `yaml:"per_run" mapstructure:"per_run"`
}

// Rates holds the pricing used to estimate run cost when the provider does
// not report one.
type Rates struct {
	Scrapers       map[string]ScraperRate `yaml:"scrapers" mapstructure:"scrapers"`
	ComputeUnitUSD float64                `yaml:"compute_unit_usd" mapstructure:"compute_unit_usd"`
}

// Merge returns r with every scraper rate in o applied on top. A non-zero
// compute unit price in o wins.
func (r Rates) Merge(o Rates) Rates {
	out := Rates{
		Scrapers:       make(map[string]ScraperRate, len(r.Scrapers)+len(o.Scrapers)),
		ComputeUnitUSD: r.ComputeUnitUSD,
	}
	for id, rate := range r.Scrapers {
		out.Scrapers[id] = rate
	}
	for id, rate := range o.Scrapers {
		out.Scrapers[id] = rate
	}
	if o.ComputeUnitUSD > 0 {
		out.ComputeUnitUSD = o.ComputeUnitUSD
	}
	return out
}

// Calculator computes costs for scraper runs.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Estimate returns the cost of a run of scraperID that produced items
// results. Unknown scrapers cost 0.
func (c *Calculator) Estimate(scraperID string, items int) float64 {
	rate, ok := c.rates.Scrapers[scraperID]
	if !ok {
		return 0
	}
	if items < 0 {
		items = 0
	}
	return rate.PerRun + float64(items)*rate.PerItem
}

// ComputeUnits converts platform compute units into USD.
func (c *Calculator) ComputeUnits(units float64) float64 {
	if units <= 0 {
		return 0
	}
	return units * c.rates.ComputeUnitUSD
}

// Known reports whether a rate is configured for scraperID.
func (c *Calculator) Known(scraperID string) bool {
	_, ok := c.rates.Scrapers[scraperID]
	return ok
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Scrapers:       map[string]ScraperRate{},
		ComputeUnitUSD: 0.40,
	}
}
