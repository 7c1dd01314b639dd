package scraper

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadscrape/internal/cost"
)

//go:embed scrapers.yaml
var defaultCatalog []byte

type catalogFile struct {
	Scrapers []Info `yaml:"scrapers"`
}

// DefaultCatalog returns the built-in scraper catalog.
func DefaultCatalog() ([]Info, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a catalog from path, or the built-in one when path is
// empty.
func LoadCatalog(path string) ([]Info, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scraper: read catalog %s", path)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) ([]Info, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "scraper: parse catalog")
	}
	seen := make(map[string]bool, len(f.Scrapers))
	for i, s := range f.Scrapers {
		switch {
		case s.ID == "":
			return nil, eris.Errorf("scraper: catalog entry %d has no id", i)
		case seen[s.ID]:
			return nil, eris.Errorf("scraper: duplicate catalog id %q", s.ID)
		case s.ActorID == "":
			return nil, eris.Errorf("scraper: %s has no actor_id", s.ID)
		case !s.MapperType.Valid():
			return nil, eris.Errorf("scraper: %s has unknown mapper_type %q", s.ID, s.MapperType)
		case s.CostPerItemUSD < 0 || s.CostPerRunUSD < 0:
			return nil, eris.Errorf("scraper: %s has negative cost", s.ID)
		case s.MaxBatchSize < 0:
			return nil, eris.Errorf("scraper: %s has negative max_batch_size", s.ID)
		}
		seen[s.ID] = true
		if f.Scrapers[i].Name == "" {
			f.Scrapers[i].Name = s.ID
		}
	}
	return f.Scrapers, nil
}

// CatalogRates converts catalog prices into cost calculator rates.
func CatalogRates(infos []Info) cost.Rates {
	r := cost.Rates{Scrapers: make(map[string]cost.ScraperRate, len(infos))}
	for _, s := range infos {
		r.Scrapers[s.ID] = cost.ScraperRate{PerItem: s.CostPerItemUSD, PerRun: s.CostPerRunUSD}
	}
	return r
}
