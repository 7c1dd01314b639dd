package scraper

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscrape/internal/mapping"
	"github.com/sells-group/leadscrape/pkg/apify"
)

// Registry holds the configured adapters keyed by scraper id.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// BuildRegistry constructs one adapter per catalog entry.
func BuildRegistry(infos []Info, client apify.Client, mapper *mapping.Mapper) (*Registry, error) {
	r := NewRegistry()
	for _, info := range infos {
		a, err := New(info, client, mapper)
		if err != nil {
			return nil, eris.Wrap(err, "scraper: build registry")
		}
		r.Register(a)
	}
	return r, nil
}

// Register adds an adapter, replacing any with the same id.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Info().ID] = a
}

// Get returns the adapter for id, or nil if not found.
func (r *Registry) Get(id string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[id]
}

// List returns the info of every registered adapter, sorted by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.adapters))
	for _, a := range r.adapters {
		infos = append(infos, a.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
