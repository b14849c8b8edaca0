package datasource

import (
	"fmt"
	"sort"
	"sync"

	"github.com/reportforge/internal/models"
)

// Registry holds the named data providers available to report templates.
// Sources are immutable once registered.
type Registry struct {
	mutex   sync.RWMutex
	sources map[string]*models.DataSource
}

func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]*models.DataSource),
	}
}

// Register adds a data source to the registry. ID, Name and Fetch are
// required and IDs must be unique.
func (r *Registry) Register(ds *models.DataSource) error {
	if ds == nil || ds.ID == "" || ds.Name == "" || ds.Fetch == nil {
		return fmt.Errorf("data source requires id, name and fetch")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.sources[ds.ID]; ok {
		return fmt.Errorf("data source already registered: %s", ds.ID)
	}
	r.sources[ds.ID] = ds
	return nil
}

// Get returns the data source with the given id.
func (r *Registry) Get(id string) (*models.DataSource, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ds, ok := r.sources[id]
	if !ok {
		return nil, fmt.Errorf("data source not found: %s", id)
	}
	return ds, nil
}

// Has reports whether a data source with the given id is registered.
func (r *Registry) Has(id string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.sources[id]
	return ok
}

// List returns all registered data sources sorted by id.
func (r *Registry) List() []*models.DataSource {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]*models.DataSource, 0, len(r.sources))
	for _, ds := range r.sources {
		result = append(result, ds)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}
