package models

import "context"

// Record is one row of data as returned by a data source.
type Record map[string]interface{}

// FetchFunc retrieves records for the given filter set.
type FetchFunc func(ctx context.Context, filters map[string]interface{}) ([]Record, error)

// DataSource is a named provider of records. The Fetch capability is the
// source itself; Schema is documentation only and is never enforced.
type DataSource struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description,omitempty"`
	Fetch          FetchFunc              `json:"-"`
	DefaultFilters map[string]interface{} `json:"default_filters,omitempty"`
	Schema         map[string]string      `json:"schema,omitempty"`
	Tags           []string               `json:"tags,omitempty"`
}
