package datasource

import (
	"context"
	"time"

	"github.com/reportforge/internal/models"
)

// RegisterBuiltins adds the deterministic sample data sources used by the
// bundled templates and the demo configuration.
func RegisterBuiltins(r *Registry) error {
	sources := []*models.DataSource{
		{
			ID:          "system_events",
			Name:        "System Events",
			Description: "Operational events recorded by the platform",
			Fetch:       staticFetch(systemEvents),
			DefaultFilters: map[string]interface{}{
				"environment": "production",
			},
			Schema: map[string]string{
				"timestamp":   "datetime",
				"service":     "string",
				"level":       "string",
				"environment": "string",
				"duration_ms": "number",
			},
			Tags: []string{"operations", "sample"},
		},
		{
			ID:          "usage_metrics",
			Name:        "Usage Metrics",
			Description: "Per-customer resource usage counters",
			Fetch:       staticFetch(usageMetrics),
			Schema: map[string]string{
				"customer": "string",
				"region":   "string",
				"requests": "number",
				"bytes":    "number",
			},
			Tags: []string{"analytics", "sample"},
		},
	}

	for _, ds := range sources {
		if err := r.Register(ds); err != nil {
			return err
		}
	}
	return nil
}

// staticFetch serves a fixed dataset, applying each filter as an equality
// match on the named field. Unknown filter fields match nothing, which keeps
// the sample sources honest about filter handling.
func staticFetch(data []models.Record) models.FetchFunc {
	return func(ctx context.Context, filters map[string]interface{}) ([]models.Record, error) {
		result := make([]models.Record, 0, len(data))
		for _, rec := range data {
			if matchesFilters(rec, filters) {
				result = append(result, rec)
			}
		}
		return result, nil
	}
}

func matchesFilters(rec models.Record, filters map[string]interface{}) bool {
	for field, want := range filters {
		got, ok := rec[field]
		if !ok {
			return false
		}
		if got != want {
			return false
		}
	}
	return true
}

var baseTime = time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

var systemEvents = []models.Record{
	{"timestamp": baseTime.Format(time.RFC3339), "service": "ingest", "level": "info", "environment": "production", "duration_ms": 42},
	{"timestamp": baseTime.Add(5 * time.Minute).Format(time.RFC3339), "service": "ingest", "level": "error", "environment": "production", "duration_ms": 1870},
	{"timestamp": baseTime.Add(12 * time.Minute).Format(time.RFC3339), "service": "api", "level": "info", "environment": "production", "duration_ms": 8},
	{"timestamp": baseTime.Add(20 * time.Minute).Format(time.RFC3339), "service": "api", "level": "warning", "environment": "production", "duration_ms": 310},
	{"timestamp": baseTime.Add(33 * time.Minute).Format(time.RFC3339), "service": "worker", "level": "info", "environment": "staging", "duration_ms": 95},
	{"timestamp": baseTime.Add(47 * time.Minute).Format(time.RFC3339), "service": "worker", "level": "error", "environment": "production", "duration_ms": 2203},
}

var usageMetrics = []models.Record{
	{"customer": "acme", "region": "us-east", "requests": 12840, "bytes": 5242880},
	{"customer": "acme", "region": "eu-west", "requests": 3390, "bytes": 1048576},
	{"customer": "globex", "region": "us-east", "requests": 990, "bytes": 262144},
	{"customer": "initech", "region": "us-east", "requests": 45022, "bytes": 9437184},
	{"customer": "initech", "region": "eu-west", "requests": 1204, "bytes": 524288},
}
