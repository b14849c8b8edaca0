package models

import "time"

// Transformation is one operator in a section's transformation pipeline.
// Type selects the operator; the remaining fields are interpreted per type.
type Transformation struct {
	Type         string        `json:"type"` // filter, sort, group, select, limit
	Field        string        `json:"field,omitempty"`
	Operator     string        `json:"operator,omitempty"`     // filter: eq, neq, gt, gte, lt, lte, contains, startsWith, endsWith
	Value        interface{}   `json:"value,omitempty"`        // filter comparison value
	Direction    string        `json:"direction,omitempty"`    // sort: asc, desc
	Aggregations []Aggregation `json:"aggregations,omitempty"` // group
	Fields       []string      `json:"fields,omitempty"`       // select
	Count        int           `json:"count,omitempty"`        // limit; 0 means unbounded
	Offset       int           `json:"offset,omitempty"`       // limit
}

// Aggregation is one computed column of a group operator.
type Aggregation struct {
	Name  string `json:"name"`
	Type  string `json:"type"` // count, sum, avg, min, max
	Field string `json:"field,omitempty"`
}

// TemplateSection binds one report section to a data source and the
// transformations applied to its records.
type TemplateSection struct {
	Title           string                 `json:"title"`
	DataSourceID    string                 `json:"data_source_id"`
	StaticFilters   map[string]interface{} `json:"static_filters,omitempty"`
	Transformations []Transformation       `json:"transformations,omitempty"`
}

// ParameterSpec declares one runtime parameter of a template.
type ParameterSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
}

// ReportTemplate is a reusable report definition. Templates are immutable
// once created; "new versions" are new templates.
type ReportTemplate struct {
	ID                string                 `json:"id"`
	Name              string                 `json:"name"`
	Description       string                 `json:"description,omitempty"`
	Sections          []TemplateSection      `json:"sections"`
	Parameters        []ParameterSpec        `json:"parameters,omitempty"`
	DefaultParameters map[string]interface{} `json:"default_parameters,omitempty"`
	Schedule          *Schedule              `json:"schedule,omitempty"`
	Tags              []string               `json:"tags,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}
