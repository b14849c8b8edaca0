package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reportforge/internal/datasource"
	"github.com/reportforge/internal/models"
	"github.com/reportforge/internal/transform"
)

const DefaultMaxSectionItems = 1000

// TemplateSource resolves template ids for the engine. The service's
// template registry implements it.
type TemplateSource interface {
	Template(id string) (*models.ReportTemplate, error)
}

// ErrTemplateNotFound reports an unknown template id.
type ErrTemplateNotFound struct {
	TemplateID string
}

func (e *ErrTemplateNotFound) Error() string {
	return fmt.Sprintf("template not found: %s", e.TemplateID)
}

// Engine assembles reports from templates. Sections are processed in
// declared order; a section that fails to fetch or transform is recorded
// with its error and never aborts the report.
type Engine struct {
	templates       TemplateSource
	registry        *datasource.Registry
	maxSectionItems int
	fetchTimeout    time.Duration
}

// NewEngine creates a report generation engine. maxSectionItems caps the
// records kept per section; values <= 0 use DefaultMaxSectionItems.
// fetchTimeout bounds each data source fetch; zero means no timeout.
func NewEngine(templates TemplateSource, registry *datasource.Registry, maxSectionItems int, fetchTimeout time.Duration) *Engine {
	if maxSectionItems <= 0 {
		maxSectionItems = DefaultMaxSectionItems
	}
	return &Engine{
		templates:       templates,
		registry:        registry,
		maxSectionItems: maxSectionItems,
		fetchTimeout:    fetchTimeout,
	}
}

// Generate assembles a report from the template and the caller's runtime
// parameters. Caller parameters win over template defaults.
func (e *Engine) Generate(ctx context.Context, templateID string, params map[string]interface{}) (*models.Report, error) {
	tmpl, err := e.templates.Template(templateID)
	if err != nil {
		return nil, &ErrTemplateNotFound{TemplateID: templateID}
	}

	merged := mergeMaps(tmpl.DefaultParameters, params)
	rep := &models.Report{
		ID:           uuid.NewString(),
		TemplateID:   tmpl.ID,
		TemplateName: tmpl.Name,
		Parameters:   merged,
		Status:       models.ReportStatusGenerating,
		GeneratedAt:  time.Now(),
		Sections:     make([]models.ReportSection, 0, len(tmpl.Sections)),
	}

	for _, section := range tmpl.Sections {
		rep.Sections = append(rep.Sections, e.generateSection(ctx, section, merged))
	}

	rep.Status = models.ReportStatusCompleted
	return rep, nil
}

func (e *Engine) generateSection(ctx context.Context, section models.TemplateSection, params map[string]interface{}) models.ReportSection {
	result := models.ReportSection{
		Title: section.Title,
		Data:  []models.Record{},
	}

	ds, err := e.registry.Get(section.DataSourceID)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	// Later sources win: source defaults, then runtime parameters, then the
	// section's static filters.
	filters := mergeMaps(mergeMaps(ds.DefaultFilters, params), section.StaticFilters)

	records, err := e.fetch(ctx, ds, filters)
	if err != nil {
		result.Error = fmt.Sprintf("failed to fetch from %s: %v", ds.ID, err)
		return result
	}

	records, err = transform.Apply(records, section.Transformations)
	if err != nil {
		result.Error = fmt.Sprintf("failed to transform section data: %v", err)
		return result
	}

	if len(records) > e.maxSectionItems {
		records = records[:e.maxSectionItems]
		result.Metadata.Truncated = true
	}
	if records == nil {
		records = []models.Record{}
	}
	result.Data = records
	result.Metadata.Count = len(records)
	return result
}

// fetch calls the data source, converting a panic inside a provider into an
// error so one misbehaving source stays scoped to its section.
func (e *Engine) fetch(ctx context.Context, ds *models.DataSource, filters map[string]interface{}) (records []models.Record, err error) {
	if e.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.fetchTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("data source panicked: %v", r)
		}
	}()
	return ds.Fetch(ctx, filters)
}

// mergeMaps copies base then overlay; overlay wins on conflicts. The inputs
// are never mutated.
func mergeMaps(base, overlay map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
