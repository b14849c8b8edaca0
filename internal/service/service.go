package service

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reportforge/internal/datasource"
	"github.com/reportforge/internal/distribution"
	"github.com/reportforge/internal/export"
	"github.com/reportforge/internal/models"
	"github.com/reportforge/internal/report"
	"github.com/reportforge/internal/schedule"
	"github.com/reportforge/internal/scheduler"
	"github.com/reportforge/internal/store"
)

const DefaultRetention = 90 * 24 * time.Hour

// Result is the uniform envelope returned by every service operation.
// Operations never panic or return raw errors across this boundary.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func ok() Result           { return Result{Success: true} }
func fail(e string) Result { return Result{Success: false, Error: e} }

type RegisterResult struct {
	Result
	ID string `json:"id,omitempty"`
}

type TemplateResult struct {
	Result
	Template *models.ReportTemplate `json:"template,omitempty"`
}

type JobResult struct {
	Result
	Job *models.Job `json:"job,omitempty"`
}

type JobListResult struct {
	Result
	Jobs []*models.JobSummary `json:"jobs"`
}

type GeneratedListResult struct {
	Result
	Reports []*models.GeneratedReport `json:"reports"`
}

type DownloadResult struct {
	Result
	Data        []byte `json:"-"`
	ContentType string `json:"-"`
	Filename    string `json:"-"`
}

type CleanupResult struct {
	Result
	DeletedCount int `json:"deleted_count"`
}

// TemplateSpec is the input of CreateTemplate.
type TemplateSpec struct {
	Name              string                   `json:"name"`
	Description       string                   `json:"description,omitempty"`
	Sections          []models.TemplateSection `json:"sections"`
	Parameters        []models.ParameterSpec   `json:"parameters,omitempty"`
	DefaultParameters map[string]interface{}   `json:"default_parameters,omitempty"`
	Schedule          *models.Schedule         `json:"schedule,omitempty"`
	Tags              []string                 `json:"tags,omitempty"`
}

// JobSpec is the input of CreateJob.
type JobSpec struct {
	Name         string                 `json:"name"`
	TemplateID   string                 `json:"template_id"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	Schedule     *models.Schedule       `json:"schedule,omitempty"`
	Distribution []models.Distribution  `json:"distribution,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
}

// GeneratedFilter narrows GetGeneratedReports.
type GeneratedFilter struct {
	JobID      string
	TemplateID string
	Status     string
}

// Service wires the registry, engine, scheduler, catalog and dispatcher
// behind the in-process operation surface consumed by the HTTP and CLI
// layers.
type Service struct {
	registry   *datasource.Registry
	engine     *report.Engine
	sched      *scheduler.Scheduler
	dispatcher *distribution.Dispatcher
	store      *store.Store

	mutex     sync.RWMutex
	templates map[string]*models.ReportTemplate
	reports   map[string]*models.Report
	generated []*models.GeneratedReport

	retention time.Duration
	now       func() time.Time
}

// Options configures a Service. Store and Dispatcher may be nil, in which
// case persistence and distribution are skipped.
type Options struct {
	Registry        *datasource.Registry
	Dispatcher      *distribution.Dispatcher
	Store           *store.Store
	MaxSectionItems int
	MaxConcurrent   int
	TickInterval    time.Duration
	FetchTimeout    time.Duration
	Retention       time.Duration
}

func New(opts Options) *Service {
	if opts.Registry == nil {
		opts.Registry = datasource.NewRegistry()
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}

	s := &Service{
		registry:   opts.Registry,
		dispatcher: opts.Dispatcher,
		store:      opts.Store,
		templates:  make(map[string]*models.ReportTemplate),
		reports:    make(map[string]*models.Report),
		retention:  opts.Retention,
		now:        time.Now,
	}
	s.engine = report.NewEngine(s, opts.Registry, opts.MaxSectionItems, opts.FetchTimeout)
	s.sched = scheduler.NewScheduler(s.engine, s, opts.MaxConcurrent, opts.TickInterval)
	return s
}

// Start begins the scheduler tick loop.
func (s *Service) Start() { s.sched.Start() }

// Stop halts the scheduler tick loop.
func (s *Service) Stop() { s.sched.Stop() }

// Scheduler exposes the job scheduler, mainly for tests and diagnostics.
func (s *Service) Scheduler() *scheduler.Scheduler { return s.sched }

// Template implements report.TemplateSource.
func (s *Service) Template(id string) (*models.ReportTemplate, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	tmpl, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", id)
	}
	return tmpl, nil
}

// LoadState restores templates and jobs from the store. Terminal jobs keep
// their recorded status; jobs that were queued or running at shutdown restart
// as pending or scheduled, and an interrupted run is not resumed.
func (s *Service) LoadState() error {
	if s.store == nil {
		return nil
	}

	templates, err := s.store.Templates()
	if err != nil {
		return err
	}
	s.mutex.Lock()
	for _, tmpl := range templates {
		s.templates[tmpl.ID] = tmpl
	}
	s.mutex.Unlock()

	jobs, err := s.store.Jobs()
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := s.sched.RestoreJob(job); err != nil {
			log.Printf("Failed to restore job %s: %v", job.ID, err)
		}
	}

	generated, err := s.store.GeneratedReports()
	if err != nil {
		return err
	}
	s.mutex.Lock()
	s.generated = generated
	s.mutex.Unlock()

	return nil
}

// RegisterDataSource adds a data provider to the registry.
func (s *Service) RegisterDataSource(ds *models.DataSource) RegisterResult {
	if err := s.registry.Register(ds); err != nil {
		return RegisterResult{Result: fail(err.Error())}
	}
	return RegisterResult{Result: ok(), ID: ds.ID}
}

// CreateTemplate validates and stores a report template. Every section must
// reference a registered data source and at least one section is required.
func (s *Service) CreateTemplate(spec TemplateSpec) TemplateResult {
	if spec.Name == "" {
		return TemplateResult{Result: fail("template name is required")}
	}
	if len(spec.Sections) == 0 {
		return TemplateResult{Result: fail("template requires at least one section")}
	}
	for _, section := range spec.Sections {
		if !s.registry.Has(section.DataSourceID) {
			return TemplateResult{Result: fail(fmt.Sprintf("unknown data source: %s", section.DataSourceID))}
		}
	}
	if err := schedule.Validate(spec.Schedule); err != nil {
		return TemplateResult{Result: fail(err.Error())}
	}

	tmpl := &models.ReportTemplate{
		ID:                uuid.NewString(),
		Name:              spec.Name,
		Description:       spec.Description,
		Sections:          spec.Sections,
		Parameters:        spec.Parameters,
		DefaultParameters: spec.DefaultParameters,
		Schedule:          spec.Schedule,
		Tags:              spec.Tags,
		CreatedAt:         s.now(),
	}

	s.mutex.Lock()
	s.templates[tmpl.ID] = tmpl
	s.mutex.Unlock()

	if s.store != nil {
		if err := s.store.SaveTemplate(tmpl); err != nil {
			log.Printf("Failed to persist template %s: %v", tmpl.ID, err)
		}
	}
	return TemplateResult{Result: ok(), Template: tmpl}
}

// GetTemplates lists all templates, newest first.
func (s *Service) GetTemplates() []*models.ReportTemplate {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]*models.ReportTemplate, 0, len(s.templates))
	for _, tmpl := range s.templates {
		result = append(result, tmpl)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// GetDataSources lists the registered data sources.
func (s *Service) GetDataSources() []*models.DataSource {
	return s.registry.List()
}

// CreateJob validates and registers a job. A job with a schedule becomes
// scheduled immediately; a one-shot job waits for RunJob.
func (s *Service) CreateJob(spec JobSpec) JobResult {
	if spec.Name == "" {
		return JobResult{Result: fail("job name is required")}
	}
	if _, err := s.Template(spec.TemplateID); err != nil {
		return JobResult{Result: fail(err.Error())}
	}
	if err := schedule.Validate(spec.Schedule); err != nil {
		return JobResult{Result: fail(err.Error())}
	}

	now := s.now()
	job := &models.Job{
		ID:           uuid.NewString(),
		Name:         spec.Name,
		TemplateID:   spec.TemplateID,
		Parameters:   spec.Parameters,
		Schedule:     spec.Schedule,
		Distribution: spec.Distribution,
		Tags:         spec.Tags,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.sched.AddJob(job); err != nil {
		return JobResult{Result: fail(err.Error())}
	}

	s.persistJob(job.ID)
	created, err := s.sched.Job(job.ID)
	if err != nil {
		return JobResult{Result: fail(err.Error())}
	}
	return JobResult{Result: ok(), Job: created}
}

// RunJob enqueues a job immediately, regardless of any schedule.
func (s *Service) RunJob(id string) JobResult {
	job, err := s.sched.RunNow(id)
	if err != nil {
		return JobResult{Result: fail(err.Error())}
	}
	s.persistJob(id)
	return JobResult{Result: ok(), Job: job}
}

// CancelJob removes a queued job from the queue. Jobs in other states are
// returned unchanged; a running generation cannot be stopped.
func (s *Service) CancelJob(id string) JobResult {
	job, err := s.sched.Cancel(id)
	if err != nil {
		return JobResult{Result: fail(err.Error())}
	}
	s.persistJob(id)
	return JobResult{Result: ok(), Job: job}
}

// UpdateJob applies partial changes. A schedule change recomputes the job's
// next run time.
func (s *Service) UpdateJob(id string, update scheduler.JobUpdate) JobResult {
	if update.Schedule != nil {
		if err := schedule.Validate(*update.Schedule); err != nil {
			return JobResult{Result: fail(err.Error())}
		}
	}
	job, err := s.sched.Update(id, update)
	if err != nil {
		return JobResult{Result: fail(err.Error())}
	}
	s.persistJob(id)
	return JobResult{Result: ok(), Job: job}
}

// GetJobs lists job summaries matching the filter, newest created first.
func (s *Service) GetJobs(filter scheduler.JobFilter) JobListResult {
	return JobListResult{Result: ok(), Jobs: s.sched.Jobs(filter)}
}

// GetJobDetails returns one job with its full run history.
func (s *Service) GetJobDetails(id string) JobResult {
	job, err := s.sched.Job(id)
	if err != nil {
		return JobResult{Result: fail(err.Error())}
	}
	return JobResult{Result: ok(), Job: job}
}

// GetGeneratedReports lists catalog entries matching the filter, newest
// first.
func (s *Service) GetGeneratedReports(filter GeneratedFilter) GeneratedListResult {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]*models.GeneratedReport, 0, len(s.generated))
	for _, gr := range s.generated {
		if filter.JobID != "" && gr.JobID != filter.JobID {
			continue
		}
		if filter.TemplateID != "" && gr.TemplateID != filter.TemplateID {
			continue
		}
		if filter.Status != "" && string(gr.Status) != filter.Status {
			continue
		}
		result = append(result, gr)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].GeneratedAt.After(result[j].GeneratedAt)
	})
	return GeneratedListResult{Result: ok(), Reports: result}
}

// DownloadReport exports one generated report in the requested format.
func (s *Service) DownloadReport(generatedID, format string) DownloadResult {
	if format == "" {
		format = export.FormatJSON
	}

	s.mutex.RLock()
	var entry *models.GeneratedReport
	for _, gr := range s.generated {
		if gr.ID == generatedID {
			entry = gr
			break
		}
	}
	var rep *models.Report
	if entry != nil {
		rep = s.reports[entry.ReportID]
	}
	s.mutex.RUnlock()

	if entry == nil {
		return DownloadResult{Result: fail(fmt.Sprintf("generated report not found: %s", generatedID))}
	}
	if rep == nil && s.store != nil {
		var err error
		rep, err = s.store.Report(entry.ReportID)
		if err != nil {
			return DownloadResult{Result: fail(err.Error())}
		}
	}
	if rep == nil {
		return DownloadResult{Result: fail(fmt.Sprintf("report body not found: %s", entry.ReportID))}
	}

	data, err := export.Export(rep, format)
	if err != nil {
		return DownloadResult{Result: fail(err.Error())}
	}
	return DownloadResult{
		Result:      ok(),
		Data:        data,
		ContentType: export.ContentType(format),
		Filename:    fmt.Sprintf("%s.%s", entry.ReportID, format),
	}
}

// CleanupOldReports evicts generated reports whose RetainUntil deadline has
// passed, report bodies included. The deadline is fixed when the report is
// cataloged, so a later retention change never re-dooms existing entries.
// The sweep is idempotent.
func (s *Service) CleanupOldReports() CleanupResult {
	now := s.now()

	s.mutex.Lock()
	kept := s.generated[:0]
	deleted := 0
	for _, gr := range s.generated {
		if !gr.RetainUntil.After(now) {
			delete(s.reports, gr.ReportID)
			deleted++
			continue
		}
		kept = append(kept, gr)
	}
	s.generated = kept
	s.mutex.Unlock()

	if s.store != nil {
		if _, err := s.store.DeleteExpiredGenerated(now); err != nil {
			log.Printf("Failed to prune stored reports: %v", err)
		}
	}
	return CleanupResult{Result: ok(), DeletedCount: deleted}
}

// ReportCompleted implements scheduler.Sink: it catalogs the report and
// fans it out to the job's distribution channels.
func (s *Service) ReportCompleted(job *models.Job, run *models.Run, rep *models.Report) {
	now := s.now()
	gr := &models.GeneratedReport{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		JobName:     job.Name,
		TemplateID:  job.TemplateID,
		RunID:       run.ID,
		ReportID:    rep.ID,
		Status:      rep.Status,
		GeneratedAt: now,
		RetainUntil: now.Add(s.retention),
	}
	gr.DownloadURL = fmt.Sprintf("/api/v1/reports/generated/%s/download", gr.ID)

	s.mutex.Lock()
	s.reports[rep.ID] = rep
	s.generated = append(s.generated, gr)
	s.mutex.Unlock()

	if s.store != nil {
		if err := s.store.SaveGeneratedReport(gr, rep); err != nil {
			log.Printf("Failed to persist report %s: %v", rep.ID, err)
		}
	}
	s.persistJob(job.ID)

	if s.dispatcher != nil && len(job.Distribution) > 0 {
		s.dispatcher.Dispatch(gr, rep, job.Distribution)
	}
}

// persistJob snapshots a job into the store, best effort.
func (s *Service) persistJob(id string) {
	if s.store == nil {
		return
	}
	job, err := s.sched.Job(id)
	if err != nil {
		return
	}
	if err := s.store.SaveJob(job); err != nil {
		log.Printf("Failed to persist job %s: %v", id, err)
	}
}
