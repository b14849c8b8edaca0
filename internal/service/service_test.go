package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/reportforge/internal/datasource"
	"github.com/reportforge/internal/models"
	"github.com/reportforge/internal/scheduler"
	"github.com/reportforge/internal/store"
)

func newTestService(t *testing.T, retention time.Duration) *Service {
	t.Helper()
	registry := datasource.NewRegistry()
	require.NoError(t, datasource.RegisterBuiltins(registry))
	return New(Options{
		Registry:      registry,
		MaxConcurrent: 2,
		TickInterval:  time.Hour,
		Retention:     retention,
	})
}

func createTemplate(t *testing.T, svc *Service) *models.ReportTemplate {
	t.Helper()
	result := svc.CreateTemplate(TemplateSpec{
		Name: "Usage by region",
		Sections: []models.TemplateSection{{
			Title:        "Requests",
			DataSourceID: "usage_metrics",
			Transformations: []models.Transformation{{
				Type:  "group",
				Field: "region",
				Aggregations: []models.Aggregation{
					{Name: "total", Type: "sum", Field: "requests"},
				},
			}},
		}},
	})
	require.True(t, result.Success, result.Error)
	return result.Template
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// runToCompletion creates a one-shot job for the template, runs it and waits
// for the run to finish.
func runToCompletion(t *testing.T, svc *Service, templateID string) *models.Job {
	t.Helper()
	created := svc.CreateJob(JobSpec{Name: "adhoc", TemplateID: templateID})
	require.True(t, created.Success, created.Error)

	run := svc.RunJob(created.Job.ID)
	require.True(t, run.Success, run.Error)

	svc.Scheduler().Tick()
	waitFor(t, func() bool {
		details := svc.GetJobDetails(created.Job.ID)
		return details.Success && details.Job.Status == models.JobStatusCompleted
	}, "job completion")

	return svc.GetJobDetails(created.Job.ID).Job
}

func TestRegisterDataSourceValidation(t *testing.T) {
	svc := newTestService(t, 0)

	result := svc.RegisterDataSource(&models.DataSource{ID: "x"})
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)

	result = svc.RegisterDataSource(&models.DataSource{
		ID:   "custom",
		Name: "Custom",
		Fetch: func(ctx context.Context, filters map[string]interface{}) ([]models.Record, error) {
			return nil, nil
		},
	})
	assert.True(t, result.Success)
	assert.Equal(t, "custom", result.ID)
}

func TestCreateTemplateValidation(t *testing.T) {
	svc := newTestService(t, 0)

	result := svc.CreateTemplate(TemplateSpec{Name: "empty"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "at least one section")

	result = svc.CreateTemplate(TemplateSpec{
		Name: "bad source",
		Sections: []models.TemplateSection{{
			Title:        "S",
			DataSourceID: "does_not_exist",
		}},
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown data source")

	result = svc.CreateTemplate(TemplateSpec{
		Name: "bad schedule",
		Sections: []models.TemplateSection{{
			Title:        "S",
			DataSourceID: "usage_metrics",
		}},
		Schedule: &models.Schedule{Type: "yearly"},
	})
	assert.False(t, result.Success)
}

func TestCreateJobValidation(t *testing.T) {
	svc := newTestService(t, 0)

	result := svc.CreateJob(JobSpec{Name: "orphan", TemplateID: "missing"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "template not found")

	tmpl := createTemplate(t, svc)
	result = svc.CreateJob(JobSpec{TemplateID: tmpl.ID})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "name is required")
}

func TestCreateScheduledJob(t *testing.T) {
	svc := newTestService(t, 0)
	tmpl := createTemplate(t, svc)

	result := svc.CreateJob(JobSpec{
		Name:       "nightly",
		TemplateID: tmpl.ID,
		Schedule:   &models.Schedule{Type: models.ScheduleDaily, Time: "02:00"},
	})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, models.JobStatusScheduled, result.Job.Status)
	require.NotNil(t, result.Job.NextRunAt)
	assert.True(t, result.Job.NextRunAt.After(time.Now()))
}

func TestRunJobProducesCatalogEntry(t *testing.T) {
	svc := newTestService(t, 0)
	tmpl := createTemplate(t, svc)
	job := runToCompletion(t, svc, tmpl.ID)

	require.Len(t, job.Runs, 1)
	assert.Equal(t, models.RunStatusCompleted, job.Runs[0].Status)

	list := svc.GetGeneratedReports(GeneratedFilter{JobID: job.ID})
	require.True(t, list.Success)
	require.Len(t, list.Reports, 1)

	entry := list.Reports[0]
	assert.Equal(t, tmpl.ID, entry.TemplateID)
	assert.Equal(t, job.Runs[0].ReportID, entry.ReportID)
	assert.NotEmpty(t, entry.DownloadURL)
	assert.True(t, entry.RetainUntil.After(entry.GeneratedAt))
}

func TestGeneratedReportsFilterAndOrder(t *testing.T) {
	svc := newTestService(t, 0)
	tmpl := createTemplate(t, svc)

	first := runToCompletion(t, svc, tmpl.ID)
	second := runToCompletion(t, svc, tmpl.ID)

	all := svc.GetGeneratedReports(GeneratedFilter{})
	require.Len(t, all.Reports, 2)
	// Newest first.
	assert.False(t, all.Reports[0].GeneratedAt.Before(all.Reports[1].GeneratedAt))

	byJob := svc.GetGeneratedReports(GeneratedFilter{JobID: first.ID})
	require.Len(t, byJob.Reports, 1)
	assert.Equal(t, first.ID, byJob.Reports[0].JobID)

	byJob = svc.GetGeneratedReports(GeneratedFilter{JobID: second.ID})
	require.Len(t, byJob.Reports, 1)

	none := svc.GetGeneratedReports(GeneratedFilter{TemplateID: "other"})
	assert.Empty(t, none.Reports)
}

func TestDownloadReport(t *testing.T) {
	svc := newTestService(t, 0)
	tmpl := createTemplate(t, svc)
	job := runToCompletion(t, svc, tmpl.ID)

	list := svc.GetGeneratedReports(GeneratedFilter{JobID: job.ID})
	require.Len(t, list.Reports, 1)
	id := list.Reports[0].ID

	download := svc.DownloadReport(id, "json")
	require.True(t, download.Success, download.Error)
	assert.Equal(t, "application/json", download.ContentType)

	var rep models.Report
	require.NoError(t, json.Unmarshal(download.Data, &rep))
	assert.Equal(t, tmpl.ID, rep.TemplateID)
	require.Len(t, rep.Sections, 1)
	assert.NotEmpty(t, rep.Sections[0].Data)

	csv := svc.DownloadReport(id, "csv")
	require.True(t, csv.Success)
	assert.Contains(t, string(csv.Data), "# Requests")

	missing := svc.DownloadReport("ghost", "json")
	assert.False(t, missing.Success)

	bad := svc.DownloadReport(id, "xlsx")
	assert.False(t, bad.Success)
}

func TestCleanupOldReports(t *testing.T) {
	// A one-nanosecond window means every existing entry is already expired.
	svc := newTestService(t, time.Nanosecond)
	tmpl := createTemplate(t, svc)

	runToCompletion(t, svc, tmpl.ID)
	runToCompletion(t, svc, tmpl.ID)
	require.Len(t, svc.GetGeneratedReports(GeneratedFilter{}).Reports, 2)

	result := svc.CleanupOldReports()
	require.True(t, result.Success)
	assert.Equal(t, 2, result.DeletedCount)
	assert.Empty(t, svc.GetGeneratedReports(GeneratedFilter{}).Reports)

	// Idempotent: a second sweep deletes nothing.
	again := svc.CleanupOldReports()
	require.True(t, again.Success)
	assert.Zero(t, again.DeletedCount)
}

func TestCancelJobEnvelope(t *testing.T) {
	svc := newTestService(t, 0)
	tmpl := createTemplate(t, svc)

	created := svc.CreateJob(JobSpec{Name: "cancellable", TemplateID: tmpl.ID})
	require.True(t, created.Success)

	// Queue it but never tick, then cancel.
	run := svc.RunJob(created.Job.ID)
	require.True(t, run.Success)
	assert.Equal(t, models.JobStatusQueued, run.Job.Status)

	cancelled := svc.CancelJob(created.Job.ID)
	require.True(t, cancelled.Success)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Job.Status)

	// Cancelling again is a no-op success.
	again := svc.CancelJob(created.Job.ID)
	require.True(t, again.Success)
	assert.Equal(t, models.JobStatusCancelled, again.Job.Status)

	unknown := svc.CancelJob("nope")
	assert.False(t, unknown.Success)
}

func TestUpdateJobRecomputesSchedule(t *testing.T) {
	svc := newTestService(t, 0)
	tmpl := createTemplate(t, svc)

	created := svc.CreateJob(JobSpec{Name: "mutable", TemplateID: tmpl.ID})
	require.True(t, created.Success)
	assert.Nil(t, created.Job.NextRunAt)

	sched := &models.Schedule{Type: models.ScheduleHourly, Interval: 2}
	updated := svc.UpdateJob(created.Job.ID, scheduler.JobUpdate{Schedule: &sched})
	require.True(t, updated.Success, updated.Error)
	assert.Equal(t, models.JobStatusScheduled, updated.Job.Status)
	require.NotNil(t, updated.Job.NextRunAt)

	bad := &models.Schedule{Type: models.ScheduleCron, Expression: "nope"}
	rejected := svc.UpdateJob(created.Job.ID, scheduler.JobUpdate{Schedule: &bad})
	assert.False(t, rejected.Success)
}

func TestLoadStatePreservesJobLifecycle(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&mode=memory"), &gorm.Config{})
	require.NoError(t, err)
	st, err := store.New(db)
	require.NoError(t, err)

	registry := datasource.NewRegistry()
	require.NoError(t, datasource.RegisterBuiltins(registry))
	opts := Options{
		Registry:      registry,
		Store:         st,
		MaxConcurrent: 2,
		TickInterval:  time.Hour,
	}

	svc := New(opts)
	tmpl := createTemplate(t, svc)
	completed := runToCompletion(t, svc, tmpl.ID)

	// A cancelled recurring job must stay dead across restarts.
	recurring := svc.CreateJob(JobSpec{
		Name:       "recurring",
		TemplateID: tmpl.ID,
		Schedule:   &models.Schedule{Type: models.ScheduleHourly},
	})
	require.True(t, recurring.Success, recurring.Error)
	require.True(t, svc.RunJob(recurring.Job.ID).Success)
	cancelled := svc.CancelJob(recurring.Job.ID)
	require.True(t, cancelled.Success)
	require.Equal(t, models.JobStatusCancelled, cancelled.Job.Status)

	// A job still queued at shutdown restarts from scratch.
	queued := svc.CreateJob(JobSpec{Name: "queued", TemplateID: tmpl.ID})
	require.True(t, queued.Success)
	require.True(t, svc.RunJob(queued.Job.ID).Success)

	restored := New(opts)
	require.NoError(t, restored.LoadState())

	got := restored.GetJobDetails(completed.ID)
	require.True(t, got.Success, got.Error)
	assert.Equal(t, models.JobStatusCompleted, got.Job.Status)

	got = restored.GetJobDetails(recurring.Job.ID)
	require.True(t, got.Success, got.Error)
	assert.Equal(t, models.JobStatusCancelled, got.Job.Status)
	assert.NotNil(t, got.Job.Schedule)

	got = restored.GetJobDetails(queued.Job.ID)
	require.True(t, got.Success, got.Error)
	assert.Equal(t, models.JobStatusPending, got.Job.Status)

	// The cancelled job is never promoted by later ticks.
	restored.Scheduler().Tick()
	got = restored.GetJobDetails(recurring.Job.ID)
	assert.Equal(t, models.JobStatusCancelled, got.Job.Status)
	assert.Empty(t, got.Job.Runs)
}

func TestGetJobsEnvelope(t *testing.T) {
	svc := newTestService(t, 0)
	tmpl := createTemplate(t, svc)

	for i := 0; i < 3; i++ {
		created := svc.CreateJob(JobSpec{
			Name:       fmt.Sprintf("job-%d", i),
			TemplateID: tmpl.ID,
			Tags:       []string{"batch"},
		})
		require.True(t, created.Success)
	}

	list := svc.GetJobs(scheduler.JobFilter{Tag: "batch"})
	require.True(t, list.Success)
	assert.Len(t, list.Jobs, 3)

	pending := svc.GetJobs(scheduler.JobFilter{Status: models.JobStatusPending})
	assert.Len(t, pending.Jobs, 3)
}
