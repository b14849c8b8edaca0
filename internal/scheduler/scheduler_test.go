package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportforge/internal/models"
)

// fakeGenerator tracks concurrent executions and can block, fail or panic.
type fakeGenerator struct {
	mutex   sync.Mutex
	current int
	peak    int
	calls   int

	block    chan struct{} // when set, Generate waits on it
	err      error
	panicMsg string
}

func (g *fakeGenerator) Generate(ctx context.Context, templateID string, params map[string]interface{}) (*models.Report, error) {
	g.mutex.Lock()
	g.calls++
	g.current++
	if g.current > g.peak {
		g.peak = g.current
	}
	block := g.block
	g.mutex.Unlock()

	if block != nil {
		<-block
	}

	g.mutex.Lock()
	g.current--
	g.mutex.Unlock()

	if g.panicMsg != "" {
		panic(g.panicMsg)
	}
	if g.err != nil {
		return nil, g.err
	}
	return &models.Report{
		ID:         uuid.NewString(),
		TemplateID: templateID,
		Status:     models.ReportStatusCompleted,
	}, nil
}

func (g *fakeGenerator) Peak() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.peak
}

func (g *fakeGenerator) Calls() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.calls
}

// recordingSink captures completed reports.
type recordingSink struct {
	mutex   sync.Mutex
	reports []*models.Report
	jobs    []*models.Job
}

func (s *recordingSink) ReportCompleted(job *models.Job, run *models.Run, rep *models.Report) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.reports = append(s.reports, rep)
	s.jobs = append(s.jobs, job)
}

func (s *recordingSink) Count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.reports)
}

func newJob(name string, sched *models.Schedule) *models.Job {
	return &models.Job{
		ID:         uuid.NewString(),
		Name:       name,
		TemplateID: "tmpl",
		Schedule:   sched,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
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

func TestOneShotJobLifecycle(t *testing.T) {
	gen := &fakeGenerator{}
	sink := &recordingSink{}
	s := NewScheduler(gen, sink, 2, time.Hour)

	job := newJob("one-shot", nil)
	require.NoError(t, s.AddJob(job))

	// Without a schedule the job waits for an explicit run.
	got, err := s.Job(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Nil(t, got.NextRunAt)

	_, err = s.RunNow(job.ID)
	require.NoError(t, err)
	got, _ = s.Job(job.ID)
	assert.Equal(t, models.JobStatusQueued, got.Status)

	s.Tick()
	waitFor(t, func() bool {
		got, _ := s.Job(job.ID)
		return got.Status == models.JobStatusCompleted
	}, "job completion")

	got, _ = s.Job(job.ID)
	require.Len(t, got.Runs, 1)
	run := got.Runs[0]
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.NotEmpty(t, run.ReportID)
	assert.NotNil(t, run.EndTime)
	assert.NotNil(t, got.LastRunAt)
	assert.Equal(t, 1, sink.Count())
}

func TestConcurrencyCapNeverExceeded(t *testing.T) {
	const maxConcurrent = 3
	gen := &fakeGenerator{block: make(chan struct{})}
	s := NewScheduler(gen, nil, maxConcurrent, time.Hour)

	var ids []string
	for i := 0; i < maxConcurrent+5; i++ {
		job := newJob(fmt.Sprintf("job-%d", i), nil)
		require.NoError(t, s.AddJob(job))
		_, err := s.RunNow(job.ID)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	s.Tick()
	waitFor(t, func() bool { return s.ActiveJobs() == maxConcurrent && gen.Calls() >= maxConcurrent }, "workers to start")
	assert.Equal(t, maxConcurrent, gen.Peak())
	assert.Equal(t, 5, s.QueueLength())

	// Extra ticks while saturated must not start more work.
	s.Tick()
	s.Tick()
	assert.Equal(t, maxConcurrent, gen.Peak())

	close(gen.block)
	waitFor(t, func() bool { return s.ActiveJobs() == 0 }, "first wave to finish")

	// Drain the remainder.
	for i := 0; i < 4; i++ {
		s.Tick()
		waitFor(t, func() bool { return s.ActiveJobs() == 0 }, "wave to finish")
	}

	assert.LessOrEqual(t, gen.Peak(), maxConcurrent)
	assert.Equal(t, maxConcurrent+5, gen.Calls())
	for _, id := range ids {
		job, err := s.Job(id)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCompleted, job.Status)
	}
}

func TestScheduledJobPromotedWhenDue(t *testing.T) {
	gen := &fakeGenerator{}
	s := NewScheduler(gen, nil, 2, time.Hour)

	job := newJob("recurring", &models.Schedule{Type: models.ScheduleHourly})
	require.NoError(t, s.AddJob(job))

	got, _ := s.Job(job.ID)
	assert.Equal(t, models.JobStatusScheduled, got.Status)
	require.NotNil(t, got.NextRunAt)
	firstNext := *got.NextRunAt

	// Not due yet: a tick changes nothing.
	s.Tick()
	got, _ = s.Job(job.ID)
	assert.Equal(t, models.JobStatusScheduled, got.Status)
	assert.Zero(t, gen.Calls())

	// Move the clock past nextRunAt.
	s.now = func() time.Time { return firstNext.Add(time.Second) }
	s.Tick()
	waitFor(t, func() bool {
		got, _ := s.Job(job.ID)
		return got.Status == models.JobStatusScheduled && len(got.Runs) == 1
	}, "run to finish and job to reschedule")

	got, _ = s.Job(job.ID)
	assert.Equal(t, models.RunStatusCompleted, got.Runs[0].Status)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(firstNext))
}

func TestFailedRunOneShotFailsJob(t *testing.T) {
	gen := &fakeGenerator{err: fmt.Errorf("generation blew up")}
	s := NewScheduler(gen, nil, 1, time.Hour)

	job := newJob("doomed", nil)
	require.NoError(t, s.AddJob(job))
	_, err := s.RunNow(job.ID)
	require.NoError(t, err)
	s.Tick()

	waitFor(t, func() bool {
		got, _ := s.Job(job.ID)
		return got.Status == models.JobStatusFailed
	}, "job failure")

	got, _ := s.Job(job.ID)
	require.Len(t, got.Runs, 1)
	assert.Equal(t, models.RunStatusFailed, got.Runs[0].Status)
	assert.Contains(t, got.Runs[0].Error, "generation blew up")
	assert.Empty(t, got.Runs[0].ReportID)
}

func TestFailedRunRecurringJobReschedules(t *testing.T) {
	gen := &fakeGenerator{err: fmt.Errorf("flaky upstream")}
	s := NewScheduler(gen, nil, 1, time.Hour)

	job := newJob("retry-later", &models.Schedule{Type: models.ScheduleHourly})
	require.NoError(t, s.AddJob(job))
	_, err := s.RunNow(job.ID)
	require.NoError(t, err)
	s.Tick()

	waitFor(t, func() bool {
		got, _ := s.Job(job.ID)
		return len(got.Runs) == 1 && got.Runs[0].Status == models.RunStatusFailed
	}, "failed run")

	got, _ := s.Job(job.ID)
	assert.Equal(t, models.JobStatusScheduled, got.Status)
	assert.NotNil(t, got.NextRunAt)
}

func TestPanickingGeneratorReleasesSlot(t *testing.T) {
	gen := &fakeGenerator{panicMsg: "worker exploded"}
	s := NewScheduler(gen, nil, 1, time.Hour)

	job := newJob("panicky", nil)
	require.NoError(t, s.AddJob(job))
	_, err := s.RunNow(job.ID)
	require.NoError(t, err)
	s.Tick()

	waitFor(t, func() bool {
		got, _ := s.Job(job.ID)
		return got.Status == models.JobStatusFailed
	}, "job failure after panic")

	got, _ := s.Job(job.ID)
	assert.Contains(t, got.Runs[0].Error, "worker exploded")

	// The slot must be free again: a second job runs fine.
	gen.panicMsg = ""
	other := newJob("after", nil)
	require.NoError(t, s.AddJob(other))
	_, err = s.RunNow(other.ID)
	require.NoError(t, err)
	s.Tick()
	waitFor(t, func() bool {
		got, _ := s.Job(other.ID)
		return got.Status == models.JobStatusCompleted
	}, "next job to run")
}

func TestCancelQueuedJob(t *testing.T) {
	gen := &fakeGenerator{}
	s := NewScheduler(gen, nil, 1, time.Hour)

	job := newJob("cancel-me", nil)
	require.NoError(t, s.AddJob(job))
	_, err := s.RunNow(job.ID)
	require.NoError(t, err)

	cancelled, err := s.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)

	// A later tick never picks the cancelled job up.
	s.Tick()
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, gen.Calls())
	got, _ := s.Job(job.ID)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.Empty(t, got.Runs)
}

func TestCancelRunningJobIsNoOp(t *testing.T) {
	gen := &fakeGenerator{block: make(chan struct{})}
	s := NewScheduler(gen, nil, 1, time.Hour)

	job := newJob("in-flight", nil)
	require.NoError(t, s.AddJob(job))
	_, err := s.RunNow(job.ID)
	require.NoError(t, err)
	s.Tick()
	waitFor(t, func() bool { return s.ActiveJobs() == 1 }, "job to start")

	// Cancelling a running job does not stop its run.
	got, err := s.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)

	close(gen.block)
	waitFor(t, func() bool {
		got, _ := s.Job(job.ID)
		return got.Status == models.JobStatusCompleted
	}, "run to complete normally")
}

func TestCancelUnknownJob(t *testing.T) {
	s := NewScheduler(&fakeGenerator{}, nil, 1, time.Hour)
	_, err := s.Cancel("nope")
	assert.Error(t, err)
}

func TestUpdateJobScheduleRecomputesNextRun(t *testing.T) {
	gen := &fakeGenerator{}
	s := NewScheduler(gen, nil, 1, time.Hour)

	job := newJob("updatable", nil)
	require.NoError(t, s.AddJob(job))

	sched := &models.Schedule{Type: models.ScheduleDaily}
	updated, err := s.Update(job.ID, JobUpdate{Schedule: &sched})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusScheduled, updated.Status)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(time.Now()))

	// Clearing the schedule makes it a one-shot again.
	var none *models.Schedule
	updated, err = s.Update(job.ID, JobUpdate{Schedule: &none})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, updated.Status)
	assert.Nil(t, updated.NextRunAt)
}

func TestRestoreJobKeepsTerminalStatus(t *testing.T) {
	gen := &fakeGenerator{}
	s := NewScheduler(gen, nil, 2, time.Hour)

	done := newJob("done", nil)
	done.Status = models.JobStatusCompleted
	failed := newJob("failed", nil)
	failed.Status = models.JobStatusFailed
	cancelled := newJob("cancelled", &models.Schedule{Type: models.ScheduleHourly})
	cancelled.Status = models.JobStatusCancelled

	require.NoError(t, s.RestoreJob(done))
	require.NoError(t, s.RestoreJob(failed))
	require.NoError(t, s.RestoreJob(cancelled))

	got, _ := s.Job(done.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	got, _ = s.Job(failed.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	got, _ = s.Job(cancelled.ID)
	assert.Equal(t, models.JobStatusCancelled, got.Status)

	// A cancelled recurring job stays dead: ticks never pick it up again.
	s.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	s.Tick()
	s.Tick()
	assert.Zero(t, gen.Calls())
	got, _ = s.Job(cancelled.ID)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
}

func TestRestoreJobRestartsInterrupted(t *testing.T) {
	s := NewScheduler(&fakeGenerator{}, nil, 2, time.Hour)

	// A one-shot caught mid-run goes back to pending; its run is lost.
	interrupted := newJob("interrupted", nil)
	interrupted.Status = models.JobStatusRunning
	require.NoError(t, s.RestoreJob(interrupted))
	got, _ := s.Job(interrupted.ID)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Nil(t, got.NextRunAt)

	// A recurring job that was queued becomes scheduled again.
	queued := newJob("queued", &models.Schedule{Type: models.ScheduleHourly})
	queued.Status = models.JobStatusQueued
	require.NoError(t, s.RestoreJob(queued))
	got, _ = s.Job(queued.ID)
	assert.Equal(t, models.JobStatusScheduled, got.Status)
	require.NotNil(t, got.NextRunAt)

	// A scheduled job keeps its persisted nextRunAt.
	next := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	scheduled := newJob("scheduled", &models.Schedule{Type: models.ScheduleHourly})
	scheduled.Status = models.JobStatusScheduled
	scheduled.NextRunAt = &next
	require.NoError(t, s.RestoreJob(scheduled))
	got, _ = s.Job(scheduled.ID)
	assert.Equal(t, models.JobStatusScheduled, got.Status)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(next))
}

func TestJobUpdateJSONDistinguishesNullSchedule(t *testing.T) {
	// Absent: no change to the schedule.
	var absent JobUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"name": "renamed"}`), &absent))
	require.NotNil(t, absent.Name)
	assert.Equal(t, "renamed", *absent.Name)
	assert.Nil(t, absent.Schedule)

	// Present but null: clears the recurrence.
	var cleared JobUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"schedule": null}`), &cleared))
	require.NotNil(t, cleared.Schedule)
	assert.Nil(t, *cleared.Schedule)

	// Present with a value: replaces the recurrence.
	var replaced JobUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"schedule": {"type": "daily", "time": "04:30"}}`), &replaced))
	require.NotNil(t, replaced.Schedule)
	require.NotNil(t, *replaced.Schedule)
	assert.Equal(t, models.ScheduleDaily, (*replaced.Schedule).Type)

	// The cleared form actually turns a recurring job back into a one-shot.
	s := NewScheduler(&fakeGenerator{}, nil, 1, time.Hour)
	job := newJob("recurring", &models.Schedule{Type: models.ScheduleHourly})
	require.NoError(t, s.AddJob(job))
	updated, err := s.Update(job.ID, cleared)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, updated.Status)
	assert.Nil(t, updated.Schedule)
	assert.Nil(t, updated.NextRunAt)
}

func TestJobsFilterAndOrder(t *testing.T) {
	s := NewScheduler(&fakeGenerator{}, nil, 1, time.Hour)

	older := newJob("older", nil)
	older.CreatedAt = time.Now().Add(-time.Hour)
	older.Tags = []string{"nightly"}
	newer := newJob("newer", &models.Schedule{Type: models.ScheduleHourly})
	newer.TemplateID = "other-tmpl"

	require.NoError(t, s.AddJob(older))
	require.NoError(t, s.AddJob(newer))

	all := s.Jobs(JobFilter{})
	require.Len(t, all, 2)
	assert.Equal(t, "newer", all[0].Name)
	assert.Equal(t, "older", all[1].Name)

	byStatus := s.Jobs(JobFilter{Status: models.JobStatusScheduled})
	require.Len(t, byStatus, 1)
	assert.Equal(t, "newer", byStatus[0].Name)

	byTag := s.Jobs(JobFilter{Tag: "nightly"})
	require.Len(t, byTag, 1)
	assert.Equal(t, "older", byTag[0].Name)

	byTemplate := s.Jobs(JobFilter{TemplateID: "other-tmpl"})
	require.Len(t, byTemplate, 1)
	assert.Equal(t, "newer", byTemplate[0].Name)
}

func TestStartStop(t *testing.T) {
	gen := &fakeGenerator{}
	s := NewScheduler(gen, nil, 1, 10*time.Millisecond)

	job := newJob("ticked", nil)
	require.NoError(t, s.AddJob(job))
	_, err := s.RunNow(job.ID)
	require.NoError(t, err)

	s.Start()
	waitFor(t, func() bool {
		got, _ := s.Job(job.ID)
		return got.Status == models.JobStatusCompleted
	}, "ticker to run the job")
	s.Stop()
}
