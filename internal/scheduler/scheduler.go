package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/reportforge/internal/models"
	"github.com/reportforge/internal/schedule"
)

const (
	DefaultTickInterval      = 5 * time.Second
	DefaultMaxConcurrentJobs = 4
)

// Generator produces a report for a template and runtime parameters. The
// report engine implements it.
type Generator interface {
	Generate(ctx context.Context, templateID string, params map[string]interface{}) (*models.Report, error)
}

// Sink receives each successfully generated report together with the job and
// run that produced it. Implementations catalog and distribute the report;
// they are called outside the scheduler's lock.
type Sink interface {
	ReportCompleted(job *models.Job, run *models.Run, rep *models.Report)
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status     models.JobStatus
	TemplateID string
	Tag        string
}

// JobUpdate carries the fields of an update; nil fields are left unchanged.
// Schedule is doubly indirect so a present-but-null schedule clears the
// recurrence while an absent one leaves it alone.
type JobUpdate struct {
	Name         *string                `json:"name,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	Schedule     **models.Schedule      `json:"schedule,omitempty"`
	Distribution []models.Distribution  `json:"distribution,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
}

// UnmarshalJSON keeps "schedule": null distinct from an absent schedule.
// encoding/json would otherwise leave the outer pointer nil for both.
func (u *JobUpdate) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name         *string                `json:"name"`
		Parameters   map[string]interface{} `json:"parameters"`
		Schedule     json.RawMessage        `json:"schedule"`
		Distribution []models.Distribution  `json:"distribution"`
		Tags         []string               `json:"tags"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.Name = raw.Name
	u.Parameters = raw.Parameters
	u.Distribution = raw.Distribution
	u.Tags = raw.Tags
	u.Schedule = nil
	if len(raw.Schedule) == 0 {
		return nil
	}
	var sched *models.Schedule
	if string(raw.Schedule) != "null" {
		sched = &models.Schedule{}
		if err := json.Unmarshal(raw.Schedule, sched); err != nil {
			return err
		}
	}
	u.Schedule = &sched
	return nil
}

// Scheduler owns all job and run state. Every mutation happens under one
// mutex, so the job table has a single writer at any instant; generations
// run as independent goroutines and report back through the same lock.
type Scheduler struct {
	generator Generator
	sink      Sink

	mutex sync.Mutex
	jobs  map[string]*models.Job
	queue []string

	sem           *semaphore.Weighted
	active        int
	maxConcurrent int

	tickInterval time.Duration
	stopChan     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup

	now func() time.Time
}

func NewScheduler(generator Generator, sink Sink, maxConcurrent int, tickInterval time.Duration) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	return &Scheduler{
		generator:     generator,
		sink:          sink,
		jobs:          make(map[string]*models.Job),
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		maxConcurrent: maxConcurrent,
		tickInterval:  tickInterval,
		stopChan:      make(chan struct{}),
		now:           time.Now,
	}
}

// Start runs the tick loop until Stop is called.
func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.tickInterval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Tick()
			case <-s.stopChan:
				return
			}
		}
	}()
}

// Stop halts the tick loop. In-flight generations finish on their own.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

// Tick promotes due scheduled jobs into the queue, then drains the queue up
// to the concurrency cap.
func (s *Scheduler) Tick() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.promote()
	s.drain()
}

// promote moves every scheduled job whose nextRunAt has passed into the
// queue and advances its nextRunAt to the following occurrence. Caller holds
// the mutex.
func (s *Scheduler) promote() {
	now := s.now()
	for _, job := range s.jobs {
		if job.Status != models.JobStatusScheduled || job.NextRunAt == nil {
			continue
		}
		if job.NextRunAt.After(now) {
			continue
		}
		job.Status = models.JobStatusQueued
		next, err := schedule.NextRun(job.Schedule, now)
		if err != nil {
			log.Printf("Failed to compute next run for job %s: %v", job.ID, err)
			job.NextRunAt = nil
		} else {
			job.NextRunAt = &next
		}
		s.queue = append(s.queue, job.ID)
	}
}

// drain starts queued jobs while capacity is available. Caller holds the
// mutex.
func (s *Scheduler) drain() {
	for len(s.queue) > 0 && s.sem.TryAcquire(1) {
		id := s.queue[0]
		s.queue = s.queue[1:]

		job, ok := s.jobs[id]
		if !ok || job.Status != models.JobStatusQueued {
			s.sem.Release(1)
			continue
		}

		job.Status = models.JobStatusRunning
		s.active++

		run := &models.Run{
			ID:        uuid.NewString(),
			Status:    models.RunStatusRunning,
			StartTime: s.now(),
		}
		job.Runs = append(job.Runs, run)

		go s.execute(job.ID, run.ID, job.TemplateID, copyParams(job.Parameters))
	}
}

// execute performs one run. The semaphore slot is released on every path,
// including a panicking generator.
func (s *Scheduler) execute(jobID, runID, templateID string, params map[string]interface{}) {
	defer s.sem.Release(1)

	rep, err := s.safeGenerate(templateID, params)

	s.mutex.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.active--
		s.mutex.Unlock()
		return
	}

	now := s.now()
	run := findRun(job, runID)
	if run != nil {
		run.EndTime = &now
		if err != nil {
			run.Status = models.RunStatusFailed
			run.Error = err.Error()
		} else {
			run.Status = models.RunStatusCompleted
			run.ReportID = rep.ID
		}
	}

	job.LastRunAt = &now
	job.UpdatedAt = now
	s.active--

	if job.Schedule != nil {
		next, nerr := schedule.NextRun(job.Schedule, now)
		if nerr != nil {
			log.Printf("Failed to reschedule job %s: %v", job.ID, nerr)
			job.Status = models.JobStatusFailed
			job.NextRunAt = nil
		} else {
			job.Status = models.JobStatusScheduled
			job.NextRunAt = &next
		}
	} else if err != nil {
		job.Status = models.JobStatusFailed
	} else {
		job.Status = models.JobStatusCompleted
	}

	jobCopy := copyJob(job)
	var runCopy *models.Run
	if run != nil {
		r := *run
		runCopy = &r
	}
	s.mutex.Unlock()

	if err != nil {
		log.Printf("Job %s run %s failed: %v", jobID, runID, err)
		return
	}
	if s.sink != nil && runCopy != nil {
		s.sink.ReportCompleted(jobCopy, runCopy, rep)
	}
}

// safeGenerate shields the tick loop and sibling jobs from a panicking
// generation.
func (s *Scheduler) safeGenerate(templateID string, params map[string]interface{}) (rep *models.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("report generation panicked: %v", r)
		}
	}()
	return s.generator.Generate(context.Background(), templateID, params)
}

// AddJob registers a job with the scheduler. Jobs with a schedule become
// scheduled with a computed nextRunAt; one-shot jobs stay pending until
// RunNow.
func (s *Scheduler) AddJob(job *models.Job) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job already exists: %s", job.ID)
	}

	job.Status = models.JobStatusPending
	if job.Schedule != nil {
		next, err := schedule.NextRun(job.Schedule, s.now())
		if err != nil {
			return fmt.Errorf("failed to compute next run: %v", err)
		}
		job.Status = models.JobStatusScheduled
		job.NextRunAt = &next
	}
	s.jobs[job.ID] = job
	return nil
}

// RestoreJob reinstates a persisted job without resetting its lifecycle.
// Terminal jobs (completed, failed, cancelled) keep their status; jobs that
// were queued or running at shutdown restart as pending or scheduled, since
// an interrupted run is not resumed. A scheduled job keeps its persisted
// nextRunAt so a missed run fires at the next tick.
func (s *Scheduler) RestoreJob(job *models.Job) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job already exists: %s", job.ID)
	}

	switch job.Status {
	case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
	case models.JobStatusScheduled:
		if job.Schedule == nil {
			job.Status = models.JobStatusPending
			job.NextRunAt = nil
			break
		}
		if job.NextRunAt == nil {
			next, err := schedule.NextRun(job.Schedule, s.now())
			if err != nil {
				return fmt.Errorf("failed to compute next run: %v", err)
			}
			job.NextRunAt = &next
		}
	default:
		job.Status = models.JobStatusPending
		job.NextRunAt = nil
		if job.Schedule != nil {
			next, err := schedule.NextRun(job.Schedule, s.now())
			if err != nil {
				return fmt.Errorf("failed to compute next run: %v", err)
			}
			job.Status = models.JobStatusScheduled
			job.NextRunAt = &next
		}
	}
	s.jobs[job.ID] = job
	return nil
}

// RunNow enqueues a job immediately, regardless of its schedule.
func (s *Scheduler) RunNow(id string) (*models.Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	switch job.Status {
	case models.JobStatusQueued, models.JobStatusRunning:
		return copyJob(job), nil
	}

	job.Status = models.JobStatusQueued
	job.UpdatedAt = s.now()
	s.queue = append(s.queue, job.ID)
	return copyJob(job), nil
}

// Cancel removes a queued job from the queue. Cancelling a job in any other
// state, including running, is a no-op: an in-flight generation cannot be
// stopped.
func (s *Scheduler) Cancel(id string) (*models.Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	if job.Status == models.JobStatusQueued {
		job.Status = models.JobStatusCancelled
		job.UpdatedAt = s.now()
		for i, queued := range s.queue {
			if queued == id {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				break
			}
		}
	}
	return copyJob(job), nil
}

// Update applies partial changes to a job. A schedule change recomputes
// nextRunAt; clearing the schedule turns the job back into a one-shot.
func (s *Scheduler) Update(id string, update JobUpdate) (*models.Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}

	if update.Name != nil {
		job.Name = *update.Name
	}
	if update.Parameters != nil {
		job.Parameters = update.Parameters
	}
	if update.Distribution != nil {
		job.Distribution = update.Distribution
	}
	if update.Tags != nil {
		job.Tags = update.Tags
	}
	if update.Schedule != nil {
		job.Schedule = *update.Schedule
		if job.Schedule == nil {
			job.NextRunAt = nil
			if job.Status == models.JobStatusScheduled {
				job.Status = models.JobStatusPending
			}
		} else {
			next, err := schedule.NextRun(job.Schedule, s.now())
			if err != nil {
				return nil, fmt.Errorf("failed to compute next run: %v", err)
			}
			job.NextRunAt = &next
			if job.Status != models.JobStatusQueued && job.Status != models.JobStatusRunning {
				job.Status = models.JobStatusScheduled
			}
		}
	}
	job.UpdatedAt = s.now()
	return copyJob(job), nil
}

// Job returns a snapshot of one job with its full run history.
func (s *Scheduler) Job(id string) (*models.Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	return copyJob(job), nil
}

// Jobs returns summaries of jobs matching the filter, newest created first.
func (s *Scheduler) Jobs(filter JobFilter) []*models.JobSummary {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	result := make([]*models.JobSummary, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.TemplateID != "" && job.TemplateID != filter.TemplateID {
			continue
		}
		if filter.Tag != "" && !hasTag(job.Tags, filter.Tag) {
			continue
		}
		result = append(result, &models.JobSummary{
			ID:         job.ID,
			Name:       job.Name,
			TemplateID: job.TemplateID,
			Status:     job.Status,
			NextRunAt:  job.NextRunAt,
			LastRunAt:  job.LastRunAt,
			RunCount:   len(job.Runs),
			Tags:       job.Tags,
			CreatedAt:  job.CreatedAt,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// ActiveJobs returns the number of runs currently executing.
func (s *Scheduler) ActiveJobs() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.active
}

// QueueLength returns the number of jobs waiting for a worker slot.
func (s *Scheduler) QueueLength() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.queue)
}

func findRun(job *models.Job, runID string) *models.Run {
	for _, run := range job.Runs {
		if run.ID == runID {
			return run
		}
	}
	return nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func copyParams(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// copyJob snapshots a job and its runs so callers can read without holding
// the scheduler lock.
func copyJob(job *models.Job) *models.Job {
	out := *job
	out.Runs = make([]*models.Run, len(job.Runs))
	for i, run := range job.Runs {
		r := *run
		out.Runs[i] = &r
	}
	return &out
}
