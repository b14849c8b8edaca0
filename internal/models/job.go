package models

import "time"

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one execution attempt of a job. Runs are append-only history and
// are never mutated once finalized.
type Run struct {
	ID        string     `json:"id"`
	Status    RunStatus  `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	ReportID  string     `json:"report_id,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Distribution configures one best-effort delivery channel for a job's
// completed reports.
type Distribution struct {
	Method     string   `json:"method"` // email, slack, storage
	Recipients []string `json:"recipients,omitempty"`
	Channel    string   `json:"channel,omitempty"`
	Format     string   `json:"format,omitempty"`
	Directory  string   `json:"directory,omitempty"`
}

// Job is a request to generate a report, optionally recurring. A job
// exclusively owns its runs.
type Job struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	TemplateID   string                 `json:"template_id"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	Schedule     *Schedule              `json:"schedule,omitempty"`
	Distribution []Distribution         `json:"distribution,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
	Status       JobStatus              `json:"status"`
	NextRunAt    *time.Time             `json:"next_run_at,omitempty"`
	LastRunAt    *time.Time             `json:"last_run_at,omitempty"`
	Runs         []*Run                 `json:"runs,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// JobSummary is the listing view of a job, without run history.
type JobSummary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	TemplateID string     `json:"template_id"`
	Status     JobStatus  `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	RunCount   int        `json:"run_count"`
	Tags       []string   `json:"tags,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
