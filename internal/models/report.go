package models

import "time"

type ReportStatus string

const (
	ReportStatusGenerating ReportStatus = "generating"
	ReportStatusCompleted  ReportStatus = "completed"
)

// SectionMetadata describes the data carried by a report section.
type SectionMetadata struct {
	Count     int  `json:"count"`
	Truncated bool `json:"truncated"`
}

// ReportSection is one generated unit of a report. A section that failed to
// fetch or transform carries an Error and empty Data; the report as a whole
// still completes.
type ReportSection struct {
	Title    string          `json:"title"`
	Data     []Record        `json:"data"`
	Metadata SectionMetadata `json:"metadata"`
	Error    string          `json:"error,omitempty"`
}

// Report is a fully assembled report produced from a template.
type Report struct {
	ID           string                 `json:"id"`
	TemplateID   string                 `json:"template_id"`
	TemplateName string                 `json:"template_name,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	Sections     []ReportSection        `json:"sections"`
	Status       ReportStatus           `json:"status"`
	GeneratedAt  time.Time              `json:"generated_at"`
}

// GeneratedReport is a catalog entry linking a job run to a produced report.
// Entries are evicted by retention cleanup independent of the job lifecycle.
type GeneratedReport struct {
	ID          string       `json:"id"`
	JobID       string       `json:"job_id"`
	JobName     string       `json:"job_name,omitempty"`
	TemplateID  string       `json:"template_id"`
	RunID       string       `json:"run_id"`
	ReportID    string       `json:"report_id"`
	Status      ReportStatus `json:"status"`
	GeneratedAt time.Time    `json:"generated_at"`
	RetainUntil time.Time    `json:"retain_until"`
	DownloadURL string       `json:"download_url,omitempty"`
}
