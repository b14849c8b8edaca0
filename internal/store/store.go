package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/reportforge/internal/models"
)

// TemplateRecord is the persisted form of a report template. The definition
// is stored as JSON since templates are immutable documents, not queryable
// rows.
type TemplateRecord struct {
	ID         string `gorm:"primaryKey"`
	Name       string
	Definition string
	CreatedAt  time.Time
}

// JobRecord is the persisted snapshot of a job, including its run history.
type JobRecord struct {
	ID         string `gorm:"primaryKey"`
	Name       string
	TemplateID string `gorm:"index"`
	Status     string `gorm:"index"`
	Definition string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// GeneratedReportRecord is one catalog entry of the generated-report index.
type GeneratedReportRecord struct {
	ID          string `gorm:"primaryKey"`
	JobID       string `gorm:"index"`
	JobName     string
	TemplateID  string `gorm:"index"`
	RunID       string
	ReportID    string `gorm:"index"`
	Status      string
	GeneratedAt time.Time `gorm:"index"`
	RetainUntil time.Time
	DownloadURL string
}

// ReportRecord holds a full report body as JSON, keyed by report id.
type ReportRecord struct {
	ID          string `gorm:"primaryKey"`
	TemplateID  string
	Body        string
	GeneratedAt time.Time
}

// Store is the durable catalog behind the in-memory state. The scheduler's
// job table stays authoritative at runtime; the store exists so templates,
// jobs and generated reports survive a restart.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(
		&TemplateRecord{},
		&JobRecord{},
		&GeneratedReportRecord{},
		&ReportRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %v", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveTemplate(tmpl *models.ReportTemplate) error {
	body, err := json.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %v", err)
	}
	record := TemplateRecord{
		ID:         tmpl.ID,
		Name:       tmpl.Name,
		Definition: string(body),
		CreatedAt:  tmpl.CreatedAt,
	}
	if err := s.db.Save(&record).Error; err != nil {
		return fmt.Errorf("failed to save template: %v", err)
	}
	return nil
}

func (s *Store) Templates() ([]*models.ReportTemplate, error) {
	var records []TemplateRecord
	if err := s.db.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load templates: %v", err)
	}
	result := make([]*models.ReportTemplate, 0, len(records))
	for _, record := range records {
		var tmpl models.ReportTemplate
		if err := json.Unmarshal([]byte(record.Definition), &tmpl); err != nil {
			return nil, fmt.Errorf("failed to unmarshal template %s: %v", record.ID, err)
		}
		result = append(result, &tmpl)
	}
	return result, nil
}

func (s *Store) SaveJob(job *models.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %v", err)
	}
	record := JobRecord{
		ID:         job.ID,
		Name:       job.Name,
		TemplateID: job.TemplateID,
		Status:     string(job.Status),
		Definition: string(body),
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	}
	if err := s.db.Save(&record).Error; err != nil {
		return fmt.Errorf("failed to save job: %v", err)
	}
	return nil
}

func (s *Store) Jobs() ([]*models.Job, error) {
	var records []JobRecord
	if err := s.db.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load jobs: %v", err)
	}
	result := make([]*models.Job, 0, len(records))
	for _, record := range records {
		var job models.Job
		if err := json.Unmarshal([]byte(record.Definition), &job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job %s: %v", record.ID, err)
		}
		result = append(result, &job)
	}
	return result, nil
}

// SaveGeneratedReport writes the catalog entry and the report body in one
// transaction.
func (s *Store) SaveGeneratedReport(gr *models.GeneratedReport, rep *models.Report) error {
	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %v", err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		entry := GeneratedReportRecord{
			ID:          gr.ID,
			JobID:       gr.JobID,
			JobName:     gr.JobName,
			TemplateID:  gr.TemplateID,
			RunID:       gr.RunID,
			ReportID:    gr.ReportID,
			Status:      string(gr.Status),
			GeneratedAt: gr.GeneratedAt,
			RetainUntil: gr.RetainUntil,
			DownloadURL: gr.DownloadURL,
		}
		if err := tx.Save(&entry).Error; err != nil {
			return fmt.Errorf("failed to save generated report: %v", err)
		}
		record := ReportRecord{
			ID:          rep.ID,
			TemplateID:  rep.TemplateID,
			Body:        string(body),
			GeneratedAt: rep.GeneratedAt,
		}
		if err := tx.Save(&record).Error; err != nil {
			return fmt.Errorf("failed to save report body: %v", err)
		}
		return nil
	})
}

func (s *Store) GeneratedReports() ([]*models.GeneratedReport, error) {
	var records []GeneratedReportRecord
	if err := s.db.Order("generated_at desc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load generated reports: %v", err)
	}
	result := make([]*models.GeneratedReport, 0, len(records))
	for _, record := range records {
		result = append(result, &models.GeneratedReport{
			ID:          record.ID,
			JobID:       record.JobID,
			JobName:     record.JobName,
			TemplateID:  record.TemplateID,
			RunID:       record.RunID,
			ReportID:    record.ReportID,
			Status:      models.ReportStatus(record.Status),
			GeneratedAt: record.GeneratedAt,
			RetainUntil: record.RetainUntil,
			DownloadURL: record.DownloadURL,
		})
	}
	return result, nil
}

func (s *Store) Report(id string) (*models.Report, error) {
	var record ReportRecord
	if err := s.db.First(&record, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to load report %s: %v", id, err)
	}
	var rep models.Report
	if err := json.Unmarshal([]byte(record.Body), &rep); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report %s: %v", id, err)
	}
	return &rep, nil
}

// DeleteExpiredGenerated prunes catalog entries whose retention deadline has
// passed, together with their report bodies. Returns the number of catalog
// entries removed.
func (s *Store) DeleteExpiredGenerated(now time.Time) (int, error) {
	var deleted int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var records []GeneratedReportRecord
		if err := tx.Where("retain_until <= ?", now).Find(&records).Error; err != nil {
			return fmt.Errorf("failed to find expired reports: %v", err)
		}
		for _, record := range records {
			if err := tx.Delete(&ReportRecord{}, "id = ?", record.ReportID).Error; err != nil {
				return fmt.Errorf("failed to delete report body: %v", err)
			}
			if err := tx.Delete(&GeneratedReportRecord{}, "id = ?", record.ID).Error; err != nil {
				return fmt.Errorf("failed to delete catalog entry: %v", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
