package distribution

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/slack-go/slack"
	"gopkg.in/gomail.v2"

	"github.com/reportforge/internal/export"
	"github.com/reportforge/internal/models"
)

type Config struct {
	SlackToken    string
	SlackChannel  string
	SMTPHost      string
	SMTPPort      int
	EmailFrom     string
	EmailPassword string
	ExportDir     string
}

// Dispatcher routes completed reports to delivery channels. Every delivery
// is best effort: failures are logged and never surfaced to job or run
// state.
type Dispatcher struct {
	slackClient *slack.Client
	emailDialer *gomail.Dialer
	config      *Config
}

func NewDispatcher(config *Config) *Dispatcher {
	return &Dispatcher{
		slackClient: slack.New(config.SlackToken),
		emailDialer: gomail.NewDialer(config.SMTPHost, config.SMTPPort, config.EmailFrom, config.EmailPassword),
		config:      config,
	}
}

// Dispatch delivers the report over each configured channel in order.
func (d *Dispatcher) Dispatch(gr *models.GeneratedReport, rep *models.Report, channels []models.Distribution) {
	for _, dist := range channels {
		var err error
		switch dist.Method {
		case "email":
			err = d.sendEmail(gr, rep, dist)
		case "slack":
			err = d.sendSlack(gr, rep, dist)
		case "storage":
			err = d.writeStorage(gr, rep, dist)
		default:
			err = fmt.Errorf("unknown distribution method: %s", dist.Method)
		}
		if err != nil {
			log.Printf("Failed to distribute report %s via %s: %v", gr.ReportID, dist.Method, err)
		}
	}
}

func (d *Dispatcher) sendEmail(gr *models.GeneratedReport, rep *models.Report, dist models.Distribution) error {
	body, err := export.Export(rep, export.FormatHTML)
	if err != nil {
		return fmt.Errorf("failed to render report email: %v", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", d.config.EmailFrom)
	m.SetHeader("To", dist.Recipients...)
	m.SetHeader("Subject", fmt.Sprintf("Report: %s (%s)",
		gr.JobName, gr.GeneratedAt.Format("2006-01-02")))
	m.SetBody("text/html", string(body))

	return d.emailDialer.DialAndSend(m)
}

func (d *Dispatcher) sendSlack(gr *models.GeneratedReport, rep *models.Report, dist models.Distribution) error {
	channel := dist.Channel
	if channel == "" {
		channel = d.config.SlackChannel
	}

	failed := 0
	total := 0
	for _, section := range rep.Sections {
		if section.Error != "" {
			failed++
		}
		total += section.Metadata.Count
	}

	attachment := slack.Attachment{
		Color: "#36a64f",
		Title: fmt.Sprintf("Report ready: %s", gr.JobName),
		Fields: []slack.AttachmentField{
			{
				Title: "Template",
				Value: gr.TemplateID,
				Short: true,
			},
			{
				Title: "Sections",
				Value: fmt.Sprintf("%d (%d failed)", len(rep.Sections), failed),
				Short: true,
			},
			{
				Title: "Records",
				Value: strconv.Itoa(total),
				Short: true,
			},
			{
				Title: "Report ID",
				Value: gr.ReportID,
				Short: true,
			},
		},
		Footer: "ReportForge",
		Ts:     json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
	}
	if failed > 0 {
		attachment.Color = "#ffcc00"
	}

	_, _, err := d.slackClient.PostMessage(channel, slack.MsgOptionAttachments(attachment))
	return err
}

func (d *Dispatcher) writeStorage(gr *models.GeneratedReport, rep *models.Report, dist models.Distribution) error {
	format := dist.Format
	if format == "" {
		format = export.FormatJSON
	}
	data, err := export.Export(rep, format)
	if err != nil {
		return fmt.Errorf("failed to export report: %v", err)
	}

	dir := dist.Directory
	if dir == "" {
		dir = d.config.ExportDir
	}
	if dir == "" {
		dir = "exports"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %v", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.%s", gr.ReportID, format))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report file: %v", err)
	}
	log.Printf("Report %s written to %s", gr.ReportID, path)
	return nil
}
