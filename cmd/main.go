package main

import (
	"log"
	"time"

	"github.com/reportforge/internal/api"
	"github.com/reportforge/internal/config"
	"github.com/reportforge/internal/database"
	"github.com/reportforge/internal/datasource"
	"github.com/reportforge/internal/distribution"
	"github.com/reportforge/internal/service"
	"github.com/reportforge/internal/store"
)

func main() {
	// Initialize configuration
	cfg := config.LoadConfig()

	// Initialize database
	if err := database.Initialize(cfg.Database.Path); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	catalog, err := store.New(database.GetDB())
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}

	// Register the bundled sample data sources
	registry := datasource.NewRegistry()
	if err := datasource.RegisterBuiltins(registry); err != nil {
		log.Fatalf("Failed to register data sources: %v", err)
	}

	dispatcher := distribution.NewDispatcher(&distribution.Config{
		SlackToken:    cfg.Distribution.Slack.Token,
		SlackChannel:  cfg.Distribution.Slack.Channel,
		SMTPHost:      cfg.Distribution.Email.SMTPHost,
		SMTPPort:      cfg.Distribution.Email.SMTPPort,
		EmailFrom:     cfg.Distribution.Email.From,
		EmailPassword: cfg.Distribution.Email.Password,
		ExportDir:     cfg.Reports.ExportDir,
	})

	svc := service.New(service.Options{
		Registry:        registry,
		Dispatcher:      dispatcher,
		Store:           catalog,
		MaxSectionItems: cfg.Reports.MaxSectionItems,
		MaxConcurrent:   cfg.Scheduler.MaxConcurrentJobs,
		TickInterval:    time.Duration(cfg.Scheduler.TickSeconds) * time.Second,
		FetchTimeout:    time.Duration(cfg.Reports.FetchTimeoutSecs) * time.Second,
		Retention:       time.Duration(cfg.Reports.RetentionDays) * 24 * time.Hour,
	})

	if err := svc.LoadState(); err != nil {
		log.Printf("Warning: Failed to restore state: %v", err)
	}

	svc.Start()
	defer svc.Stop()

	server := api.NewServer(svc)
	if err := server.Start(cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
