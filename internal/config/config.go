package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	Database struct {
		Path string
	}
	Server struct {
		Port int
	}
	Scheduler struct {
		TickSeconds       int
		MaxConcurrentJobs int
	}
	Reports struct {
		MaxSectionItems  int
		RetentionDays    int
		ExportDir        string
		FetchTimeoutSecs int
	}
	Distribution struct {
		Slack struct {
			Token   string
			Channel string
		}
		Email struct {
			SMTPHost string
			SMTPPort int
			From     string
			Password string
		}
	}
}

// LoadConfig loads the configuration from config.yaml
func LoadConfig() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetDefault("database.path", "data/reportforge.db")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("scheduler.tickseconds", 5)
	viper.SetDefault("scheduler.maxconcurrentjobs", 4)
	viper.SetDefault("reports.maxsectionitems", 1000)
	viper.SetDefault("reports.retentiondays", 90)
	viper.SetDefault("reports.exportdir", "exports")
	viper.SetDefault("reports.fetchtimeoutsecs", 0)

	var config Config

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, write one with the defaults
			if err := os.MkdirAll("data", 0755); err != nil {
				fmt.Printf("Warning: Failed to create data directory: %v\n", err)
			}
			if err := viper.SafeWriteConfig(); err != nil {
				fmt.Printf("Warning: Failed to write default config: %v\n", err)
			}
		} else {
			fmt.Printf("Error reading config file: %v\n", err)
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		fmt.Printf("Error unmarshaling config: %v\n", err)
	}

	return &config
}
