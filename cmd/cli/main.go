package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reportforge/internal/cli/commands"
)

var rootCmd = &cobra.Command{
	Use:   "reportforge",
	Short: "ReportForge CLI - scheduled report generation",
	Long: `ReportForge CLI is a command-line tool for managing report templates,
jobs and generated reports on a running ReportForge server.`,
}

func init() {
	// Add commands
	rootCmd.AddCommand(commands.NewJobCommand())
	rootCmd.AddCommand(commands.NewTemplateCommand())
	rootCmd.AddCommand(commands.NewReportCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
