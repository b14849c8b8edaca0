package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/reportforge/internal/api/client"
)

func NewReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "report",
		Short:   "Generated report commands",
		Aliases: []string{"reports", "r"},
	}

	cmd.AddCommand(newReportListCommand())
	cmd.AddCommand(newReportDownloadCommand())
	cmd.AddCommand(newReportCleanupCommand())

	return cmd
}

func newReportListCommand() *cobra.Command {
	var (
		jobID      string
		templateID string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List generated reports",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			reports, err := c.ListGeneratedReports(jobID, templateID)
			if err != nil {
				return fmt.Errorf("failed to list reports: %v", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tJOB\tTEMPLATE\tGENERATED\tRETAIN UNTIL")
			for _, gr := range reports {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					gr.ID,
					gr.JobName,
					gr.TemplateID,
					gr.GeneratedAt.Format(time.RFC3339),
					gr.RetainUntil.Format("2006-01-02"),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&jobID, "job", "", "Filter by job id")
	cmd.Flags().StringVar(&templateID, "template", "", "Filter by template id")

	return cmd
}

func newReportDownloadCommand() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "download <generated-report-id>",
		Short: "Download a generated report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			data, err := c.DownloadReport(args[0], format)
			if err != nil {
				return fmt.Errorf("failed to download report: %v", err)
			}

			if output == "" {
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("failed to write output file: %v", err)
			}
			fmt.Printf("Report written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Export format (json, csv, html, pdf)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")

	return cmd
}

func newReportCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete generated reports past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}
			deleted, err := c.CleanupReports()
			if err != nil {
				return fmt.Errorf("failed to clean up reports: %v", err)
			}
			fmt.Printf("Deleted %d reports\n", deleted)
			return nil
		},
	}
}
