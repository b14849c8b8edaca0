package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/reportforge/internal/api/client"
	"github.com/reportforge/internal/models"
	"github.com/reportforge/internal/service"
)

func NewJobCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "job",
		Short:   "Job management commands",
		Aliases: []string{"jobs", "j"},
	}

	cmd.AddCommand(newJobListCommand())
	cmd.AddCommand(newJobShowCommand())
	cmd.AddCommand(newJobCreateCommand())
	cmd.AddCommand(newJobRunCommand())
	cmd.AddCommand(newJobCancelCommand())

	return cmd
}

func newJobListCommand() *cobra.Command {
	var (
		status     string
		templateID string
		tag        string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List jobs",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			jobs, err := c.ListJobs(status, templateID, tag)
			if err != nil {
				return fmt.Errorf("failed to list jobs: %v", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tRUNS\tNEXT RUN\tLAST RUN")
			for _, job := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					job.ID,
					job.Name,
					job.Status,
					job.RunCount,
					formatTime(job.NextRunAt),
					formatTime(job.LastRunAt),
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by job status")
	cmd.Flags().StringVar(&templateID, "template", "", "Filter by template id")
	cmd.Flags().StringVar(&tag, "tag", "", "Filter by tag")

	return cmd
}

func newJobShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job with its run history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			job, err := c.GetJob(args[0])
			if err != nil {
				return fmt.Errorf("failed to get job: %v", err)
			}

			fmt.Printf("Job: %s (%s)\n", job.Name, job.ID)
			fmt.Printf("Template: %s\n", job.TemplateID)
			fmt.Printf("Status: %s\n", job.Status)
			if job.NextRunAt != nil {
				fmt.Printf("Next run: %s\n", job.NextRunAt.Format(time.RFC3339))
			}

			if len(job.Runs) > 0 {
				fmt.Println("\nRuns:")
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tREPORT\tERROR")
				for _, run := range job.Runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						run.ID,
						run.Status,
						run.StartTime.Format(time.RFC3339),
						run.ReportID,
						run.Error,
					)
				}
				return w.Flush()
			}
			return nil
		},
	}
}

func newJobCreateCommand() *cobra.Command {
	var specFile string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a job from a JSON spec file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(specFile)
			if err != nil {
				return fmt.Errorf("failed to read spec file: %v", err)
			}
			var spec service.JobSpec
			if err := json.Unmarshal(data, &spec); err != nil {
				return fmt.Errorf("failed to parse spec file: %v", err)
			}

			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}
			job, err := c.CreateJob(spec)
			if err != nil {
				return fmt.Errorf("failed to create job: %v", err)
			}

			fmt.Printf("Created job %s (%s)\n", job.Name, job.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&specFile, "file", "f", "", "Path to the job spec JSON file")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newJobRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Enqueue a job immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}
			job, err := c.RunJob(args[0])
			if err != nil {
				return fmt.Errorf("failed to run job: %v", err)
			}
			fmt.Printf("Job %s is %s\n", job.ID, job.Status)
			return nil
		},
	}
}

func newJobCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}
			job, err := c.CancelJob(args[0])
			if err != nil {
				return fmt.Errorf("failed to cancel job: %v", err)
			}
			if job.Status == models.JobStatusCancelled {
				fmt.Printf("Job %s cancelled\n", job.ID)
			} else {
				fmt.Printf("Job %s is %s; only queued jobs can be cancelled\n", job.ID, job.Status)
			}
			return nil
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
