package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/reportforge/internal/api/client"
	"github.com/reportforge/internal/service"
)

func NewTemplateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "template",
		Short:   "Report template commands",
		Aliases: []string{"templates", "t"},
	}

	cmd.AddCommand(newTemplateListCommand())
	cmd.AddCommand(newTemplateCreateCommand())

	return cmd
}

func newTemplateListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List report templates",
		Aliases: []string{"ls"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}

			templates, err := c.ListTemplates()
			if err != nil {
				return fmt.Errorf("failed to list templates: %v", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSECTIONS\tSCHEDULED")
			for _, tmpl := range templates {
				scheduled := "no"
				if tmpl.Schedule != nil {
					scheduled = tmpl.Schedule.Type
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
					tmpl.ID, tmpl.Name, len(tmpl.Sections), scheduled)
			}
			return w.Flush()
		},
	}
}

func newTemplateCreateCommand() *cobra.Command {
	var specFile string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a template from a JSON spec file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(specFile)
			if err != nil {
				return fmt.Errorf("failed to read spec file: %v", err)
			}
			var spec service.TemplateSpec
			if err := json.Unmarshal(data, &spec); err != nil {
				return fmt.Errorf("failed to parse spec file: %v", err)
			}

			c, err := client.NewClient()
			if err != nil {
				return fmt.Errorf("failed to create client: %v", err)
			}
			tmpl, err := c.CreateTemplate(spec)
			if err != nil {
				return fmt.Errorf("failed to create template: %v", err)
			}

			fmt.Printf("Created template %s (%s)\n", tmpl.Name, tmpl.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&specFile, "file", "f", "", "Path to the template spec JSON file")
	cmd.MarkFlagRequired("file")

	return cmd
}
