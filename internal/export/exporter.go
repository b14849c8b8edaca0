package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"

	"github.com/reportforge/internal/models"
)

// Formats supported by Export.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatHTML = "html"
	FormatPDF  = "pdf"
)

// Export serializes a completed report to the requested format.
func Export(rep *models.Report, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return exportJSON(rep)
	case FormatCSV:
		return exportCSV(rep)
	case FormatHTML:
		return exportHTML(rep)
	case FormatPDF:
		return exportPDF(rep)
	default:
		return nil, fmt.Errorf("unknown export format: %s", format)
	}
}

// ContentType returns the MIME type for a format.
func ContentType(format string) string {
	switch format {
	case FormatCSV:
		return "text/csv"
	case FormatHTML:
		return "text/html"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/json"
	}
}

func exportJSON(rep *models.Report) ([]byte, error) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %v", err)
	}
	return data, nil
}

// exportCSV writes one block per section: a "# <title>" line, a header row
// taken from the first record's keys (sorted for a stable column order), then
// one row per record. Quoting follows standard CSV rules.
func exportCSV(rep *models.Report) ([]byte, error) {
	var buf bytes.Buffer
	for i, section := range rep.Sections {
		if i > 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(&buf, "# %s\n", section.Title)
		if section.Error != "" {
			fmt.Fprintf(&buf, "# error: %s\n", section.Error)
			continue
		}
		if len(section.Data) == 0 {
			continue
		}

		header := sortedKeys(section.Data[0])
		w := csv.NewWriter(&buf)
		if err := w.Write(header); err != nil {
			return nil, fmt.Errorf("failed to write csv header: %v", err)
		}
		for _, rec := range section.Data {
			row := make([]string, len(header))
			for j, field := range header {
				if v, ok := rec[field]; ok && v != nil {
					row[j] = fmt.Sprint(v)
				}
			}
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("failed to write csv row: %v", err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("failed to flush csv: %v", err)
		}
	}
	return buf.Bytes(), nil
}

var htmlTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.TemplateName}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 2em; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
th { background: #f0f0f0; }
.error { color: #b00; }
.meta { color: #666; font-size: 0.85em; }
</style>
</head>
<body>
<h1>{{.TemplateName}}</h1>
<p class="meta">Generated at {{.GeneratedAt}}</p>
{{range .Sections}}
<h2>{{.Title}}</h2>
{{if .Error}}<p class="error">Section failed: {{.Error}}</p>{{else}}
<p class="meta">{{.Metadata.Count}} records{{if .Metadata.Truncated}} (truncated){{end}}</p>
{{if .Columns}}<table>
<tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr>
{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{end}}</table>{{end}}
{{end}}
{{end}}
</body>
</html>
`))

type htmlSection struct {
	Title    string
	Error    string
	Metadata models.SectionMetadata
	Columns  []string
	Rows     [][]string
}

type htmlReport struct {
	TemplateName string
	GeneratedAt  string
	Sections     []htmlSection
}

// exportHTML renders one table per section. All values pass through
// html/template and are escaped; the upstream behavior of interpolating raw
// values into markup is an injection hazard and is deliberately not kept.
func exportHTML(rep *models.Report) ([]byte, error) {
	view := htmlReport{
		TemplateName: rep.TemplateName,
		GeneratedAt:  rep.GeneratedAt.Format("2006-01-02 15:04:05 MST"),
	}
	if view.TemplateName == "" {
		view.TemplateName = rep.TemplateID
	}

	for _, section := range rep.Sections {
		hs := htmlSection{
			Title:    section.Title,
			Error:    section.Error,
			Metadata: section.Metadata,
		}
		if len(section.Data) > 0 {
			hs.Columns = sortedKeys(section.Data[0])
			for _, rec := range section.Data {
				row := make([]string, len(hs.Columns))
				for j, field := range hs.Columns {
					if v, ok := rec[field]; ok && v != nil {
						row[j] = fmt.Sprint(v)
					}
				}
				hs.Rows = append(hs.Rows, row)
			}
		}
		view.Sections = append(view.Sections, hs)
	}

	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("failed to render html report: %v", err)
	}
	return buf.Bytes(), nil
}

// exportPDF is a placeholder. Real PDF rendering is a pluggable collaborator;
// this returns a plain-text summary so downloads still produce something
// useful.
func exportPDF(rep *models.Report) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Report %s (template %s), generated at %s\n",
		rep.ID, rep.TemplateID, rep.GeneratedAt.Format("2006-01-02 15:04:05"))
	for _, section := range rep.Sections {
		if section.Error != "" {
			fmt.Fprintf(&buf, "- %s: failed (%s)\n", section.Title, section.Error)
			continue
		}
		fmt.Fprintf(&buf, "- %s: %d records\n", section.Title, section.Metadata.Count)
	}
	buf.WriteString("PDF rendering is not implemented; use json, csv or html.\n")
	return buf.Bytes(), nil
}

func sortedKeys(rec models.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
