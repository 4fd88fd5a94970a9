package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"sheetdesk/api/internal/checklist"
)

//go:embed templates/checklist.html
var templateFS embed.FS

var checklistTemplate = template.Must(template.New("checklist.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"statusClass": statusClass,
}).ParseFS(templateFS, "templates/checklist.html"))

// TemplateData holds data for checklist template rendering
type TemplateData struct {
	Title       string
	GeneratedAt time.Time
	Header      []string
	Width       int
	ItemCount   int
	Sections    []TemplateSection
}

type TemplateSection struct {
	Banner string
	Rows   []TemplateRow
}

type TemplateRow struct {
	Name        string
	Description string
	Teams       []TemplateTeam
}

type TemplateTeam struct {
	Status  string
	Comment string
}

func statusClass(status string) string {
	switch {
	case strings.HasPrefix(status, "Done"):
		return "status-done"
	case strings.HasPrefix(status, "Not Done"):
		return "status-not-done"
	case strings.HasSuffix(status, "(In Progress)"):
		return "status-progress"
	default:
		return ""
	}
}

// NewTemplateData lays sections out the same way as the workbook export: one column pair per
// team, empty cells where a team has no entry.
func NewTemplateData(title string, sections []checklist.Section, teams []string, generatedAt time.Time) TemplateData {
	header := checklist.Header(teams)
	data := TemplateData{
		Title:       title,
		GeneratedAt: generatedAt,
		Header:      header,
		Width:       len(header),
		Sections:    make([]TemplateSection, 0, len(sections)),
	}
	for _, section := range sections {
		ts := TemplateSection{Banner: checklist.BannerText(section)}
		for _, item := range section.Items {
			row := TemplateRow{Name: item.Name}
			if item.Description != nil {
				row.Description = *item.Description
			}
			for _, team := range teams {
				entry, _ := item.Team(team)
				tt := TemplateTeam{Status: entry.Status}
				if entry.Comment != nil {
					tt.Comment = *entry.Comment
				}
				row.Teams = append(row.Teams, tt)
			}
			ts.Rows = append(ts.Rows, row)
			data.ItemCount++
		}
		data.Sections = append(data.Sections, ts)
	}
	return data
}

// RenderChecklistHTML renders the printable checklist page.
func RenderChecklistHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := checklistTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
