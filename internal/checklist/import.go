package checklist

import (
	"regexp"
	"strings"

	"sheetdesk/api/internal/sheet"
)

var bannerPattern = regexp.MustCompile(`(?s)^(\d+)\.(?:\s+(.*))?$`)

// Import builds the checklist for a normalized sheet. Sheets carrying the export header are
// read back with the export layout; everything else goes through Reconstruct.
func Import(s sheet.Sheet, teams []string) []Section {
	if IsExportLayout(s.Headers, teams) {
		return parseExport(s.Rows, teams)
	}
	return Reconstruct(s.Rows, teams)
}

// IsExportLayout reports whether headers start with the export header for teams.
func IsExportLayout(headers []string, teams []string) bool {
	expected := Header(teams)
	if len(headers) < len(expected) {
		return false
	}
	for i, label := range expected {
		if strings.TrimSpace(headers[i]) != label {
			return false
		}
	}
	return true
}

func parseExport(rows [][]sheet.Cell, teams []string) []Section {
	sections := []Section{}
	var current *Section
	nextIID := 0

	flush := func() {
		if current != nil {
			sections = append(sections, *current)
		}
	}

	for _, row := range rows {
		if isBlankRow(row) {
			continue
		}
		first := row[0].Trimmed()
		if m := bannerPattern.FindStringSubmatch(first); m != nil && isBannerRow(row) {
			flush()
			current = &Section{
				ID:              len(sections),
				Number:          m[1],
				Name:            strings.TrimSpace(m[2]),
				ProgressIndices: []int{},
				Items:           []Item{},
			}
			continue
		}
		if current == nil {
			continue
		}

		item := Item{
			ID:          nextIID,
			Name:        first,
			Description: nilIfEmpty(cellText(row, 1)),
			Teams:       []TeamEntry{},
		}
		nextIID++
		for t, team := range teams {
			status := statusText(row, 2+2*t)
			comment := cellText(row, 3+2*t)
			if status == "" && comment == "" {
				continue
			}
			item.Teams = append(item.Teams, TeamEntry{Team: team, Status: status, Comment: nilIfEmpty(comment)})
		}
		current.Items = append(current.Items, item)
	}
	flush()
	return sections
}

// isBannerRow accepts a banner whose remaining cells are empty, or all repeat the banner
// text after merge expansion.
func isBannerRow(row []sheet.Cell) bool {
	label := row[0].String()
	for _, cell := range row[1:] {
		if cell.IsBlank() || cell.String() == label {
			continue
		}
		return false
	}
	return true
}

func cellText(row []sheet.Cell, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return row[idx].Trimmed()
}

// statusText keeps status text as written; whitespace-only reads as empty.
func statusText(row []sheet.Cell, idx int) string {
	if idx >= len(row) || row[idx].IsBlank() {
		return ""
	}
	return row[idx].String()
}
