package checklist

import (
	"fmt"

	"sheetdesk/api/internal/sheet"
)

// Header returns the export header: Item, Description, then a Status and a Comment column
// per team.
func Header(teams []string) []string {
	header := make([]string, 0, 2+2*len(teams))
	header = append(header, "Item", "Description")
	for _, team := range teams {
		header = append(header, team+" Status", team+" Comment")
	}
	return header
}

// BannerText is the single-cell label of a section row in an export.
func BannerText(section Section) string {
	return fmt.Sprintf("%s. %s", section.Number, section.Name)
}

// Serialize flattens sections into rows: the header, then per section a banner row (merged
// across every column) followed by one row per item. Missing values become empty cells.
func Serialize(sections []Section, teams []string) ([][]string, []sheet.MergeRegion) {
	header := Header(teams)
	width := len(header)

	rows := [][]string{header}
	merges := []sheet.MergeRegion{}

	for _, section := range sections {
		banner := make([]string, width)
		banner[0] = BannerText(section)
		merges = append(merges, sheet.MergeRegion{
			StartRow: len(rows),
			StartCol: 0,
			EndRow:   len(rows),
			EndCol:   width - 1,
		})
		rows = append(rows, banner)

		for _, item := range section.Items {
			row := make([]string, 0, width)
			row = append(row, item.Name, deref(item.Description))
			for _, team := range teams {
				entry, _ := item.Team(team)
				row = append(row, entry.Status, deref(entry.Comment))
			}
			rows = append(rows, row)
		}
	}
	return rows, merges
}

// ToRawSheet wraps serialized rows as text cells so an export can be fed back through the
// normalizer.
func ToRawSheet(name string, rows [][]string, merges []sheet.MergeRegion) sheet.RawSheet {
	grid := make([][]sheet.Cell, len(rows))
	for r, row := range rows {
		cells := make([]sheet.Cell, len(row))
		for c, value := range row {
			if value != "" {
				cells[c] = sheet.Text(value)
			}
		}
		grid[r] = cells
	}
	return sheet.RawSheet{Name: name, Rows: grid, Merges: merges}
}
