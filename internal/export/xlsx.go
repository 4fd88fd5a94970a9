package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"sheetdesk/api/internal/checklist"
)

// SheetName is the single worksheet of an exported workbook.
const SheetName = "Edited Checklist"

const xlsxMimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// columnWidth gives Item 30, Description 50, then alternating Status 20 / Comment 30.
func columnWidth(col int) float64 {
	switch {
	case col == 0:
		return 30
	case col == 1:
		return 50
	case col%2 == 0:
		return 20
	default:
		return 30
	}
}

// WriteXLSX builds the export workbook: header row, a merged banner per section and one row
// per item, in the layout produced by checklist.Serialize.
func WriteXLSX(sections []checklist.Section, teams []string) ([]byte, error) {
	rows, merges := checklist.Serialize(sections, teams)

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	for r, row := range rows {
		values := make([]interface{}, len(row))
		for c, value := range row {
			values[c] = value
		}
		axis, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(SheetName, axis, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", r+1, err)
		}
	}

	bannerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#E0EBF5"}},
	})
	if err != nil {
		return nil, fmt.Errorf("banner style: %w", err)
	}
	for _, m := range merges {
		start, err := excelize.CoordinatesToCellName(m.StartCol+1, m.StartRow+1)
		if err != nil {
			return nil, err
		}
		end, err := excelize.CoordinatesToCellName(m.EndCol+1, m.EndRow+1)
		if err != nil {
			return nil, err
		}
		if err := f.MergeCell(SheetName, start, end); err != nil {
			return nil, fmt.Errorf("merge %s:%s: %w", start, end, err)
		}
		if err := f.SetCellStyle(SheetName, start, end, bannerStyle); err != nil {
			return nil, fmt.Errorf("style %s:%s: %w", start, end, err)
		}
	}

	width := len(rows[0])
	for c := 0; c < width; c++ {
		col, err := excelize.ColumnNumberToName(c + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(SheetName, col, col, columnWidth(c)); err != nil {
			return nil, fmt.Errorf("column width %s: %w", col, err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	lastHeader, err := excelize.CoordinatesToCellName(width, 1)
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(SheetName, "A1", lastHeader, headerStyle); err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
