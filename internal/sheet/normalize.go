package sheet

import "fmt"

// Normalize expands merge regions into every covered cell, pads the grid to a fixed column
// count and splits the header row from the data rows.
//
// Regions are applied in listed order; where two regions overlap the later one wins.
func Normalize(raw RawSheet) Sheet {
	grid := cloneGrid(raw.Rows)
	for _, region := range raw.Merges {
		grid = expandMerge(grid, region)
	}
	grid = padGrid(grid)

	if len(grid) == 0 {
		return Sheet{Name: raw.Name, Headers: []string{}, Rows: [][]Cell{}}
	}

	headers := make([]string, len(grid[0]))
	for i, cell := range grid[0] {
		label := cell.String()
		if label == "" {
			label = fmt.Sprintf("Col %d", i+1)
		}
		headers[i] = label
	}
	return Sheet{Name: raw.Name, Headers: headers, Rows: grid[1:]}
}

func expandMerge(grid [][]Cell, region MergeRegion) [][]Cell {
	if region.StartRow < 0 || region.StartCol < 0 || region.EndRow < region.StartRow || region.EndCol < region.StartCol {
		return grid
	}
	anchor := cellAt(grid, region.StartRow, region.StartCol)
	if anchor.Kind == KindAbsent {
		return grid
	}
	for len(grid) <= region.EndRow {
		grid = append(grid, nil)
	}
	for r := region.StartRow; r <= region.EndRow; r++ {
		for len(grid[r]) <= region.EndCol {
			grid[r] = append(grid[r], Cell{})
		}
		for c := region.StartCol; c <= region.EndCol; c++ {
			grid[r][c] = anchor
		}
	}
	return grid
}

func cellAt(grid [][]Cell, row, col int) Cell {
	if row >= len(grid) || col >= len(grid[row]) {
		return Cell{}
	}
	return grid[row][col]
}

func cloneGrid(rows [][]Cell) [][]Cell {
	out := make([][]Cell, len(rows))
	for i, row := range rows {
		out[i] = append([]Cell(nil), row...)
	}
	return out
}

func padGrid(grid [][]Cell) [][]Cell {
	width := 0
	for _, row := range grid {
		if len(row) > width {
			width = len(row)
		}
	}
	for i, row := range grid {
		for len(row) < width {
			row = append(row, Cell{})
		}
		grid[i] = row
	}
	return grid
}
