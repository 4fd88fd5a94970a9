package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrMalformedUpload indicates the upload could not be decoded as tabular data.
var ErrMalformedUpload = errors.New("malformed upload")

// Decode turns upload bytes into raw sheets. CSV files are recognised by extension; anything
// else is handed to the workbook reader.
func Decode(filename string, data []byte) ([]RawSheet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrMalformedUpload)
	}
	if strings.EqualFold(filepath.Ext(filename), ".csv") {
		return DecodeCSV(filename, data)
	}
	return DecodeWorkbook(data)
}

// DecodeWorkbook reads every sheet of an OOXML workbook in sheet order, keeping numeric cells
// numeric and reporting merged ranges as MergeRegions.
func DecodeWorkbook(data []byte) ([]RawSheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpload, err)
	}
	defer f.Close()

	var sheets []RawSheet
	for _, name := range f.GetSheetList() {
		raw, err := readWorksheet(f, name)
		if err != nil {
			return nil, fmt.Errorf("%w: sheet %q: %v", ErrMalformedUpload, name, err)
		}
		sheets = append(sheets, raw)
	}
	return sheets, nil
}

func readWorksheet(f *excelize.File, name string) (RawSheet, error) {
	values, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return RawSheet{}, err
	}

	rows := make([][]Cell, len(values))
	for r, row := range values {
		cells := make([]Cell, len(row))
		for c, value := range row {
			if value == "" {
				continue
			}
			axis, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return RawSheet{}, err
			}
			cellType, err := f.GetCellType(name, axis)
			if err != nil {
				return RawSheet{}, err
			}
			cells[c] = classify(value, cellType)
		}
		rows[r] = cells
	}

	merged, err := f.GetMergeCells(name)
	if err != nil {
		return RawSheet{}, err
	}
	merges := make([]MergeRegion, 0, len(merged))
	for _, m := range merged {
		region, err := mergeRegionFromAxes(m.GetStartAxis(), m.GetEndAxis())
		if err != nil {
			return RawSheet{}, err
		}
		merges = append(merges, region)
	}

	return RawSheet{Name: name, Rows: rows, Merges: merges}, nil
}

// classify maps a raw cell value to a Cell. Plain numeric cells carry no type attribute in
// OOXML, so an unset type with a parseable value counts as a number.
func classify(value string, cellType excelize.CellType) Cell {
	switch cellType {
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
		if n, ok := parseNumber(value); ok {
			return Number(n)
		}
		return Text(value)
	case excelize.CellTypeBool:
		if value == "1" {
			return Text("TRUE")
		}
		return Text("FALSE")
	default:
		return Text(value)
	}
}

// parseNumber accepts finite decimal numbers only; "NaN" and "Inf" stay text.
func parseNumber(value string) (float64, bool) {
	n, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func mergeRegionFromAxes(start, end string) (MergeRegion, error) {
	startCol, startRow, err := excelize.CellNameToCoordinates(start)
	if err != nil {
		return MergeRegion{}, err
	}
	endCol, endRow, err := excelize.CellNameToCoordinates(end)
	if err != nil {
		return MergeRegion{}, err
	}
	return MergeRegion{
		StartRow: startRow - 1,
		StartCol: startCol - 1,
		EndRow:   endRow - 1,
		EndCol:   endCol - 1,
	}, nil
}

// DecodeCSV reads a single-sheet CSV upload. Values that parse as numbers become numeric
// cells, matching how workbook readers infer CSV types.
func DecodeCSV(filename string, data []byte) ([]RawSheet, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpload, err)
	}

	rows := make([][]Cell, len(records))
	for r, record := range records {
		cells := make([]Cell, len(record))
		for c, value := range record {
			if value == "" {
				continue
			}
			if n, ok := parseNumber(strings.TrimSpace(value)); ok {
				cells[c] = Number(n)
				continue
			}
			cells[c] = Text(value)
		}
		rows[r] = cells
	}

	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if name == "" || name == "." {
		name = "Sheet1"
	}
	return []RawSheet{{Name: name, Rows: rows}}, nil
}
