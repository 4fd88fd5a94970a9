// Package sheet holds the tabular model shared by the decoders, the normalizer and the
// checklist reconstructor.
package sheet

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind tags the value held by a Cell.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindText
	KindNumber
)

// Cell is a single grid position.
type Cell struct {
	Kind   Kind
	Text   string
	Number float64
}

func Text(value string) Cell {
	return Cell{Kind: KindText, Text: value}
}

func Number(value float64) Cell {
	return Cell{Kind: KindNumber, Number: value}
}

func (c Cell) IsNumber() bool {
	return c.Kind == KindNumber
}

// String renders the cell the way it is compared by the reconstructor: numbers use the
// shortest decimal form ("2", "0.5"), absent cells are empty.
func (c Cell) String() string {
	switch c.Kind {
	case KindText:
		return c.Text
	case KindNumber:
		return strconv.FormatFloat(c.Number, 'f', -1, 64)
	default:
		return ""
	}
}

// Trimmed is String with surrounding whitespace removed.
func (c Cell) Trimmed() string {
	return strings.TrimSpace(c.String())
}

// IsBlank reports whether the cell is absent or holds whitespace-only text.
func (c Cell) IsBlank() bool {
	switch c.Kind {
	case KindNumber:
		return false
	case KindText:
		return strings.TrimSpace(c.Text) == ""
	default:
		return true
	}
}

// MarshalJSON writes numbers as JSON numbers, text as strings and absent cells as "".
func (c Cell) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case KindNumber:
		return json.Marshal(c.Number)
	case KindText:
		return json.Marshal(c.Text)
	default:
		return []byte(`""`), nil
	}
}

func (c *Cell) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*c = Cell{}
	case float64:
		*c = Number(v)
	case string:
		if v == "" {
			*c = Cell{}
			return nil
		}
		*c = Text(v)
	case bool:
		*c = Text(strconv.FormatBool(v))
	default:
		return fmt.Errorf("unsupported cell value %s", string(data))
	}
	return nil
}

// MergeRegion is an inclusive, 0-based rectangle of cells sharing the anchor's value.
type MergeRegion struct {
	StartRow int `json:"startRow"`
	StartCol int `json:"startCol"`
	EndRow   int `json:"endRow"`
	EndCol   int `json:"endCol"`
}

// RawSheet is a decoded sheet before merge expansion.
type RawSheet struct {
	Name   string
	Rows   [][]Cell
	Merges []MergeRegion
}

// Sheet is a normalized sheet: merges expanded, header split from data rows.
type Sheet struct {
	Name    string   `json:"sheetName"`
	Headers []string `json:"headers"`
	Rows    [][]Cell `json:"rows"`
}

// AllRows returns the header row followed by the data rows.
func (s Sheet) AllRows() [][]Cell {
	rows := make([][]Cell, 0, len(s.Rows)+1)
	header := make([]Cell, len(s.Headers))
	for i, h := range s.Headers {
		header[i] = Text(h)
	}
	rows = append(rows, header)
	return append(rows, s.Rows...)
}
