package checklist

import (
	"fmt"
	"math"
	"strings"

	"sheetdesk/api/internal/sheet"
)

const (
	labelDone       = "Done"
	labelNotDone    = "Not Done"
	labelInProgress = "In Progress"
)

// FormatProgress renders a progress fraction: 1 → "Done (100%)", 0 → "Not Done (0%)",
// anything else → "{p}% (In Progress)". Percentages round half up.
func FormatProgress(value float64) string {
	percent := int(math.Floor(value*100 + 0.5))
	switch value {
	case 1:
		return fmt.Sprintf("%s (%d%%)", labelDone, percent)
	case 0:
		return fmt.Sprintf("%s (%d%%)", labelNotDone, percent)
	default:
		return fmt.Sprintf("%d%% (%s)", percent, labelInProgress)
	}
}

// statusFor reads a progress cell. Text is returned as written.
func statusFor(cell sheet.Cell) string {
	switch {
	case cell.IsNumber():
		return FormatProgress(cell.Number)
	case cell.IsBlank():
		return ""
	default:
		return cell.String()
	}
}

// commentFor returns the first non-blank trimmed cell in row[from:to].
func commentFor(row []sheet.Cell, from, to int) string {
	if to > len(row) {
		to = len(row)
	}
	for i := from; i < to; i++ {
		if value := row[i].Trimmed(); value != "" {
			return value
		}
	}
	return ""
}

// jsLength counts UTF-16 code units so description ties resolve the same way the
// spreadsheet tooling measures strings.
func jsLength(value string) int {
	n := 0
	for _, r := range value {
		n++
		if r > 0xFFFF {
			n++
		}
	}
	return n
}

func containsDot(value string) bool {
	return strings.Contains(value, ".")
}
