// Package export renders an edited checklist as a workbook, a printable PDF or a Word document.
package export

import (
	"errors"
	"time"

	"sheetdesk/api/internal/checklist"
)

// Format represents the export output format
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat maps a query value to a Format; empty means xlsx.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatPDF, FormatDOCX:
		return Format(value), nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request contains parameters for an export operation
type Request struct {
	Filename    string
	Sections    []checklist.Section
	Teams       []string
	Format      Format
	GeneratedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("export format not supported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
