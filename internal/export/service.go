package export

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Service produces checklist exports. The renderers are fields so tests can stub the
// external PDF and DOCX tooling.
type Service struct {
	pdf  func(ctx context.Context, html string) ([]byte, error)
	docx func(ctx context.Context, html string) ([]byte, error)
	now  func() time.Time
}

func NewService() *Service {
	return &Service{pdf: renderPDF, docx: renderDOCX, now: time.Now}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	switch req.Format {
	case FormatXLSX, "":
		data, err := WriteXLSX(req.Sections, req.Teams)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: Filename(req.Filename, "xlsx"), MimeType: xlsxMimeType}, nil
	case FormatPDF, FormatDOCX:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	generatedAt := req.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = s.now()
	}
	title := Filename(req.Filename, "")
	html, err := RenderChecklistHTML(NewTemplateData(title, req.Sections, req.Teams, generatedAt))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	if req.Format == FormatPDF {
		data, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: Filename(req.Filename, "pdf"), MimeType: "application/pdf"}, nil
	}
	data, err := s.docx(ctx, html)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     data,
		Filename: Filename(req.Filename, "docx"),
		MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}, nil
}

// Filename returns "edited-{original}" with the extension replaced by ext. An empty ext
// strips it. Path components and quotes are dropped so the value is safe in a
// Content-Disposition header.
func Filename(original, ext string) string {
	base := filepath.Base(strings.ReplaceAll(original, "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.Map(func(r rune) rune {
		if r == '"' || r < 0x20 {
			return -1
		}
		return r
	}, base)
	if base == "" {
		base = "checklist"
	}
	name := "edited-" + base
	if ext != "" {
		name += "." + ext
	}
	return name
}
