package export

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"sheetdesk/api/internal/checklist"
	"sheetdesk/api/internal/sheet"
)

var teams = []string{"Delivery", "IDKA", "NSS Operations"}

func str(v string) *string { return &v }

func sampleSections() []checklist.Section {
	return []checklist.Section{
		{
			ID: 0, Number: "1", Name: "Platform", ProgressIndices: []int{4, 6, 8},
			Items: []checklist.Item{
				{
					ID: 0, Name: "1.1 Provision hosts", Description: str("Terraform apply"),
					Teams: []checklist.TeamEntry{
						{Team: "Delivery", Status: "Done (100%)"},
						{Team: "NSS Operations", Status: "50% (In Progress)", Comment: str("waiting <on> vendor")},
					},
				},
				{ID: 1, Name: "1.2 Patch hosts", Teams: []checklist.TeamEntry{}},
			},
		},
		{ID: 1, Number: "2", Name: "Security", ProgressIndices: []int{}, Items: []checklist.Item{}},
	}
}

func TestFilename(t *testing.T) {
	cases := []struct {
		original string
		ext      string
		want     string
	}{
		{original: "plan.xlsx", ext: "xlsx", want: "edited-plan.xlsx"},
		{original: "Release Plan.csv", ext: "xlsx", want: "edited-Release Plan.xlsx"},
		{original: "C:\\uploads\\q3.xlsm", ext: "pdf", want: "edited-q3.pdf"},
		{original: "../../etc/passwd", ext: "xlsx", want: "edited-passwd.xlsx"},
		{original: "we\"ird.xlsx", ext: "xlsx", want: "edited-weird.xlsx"},
		{original: "", ext: "xlsx", want: "edited-checklist.xlsx"},
		{original: "plan.xlsx", ext: "", want: "edited-plan"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Filename(tc.original, tc.ext), "Filename(%q, %q)", tc.original, tc.ext)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatXLSX, "xlsx": FormatXLSX, "pdf": FormatPDF, "docx": FormatDOCX} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("csv")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestWriteXLSXLayout(t *testing.T) {
	data, err := WriteXLSX(sampleSections(), teams)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())

	header, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Equal(t, checklist.Header(teams), header[0])
	assert.Equal(t, "1. Platform", header[1][0])

	merges, err := f.GetMergeCells(SheetName)
	require.NoError(t, err)
	require.Len(t, merges, 2)
	assert.Equal(t, "A2", merges[0].GetStartAxis())
	assert.Equal(t, "H2", merges[0].GetEndAxis())

	for col, want := range map[string]float64{"A": 30, "B": 50, "C": 20, "D": 30, "G": 20, "H": 30} {
		got, err := f.GetColWidth(SheetName, col)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 0.01, "column %s", col)
	}
}

func TestWriteXLSXReimports(t *testing.T) {
	sections := sampleSections()
	data, err := WriteXLSX(sections, teams)
	require.NoError(t, err)

	raws, err := sheet.Decode("edited-plan.xlsx", data)
	require.NoError(t, err)
	require.Len(t, raws, 1)

	back := checklist.Import(sheet.Normalize(raws[0]), teams)

	require.Len(t, back, 2)
	assert.Equal(t, "Platform", back[0].Name)
	assert.Equal(t, "Security", back[1].Name)
	assert.Empty(t, back[1].Items)
	require.Len(t, back[0].Items, 2)
	item := back[0].Items[0]
	assert.Equal(t, "1.1 Provision hosts", item.Name)
	assert.Equal(t, "Terraform apply", *item.Description)
	assert.Equal(t, sections[0].Items[0].Teams, item.Teams)
	assert.Nil(t, back[0].Items[1].Description)
}

func TestWriteXLSXEmpty(t *testing.T) {
	data, err := WriteXLSX(nil, teams)
	require.NoError(t, err)

	raws, err := sheet.Decode("x.xlsx", data)
	require.NoError(t, err)
	s := sheet.Normalize(raws[0])
	assert.Equal(t, checklist.Header(teams), s.Headers)
	assert.Empty(t, s.Rows)
}

func TestRenderChecklistHTML(t *testing.T) {
	data := NewTemplateData("edited-plan", sampleSections(), teams, time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC))
	assert.Equal(t, 2, data.ItemCount)
	assert.Equal(t, 8, data.Width)

	html, err := RenderChecklistHTML(data)
	require.NoError(t, err)

	assert.Contains(t, html, "<title>edited-plan</title>")
	assert.Contains(t, html, `colspan="8"`)
	assert.Contains(t, html, "1. Platform")
	assert.Contains(t, html, `class="status-done">Done (100%)`)
	assert.Contains(t, html, `class="status-progress">50% (In Progress)`)
	assert.Contains(t, html, "waiting &lt;on&gt; vendor", "cell text must be escaped")
	assert.Contains(t, html, "Mar 4, 2026 09:30")
}

func TestRenderChecklistHTMLEmpty(t *testing.T) {
	html, err := RenderChecklistHTML(NewTemplateData("edited-empty", nil, teams, time.Now()))
	require.NoError(t, err)
	assert.Contains(t, html, "No checklist sections were recognised")
}

func TestServiceExportFormats(t *testing.T) {
	var renderedHTML string
	svc := &Service{
		pdf: func(_ context.Context, html string) ([]byte, error) {
			renderedHTML = html
			return []byte("%PDF-1.7"), nil
		},
		docx: func(context.Context, string) ([]byte, error) {
			return nil, ErrDOCXDependencyMissing
		},
		now: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
	ctx := context.Background()
	req := Request{Filename: "plan.xlsx", Sections: sampleSections(), Teams: teams}

	req.Format = FormatXLSX
	res, err := svc.Export(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "edited-plan.xlsx", res.Filename)
	assert.Equal(t, xlsxMimeType, res.MimeType)
	assert.True(t, bytes.HasPrefix(res.Data, []byte("PK")), "xlsx is a zip container")

	req.Format = FormatPDF
	res, err = svc.Export(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "edited-plan.pdf", res.Filename)
	assert.Equal(t, "application/pdf", res.MimeType)
	assert.True(t, strings.Contains(renderedHTML, "Jan 1, 2026"))

	req.Format = FormatDOCX
	_, err = svc.Export(ctx, req)
	assert.True(t, errors.Is(err, ErrDOCXDependencyMissing))

	req.Format = "odt"
	_, err = svc.Export(ctx, req)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDataURLEncoding(t *testing.T) {
	assert.Equal(t, "data:text/html;charset=utf-8,a%20b%3Cp%3E%C3%A9", dataURL("a b<p>é"))
}

func TestRenderPDFWithoutChrome(t *testing.T) {
	if chromeAvailable() {
		t.Skip("chromium is installed; dependency check not exercised")
	}
	_, err := renderPDF(context.Background(), "<p>x</p>")
	assert.ErrorIs(t, err, ErrPDFDependencyMissing)
}
