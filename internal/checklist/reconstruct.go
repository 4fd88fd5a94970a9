package checklist

import (
	"regexp"
	"strings"

	"sheetdesk/api/internal/sheet"
)

// descriptionStart is the first column scanned for item descriptions.
const descriptionStart = 3

var sectionOrdinal = regexp.MustCompile(`^\d+$`)

// RowKind classifies one data row against the current scan state.
type RowKind int

const (
	RowBlank RowKind = iota
	RowSectionStart
	RowItemStart
	RowContinuation
	RowIgnored
)

// Classify decides what a row means given whether a section and an item are open.
func Classify(row []sheet.Cell, inSection, inItem bool) RowKind {
	if isBlankRow(row) {
		return RowBlank
	}
	col0, col1, col2 := leadingColumns(row)
	if col0 == "" && sectionOrdinal.MatchString(col1) && col2 != "" {
		return RowSectionStart
	}
	if !inSection {
		return RowIgnored
	}
	if col1 != "" && containsDot(col1) {
		return RowItemStart
	}
	if inItem {
		return RowContinuation
	}
	return RowIgnored
}

// Reconstruct scans data rows once and rebuilds the checklist. Rows before the first
// section are discarded; a section is kept even when it collects no items.
func Reconstruct(rows [][]sheet.Cell, teams []string) []Section {
	b := newBuilder(teams)
	for _, row := range rows {
		b.consume(row)
	}
	return b.finish()
}

type builder struct {
	teams    []string
	sections []Section
	section  *Section
	item     *Item
	nextGID  int
	nextIID  int
}

func newBuilder(teams []string) *builder {
	return &builder{teams: teams, sections: []Section{}}
}

func (b *builder) consume(row []sheet.Cell) {
	switch Classify(row, b.section != nil, b.item != nil) {
	case RowSectionStart:
		b.openSection(row)
	case RowItemStart:
		b.openItem(row)
		b.collectTeams(row)
	case RowContinuation:
		b.collectTeams(row)
		b.extendDescription(row)
	}
}

func (b *builder) finish() []Section {
	b.closeSection()
	return b.sections
}

// closeItem moves the open item into the open section.
func (b *builder) closeItem() {
	if b.item != nil && b.section != nil {
		b.section.Items = append(b.section.Items, *b.item)
	}
	b.item = nil
}

// closeSection flushes the open item and then the open section into the result.
func (b *builder) closeSection() {
	b.closeItem()
	if b.section != nil {
		b.sections = append(b.sections, *b.section)
	}
	b.section = nil
}

func (b *builder) openSection(row []sheet.Cell) {
	b.closeSection()
	_, col1, col2 := leadingColumns(row)

	progress := []int{}
	for idx, cell := range row {
		if cell.IsNumber() {
			progress = append(progress, idx)
		}
	}

	b.section = &Section{
		ID:              b.nextGID,
		Number:          col1,
		Name:            col2,
		ProgressIndices: progress,
		Items:           []Item{},
	}
	b.nextGID++
}

func (b *builder) openItem(row []sheet.Cell) {
	b.closeItem()
	_, col1, col2 := leadingColumns(row)

	name := joinNonEmpty(col1, col2)
	description := b.descriptionCandidate(row)
	if description == col2 || strings.Contains(name, description) {
		description = ""
	}

	b.item = &Item{
		ID:          b.nextIID,
		Name:        name,
		Description: nilIfEmpty(description),
		Teams:       []TeamEntry{},
	}
	b.nextIID++
}

func (b *builder) extendDescription(row []sheet.Cell) {
	candidate := b.descriptionCandidate(row)
	if candidate == "" {
		return
	}
	if jsLength(candidate) > jsLength(deref(b.item.Description)) {
		b.item.Description = stringPtr(candidate)
	}
}

// descriptionCandidate returns the longest trimmed cell between the description start and
// the first progress column; ties keep the leftmost.
func (b *builder) descriptionCandidate(row []sheet.Cell) string {
	end := len(row)
	if len(b.section.ProgressIndices) > 0 {
		end = b.section.ProgressIndices[0]
	}
	if end > len(row) {
		end = len(row)
	}
	best := ""
	for i := descriptionStart; i < end; i++ {
		value := row[i].Trimmed()
		if jsLength(value) > jsLength(best) {
			best = value
		}
	}
	return best
}

func (b *builder) collectTeams(row []sheet.Cell) {
	progress := b.section.ProgressIndices
	for t := 0; t < len(b.teams) && t < len(progress); t++ {
		idx := progress[t]
		var cell sheet.Cell
		if idx < len(row) {
			cell = row[idx]
		}
		status := statusFor(cell)

		end := len(row)
		if t+1 < len(progress) && t+1 < len(b.teams) {
			end = progress[t+1]
		}
		comment := commentFor(row, idx+1, end)

		if status == "" && comment == "" {
			continue
		}
		b.item.mergeTeam(b.teams[t], status, comment)
	}
}

func leadingColumns(row []sheet.Cell) (string, string, string) {
	var cols [3]string
	for i := 0; i < len(cols) && i < len(row); i++ {
		cols[i] = row[i].Trimmed()
	}
	return cols[0], cols[1], cols[2]
}

func isBlankRow(row []sheet.Cell) bool {
	for _, cell := range row {
		if !cell.IsBlank() {
			return false
		}
	}
	return true
}

func joinNonEmpty(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, " ")
}
