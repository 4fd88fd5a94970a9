package checklist

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("checklist entry not found")
	ErrInvalidEdit = errors.New("invalid checklist edit")
)

// EditKind names the single field an Edit replaces.
type EditKind string

const (
	EditSectionName EditKind = "sectionName"
	EditItemName    EditKind = "itemName"
	EditDescription EditKind = "description"
	EditStatus      EditKind = "status"
	EditComment     EditKind = "comment"
)

// Edit replaces one field on one section or item.
type Edit struct {
	Kind    EditKind `json:"type"`
	GID     int      `json:"gid"`
	IID     *int     `json:"iid,omitempty"`
	TeamIdx *int     `json:"teamIdx,omitempty"`
	Value   string   `json:"value"`
}

// Apply returns a copy of sections with edit applied. Only the path from the root to the
// edited field is copied; every other section, item and team entry is shared unchanged.
func Apply(sections []Section, teams []string, edit Edit) ([]Section, error) {
	sIdx := -1
	for i := range sections {
		if sections[i].ID == edit.GID {
			sIdx = i
			break
		}
	}
	if sIdx < 0 {
		return nil, fmt.Errorf("%w: section %d", ErrNotFound, edit.GID)
	}

	section := sections[sIdx]
	switch edit.Kind {
	case EditSectionName:
		section.Name = edit.Value
	case EditItemName, EditDescription, EditStatus, EditComment:
		items, err := applyItemEdit(section.Items, teams, edit)
		if err != nil {
			return nil, err
		}
		section.Items = items
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEdit, edit.Kind)
	}

	out := make([]Section, len(sections))
	copy(out, sections)
	out[sIdx] = section
	return out, nil
}

func applyItemEdit(items []Item, teams []string, edit Edit) ([]Item, error) {
	if edit.IID == nil {
		return nil, fmt.Errorf("%w: iid is required for %s", ErrInvalidEdit, edit.Kind)
	}
	iIdx := -1
	for i := range items {
		if items[i].ID == *edit.IID {
			iIdx = i
			break
		}
	}
	if iIdx < 0 {
		return nil, fmt.Errorf("%w: item %d in section %d", ErrNotFound, *edit.IID, edit.GID)
	}

	item := items[iIdx]
	switch edit.Kind {
	case EditItemName:
		item.Name = edit.Value
	case EditDescription:
		item.Description = nilIfEmpty(edit.Value)
	case EditStatus, EditComment:
		if edit.TeamIdx == nil || *edit.TeamIdx < 0 || *edit.TeamIdx >= len(teams) {
			return nil, fmt.Errorf("%w: teamIdx out of range", ErrInvalidEdit)
		}
		item.Teams = applyTeamEdit(item.Teams, teams[*edit.TeamIdx], edit)
	}

	out := make([]Item, len(items))
	copy(out, items)
	out[iIdx] = item
	return out, nil
}

// applyTeamEdit replaces the status or comment of team's entry. A team without an entry gets
// one when the new value is non-empty.
func applyTeamEdit(entries []TeamEntry, team string, edit Edit) []TeamEntry {
	out := make([]TeamEntry, len(entries))
	copy(out, entries)
	for i := range out {
		if out[i].Team != team {
			continue
		}
		if edit.Kind == EditStatus {
			out[i].Status = edit.Value
		} else {
			out[i].Comment = nilIfEmpty(edit.Value)
		}
		return out
	}
	if edit.Value == "" {
		return out
	}
	entry := TeamEntry{Team: team}
	if edit.Kind == EditStatus {
		entry.Status = edit.Value
	} else {
		entry.Comment = stringPtr(edit.Value)
	}
	return append(out, entry)
}
