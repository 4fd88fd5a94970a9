// Package checklist rebuilds a two-level checklist (sections → items → per-team status and
// comment) from flat sheet rows, and flattens it back for export.
package checklist

// Section is a numbered group of items. ID is an arena index assigned per reconstruction.
type Section struct {
	ID              int    `json:"gid"`
	Number          string `json:"number"`
	Name            string `json:"name"`
	ProgressIndices []int  `json:"progressIndices"`
	Items           []Item `json:"items"`
}

// Item is a single checklist entry. ID is sequential across all sections of one pass.
type Item struct {
	ID          int         `json:"iid"`
	Name        string      `json:"name"`
	Description *string     `json:"description"`
	Teams       []TeamEntry `json:"teamData"`
}

// TeamEntry is one team's status and comment on an item.
type TeamEntry struct {
	Team    string  `json:"team"`
	Status  string  `json:"status"`
	Comment *string `json:"comment"`
}

// Team returns the entry recorded for team, if any.
func (it Item) Team(team string) (TeamEntry, bool) {
	for _, entry := range it.Teams {
		if entry.Team == team {
			return entry, true
		}
	}
	return TeamEntry{}, false
}

// mergeTeam records status/comment for team. Non-empty values overwrite an existing entry;
// empty values never blank one.
func (it *Item) mergeTeam(team, status, comment string) {
	for i := range it.Teams {
		if it.Teams[i].Team != team {
			continue
		}
		if status != "" {
			it.Teams[i].Status = status
		}
		if comment != "" {
			it.Teams[i].Comment = stringPtr(comment)
		}
		return
	}
	it.Teams = append(it.Teams, TeamEntry{Team: team, Status: status, Comment: nilIfEmpty(comment)})
}

func stringPtr(value string) *string {
	return &value
}

func nilIfEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
