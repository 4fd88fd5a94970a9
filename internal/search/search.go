package search

import (
	"strconv"

	"sheetdesk/api/internal/checklist"
)

// Engine names the backend that answered a search.
type Engine string

const (
	EngineMeili  Engine = "meilisearch"
	EngineMemory Engine = "memory"
)

// Query describes an item search inside one checklist session.
type Query struct {
	SessionID string
	Text      string
	Limit     int
}

// Response is the envelope returned by the search endpoint. Sections has the same shape as
// the workspace hierarchy, narrowed to the matching items.
type Response struct {
	Query    string              `json:"query"`
	Engine   Engine              `json:"engine"`
	Total    int                 `json:"total"`
	Sections []checklist.Section `json:"sections"`
}

// ItemRef addresses one item in a session's hierarchy.
type ItemRef struct {
	GID int
	IID int
}

// ItemRecord is the data we index for a checklist item.
type ItemRecord struct {
	ID          string   `json:"id"`
	SessionID   string   `json:"sessionId"`
	GID         int      `json:"gid"`
	IID         int      `json:"iid"`
	SectionName string   `json:"sectionName"`
	ItemName    string   `json:"itemName"`
	Description string   `json:"description"`
	Statuses    []string `json:"statuses"`
	Comments    []string `json:"comments"`
}

// Searcher finds items of one session.
type Searcher interface {
	SearchItems(q Query) ([]ItemRef, int, error)
	Healthy() bool
}

// Indexer replaces the indexed items of a session.
type Indexer interface {
	IndexSession(sessionID string, records []ItemRecord) error
	DeleteSession(sessionID string) error
}

// RecordID is the primary key of an item document. Meilisearch ids allow only
// alphanumerics, '-' and '_'.
func RecordID(sessionID string, iid int) string {
	return sessionID + "_" + strconv.Itoa(iid)
}

// Records flattens a hierarchy into one index document per item.
func Records(sessionID string, sections []checklist.Section) []ItemRecord {
	records := make([]ItemRecord, 0)
	for _, section := range sections {
		for _, item := range section.Items {
			rec := ItemRecord{
				ID:          RecordID(sessionID, item.ID),
				SessionID:   sessionID,
				GID:         section.ID,
				IID:         item.ID,
				SectionName: section.Name,
				ItemName:    item.Name,
				Statuses:    []string{},
				Comments:    []string{},
			}
			if item.Description != nil {
				rec.Description = *item.Description
			}
			for _, entry := range item.Teams {
				if entry.Status != "" {
					rec.Statuses = append(rec.Statuses, entry.Status)
				}
				if entry.Comment != nil {
					rec.Comments = append(rec.Comments, *entry.Comment)
				}
			}
			records = append(records, rec)
		}
	}
	return records
}

// Narrow keeps only the referenced items, preserving hierarchy order. Sections left
// without items are dropped.
func Narrow(sections []checklist.Section, refs []ItemRef) []checklist.Section {
	wanted := make(map[ItemRef]struct{}, len(refs))
	for _, ref := range refs {
		wanted[ref] = struct{}{}
	}
	out := []checklist.Section{}
	for _, section := range sections {
		var kept []checklist.Item
		for _, item := range section.Items {
			if _, ok := wanted[ItemRef{GID: section.ID, IID: item.ID}]; ok {
				kept = append(kept, item)
			}
		}
		if len(kept) == 0 {
			continue
		}
		section.Items = kept
		out = append(out, section)
	}
	return out
}

func countItems(sections []checklist.Section) int {
	n := 0
	for _, section := range sections {
		n += len(section.Items)
	}
	return n
}
