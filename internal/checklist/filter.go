package checklist

import "strings"

// Filter keeps items whose name, description, or any team status or comment contains term
// (case-insensitive). Sections left without items are dropped. An empty term returns the
// input unchanged.
func Filter(sections []Section, term string) []Section {
	if term == "" {
		return sections
	}
	needle := strings.ToLower(term)

	out := []Section{}
	for _, section := range sections {
		var kept []Item
		for _, item := range section.Items {
			if itemMatches(item, needle) {
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

func itemMatches(item Item, needle string) bool {
	if strings.Contains(strings.ToLower(item.Name), needle) {
		return true
	}
	if item.Description != nil && strings.Contains(strings.ToLower(*item.Description), needle) {
		return true
	}
	for _, entry := range item.Teams {
		if strings.Contains(strings.ToLower(entry.Status), needle) {
			return true
		}
		if entry.Comment != nil && strings.Contains(strings.ToLower(*entry.Comment), needle) {
			return true
		}
	}
	return false
}
