// Package search indexes which widget definitions each saved page uses so
// editors can find every page affected by a widget change.
package search

import (
	"time"

	"composer/api/internal/region"
	"composer/api/internal/store"
)

// Usage is the indexed record for one page, as of its latest save.
type Usage struct {
	ID            string   `json:"id"`
	PageID        string   `json:"pageId"`
	TemplateID    string   `json:"templateId"`
	RegionIDs     []string `json:"regionIds"`
	WidgetIDs     []string `json:"widgetIds"`
	DefinitionIDs []string `json:"definitionIds"`
	SavedAt       int64    `json:"savedAt"`
}

// Response is the envelope returned by the usage endpoint.
type Response struct {
	DefinitionID string  `json:"definitionId"`
	Pages        []Usage `json:"pages"`
	Total        int     `json:"total"`
	Source       string  `json:"source"`
}

// UsageFromTree builds the usage record of a page from its effective tree.
// Only regions that carry widgets are listed.
func UsageFromTree(pageID, templateID string, root *region.Region, savedAt time.Time) Usage {
	usage := Usage{
		ID:            pageID,
		PageID:        pageID,
		TemplateID:    templateID,
		RegionIDs:     []string{},
		WidgetIDs:     []string{},
		DefinitionIDs: []string{},
		SavedAt:       savedAt.Unix(),
	}
	seen := map[string]struct{}{}
	for _, assoc := range region.Associations(root) {
		usage.RegionIDs = append(usage.RegionIDs, assoc.RegionID)
		for _, widget := range assoc.WidgetItems {
			usage.WidgetIDs = append(usage.WidgetIDs, widget.ID)
			if widget.DefinitionID == "" {
				continue
			}
			if _, ok := seen[widget.DefinitionID]; ok {
				continue
			}
			seen[widget.DefinitionID] = struct{}{}
			usage.DefinitionIDs = append(usage.DefinitionIDs, widget.DefinitionID)
		}
	}
	return usage
}

func usageFromSave(save store.PageSave) Usage {
	return Usage{
		ID:            save.PageID,
		PageID:        save.PageID,
		TemplateID:    save.TemplateID,
		RegionIDs:     nonNilStrings(save.RegionIDs),
		WidgetIDs:     nonNilStrings(save.WidgetIDs),
		DefinitionIDs: nonNilStrings(save.DefinitionIDs),
		SavedAt:       save.SavedAt.Unix(),
	}
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
