package store

import "time"

// PageSave is one row of the save ledger: what a page looked like after a
// successful save.
type PageSave struct {
	ID                string    `json:"id"`
	PageID            string    `json:"pageId"`
	TemplateID        string    `json:"templateId"`
	SavedBy           string    `json:"savedBy"`
	RegionIDs         []string  `json:"regionIds"`
	WidgetIDs         []string  `json:"widgetIds"`
	DefinitionIDs     []string  `json:"definitionIds"`
	OrphanedRegionIDs []string  `json:"orphanedRegionIds,omitempty"`
	NonLeafRegionIDs  []string  `json:"nonLeafRegionIds,omitempty"`
	CommitHash        string    `json:"commitHash,omitempty"`
	SavedAt           time.Time `json:"savedAt"`
}
