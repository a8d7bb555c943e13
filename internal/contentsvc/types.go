// Package contentsvc talks to the remote Content, Asset and Workflow services
// that own pages, templates, widget assets and checkout state.
package contentsvc

import (
	"encoding/json"
	"fmt"

	"composer/api/internal/region"
)

// RegionBranches is the persisted page composition: the page-owned region
// subtrees plus the widgets placed in them.
type RegionBranches struct {
	Regions                  []*region.WireRegion `json:"regions"`
	RegionWidgetAssociations []region.Association `json:"regionWidgetAssociations"`
}

// Page is a page document. Fields the composer does not model are kept in
// extra and written back unchanged on save.
type Page struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	TemplateID     string         `json:"templateId"`
	Category       string         `json:"category,omitempty"`
	FolderPath     string         `json:"folderPath,omitempty"`
	RegionBranches RegionBranches `json:"regionBranches"`

	extra map[string]json.RawMessage
}

var pageKnownFields = map[string]struct{}{
	"id": {}, "name": {}, "templateId": {}, "category": {}, "folderPath": {}, "regionBranches": {},
}

type pageFields Page

func (p *Page) UnmarshalJSON(data []byte) error {
	var fields pageFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for key := range pageKnownFields {
		delete(all, key)
	}
	*p = Page(fields)
	if len(all) > 0 {
		p.extra = all
	}
	return nil
}

func (p Page) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(pageFields(p))
	if err != nil {
		return nil, err
	}
	if len(p.extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(p.extra)+len(pageKnownFields))
	for key, value := range p.extra {
		merged[key] = value
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, fmt.Errorf("merge page fields: %w", err)
	}
	for key, value := range fields {
		merged[key] = value
	}
	return json.Marshal(merged)
}

// WithBranches returns a copy of p carrying new region branches.
func (p Page) WithBranches(branches RegionBranches) Page {
	out := p
	out.RegionBranches = branches
	return out
}

type pageEnvelope struct {
	Page Page `json:"Page"`
}

type RegionTree struct {
	RootRegion               *region.WireRegion   `json:"rootRegion"`
	RegionWidgetAssociations []region.Association `json:"regionWidgetAssociations"`
}

type Template struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	RegionTree RegionTree `json:"regionTree"`
}

type templateEnvelope struct {
	Template Template `json:"Template"`
}

// AssetDropCriteria describes what may be dropped on a widget and whether its
// content is fixed by the template.
type AssetDropCriteria struct {
	WidgetID         string   `json:"widgetId"`
	Locked           bool     `json:"locked"`
	ExistingAsset    bool     `json:"existingAsset"`
	MultiItemSupport bool     `json:"multiItemSupport"`
	OwnerID          string   `json:"ownerId"`
	SupportedCtypes  []string `json:"supportedCtypes"`
	AssetShared      bool     `json:"assetShared"`
	RelationshipID   string   `json:"relationshipId"`
}

// Supports reports whether contentType may be dropped on the widget. An empty
// list accepts everything.
func (c AssetDropCriteria) Supports(contentType string) bool {
	if len(c.SupportedCtypes) == 0 {
		return true
	}
	for _, ctype := range c.SupportedCtypes {
		if ctype == contentType {
			return true
		}
	}
	return false
}

// AssetRelationship binds an asset to a widget instance on a page or template.
type AssetRelationship struct {
	OwnerID                string `json:"ownerId"`
	WidgetID               string `json:"widgetId"`
	WidgetName             string `json:"widgetName,omitempty"`
	AssetID                string `json:"assetId"`
	AssetOrder             int    `json:"assetOrder"`
	ReplacedRelationshipID string `json:"replacedRelationshipId,omitempty"`
}

type CheckoutStatus struct {
	ItemID       string `json:"itemId"`
	CheckedOut   bool   `json:"checkedOut"`
	CheckedOutBy string `json:"checkedOutBy"`
}

// CheckedOutTo reports whether the item is checked out to user.
func (s CheckoutStatus) CheckedOutTo(user string) bool {
	return s.CheckedOut && user != "" && s.CheckedOutBy == user
}
