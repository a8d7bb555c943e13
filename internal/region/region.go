// Package region models the page composition tree: template layout regions,
// page overrides spliced into template leaves, and the widgets placed in them.
package region

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Owner records who authored a region's content.
type Owner string

const (
	OwnerTemplate Owner = "template"
	OwnerPage     Owner = "page"
)

var (
	ErrDuplicateRegionID = errors.New("region id already in use")
	ErrReservedAttribute = errors.New("reserved attribute name")
	ErrUnknownViewType   = errors.New("unknown view type")
)

var reservedAttributes = map[string]struct{}{
	"id":    {},
	"title": {},
	"href":  {},
	"name":  {},
}

// Dimension is a CSS size that is either a number of pixels or "auto".
type Dimension string

const Auto Dimension = "auto"

func (d Dimension) IsAuto() bool {
	return d == "" || strings.EqualFold(string(d), string(Auto))
}

// Pixels returns the numeric value of d. ok is false for "auto" and
// unparseable values.
func (d Dimension) Pixels() (float64, bool) {
	if d.IsAuto() {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.TrimSuffix(string(d), "px"), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// UnmarshalJSON accepts both `200` and `"200"` / `"auto"`.
func (d *Dimension) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = ""
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*d = Dimension(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("dimension must be a number or string: %s", string(data))
	}
	*d = Dimension(number.String())
	return nil
}

// WidgetRef places a widget instance in a region.
type WidgetRef struct {
	ID           string `json:"id"`
	DefinitionID string `json:"definitionId"`
	AssetID      string `json:"assetId,omitempty"`
}

type Attribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Region struct {
	RegionID     string      `json:"regionId"`
	Owner        Owner       `json:"owner"`
	Children     []*Region   `json:"children"`
	Widgets      []WidgetRef `json:"widgets"`
	Fixed        bool        `json:"fixed"`
	Vertical     bool        `json:"vertical"`
	Width        Dimension   `json:"width"`
	Height       Dimension   `json:"height"`
	CSSClass     string      `json:"cssClass,omitempty"`
	Padding      string      `json:"padding,omitempty"`
	Margin       string      `json:"margin,omitempty"`
	Attributes   []Attribute `json:"attributes,omitempty"`
	NoAutoResize bool        `json:"noAutoResize,omitempty"`
}

// IsTemplateLeaf reports whether r is an empty template slot that a page
// may fill. It is computed from the current structure on every call.
func IsTemplateLeaf(r *Region) bool {
	return r != nil && r.Owner == OwnerTemplate && len(r.Children) == 0 && len(r.Widgets) == 0
}

// CanOverride reports whether edits to r are allowed.
func CanOverride(r *Region) bool {
	if r == nil {
		return false
	}
	return r.Owner == OwnerPage || IsTemplateLeaf(r)
}

// AddChild inserts child at index. A negative or out of range index appends.
func (r *Region) AddChild(child *Region, index int) {
	if index < 0 || index >= len(r.Children) {
		r.Children = append(r.Children, child)
		return
	}
	r.Children = append(r.Children, nil)
	copy(r.Children[index+1:], r.Children[index:])
	r.Children[index] = child
}

// RemoveChild detaches the direct child with the given id.
func (r *Region) RemoveChild(regionID string) (*Region, bool) {
	for i, child := range r.Children {
		if child.RegionID == regionID {
			r.Children = append(r.Children[:i], r.Children[i+1:]...)
			return child, true
		}
	}
	return nil, false
}

// AddWidget inserts w at index. A negative or out of range index appends.
func (r *Region) AddWidget(w WidgetRef, index int) {
	if index < 0 || index >= len(r.Widgets) {
		r.Widgets = append(r.Widgets, w)
		return
	}
	r.Widgets = append(r.Widgets, WidgetRef{})
	copy(r.Widgets[index+1:], r.Widgets[index:])
	r.Widgets[index] = w
}

func (r *Region) RemoveWidget(widgetID string) (WidgetRef, bool) {
	for i, widget := range r.Widgets {
		if widget.ID == widgetID {
			r.Widgets = append(r.Widgets[:i], r.Widgets[i+1:]...)
			return widget, true
		}
	}
	return WidgetRef{}, false
}

// SetAttribute adds or replaces an HTML attribute rendered on the region.
func (r *Region) SetAttribute(name, value string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("attribute name is required")
	}
	if _, reserved := reservedAttributes[strings.ToLower(name)]; reserved {
		return fmt.Errorf("%w: %s", ErrReservedAttribute, name)
	}
	for i := range r.Attributes {
		if r.Attributes[i].Name == name {
			r.Attributes[i].Value = value
			return nil
		}
	}
	r.Attributes = append(r.Attributes, Attribute{Name: name, Value: value})
	return nil
}

func (r *Region) RemoveAttribute(name string) bool {
	for i := range r.Attributes {
		if r.Attributes[i].Name == name {
			r.Attributes = append(r.Attributes[:i], r.Attributes[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy of r.
func Clone(r *Region) *Region {
	if r == nil {
		return nil
	}
	out := *r
	if r.Children != nil {
		out.Children = make([]*Region, len(r.Children))
		for i, child := range r.Children {
			out.Children[i] = Clone(child)
		}
	}
	if r.Widgets != nil {
		out.Widgets = make([]WidgetRef, len(r.Widgets))
		copy(out.Widgets, r.Widgets)
	}
	if r.Attributes != nil {
		out.Attributes = make([]Attribute, len(r.Attributes))
		copy(out.Attributes, r.Attributes)
	}
	return &out
}

// EditResult tells callers why an edit did or did not happen.
type EditResult int

const (
	NotFound EditResult = iota
	NotEligible
	Found
)

func (e EditResult) String() string {
	switch e {
	case Found:
		return "found"
	case NotEligible:
		return "not_eligible"
	default:
		return "not_found"
	}
}
