package region

// WireRegion is the persisted shape of a region. Widgets travel separately
// as Associations.
type WireRegion struct {
	RegionID     string        `json:"regionId"`
	Children     []*WireRegion `json:"children"`
	Fixed        bool          `json:"fixed"`
	Vertical     bool          `json:"vertical"`
	Width        Dimension     `json:"width,omitempty"`
	Height       Dimension     `json:"height,omitempty"`
	CSSClass     string        `json:"cssClass,omitempty"`
	Padding      string        `json:"padding,omitempty"`
	Margin       string        `json:"margin,omitempty"`
	Attributes   []Attribute   `json:"attributes,omitempty"`
	NoAutoResize bool          `json:"noAutoResize,omitempty"`
}

// Association lists the widgets placed in one region.
type Association struct {
	RegionID    string      `json:"regionId"`
	WidgetItems []WidgetRef `json:"widgetItems"`
}

func ToWire(r *Region) *WireRegion {
	if r == nil {
		return nil
	}
	out := &WireRegion{
		RegionID:     r.RegionID,
		Children:     make([]*WireRegion, 0, len(r.Children)),
		Fixed:        r.Fixed,
		Vertical:     r.Vertical,
		Width:        r.Width,
		Height:       r.Height,
		CSSClass:     r.CSSClass,
		Padding:      r.Padding,
		Margin:       r.Margin,
		NoAutoResize: r.NoAutoResize,
	}
	if len(r.Attributes) > 0 {
		out.Attributes = append([]Attribute(nil), r.Attributes...)
	}
	for _, child := range r.Children {
		out.Children = append(out.Children, ToWire(child))
	}
	return out
}

func fromWire(w *WireRegion, owner Owner) *Region {
	if w == nil {
		return nil
	}
	out := &Region{
		RegionID:     w.RegionID,
		Owner:        owner,
		Children:     make([]*Region, 0, len(w.Children)),
		Widgets:      []WidgetRef{},
		Fixed:        w.Fixed,
		Vertical:     w.Vertical,
		Width:        w.Width,
		Height:       w.Height,
		CSSClass:     w.CSSClass,
		Padding:      w.Padding,
		Margin:       w.Margin,
		NoAutoResize: w.NoAutoResize,
	}
	if len(w.Attributes) > 0 {
		out.Attributes = append([]Attribute(nil), w.Attributes...)
	}
	for _, child := range w.Children {
		if child == nil {
			continue
		}
		out.Children = append(out.Children, fromWire(child, owner))
	}
	return out
}

// Branches serializes the page-authored parts of root: the whole tree when
// root is page-owned, otherwise one branch per maximal page-owned subtree.
func Branches(root *Region) []*WireRegion {
	branches := []*WireRegion{}
	collectBranches(root, &branches)
	return branches
}

func collectBranches(r *Region, out *[]*WireRegion) {
	if r == nil {
		return
	}
	if r.Owner == OwnerPage {
		*out = append(*out, ToWire(r))
		return
	}
	for _, child := range r.Children {
		collectBranches(child, out)
	}
}

// Associations lists, in pre-order, every region that holds widgets.
func Associations(root *Region) []Association {
	out := []Association{}
	EachRegion(root, func(r *Region) {
		if len(r.Widgets) == 0 {
			return
		}
		out = append(out, Association{
			RegionID:    r.RegionID,
			WidgetItems: append([]WidgetRef(nil), r.Widgets...),
		})
	})
	return out
}

// ParseTemplate builds a template-owned tree and joins the widget
// associations onto it.
func ParseTemplate(root *WireRegion, associations []Association) *Region {
	tree := fromWire(root, OwnerTemplate)
	if tree == nil {
		return nil
	}
	joinAssociations(func(regionID string) *Region { return Find(tree, regionID) }, associations)
	return tree
}

// ParsePageRegions builds the page override map keyed by branch root id.
// Association entries may target any region inside a branch; entries that
// match nothing are ignored.
func ParsePageRegions(branches []*WireRegion, associations []Association) map[string]*Region {
	regions := make(map[string]*Region, len(branches))
	byID := make(map[string]*Region)
	for _, branch := range branches {
		tree := fromWire(branch, OwnerPage)
		if tree == nil {
			continue
		}
		regions[tree.RegionID] = tree
		EachRegion(tree, func(r *Region) {
			if _, exists := byID[r.RegionID]; !exists {
				byID[r.RegionID] = r
			}
		})
	}
	joinAssociations(func(regionID string) *Region { return byID[regionID] }, associations)
	return regions
}

func joinAssociations(lookup func(string) *Region, associations []Association) {
	for _, assoc := range associations {
		target := lookup(assoc.RegionID)
		if target == nil {
			continue
		}
		target.Widgets = append([]WidgetRef{}, assoc.WidgetItems...)
	}
}
