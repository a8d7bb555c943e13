package region

// Walk visits root and its descendants in pre-order, each node before its
// children. The walk stops as soon as fn returns false; Walk reports whether
// it ran to completion.
func Walk(root *Region, fn func(r, parent *Region) bool) bool {
	if root == nil {
		return true
	}
	return walk(root, nil, fn)
}

func walk(r, parent *Region, fn func(r, parent *Region) bool) bool {
	if !fn(r, parent) {
		return false
	}
	for _, child := range r.Children {
		if !walk(child, r, fn) {
			return false
		}
	}
	return true
}

// EachRegion visits every region under root in pre-order.
func EachRegion(root *Region, fn func(r *Region)) {
	Walk(root, func(r, _ *Region) bool {
		fn(r)
		return true
	})
}

func Find(root *Region, regionID string) *Region {
	var found *Region
	Walk(root, func(r, _ *Region) bool {
		if r.RegionID == regionID {
			found = r
			return false
		}
		return true
	})
	return found
}

// FindParent returns the region whose children include regionID.
func FindParent(root *Region, regionID string) *Region {
	var found *Region
	Walk(root, func(r, parent *Region) bool {
		if r.RegionID == regionID && parent != nil {
			found = parent
			return false
		}
		return true
	})
	return found
}

// FindWidget returns the first region, in pre-order, holding widgetID and the
// widget's index within it.
func FindWidget(root *Region, widgetID string) (*Region, int) {
	var (
		found *Region
		index = -1
	)
	Walk(root, func(r, _ *Region) bool {
		for i, widget := range r.Widgets {
			if widget.ID == widgetID {
				found, index = r, i
				return false
			}
		}
		return true
	})
	return found, index
}

// RegionIDs lists every region id under root in pre-order.
func RegionIDs(root *Region) []string {
	var ids []string
	EachRegion(root, func(r *Region) {
		ids = append(ids, r.RegionID)
	})
	return ids
}

// WidgetRefs lists every widget placed under root in pre-order.
func WidgetRefs(root *Region) []WidgetRef {
	var widgets []WidgetRef
	EachRegion(root, func(r *Region) {
		widgets = append(widgets, r.Widgets...)
	})
	return widgets
}

// DuplicateIDs returns region ids that occur more than once under root.
func DuplicateIDs(root *Region) []string {
	seen := make(map[string]int)
	var dups []string
	EachRegion(root, func(r *Region) {
		seen[r.RegionID]++
		if seen[r.RegionID] == 2 {
			dups = append(dups, r.RegionID)
		}
	})
	return dups
}

func setOwner(root *Region, owner Owner) {
	EachRegion(root, func(r *Region) {
		r.Owner = owner
	})
}
