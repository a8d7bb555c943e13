package region

import "sort"

// MergeReport describes what happened to each page region during a merge.
type MergeReport struct {
	Applied []string `json:"applied"`
	// Orphaned page regions name no region in the template at all.
	Orphaned []string `json:"orphaned,omitempty"`
	// NonLeaf page regions name a template region that has its own content.
	NonLeaf []string `json:"nonLeaf,omitempty"`
}

func (m MergeReport) HasWarnings() bool {
	return len(m.Orphaned) > 0 || len(m.NonLeaf) > 0
}

// Merge produces the effective page tree by splicing page regions into the
// empty template slots with matching ids. The template is cloned first and is
// never modified. Only template leaves can be overridden; page regions that do
// not land on one are dropped and listed in the report.
func Merge(template *Region, page map[string]*Region) (*Region, MergeReport) {
	merged := Clone(template)
	report := MergeReport{}
	applied := make(map[string]struct{}, len(page))
	nonLeaf := make(map[string]struct{})

	EachRegion(merged, func(r *Region) {
		override, ok := page[r.RegionID]
		if !ok || override == nil {
			return
		}
		if !IsTemplateLeaf(r) {
			if r.Owner == OwnerTemplate {
				nonLeaf[r.RegionID] = struct{}{}
			}
			return
		}
		applyOverride(r, override)
		applied[r.RegionID] = struct{}{}
	})

	for regionID := range page {
		if _, ok := applied[regionID]; ok {
			report.Applied = append(report.Applied, regionID)
			continue
		}
		if _, ok := nonLeaf[regionID]; ok {
			report.NonLeaf = append(report.NonLeaf, regionID)
			continue
		}
		report.Orphaned = append(report.Orphaned, regionID)
	}
	sort.Strings(report.Applied)
	sort.Strings(report.Orphaned)
	sort.Strings(report.NonLeaf)
	return merged, report
}

func applyOverride(target, override *Region) {
	children := make([]*Region, 0, len(override.Children))
	for _, child := range override.Children {
		copied := Clone(child)
		setOwner(copied, OwnerPage)
		children = append(children, copied)
	}
	target.Children = children
	target.Widgets = append([]WidgetRef{}, override.Widgets...)
	target.Fixed = override.Fixed
	target.Vertical = override.Vertical
	target.Height = override.Height
	target.Width = override.Width
	target.Owner = OwnerPage
}
