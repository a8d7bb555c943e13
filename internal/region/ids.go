package region

import (
	"math"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring"
)

const tempRegionMarker = "temp-region-"

// IDIndex is the side-table of region ids known to a tree. Generated
// "temp-region-N" counters are tracked per prefix in bitmaps so allocation
// can find the lowest free N without rescanning the tree.
type IDIndex struct {
	ids  map[string]struct{}
	temp map[string]*roaring.Bitmap
}

// NewIDIndex builds the index from a full walk of root.
func NewIDIndex(root *Region) *IDIndex {
	index := &IDIndex{
		ids:  make(map[string]struct{}),
		temp: make(map[string]*roaring.Bitmap),
	}
	EachRegion(root, func(r *Region) {
		index.Add(r.RegionID)
	})
	return index
}

func (x *IDIndex) Contains(regionID string) bool {
	_, ok := x.ids[regionID]
	return ok
}

func (x *IDIndex) Len() int {
	return len(x.ids)
}

func (x *IDIndex) Add(regionID string) {
	if regionID == "" {
		return
	}
	x.ids[regionID] = struct{}{}
	if prefix, n, ok := parseTempID(regionID); ok {
		bm := x.temp[prefix]
		if bm == nil {
			bm = roaring.New()
			x.temp[prefix] = bm
		}
		bm.Add(n)
	}
}

func (x *IDIndex) Remove(regionID string) {
	delete(x.ids, regionID)
	if prefix, n, ok := parseTempID(regionID); ok {
		if bm := x.temp[prefix]; bm != nil {
			bm.Remove(n)
		}
	}
}

// Allocate reserves and returns "<prefix>temp-region-<N>" where N is the
// smallest positive integer not already taken.
func (x *IDIndex) Allocate(prefix string) string {
	bm := x.temp[prefix]
	for n := uint32(1); ; n++ {
		if bm != nil && bm.Contains(n) {
			continue
		}
		candidate := prefix + tempRegionMarker + strconv.FormatUint(uint64(n), 10)
		if x.Contains(candidate) {
			continue
		}
		x.Add(candidate)
		return candidate
	}
}

func parseTempID(regionID string) (string, uint32, bool) {
	at := strings.LastIndex(regionID, tempRegionMarker)
	if at < 0 {
		return "", 0, false
	}
	digits := regionID[at+len(tempRegionMarker):]
	if digits == "" || digits[0] == '0' {
		return "", 0, false
	}
	n, err := strconv.ParseUint(digits, 10, 32)
	if err != nil || n == 0 || n > math.MaxUint32 {
		return "", 0, false
	}
	return regionID[:at], uint32(n), true
}

// NewRegion returns an empty page-owned region with a freshly allocated id.
func NewRegion(index *IDIndex, prefix string) *Region {
	return &Region{
		RegionID: index.Allocate(prefix),
		Owner:    OwnerPage,
		Children: []*Region{},
		Widgets:  []WidgetRef{},
		Vertical: true,
		Fixed:    false,
		Width:    "200",
		Height:   Auto,
	}
}
