package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateSkipsExistingIDs(t *testing.T) {
	root := &Region{
		RegionID: "root",
		Owner:    OwnerPage,
		Children: []*Region{
			{RegionID: "temp-region-1", Owner: OwnerPage},
			{RegionID: "temp-region-2", Owner: OwnerPage},
		},
	}
	index := NewIDIndex(root)

	created := NewRegion(index, "")
	assert.Equal(t, "temp-region-3", created.RegionID)
	assert.Equal(t, OwnerPage, created.Owner)
	assert.True(t, created.Vertical)
	assert.False(t, created.Fixed)
	assert.Equal(t, Dimension("200"), created.Width)
	assert.Equal(t, Auto, created.Height)
	assert.Empty(t, created.Children)
	assert.Empty(t, created.Widgets)
	assert.True(t, index.Contains("temp-region-3"))
}

func TestAllocateFillsLowestGap(t *testing.T) {
	index := NewIDIndex(&Region{
		RegionID: "root",
		Children: []*Region{{RegionID: "temp-region-2"}, {RegionID: "temp-region-4"}},
	})
	assert.Equal(t, "temp-region-1", index.Allocate(""))
	assert.Equal(t, "temp-region-3", index.Allocate(""))
	assert.Equal(t, "temp-region-5", index.Allocate(""))
}

func TestAllocatePrefixesAreIndependent(t *testing.T) {
	index := NewIDIndex(&Region{RegionID: "root", Children: []*Region{{RegionID: "temp-region-1"}}})
	assert.Equal(t, "row-temp-region-1", index.Allocate("row-"))
	assert.Equal(t, "temp-region-2", index.Allocate(""))
	assert.Equal(t, "row-temp-region-2", index.Allocate("row-"))
}

func TestAllocationSequenceKeepsIDsUnique(t *testing.T) {
	root := sampleTemplate()
	index := NewIDIndex(root)
	for i := 0; i < 50; i++ {
		prefix := ""
		if i%3 == 0 {
			prefix = "col-"
		}
		parent := Find(root, "main")
		require.NotNil(t, parent)
		parent.AddChild(NewRegion(index, prefix), -1)
	}
	assert.Empty(t, DuplicateIDs(root))
	assert.Equal(t, len(RegionIDs(root)), index.Len())
}

func TestRemoveFreesCounter(t *testing.T) {
	index := NewIDIndex(nil)
	first := index.Allocate("")
	second := index.Allocate("")
	require.Equal(t, "temp-region-2", second)

	index.Remove(first)
	assert.False(t, index.Contains(first))
	assert.Equal(t, "temp-region-1", index.Allocate(""))
}

func TestParseTempID(t *testing.T) {
	tests := []struct {
		in     string
		prefix string
		n      uint32
		ok     bool
	}{
		{in: "temp-region-7", prefix: "", n: 7, ok: true},
		{in: "row-temp-region-12", prefix: "row-", n: 12, ok: true},
		{in: "temp-region-", ok: false},
		{in: "temp-region-0", ok: false},
		{in: "temp-region-07", ok: false},
		{in: "temp-region-x", ok: false},
		{in: "header", ok: false},
	}
	for _, tt := range tests {
		prefix, n, ok := parseTempID(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.prefix, prefix, tt.in)
			assert.Equal(t, tt.n, n, tt.in)
		}
	}
}
