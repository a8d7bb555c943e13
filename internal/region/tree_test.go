package region

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleTemplate is a two-column layout:
//
//	root
//	├── header            (empty slot)
//	├── container
//	│   ├── sidebar       (widget w5)
//	│   └── main          (empty slot)
//	└── footer            (widget w9)
func sampleTemplate() *Region {
	return &Region{
		RegionID: "root",
		Owner:    OwnerTemplate,
		Vertical: true,
		Children: []*Region{
			{RegionID: "header", Owner: OwnerTemplate},
			{
				RegionID: "container",
				Owner:    OwnerTemplate,
				Children: []*Region{
					{RegionID: "sidebar", Owner: OwnerTemplate, Widgets: []WidgetRef{{ID: "w5", DefinitionID: "percRichText"}}},
					{RegionID: "main", Owner: OwnerTemplate},
				},
			},
			{RegionID: "footer", Owner: OwnerTemplate, Widgets: []WidgetRef{{ID: "w9", DefinitionID: "percImage"}}},
		},
	}
}

func TestWalkIsPreOrder(t *testing.T) {
	assert.Equal(t,
		[]string{"root", "header", "container", "sidebar", "main", "footer"},
		RegionIDs(sampleTemplate()),
	)
}

func TestWalkStopsEarly(t *testing.T) {
	var visited []string
	completed := Walk(sampleTemplate(), func(r, _ *Region) bool {
		visited = append(visited, r.RegionID)
		return r.RegionID != "sidebar"
	})
	assert.False(t, completed)
	assert.Equal(t, []string{"root", "header", "container", "sidebar"}, visited)
}

func TestFindHelpers(t *testing.T) {
	root := sampleTemplate()

	require.NotNil(t, Find(root, "main"))
	assert.Nil(t, Find(root, "nope"))

	parent := FindParent(root, "main")
	require.NotNil(t, parent)
	assert.Equal(t, "container", parent.RegionID)
	assert.Nil(t, FindParent(root, "root"))

	holder, index := FindWidget(root, "w9")
	require.NotNil(t, holder)
	assert.Equal(t, "footer", holder.RegionID)
	assert.Equal(t, 0, index)

	holder, index = FindWidget(root, "missing")
	assert.Nil(t, holder)
	assert.Equal(t, -1, index)
}

func TestFindWidgetFirstMatchWins(t *testing.T) {
	root := &Region{
		RegionID: "root",
		Owner:    OwnerPage,
		Children: []*Region{
			{RegionID: "a", Owner: OwnerPage, Widgets: []WidgetRef{{ID: "dup"}}},
			{RegionID: "b", Owner: OwnerPage, Widgets: []WidgetRef{{ID: "dup"}}},
		},
	}
	holder, _ := FindWidget(root, "dup")
	require.NotNil(t, holder)
	assert.Equal(t, "a", holder.RegionID)
}

func TestWidgetRefsAndDuplicates(t *testing.T) {
	root := sampleTemplate()
	refs := WidgetRefs(root)
	require.Len(t, refs, 2)
	assert.Equal(t, "w5", refs[0].ID)
	assert.Empty(t, DuplicateIDs(root))

	root.Children[0].AddChild(&Region{RegionID: "main"}, -1)
	assert.Equal(t, []string{"main"}, DuplicateIDs(root))
}
