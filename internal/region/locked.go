package region

import "fmt"

// ViewType selects the editing context of the page editor.
type ViewType string

const (
	ViewContent ViewType = "Content"
	ViewLayout  ViewType = "Layout"
)

func ParseViewType(value string) (ViewType, error) {
	switch ViewType(value) {
	case ViewContent, ViewLayout:
		return ViewType(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownViewType, value)
	}
}

// LockedWidgets holds the widget ids the editor must render read-only.
type LockedWidgets struct {
	Layout  map[string]struct{}
	Content map[string]struct{}
}

// SpecialWidgets is the shape the editor consumes. TransperantWidgets keeps
// the field name clients already depend on.
type SpecialWidgets struct {
	LockedWidgets      map[string]string `json:"LockedWidgets"`
	TransperantWidgets map[string]string `json:"TransperantWidgets"`
}

// ComputeLockedWidgets walks the template's own tree. Every template widget is
// locked for layout edits; it is also locked for content edits when isLocked
// reports true for it.
func ComputeLockedWidgets(templateRoot *Region, isLocked func(widgetID string) bool) LockedWidgets {
	locked := LockedWidgets{
		Layout:  make(map[string]struct{}),
		Content: make(map[string]struct{}),
	}
	EachRegion(templateRoot, func(r *Region) {
		for _, widget := range r.Widgets {
			locked.Layout[widget.ID] = struct{}{}
			if isLocked != nil && isLocked(widget.ID) {
				locked.Content[widget.ID] = struct{}{}
			}
		}
	})
	return locked
}

// Special returns a snapshot for the given view; later changes to l are not
// reflected in it.
func (l LockedWidgets) Special(view ViewType) (SpecialWidgets, error) {
	var source map[string]struct{}
	switch view {
	case ViewContent:
		source = l.Content
	case ViewLayout:
		source = l.Layout
	default:
		return SpecialWidgets{}, fmt.Errorf("%w: %q", ErrUnknownViewType, view)
	}
	out := SpecialWidgets{
		LockedWidgets:      make(map[string]string, len(source)),
		TransperantWidgets: map[string]string{},
	}
	for widgetID := range source {
		out.LockedWidgets[widgetID] = widgetID
	}
	return out, nil
}

func (l LockedWidgets) IsLayoutLocked(widgetID string) bool {
	_, ok := l.Layout[widgetID]
	return ok
}

func (l LockedWidgets) IsContentLocked(widgetID string) bool {
	_, ok := l.Content[widgetID]
	return ok
}
