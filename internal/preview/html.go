package preview

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"

	"composer/api/internal/region"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/page.html"))

// PageData holds the values rendered by the page template.
type PageData struct {
	Title      string
	PageID     string
	TemplateID string
	RenderedAt time.Time
	Root       *regionView
	// Locked reports content-locked widgets; nil treats every widget as
	// editable.
	Locked func(widgetID string) bool
}

type regionView struct {
	ID         string
	Owner      region.Owner
	Class      string
	Style      template.CSS
	Attributes string
	Widgets    []widgetView
	Children   []*regionView
}

type widgetView struct {
	ID           string
	DefinitionID string
	AssetID      string
	Locked       bool
}

// RenderHTML renders tree as nested region markup.
func RenderHTML(tree *region.Region, data PageData) (string, error) {
	if data.RenderedAt.IsZero() {
		data.RenderedAt = time.Now()
	}
	data.Root = buildView(tree, data.Locked)
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render preview: %w", err)
	}
	return buf.String(), nil
}

func buildView(r *region.Region, locked func(string) bool) *regionView {
	if r == nil {
		return nil
	}
	view := &regionView{
		ID:         r.RegionID,
		Owner:      r.Owner,
		Class:      regionClass(r),
		Style:      regionStyle(r),
		Attributes: formatAttributes(r.Attributes),
	}
	for _, w := range r.Widgets {
		view.Widgets = append(view.Widgets, widgetView{
			ID:           w.ID,
			DefinitionID: w.DefinitionID,
			AssetID:      w.AssetID,
			Locked:       locked != nil && locked(w.ID),
		})
	}
	for _, child := range r.Children {
		view.Children = append(view.Children, buildView(child, locked))
	}
	return view
}

func regionClass(r *region.Region) string {
	classes := []string{"perc-region"}
	if r.Vertical {
		classes = append(classes, "perc-vertical")
	}
	if r.Fixed {
		classes = append(classes, "perc-fixed")
	}
	if region.IsTemplateLeaf(r) {
		classes = append(classes, "perc-template-leaf")
	}
	if r.CSSClass != "" {
		classes = append(classes, strings.Fields(r.CSSClass)...)
	}
	return strings.Join(classes, " ")
}

var cssValue = regexp.MustCompile(`^[0-9a-zA-Z.%\s-]*$`)

func regionStyle(r *region.Region) template.CSS {
	var parts []string
	if px, ok := r.Width.Pixels(); ok {
		parts = append(parts, fmt.Sprintf("width: %gpx", px))
	}
	if px, ok := r.Height.Pixels(); ok {
		parts = append(parts, fmt.Sprintf("height: %gpx", px))
	}
	if r.Padding != "" && cssValue.MatchString(r.Padding) {
		parts = append(parts, "padding: "+r.Padding)
	}
	if r.Margin != "" && cssValue.MatchString(r.Margin) {
		parts = append(parts, "margin: "+r.Margin)
	}
	return template.CSS(strings.Join(parts, "; "))
}

func formatAttributes(attrs []region.Attribute) string {
	parts := make([]string, 0, len(attrs))
	for _, a := range attrs {
		parts = append(parts, a.Name+"="+a.Value)
	}
	return strings.Join(parts, ";")
}
