package page

import (
	"context"
	"fmt"

	"composer/api/internal/contentsvc"
	"composer/api/internal/region"

	"github.com/rs/zerolog"
)

// Template is a parsed template layout. Root is shared between sessions and
// must be treated as read-only; the merge works on a clone.
type Template struct {
	ID   string
	Name string
	Root *region.Region
}

type TemplateLoader interface {
	LoadTemplate(ctx context.Context, templateID string) (*Template, error)
}

type TemplateSource interface {
	GetTemplate(ctx context.Context, templateID string) (contentsvc.Template, error)
}

// TemplateCache stores template documents as received from the Content
// service.
type TemplateCache interface {
	Get(ctx context.Context, templateID string) (contentsvc.Template, bool, error)
	Set(ctx context.Context, tpl contentsvc.Template) error
	Invalidate(ctx context.Context, templateID string) error
}

func TemplateFromDocument(doc contentsvc.Template) (*Template, error) {
	if doc.RegionTree.RootRegion == nil {
		return nil, fmt.Errorf("template %s has no root region", doc.ID)
	}
	root := region.ParseTemplate(doc.RegionTree.RootRegion, doc.RegionTree.RegionWidgetAssociations)
	return &Template{ID: doc.ID, Name: doc.Name, Root: root}, nil
}

// CachedTemplateLoader reads templates through cache and falls back to the
// Content service. Cache failures are logged and never fail a load.
type CachedTemplateLoader struct {
	source TemplateSource
	cache  TemplateCache
	log    zerolog.Logger
}

func NewCachedTemplateLoader(source TemplateSource, cache TemplateCache, log zerolog.Logger) *CachedTemplateLoader {
	return &CachedTemplateLoader{source: source, cache: cache, log: log}
}

func (l *CachedTemplateLoader) LoadTemplate(ctx context.Context, templateID string) (*Template, error) {
	if l.cache != nil {
		doc, ok, err := l.cache.Get(ctx, templateID)
		switch {
		case err != nil:
			l.log.Warn().Err(err).Str("template_id", templateID).Msg("template cache read failed")
		case ok:
			if tpl, err := TemplateFromDocument(doc); err == nil {
				return tpl, nil
			}
			l.log.Warn().Str("template_id", templateID).Msg("discarding unusable cached template")
		}
	}

	doc, err := l.source.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", templateID, err)
	}
	tpl, err := TemplateFromDocument(doc)
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		if err := l.cache.Set(ctx, doc); err != nil {
			l.log.Warn().Err(err).Str("template_id", templateID).Msg("template cache write failed")
		}
	}
	return tpl, nil
}

// Invalidate drops a cached template so the next load refetches it.
func (l *CachedTemplateLoader) Invalidate(ctx context.Context, templateID string) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.Invalidate(ctx, templateID)
}
