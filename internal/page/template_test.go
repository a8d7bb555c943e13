package page

import (
	"context"
	"errors"
	"testing"

	"composer/api/internal/contentsvc"
	"composer/api/internal/region"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTemplateSource struct {
	calls int
	getFn func(context.Context, string) (contentsvc.Template, error)
}

func (f *fakeTemplateSource) GetTemplate(ctx context.Context, templateID string) (contentsvc.Template, error) {
	f.calls++
	if f.getFn != nil {
		return f.getFn(ctx, templateID)
	}
	return sampleTemplateDoc(), nil
}

type fakeTemplateCache struct {
	items  map[string]contentsvc.Template
	getErr error
	setErr error
}

func (f *fakeTemplateCache) Get(_ context.Context, templateID string) (contentsvc.Template, bool, error) {
	if f.getErr != nil {
		return contentsvc.Template{}, false, f.getErr
	}
	tpl, ok := f.items[templateID]
	return tpl, ok, nil
}

func (f *fakeTemplateCache) Set(_ context.Context, tpl contentsvc.Template) error {
	if f.setErr != nil {
		return f.setErr
	}
	if f.items == nil {
		f.items = map[string]contentsvc.Template{}
	}
	f.items[tpl.ID] = tpl
	return nil
}

func (f *fakeTemplateCache) Invalidate(_ context.Context, templateID string) error {
	delete(f.items, templateID)
	return nil
}

func TestTemplateFromDocument(t *testing.T) {
	tpl, err := TemplateFromDocument(sampleTemplateDoc())
	require.NoError(t, err)
	assert.Equal(t, "t1", tpl.ID)
	assert.Equal(t, []string{"root", "header", "container", "sidebar", "main", "footer"}, region.RegionIDs(tpl.Root))
	assert.True(t, region.IsTemplateLeaf(region.Find(tpl.Root, "main")))
	assert.False(t, region.IsTemplateLeaf(region.Find(tpl.Root, "sidebar")))

	_, err = TemplateFromDocument(contentsvc.Template{ID: "empty"})
	assert.Error(t, err)
}

func TestCachedTemplateLoaderReadsThrough(t *testing.T) {
	source := &fakeTemplateSource{}
	cache := &fakeTemplateCache{}
	loader := NewCachedTemplateLoader(source, cache, zerolog.Nop())

	first, err := loader.LoadTemplate(context.Background(), "t1")
	require.NoError(t, err)
	second, err := loader.LoadTemplate(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, 1, source.calls)
	assert.Contains(t, cache.items, "t1")
	assert.Equal(t, region.RegionIDs(first.Root), region.RegionIDs(second.Root))

	require.NoError(t, loader.Invalidate(context.Background(), "t1"))
	_, err = loader.LoadTemplate(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
}

func TestCachedTemplateLoaderBypassesBrokenCache(t *testing.T) {
	source := &fakeTemplateSource{}
	cache := &fakeTemplateCache{getErr: errors.New("connection refused"), setErr: errors.New("connection refused")}
	loader := NewCachedTemplateLoader(source, cache, zerolog.Nop())

	tpl, err := loader.LoadTemplate(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "two-column", tpl.Name)
	assert.Equal(t, 1, source.calls)
}

func TestCachedTemplateLoaderSourceError(t *testing.T) {
	boom := &contentsvc.ServiceError{Op: "get template", Status: 404, Message: "Template not found"}
	source := &fakeTemplateSource{getFn: func(context.Context, string) (contentsvc.Template, error) {
		return contentsvc.Template{}, boom
	}}
	loader := NewCachedTemplateLoader(source, nil, zerolog.Nop())

	_, err := loader.LoadTemplate(context.Background(), "t404")
	require.Error(t, err)
	assert.True(t, contentsvc.IsNotFound(err))
}
