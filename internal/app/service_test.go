package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"composer/api/internal/config"
	"composer/api/internal/contentsvc"
	"composer/api/internal/gitrepo"
	"composer/api/internal/page"
	"composer/api/internal/preview"
	"composer/api/internal/region"
	"composer/api/internal/search"
	"composer/api/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContent struct {
	mu           sync.Mutex
	pages        map[string]contentsvc.Page
	criteria     map[string]contentsvc.AssetDropCriteria
	checkedOutBy string
	saved        []contentsvc.Page
	relCalls     []string
	getPageFn    func(context.Context, string) (contentsvc.Page, error)
}

func newFakeContent() *fakeContent {
	return &fakeContent{
		pages: map[string]contentsvc.Page{
			"p1": samplePage(),
			"p2": {ID: "p2", Name: "blank", TemplateID: "t1"},
		},
		criteria: map[string]contentsvc.AssetDropCriteria{
			"w9": {WidgetID: "w9", Locked: true},
			"w2": {WidgetID: "w2", ExistingAsset: true, RelationshipID: "rel-1"},
		},
		checkedOutBy: "editor1",
	}
}

func (f *fakeContent) GetPage(ctx context.Context, pageID string) (contentsvc.Page, error) {
	if f.getPageFn != nil {
		return f.getPageFn(ctx, pageID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.pages[pageID]
	if !ok {
		return contentsvc.Page{}, &contentsvc.ServiceError{Op: "get page", Status: http.StatusNotFound, Message: "Page not found: " + pageID}
	}
	return doc, nil
}

func (f *fakeContent) SavePage(_ context.Context, doc contentsvc.Page) (contentsvc.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, doc)
	f.pages[doc.ID] = doc
	return doc, nil
}

func (f *fakeContent) RenderPage(_ context.Context, doc contentsvc.Page) (string, error) {
	return "<html><body>" + doc.Name + "</body></html>", nil
}

func (f *fakeContent) RenderRegion(_ context.Context, _ contentsvc.Page, regionID string) (string, error) {
	return `<div id="` + regionID + `"></div>`, nil
}

func (f *fakeContent) GetAssetDropCriteria(context.Context, string) (map[string]contentsvc.AssetDropCriteria, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]contentsvc.AssetDropCriteria, len(f.criteria))
	for k, v := range f.criteria {
		out[k] = v
	}
	return out, nil
}

func (f *fakeContent) SetAssetRelationship(_ context.Context, rel contentsvc.AssetRelationship) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relCalls = append(f.relCalls, "set:"+rel.WidgetID+":"+rel.AssetID)
	return "rel-new", nil
}

func (f *fakeContent) UpdateAssetRelationship(_ context.Context, rel contentsvc.AssetRelationship) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relCalls = append(f.relCalls, "update:"+rel.WidgetID+":"+rel.AssetID+":"+rel.ReplacedRelationshipID)
	return "rel-2", nil
}

func (f *fakeContent) ClearAssetRelationship(_ context.Context, _, widgetID, relationshipID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relCalls = append(f.relCalls, "clear:"+widgetID+":"+relationshipID)
	return nil
}

func (f *fakeContent) CheckoutStatus(_ context.Context, itemID string) (contentsvc.CheckoutStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return contentsvc.CheckoutStatus{ItemID: itemID, CheckedOut: f.checkedOutBy != "", CheckedOutBy: f.checkedOutBy}, nil
}

func (f *fakeContent) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeTemplateLoader struct{}

func (fakeTemplateLoader) LoadTemplate(context.Context, string) (*page.Template, error) {
	return page.TemplateFromDocument(sampleTemplateDoc())
}

type fakeLedger struct {
	mu        sync.Mutex
	saves     []store.PageSave
	insertErr error
	pingFn    func(context.Context) error
}

func (f *fakeLedger) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeLedger) InsertPageSave(_ context.Context, save store.PageSave) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, save)
	return nil
}

func (f *fakeLedger) ListPageSaves(_ context.Context, pageID string, _ int) ([]store.PageSave, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.PageSave{}
	for i := len(f.saves) - 1; i >= 0; i-- {
		if f.saves[i].PageID == pageID {
			out = append(out, f.saves[i])
		}
	}
	return out, nil
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed []search.Usage
	findFn  func(context.Context, string, int) search.Response
}

func (f *fakeSearch) FindByDefinition(ctx context.Context, definitionID string, limit int) search.Response {
	if f.findFn != nil {
		return f.findFn(ctx, definitionID, limit)
	}
	return search.Response{DefinitionID: definitionID, Pages: []search.Usage{}}
}

func (f *fakeSearch) IndexUsage(usage search.Usage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, usage)
}

func sampleTemplateDoc() contentsvc.Template {
	return contentsvc.Template{
		ID:   "t1",
		Name: "two-column",
		RegionTree: contentsvc.RegionTree{
			RootRegion: &region.WireRegion{
				RegionID: "root",
				Vertical: true,
				Children: []*region.WireRegion{
					{RegionID: "header"},
					{RegionID: "container", Children: []*region.WireRegion{
						{RegionID: "sidebar"},
						{RegionID: "main"},
					}},
					{RegionID: "footer"},
				},
			},
			RegionWidgetAssociations: []region.Association{
				{RegionID: "sidebar", WidgetItems: []region.WidgetRef{{ID: "w5", DefinitionID: "percRichText"}}},
				{RegionID: "footer", WidgetItems: []region.WidgetRef{{ID: "w9", DefinitionID: "percImage"}}},
			},
		},
	}
}

func samplePage() contentsvc.Page {
	return contentsvc.Page{
		ID:         "p1",
		Name:       "about-us",
		TemplateID: "t1",
		RegionBranches: contentsvc.RegionBranches{
			Regions: []*region.WireRegion{
				{RegionID: "header"},
				{RegionID: "main", Vertical: true, Children: []*region.WireRegion{
					{RegionID: "temp-region-1"},
					{RegionID: "temp-region-2"},
				}},
				{RegionID: "container"},
				{RegionID: "stale"},
			},
			RegionWidgetAssociations: []region.Association{
				{RegionID: "header", WidgetItems: []region.WidgetRef{{ID: "w1", DefinitionID: "percTitle"}}},
				{RegionID: "temp-region-1", WidgetItems: []region.WidgetRef{{ID: "w2", DefinitionID: "percRichText"}}},
			},
		},
	}
}

type testEnv struct {
	service *Service
	content *fakeContent
	ledger  *fakeLedger
	search  *fakeSearch
	git     *gitrepo.Service
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		content: newFakeContent(),
		ledger:  &fakeLedger{},
		search:  &fakeSearch{},
		git:     gitrepo.New(t.TempDir()),
		now:     time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
	}
	env.service = New(config.Config{SessionTTL: 10 * time.Minute}, Deps{
		Content:   env.content,
		Templates: fakeTemplateLoader{},
		Ledger:    env.ledger,
		Revisions: env.git,
		Search:    env.search,
		Preview:   preview.NewService(nil, zerolog.Nop()),
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return env.now },
	})
	return env
}

func (e *testEnv) open(t *testing.T, pageID string) string {
	t.Helper()
	payload, err := e.service.OpenSession(context.Background(), pageID, "editor1")
	require.NoError(t, err)
	return payload["session"].(map[string]any)["id"].(string)
}

func TestOpenSessionReportsMerge(t *testing.T) {
	env := newTestEnv(t)
	payload, err := env.service.OpenSession(context.Background(), "p1", "editor1")
	require.NoError(t, err)

	session := payload["session"].(map[string]any)
	assert.Equal(t, "ready", session["state"])
	assert.Equal(t, false, session["dirty"])
	report := payload["mergeReport"].(region.MergeReport)
	assert.Equal(t, []string{"container"}, report.NonLeaf)
	assert.Equal(t, []string{"stale"}, report.Orphaned)
}

func TestOpenSessionValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.OpenSession(context.Background(), " ", "editor1")
	status, code, _, _ := mapError(err)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "VALIDATION_ERROR", code)

	_, err = env.service.OpenSession(context.Background(), "p1", "")
	_, code, _, _ = mapError(err)
	assert.Equal(t, "MISSING_USER", code)

	_, err = env.service.OpenSession(context.Background(), "missing", "editor1")
	status, code, message, _ := mapError(err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", code)
	assert.Equal(t, "Page not found: missing", message)
	assert.Empty(t, env.service.sessions)
}

func TestSessionsExpireAfterIdleTTL(t *testing.T) {
	env := newTestEnv(t)
	sid := env.open(t, "p1")

	env.now = env.now.Add(9 * time.Minute)
	_, err := env.service.GetSession(sid)
	require.NoError(t, err)

	env.now = env.now.Add(9 * time.Minute)
	_, err = env.service.GetSession(sid)
	require.NoError(t, err, "lookups refresh the idle timer")

	env.now = env.now.Add(11 * time.Minute)
	_, err = env.service.GetSession(sid)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUpdateRegion(t *testing.T) {
	env := newTestEnv(t)
	sid := env.open(t, "p1")

	class := "hero"
	width := region.Dimension("300")
	payload, err := env.service.UpdateRegion(sid, "header", RegionUpdate{Width: &width})
	require.NoError(t, err)
	assert.Equal(t, region.Dimension("300"), payload["region"].(*region.Region).Width)
	assert.Equal(t, true, payload["dirty"])

	payload, err = env.service.UpdateRegion(sid, "temp-region-1", RegionUpdate{
		CSSClass:      &class,
		SetAttributes: map[string]string{"data-role": "banner"},
	})
	require.NoError(t, err)
	updated := payload["region"].(*region.Region)
	assert.Equal(t, "hero", updated.CSSClass)
	assert.Equal(t, []region.Attribute{{Name: "data-role", Value: "banner"}}, updated.Attributes)

	_, err = env.service.UpdateRegion(sid, "header", RegionUpdate{CSSClass: &class})
	_, code, _, _ := mapError(err)
	assert.Equal(t, "NOT_ELIGIBLE", code)

	_, err = env.service.UpdateRegion(sid, "sidebar", RegionUpdate{Width: &width})
	_, code, _, _ = mapError(err)
	assert.Equal(t, "NOT_ELIGIBLE", code)

	_, err = env.service.UpdateRegion(sid, "nope", RegionUpdate{Width: &width})
	_, code, _, _ = mapError(err)
	assert.Equal(t, "REGION_NOT_FOUND", code)

	_, err = env.service.UpdateRegion(sid, "temp-region-1", RegionUpdate{SetAttributes: map[string]string{"id": "x"}})
	assert.ErrorIs(t, err, region.ErrReservedAttribute)
}

func TestTemplateSlotEditsSurviveReload(t *testing.T) {
	env := newTestEnv(t)
	sid := env.open(t, "p2")

	class, padding := "hero", "4px"
	_, err := env.service.UpdateRegion(sid, "header", RegionUpdate{
		CSSClass:      &class,
		Padding:       &padding,
		SetAttributes: map[string]string{"data-x": "1"},
	})
	_, code, _, _ := mapError(err)
	assert.Equal(t, "NOT_ELIGIBLE", code)
	snap, err := env.service.GetSession(sid)
	require.NoError(t, err)
	assert.Equal(t, false, snap["session"].(map[string]any)["dirty"])
	assert.Equal(t, region.OwnerTemplate, region.Find(snap["tree"].(*region.Region), "header").Owner)

	width := region.Dimension("320")
	vertical := true
	_, err = env.service.UpdateRegion(sid, "header", RegionUpdate{Width: &width, Vertical: &vertical})
	require.NoError(t, err)

	added, err := env.service.AddRegion(sid, "header", "", 0)
	require.NoError(t, err)
	childID := added["region"].(*region.Region).RegionID
	_, err = env.service.UpdateRegion(sid, childID, RegionUpdate{
		CSSClass:      &class,
		Padding:       &padding,
		SetAttributes: map[string]string{"data-x": "1"},
	})
	require.NoError(t, err)

	_, err = env.service.Save(context.Background(), sid)
	require.NoError(t, err)
	reloaded, err := env.service.ReloadSession(context.Background(), sid)
	require.NoError(t, err)

	tree := reloaded["tree"].(*region.Region)
	header := region.Find(tree, "header")
	require.NotNil(t, header)
	assert.Equal(t, region.OwnerPage, header.Owner)
	assert.Equal(t, region.Dimension("320"), header.Width)
	assert.True(t, header.Vertical)
	child := region.Find(tree, childID)
	require.NotNil(t, child)
	assert.Equal(t, "hero", child.CSSClass)
	assert.Equal(t, "4px", child.Padding)
	assert.Equal(t, []region.Attribute{{Name: "data-x", Value: "1"}}, child.Attributes)
}

func TestFailedRenameLeavesRegionUnchanged(t *testing.T) {
	env := newTestEnv(t)
	sid := env.open(t, "p1")

	class := "changed"
	taken := "header"
	_, err := env.service.UpdateRegion(sid, "temp-region-1", RegionUpdate{CSSClass: &class, RegionID: &taken})
	assert.ErrorIs(t, err, region.ErrDuplicateRegionID)

	snap, err := env.service.GetSession(sid)
	require.NoError(t, err)
	assert.Equal(t, false, snap["session"].(map[string]any)["dirty"])
	assert.Empty(t, region.Find(snap["tree"].(*region.Region), "temp-region-1").CSSClass)

	renamed := "promo"
	payload, err := env.service.UpdateRegion(sid, "temp-region-1", RegionUpdate{CSSClass: &class, RegionID: &renamed})
	require.NoError(t, err)
	updated := payload["region"].(*region.Region)
	assert.Equal(t, "promo", updated.RegionID)
	assert.Equal(t, "changed", updated.CSSClass)
}

func TestRemovedRegionIDCanBeReused(t *testing.T) {
	env := newTestEnv(t)
	sid := env.open(t, "p1")

	require.NoError(t, env.service.RemoveRegion(sid, "temp-region-2"))
	_, code, _, _ := mapError(env.service.RemoveRegion(sid, "temp-region-2"))
	assert.Equal(t, "REGION_NOT_FOUND", code)

	reused := "temp-region-2"
	payload, err := env.service.UpdateRegion(sid, "temp-region-1", RegionUpdate{RegionID: &reused})
	require.NoError(t, err)
	assert.Equal(t, "temp-region-2", payload["region"].(*region.Region).RegionID)
}

func TestAddRenameAndRemoveRegions(t *testing.T) {
	env := newTestEnv(t)
	sid := env.open(t, "p1")

	payload, err := env.service.AddRegion(sid, "main", "", 0)
	require.NoError(t, err)
	created := payload["region"].(*region.Region)
	assert.Equal(t, "temp-region-3", created.RegionID)
	assert.Equal(t, region.OwnerPage, created.Owner)

	newID := "promo"
	_, err = env.service.UpdateRegion(sid, "temp-region-3", RegionUpdate{RegionID: &newID})
	require.NoError(t, err)

	taken := "header"
	_, err = env.service.UpdateRegion(sid, "promo", RegionUpdate{RegionID: &taken})
	assert.ErrorIs(t, err, region.ErrDuplicateRegionID)

	renameSlot := "content"
	_, err = env.service.UpdateRegion(sid, "main", RegionUpdate{RegionID: &renameSlot})
	assert.ErrorIs(t, err, page.ErrRegionNotEligible)

	require.NoError(t, env.service.RemoveRegion(sid, "temp-region-2"))
	_, code, _, _ := mapError(env.service.RemoveRegion(sid, "sidebar"))
	assert.Equal(t, "NOT_ELIGIBLE", code)

	snap, err := env.service.GetSession(sid)
	require.NoError(t, err)
	tree := snap["tree"].(*region.Region)
	assert.Equal(t, []string{"main", "promo", "temp-region-1"}, region.RegionIDs(region.Find(tree, "main")))
}

func TestWidgetEdits(t *testing.T) {
	env := newTestEnv(t)
	sid := env.open(t, "p1")

	index := 0
	payload, err := env.service.AddWidget(sid, "temp-region-1", WidgetInput{ID: "w20", DefinitionID: "percImage", Index: &index})
	require.NoError(t, err)
	assert.Equal(t, region.WidgetRef{ID: "w20", DefinitionID: "percImage"}, payload["widget"])

	_, err = env.service.AddWidget(sid, "temp-region-1", WidgetInput{ID: "w20", DefinitionID: "percImage"})
	_, code, _, _ := mapError(err)
	assert.Equal(t, "DUPLICATE_WIDGET_ID", code)

	_, err = env.service.AddWidget(sid, "temp-region-1", WidgetInput{ID: "w21"})
	_, code, _, _ = mapError(err)
	assert.Equal(t, "VALIDATION_ERROR", code)

	generated, err := env.service.AddWidget(sid, "temp-region-1", WidgetInput{DefinitionID: "percTitle"})
	require.NoError(t, err)
	assert.NotEmpty(t, generated["widget"].(region.WidgetRef).ID)

	located, err := env.service.WidgetRegion(sid, "w20")
	require.NoError(t, err)
	assert.Equal(t, "temp-region-1", located["regionId"])

	require.NoError(t, env.service.RemoveWidget(sid, "w20"))
	assert.ErrorIs(t, env.service.RemoveWidget(sid, "w20"), page.ErrWidgetNotFound)

	_, code, _, _ = mapError(env.service.RemoveWidget(sid, "w5"))
	assert.Equal(t, "NOT_ELIGIBLE", code)
}

func TestEditingTemplateSlotClaimsItForThePage(t *testing.T) {
	env := newTestEnv(t)
	sid := env.open(t, "p2")

	_, err := env.service.AddWidget(sid, "header", WidgetInput{ID: "w30", DefinitionID: "percTitle"})
	require.NoError(t, err)

	payload, err := env.service.Save(context.Background(), sid)
	require.NoError(t, err)
	branches := payload["regionBranches"].(map[string]any)["regions"].([]*region.WireRegion)
	require.Len(t, branches, 1)
	assert.Equal(t, "header", branches[0].RegionID)

	reloaded, err := env.service.ReloadSession(context.Background(), sid)
	require.NoError(t, err)
	tree := reloaded["tree"].(*region.Region)
	header := region.Find(tree, "header")
	assert.Equal(t, region.OwnerPage, header.Owner)
	assert.Equal(t, []region.WidgetRef{{ID: "w30", DefinitionID: "percTitle"}}, header.Widgets)
}

func TestSpecialWidgets(t *testing.T) {
	env := newTestEnv(t)
	sid := env.open(t, "p1")

	content, err := env.service.SpecialWidgets(sid, "Content")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"w9": "w9"}, content.LockedWidgets)

	layout, err := env.service.SpecialWidgets(sid, "Layout")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"w5": "w5", "w9": "w9"}, layout.LockedWidgets)

	_, err = env.service.SpecialWidgets(sid, "Print")
	assert.ErrorIs(t, err, region.ErrUnknownViewType)
}

func TestWidgetAssets(t *testing.T) {
	env := newTestEnv(t)
	sid := env.open(t, "p1")

	payload, err := env.service.SetWidgetAsset(context.Background(), sid, "w2", "asset-2")
	require.NoError(t, err)
	assert.Equal(t, "rel-2", payload["relationshipId"])

	payload, err = env.service.SetWidgetAsset(context.Background(), sid, "w1", "asset-1")
	require.NoError(t, err)
	assert.Equal(t, "rel-new", payload["relationshipId"])

	_, err = env.service.SetWidgetAsset(context.Background(), sid, "w9", "asset-9")
	assert.ErrorIs(t, err, page.ErrContentLocked)

	require.NoError(t, env.service.ClearWidgetAsset(context.Background(), sid, "w1"))
	assert.Equal(t, []string{"update:w2:asset-2:rel-1", "set:w1:asset-1", "clear:w1:"}, env.content.relCalls)
}

func TestSaveRecordsRevisionLedgerAndUsage(t *testing.T) {
	env := newTestEnv(t)
	sid := env.open(t, "p1")

	index := 1
	_, err := env.service.AddWidget(sid, "temp-region-1", WidgetInput{ID: "w20", DefinitionID: "percImage", Index: &index})
	require.NoError(t, err)

	payload, err := env.service.Save(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, []string{}, payload["warnings"])
	commit := payload["commit"].(gitrepo.CommitInfo)
	assert.Equal(t, "Save about-us", commit.Message)
	assert.Equal(t, "editor1", commit.Author)
	assert.Equal(t, 1, env.content.saveCount())

	require.Len(t, env.ledger.saves, 1)
	row := env.ledger.saves[0]
	assert.Equal(t, "p1", row.PageID)
	assert.Equal(t, "t1", row.TemplateID)
	assert.Equal(t, "editor1", row.SavedBy)
	assert.Equal(t, commit.Hash, row.CommitHash)
	assert.Equal(t, []string{"header", "main", "temp-region-1", "temp-region-2"}, row.RegionIDs)
	assert.Equal(t, []string{"w1", "w5", "w2", "w20", "w9"}, row.WidgetIDs)
	assert.Equal(t, []string{"percTitle", "percRichText", "percImage"}, row.DefinitionIDs)
	assert.Equal(t, []string{"stale"}, row.OrphanedRegionIDs)
	assert.Equal(t, env.now, row.SavedAt)

	require.Len(t, env.search.indexed, 1)
	assert.Equal(t, row.DefinitionIDs, env.search.indexed[0].DefinitionIDs)

	revisions, err := env.service.Revisions("p1", 10)
	require.NoError(t, err)
	assert.Len(t, revisions["revisions"], 1)

	session, err := env.service.GetSession(sid)
	require.NoError(t, err)
	assert.Equal(t, false, session["session"].(map[string]any)["dirty"])
}

func TestSaveSideEffectFailuresBecomeWarnings(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.insertErr = errors.New("connection refused")
	sid := env.open(t, "p1")

	payload, err := env.service.Save(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, []string{"save ledger was not updated"}, payload["warnings"])
	assert.Len(t, env.search.indexed, 1)
}

func TestSaveRequiresCheckout(t *testing.T) {
	env := newTestEnv(t)
	env.content.checkedOutBy = "someone-else"
	sid := env.open(t, "p1")

	_, err := env.service.Save(context.Background(), sid)
	assert.ErrorIs(t, err, page.ErrCheckoutConflict)
	assert.Zero(t, env.content.saveCount())
	assert.Empty(t, env.ledger.saves)
	assert.Empty(t, env.search.indexed)
}

func TestRevisionCompare(t *testing.T) {
	env := newTestEnv(t)
	sid := env.open(t, "p1")

	first, err := env.service.Save(context.Background(), sid)
	require.NoError(t, err)
	height := region.Dimension("120")
	_, err = env.service.UpdateRegion(sid, "header", RegionUpdate{Height: &height})
	require.NoError(t, err)
	second, err := env.service.Save(context.Background(), sid)
	require.NoError(t, err)

	payload, err := env.service.Revision("p1", second["commit"].(gitrepo.CommitInfo).Hash, first["commit"].(gitrepo.CommitInfo).Hash)
	require.NoError(t, err)
	assert.Equal(t, []string{"header"}, payload["changedRegions"])

	_, err = env.service.Revision("never-saved", "abc1234", "")
	assert.ErrorIs(t, err, gitrepo.ErrNoHistory)
}

func TestPreviewUsesEffectiveTree(t *testing.T) {
	env := newTestEnv(t)
	sid := env.open(t, "p1")

	result, err := env.service.Preview(context.Background(), sid, "", false)
	require.NoError(t, err)
	assert.Equal(t, "about-us.html", result.Filename)
	html := string(result.Data)
	assert.Contains(t, html, `id="temp-region-1"`)
	assert.Contains(t, html, `class="perc-widget perc-locked" data-widget-id="w9"`)

	_, err = env.service.Preview(context.Background(), sid, "docx", false)
	assert.ErrorIs(t, err, preview.ErrUnsupportedFormat)
}

func TestOptionalDependencies(t *testing.T) {
	svc := New(config.Config{}, Deps{Content: newFakeContent(), Templates: fakeTemplateLoader{}, Logger: zerolog.Nop()})

	revisions, err := svc.Revisions("p1", 10)
	require.NoError(t, err)
	assert.Empty(t, revisions["revisions"])

	usage, err := svc.WidgetUsage(context.Background(), "percImage", 10)
	require.NoError(t, err)
	assert.Empty(t, usage.Pages)

	require.NoError(t, svc.InvalidateTemplate(context.Background(), "t1"))
	assert.Empty(t, svc.Ping(context.Background()))

	payload, err := svc.OpenSession(context.Background(), "p1", "editor1")
	require.NoError(t, err)
	sid := payload["session"].(map[string]any)["id"].(string)
	_, err = svc.Preview(context.Background(), sid, "", false)
	_, code, _, _ := mapError(err)
	assert.Equal(t, "PREVIEW_UNAVAILABLE", code)

	saved, err := svc.Save(context.Background(), sid)
	require.NoError(t, err)
	assert.NotContains(t, saved, "commit")
}
