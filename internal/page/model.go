// Package page holds the editing model for one page: the effective region
// tree produced by merging page overrides into the template layout, the
// locked widget sets, and the calls that load, save and render it.
package page

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"composer/api/internal/contentsvc"
	"composer/api/internal/region"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotLoaded         = errors.New("page model is not loaded")
	ErrCheckoutConflict  = errors.New("page is not checked out to the current user")
	ErrLoadSuperseded    = errors.New("load superseded by a newer load")
	ErrWidgetNotFound    = errors.New("widget not found")
	ErrRegionNotFound    = errors.New("region not found")
	ErrRegionNotEligible = errors.New("region cannot be changed on this page")
	ErrContentLocked     = errors.New("widget content is locked by the template")
	ErrSaveInProgress    = errors.New("save already in progress")
)

type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateSaving
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateSaving:
		return "saving"
	default:
		return "unloaded"
	}
}

// Services is the set of remote calls a page model makes. *contentsvc.Client
// satisfies it.
type Services interface {
	GetPage(ctx context.Context, pageID string) (contentsvc.Page, error)
	SavePage(ctx context.Context, page contentsvc.Page) (contentsvc.Page, error)
	RenderPage(ctx context.Context, page contentsvc.Page) (string, error)
	RenderRegion(ctx context.Context, page contentsvc.Page, regionID string) (string, error)
	GetAssetDropCriteria(ctx context.Context, pageID string) (map[string]contentsvc.AssetDropCriteria, error)
	SetAssetRelationship(ctx context.Context, rel contentsvc.AssetRelationship) (string, error)
	UpdateAssetRelationship(ctx context.Context, rel contentsvc.AssetRelationship) (string, error)
	ClearAssetRelationship(ctx context.Context, ownerID, widgetID, relationshipID string) error
	CheckoutStatus(ctx context.Context, itemID string) (contentsvc.CheckoutStatus, error)
}

type Deps struct {
	Services  Services
	Templates TemplateLoader
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Model is the editing state of one page. All methods are safe for
// concurrent use; callbacks handed to the Edit methods run with the model
// lock held and must not call back into the model.
type Model struct {
	mu sync.Mutex

	pageID string
	user   string
	deps   Deps

	state      State
	generation uint64
	edits      uint64
	savedEdits uint64

	doc      contentsvc.Page
	template *Template
	root     *region.Region
	ids      *region.IDIndex
	criteria map[string]contentsvc.AssetDropCriteria
	locked   region.LockedWidgets
	report   region.MergeReport
	loadedAt time.Time
}

func New(pageID, user string, deps Deps) *Model {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Model{
		pageID:   pageID,
		user:     user,
		deps:     deps,
		ids:      region.NewIDIndex(nil),
		criteria: map[string]contentsvc.AssetDropCriteria{},
	}
}

func (m *Model) PageID() string { return m.pageID }
func (m *Model) User() string   { return m.user }

func (m *Model) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Dirty reports whether the tree changed since the last load or save.
func (m *Model) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.edits != m.savedEdits
}

type loadResult struct {
	doc      contentsvc.Page
	template *Template
	criteria map[string]contentsvc.AssetDropCriteria
}

// Load fetches the page, its template and the asset drop criteria and
// replaces all model state. A load that is overtaken by a later Load
// discards its results and returns ErrLoadSuperseded.
func (m *Model) Load(ctx context.Context) error {
	m.mu.Lock()
	m.generation++
	token := m.generation
	m.state = StateLoading
	m.mu.Unlock()

	res, err := m.fetch(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if token != m.generation {
		m.deps.Logger.Warn().Str("page_id", m.pageID).Uint64("generation", token).Msg("discarding superseded page load")
		return ErrLoadSuperseded
	}
	if err != nil {
		m.reset()
		return err
	}
	m.install(res)
	return nil
}

func (m *Model) fetch(ctx context.Context) (loadResult, error) {
	doc, err := m.deps.Services.GetPage(ctx, m.pageID)
	if err != nil {
		return loadResult{}, fmt.Errorf("load page %s: %w", m.pageID, err)
	}

	res := loadResult{doc: doc}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tpl, err := m.deps.Templates.LoadTemplate(gctx, doc.TemplateID)
		if err != nil {
			return err
		}
		res.template = tpl
		return nil
	})
	g.Go(func() error {
		criteria, err := m.deps.Services.GetAssetDropCriteria(gctx, m.pageID)
		if err != nil {
			return fmt.Errorf("load asset drop criteria: %w", err)
		}
		res.criteria = criteria
		return nil
	})
	if err := g.Wait(); err != nil {
		return loadResult{}, err
	}
	if res.criteria == nil {
		res.criteria = map[string]contentsvc.AssetDropCriteria{}
	}
	return res, nil
}

func (m *Model) install(res loadResult) {
	branches := res.doc.RegionBranches
	overrides := region.ParsePageRegions(branches.Regions, branches.RegionWidgetAssociations)
	root, report := region.Merge(res.template.Root, overrides)

	if report.HasWarnings() {
		m.deps.Logger.Warn().
			Str("page_id", m.pageID).
			Str("template_id", res.template.ID).
			Strs("orphaned", report.Orphaned).
			Strs("non_leaf", report.NonLeaf).
			Msg("page regions not applied to template")
	}
	if dups := region.DuplicateIDs(root); len(dups) > 0 {
		m.deps.Logger.Warn().Str("page_id", m.pageID).Strs("region_ids", dups).Msg("duplicate region ids in page tree")
	}

	criteria := res.criteria
	m.doc = res.doc
	m.template = res.template
	m.root = root
	m.ids = region.NewIDIndex(root)
	m.criteria = criteria
	m.locked = region.ComputeLockedWidgets(res.template.Root, func(widgetID string) bool {
		return criteria[widgetID].Locked
	})
	m.report = report
	m.state = StateReady
	m.edits, m.savedEdits = 0, 0
	m.loadedAt = m.deps.Now()
}

func (m *Model) reset() {
	m.state = StateUnloaded
	m.doc = contentsvc.Page{}
	m.template = nil
	m.root = nil
	m.ids = region.NewIDIndex(nil)
	m.criteria = map[string]contentsvc.AssetDropCriteria{}
	m.locked = region.LockedWidgets{}
	m.report = region.MergeReport{}
	m.edits, m.savedEdits = 0, 0
}

// LoadAssetDropCriteria refetches the criteria and replaces the current map.
// Locked widget sets are left alone until the next full load.
func (m *Model) LoadAssetDropCriteria(ctx context.Context) error {
	criteria, err := m.deps.Services.GetAssetDropCriteria(ctx, m.pageID)
	if err != nil {
		return fmt.Errorf("load asset drop criteria: %w", err)
	}
	if criteria == nil {
		criteria = map[string]contentsvc.AssetDropCriteria{}
	}
	m.mu.Lock()
	m.criteria = criteria
	m.mu.Unlock()
	return nil
}

func (m *Model) AssetDropCriteria(widgetID string) (contentsvc.AssetDropCriteria, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.criteria[widgetID]
	return c, ok
}

// EditRegion runs fn on the region with the given id when the page may
// change it.
func (m *Model) EditRegion(regionID string, fn func(r *region.Region)) region.EditResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := region.Find(m.root, regionID)
	return m.editLocked(target, fn)
}

func (m *Model) editLocked(target *region.Region, fn func(r *region.Region)) region.EditResult {
	if target == nil {
		return region.NotFound
	}
	if !region.CanOverride(target) {
		return region.NotEligible
	}
	fn(target)
	region.EachRegion(target, func(r *region.Region) {
		m.ids.Add(r.RegionID)
	})
	m.edits++
	return region.Found
}

// EditWidget runs fn on the first widget with the given id in pre-order.
func (m *Model) EditWidget(widgetID string, fn func(w *region.WidgetRef)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, idx := region.FindWidget(m.root, widgetID)
	if r == nil {
		return false
	}
	fn(&r.Widgets[idx])
	m.edits++
	return true
}

// FindWidgetParentRegion returns the id of the region holding the widget.
func (m *Model) FindWidgetParentRegion(widgetID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, _ := region.FindWidget(m.root, widgetID)
	if r == nil {
		return "", false
	}
	return r.RegionID, true
}

// NewRegion allocates a fresh page region with an unused id. The region is
// not attached to the tree.
func (m *Model) NewRegion(prefix string) *region.Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	return region.NewRegion(m.ids, prefix)
}

func (m *Model) ContainsRegionID(regionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ids.Contains(regionID)
}

// RenameRegion changes the id of a region the page created. Regions that
// override a template slot keep the slot id.
func (m *Model) RenameRegion(oldID, newID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, err := m.renameTargetLocked(oldID, newID)
	if err != nil || oldID == newID {
		return err
	}
	m.renameLocked(target, oldID, newID)
	return nil
}

// UpdateRegion runs fn on a region the page may change and then renames it
// to newID when newID is set and differs. Both steps are checked before
// either is applied, so a refused rename leaves the region untouched. A nil
// fn only renames.
func (m *Model) UpdateRegion(regionID, newID string, fn func(r *region.Region)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := region.Find(m.root, regionID)
	if target == nil {
		return ErrRegionNotFound
	}
	rename := newID != "" && newID != regionID
	if rename {
		if _, err := m.renameTargetLocked(regionID, newID); err != nil {
			return err
		}
	}
	if fn != nil {
		if !region.CanOverride(target) {
			return ErrRegionNotEligible
		}
		fn(target)
		m.edits++
	}
	if rename {
		m.renameLocked(target, regionID, newID)
	}
	return nil
}

func (m *Model) renameTargetLocked(oldID, newID string) (*region.Region, error) {
	if newID == "" {
		return nil, fmt.Errorf("rename %s: %w", oldID, region.ErrDuplicateRegionID)
	}
	target := region.Find(m.root, oldID)
	if target == nil {
		return nil, ErrRegionNotFound
	}
	parent := region.FindParent(m.root, oldID)
	if target.Owner != region.OwnerPage || parent == nil || parent.Owner != region.OwnerPage {
		return nil, ErrRegionNotEligible
	}
	if oldID != newID && m.ids.Contains(newID) {
		return nil, fmt.Errorf("rename %s to %s: %w", oldID, newID, region.ErrDuplicateRegionID)
	}
	return target, nil
}

func (m *Model) renameLocked(target *region.Region, oldID, newID string) {
	target.RegionID = newID
	m.ids.Remove(oldID)
	m.ids.Add(newID)
	m.edits++
}

// RemoveRegion detaches regionID from its parent. Ids of the detached
// subtree become free again unless another region still carries them.
func (m *Model) RemoveRegion(regionID string) region.EditResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent := region.FindParent(m.root, regionID)
	if parent == nil {
		return region.NotFound
	}
	if !region.CanOverride(parent) {
		return region.NotEligible
	}
	removed, ok := parent.RemoveChild(regionID)
	if !ok {
		return region.NotFound
	}
	region.EachRegion(removed, func(r *region.Region) {
		if region.Find(m.root, r.RegionID) == nil {
			m.ids.Remove(r.RegionID)
		}
	})
	m.edits++
	return region.Found
}

// IsTemplateSlot reports whether regionID names an empty slot of the
// pristine template, whether or not the page has filled it since. Only the
// slot's children, widgets, fixed, vertical, width and height are carried
// over on load.
func (m *Model) IsTemplateSlot(regionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.template == nil {
		return false
	}
	return region.IsTemplateLeaf(region.Find(m.template.Root, regionID))
}

func (m *Model) CanOverride(regionID string) region.EditResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := region.Find(m.root, regionID)
	switch {
	case r == nil:
		return region.NotFound
	case region.CanOverride(r):
		return region.Found
	default:
		return region.NotEligible
	}
}

func (m *Model) IsTemplateLeaf(regionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return region.IsTemplateLeaf(region.Find(m.root, regionID))
}

func (m *Model) SpecialWidgets(view region.ViewType) (region.SpecialWidgets, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.root == nil {
		return region.SpecialWidgets{}, ErrNotLoaded
	}
	return m.locked.Special(view)
}

// Tree returns a copy of the effective tree.
func (m *Model) Tree() *region.Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	return region.Clone(m.root)
}

// Snapshot is a consistent copy of the model taken under its lock.
type Snapshot struct {
	PageID       string
	PageName     string
	TemplateID   string
	State        State
	Dirty        bool
	Tree         *region.Region
	Branches     []*region.WireRegion
	Associations []region.Association
	Report       region.MergeReport
	LoadedAt     time.Time
}

func (m *Model) Snapshot() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.root == nil {
		return Snapshot{}, ErrNotLoaded
	}
	return m.snapshotLocked(), nil
}

func (m *Model) snapshotLocked() Snapshot {
	return Snapshot{
		PageID:       m.pageID,
		PageName:     m.doc.Name,
		TemplateID:   m.doc.TemplateID,
		State:        m.state,
		Dirty:        m.edits != m.savedEdits,
		Tree:         region.Clone(m.root),
		Branches:     region.Branches(m.root),
		Associations: region.Associations(m.root),
		Report:       m.report,
		LoadedAt:     m.loadedAt,
	}
}

// payloadLocked builds the page document carrying the current tree.
func (m *Model) payloadLocked() contentsvc.Page {
	return m.doc.WithBranches(contentsvc.RegionBranches{
		Regions:                  region.Branches(m.root),
		RegionWidgetAssociations: region.Associations(m.root),
	})
}

type SaveResult struct {
	Page         contentsvc.Page
	Branches     []*region.WireRegion
	Associations []region.Association
	SavedAt      time.Time
}

// Save posts the current tree. The page must be checked out to the model's
// user; otherwise nothing is posted and ErrCheckoutConflict is returned.
func (m *Model) Save(ctx context.Context) (SaveResult, error) {
	m.mu.Lock()
	switch m.state {
	case StateReady:
	case StateSaving:
		m.mu.Unlock()
		return SaveResult{}, ErrSaveInProgress
	default:
		m.mu.Unlock()
		return SaveResult{}, ErrNotLoaded
	}
	m.mu.Unlock()

	status, err := m.deps.Services.CheckoutStatus(ctx, m.pageID)
	if err != nil {
		return SaveResult{}, fmt.Errorf("check out status: %w", err)
	}
	if !status.CheckedOutTo(m.user) {
		m.deps.Logger.Warn().
			Str("page_id", m.pageID).
			Str("user", m.user).
			Str("checked_out_by", status.CheckedOutBy).
			Msg("save blocked by checkout")
		return SaveResult{}, ErrCheckoutConflict
	}

	m.mu.Lock()
	switch m.state {
	case StateReady:
	case StateSaving:
		m.mu.Unlock()
		return SaveResult{}, ErrSaveInProgress
	default:
		m.mu.Unlock()
		return SaveResult{}, ErrNotLoaded
	}
	generation := m.generation
	seq := m.edits
	payload := m.payloadLocked()
	m.state = StateSaving
	m.mu.Unlock()

	saved, err := m.deps.Services.SavePage(ctx, payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	// A reload started while saving owns the model state.
	current := generation == m.generation
	if current {
		m.state = StateReady
	}
	if err != nil {
		return SaveResult{}, fmt.Errorf("save page %s: %w", m.pageID, err)
	}
	if current {
		m.savedEdits = seq
		if saved.ID != "" {
			m.doc = saved
		}
		m.doc.RegionBranches = payload.RegionBranches
	}
	return SaveResult{
		Page:         payload,
		Branches:     payload.RegionBranches.Regions,
		Associations: payload.RegionBranches.RegionWidgetAssociations,
		SavedAt:      m.deps.Now(),
	}, nil
}

// Render asks the Content service for the HTML of the page as currently
// edited.
func (m *Model) Render(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.root == nil {
		m.mu.Unlock()
		return "", ErrNotLoaded
	}
	payload := m.payloadLocked()
	m.mu.Unlock()

	html, err := m.deps.Services.RenderPage(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("render page %s: %w", m.pageID, err)
	}
	return html, nil
}

func (m *Model) RenderRegion(ctx context.Context, regionID string) (string, error) {
	m.mu.Lock()
	if m.root == nil {
		m.mu.Unlock()
		return "", ErrNotLoaded
	}
	if region.Find(m.root, regionID) == nil {
		m.mu.Unlock()
		return "", ErrRegionNotFound
	}
	payload := m.payloadLocked()
	m.mu.Unlock()

	html, err := m.deps.Services.RenderRegion(ctx, payload, regionID)
	if err != nil {
		return "", fmt.Errorf("render region %s: %w", regionID, err)
	}
	return html, nil
}
