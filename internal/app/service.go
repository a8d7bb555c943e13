package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"composer/api/internal/config"
	"composer/api/internal/gitrepo"
	"composer/api/internal/page"
	"composer/api/internal/preview"
	"composer/api/internal/region"
	"composer/api/internal/search"
	"composer/api/internal/store"
	"composer/api/internal/util"

	"github.com/rs/zerolog"
)

type ledgerStore interface {
	Ping(ctx context.Context) error
	InsertPageSave(ctx context.Context, save store.PageSave) error
	ListPageSaves(ctx context.Context, pageID string, limit int) ([]store.PageSave, error)
}

type revisionStore interface {
	CommitRevision(pageID string, rev gitrepo.Revision, author, message string) (gitrepo.CommitInfo, error)
	History(pageID string, limit int) ([]gitrepo.CommitInfo, error)
	GetRevision(pageID, hash string) (gitrepo.Revision, gitrepo.CommitInfo, error)
}

type usageSearch interface {
	FindByDefinition(ctx context.Context, definitionID string, limit int) search.Response
	IndexUsage(usage search.Usage)
}

type previewRenderer interface {
	Render(ctx context.Context, req preview.Request) (*preview.Result, error)
}

type templateInvalidator interface {
	Invalidate(ctx context.Context, templateID string) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the service to its collaborators. Everything except Content and
// Templates is optional; a nil dependency disables the feature it backs.
type Deps struct {
	Content       page.Services
	Templates     page.TemplateLoader
	TemplateCache templateInvalidator
	Ledger        ledgerStore
	Revisions     revisionStore
	Search        usageSearch
	Preview       previewRenderer
	Cache         pinger
	Logger        zerolog.Logger
	Now           func() time.Time
}

type editSession struct {
	id        string
	user      string
	model     *page.Model
	createdAt time.Time
	lastUsed  time.Time
}

type Service struct {
	cfg        config.Config
	deps       Deps
	log        zerolog.Logger
	sessionTTL time.Duration
	mu         sync.Mutex
	sessions   map[string]*editSession
}

func New(cfg config.Config, deps Deps) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Service{
		cfg:        cfg,
		deps:       deps,
		log:        deps.Logger,
		sessionTTL: ttl,
		sessions:   make(map[string]*editSession),
	}
}

// Ping checks the database and, when configured, the template cache.
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{}
	if s.deps.Ledger != nil {
		checks["database"] = s.deps.Ledger.Ping(ctx)
	}
	if s.deps.Cache != nil {
		checks["redis"] = s.deps.Cache.Ping(ctx)
	}
	return checks
}

// OpenSession creates an editing session for pageID and loads it. A session
// whose load fails is discarded.
func (s *Service) OpenSession(ctx context.Context, pageID, user string) (map[string]any, error) {
	pageID = strings.TrimSpace(pageID)
	if pageID == "" {
		return nil, validationError("pageId is required")
	}
	if strings.TrimSpace(user) == "" {
		return nil, domainError(http.StatusBadRequest, "MISSING_USER", "X-Composer-User header is required", nil)
	}

	model := page.New(pageID, user, page.Deps{
		Services:  s.deps.Content,
		Templates: s.deps.Templates,
		Logger:    s.log.With().Str("page_id", pageID).Str("user", user).Logger(),
		Now:       s.deps.Now,
	})
	if err := model.Load(ctx); err != nil {
		return nil, err
	}

	now := s.deps.Now()
	sess := &editSession{
		id:        util.NewID("ses"),
		user:      user,
		model:     model,
		createdAt: now,
		lastUsed:  now,
	}
	s.mu.Lock()
	s.sweepLocked(now)
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.log.Info().Str("session_id", sess.id).Str("page_id", pageID).Str("user", user).Msg("editing session opened")
	return s.sessionPayload(sess)
}

func (s *Service) lookupSession(sessionID string) (*editSession, error) {
	now := s.deps.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.lastUsed = now
	return sess, nil
}

// sweepLocked drops sessions idle for longer than the session TTL.
func (s *Service) sweepLocked(now time.Time) {
	for id, sess := range s.sessions {
		if now.Sub(sess.lastUsed) > s.sessionTTL {
			delete(s.sessions, id)
			s.log.Info().Str("session_id", id).Str("page_id", sess.model.PageID()).Msg("editing session expired")
		}
	}
}

func (s *Service) GetSession(sessionID string) (map[string]any, error) {
	sess, err := s.lookupSession(sessionID)
	if err != nil {
		return nil, err
	}
	return s.sessionPayload(sess)
}

func (s *Service) CloseSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

// ReloadSession discards unsaved edits and loads the page again.
func (s *Service) ReloadSession(ctx context.Context, sessionID string) (map[string]any, error) {
	sess, err := s.lookupSession(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.model.Load(ctx); err != nil {
		return nil, err
	}
	return s.sessionPayload(sess)
}

func (s *Service) sessionPayload(sess *editSession) (map[string]any, error) {
	snap, err := sess.model.Snapshot()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"session": map[string]any{
			"id":        sess.id,
			"pageId":    snap.PageID,
			"user":      sess.user,
			"state":     snap.State.String(),
			"dirty":     snap.Dirty,
			"loadedAt":  snap.LoadedAt,
			"createdAt": sess.createdAt,
		},
		"page": map[string]any{
			"id":         snap.PageID,
			"name":       snap.PageName,
			"templateId": snap.TemplateID,
		},
		"tree": snap.Tree,
		"regionBranches": map[string]any{
			"regions":                  snap.Branches,
			"regionWidgetAssociations": snap.Associations,
		},
		"mergeReport": snap.Report,
	}, nil
}

// RegionUpdate holds the optional fields of a region edit. Nil fields are
// left unchanged.
type RegionUpdate struct {
	RegionID         *string           `json:"regionId"`
	CSSClass         *string           `json:"cssClass"`
	Width            *region.Dimension `json:"width"`
	Height           *region.Dimension `json:"height"`
	Vertical         *bool             `json:"vertical"`
	Fixed            *bool             `json:"fixed"`
	Padding          *string           `json:"padding"`
	Margin           *string           `json:"margin"`
	NoAutoResize     *bool             `json:"noAutoResize"`
	SetAttributes    map[string]string `json:"setAttributes"`
	RemoveAttributes []string          `json:"removeAttributes"`
}

func (u RegionUpdate) apply(r *region.Region) {
	if u.CSSClass != nil {
		r.CSSClass = *u.CSSClass
	}
	if u.Width != nil {
		r.Width = *u.Width
	}
	if u.Height != nil {
		r.Height = *u.Height
	}
	if u.Vertical != nil {
		r.Vertical = *u.Vertical
	}
	if u.Fixed != nil {
		r.Fixed = *u.Fixed
	}
	if u.Padding != nil {
		r.Padding = *u.Padding
	}
	if u.Margin != nil {
		r.Margin = *u.Margin
	}
	if u.NoAutoResize != nil {
		r.NoAutoResize = *u.NoAutoResize
	}
	for _, name := range u.RemoveAttributes {
		r.RemoveAttribute(name)
	}
	for name, value := range u.SetAttributes {
		// validated before the edit runs
		_ = r.SetAttribute(name, value)
	}
}

func (u RegionUpdate) validate() error {
	scratch := &region.Region{}
	for name, value := range u.SetAttributes {
		if err := scratch.SetAttribute(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (u RegionUpdate) hasFieldChanges() bool {
	return u.CSSClass != nil || u.Width != nil || u.Height != nil || u.Vertical != nil || u.Fixed != nil ||
		u.Padding != nil || u.Margin != nil || u.NoAutoResize != nil ||
		len(u.SetAttributes) > 0 || len(u.RemoveAttributes) > 0
}

// slotOnlyChanges reports whether the update touches fields a template slot
// override does not carry: class, spacing, auto resize and attributes.
func (u RegionUpdate) slotOnlyChanges() bool {
	return u.CSSClass != nil || u.Padding != nil || u.Margin != nil || u.NoAutoResize != nil ||
		len(u.SetAttributes) > 0 || len(u.RemoveAttributes) > 0
}

// UpdateRegion edits the fields of a page-editable region and renames it when
// a new id is given.
func (s *Service) UpdateRegion(sessionID, regionID string, update RegionUpdate) (map[string]any, error) {
	sess, err := s.lookupSession(sessionID)
	if err != nil {
		return nil, err
	}
	if err := update.validate(); err != nil {
		return nil, err
	}
	if update.slotOnlyChanges() && sess.model.IsTemplateSlot(regionID) {
		return nil, domainError(http.StatusConflict, "NOT_ELIGIBLE",
			"Only size, layout, children and widgets of a template slot can be changed on a page",
			map[string]any{"regionId": regionID})
	}
	newID := ""
	if update.RegionID != nil && *update.RegionID != regionID {
		newID = strings.TrimSpace(*update.RegionID)
		if newID == "" {
			return nil, validationError("regionId cannot be empty")
		}
		if newID == regionID {
			newID = ""
		}
	}
	var fn func(r *region.Region)
	if update.hasFieldChanges() {
		fn = func(r *region.Region) {
			claimSlot(r)
			update.apply(r)
		}
	}
	if err := sess.model.UpdateRegion(regionID, newID, fn); err != nil {
		return nil, err
	}
	if newID != "" {
		regionID = newID
	}
	return s.regionPayload(sess, regionID)
}

// claimSlot turns an empty template slot into a page region so that edits to
// it are saved with the page.
func claimSlot(r *region.Region) {
	if region.IsTemplateLeaf(r) {
		r.Owner = region.OwnerPage
	}
}

// AddRegion creates a page region with a fresh temp id inside parentID.
func (s *Service) AddRegion(sessionID, parentID, prefix string, index int) (map[string]any, error) {
	sess, err := s.lookupSession(sessionID)
	if err != nil {
		return nil, err
	}
	if result := sess.model.CanOverride(parentID); result != region.Found {
		return nil, editError(result, parentID)
	}
	child := sess.model.NewRegion(prefix)
	result := sess.model.EditRegion(parentID, func(parent *region.Region) {
		claimSlot(parent)
		parent.AddChild(child, index)
	})
	if err := editError(result, parentID); err != nil {
		return nil, err
	}
	return s.regionPayload(sess, child.RegionID)
}

// RemoveRegion detaches regionID from its parent.
func (s *Service) RemoveRegion(sessionID, regionID string) error {
	sess, err := s.lookupSession(sessionID)
	if err != nil {
		return err
	}
	return editError(sess.model.RemoveRegion(regionID), regionID)
}

type WidgetInput struct {
	ID           string `json:"id"`
	DefinitionID string `json:"definitionId"`
	Index        *int   `json:"index"`
}

// AddWidget places a widget instance in a region. An empty id gets a
// generated one.
func (s *Service) AddWidget(sessionID, regionID string, input WidgetInput) (map[string]any, error) {
	sess, err := s.lookupSession(sessionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.DefinitionID) == "" {
		return nil, validationError("definitionId is required")
	}
	widgetID := strings.TrimSpace(input.ID)
	if widgetID == "" {
		widgetID = util.NewID("")
	}
	if _, exists := sess.model.FindWidgetParentRegion(widgetID); exists {
		return nil, domainError(http.StatusConflict, "DUPLICATE_WIDGET_ID", "Widget id already in use", map[string]any{"widgetId": widgetID})
	}
	index := -1
	if input.Index != nil {
		index = *input.Index
	}
	widget := region.WidgetRef{ID: widgetID, DefinitionID: input.DefinitionID}
	result := sess.model.EditRegion(regionID, func(r *region.Region) {
		claimSlot(r)
		r.AddWidget(widget, index)
	})
	if err := editError(result, regionID); err != nil {
		return nil, err
	}
	return map[string]any{"widget": widget, "regionId": regionID}, nil
}

func (s *Service) RemoveWidget(sessionID, widgetID string) error {
	sess, err := s.lookupSession(sessionID)
	if err != nil {
		return err
	}
	regionID, ok := sess.model.FindWidgetParentRegion(widgetID)
	if !ok {
		return page.ErrWidgetNotFound
	}
	result := sess.model.EditRegion(regionID, func(r *region.Region) {
		r.RemoveWidget(widgetID)
	})
	return editError(result, regionID)
}

func (s *Service) WidgetRegion(sessionID, widgetID string) (map[string]any, error) {
	sess, err := s.lookupSession(sessionID)
	if err != nil {
		return nil, err
	}
	regionID, ok := sess.model.FindWidgetParentRegion(widgetID)
	if !ok {
		return nil, page.ErrWidgetNotFound
	}
	return map[string]any{"widgetId": widgetID, "regionId": regionID}, nil
}

// SetWidgetAsset binds an asset to a widget, replacing the current binding
// when the drop criteria report one.
func (s *Service) SetWidgetAsset(ctx context.Context, sessionID, widgetID, assetID string) (map[string]any, error) {
	sess, err := s.lookupSession(sessionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(assetID) == "" {
		return nil, validationError("assetId is required")
	}
	criteria, _ := sess.model.AssetDropCriteria(widgetID)
	var relID string
	if criteria.ExistingAsset {
		relID, err = sess.model.UpdateAsset(ctx, widgetID, assetID)
	} else {
		relID, err = sess.model.SetAsset(ctx, widgetID, assetID)
	}
	if err != nil && relID == "" {
		return nil, err
	}
	payload := map[string]any{"widgetId": widgetID, "assetId": assetID, "relationshipId": relID}
	if err != nil {
		s.log.Warn().Err(err).Str("widget_id", widgetID).Msg("drop criteria refresh failed")
		payload["warnings"] = []string{"asset drop criteria could not be refreshed"}
	}
	return payload, nil
}

func (s *Service) ClearWidgetAsset(ctx context.Context, sessionID, widgetID string) error {
	sess, err := s.lookupSession(sessionID)
	if err != nil {
		return err
	}
	return sess.model.ClearAsset(ctx, widgetID)
}

func (s *Service) SpecialWidgets(sessionID, view string) (region.SpecialWidgets, error) {
	sess, err := s.lookupSession(sessionID)
	if err != nil {
		return region.SpecialWidgets{}, err
	}
	viewType, err := region.ParseViewType(view)
	if err != nil {
		return region.SpecialWidgets{}, err
	}
	return sess.model.SpecialWidgets(viewType)
}

// Save posts the session's tree and then records the save: a revision commit,
// a ledger row and the widget usage index. Failures after the post are
// reported as warnings; the save itself stands.
func (s *Service) Save(ctx context.Context, sessionID string) (map[string]any, error) {
	sess, err := s.lookupSession(sessionID)
	if err != nil {
		return nil, err
	}
	result, err := sess.model.Save(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := sess.model.Snapshot()
	if err != nil {
		return nil, err
	}

	pageID := sess.model.PageID()
	warnings := []string{}
	var commit gitrepo.CommitInfo
	if s.deps.Revisions != nil {
		rev := gitrepo.Revision{
			PageID:       pageID,
			TemplateID:   snap.TemplateID,
			Regions:      result.Branches,
			Associations: result.Associations,
		}
		commit, err = s.deps.Revisions.CommitRevision(pageID, rev, sess.user, saveMessage(snap.PageName, pageID))
		if err != nil {
			s.log.Warn().Err(err).Str("page_id", pageID).Msg("revision commit failed")
			warnings = append(warnings, "revision history was not updated")
		}
	}

	usage := search.UsageFromTree(pageID, snap.TemplateID, snap.Tree, result.SavedAt)
	if s.deps.Ledger != nil {
		save := store.PageSave{
			ID:                util.NewID("save"),
			PageID:            pageID,
			TemplateID:        snap.TemplateID,
			SavedBy:           sess.user,
			RegionIDs:         pageRegionIDs(snap.Tree),
			WidgetIDs:         usage.WidgetIDs,
			DefinitionIDs:     usage.DefinitionIDs,
			OrphanedRegionIDs: snap.Report.Orphaned,
			NonLeafRegionIDs:  snap.Report.NonLeaf,
			CommitHash:        commit.Hash,
			SavedAt:           result.SavedAt,
		}
		if err := s.deps.Ledger.InsertPageSave(ctx, save); err != nil {
			s.log.Warn().Err(err).Str("page_id", pageID).Msg("save ledger insert failed")
			warnings = append(warnings, "save ledger was not updated")
		}
	}
	if s.deps.Search != nil {
		s.deps.Search.IndexUsage(usage)
	}

	s.log.Info().
		Str("session_id", sessionID).
		Str("page_id", pageID).
		Str("commit", commit.ShortHash).
		Int("warnings", len(warnings)).
		Msg("page saved")

	payload := map[string]any{
		"saved":   true,
		"savedAt": result.SavedAt,
		"regionBranches": map[string]any{
			"regions":                  result.Branches,
			"regionWidgetAssociations": result.Associations,
		},
		"warnings": warnings,
	}
	if commit.Hash != "" {
		payload["commit"] = commit
	}
	return payload, nil
}

func saveMessage(pageName, pageID string) string {
	if pageName == "" {
		pageName = pageID
	}
	return fmt.Sprintf("Save %s", pageName)
}

// pageRegionIDs lists the ids of the regions owned by the page.
func pageRegionIDs(root *region.Region) []string {
	ids := []string{}
	region.EachRegion(root, func(r *region.Region) {
		if r.Owner == region.OwnerPage {
			ids = append(ids, r.RegionID)
		}
	})
	return ids
}

// Render returns the Content service rendering of the whole page, or of one
// region when regionID is set.
func (s *Service) Render(ctx context.Context, sessionID, regionID string) (string, error) {
	sess, err := s.lookupSession(sessionID)
	if err != nil {
		return "", err
	}
	if regionID != "" {
		return sess.model.RenderRegion(ctx, regionID)
	}
	return sess.model.Render(ctx)
}

// Preview renders the effective tree locally.
func (s *Service) Preview(ctx context.Context, sessionID, format string, publish bool) (*preview.Result, error) {
	if s.deps.Preview == nil {
		return nil, domainError(http.StatusServiceUnavailable, "PREVIEW_UNAVAILABLE", "Preview is not configured", nil)
	}
	sess, err := s.lookupSession(sessionID)
	if err != nil {
		return nil, err
	}
	parsed, err := preview.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	snap, err := sess.model.Snapshot()
	if err != nil {
		return nil, err
	}
	locked, err := sess.model.SpecialWidgets(region.ViewContent)
	if err != nil {
		return nil, err
	}
	title := snap.PageName
	if title == "" {
		title = snap.PageID
	}
	return s.deps.Preview.Render(ctx, preview.Request{
		PageID:     snap.PageID,
		TemplateID: snap.TemplateID,
		Title:      title,
		Tree:       snap.Tree,
		Locked: func(widgetID string) bool {
			_, ok := locked.LockedWidgets[widgetID]
			return ok
		},
		Format:  parsed,
		Publish: publish,
	})
}

func (s *Service) regionPayload(sess *editSession, regionID string) (map[string]any, error) {
	tree := sess.model.Tree()
	r := region.Find(tree, regionID)
	if r == nil {
		return nil, page.ErrRegionNotFound
	}
	return map[string]any{
		"region":       r,
		"templateLeaf": region.IsTemplateLeaf(r),
		"dirty":        sess.model.Dirty(),
	}, nil
}

// Revisions lists the saved revisions of a page, newest first.
func (s *Service) Revisions(pageID string, limit int) (map[string]any, error) {
	if s.deps.Revisions == nil {
		return map[string]any{"pageId": pageID, "revisions": []gitrepo.CommitInfo{}}, nil
	}
	items, err := s.deps.Revisions.History(pageID, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pageId": pageID, "revisions": items}, nil
}

// Revision returns one stored revision. When compareTo is set the payload
// also lists the regions that changed between the two revisions.
func (s *Service) Revision(pageID, hash, compareTo string) (map[string]any, error) {
	if s.deps.Revisions == nil {
		return nil, gitrepo.ErrNoHistory
	}
	rev, commit, err := s.deps.Revisions.GetRevision(pageID, hash)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"revision": rev, "commit": commit}
	if compareTo != "" {
		base, baseCommit, err := s.deps.Revisions.GetRevision(pageID, compareTo)
		if err != nil {
			return nil, err
		}
		payload["compareTo"] = baseCommit
		payload["changedRegions"] = gitrepo.DiffRevisions(base, rev)
	}
	return payload, nil
}

// SaveLedger lists the recorded saves of a page, newest first.
func (s *Service) SaveLedger(ctx context.Context, pageID string, limit int) (map[string]any, error) {
	if s.deps.Ledger == nil {
		return map[string]any{"pageId": pageID, "saves": []store.PageSave{}}, nil
	}
	saves, err := s.deps.Ledger.ListPageSaves(ctx, pageID, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pageId": pageID, "saves": saves}, nil
}

func (s *Service) WidgetUsage(ctx context.Context, definitionID string, limit int) (search.Response, error) {
	if strings.TrimSpace(definitionID) == "" {
		return search.Response{}, validationError("definitionId is required")
	}
	if s.deps.Search == nil {
		return search.Response{DefinitionID: definitionID, Pages: []search.Usage{}}, nil
	}
	return s.deps.Search.FindByDefinition(ctx, definitionID, limit), nil
}

// InvalidateTemplate drops a cached template so the next session load
// refetches it.
func (s *Service) InvalidateTemplate(ctx context.Context, templateID string) error {
	if s.deps.TemplateCache == nil {
		return nil
	}
	return s.deps.TemplateCache.Invalidate(ctx, templateID)
}
