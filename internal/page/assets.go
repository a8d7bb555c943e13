package page

import (
	"context"
	"fmt"

	"composer/api/internal/contentsvc"
	"composer/api/internal/region"
)

// SetAsset binds assetID to a widget, refreshes the drop criteria and records
// the asset on the widget. It returns the new relationship id.
func (m *Model) SetAsset(ctx context.Context, widgetID, assetID string) (string, error) {
	widget, criteria, err := m.assetTarget(widgetID)
	if err != nil {
		return "", err
	}
	rel := contentsvc.AssetRelationship{
		OwnerID:    m.ownerID(criteria),
		WidgetID:   widgetID,
		WidgetName: widget.DefinitionID,
		AssetID:    assetID,
	}
	relID, err := m.deps.Services.SetAssetRelationship(ctx, rel)
	if err != nil {
		return "", fmt.Errorf("set asset on widget %s: %w", widgetID, err)
	}
	if err := m.afterAssetChange(ctx, widgetID, assetID); err != nil {
		return relID, err
	}
	return relID, nil
}

// UpdateAsset replaces the asset currently bound to a widget.
func (m *Model) UpdateAsset(ctx context.Context, widgetID, assetID string) (string, error) {
	widget, criteria, err := m.assetTarget(widgetID)
	if err != nil {
		return "", err
	}
	rel := contentsvc.AssetRelationship{
		OwnerID:                m.ownerID(criteria),
		WidgetID:               widgetID,
		WidgetName:             widget.DefinitionID,
		AssetID:                assetID,
		ReplacedRelationshipID: criteria.RelationshipID,
	}
	relID, err := m.deps.Services.UpdateAssetRelationship(ctx, rel)
	if err != nil {
		return "", fmt.Errorf("update asset on widget %s: %w", widgetID, err)
	}
	if err := m.afterAssetChange(ctx, widgetID, assetID); err != nil {
		return relID, err
	}
	return relID, nil
}

func (m *Model) ClearAsset(ctx context.Context, widgetID string) error {
	_, criteria, err := m.assetTarget(widgetID)
	if err != nil {
		return err
	}
	if err := m.deps.Services.ClearAssetRelationship(ctx, m.ownerID(criteria), widgetID, criteria.RelationshipID); err != nil {
		return fmt.Errorf("clear asset on widget %s: %w", widgetID, err)
	}
	return m.afterAssetChange(ctx, widgetID, "")
}

func (m *Model) assetTarget(widgetID string) (region.WidgetRef, contentsvc.AssetDropCriteria, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.root == nil {
		return region.WidgetRef{}, contentsvc.AssetDropCriteria{}, ErrNotLoaded
	}
	r, idx := region.FindWidget(m.root, widgetID)
	if r == nil {
		return region.WidgetRef{}, contentsvc.AssetDropCriteria{}, ErrWidgetNotFound
	}
	if m.locked.IsContentLocked(widgetID) {
		return region.WidgetRef{}, contentsvc.AssetDropCriteria{}, ErrContentLocked
	}
	return r.Widgets[idx], m.criteria[widgetID], nil
}

func (m *Model) ownerID(criteria contentsvc.AssetDropCriteria) string {
	if criteria.OwnerID != "" {
		return criteria.OwnerID
	}
	return m.pageID
}

func (m *Model) afterAssetChange(ctx context.Context, widgetID, assetID string) error {
	refreshErr := m.LoadAssetDropCriteria(ctx)
	m.EditWidget(widgetID, func(w *region.WidgetRef) {
		w.AssetID = assetID
	})
	return refreshErr
}
