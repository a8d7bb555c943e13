package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) InsertPageSave(ctx context.Context, save PageSave) error {
	columns, err := encodeIDLists(save.RegionIDs, save.WidgetIDs, save.DefinitionIDs, save.OrphanedRegionIDs, save.NonLeafRegionIDs)
	if err != nil {
		return err
	}
	if save.SavedAt.IsZero() {
		save.SavedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO page_saves (
			id, page_id, template_id, saved_by,
			region_ids, widget_ids, definition_ids,
			orphaned_region_ids, non_leaf_region_ids,
			commit_hash, saved_at
		)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7::jsonb, $8::jsonb, $9::jsonb, $10, $11)
	`,
		save.ID, save.PageID, save.TemplateID, save.SavedBy,
		columns[0], columns[1], columns[2], columns[3], columns[4],
		save.CommitHash, save.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("insert page save: %w", err)
	}
	return nil
}

const pageSaveColumns = `
	id, page_id, template_id, saved_by,
	region_ids, widget_ids, definition_ids,
	orphaned_region_ids, non_leaf_region_ids,
	commit_hash, saved_at
`

// ListPageSaves returns the newest saves of a page first.
func (s *PostgresStore) ListPageSaves(ctx context.Context, pageID string, limit int) ([]PageSave, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pageSaveColumns+`
		FROM page_saves
		WHERE page_id = $1
		ORDER BY saved_at DESC
		LIMIT $2
	`, pageID, limit)
	if err != nil {
		return nil, fmt.Errorf("list page saves: %w", err)
	}
	defer rows.Close()
	return scanPageSaves(rows)
}

func (s *PostgresStore) LatestPageSave(ctx context.Context, pageID string) (PageSave, error) {
	saves, err := s.ListPageSaves(ctx, pageID, 1)
	if err != nil {
		return PageSave{}, err
	}
	if len(saves) == 0 {
		return PageSave{}, ErrNotFound
	}
	return saves[0], nil
}

// FindPagesByWidgetDefinition returns the latest save of every page whose
// latest save places a widget of the given definition.
func (s *PostgresStore) FindPagesByWidgetDefinition(ctx context.Context, definitionID string, limit int) ([]PageSave, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		WITH latest AS (
			SELECT DISTINCT ON (page_id) `+pageSaveColumns+`
			FROM page_saves
			ORDER BY page_id, saved_at DESC
		)
		SELECT `+pageSaveColumns+`
		FROM latest
		WHERE definition_ids @> jsonb_build_array($1::text)
		ORDER BY saved_at DESC
		LIMIT $2
	`, definitionID, limit)
	if err != nil {
		return nil, fmt.Errorf("find pages by widget definition: %w", err)
	}
	defer rows.Close()
	return scanPageSaves(rows)
}

// ListLatestPageSaves returns the latest save of every page.
func (s *PostgresStore) ListLatestPageSaves(ctx context.Context) ([]PageSave, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (page_id) `+pageSaveColumns+`
		FROM page_saves
		ORDER BY page_id, saved_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list latest page saves: %w", err)
	}
	defer rows.Close()
	return scanPageSaves(rows)
}

func scanPageSaves(rows *sql.Rows) ([]PageSave, error) {
	out := make([]PageSave, 0)
	for rows.Next() {
		var (
			save                                PageSave
			regionIDs, widgetIDs, definitionIDs []byte
			orphanedRegionIDs, nonLeafRegionIDs []byte
		)
		if err := rows.Scan(
			&save.ID, &save.PageID, &save.TemplateID, &save.SavedBy,
			&regionIDs, &widgetIDs, &definitionIDs,
			&orphanedRegionIDs, &nonLeafRegionIDs,
			&save.CommitHash, &save.SavedAt,
		); err != nil {
			return nil, fmt.Errorf("scan page save: %w", err)
		}
		targets := []*[]string{&save.RegionIDs, &save.WidgetIDs, &save.DefinitionIDs, &save.OrphanedRegionIDs, &save.NonLeafRegionIDs}
		for i, raw := range [][]byte{regionIDs, widgetIDs, definitionIDs, orphanedRegionIDs, nonLeafRegionIDs} {
			if err := decodeIDList(raw, targets[i]); err != nil {
				return nil, err
			}
		}
		out = append(out, save)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page saves: %w", err)
	}
	return out, nil
}

func encodeIDLists(lists ...[]string) ([]string, error) {
	out := make([]string, len(lists))
	for i, list := range lists {
		if list == nil {
			list = []string{}
		}
		raw, err := json.Marshal(list)
		if err != nil {
			return nil, fmt.Errorf("encode id list: %w", err)
		}
		out[i] = string(raw)
	}
	return out, nil
}

func decodeIDList(raw []byte, target *[]string) error {
	if len(raw) == 0 {
		*target = []string{}
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode id list: %w", err)
	}
	if *target == nil {
		*target = []string{}
	}
	return nil
}
