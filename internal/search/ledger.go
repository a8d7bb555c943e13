package search

import (
	"context"

	"composer/api/internal/store"
)

// Ledger is the Postgres save ledger used when Meilisearch is unavailable.
// *store.PostgresStore satisfies it.
type Ledger interface {
	FindPagesByWidgetDefinition(ctx context.Context, definitionID string, limit int) ([]store.PageSave, error)
	ListLatestPageSaves(ctx context.Context) ([]store.PageSave, error)
}

func findInLedger(ctx context.Context, ledger Ledger, definitionID string, limit int) ([]Usage, error) {
	saves, err := ledger.FindPagesByWidgetDefinition(ctx, definitionID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Usage, 0, len(saves))
	for _, save := range saves {
		out = append(out, usageFromSave(save))
	}
	return out, nil
}
