package search

import (
	"context"

	"github.com/rs/zerolog"
)

const (
	SourceMeili  = "meilisearch"
	SourceLedger = "ledger"
)

type usageIndex interface {
	Healthy() bool
	FindByDefinition(definitionID string, limit int) ([]Usage, int, error)
	IndexUsage(usage Usage) error
	IndexUsages(usages []Usage) error
	DeletePage(pageID string) error
}

// Service tries Meilisearch first and falls back to the Postgres ledger.
type Service struct {
	index  usageIndex
	ledger Ledger
	log    zerolog.Logger
}

// NewService creates a search service. meili and ledger may each be nil when
// not configured.
func NewService(m *Meili, ledger Ledger, log zerolog.Logger) *Service {
	s := &Service{ledger: ledger, log: log}
	if m != nil {
		s.index = m
	}
	return s
}

// FindByDefinition lists the pages using a widget definition.
func (s *Service) FindByDefinition(ctx context.Context, definitionID string, limit int) Response {
	resp := Response{DefinitionID: definitionID, Pages: []Usage{}}
	if s.index != nil && s.index.Healthy() {
		usages, total, err := s.index.FindByDefinition(definitionID, limit)
		if err == nil {
			resp.Pages = nonNilUsages(usages)
			resp.Total = total
			resp.Source = SourceMeili
			return resp
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to ledger")
	}

	if s.ledger == nil {
		return resp
	}
	usages, err := findInLedger(ctx, s.ledger, definitionID, limit)
	if err != nil {
		s.log.Error().Err(err).Str("definition_id", definitionID).Msg("ledger usage query failed")
		return resp
	}
	resp.Pages = usages
	resp.Total = len(usages)
	resp.Source = SourceLedger
	return resp
}

// IndexUsage indexes a page's usage record (fire-and-forget to Meilisearch).
func (s *Service) IndexUsage(usage Usage) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	go func() {
		if err := s.index.IndexUsage(usage); err != nil {
			s.log.Warn().Err(err).Str("page_id", usage.PageID).Msg("index widget usage")
		}
	}()
}

// DeletePage removes a page from the index (fire-and-forget).
func (s *Service) DeletePage(pageID string) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	go func() {
		if err := s.index.DeletePage(pageID); err != nil {
			s.log.Warn().Err(err).Str("page_id", pageID).Msg("delete widget usage")
		}
	}()
}

// ReindexFromLedger pushes the latest save of every page to Meilisearch.
func (s *Service) ReindexFromLedger(ctx context.Context) {
	if s.index == nil || !s.index.Healthy() || s.ledger == nil {
		return
	}
	saves, err := s.ledger.ListLatestPageSaves(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("reindex load failed")
		return
	}
	usages := make([]Usage, 0, len(saves))
	for _, save := range saves {
		usages = append(usages, usageFromSave(save))
	}
	if err := s.index.IndexUsages(usages); err != nil {
		s.log.Warn().Err(err).Int("pages", len(usages)).Msg("reindex widget usage")
	}
}

func nonNilUsages(u []Usage) []Usage {
	if u == nil {
		return []Usage{}
	}
	return u
}
