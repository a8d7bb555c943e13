package search

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const idxWidgetUsage = "composer_widget_usage"

// Meili indexes widget usage in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     zerolog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the usage index. An
// unreachable server is not an error: the client reports unhealthy until the
// health loop sees it recover.
func NewMeili(url, apiKey string, log zerolog.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		log:    log,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxWidgetUsage,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debug().Err(err).Str("index", idxWidgetUsage).Msg("create index (may already exist)")
	}

	index := m.client.Index(idxWidgetUsage)
	filterable := []interface{}{"definitionIds", "templateId", "pageId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn().Err(err).Str("index", idxWidgetUsage).Msg("update filterable attributes")
	}
	searchable := []string{"pageId", "definitionIds", "widgetIds"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn().Err(err).Str("index", idxWidgetUsage).Msg("update searchable attributes")
	}
	sortable := []string{"savedAt"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		m.log.Warn().Err(err).Str("index", idxWidgetUsage).Msg("update sortable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// FindByDefinition returns the pages whose latest save uses definitionID,
// newest first.
func (m *Meili) FindByDefinition(definitionID string, limit int) ([]Usage, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 50
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID: idxWidgetUsage,
			Limit:    int64(limit),
			Filter:   fmt.Sprintf("definitionIds = %q", definitionID),
			Sort:     []string{"savedAt:desc"},
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	usages := make([]Usage, 0)
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			usage, err := hitToUsage(hit)
			if err != nil {
				return nil, 0, err
			}
			usages = append(usages, usage)
		}
	}
	return usages, total, nil
}

func hitToUsage(hit meili.Hit) (Usage, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return Usage{}, fmt.Errorf("encode hit: %w", err)
	}
	var usage Usage
	if err := json.Unmarshal(raw, &usage); err != nil {
		return Usage{}, fmt.Errorf("decode hit: %w", err)
	}
	return usage, nil
}

// IndexUsage adds or replaces the usage record of a page.
func (m *Meili) IndexUsage(usage Usage) error {
	_, err := m.client.Index(idxWidgetUsage).AddDocuments([]Usage{usage}, nil)
	return err
}

// IndexUsages bulk-indexes usage records.
func (m *Meili) IndexUsages(usages []Usage) error {
	if len(usages) == 0 {
		return nil
	}
	_, err := m.client.Index(idxWidgetUsage).AddDocuments(usages, nil)
	return err
}

// DeletePage removes a page from the usage index.
func (m *Meili) DeletePage(pageID string) error {
	_, err := m.client.Index(idxWidgetUsage).DeleteDocument(pageID, nil)
	return err
}
