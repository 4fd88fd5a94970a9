package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const (
	idxItems = "sheetdesk_checklist_items"

	healthInterval = 10 * time.Second
	defaultLimit   = 200
)

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
	closeMu sync.Once

	// ids indexed per session by this process, used to drop items that disappeared after
	// a re-upload.
	mu      sync.Mutex
	indexed map[string]map[string]struct{}
}

// NewMeili creates a Meilisearch client and configures the item index. An unreachable
// server is not an error; the health loop picks it up when it comes back.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	return newMeili(meili.New(url, meili.WithAPIKey(apiKey)), logger.Named("search"), healthInterval)
}

func newMeili(client meili.ServiceManager, logger *zap.Logger, interval time.Duration) *Meili {
	m := &Meili{
		client:  client,
		logger:  logger,
		done:    make(chan struct{}),
		indexed: make(map[string]map[string]struct{}),
	}

	if _, err := client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop(interval)
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxItems,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", idxItems), zap.Error(err))
	}

	index := m.client.Index(idxItems)
	filterable := []interface{}{"sessionId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.String("index", idxItems), zap.Error(err))
	}
	searchable := []string{"itemName", "description", "statuses", "comments", "sectionName"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.String("index", idxItems), zap.Error(err))
	}
}

func (m *Meili) healthLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
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
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	m.closeMu.Do(func() { close(m.done) })
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// SearchItems returns the items of q.SessionID matching q.Text.
func (m *Meili) SearchItems(q Query) ([]ItemRef, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errUnhealthy
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = defaultLimit
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:             idxItems,
			Query:                q.Text,
			Limit:                limit,
			Filter:               fmt.Sprintf("sessionId = %q", q.SessionID),
			AttributesToRetrieve: []string{"id", "gid", "iid"},
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var refs []ItemRef
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			gid, okG := decodeInt(hit, "gid")
			iid, okI := decodeInt(hit, "iid")
			if !okG || !okI {
				continue
			}
			refs = append(refs, ItemRef{GID: gid, IID: iid})
		}
	}
	return refs, total, nil
}

func decodeInt(hit meili.Hit, key string) (int, bool) {
	raw, ok := hit[key]
	if !ok {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}

// IndexSession adds or replaces the items of a session and removes items this process
// indexed earlier that are no longer present.
func (m *Meili) IndexSession(sessionID string, records []ItemRecord) error {
	next := make(map[string]struct{}, len(records))
	for _, rec := range records {
		next[rec.ID] = struct{}{}
	}

	if len(records) > 0 {
		if _, err := m.client.Index(idxItems).AddDocuments(records, nil); err != nil {
			return err
		}
	}

	m.mu.Lock()
	prev := m.indexed[sessionID]
	m.indexed[sessionID] = next
	m.mu.Unlock()

	for id := range prev {
		if _, ok := next[id]; ok {
			continue
		}
		if _, err := m.client.Index(idxItems).DeleteDocument(id, nil); err != nil {
			return err
		}
	}
	return nil
}

// DeleteSession removes every item this process indexed for the session.
func (m *Meili) DeleteSession(sessionID string) error {
	m.mu.Lock()
	prev := m.indexed[sessionID]
	delete(m.indexed, sessionID)
	m.mu.Unlock()

	for id := range prev {
		if _, err := m.client.Index(idxItems).DeleteDocument(id, nil); err != nil {
			return err
		}
	}
	return nil
}
