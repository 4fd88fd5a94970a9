package search

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"sheetdesk/api/internal/checklist"
)

type itemIndex interface {
	Searcher
	Indexer
}

// Service is the facade that tries Meilisearch first and falls back to an in-memory scan
// of the workspace hierarchy.
type Service struct {
	index  itemIndex
	pgfts  *PgFTS
	logger *zap.Logger
}

// NewService creates a search service. meili and pgfts may be nil when not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	s := &Service{pgfts: pgfts, logger: logger.Named("search")}
	if meili != nil {
		s.index = meili
	}
	return s
}

// Search narrows sections to the items matching q.Text. An empty query returns the
// hierarchy unchanged.
func (s *Service) Search(q Query, sections []checklist.Section) Response {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return Response{Query: q.Text, Engine: EngineMemory, Total: countItems(sections), Sections: nonNil(sections)}
	}

	if s.index != nil && s.index.Healthy() {
		refs, _, err := s.index.SearchItems(Query{SessionID: q.SessionID, Text: text, Limit: q.Limit})
		if err == nil {
			narrowed := Narrow(sections, refs)
			return Response{Query: q.Text, Engine: EngineMeili, Total: countItems(narrowed), Sections: narrowed}
		}
		s.logger.Warn("meilisearch error, falling back to memory scan", zap.Error(err))
	}

	filtered := checklist.Filter(sections, text)
	return Response{Query: q.Text, Engine: EngineMemory, Total: countItems(filtered), Sections: nonNil(filtered)}
}

// IndexSession indexes the items of a session (fire-and-forget to Meilisearch).
func (s *Service) IndexSession(sessionID string, sections []checklist.Section) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	records := Records(sessionID, sections)
	go func() {
		if err := s.index.IndexSession(sessionID, records); err != nil {
			s.logger.Warn("index session", zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
}

// DeleteSession removes a session's items from the index (fire-and-forget).
func (s *Service) DeleteSession(sessionID string) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	go func() {
		if err := s.index.DeleteSession(sessionID); err != nil {
			s.logger.Warn("delete session", zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
}

// SearchSessions finds the caller's saved sessions whose payload matches text.
func (s *Service) SearchSessions(ctx context.Context, ownerID, text string, limit int) ([]SessionHit, error) {
	if s.pgfts == nil {
		return []SessionHit{}, nil
	}
	hits, err := s.pgfts.SearchSessions(ctx, ownerID, text, limit)
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []SessionHit{}
	}
	return hits, nil
}

func nonNil(sections []checklist.Section) []checklist.Section {
	if sections == nil {
		return []checklist.Section{}
	}
	return sections
}

// IndexHealthy reports whether Meilisearch is configured and reachable.
func (s *Service) IndexHealthy() bool {
	return s.index != nil && s.index.Healthy()
}
