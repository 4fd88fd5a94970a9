package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SessionHit is a saved checklist session whose payload matched a full-text query.
type SessionHit struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Snippet   string    `json:"snippet"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PgFTS searches saved checklist payloads with PostgreSQL full-text search.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// SearchSessions ranks the owner's sessions against text using plainto_tsquery over the
// JSON payload, with ts_headline for snippets.
func (p *PgFTS) SearchSessions(ctx context.Context, ownerID, text string, limit int) ([]SessionHit, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, filename,
			ts_headline('simple', data::text, plainto_tsquery('simple', $2), 'MaxFragments=1,MaxWords=20') AS snippet,
			updated_at
		FROM checklist_sessions
		WHERE user_id = $1
			AND to_tsvector('simple', data::text) @@ plainto_tsquery('simple', $2)
		ORDER BY ts_rank(to_tsvector('simple', data::text), plainto_tsquery('simple', $2)) DESC, updated_at DESC
		LIMIT $3
	`, ownerID, text, limit)
	if err != nil {
		return nil, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var hits []SessionHit
	for rows.Next() {
		var h SessionHit
		if err := rows.Scan(&h.ID, &h.Filename, &h.Snippet, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pgfts scan: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
