package similar

import (
	"context"
	"database/sql"
	"fmt"
)

// PgTrgm implements candidate search with PostgreSQL pg_trgm similarity.
type PgTrgm struct {
	db *sql.DB
}

// NewPgTrgm creates a pg_trgm-backed similarity searcher.
func NewPgTrgm(db *sql.DB) *PgTrgm {
	return &PgTrgm{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgTrgm) Healthy() bool {
	return true
}

// FindCandidates scores every organization by the best trigram similarity
// between the query and its normalized name or any alias, keeping scores at
// or above the threshold.
func (p *PgTrgm) FindCandidates(ctx context.Context, normalized string, threshold float64) ([]Candidate, error) {
	if normalized == "" {
		return nil, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, display_name, normalized_name, total_reviews, score
		FROM (
			SELECT o.id, o.display_name, o.normalized_name, o.total_reviews,
				GREATEST(
					similarity(o.normalized_name, $1),
					COALESCE((
						SELECT MAX(similarity(a.normalized_text, $1))
						FROM org_aliases a
						WHERE a.org_id = o.id
					), 0)
				)::float8 AS score
			FROM organizations o
		) scored
		WHERE score >= $2
		ORDER BY score DESC, total_reviews DESC, id ASC
		LIMIT $3
	`, normalized, threshold, maxCandidates)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	defer rows.Close()

	candidates := make([]Candidate, 0)
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.OrgID, &c.Name, &c.NormalizedName, &c.ReviewCount, &c.Score); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return candidates, nil
}
