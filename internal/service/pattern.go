package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jayusctrojan/Empire-sub001/internal/model"
)

// patternMatchScore is the fixed relevance assigned to every exact-substring
// match: containment has no graded relevance, so ordering falls to the
// stable secondary key (chunk identifier).
const patternMatchScore = 1.0

// PatternSearcher performs exact substring containment.
type PatternSearcher struct {
	pool *pgxpool.Pool
}

// NewPatternSearcher creates the exact-pattern index backend.
func NewPatternSearcher(pool *pgxpool.Pool) *PatternSearcher {
	return &PatternSearcher{pool: pool}
}

func (s *PatternSearcher) Method() model.Method { return model.MethodPattern }

func (s *PatternSearcher) Search(ctx context.Context, query string, embedding []float32, filters model.SearchFilters, limit int) ([]model.MethodHit, error) {
	args := []any{query}
	where := filterClauses(filters, &args)
	args = append(args, limit)

	sql := fmt.Sprintf(`
		SELECT c.chunk_id, c.quality
		FROM chunks c
		WHERE POSITION($1 IN c.text) > 0%s
		ORDER BY c.chunk_id
		LIMIT $%d
	`, where, len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pattern query: %w", err)
	}
	defer rows.Close()

	var hits []model.MethodHit
	rank := 1
	for rows.Next() {
		var hit model.MethodHit
		if err := rows.Scan(&hit.ChunkID, &hit.Quality); err != nil {
			return nil, fmt.Errorf("scan pattern row: %w", err)
		}
		hit.Score = patternMatchScore
		hit.Rank = rank
		rank++
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pattern rows iteration: %w", err)
	}

	return hits, nil
}
