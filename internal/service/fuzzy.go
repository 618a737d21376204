package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jayusctrojan/Empire-sub001/internal/model"
)

// FuzzySearcher performs approximate string matching using pg_trgm trigram
// similarity, descending, subject to a minimum similarity floor.
type FuzzySearcher struct {
	pool          *pgxpool.Pool
	minSimilarity float64
}

// NewFuzzySearcher creates the fuzzy-text index backend.
func NewFuzzySearcher(pool *pgxpool.Pool, minSimilarity float64) *FuzzySearcher {
	return &FuzzySearcher{pool: pool, minSimilarity: minSimilarity}
}

func (s *FuzzySearcher) Method() model.Method { return model.MethodFuzzy }

func (s *FuzzySearcher) Search(ctx context.Context, query string, embedding []float32, filters model.SearchFilters, limit int) ([]model.MethodHit, error) {
	args := []any{query, s.minSimilarity}
	where := filterClauses(filters, &args)
	args = append(args, limit)

	sql := fmt.Sprintf(`
		SELECT c.chunk_id, similarity(c.text, $1) AS sim, c.quality
		FROM chunks c
		WHERE similarity(c.text, $1) >= $2%s
		ORDER BY similarity(c.text, $1) DESC, c.chunk_id
		LIMIT $%d
	`, where, len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("fuzzy query: %w", err)
	}
	defer rows.Close()

	var hits []model.MethodHit
	rank := 1
	for rows.Next() {
		var hit model.MethodHit
		if err := rows.Scan(&hit.ChunkID, &hit.Score, &hit.Quality); err != nil {
			return nil, fmt.Errorf("scan fuzzy row: %w", err)
		}
		hit.Rank = rank
		rank++
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fuzzy rows iteration: %w", err)
	}

	return hits, nil
}
