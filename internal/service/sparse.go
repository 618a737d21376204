package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jayusctrojan/Empire-sub001/internal/model"
)

// SparseSearcher performs keyword full-text search using websearch_to_tsquery
// and ts_rank_cd, ordered by descending relevance.
type SparseSearcher struct {
	pool *pgxpool.Pool
}

// NewSparseSearcher creates the sparse (full-text) index backend.
func NewSparseSearcher(pool *pgxpool.Pool) *SparseSearcher {
	return &SparseSearcher{pool: pool}
}

func (s *SparseSearcher) Method() model.Method { return model.MethodSparse }

func (s *SparseSearcher) Search(ctx context.Context, query string, embedding []float32, filters model.SearchFilters, limit int) ([]model.MethodHit, error) {
	args := []any{query}
	where := filterClauses(filters, &args)
	args = append(args, limit)

	sql := fmt.Sprintf(`
		SELECT c.chunk_id,
			ts_rank_cd(cf.tsv, websearch_to_tsquery('english', $1)) AS score,
			c.quality
		FROM chunks c
		JOIN chunk_fts cf ON cf.chunk_id = c.chunk_id
		WHERE cf.tsv @@ websearch_to_tsquery('english', $1)%s
		ORDER BY ts_rank_cd(cf.tsv, websearch_to_tsquery('english', $1)) DESC
		LIMIT $%d
	`, where, len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("sparse query: %w", err)
	}
	defer rows.Close()

	var hits []model.MethodHit
	rank := 1
	for rows.Next() {
		var hit model.MethodHit
		if err := rows.Scan(&hit.ChunkID, &hit.Score, &hit.Quality); err != nil {
			return nil, fmt.Errorf("scan sparse row: %w", err)
		}
		hit.Rank = rank
		rank++
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sparse rows iteration: %w", err)
	}

	return hits, nil
}
