package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/jayusctrojan/Empire-sub001/internal/model"
)

// DenseSearcher performs nearest-neighbor search over chunk embeddings using
// pgvector cosine distance. Rank 1 is the smallest distance; results below
// the similarity floor are dropped.
type DenseSearcher struct {
	pool          *pgxpool.Pool
	minSimilarity float64
}

// NewDenseSearcher creates the dense index backend.
func NewDenseSearcher(pool *pgxpool.Pool, minSimilarity float64) *DenseSearcher {
	return &DenseSearcher{pool: pool, minSimilarity: minSimilarity}
}

func (s *DenseSearcher) Method() model.Method { return model.MethodDense }

func (s *DenseSearcher) Search(ctx context.Context, query string, embedding []float32, filters model.SearchFilters, limit int) ([]model.MethodHit, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("dense search requires a query embedding")
	}

	args := []any{pgvector.NewVector(embedding), s.minSimilarity}
	where := filterClauses(filters, &args)
	args = append(args, limit)

	sql := fmt.Sprintf(`
		SELECT c.chunk_id, 1 - (ce.embedding <=> $1) AS similarity, c.quality
		FROM chunks c
		JOIN chunk_embeddings ce ON ce.chunk_id = c.chunk_id
		WHERE 1 - (ce.embedding <=> $1) >= $2%s
		ORDER BY ce.embedding <=> $1
		LIMIT $%d
	`, where, len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("dense query: %w", err)
	}
	defer rows.Close()

	var hits []model.MethodHit
	rank := 1
	for rows.Next() {
		var hit model.MethodHit
		if err := rows.Scan(&hit.ChunkID, &hit.Score, &hit.Quality); err != nil {
			return nil, fmt.Errorf("scan dense row: %w", err)
		}
		hit.Rank = rank
		rank++
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dense rows iteration: %w", err)
	}

	return hits, nil
}
