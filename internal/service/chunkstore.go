package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jayusctrojan/Empire-sub001/internal/model"
)

// ChunkStore reads chunk content and document structure for context
// expansion. The engine never writes chunks.
type ChunkStore interface {
	GetChunk(ctx context.Context, chunkID string) (*model.Chunk, error)
	GetChunks(ctx context.Context, chunkIDs []string) (map[string]*model.Chunk, error)
	GetNeighbors(ctx context.Context, chunkID string, radius int) ([]model.Chunk, error)
	GetBySection(ctx context.Context, sectionID string) ([]model.Chunk, error)
}

// PGChunkStore is the Postgres-backed ChunkStore.
type PGChunkStore struct {
	pool *pgxpool.Pool
}

// NewPGChunkStore creates the chunk reader.
func NewPGChunkStore(pool *pgxpool.Pool) *PGChunkStore {
	return &PGChunkStore{pool: pool}
}

const chunkColumns = "chunk_id, doc_id, seq, section_id, text, quality, created_at"

func scanChunk(row pgx.Row) (*model.Chunk, error) {
	var c model.Chunk
	if err := row.Scan(&c.ID, &c.DocID, &c.Seq, &c.SectionID, &c.Text, &c.Quality, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PGChunkStore) GetChunk(ctx context.Context, chunkID string) (*model.Chunk, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE chunk_id = $1", chunkID)
	c, err := scanChunk(row)
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", chunkID, err)
	}
	return c, nil
}

func (s *PGChunkStore) GetChunks(ctx context.Context, chunkIDs []string) (map[string]*model.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE chunk_id = ANY($1)", chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*model.Chunk, len(chunkIDs))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		out[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chunk rows iteration: %w", err)
	}
	return out, nil
}

// GetNeighbors returns chunks of the same document within radius sequence
// positions, excluding the source chunk, ordered by sequence distance.
func (s *PGChunkStore) GetNeighbors(ctx context.Context, chunkID string, radius int) ([]model.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.chunk_id, c.doc_id, c.seq, c.section_id, c.text, c.quality, c.created_at
		FROM chunks c
		JOIN chunks src ON src.doc_id = c.doc_id
		WHERE src.chunk_id = $1
		  AND c.chunk_id <> $1
		  AND abs(c.seq - src.seq) <= $2
		ORDER BY abs(c.seq - src.seq), c.seq
	`, chunkID, radius)
	if err != nil {
		return nil, fmt.Errorf("get neighbors of %s: %w", chunkID, err)
	}
	defer rows.Close()

	return collectChunks(rows)
}

func (s *PGChunkStore) GetBySection(ctx context.Context, sectionID string) ([]model.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE section_id = $1 ORDER BY seq", sectionID)
	if err != nil {
		return nil, fmt.Errorf("get section %s: %w", sectionID, err)
	}
	defer rows.Close()

	return collectChunks(rows)
}

func collectChunks(rows pgx.Rows) ([]model.Chunk, error) {
	var out []model.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chunk rows iteration: %w", err)
	}
	return out, nil
}
