package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jayusctrojan/Empire-sub001/internal/model"
)

// Expander enriches the final top-N candidates with their source chunk,
// adjacent chunks, and same-section chunks, and builds the concatenated
// context window. Expansion failures degrade a single result to its bare
// chunk; they never fail the query.
type Expander struct {
	store       ChunkStore
	radius      int
	withSection bool
	concurrency int
}

// NewExpander creates the context expander. radius is the sequence distance
// for adjacent chunks; withSection adds same-section chunks.
func NewExpander(store ChunkStore, radius int, withSection bool, concurrency int) *Expander {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Expander{store: store, radius: radius, withSection: withSection, concurrency: concurrency}
}

// Expand builds ExpandedResults for the given candidates, preserving their
// order. A candidate whose source chunk cannot be loaded is dropped; one
// whose neighbor fetch fails keeps its chunk with no neighbors.
func (e *Expander) Expand(ctx context.Context, candidates []model.RerankedCandidate) ([]model.ExpandedResult, error) {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ChunkID
	}
	chunks, err := e.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]*model.ExpandedResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, cand := range candidates {
		chunk, ok := chunks[cand.ChunkID]
		if !ok {
			slog.Warn("fused candidate has no stored chunk", "chunk_id", cand.ChunkID)
			continue
		}
		i, cand, chunk := i, cand, chunk
		g.Go(func() error {
			res := &model.ExpandedResult{Candidate: cand, Chunk: *chunk}
			res.Neighbors = e.gather(gctx, chunk)
			res.Context = contextWindow(*chunk, res.Neighbors)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.ExpandedResult, 0, len(candidates))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// gather collects neighbor and section chunks for one source chunk,
// deduplicated, neighbors first. Fetch errors leave that group empty.
func (e *Expander) gather(ctx context.Context, chunk *model.Chunk) []model.Chunk {
	var neighbors []model.Chunk
	if e.radius > 0 {
		var err error
		neighbors, err = e.store.GetNeighbors(ctx, chunk.ID, e.radius)
		if err != nil {
			slog.Warn("neighbor fetch failed", "chunk_id", chunk.ID, "error", err)
		}
	}

	if e.withSection && chunk.SectionID != "" {
		section, err := e.store.GetBySection(ctx, chunk.SectionID)
		if err != nil {
			slog.Warn("section fetch failed", "chunk_id", chunk.ID, "section_id", chunk.SectionID, "error", err)
		} else {
			seen := map[string]bool{chunk.ID: true}
			for _, n := range neighbors {
				seen[n.ID] = true
			}
			for _, s := range section {
				if !seen[s.ID] {
					seen[s.ID] = true
					neighbors = append(neighbors, s)
				}
			}
		}
	}
	return neighbors
}

// contextWindow concatenates the source chunk and its neighbors in document
// order (sequence ascending within each document, source document first).
func contextWindow(chunk model.Chunk, neighbors []model.Chunk) string {
	window := make([]model.Chunk, 0, len(neighbors)+1)
	window = append(window, chunk)
	window = append(window, neighbors...)

	sort.SliceStable(window, func(i, j int) bool {
		if window[i].DocID != window[j].DocID {
			// Keep the source document's chunks ahead of cross-document pulls.
			if window[i].DocID == chunk.DocID {
				return true
			}
			if window[j].DocID == chunk.DocID {
				return false
			}
			return window[i].DocID < window[j].DocID
		}
		return window[i].Seq < window[j].Seq
	})

	parts := make([]string, len(window))
	for i, c := range window {
		parts[i] = c.Text
	}
	return strings.Join(parts, "\n\n")
}
