package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jayusctrojan/Empire-sub001/internal/model"
)

// fakeChunkStore serves chunks from memory and can fail selected calls.
type fakeChunkStore struct {
	chunks       map[string]*model.Chunk
	neighborErr  error
	sectionErr   error
	missingChunk map[string]bool
}

func newFakeChunkStore(chunks ...model.Chunk) *fakeChunkStore {
	s := &fakeChunkStore{chunks: map[string]*model.Chunk{}, missingChunk: map[string]bool{}}
	for i := range chunks {
		c := chunks[i]
		s.chunks[c.ID] = &c
	}
	return s
}

func (s *fakeChunkStore) GetChunk(_ context.Context, chunkID string) (*model.Chunk, error) {
	c, ok := s.chunks[chunkID]
	if !ok || s.missingChunk[chunkID] {
		return nil, fmt.Errorf("chunk %s not found", chunkID)
	}
	return c, nil
}

func (s *fakeChunkStore) GetChunks(_ context.Context, chunkIDs []string) (map[string]*model.Chunk, error) {
	out := map[string]*model.Chunk{}
	for _, id := range chunkIDs {
		if c, ok := s.chunks[id]; ok && !s.missingChunk[id] {
			out[id] = c
		}
	}
	return out, nil
}

func (s *fakeChunkStore) GetNeighbors(_ context.Context, chunkID string, radius int) ([]model.Chunk, error) {
	if s.neighborErr != nil {
		return nil, s.neighborErr
	}
	src, ok := s.chunks[chunkID]
	if !ok {
		return nil, fmt.Errorf("chunk %s not found", chunkID)
	}
	var out []model.Chunk
	for d := 1; d <= radius; d++ {
		for _, off := range []int{-d, d} {
			for _, c := range s.chunks {
				if c.DocID == src.DocID && c.Seq == src.Seq+off {
					out = append(out, *c)
				}
			}
		}
	}
	return out, nil
}

func (s *fakeChunkStore) GetBySection(_ context.Context, sectionID string) ([]model.Chunk, error) {
	if s.sectionErr != nil {
		return nil, s.sectionErr
	}
	var out []model.Chunk
	for _, c := range s.chunks {
		if c.SectionID == sectionID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func docChunk(id, doc string, seq int, section, text string) model.Chunk {
	return model.Chunk{ID: id, DocID: doc, Seq: seq, SectionID: section, Text: text}
}

func candidateFor(chunkID string) model.RerankedCandidate {
	return model.RerankedCandidate{
		FusedCandidate: model.FusedCandidate{ChunkID: chunkID, Score: 0.03},
	}
}

func TestExpandNeighborsAndContextOrder(t *testing.T) {
	store := newFakeChunkStore(
		docChunk("d1-0", "d1", 0, "s1", "first"),
		docChunk("d1-1", "d1", 1, "s1", "second"),
		docChunk("d1-2", "d1", 2, "s1", "third"),
	)
	e := NewExpander(store, 1, false, 2)

	results, err := e.Expand(context.Background(), []model.RerankedCandidate{candidateFor("d1-1")})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	res := results[0]
	if res.Chunk.ID != "d1-1" {
		t.Errorf("chunk = %s, want d1-1", res.Chunk.ID)
	}
	if len(res.Neighbors) != 2 {
		t.Fatalf("neighbors = %d, want 2", len(res.Neighbors))
	}
	// Context window runs in document order regardless of fetch order.
	want := "first\n\nsecond\n\nthird"
	if res.Context != want {
		t.Errorf("context = %q, want %q", res.Context, want)
	}
}

func TestExpandSectionDeduplicates(t *testing.T) {
	store := newFakeChunkStore(
		docChunk("d1-0", "d1", 0, "s1", "alpha"),
		docChunk("d1-1", "d1", 1, "s1", "beta"),
		docChunk("d1-5", "d1", 5, "s1", "gamma"), // same section, outside radius
	)
	e := NewExpander(store, 1, true, 2)

	results, err := e.Expand(context.Background(), []model.RerankedCandidate{candidateFor("d1-0")})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	res := results[0]
	if len(res.Neighbors) != 2 {
		t.Fatalf("neighbors = %d, want 2 (d1-1 once, d1-5 once)", len(res.Neighbors))
	}
	seen := map[string]int{}
	for _, n := range res.Neighbors {
		seen[n.ID]++
	}
	if seen["d1-1"] != 1 || seen["d1-5"] != 1 || seen["d1-0"] != 0 {
		t.Errorf("neighbor set = %v, want exactly {d1-1, d1-5}", seen)
	}
	if !strings.Contains(res.Context, "gamma") {
		t.Errorf("context missing section chunk: %q", res.Context)
	}
}

func TestExpandNeighborFailureKeepsBareChunk(t *testing.T) {
	store := newFakeChunkStore(docChunk("d1-0", "d1", 0, "s1", "solo"))
	store.neighborErr = errors.New("backend down")
	e := NewExpander(store, 1, false, 2)

	results, err := e.Expand(context.Background(), []model.RerankedCandidate{candidateFor("d1-0")})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	res := results[0]
	if len(res.Neighbors) != 0 {
		t.Errorf("neighbors = %d, want 0 after fetch failure", len(res.Neighbors))
	}
	if res.Context != "solo" {
		t.Errorf("context = %q, want bare chunk text", res.Context)
	}
}

func TestExpandDropsMissingChunks(t *testing.T) {
	store := newFakeChunkStore(docChunk("d1-0", "d1", 0, "s1", "kept"))
	e := NewExpander(store, 0, false, 2)

	results, err := e.Expand(context.Background(), []model.RerankedCandidate{
		candidateFor("d1-0"),
		candidateFor("gone"),
	})
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "d1-0" {
		t.Fatalf("results = %+v, want only d1-0", results)
	}
}

func TestExpandPreservesCandidateOrder(t *testing.T) {
	store := newFakeChunkStore(
		docChunk("a", "d1", 0, "", "a"),
		docChunk("b", "d2", 0, "", "b"),
		docChunk("c", "d3", 0, "", "c"),
	)
	e := NewExpander(store, 0, false, 3)

	cands := []model.RerankedCandidate{candidateFor("c"), candidateFor("a"), candidateFor("b")}
	results, err := e.Expand(context.Background(), cands)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	got := []string{results[0].Chunk.ID, results[1].Chunk.ID, results[2].Chunk.ID}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order = %v, want %v", got, want)
			break
		}
	}
}
