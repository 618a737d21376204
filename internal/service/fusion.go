package service

import (
	"sort"

	"github.com/jayusctrojan/Empire-sub001/internal/model"
)

// FuseRRF merges per-method rankings into one candidate list using weighted
// Reciprocal Rank Fusion. Each method contributes weight/(K+rank) per chunk;
// raw backend scores never mix across methods. Failed methods (OK=false) are
// skipped entirely. The returned list is sorted by fused score descending,
// ties broken by contributing-method count, then chunk quality, then chunk ID,
// and truncated to fanIn candidates (0 disables truncation).
func FuseRRF(results []model.MethodResult, weights *model.FusionWeights, fanIn int) []model.FusedCandidate {
	k := weights.RRFK
	if k <= 0 {
		k = 60
	}

	byChunk := make(map[string]*model.FusedCandidate)
	for _, res := range results {
		if !res.OK {
			continue
		}
		w := weights.Weight(res.Method)
		if w <= 0 {
			continue
		}
		for _, hit := range res.Hits {
			cand, ok := byChunk[hit.ChunkID]
			if !ok {
				cand = &model.FusedCandidate{ChunkID: hit.ChunkID, Quality: hit.Quality}
				byChunk[hit.ChunkID] = cand
			}
			weighted := w / float64(k+hit.Rank)
			cand.Score += weighted
			cand.Methods++
			if hit.Quality > cand.Quality {
				cand.Quality = hit.Quality
			}
			cand.Contributions = append(cand.Contributions, model.MethodContribution{
				Method:   res.Method,
				Rank:     hit.Rank,
				Weighted: weighted,
			})
		}
	}

	fused := make([]model.FusedCandidate, 0, len(byChunk))
	for _, cand := range byChunk {
		fused = append(fused, *cand)
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		if fused[i].Methods != fused[j].Methods {
			return fused[i].Methods > fused[j].Methods
		}
		if fused[i].Quality != fused[j].Quality {
			return fused[i].Quality > fused[j].Quality
		}
		return fused[i].ChunkID < fused[j].ChunkID
	})

	if fanIn > 0 && len(fused) > fanIn {
		fused = fused[:fanIn]
	}
	return fused
}
