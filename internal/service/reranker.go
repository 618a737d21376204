package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/jayusctrojan/Empire-sub001/internal/breaker"
	"github.com/jayusctrojan/Empire-sub001/internal/model"
)

// RerankOutcome holds the result of one rerank attempt. On failure the
// candidates carry the fused ordering unchanged and Used is false.
type RerankOutcome struct {
	Candidates []model.RerankedCandidate
	Used       bool
	Err        string
	Latency    time.Duration
}

// Reranker scores fused candidates against the query with an external
// cross-encoder service. It fails open: any error, timeout, or open circuit
// degrades to the fused ordering rather than failing the query.
type Reranker struct {
	endpoint string
	apiKey   string
	model    string
	maxDocs  int
	breaker  *breaker.Breaker
	client   *http.Client
}

// NewReranker creates the cross-encoder client.
func NewReranker(endpoint, apiKey, rerankModel string, timeout time.Duration, maxDocs int, b *breaker.Breaker) *Reranker {
	return &Reranker{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    rerankModel,
		maxDocs:  maxDocs,
		breaker:  b,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Enabled reports whether an API key is configured.
func (r *Reranker) Enabled() bool {
	return r.apiKey != ""
}

// Rerank scores candidates against the query and blends the normalized
// rerank score with the normalized fused score. docs must be aligned with
// candidates (docs[i] is the text of candidates[i]).
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []model.FusedCandidate, docs []string, blend float64) *RerankOutcome {
	start := time.Now()

	if len(candidates) == 0 {
		return &RerankOutcome{Latency: time.Since(start)}
	}
	if !r.Enabled() {
		return r.degrade(candidates, start, "no API key configured")
	}

	toRerank := candidates
	toScore := docs
	if len(toRerank) > r.maxDocs {
		toRerank = toRerank[:r.maxDocs]
		toScore = toScore[:r.maxDocs]
	}

	scores := make([]float64, len(toRerank))
	err := r.breaker.Do(ctx, func(ctx context.Context) error {
		return r.call(ctx, query, toScore, scores)
	})
	if err != nil {
		return r.degrade(candidates, start, err.Error())
	}

	fusedScores := make([]float64, len(toRerank))
	for i, c := range toRerank {
		fusedScores[i] = c.Score
	}
	normFused := minMaxNormalize(fusedScores)
	normRerank := minMaxNormalize(scores)

	out := make([]model.RerankedCandidate, 0, len(candidates))
	for i, c := range toRerank {
		out = append(out, model.RerankedCandidate{
			FusedCandidate: c,
			RerankScore:    scores[i],
			FinalScore:     blend*normFused[i] + (1-blend)*normRerank[i],
			Reranked:       true,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FinalScore != out[j].FinalScore {
			return out[i].FinalScore > out[j].FinalScore
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	// Candidates beyond the rerank window trail the reranked set in fused
	// order. Their FinalScore is zero: fused scores live on a different scale
	// than the normalized blend, so carrying them over would let a tail entry
	// outscore the head it sorts behind.
	for _, c := range candidates[len(toRerank):] {
		out = append(out, model.RerankedCandidate{FusedCandidate: c})
	}

	return &RerankOutcome{Candidates: out, Used: true, Latency: time.Since(start)}
}

// call sends one rerank request and writes relevance scores into scores,
// indexed by document position.
func (r *Reranker) call(ctx context.Context, query string, docs []string, scores []float64) error {
	reqBody := rerankRequest{
		Model:           r.model,
		Query:           query,
		Documents:       docs,
		TopN:            len(docs),
		ReturnDocuments: false,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("rerank HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read rerank response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rerank service returned %d: %s", resp.StatusCode, string(respBody))
	}

	var rerankResp rerankResponse
	if err := json.Unmarshal(respBody, &rerankResp); err != nil {
		return fmt.Errorf("unmarshal rerank response: %w", err)
	}

	seen := 0
	for _, res := range rerankResp.Results {
		if res.Index < 0 || res.Index >= len(scores) {
			slog.Warn("reranker returned invalid index", "index", res.Index, "total", len(scores))
			continue
		}
		scores[res.Index] = res.RelevanceScore
		seen++
	}
	if seen == 0 {
		return fmt.Errorf("rerank response scored no documents: %w", model.ErrBackendMalformed)
	}
	return nil
}

// degrade returns the fused ordering unchanged.
func (r *Reranker) degrade(candidates []model.FusedCandidate, start time.Time, errMsg string) *RerankOutcome {
	slog.Warn("reranker unavailable, using fused order", "error", errMsg)

	out := make([]model.RerankedCandidate, len(candidates))
	for i, c := range candidates {
		out[i] = model.RerankedCandidate{FusedCandidate: c, FinalScore: c.Score}
	}
	return &RerankOutcome{Candidates: out, Err: errMsg, Latency: time.Since(start)}
}

// minMaxNormalize maps scores onto [0,1]. A constant slice normalizes to all
// ones so the blend degenerates to the other component's ordering.
func minMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	min, max := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	norm := make([]float64, len(scores))
	if max == min {
		for i := range norm {
			norm[i] = 1
		}
		return norm
	}
	for i, s := range scores {
		norm[i] = (s - min) / (max - min)
	}
	return norm
}

type rerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

type rerankResponse struct {
	ID      string         `json:"id"`
	Results []rerankResult `json:"results"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}
