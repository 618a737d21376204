// Package model defines the domain types for the retrieval engine.
package model

import (
	"time"
)

// Method identifies one retrieval strategy.
type Method string

const (
	MethodDense   Method = "dense"
	MethodSparse  Method = "sparse"
	MethodPattern Method = "pattern"
	MethodFuzzy   Method = "fuzzy"
)

// AllMethods lists every retrieval method in fan-out order.
var AllMethods = []Method{MethodDense, MethodSparse, MethodPattern, MethodFuzzy}

// Chunk is the immutable unit of retrievable content. It is owned by the
// ingestion subsystem; the engine only reads it.
type Chunk struct {
	ID        string    `json:"chunk_id"`
	DocID     string    `json:"doc_id"`
	Seq       int       `json:"seq"`
	SectionID string    `json:"section_id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
	Quality   float64   `json:"quality"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchFilters narrows which chunks a searcher may return.
type SearchFilters struct {
	DocIDs     []string `json:"doc_ids,omitempty"`
	SectionIDs []string `json:"section_ids,omitempty"`
	MinQuality float64  `json:"min_quality,omitempty"`
}

// MethodHit is one ranked entry from a single backend.
type MethodHit struct {
	ChunkID string
	Score   float64 // raw backend relevance score
	Rank    int     // 1-based position in the backend's ordering
	Quality float64 // stored chunk quality score, carried for tie-breaking
}

// MethodResult is one backend's ranked output for one query. It is created
// per query per method and discarded after fusion.
type MethodResult struct {
	Method  Method
	Hits    []MethodHit
	Latency time.Duration
	OK      bool   // false when the method contributed nothing (timeout, error, open circuit)
	Err     string // cause when OK is false, empty otherwise
}

// MethodContribution records how one method influenced a fused candidate.
type MethodContribution struct {
	Method   Method  `json:"method"`
	Rank     int     `json:"rank"`
	Weighted float64 `json:"weighted"`
}

// FusedCandidate is the result of combining MethodResults for one chunk.
type FusedCandidate struct {
	ChunkID       string               `json:"chunk_id"`
	Contributions []MethodContribution `json:"contributions"`
	Score         float64              `json:"fused_score"`
	Methods       int                  `json:"methods"`
	Quality       float64              `json:"quality"`
}

// RerankedCandidate is a FusedCandidate plus the external relevance score
// and the final blended score.
type RerankedCandidate struct {
	FusedCandidate
	RerankScore float64 `json:"rerank_score"`
	FinalScore  float64 `json:"final_score"`
	Reranked    bool    `json:"reranked"`
}

// ExpandedResult is a RerankedCandidate enriched with its source chunk,
// structural neighbors, and a concatenated context window. Produced only for
// the final top-N delivered to the caller.
type ExpandedResult struct {
	Candidate RerankedCandidate `json:"candidate"`
	Chunk     Chunk             `json:"chunk"`
	Neighbors []Chunk           `json:"neighbors"`
	Context   string            `json:"context"`
}

// FusionWeights holds the per-query-class fusion parameters. Snapshots are
// treated as immutable: mutation produces a new value via Clone, never an
// in-place write, so concurrent readers see old-or-new but never torn state.
type FusionWeights struct {
	Class         string
	Version       uint64
	Weights       map[Method]float64
	MinSimilarity map[Method]float64
	BlendRatio    float64 // share of fused score in the final blend
	RRFK          int
}

// Weight returns the fusion weight for a method, zero if unset.
func (w *FusionWeights) Weight(m Method) float64 {
	return w.Weights[m]
}

// Clone returns a deep copy suitable for copy-on-write mutation.
func (w *FusionWeights) Clone() *FusionWeights {
	c := &FusionWeights{
		Class:         w.Class,
		Version:       w.Version,
		Weights:       make(map[Method]float64, len(w.Weights)),
		MinSimilarity: make(map[Method]float64, len(w.MinSimilarity)),
		BlendRatio:    w.BlendRatio,
		RRFK:          w.RRFK,
	}
	for m, v := range w.Weights {
		c.Weights[m] = v
	}
	for m, v := range w.MinSimilarity {
		c.MinSimilarity[m] = v
	}
	return c
}

// Cache tiers reported to the caller.
const (
	CacheTierNone  = "none"
	CacheTierExact = "exact"
	CacheTierNear  = "near"
)

// RetrieveRequest is the POST /v1/retrieve request body.
type RetrieveRequest struct {
	Query        string        `json:"query"`
	Embedding    []float32     `json:"embedding,omitempty"` // precomputed upstream; engine embeds if absent
	Filters      SearchFilters `json:"filters"`
	Limit        int           `json:"limit"`
	DeadlineMS   int           `json:"deadline_ms,omitempty"`
	RequireFresh bool          `json:"require_fresh,omitempty"` // treat approximate cache hits as misses
	Debug        bool          `json:"debug,omitempty"`
}

// RetrieveResponse is the engine's answer to the downstream synthesis step.
// It always states which methods contributed and whether a cache or degraded
// path was taken, so consumers can assert on pipeline behavior.
type RetrieveResponse struct {
	Results     []ExpandedResult `json:"results"`
	Degraded    bool             `json:"degraded"`
	MethodsUsed []string         `json:"methods_used"`
	CacheTier   string           `json:"cache_tier"`
	Approximate bool             `json:"approximate"` // near-tier hit below the exact-equivalent band
	Debug       *DebugInfo       `json:"debug,omitempty"`
}

// DebugInfo carries pipeline internals when the caller sets debug=true.
type DebugInfo struct {
	MethodCandidates map[string]int `json:"method_candidates"`
	FusedCandidates  int            `json:"fused_candidates"`
	RerankerUsed     bool           `json:"reranker_used"`
	RerankerError    string         `json:"reranker_error,omitempty"`
	TopScores        []float64      `json:"top_scores,omitempty"`
	WeightsVersion   uint64         `json:"weights_version"`
	QueryClass       string         `json:"query_class"`
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// FeedbackSignal is one event from the feedback source, consumed
// asynchronously by the adaptive parameter store.
type FeedbackSignal struct {
	EventID    string   `json:"event_id"`
	QueryClass string   `json:"query_class"`
	ChunkID    string   `json:"chunk_id"`
	Methods    []Method `json:"methods"` // methods whose rankings surfaced the chunk
	Positive   bool     `json:"positive"`
}

// QueryLog holds all fields for the structured per-query log line.
type QueryLog struct {
	Timestamp       time.Time
	RequestID       string
	QueryHash       string
	QueryClass      string
	Limit           int
	CacheTier       string
	MethodsUsed     []string
	FusedCandidates int
	RerankerUsed    bool
	Degraded        bool
	Results         int
	LatencyMSTotal  int64
	LatencyMSFanout int64
	LatencyMSFusion int64
	LatencyMSRerank int64
	LatencyMSExpand int64
	HTTPStatus      int
}
