package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/jayusctrojan/Empire-sub001/internal/cache"
	"github.com/jayusctrojan/Empire-sub001/internal/model"
)

// EngineConfig bounds the coordinator's pipeline stages.
type EngineConfig struct {
	FanoutDeadline time.Duration // shared deadline across all method searchers
	MethodTopK     int           // candidates requested from each backend
	FanInMultiple  int           // fused list kept at FanInMultiple × limit
	DefaultLimit   int
}

// Trace records per-stage latency and pipeline counters for the structured
// query log.
type Trace struct {
	Fanout time.Duration
	Fusion time.Duration
	Rerank time.Duration
	Expand time.Duration
	Total  time.Duration

	QueryClass      string
	FusedCandidates int
	RerankerUsed    bool
}

// Engine is the query coordinator. One Retrieve call walks the pipeline
// cache lookup, fan-out, fusion, rerank, expand, cache write-back; it aborts
// only when every method fails, and degrades to the best fused-so-far result
// when the overall deadline expires mid-pipeline.
type Engine struct {
	cfg       EngineConfig
	searchers []*Guarded
	embedder  Embedder
	cache     *cache.SemanticCache
	params    *ParamStore
	reranker  *Reranker
	expander  *Expander
	store     ChunkStore
}

// NewEngine wires the pipeline. embedder may be nil when callers always
// supply embeddings; cache may be nil to disable caching.
func NewEngine(cfg EngineConfig, searchers []*Guarded, embedder Embedder, sc *cache.SemanticCache, params *ParamStore, reranker *Reranker, expander *Expander, store ChunkStore) *Engine {
	return &Engine{
		cfg:       cfg,
		searchers: searchers,
		embedder:  embedder,
		cache:     sc,
		params:    params,
		reranker:  reranker,
		expander:  expander,
		store:     store,
	}
}

// Retrieve runs one query through the pipeline.
func (e *Engine) Retrieve(ctx context.Context, req *model.RetrieveRequest) (*model.RetrieveResponse, *Trace, error) {
	start := time.Now()
	trace := &Trace{}
	defer func() { trace.Total = time.Since(start) }()

	if req.DeadlineMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.DeadlineMS)*time.Millisecond)
		defer cancel()
	}

	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}

	class := ClassifyQuery(req.Query)
	trace.QueryClass = class
	weights := e.params.Snapshot(class)

	embedding := req.Embedding
	if len(embedding) == 0 && e.embedder != nil {
		var err error
		embedding, err = e.embedder.Embed(ctx, req.Query)
		if err != nil {
			// Dense search and near-tier matching are both lost; the sparse,
			// pattern, and fuzzy methods still run.
			slog.Warn("query embedding failed", "error", err)
			embedding = nil
		}
	}

	fingerprint := cache.Fingerprint(req.Query, req.Filters)

	if resp := e.cacheLookup(ctx, fingerprint, embedding, req.RequireFresh); resp != nil {
		e.debugInfo(req, resp, class, weights, nil, 0, nil)
		return resp, trace, nil
	}

	fanoutStart := time.Now()
	results := e.fanout(ctx, req.Query, embedding, req.Filters)
	trace.Fanout = time.Since(fanoutStart)

	var methodsUsed []string
	for _, res := range results {
		if res.OK {
			methodsUsed = append(methodsUsed, string(res.Method))
		}
	}
	if len(methodsUsed) == 0 {
		return nil, trace, model.ErrAllMethodsFailed
	}

	fusionStart := time.Now()
	fanIn := e.cfg.FanInMultiple * limit
	fused := FuseRRF(results, weights, fanIn)
	trace.Fusion = time.Since(fusionStart)
	trace.FusedCandidates = len(fused)

	if len(fused) == 0 {
		// Nothing found is a valid outcome, distinct from "everything broke".
		resp := &model.RetrieveResponse{
			Results:     []model.ExpandedResult{},
			MethodsUsed: methodsUsed,
			CacheTier:   model.CacheTierNone,
		}
		e.debugInfo(req, resp, class, weights, results, 0, nil)
		return resp, trace, nil
	}

	if ctx.Err() != nil {
		resp := e.degradedResponse(ctx, fused, limit, methodsUsed)
		e.debugInfo(req, resp, class, weights, results, len(fused), nil)
		return resp, trace, nil
	}

	rerankStart := time.Now()
	outcome := e.rerank(ctx, req.Query, fused, weights.BlendRatio)
	trace.Rerank = time.Since(rerankStart)
	trace.RerankerUsed = outcome.Used

	topN := outcome.Candidates
	if len(topN) > limit {
		topN = topN[:limit]
	}

	if ctx.Err() != nil {
		resp := e.degradedResponse(ctx, fused, limit, methodsUsed)
		e.debugInfo(req, resp, class, weights, results, len(fused), outcome)
		return resp, trace, nil
	}

	expandStart := time.Now()
	expanded, err := e.expander.Expand(ctx, topN)
	trace.Expand = time.Since(expandStart)
	if err != nil {
		slog.Warn("context expansion failed, delivering bare candidates", "error", err)
		resp := e.degradedResponse(ctx, fused, limit, methodsUsed)
		e.debugInfo(req, resp, class, weights, results, len(fused), outcome)
		return resp, trace, nil
	}

	if e.cache != nil && len(expanded) > 0 {
		// Write-back never blocks or outlives-cancels delivery.
		wb := context.WithoutCancel(ctx)
		go e.cache.Store(wb, req.Query, fingerprint, embedding, expanded)
	}

	resp := &model.RetrieveResponse{
		Results:     expanded,
		MethodsUsed: methodsUsed,
		CacheTier:   model.CacheTierNone,
	}
	e.debugInfo(req, resp, class, weights, results, len(fused), outcome)
	return resp, trace, nil
}

// cacheLookup returns a response when the cache can serve this query, nil
// otherwise. An approximate near hit is a miss when the caller requires
// freshness.
func (e *Engine) cacheLookup(ctx context.Context, fingerprint string, embedding []float32, requireFresh bool) *model.RetrieveResponse {
	if e.cache == nil {
		return nil
	}
	hit, ok := e.cache.Lookup(ctx, fingerprint, embedding)
	if !ok {
		return nil
	}
	if hit.Approximate && requireFresh {
		return nil
	}
	return &model.RetrieveResponse{
		Results:     hit.Results,
		CacheTier:   hit.Tier,
		Approximate: hit.Approximate,
		MethodsUsed: []string{},
	}
}

// fanout runs every guarded searcher concurrently under the shared deadline.
// The deadline bounds total wait: searchers still running when it fires are
// cancelled and their results discarded, not awaited. The channel is buffered
// so abandoned goroutines can still send and exit.
func (e *Engine) fanout(ctx context.Context, query string, embedding []float32, filters model.SearchFilters) []model.MethodResult {
	fanoutCtx, cancel := context.WithTimeout(ctx, e.cfg.FanoutDeadline)
	defer cancel()

	ch := make(chan model.MethodResult, len(e.searchers))
	for _, g := range e.searchers {
		g := g
		go func() {
			ch <- g.Run(fanoutCtx, query, embedding, filters, e.cfg.MethodTopK)
		}()
	}

	byMethod := make(map[model.Method]model.MethodResult, len(e.searchers))
collect:
	for range e.searchers {
		select {
		case res := <-ch:
			byMethod[res.Method] = res
		case <-fanoutCtx.Done():
			break collect
		}
	}

	results := make([]model.MethodResult, 0, len(byMethod))
	for _, m := range model.AllMethods {
		if res, ok := byMethod[m]; ok {
			results = append(results, res)
		}
	}
	return results
}

// rerank fetches candidate texts and calls the cross-encoder. A text fetch
// failure degrades to the fused ordering.
func (e *Engine) rerank(ctx context.Context, query string, fused []model.FusedCandidate, blend float64) *RerankOutcome {
	ids := make([]string, len(fused))
	for i, c := range fused {
		ids[i] = c.ChunkID
	}
	chunks, err := e.store.GetChunks(ctx, ids)
	if err != nil {
		slog.Warn("candidate text fetch failed, skipping rerank", "error", err)
		out := make([]model.RerankedCandidate, len(fused))
		for i, c := range fused {
			out[i] = model.RerankedCandidate{FusedCandidate: c, FinalScore: c.Score}
		}
		return &RerankOutcome{Candidates: out, Err: err.Error()}
	}

	docs := make([]string, len(fused))
	for i, c := range fused {
		if chunk, ok := chunks[c.ChunkID]; ok {
			docs[i] = chunk.Text
		}
	}
	return e.reranker.Rerank(ctx, query, fused, docs, blend)
}

// degradedResponse delivers the best fused-so-far candidates without rerank
// or expansion. Chunk text is fetched best-effort under a short grace period
// detached from the expired request context.
func (e *Engine) degradedResponse(ctx context.Context, fused []model.FusedCandidate, limit int, methodsUsed []string) *model.RetrieveResponse {
	if len(fused) > limit {
		fused = fused[:limit]
	}

	graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 200*time.Millisecond)
	defer cancel()

	ids := make([]string, len(fused))
	for i, c := range fused {
		ids[i] = c.ChunkID
	}
	chunks, err := e.store.GetChunks(graceCtx, ids)
	if err != nil {
		slog.Warn("degraded chunk fetch failed", "error", err)
		chunks = nil
	}

	results := make([]model.ExpandedResult, 0, len(fused))
	for _, c := range fused {
		res := model.ExpandedResult{
			Candidate: model.RerankedCandidate{FusedCandidate: c, FinalScore: c.Score},
		}
		if chunk, ok := chunks[c.ChunkID]; ok {
			res.Chunk = *chunk
			res.Context = chunk.Text
		}
		results = append(results, res)
	}

	return &model.RetrieveResponse{
		Results:     results,
		Degraded:    true,
		MethodsUsed: methodsUsed,
		CacheTier:   model.CacheTierNone,
	}
}

// debugInfo attaches pipeline internals when the caller asked for them.
func (e *Engine) debugInfo(req *model.RetrieveRequest, resp *model.RetrieveResponse, class string, weights *model.FusionWeights, results []model.MethodResult, fusedCount int, outcome *RerankOutcome) {
	if !req.Debug {
		return
	}
	info := &model.DebugInfo{
		MethodCandidates: map[string]int{},
		FusedCandidates:  fusedCount,
		WeightsVersion:   weights.Version,
		QueryClass:       class,
	}
	for _, res := range results {
		if res.OK {
			info.MethodCandidates[string(res.Method)] = len(res.Hits)
		}
	}
	if outcome != nil {
		info.RerankerUsed = outcome.Used
		info.RerankerError = outcome.Err
	}
	for i, r := range resp.Results {
		if i == 5 {
			break
		}
		info.TopScores = append(info.TopScores, r.Candidate.FinalScore)
	}
	resp.Debug = info
}
