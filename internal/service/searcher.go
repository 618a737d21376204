// Package service implements the retrieval pipeline: method searchers,
// rank fusion, reranking, context expansion, adaptive parameters, and the
// query coordinator that composes them.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jayusctrojan/Empire-sub001/internal/breaker"
	"github.com/jayusctrojan/Empire-sub001/internal/model"
)

// Searcher is the single contract all four retrieval strategies implement.
// Implementations return their hits ranked best-first (rank 1 = best) and
// must return an empty slice, not an error, when nothing matches.
type Searcher interface {
	Method() model.Method
	Search(ctx context.Context, query string, embedding []float32, filters model.SearchFilters, limit int) ([]model.MethodHit, error)
}

// Guarded binds a Searcher to its own circuit breaker and per-method timeout.
// A failed, timed-out, or short-circuited search yields MethodResult{OK:false}
// so fusion can proceed with the surviving methods.
type Guarded struct {
	searcher Searcher
	breaker  *breaker.Breaker
	timeout  time.Duration
}

// NewGuarded wraps a searcher with failure isolation.
func NewGuarded(s Searcher, b *breaker.Breaker, timeout time.Duration) *Guarded {
	return &Guarded{searcher: s, breaker: b, timeout: timeout}
}

// Method returns the wrapped searcher's method tag.
func (g *Guarded) Method() model.Method {
	return g.searcher.Method()
}

// Run executes one guarded search. It never returns an error: failures are
// folded into the MethodResult so the coordinator treats them as "this
// method contributed nothing".
func (g *Guarded) Run(ctx context.Context, query string, embedding []float32, filters model.SearchFilters, limit int) model.MethodResult {
	start := time.Now()

	var hits []model.MethodHit
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		var searchErr error
		hits, searchErr = g.searcher.Search(callCtx, query, embedding, filters, limit)
		return searchErr
	})

	result := model.MethodResult{
		Method:  g.searcher.Method(),
		Latency: time.Since(start),
	}
	if err != nil {
		result.Err = err.Error()
		if !errors.Is(err, model.ErrCircuitOpen) {
			slog.Warn("method search failed",
				"method", string(result.Method),
				"latency_ms", result.Latency.Milliseconds(),
				"error", err,
			)
		}
		return result
	}

	result.OK = true
	result.Hits = hits
	return result
}

// filterClauses appends WHERE conditions for the shared chunk filters.
// Conditions reference the chunks table alias "c"; placeholders continue
// from len(args).
func filterClauses(filters model.SearchFilters, args *[]any) string {
	clause := ""
	if len(filters.DocIDs) > 0 {
		*args = append(*args, filters.DocIDs)
		clause += fmt.Sprintf(" AND c.doc_id = ANY($%d)", len(*args))
	}
	if len(filters.SectionIDs) > 0 {
		*args = append(*args, filters.SectionIDs)
		clause += fmt.Sprintf(" AND c.section_id = ANY($%d)", len(*args))
	}
	if filters.MinQuality > 0 {
		*args = append(*args, filters.MinQuality)
		clause += fmt.Sprintf(" AND c.quality >= $%d", len(*args))
	}
	return clause
}
