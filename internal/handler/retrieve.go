// Package handler implements HTTP handlers for the retrieval API.
package handler

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jayusctrojan/Empire-sub001/internal/model"
	"github.com/jayusctrojan/Empire-sub001/internal/service"
)

// RetrieveHandler handles POST /v1/retrieve requests.
type RetrieveHandler struct {
	engine *service.Engine
}

// NewRetrieveHandler creates a new RetrieveHandler.
func NewRetrieveHandler(engine *service.Engine) *RetrieveHandler {
	return &RetrieveHandler{engine: engine}
}

// Handle runs one query through the retrieval pipeline and emits the
// structured per-query log line.
func (h *RetrieveHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	totalStart := time.Now()

	requestID := chimw.GetReqID(ctx)

	var req model.RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "query is required")
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "limit must be non-negative")
		return
	}

	qlog := &model.QueryLog{
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		QueryHash: hashQuery(req.Query),
		Limit:     req.Limit,
	}

	resp, trace, err := h.engine.Retrieve(ctx, &req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal"
		if errors.Is(err, model.ErrAllMethodsFailed) {
			// Every backend failed: distinct from "nothing found".
			status = http.StatusServiceUnavailable
			code = "all_methods_failed"
		}
		slog.Error("retrieve failed", "error", err, "request_id", requestID)
		writeError(w, status, code, err.Error())
		h.emitQueryLog(qlog, trace, nil, status, totalStart)
		return
	}

	writeJSON(w, http.StatusOK, resp)
	h.emitQueryLog(qlog, trace, resp, http.StatusOK, totalStart)
}

// emitQueryLog writes the single structured log line per query.
func (h *RetrieveHandler) emitQueryLog(qlog *model.QueryLog, trace *service.Trace, resp *model.RetrieveResponse, httpStatus int, totalStart time.Time) {
	qlog.HTTPStatus = httpStatus
	qlog.LatencyMSTotal = time.Since(totalStart).Milliseconds()
	if trace != nil {
		qlog.QueryClass = trace.QueryClass
		qlog.FusedCandidates = trace.FusedCandidates
		qlog.RerankerUsed = trace.RerankerUsed
		qlog.LatencyMSFanout = trace.Fanout.Milliseconds()
		qlog.LatencyMSFusion = trace.Fusion.Milliseconds()
		qlog.LatencyMSRerank = trace.Rerank.Milliseconds()
		qlog.LatencyMSExpand = trace.Expand.Milliseconds()
	}
	if resp != nil {
		qlog.CacheTier = resp.CacheTier
		qlog.MethodsUsed = resp.MethodsUsed
		qlog.Degraded = resp.Degraded
		qlog.Results = len(resp.Results)
	}

	slog.Info("retrieve",
		"ts", qlog.Timestamp.Format(time.RFC3339),
		"request_id", qlog.RequestID,
		"query_hash", qlog.QueryHash,
		"query_class", qlog.QueryClass,
		"limit", qlog.Limit,
		"cache_tier", qlog.CacheTier,
		"methods_used", qlog.MethodsUsed,
		"fused_candidates", qlog.FusedCandidates,
		"reranker_used", qlog.RerankerUsed,
		"degraded", qlog.Degraded,
		"results", qlog.Results,
		"latency_ms_total", qlog.LatencyMSTotal,
		"latency_ms_fanout", qlog.LatencyMSFanout,
		"latency_ms_fusion", qlog.LatencyMSFusion,
		"latency_ms_rerank", qlog.LatencyMSRerank,
		"latency_ms_expand", qlog.LatencyMSExpand,
		"http_status", qlog.HTTPStatus,
	)
}

// hashQuery returns a stable hash so raw query text never enters the logs.
func hashQuery(query string) string {
	h := sha256.Sum256([]byte(query))
	return fmt.Sprintf("%x", h)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// writeError writes a standard error response.
func writeError(w http.ResponseWriter, status int, errCode, message string) {
	writeJSON(w, status, model.ErrorResponse{
		Error:   errCode,
		Message: message,
	})
}
