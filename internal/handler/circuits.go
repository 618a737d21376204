package handler

import (
	"net/http"

	"github.com/jayusctrojan/Empire-sub001/internal/breaker"
	"github.com/jayusctrojan/Empire-sub001/internal/cache"
)

// CircuitsHandler handles GET /v1/circuits: a snapshot of every backend's
// circuit state plus cache counters, for operators.
type CircuitsHandler struct {
	registry *breaker.Registry
	cache    *cache.SemanticCache
}

// NewCircuitsHandler creates a new CircuitsHandler. cache may be nil.
func NewCircuitsHandler(registry *breaker.Registry, sc *cache.SemanticCache) *CircuitsHandler {
	return &CircuitsHandler{registry: registry, cache: sc}
}

type circuitsResponse struct {
	Circuits []breaker.Snapshot `json:"circuits"`
	Cache    *cache.Stats       `json:"cache,omitempty"`
}

// Handle returns the current circuit and cache state.
func (h *CircuitsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	resp := circuitsResponse{
		Circuits: h.registry.Snapshots(),
	}
	if h.cache != nil {
		stats := h.cache.Stats()
		resp.Cache = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}
