package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jayusctrojan/Empire-sub001/internal/breaker"
)

func TestCircuitsHandlerSnapshot(t *testing.T) {
	registry := breaker.NewRegistry(breaker.Config{FailureThreshold: 2})
	registry.Get("sparse")
	dense := registry.Get("dense")

	fail := func(context.Context) error { return errors.New("down") }
	dense.Do(context.Background(), fail)
	dense.Do(context.Background(), fail)

	h := NewCircuitsHandler(registry, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/circuits", nil)
	w := httptest.NewRecorder()
	h.Handle(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp circuitsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Circuits) != 2 {
		t.Fatalf("circuits = %d, want 2", len(resp.Circuits))
	}
	// Sorted by backend name: dense first.
	if resp.Circuits[0].Backend != "dense" || resp.Circuits[0].State != "OPEN" {
		t.Errorf("dense snapshot = %+v, want OPEN", resp.Circuits[0])
	}
	if resp.Circuits[1].Backend != "sparse" || resp.Circuits[1].State != "CLOSED" {
		t.Errorf("sparse snapshot = %+v, want CLOSED", resp.Circuits[1])
	}
	if resp.Cache != nil {
		t.Error("cache stats present without a cache")
	}
}
