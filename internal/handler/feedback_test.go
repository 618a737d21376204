package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jayusctrojan/Empire-sub001/internal/model"
	"github.com/jayusctrojan/Empire-sub001/internal/service"
)

func postFeedback(t *testing.T, h *FeedbackHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/feedback", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.Handle(w, req)
	return w
}

func TestFeedbackHandlerAccepts(t *testing.T) {
	store := service.NewParamStore(paramConfig())
	proc, err := service.NewFeedbackProcessor(store, 2)
	if err != nil {
		t.Fatalf("NewFeedbackProcessor: %v", err)
	}
	defer proc.Close()
	h := NewFeedbackHandler(proc)

	w := postFeedback(t, h, `{"query_class":"short_factual","chunk_id":"c1","methods":["dense"],"positive":true}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var ack feedbackAck
	if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack.Accepted || ack.EventID == "" {
		t.Errorf("ack = %+v, want accepted with generated event id", ack)
	}

	// The update lands asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for store.Snapshot(service.ClassShortFactual).Version == 1 {
		if time.Now().After(deadline) {
			t.Fatal("feedback never applied")
		}
		time.Sleep(time.Millisecond)
	}
	snap := store.Snapshot(service.ClassShortFactual)
	if snap.Weight(model.MethodDense) <= 1.2 {
		t.Errorf("dense weight = %v, want increased above seed", snap.Weight(model.MethodDense))
	}
}

func TestFeedbackHandlerValidates(t *testing.T) {
	store := service.NewParamStore(paramConfig())
	proc, err := service.NewFeedbackProcessor(store, 2)
	if err != nil {
		t.Fatalf("NewFeedbackProcessor: %v", err)
	}
	defer proc.Close()
	h := NewFeedbackHandler(proc)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing class", `{"methods":["dense"],"positive":true}`},
		{"missing methods", `{"query_class":"short_factual","positive":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postFeedback(t, h, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}
