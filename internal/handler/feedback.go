package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/jayusctrojan/Empire-sub001/internal/model"
	"github.com/jayusctrojan/Empire-sub001/internal/service"
)

// FeedbackHandler handles POST /v1/feedback requests. Signals are queued to
// the adaptive parameter store and acknowledged immediately.
type FeedbackHandler struct {
	processor *service.FeedbackProcessor
}

// NewFeedbackHandler creates a new FeedbackHandler.
func NewFeedbackHandler(processor *service.FeedbackProcessor) *FeedbackHandler {
	return &FeedbackHandler{processor: processor}
}

type feedbackAck struct {
	EventID  string `json:"event_id"`
	Accepted bool   `json:"accepted"`
}

// Handle validates one feedback signal and queues it.
func (h *FeedbackHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var sig model.FeedbackSignal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}
	if sig.QueryClass == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "query_class is required")
		return
	}
	if len(sig.Methods) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "methods is required")
		return
	}
	if sig.EventID == "" {
		sig.EventID = uuid.NewString()
	}

	h.processor.Submit(sig)

	writeJSON(w, http.StatusAccepted, feedbackAck{EventID: sig.EventID, Accepted: true})
}
