package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fanoutlab/fanoutlab/internal/broker"
	"github.com/fanoutlab/fanoutlab/internal/errors"
)

// Queues handles GET /queues.
func (h *Handler) Queues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.queueStats())
}

func (h *Handler) queueStats() []broker.QueueStats {
	names := broker.MonitoredQueues()
	out := make([]broker.QueueStats, 0, len(names))
	for _, n := range names {
		out = append(out, h.deps.Broker.Stats(n))
	}
	return out
}

// PeekedMessage is one entry of GET /dlq/{name}/peek.
type PeekedMessage struct {
	ID         string            `json:"id"`
	Receipt    string            `json:"receipt"`
	Body       json.RawMessage   `json:"body"`
	Attributes map[string]string `json:"attributes"`
}

// PeekDLQ handles GET /dlq/{name}/peek?max=10.
func (h *Handler) PeekDLQ(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.deps.Broker.Peek(r.Context(), chi.URLParam(r, "name"), intParam(r, "max", broker.MaxReceiveBatch))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	out := make([]PeekedMessage, 0, len(msgs))
	for _, m := range msgs {
		attrs := m.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		out = append(out, PeekedMessage{ID: m.ID, Receipt: m.ReceiptHandle, Body: m.JSONBody(), Attributes: attrs})
	}
	writeJSON(w, http.StatusOK, out)
}

// RetryRequest is the body of POST /dlq/{dlq}/retry. Body may be any JSON
// value; strings are sent verbatim.
type RetryRequest struct {
	Source  string          `json:"source"`
	Receipt string          `json:"receipt"`
	Body    json.RawMessage `json:"body"`
}

// RetryDLQ handles POST /dlq/{dlq}/retry.
func (h *Handler) RetryDLQ(w http.ResponseWriter, r *http.Request) {
	var req RetryRequest
	if err := decodeBody(r, &req); err != nil {
		writeAPIError(w, r, err)
		return
	}
	if req.Source == "" || req.Receipt == "" || len(req.Body) == 0 || string(req.Body) == "null" {
		writeAPIError(w, r, errors.NewValidationError("Missing source/receipt/body"))
		return
	}

	body := []byte(req.Body)
	var s string
	if err := json.Unmarshal(req.Body, &s); err == nil {
		body = []byte(s)
	}
	if err := h.deps.Broker.Retry(r.Context(), chi.URLParam(r, "dlq"), req.Source, req.Receipt, body); err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// PurgeDLQ handles DELETE /dlq/{name}/purge.
func (h *Handler) PurgeDLQ(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.Broker.Purge(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "purged": n})
}

// Burst handles POST /throttle/burst {"count": n}.
func (h *Handler) Burst(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeAPIError(w, r, err)
		return
	}
	sent, err := h.deps.Broker.Burst(r.Context(), broker.QueueThrottle, req.Count)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sent": sent})
}
