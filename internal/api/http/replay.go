package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fanoutlab/fanoutlab/internal/errors"
	"github.com/fanoutlab/fanoutlab/internal/playback"
	"github.com/fanoutlab/fanoutlab/internal/replay"
)

// ReplayRequest is the body of POST /replay/snapshots and POST /replay/sessions.
// Exactly one payload source is used: Payload, then Token, then CorrelationID,
// then a generated default.
type ReplayRequest struct {
	Payload       json.RawMessage `json:"payload,omitempty"`
	Token         string          `json:"token,omitempty"`
	CorrelationID string          `json:"cid,omitempty"`
	Policy        replay.Policy   `json:"policy"`
}

// SnapshotsResponse is the body of /replay/snapshots.
type SnapshotsResponse struct {
	Payload   json.RawMessage   `json:"payload"`
	Policy    replay.Policy     `json:"policy"`
	Snapshots []replay.Snapshot `json:"snapshots"`
}

// Snapshots handles GET and POST /replay/snapshots. GET reads cid, payload
// (a share token) and the policy from query parameters.
func (h *Handler) Snapshots(w http.ResponseWriter, r *http.Request) {
	req, err := h.replayRequest(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	payload, err := h.resolvePayload(r, req)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	policy := req.Policy.Normalize()
	writeJSON(w, http.StatusOK, SnapshotsResponse{
		Payload:   payload,
		Policy:    policy,
		Snapshots: h.deps.Engine.BuildSnapshots(payload, policy),
	})
}

// EncodePayload handles POST /replay/payload, turning a JSON body into a
// share token.
func (h *Handler) EncodePayload(w http.ResponseWriter, r *http.Request) {
	var payload json.RawMessage
	if err := decodeBody(r, &payload); err != nil {
		writeAPIError(w, r, err)
		return
	}
	if len(payload) == 0 {
		writeAPIError(w, r, errors.NewValidationError("payload is required"))
		return
	}
	token, err := replay.EncodePayload(payload)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) replayRequest(r *http.Request) (ReplayRequest, error) {
	var req ReplayRequest
	if r.Method == http.MethodPost {
		if err := decodeBody(r, &req); err != nil {
			return req, err
		}
		return req, nil
	}

	q := r.URL.Query()
	req.Token = q.Get("payload")
	req.CorrelationID = q.Get("cid")
	req.Policy.ForcedFailureTarget = q.Get("forced")
	req.Policy.Seed = q.Get("seed")
	if v := q.Get("random"); v != "" {
		req.Policy.RandomFailureEnabled, _ = strconv.ParseBool(v)
	}
	if v := q.Get("rate"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, errors.NewValidationError("rate must be a number")
		}
		req.Policy.RandomFailureRate = rate
	}
	if v := q.Get("dlq"); v != "" {
		req.Policy.RouteRandomFailuresToDLQ, _ = strconv.ParseBool(v)
	}
	return req, nil
}

func (h *Handler) resolvePayload(r *http.Request, req ReplayRequest) (json.RawMessage, error) {
	switch {
	case len(req.Payload) > 0 && string(req.Payload) != "null":
		if !json.Valid(req.Payload) {
			return nil, errors.NewMalformed(errors.ErrCategoryReplay, "payload is not valid JSON", nil)
		}
		return req.Payload, nil
	case req.Token != "":
		return replay.DecodePayload(req.Token)
	case req.CorrelationID != "" && h.deps.Traces != nil:
		return h.deps.Traces.ResolvePublishedPayload(r.Context(), req.CorrelationID), nil
	}
	return replay.DefaultPayload(time.Now()), nil
}

// SessionResponse describes a playback session.
type SessionResponse struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	State     playback.State `json:"state"`
}

func sessionResponse(s *playback.Session) SessionResponse {
	return SessionResponse{ID: s.ID, CreatedAt: s.CreatedAt, State: s.Controller.Current()}
}

// CreateSession handles POST /replay/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sessions == nil {
		unavailable(w, r, "replay sessions")
		return
	}
	req, err := h.replayRequest(r)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	payload, err := h.resolvePayload(r, req)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	s := h.deps.Sessions.Create(payload, req.Policy.Normalize())
	writeJSON(w, http.StatusCreated, sessionResponse(s))
}

// session resolves {id}, writing the error response when it fails.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*playback.Session, bool) {
	if h.deps.Sessions == nil {
		unavailable(w, r, "replay sessions")
		return nil, false
	}
	s, err := h.deps.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, r, err)
		return nil, false
	}
	return s, true
}

// GetSession handles GET /replay/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		writeJSON(w, http.StatusOK, sessionResponse(s))
	}
}

// DeleteSession handles DELETE /replay/sessions/{id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sessions == nil {
		unavailable(w, r, "replay sessions")
		return
	}
	if err := h.deps.Sessions.Delete(chi.URLParam(r, "id")); err != nil {
		writeAPIError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SessionForward handles POST /replay/sessions/{id}/forward.
func (h *Handler) SessionForward(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		moved := s.Controller.StepForward()
		writeJSON(w, http.StatusOK, map[string]any{"moved": moved, "state": s.Controller.Current()})
	}
}

// SessionBackward handles POST /replay/sessions/{id}/backward.
func (h *Handler) SessionBackward(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		moved := s.Controller.StepBackward()
		writeJSON(w, http.StatusOK, map[string]any{"moved": moved, "state": s.Controller.Current()})
	}
}

// SessionReset handles POST /replay/sessions/{id}/reset {"keepPayload": bool}.
func (h *Handler) SessionReset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		KeepPayload bool `json:"keepPayload"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeAPIError(w, r, err)
		return
	}
	s.Controller.Reset(req.KeepPayload)
	writeJSON(w, http.StatusOK, sessionResponse(s))
}

// SessionAutoPlay handles POST /replay/sessions/{id}/autoplay
// {"enabled": bool, "intervalMs": n}.
func (h *Handler) SessionAutoPlay(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Enabled    bool  `json:"enabled"`
		IntervalMs int64 `json:"intervalMs"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeAPIError(w, r, err)
		return
	}
	started := s.Controller.SetAutoPlay(req.Enabled, h.autoPlayInterval(req.IntervalMs))
	writeJSON(w, http.StatusOK, map[string]any{"playing": started, "state": s.Controller.Current()})
}

// SessionRebuild handles POST /replay/sessions/{id}/rebuild.
func (h *Handler) SessionRebuild(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req ReplayRequest
	if err := decodeBody(r, &req); err != nil {
		writeAPIError(w, r, err)
		return
	}
	payload := s.Controller.Current().Payload
	if len(req.Payload) > 0 || req.Token != "" || req.CorrelationID != "" {
		p, err := h.resolvePayload(r, req)
		if err != nil {
			writeAPIError(w, r, err)
			return
		}
		payload = p
	}
	s.Controller.Rebuild(payload, req.Policy.Normalize())
	writeJSON(w, http.StatusOK, sessionResponse(s))
}

// SessionDiagram handles GET /replay/sessions/{id}/diagram, returning the
// current snapshot as a Mermaid flowchart.
func (h *Handler) SessionDiagram(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(replay.RenderMermaid(s.Controller.Current().Snapshot)))
}

func (h *Handler) autoPlayInterval(ms int64) time.Duration {
	d := time.Duration(ms) * time.Millisecond
	if d <= 0 {
		d = h.deps.AutoPlayInterval
	}
	if d < h.deps.MinAutoPlayInterval {
		d = h.deps.MinAutoPlayInterval
	}
	return playback.ClampInterval(d)
}
