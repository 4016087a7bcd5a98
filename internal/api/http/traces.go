package http

import (
	"bytes"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fanoutlab/fanoutlab/internal/errors"
	"github.com/fanoutlab/fanoutlab/internal/steps"
	"github.com/fanoutlab/fanoutlab/internal/storage"
	"github.com/fanoutlab/fanoutlab/internal/trace"
)

// Traces handles GET /traces?limit=N.
func (h *Handler) Traces(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.deps.Traces.Summaries(r.Context(), intParam(r, "limit", 0))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// Trace handles GET /trace/{id}. HTML is returned for ?format=html or an
// Accept header naming text/html.
func (h *Handler) Trace(w http.ResponseWriter, r *http.Request) {
	t, err := h.deps.Traces.GetTrace(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}

	if wantsHTML(r) {
		var buf bytes.Buffer
		if err := trace.RenderHTML(&buf, t); err != nil {
			writeAPIError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Published handles GET /trace/{id}/published.
func (h *Handler) Published(w http.ResponseWriter, r *http.Request) {
	payload, err := h.deps.Traces.GetPublishedPayload(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// TimelineResponse is the body of GET /trace/{id}/timeline.
type TimelineResponse struct {
	ID      string                `json:"id"`
	Entries []trace.TimelineEntry `json:"entries"`
}

// Timeline handles GET /trace/{id}/timeline.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.deps.Traces.GetTrace(r.Context(), id)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TimelineResponse{ID: id, Entries: trace.Project(t.Steps)})
}

func wantsHTML(r *http.Request) bool {
	return r.URL.Query().Get("format") == "html" || strings.Contains(r.Header.Get("Accept"), "text/html")
}

func intParam(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// maxListedFiles caps /files responses.
const maxListedFiles = 150

// Files handles GET /files?prefix=, returning the last keys in lexical order.
func (h *Handler) Files(w http.ResponseWriter, r *http.Request) {
	keys, err := h.deps.Store.ListObjects(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	if len(keys) > maxListedFiles {
		keys = keys[len(keys)-maxListedFiles:]
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, keys)
}

// File handles GET /file?key=, streaming the object with its content type.
func (h *Handler) File(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeAPIError(w, r, errors.NewValidationError("missing key"))
		return
	}
	obj, err := h.deps.Store.Get(r.Context(), key)
	if err != nil {
		writeAPIError(w, r, storageError(key, err))
		return
	}
	ct := obj.ContentType
	if ct == "" {
		ct = "application/octet-stream"
		if strings.HasPrefix(key, steps.Prefix) {
			ct = "application/json"
		}
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	w.Write(obj.Data)
}

// storageError maps a storage sentinel to a categorized error.
func storageError(key string, err error) error {
	switch {
	case stderrors.Is(err, storage.ErrObjectNotFound):
		return errors.NewNotFound(errors.ErrCategoryStorage, "object not found: "+key)
	case stderrors.Is(err, storage.ErrInvalidKey):
		return errors.NewValidationError("invalid key: " + key)
	}
	return errors.NewTransient(errors.ErrCategoryStorage, "failed to read "+key, err)
}
