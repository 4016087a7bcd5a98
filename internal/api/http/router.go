package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fanoutlab/fanoutlab/internal/broker"
	"github.com/fanoutlab/fanoutlab/internal/domain"
	"github.com/fanoutlab/fanoutlab/internal/observability"
	"github.com/fanoutlab/fanoutlab/internal/playback"
	"github.com/fanoutlab/fanoutlab/internal/replay"
	"github.com/fanoutlab/fanoutlab/internal/storage"
	"github.com/fanoutlab/fanoutlab/internal/trace"
)

// Deps are the services behind the API. Shop and Sessions may be nil, in
// which case their routes answer 503.
type Deps struct {
	Traces   *trace.Assembler
	Broker   *broker.Broker
	Store    storage.ObjectStorage
	Shop     *domain.Service
	Sessions *playback.Registry
	Engine   *replay.Engine
	Stats    *observability.StepStats

	// AutoPlayInterval is used when an auto-play request names no interval;
	// shorter requested intervals are raised to MinAutoPlayInterval.
	AutoPlayInterval    time.Duration
	MinAutoPlayInterval time.Duration

	// Middleware is prepended to the default chain, e.g. shutdown tracking.
	Middleware []func(http.Handler) http.Handler
}

// Handler serves the dashboard API.
type Handler struct {
	deps Deps
}

// NewHandler creates the API handler.
func NewHandler(deps Deps) *Handler {
	if deps.Engine == nil {
		deps.Engine = replay.NewEngine()
	}
	return &Handler{deps: deps}
}

// NewRouter builds the chi router for deps.
func NewRouter(deps Deps) http.Handler {
	h := NewHandler(deps)

	r := chi.NewRouter()
	for _, mw := range deps.Middleware {
		r.Use(mw)
	}
	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(CORSMiddleware)

	r.Get("/health", h.Health)
	r.Get("/overview", h.Overview)
	r.Get("/stats/steps", h.StepStats)

	r.Get("/queues", h.Queues)
	r.Get("/dlq/{name}/peek", h.PeekDLQ)
	r.Post("/dlq/{dlq}/retry", h.RetryDLQ)
	r.Delete("/dlq/{name}/purge", h.PurgeDLQ)
	r.Post("/throttle/burst", h.Burst)

	r.Get("/files", h.Files)
	r.Get("/file", h.File)

	r.Get("/traces", h.Traces)
	r.Route("/trace/{id}", func(r chi.Router) {
		r.Get("/", h.Trace)
		r.Get("/published", h.Published)
		r.Get("/timeline", h.Timeline)
	})

	r.Post("/seed/fanout-trace", h.SeedFanoutTrace)
	r.Post("/seed/custom", h.SeedCustom)

	r.Route("/domain", func(r chi.Router) {
		r.Get("/inventory", h.Inventory)
		r.Post("/inventory/seed", h.SeedInventory)
		r.Get("/metrics", h.Metrics)
		r.Get("/replenishments", h.Replenishments)
		r.Post("/replenishments/create", h.CreateReplenishment)
		r.Post("/order", h.PlaceOrder)
	})

	r.Route("/replay", func(r chi.Router) {
		r.Get("/snapshots", h.Snapshots)
		r.Post("/snapshots", h.Snapshots)
		r.Post("/payload", h.EncodePayload)
		r.Post("/sessions", h.CreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DeleteSession)
			r.Post("/forward", h.SessionForward)
			r.Post("/backward", h.SessionBackward)
			r.Post("/reset", h.SessionReset)
			r.Post("/autoplay", h.SessionAutoPlay)
			r.Post("/rebuild", h.SessionRebuild)
			r.Get("/diagram", h.SessionDiagram)
		})
	})

	return r
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// StepStats handles GET /stats/steps?top=N.
func (h *Handler) StepStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Stats == nil {
		unavailable(w, r, "step stats")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Stats.Snapshot(intParam(r, "top", 10)))
}

func unavailable(w http.ResponseWriter, r *http.Request, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" is not configured", "", GetRequestID(r.Context()))
}
