package http

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
)

// overviewTraceLimit bounds the traces listed on the overview.
const overviewTraceLimit = 20

// sectionError replaces a section that failed to load.
type sectionError struct {
	Error string `json:"error"`
}

// Overview handles GET /overview. Each section loads independently and a
// failing section is reported inline instead of failing the response.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	var (
		mu  sync.Mutex
		out = map[string]any{"queues": h.queueStats()}
	)
	set := func(name string, v any, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			out[name] = sectionError{Error: err.Error()}
			return
		}
		out[name] = v
	}

	g, ctx := errgroup.WithContext(r.Context())
	load := func(name string, fn func(context.Context) (any, error)) {
		g.Go(func() error {
			v, err := fn(ctx)
			set(name, v, err)
			return nil
		})
	}

	if h.deps.Traces != nil {
		load("traces", func(ctx context.Context) (any, error) {
			return h.deps.Traces.Summaries(ctx, overviewTraceLimit)
		})
	}
	if shop := h.deps.Shop; shop != nil {
		load("inventory", func(ctx context.Context) (any, error) { return shop.Inventory(ctx) })
		load("metrics", func(ctx context.Context) (any, error) { return shop.Metrics(ctx) })
		load("replenishments", func(ctx context.Context) (any, error) { return shop.Replenishments(ctx) })
	}
	g.Wait()

	writeJSON(w, http.StatusOK, out)
}
