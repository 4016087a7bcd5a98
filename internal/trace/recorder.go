package trace

import (
	"context"
	"encoding/json"
	"fmt"

	"k8s.io/utils/clock"

	"github.com/fanoutlab/fanoutlab/internal/errors"
	"github.com/fanoutlab/fanoutlab/internal/steps"
	"github.com/fanoutlab/fanoutlab/internal/storage"
)

// Recorder writes step records for publishers and workers.
type Recorder struct {
	store storage.ObjectStorage
	clock clock.PassiveClock
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store storage.ObjectStorage, clk clock.PassiveClock) *Recorder {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Recorder{store: store, clock: clk}
}

// Record writes traces/<cid>/<name>.json. A "t" field in epoch milliseconds
// is added when the body carries neither "t" nor "timestamp".
func (r *Recorder) Record(ctx context.Context, correlationID, name string, body map[string]any) error {
	if !steps.ValidCorrelationID(correlationID) {
		return errors.NewValidationError(fmt.Sprintf("invalid correlation id %q", correlationID))
	}

	doc := make(map[string]any, len(body)+1)
	for k, v := range body {
		doc[k] = v
	}
	_, hasT := doc["t"]
	_, hasTimestamp := doc["timestamp"]
	if !hasT && !hasTimestamp {
		doc["t"] = r.clock.Now().UnixMilli()
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return errors.NewInternalError("failed to encode step "+name, err)
	}
	if err := r.store.Put(ctx, steps.Key(correlationID, name), data, storage.ContentTypeJSON); err != nil {
		return errors.NewTransient(errors.ErrCategoryStorage, "failed to write step "+name, err)
	}
	return nil
}

// RecordPublished writes the 00-published step wrapping message.
func (r *Recorder) RecordPublished(ctx context.Context, correlationID string, message any) error {
	return r.Record(ctx, correlationID, steps.NamePublished, map[string]any{"message": message})
}

// RecordRoutes writes the 01-routes step.
func (r *Recorder) RecordRoutes(ctx context.Context, correlationID string, routes RouteDecision) error {
	return r.Record(ctx, correlationID, steps.NameRoutes, map[string]any{
		"fulfillment": routes.Fulfillment,
		"analytics":   routes.Analytics,
		"shipping":    routes.Shipping,
	})
}
