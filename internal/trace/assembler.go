// Package trace assembles step records into ordered traces, derives their
// summary flags and projects them onto a human-readable timeline.
package trace

import (
	"context"
	"encoding/json"
	"log"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/fanoutlab/fanoutlab/internal/errors"
	"github.com/fanoutlab/fanoutlab/internal/observability"
	"github.com/fanoutlab/fanoutlab/internal/steps"
)

// DefaultFetchConcurrency bounds parallel step fetches per trace.
const DefaultFetchConcurrency = 8

// StepRecord is one fetched step of a trace.
type StepRecord struct {
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
	Step steps.Step      `json:"-"`
}

// FileName returns the short file name of the step, e.g. 00-published.json.
func (r StepRecord) FileName() string {
	return steps.BaseName(r.Key)
}

// Trace is an assembled trace.
type Trace struct {
	ID      string       `json:"id"`
	Steps   []StepRecord `json:"steps"`
	Summary Summary      `json:"summary"`
}

// Assembler reads step records for correlation ids. It holds no state
// across calls beyond its collaborators.
type Assembler struct {
	store       StepStore
	ids         CorrelationSource
	stats       *observability.StepStats
	concurrency int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithConcurrency sets the maximum number of parallel step fetches.
func WithConcurrency(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithStats records read, unknown and dropped steps.
func WithStats(stats *observability.StepStats) Option {
	return func(a *Assembler) { a.stats = stats }
}

// WithCorrelationSource sets where Summaries gets its known ids from.
func WithCorrelationSource(src CorrelationSource) Option {
	return func(a *Assembler) { a.ids = src }
}

// NewAssembler creates an assembler over the given step store.
// If the store also implements CorrelationSource it is used for Summaries
// unless WithCorrelationSource overrides it.
func NewAssembler(store StepStore, opts ...Option) *Assembler {
	a := &Assembler{
		store:       store,
		concurrency: DefaultFetchConcurrency,
	}
	if src, ok := store.(CorrelationSource); ok {
		a.ids = src
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ListSteps returns the readable steps of a correlation id in lexical key order.
// It fails with NotFound when the namespace has no keys or cannot be listed.
// Steps that fail to fetch or parse are dropped individually.
func (a *Assembler) ListSteps(ctx context.Context, correlationID string) ([]StepRecord, error) {
	if !steps.ValidCorrelationID(correlationID) {
		return nil, errors.NewNotFound(errors.ErrCategoryTrace, "trace not found: "+correlationID)
	}

	keys, err := a.store.ListStepKeys(ctx, correlationID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("trace: list %s failed: %v", correlationID, err)
		return nil, errors.Wrap(errors.ErrCategoryTrace, errors.CodeNotFound, "trace not found: "+correlationID, err)
	}
	keys = dedupeKeys(keys)
	if len(keys) == 0 {
		return nil, errors.NewNotFound(errors.ErrCategoryTrace, "trace not found: "+correlationID)
	}

	fetched := make([]*StepRecord, len(keys))
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			step := steps.Classify(key)
			data, err := a.store.GetStepPayload(ctx, key)
			if err != nil {
				log.Printf("trace: dropping %s: %v", key, err)
				a.stats.RecordDropped(step.Name, "fetch")
				return nil
			}
			if !json.Valid(data) {
				log.Printf("trace: dropping %s: malformed JSON", key)
				a.stats.RecordDropped(step.Name, "malformed")
				return nil
			}
			if step.Known() {
				a.stats.RecordSeen(step.Name)
			} else {
				a.stats.RecordUnknown(step.Name)
			}
			fetched[i] = &StepRecord{Key: key, Data: json.RawMessage(data), Step: step}
			return nil
		})
	}
	_ = g.Wait() // per-item failures are absorbed above

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := make([]StepRecord, 0, len(fetched))
	for _, r := range fetched {
		if r != nil {
			records = append(records, *r)
		}
	}
	return records, nil
}

// GetTrace returns the ordered steps and summary of a correlation id.
// Fails with NotFound if no step could be read.
func (a *Assembler) GetTrace(ctx context.Context, correlationID string) (*Trace, error) {
	records, err := a.ListSteps(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.NewNotFound(errors.ErrCategoryTrace, "trace has no readable steps: "+correlationID)
	}
	return &Trace{
		ID:      correlationID,
		Steps:   records,
		Summary: Summarize(correlationID, records),
	}, nil
}

// GetPublishedPayload returns the message field of the published step,
// or the whole step body when it carries no message.
func (a *Assembler) GetPublishedPayload(ctx context.Context, correlationID string) (json.RawMessage, error) {
	if !steps.ValidCorrelationID(correlationID) {
		return nil, errors.NewNotFound(errors.ErrCategoryTrace, "published step not found: "+correlationID)
	}

	data, err := a.store.GetStepPayload(ctx, steps.Key(correlationID, steps.NamePublished))
	if errors.IsNotFound(err) {
		// Older writers stored the step without an extension.
		data, err = a.store.GetStepPayload(ctx, steps.CorrelationPrefix(correlationID)+steps.NamePublished)
	}
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewNotFound(errors.ErrCategoryTrace, "published step not found: "+correlationID)
		}
		return nil, errors.Wrap(errors.ErrCategoryTrace, errors.CodeNotFound, "published step unavailable: "+correlationID, err)
	}

	return extractMessage(data)
}

// ResolvePublishedPayload is GetPublishedPayload with every failure mapped to nil.
func (a *Assembler) ResolvePublishedPayload(ctx context.Context, correlationID string) json.RawMessage {
	payload, err := a.GetPublishedPayload(ctx, correlationID)
	if err != nil {
		log.Printf("trace: no published payload for %s: %v", correlationID, err)
		return nil
	}
	return payload
}

// Summaries returns the summary of each known correlation id, in source order.
// Ids whose keys cannot be listed are skipped. limit <= 0 means no limit.
func (a *Assembler) Summaries(ctx context.Context, limit int) ([]Summary, error) {
	if a.ids == nil {
		return []Summary{}, nil
	}
	ids, err := a.ids.ListCorrelationIDs(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		keys, err := a.store.ListStepKeys(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("trace: skipping summary for %s: %v", id, err)
			continue
		}
		if len(keys) == 0 {
			continue
		}
		out = append(out, SummarizeNames(id, keys))
	}
	return out, nil
}

func extractMessage(data []byte) (json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		if json.Valid(data) {
			return json.RawMessage(data), nil
		}
		return nil, errors.NewMalformed(errors.ErrCategoryTrace, "published step is not valid JSON", err)
	}
	if msg, ok := envelope["message"]; ok && string(msg) != "null" {
		return msg, nil
	}
	return json.RawMessage(data), nil
}

// dedupeKeys sorts keys lexically and keeps one key per step name.
// A key with the .json extension wins over a bare one.
func dedupeKeys(keys []string) []string {
	byName := make(map[string]string, len(keys))
	for _, k := range keys {
		name := steps.TrimExt(steps.BaseName(k))
		if prev, ok := byName[name]; ok && len(prev) > len(k) {
			continue
		}
		byName[name] = k
	}
	out := make([]string, 0, len(byName))
	for _, k := range byName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
