package trace

import (
	"context"
	stderrors "errors"
	"sort"

	"github.com/fanoutlab/fanoutlab/internal/errors"
	"github.com/fanoutlab/fanoutlab/internal/steps"
	"github.com/fanoutlab/fanoutlab/internal/storage"
)

// StepStore is the read side of the step record store.
type StepStore interface {
	// ListStepKeys returns every step key under the correlation id's namespace.
	ListStepKeys(ctx context.Context, correlationID string) ([]string, error)

	// GetStepPayload returns the raw body of one step key.
	// Fails with a NotFound error if the key does not exist.
	GetStepPayload(ctx context.Context, key string) ([]byte, error)
}

// CorrelationSource enumerates known correlation ids.
type CorrelationSource interface {
	ListCorrelationIDs(ctx context.Context) ([]string, error)
}

// ObjectStepStore implements StepStore and CorrelationSource over object storage.
type ObjectStepStore struct {
	store storage.ObjectStorage
}

// NewObjectStepStore creates a step store backed by the given object storage.
func NewObjectStepStore(store storage.ObjectStorage) *ObjectStepStore {
	return &ObjectStepStore{store: store}
}

// ListStepKeys lists direct children of traces/<cid>/.
func (s *ObjectStepStore) ListStepKeys(ctx context.Context, correlationID string) ([]string, error) {
	keys, err := s.store.ListObjects(ctx, steps.CorrelationPrefix(correlationID))
	if err != nil {
		return nil, errors.NewTransient(errors.ErrCategoryStorage, "failed to list step keys", err)
	}

	out := keys[:0:0]
	for _, k := range keys {
		if cid, _, ok := steps.SplitKey(k); ok && cid == correlationID {
			out = append(out, k)
		}
	}
	return out, nil
}

// GetStepPayload fetches one step body.
func (s *ObjectStepStore) GetStepPayload(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.store.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, storage.ErrObjectNotFound) {
			return nil, errors.NewNotFound(errors.ErrCategoryStorage, "step not found: "+key)
		}
		return nil, errors.NewTransient(errors.ErrCategoryStorage, "failed to fetch step "+key, err)
	}
	return obj.Data, nil
}

// ListCorrelationIDs returns the distinct correlation ids found under traces/, sorted.
func (s *ObjectStepStore) ListCorrelationIDs(ctx context.Context) ([]string, error) {
	keys, err := s.store.ListObjects(ctx, steps.Prefix)
	if err != nil {
		return nil, errors.NewTransient(errors.ErrCategoryStorage, "failed to list traces", err)
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, k := range keys {
		cid, _, ok := steps.SplitKey(k)
		if !ok {
			continue
		}
		if _, dup := seen[cid]; dup {
			continue
		}
		seen[cid] = struct{}{}
		ids = append(ids, cid)
	}
	sort.Strings(ids)
	return ids, nil
}
