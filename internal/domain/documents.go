package domain

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log"

	"github.com/fanoutlab/fanoutlab/internal/errors"
	"github.com/fanoutlab/fanoutlab/internal/storage"
)

// errNoChange tells updateJSON to skip the write.
var errNoChange = stderrors.New("no change")

// maxUpdateAttempts bounds optimistic-concurrency retries on one document.
const maxUpdateAttempts = 5

// readJSON loads key into out. found is false when the key does not exist;
// etag is the version to pass to a conditional write.
func readJSON(ctx context.Context, store storage.ObjectStorage, key string, out any) (found bool, etag string, err error) {
	obj, err := store.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, storage.ErrObjectNotFound) {
			return false, "", nil
		}
		return false, "", errors.NewTransient(errors.ErrCategoryStorage, "failed to read "+key, err)
	}
	if err := json.Unmarshal(obj.Data, out); err != nil {
		return false, "", errors.NewMalformed(errors.ErrCategoryStorage, key+" is not valid JSON", err)
	}
	return true, obj.ETag, nil
}

func writeJSON(ctx context.Context, store storage.ObjectStorage, key string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.NewInternalError("failed to encode "+key, err)
	}
	if err := store.Put(ctx, key, data, storage.ContentTypeJSON); err != nil {
		return errors.NewTransient(errors.ErrCategoryStorage, "failed to write "+key, err)
	}
	return nil
}

// updateJSON applies mutate to the document at key and writes it back with a
// conditional put, retrying when another writer got there first. doc must be
// a pointer; it holds the zero value when the key does not exist yet.
func updateJSON[T any](ctx context.Context, store storage.ObjectStorage, key string, mutate func(doc *T) error) (*T, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		var doc T
		_, etag, err := readJSON(ctx, store, key, &doc)
		if err != nil {
			return nil, err
		}
		if err := mutate(&doc); err != nil {
			if err == errNoChange {
				return &doc, nil
			}
			return nil, err
		}
		data, err := json.Marshal(&doc)
		if err != nil {
			return nil, errors.NewInternalError("failed to encode "+key, err)
		}
		err = store.ConditionalPut(ctx, key, data, etag)
		if err == nil {
			return &doc, nil
		}
		if !stderrors.Is(err, storage.ErrPreconditionFailed) {
			return nil, errors.NewTransient(errors.ErrCategoryStorage, "failed to write "+key, err)
		}
	}
	return nil, errors.NewTransient(errors.ErrCategoryStorage, "too many concurrent updates to "+key, storage.ErrPreconditionFailed)
}

// fetchAll reads every key under prefix in key order, skipping objects
// that could not be fetched.
func (s *Service) fetchAll(ctx context.Context, prefix string) ([]string, map[string]*storage.Object, error) {
	keys, err := s.store.ListObjects(ctx, prefix)
	if err != nil {
		return nil, nil, errors.NewTransient(errors.ErrCategoryStorage, "failed to list "+prefix, err)
	}
	res, err := s.fetcher.Fetch(ctx, keys)
	if err != nil {
		return nil, nil, err
	}
	for k, ferr := range res.Errors {
		log.Printf("domain: skipping %s: %v", k, ferr)
	}
	return keys, res.Objects, nil
}
