package storage

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultFetchConcurrency bounds parallel Gets when none is configured.
const DefaultFetchConcurrency = 8

// BatchFetcher reads many objects in parallel.
type BatchFetcher struct {
	storage     ObjectStorage
	concurrency int
}

// BatchResult holds the outcome of a batch fetch. Every requested path ends
// up in exactly one of the two maps.
type BatchResult struct {
	Objects map[string]*Object
	Errors  map[string]error
}

// NewBatchFetcher creates a batch fetcher. concurrency <= 0 uses
// DefaultFetchConcurrency.
func NewBatchFetcher(storage ObjectStorage, concurrency int) *BatchFetcher {
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}
	return &BatchFetcher{storage: storage, concurrency: concurrency}
}

// Fetch gets every path. Per-object failures are reported in Errors; the
// returned error is only set when ctx ended before all fetches were started.
func (b *BatchFetcher) Fetch(ctx context.Context, paths []string) (*BatchResult, error) {
	result := &BatchResult{
		Objects: make(map[string]*Object, len(paths)),
		Errors:  make(map[string]error),
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		stopErr error
	)
	for _, p := range paths {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[p] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			stopErr = err
			continue
		}

		wg.Add(1)
		go func(path string) {
			defer sem.Release(1)
			defer wg.Done()

			obj, err := b.storage.Get(ctx, path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[path] = err
				return
			}
			result.Objects[path] = obj
		}(p)
	}
	wg.Wait()

	return result, stopErr
}
