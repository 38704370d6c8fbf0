package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// maxConcurrentCollections bounds simultaneous collection queries against the store.
const maxConcurrentCollections = 4

var ErrCollectionBlocked = errors.New("collection temporarily blocked")

// Collection names one queryable collection in the store.
type Collection struct {
	Name    string
	ID      string
	Options QueryOptions
}

type CollectionResult struct {
	Collection Collection
	Records    []Record
	Err        error
	Elapsed    time.Duration
}

// Fetcher queries many collections concurrently with health tracking.
type Fetcher struct {
	store       Store
	health      *Health
	concurrency int64
	logger      *slog.Logger
}

type FetcherOption func(*Fetcher)

func WithHealth(h *Health) FetcherOption {
	return func(f *Fetcher) { f.health = h }
}

func WithConcurrency(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = int64(n)
		}
	}
}

func WithFetcherLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

func NewFetcher(store Store, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		store:       store,
		concurrency: maxConcurrentCollections,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) Store() Store { return f.store }

// FetchAll returns one result per collection, in input order.
func (f *Fetcher) FetchAll(ctx context.Context, collections []Collection) []CollectionResult {
	results := make([]CollectionResult, len(collections))
	sem := semaphore.NewWeighted(f.concurrency)

	var wg sync.WaitGroup
	for i, col := range collections {
		results[i].Collection = col
		wg.Add(1)
		go func(index int, col Collection) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				results[index].Err = err
				return
			}
			defer sem.Release(1)

			records, elapsed, err := f.fetchOne(ctx, col)
			results[index].Records = records
			results[index].Err = err
			results[index].Elapsed = elapsed
		}(i, col)
	}
	wg.Wait()
	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, col Collection) ([]Record, time.Duration, error) {
	if blocked, until, lastErr := f.health.Blocked(col.Name); blocked {
		f.logger.Debug("collection skipped", slog.String("collection", col.Name), slog.Time("blockedUntil", until))
		return nil, 0, fmt.Errorf("%w: %s until %s (%s)", ErrCollectionBlocked, col.Name, until.Format(time.RFC3339), lastErr)
	}

	startedAt := time.Now()
	records, err := f.store.QueryAll(ctx, col.ID, col.Options)
	elapsed := time.Since(startedAt)

	if err != nil && errors.Is(err, context.Canceled) {
		return nil, elapsed, err
	}
	f.health.Record(col.Name, len(records), err, elapsed)
	if err != nil {
		f.logger.Warn("collection fetch failed",
			slog.String("collection", col.Name),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return nil, elapsed, err
	}
	f.logger.Debug("collection fetched",
		slog.String("collection", col.Name),
		slog.Int("records", len(records)),
		slog.Duration("elapsed", elapsed),
	)
	return records, elapsed, nil
}
