package thumbnail

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"figmapedia/kbservice/internal/cache"
	"figmapedia/kbservice/internal/domain"
	"figmapedia/kbservice/internal/mapper"
	"figmapedia/kbservice/internal/metrics"
	"figmapedia/kbservice/internal/source"
)

const (
	ogCacheTTL       = 24 * time.Hour
	pageCacheTTL     = 45 * time.Minute
	cacheCapacity    = 500
	ogConcurrency    = 10
	pageConcurrency  = 3
	defaultOGTimeout = 3 * time.Second
	defaultPageWait  = 4 * time.Second
	defaultBatchWait = 5 * time.Second
)

// BlockLister reads the direct children of a record body.
type BlockLister = source.BlockLister

// Resolver picks a preview image for items: the record cover, then the
// linked page's preview image, then the first image in the record body.
type Resolver struct {
	blocks        BlockLister
	httpClient    *http.Client
	guard         urlGuard
	userAgent     string
	ogTimeout     time.Duration
	pageTimeout   time.Duration
	batchDeadline time.Duration
	ogSem         *semaphore.Weighted
	pageSem       *semaphore.Weighted
	ogCache       *cache.Loader[string]
	pageCache     *cache.Loader[string]
	logger        *slog.Logger
}

type Option func(*options)

type options struct {
	httpClient    *http.Client
	allowPrivate  bool
	userAgent     string
	ogTimeout     time.Duration
	pageTimeout   time.Duration
	batchDeadline time.Duration
	ogCache       cache.Cache[string]
	pageCache     cache.Cache[string]
	logger        *slog.Logger
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithAllowPrivateHosts disables the private-address guard. Tests only.
func WithAllowPrivateHosts() Option {
	return func(o *options) { o.allowPrivate = true }
}

func WithUserAgent(ua string) Option {
	return func(o *options) {
		if strings.TrimSpace(ua) != "" {
			o.userAgent = ua
		}
	}
}

func WithTimeouts(og, page, batch time.Duration) Option {
	return func(o *options) {
		if og > 0 {
			o.ogTimeout = og
		}
		if page > 0 {
			o.pageTimeout = page
		}
		if batch > 0 {
			o.batchDeadline = batch
		}
	}
}

// WithCaches replaces the in-process caches, e.g. with a shared tier.
func WithCaches(og, page cache.Cache[string]) Option {
	return func(o *options) {
		o.ogCache = og
		o.pageCache = page
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func New(blocks BlockLister, opts ...Option) *Resolver {
	o := options{
		userAgent:     "Mozilla/5.0 (compatible; FigmapediaBot/1.0)",
		ogTimeout:     defaultOGTimeout,
		pageTimeout:   defaultPageWait,
		batchDeadline: defaultBatchWait,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ogCache == nil {
		o.ogCache = cache.NewMemory[string](cache.WithCapacity(cacheCapacity))
	}
	if o.pageCache == nil {
		o.pageCache = cache.NewMemory[string](cache.WithCapacity(cacheCapacity))
	}

	guard := urlGuard{allowPrivate: o.allowPrivate}
	client := o.httpClient
	if client == nil {
		client = newScrapeClient(guard, o.ogTimeout)
	}

	return &Resolver{
		blocks:        blocks,
		httpClient:    client,
		guard:         guard,
		userAgent:     o.userAgent,
		ogTimeout:     o.ogTimeout,
		pageTimeout:   o.pageTimeout,
		batchDeadline: o.batchDeadline,
		ogSem:         semaphore.NewWeighted(ogConcurrency),
		pageSem:       semaphore.NewWeighted(pageConcurrency),
		ogCache:       cache.NewLoader("og_image", o.ogCache),
		pageCache:     cache.NewLoader("page_thumbnail", o.pageCache),
		logger:        o.logger,
	}
}

// OGImage returns the preview image declared by the page at target, or "".
// Results, including misses, are cached for 24h.
func (r *Resolver) OGImage(ctx context.Context, target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}
	value, err := r.ogCache.Load(ctx, target, ogCacheTTL, nil, func(lctx context.Context) (string, error) {
		sctx, cancel := context.WithTimeout(lctx, r.ogTimeout)
		defer cancel()
		if err := r.ogSem.Acquire(sctx, 1); err != nil {
			return "", fmt.Errorf("og stage queue: %w", err)
		}
		defer r.ogSem.Release(1)

		image, err := r.fetchOGImage(sctx, target)
		if err != nil {
			r.logger.Debug("og image lookup failed", slog.String("url", target), slog.String("error", err.Error()))
			return "", nil
		}
		return image, nil
	})
	if err != nil {
		return ""
	}
	return value
}

// PageThumbnail returns the first image in the body of record id, or "".
// Results, including misses, are cached for 45 minutes.
func (r *Resolver) PageThumbnail(ctx context.Context, id string) string {
	id = strings.TrimSpace(id)
	if id == "" || r.blocks == nil {
		return ""
	}
	value, err := r.pageCache.Load(ctx, id, pageCacheTTL, nil, func(lctx context.Context) (string, error) {
		sctx, cancel := context.WithTimeout(lctx, r.pageTimeout)
		defer cancel()
		if err := r.pageSem.Acquire(sctx, 1); err != nil {
			return "", fmt.Errorf("page stage queue: %w", err)
		}
		defer r.pageSem.Release(1)

		raw, err := source.ListBlockTree(sctx, r.blocks, id, source.MaxBlockDepth)
		if err != nil {
			r.logger.Debug("page thumbnail lookup failed", slog.String("id", id), slog.String("error", err.Error()))
			return "", nil
		}
		return mapper.FirstImage(mapper.MapBlocks(raw)), nil
	})
	if err != nil {
		return ""
	}
	return value
}

// Resolve runs the stages in order and returns the first hit.
func (r *Resolver) Resolve(ctx context.Context, item domain.Item) string {
	if item.Thumbnail != "" {
		metrics.ThumbnailResolutionsTotal.WithLabelValues("cover").Inc()
		return item.Thumbnail
	}
	if item.Link != nil && *item.Link != "" {
		if image := r.OGImage(ctx, *item.Link); image != "" {
			metrics.ThumbnailResolutionsTotal.WithLabelValues("og").Inc()
			return image
		}
	}
	if ctx.Err() != nil {
		return ""
	}
	if image := r.PageThumbnail(ctx, item.ID); image != "" {
		metrics.ThumbnailResolutionsTotal.WithLabelValues("page").Inc()
		return image
	}
	metrics.ThumbnailResolutionsTotal.WithLabelValues("none").Inc()
	return ""
}

// ResolveBatch fills Thumbnail on a copy of items. It returns once every
// item is resolved or the batch deadline passes, whichever comes first;
// items still pending at the deadline keep an empty thumbnail.
func (r *Resolver) ResolveBatch(ctx context.Context, items []domain.Item) []domain.Item {
	out := make([]domain.Item, len(items))
	copy(out, items)

	ctx, cancel := context.WithTimeout(ctx, r.batchDeadline)
	defer cancel()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i := range out {
		if out[i].Thumbnail != "" {
			continue
		}
		wg.Add(1)
		go func(index int, item domain.Item) {
			defer wg.Done()
			image := r.Resolve(ctx, item)
			if image == "" {
				return
			}
			mu.Lock()
			out[index].Thumbnail = image
			mu.Unlock()
		}(i, out[i])
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Debug("thumbnail batch deadline reached", slog.Int("items", len(items)))
	}

	mu.Lock()
	defer mu.Unlock()
	result := make([]domain.Item, len(out))
	copy(result, out)
	return result
}
