package section

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"figmapedia/kbservice/internal/cache"
	"figmapedia/kbservice/internal/domain"
	"figmapedia/kbservice/internal/mapper"
	"figmapedia/kbservice/internal/source"
	"figmapedia/kbservice/internal/telemetry"
)

const (
	// CacheTag groups every cached section payload.
	CacheTag = "section-data"

	dataKey    = "section-data"
	defaultTTL = time.Minute
	minTTL     = time.Minute
	maxTTL     = 10 * time.Minute
)

// Data maps each section key to its items, in store order.
type Data map[domain.SectionKey][]domain.Item

// Enricher fills thumbnails on a batch of items.
type Enricher interface {
	ResolveBatch(ctx context.Context, items []domain.Item) []domain.Item
}

// Cache serves every section collection as one cached payload.
type Cache struct {
	fetcher  *source.Fetcher
	catalog  mapper.Catalog
	ttl      time.Duration
	loader   *cache.Loader[Data]
	enricher Enricher
	logger   *slog.Logger
}

type Option func(*Cache)

// WithTTL sets the payload lifetime, clamped to [1m, 10m].
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl <= 0 {
			return
		}
		c.ttl = min(max(ttl, minTTL), maxTTL)
	}
}

func WithBackingCache(store cache.Cache[Data]) Option {
	return func(c *Cache) {
		if store != nil {
			c.loader = cache.NewLoader("section_data", store)
		}
	}
}

// WithEnricher resolves thumbnails for items that have no cover.
func WithEnricher(e Enricher) Option {
	return func(c *Cache) { c.enricher = e }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(fetcher *source.Fetcher, catalog mapper.Catalog, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		catalog: catalog,
		ttl:     defaultTTL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.loader == nil {
		c.loader = cache.NewLoader[Data]("section_data", cache.NewMemory[Data](cache.WithCapacity(4)))
	}
	return c
}

// Get returns every section, reloading when the cached payload expired.
func (c *Cache) Get(ctx context.Context) (Data, error) {
	return c.loader.Load(ctx, dataKey, c.ttl, []string{CacheTag}, c.load)
}

// Section returns one section narrowed by f.
func (c *Cache) Section(ctx context.Context, key domain.SectionKey, f Filter) ([]domain.Item, error) {
	if _, ok := c.catalog.Section(key); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownSection, key)
	}
	data, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}
	return f.Apply(data[key]), nil
}

func (c *Cache) Invalidate(ctx context.Context) error {
	return c.loader.Invalidate(ctx, CacheTag)
}

// load fetches every section. Any failing section fails the whole load so
// a partial payload is never cached.
func (c *Cache) load(ctx context.Context) (Data, error) {
	ctx, span := telemetry.StartSpan(ctx, "section.load")
	defer span.End()

	requests := make([]source.Collection, 0, len(c.catalog.Sections))
	for _, col := range c.catalog.Sections {
		requests = append(requests, col.SourceCollection())
	}
	results := c.fetcher.FetchAll(ctx, requests)

	data := make(Data, len(results))
	for i, res := range results {
		col := c.catalog.Sections[i]
		if res.Err != nil {
			span.RecordError(res.Err)
			return nil, fmt.Errorf("%w: section %s: %v", domain.ErrSourceUnavailable, col.Key, res.Err)
		}
		fm := c.catalog.FieldMap(col)
		items := make([]domain.Item, 0, len(res.Records))
		for _, record := range res.Records {
			item, err := mapper.Map(record, fm)
			if err != nil {
				c.logger.Debug("record skipped", slog.String("section", string(col.Key)), slog.String("error", err.Error()))
				continue
			}
			items = append(items, item)
		}
		data[col.Key] = items
	}
	if c.enricher != nil {
		c.enrich(ctx, data)
	}
	return data, nil
}

// enrich resolves thumbnails for every section in one batch so the whole
// payload shares a single enrichment deadline.
func (c *Cache) enrich(ctx context.Context, data Data) {
	var all []domain.Item
	for _, col := range c.catalog.Sections {
		all = append(all, data[col.Key]...)
	}
	if len(all) == 0 {
		return
	}
	resolved := c.enricher.ResolveBatch(ctx, all)
	if len(resolved) != len(all) {
		return
	}
	offset := 0
	for _, col := range c.catalog.Sections {
		n := len(data[col.Key])
		data[col.Key] = resolved[offset : offset+n : offset+n]
		offset += n
	}
}
