package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"figmapedia/kbservice/internal/cache"
	"figmapedia/kbservice/internal/domain"
	"figmapedia/kbservice/internal/mapper"
	"figmapedia/kbservice/internal/metrics"
	"figmapedia/kbservice/internal/source"
	"figmapedia/kbservice/internal/telemetry"
)

const (
	// CacheTag groups every entry derived from the unified index.
	CacheTag = "search-index"

	snapshotKey     = "search-index"
	entryKeyPrefix  = "entry:"
	defaultTTL      = 5 * time.Minute
	defaultEntryTTL = time.Minute
)

// Thumbnailer looks up the preview image a linked page declares.
type Thumbnailer interface {
	OGImage(ctx context.Context, target string) string
}

// Builder assembles the unified index from the primary collection and
// every section, and caches the result.
type Builder struct {
	fetcher  *source.Fetcher
	catalog  mapper.Catalog
	ttl      time.Duration
	entryTTL time.Duration
	index    *cache.Loader[domain.IndexSnapshot]
	entries  *cache.Loader[domain.EntryDetail]
	thumbs   Thumbnailer
	logger   *slog.Logger
	now      func() time.Time
}

type BuilderOption func(*Builder)

func WithTTL(ttl time.Duration) BuilderOption {
	return func(b *Builder) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

// WithCaches replaces the in-process snapshot and entry caches.
func WithCaches(snapshots cache.Cache[domain.IndexSnapshot], entries cache.Cache[domain.EntryDetail]) BuilderOption {
	return func(b *Builder) {
		if snapshots != nil {
			b.index = cache.NewLoader("search_index", snapshots)
		}
		if entries != nil {
			b.entries = cache.NewLoader("entry_detail", entries)
		}
	}
}

func WithThumbnailer(t Thumbnailer) BuilderOption {
	return func(b *Builder) { b.thumbs = t }
}

func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

func NewBuilder(fetcher *source.Fetcher, catalog mapper.Catalog, opts ...BuilderOption) *Builder {
	b := &Builder{
		fetcher:  fetcher,
		catalog:  catalog,
		ttl:      defaultTTL,
		entryTTL: defaultEntryTTL,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.index == nil {
		b.index = cache.NewLoader[domain.IndexSnapshot]("search_index", cache.NewMemory[domain.IndexSnapshot](cache.WithCapacity(4)))
	}
	if b.entries == nil {
		b.entries = cache.NewLoader[domain.EntryDetail]("entry_detail", cache.NewMemory[domain.EntryDetail](cache.WithCapacity(200)))
	}
	return b
}

// GetIndex returns the cached snapshot, rebuilding it when expired.
func (b *Builder) GetIndex(ctx context.Context) (domain.IndexSnapshot, error) {
	return b.index.Load(ctx, snapshotKey, b.ttl, []string{CacheTag}, b.Build)
}

// Build reads every collection and produces a fresh snapshot. A failing
// primary collection fails the build; failing sections are left out.
func (b *Builder) Build(ctx context.Context) (domain.IndexSnapshot, error) {
	ctx, span := telemetry.StartSpan(ctx, "index.build")
	defer span.End()

	startedAt := time.Now()
	collections := make([]mapper.Collection, 0, len(b.catalog.Sections)+1)
	collections = append(collections, b.catalog.Primary)
	collections = append(collections, b.catalog.Sections...)

	requests := make([]source.Collection, 0, len(collections))
	for _, col := range collections {
		requests = append(requests, col.SourceCollection())
	}
	results := b.fetcher.FetchAll(ctx, requests)

	if err := results[0].Err; err != nil {
		span.RecordError(err)
		return domain.IndexSnapshot{}, fmt.Errorf("%w: primary collection: %v", domain.ErrSourceUnavailable, err)
	}

	total := 0
	for _, res := range results {
		total += len(res.Records)
	}
	items := make([]domain.Item, 0, total)
	seen := make(map[string]struct{}, total)
	skipped := 0

	for i, res := range results {
		col := collections[i]
		if res.Err != nil {
			b.logger.Warn("section left out of index",
				slog.String("section", string(col.Key)),
				slog.String("error", res.Err.Error()),
			)
			continue
		}
		fm := b.catalog.FieldMap(col)
		for _, record := range res.Records {
			item, err := mapper.Map(record, fm)
			if err != nil {
				skipped++
				b.logger.Debug("record skipped", slog.String("section", string(col.Key)), slog.String("error", err.Error()))
				continue
			}
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			items = append(items, item)
		}
	}

	snapshot := domain.IndexSnapshot{
		Items:       items,
		TotalCount:  len(items),
		GeneratedAt: b.now().UTC(),
	}
	metrics.IndexItems.Set(float64(len(items)))
	b.logger.Info("search index built",
		slog.Int("items", len(items)),
		slog.Int("skipped", skipped),
		slog.Duration("elapsed", time.Since(startedAt)),
	)
	return snapshot, nil
}

// Invalidate drops the snapshot and every cached entry detail.
func (b *Builder) Invalidate(ctx context.Context) error {
	return errors.Join(
		b.index.Invalidate(ctx, CacheTag),
		b.entries.Invalidate(ctx, CacheTag),
	)
}

// GetEntry returns one record with its body, normalized with the field map
// of the collection it belongs to.
func (b *Builder) GetEntry(ctx context.Context, id string) (domain.EntryDetail, error) {
	return b.entries.Load(ctx, entryKeyPrefix+id, b.entryTTL, []string{CacheTag}, func(ctx context.Context) (domain.EntryDetail, error) {
		return b.loadEntry(ctx, id)
	})
}

func (b *Builder) loadEntry(ctx context.Context, id string) (domain.EntryDetail, error) {
	ctx, span := telemetry.StartSpan(ctx, "index.entry")
	defer span.End()

	store := b.fetcher.Store()
	record, err := store.RetrieveRecord(ctx, id)
	if err != nil {
		var statusErr *source.StatusError
		if errors.As(err, &statusErr) && (statusErr.StatusCode == 404 || statusErr.StatusCode == 400) {
			return domain.EntryDetail{}, fmt.Errorf("%w: entry %s", domain.ErrNotFound, id)
		}
		return domain.EntryDetail{}, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}

	col, ok := b.catalog.ByDatabaseID(record.Parent.DatabaseID)
	if !ok {
		col = b.catalog.Primary
	}

	blocks, err := source.ListBlockTree(ctx, store, record.ID, source.MaxBlockDepth)
	if err != nil {
		return domain.EntryDetail{}, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}

	entry, err := mapper.MapEntry(record, b.catalog.FieldMap(col), blocks)
	if err != nil {
		return domain.EntryDetail{}, err
	}
	if entry.Thumbnail == "" && entry.Link != nil && b.thumbs != nil {
		entry.Thumbnail = b.thumbs.OGImage(ctx, *entry.Link)
	}
	if entry.Thumbnail == "" {
		entry.Thumbnail = mapper.FirstImage(entry.Blocks)
	}
	return entry, nil
}
