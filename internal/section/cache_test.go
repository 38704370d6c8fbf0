package section

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"figmapedia/kbservice/internal/domain"
	"figmapedia/kbservice/internal/mapper"
	"figmapedia/kbservice/internal/source"
	"figmapedia/kbservice/internal/thumbnail"
)

const (
	promptDB = "prompt-db"
	kioskDB  = "kiosk-db"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[string][]source.Record
	errs    map[string]error
	calls   map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string][]source.Record),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (s *fakeStore) QueryAll(_ context.Context, id string, _ source.QueryOptions) ([]source.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[id]++
	if err := s.errs[id]; err != nil {
		return nil, err
	}
	return s.records[id], nil
}

func (s *fakeStore) RetrieveRecord(context.Context, string) (source.Record, error) {
	return source.Record{}, errors.New("not used")
}

func (s *fakeStore) ListBlocks(context.Context, string) ([]source.RawBlock, error) {
	return nil, nil
}

func (s *fakeStore) callCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func record(id, titleProp, title string) source.Record {
	return source.Record{ID: id, Properties: map[string]source.Property{
		titleProp: {Type: "title", Title: []source.RichText{{PlainText: title}}},
	}}
}

func testCatalog() mapper.Catalog {
	catalog := mapper.DefaultCatalog("primary-db")
	catalog.Sections = []mapper.Collection{
		{Key: domain.SectionPrompt, Label: "프롬프트", Kind: mapper.KindPrompt, DatabaseID: promptDB},
		{Key: domain.SectionKiosk, Label: "키오스크", Kind: mapper.KindKiosk, DatabaseID: kioskDB},
	}
	return catalog
}

func seededStore() *fakeStore {
	store := newFakeStore()
	store.records[promptDB] = []source.Record{record("p1", "이름", "프롬프트 1"), record("shared", "이름", "공유")}
	store.records[kioskDB] = []source.Record{record("shared", "키오스크명", "공유 키오스크")}
	return store
}

func TestGetMapsEverySectionWithoutCrossDedup(t *testing.T) {
	store := seededStore()
	c := New(source.NewFetcher(store), testCatalog())

	data, err := c.Get(context.Background())
	require.NoError(t, err)

	require.Len(t, data[domain.SectionPrompt], 2)
	require.Len(t, data[domain.SectionKiosk], 1)
	assert.Equal(t, "shared", data[domain.SectionKiosk][0].ID)
	assert.Equal(t, "키오스크", data[domain.SectionKiosk][0].Section)
}

func TestGetIsCachedUntilInvalidated(t *testing.T) {
	store := seededStore()
	c := New(source.NewFetcher(store), testCatalog())
	ctx := context.Background()

	_, err := c.Get(ctx)
	require.NoError(t, err)
	_, err = c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, store.callCount(promptDB))

	require.NoError(t, c.Invalidate(ctx))
	_, err = c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, store.callCount(promptDB))
}

func TestGetFailsWhenAnySectionFails(t *testing.T) {
	store := seededStore()
	store.errs[kioskDB] = errors.New("upstream 502")
	c := New(source.NewFetcher(store), testCatalog())

	_, err := c.Get(context.Background())
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)

	store.mu.Lock()
	delete(store.errs, kioskDB)
	store.mu.Unlock()

	data, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Len(t, data[domain.SectionKiosk], 1)
}

func TestSectionUnknownKey(t *testing.T) {
	c := New(source.NewFetcher(seededStore()), testCatalog())

	_, err := c.Section(context.Background(), domain.SectionKey("nope"), Filter{})
	require.ErrorIs(t, err, domain.ErrUnknownSection)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

type stubEnricher struct{ calls int }

func (s *stubEnricher) ResolveBatch(_ context.Context, items []domain.Item) []domain.Item {
	s.calls++
	out := append([]domain.Item(nil), items...)
	for i := range out {
		if out[i].Thumbnail == "" {
			out[i].Thumbnail = "https://img.example.com/" + out[i].ID + ".png"
		}
	}
	return out
}

func TestEnricherFillsThumbnails(t *testing.T) {
	enricher := &stubEnricher{}
	c := New(source.NewFetcher(seededStore()), testCatalog(), WithEnricher(enricher))

	items, err := c.Section(context.Background(), domain.SectionPrompt, Filter{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "https://img.example.com/p1.png", items[0].Thumbnail)

	kiosk, err := c.Section(context.Background(), domain.SectionKiosk, Filter{})
	require.NoError(t, err)
	require.Len(t, kiosk, 1)
	assert.Equal(t, "공유 키오스크", kiosk[0].Title)
	assert.Equal(t, "https://img.example.com/shared.png", kiosk[0].Thumbnail)
	assert.Equal(t, 1, enricher.calls)
}

type slowBlocks struct{}

func (slowBlocks) ListBlocks(ctx context.Context, _ string) ([]source.RawBlock, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEnrichmentSharesOneDeadline(t *testing.T) {
	store := newFakeStore()
	catalog := mapper.DefaultCatalog("primary-db")
	catalog.Sections = nil
	for i := range 8 {
		db := fmt.Sprintf("section-db-%d", i)
		catalog.Sections = append(catalog.Sections, mapper.Collection{
			Key:        domain.SectionKey(fmt.Sprintf("section-%d", i)),
			Kind:       mapper.KindPrompt,
			DatabaseID: db,
		})
		store.records[db] = []source.Record{record(fmt.Sprintf("r%d", i), "이름", "항목")}
	}
	resolver := thumbnail.New(slowBlocks{}, thumbnail.WithTimeouts(0, 300*time.Millisecond, 200*time.Millisecond))
	c := New(source.NewFetcher(store), catalog, WithEnricher(resolver))

	startedAt := time.Now()
	data, err := c.Get(context.Background())
	elapsed := time.Since(startedAt)

	require.NoError(t, err)
	assert.Len(t, data, 8)
	assert.Less(t, elapsed, 800*time.Millisecond)
}

func TestWithTTLClamps(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		0:                defaultTTL,
		10 * time.Second: time.Minute,
		5 * time.Minute:  5 * time.Minute,
		time.Hour:        10 * time.Minute,
	}
	for in, want := range cases {
		c := &Cache{ttl: defaultTTL}
		WithTTL(in)(c)
		assert.Equal(t, want, c.ttl, "ttl %s", in)
	}
}
