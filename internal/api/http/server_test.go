package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"figmapedia/kbservice/internal/domain"
	"figmapedia/kbservice/internal/section"
)

type fakeIndexService struct {
	mu          sync.Mutex
	snapshot    domain.IndexSnapshot
	err         error
	entries     map[string]domain.EntryDetail
	invalidated int
}

func (f *fakeIndexService) GetIndex(context.Context) (domain.IndexSnapshot, error) {
	return f.snapshot, f.err
}

func (f *fakeIndexService) GetEntry(_ context.Context, id string) (domain.EntryDetail, error) {
	entry, ok := f.entries[id]
	if !ok {
		return domain.EntryDetail{}, fmt.Errorf("%w: entry %s", domain.ErrNotFound, id)
	}
	return entry, nil
}

func (f *fakeIndexService) Invalidate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	return nil
}

func (f *fakeIndexService) invalidations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invalidated
}

type fakeSectionService struct {
	data        section.Data
	err         error
	lastFilter  section.Filter
	invalidated int
}

func (f *fakeSectionService) Get(context.Context) (section.Data, error) {
	return f.data, f.err
}

func (f *fakeSectionService) Section(_ context.Context, key domain.SectionKey, filter section.Filter) ([]domain.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	items, ok := f.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownSection, key)
	}
	f.lastFilter = filter
	return filter.Apply(items), nil
}

func (f *fakeSectionService) Invalidate(context.Context) error {
	f.invalidated++
	return nil
}

type fakeSemanticService struct {
	resp      domain.AISearchResponse
	err       error
	lastQuery string
}

func (f *fakeSemanticService) Search(_ context.Context, query string) (domain.AISearchResponse, error) {
	f.lastQuery = query
	if f.err != nil {
		return domain.AISearchResponse{}, f.err
	}
	return f.resp, nil
}

type fakeThumbnails struct {
	og    map[string]string
	pages map[string]string
}

func (f fakeThumbnails) OGImage(_ context.Context, target string) string { return f.og[target] }

func (f fakeThumbnails) PageThumbnail(_ context.Context, id string) string { return f.pages[id] }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleItems() []domain.Item {
	return []domain.Item{
		{ID: "1", Title: "오토 레이아웃 기초", Categories: []string{"레이아웃"}},
		{ID: "2", Title: "컴포넌트 만들기", Categories: []string{"컴포넌트"}},
	}
}

func newTestServer(t *testing.T, index *fakeIndexService, opts ...ServerOption) http.Handler {
	t.Helper()
	server := NewServer(index, opts...)
	t.Cleanup(server.Close)
	return server.Handler()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v (raw: %s)", err, rec.Body.String())
	}
	return body
}

// ---------------------------------------------------------------------------
// search index
// ---------------------------------------------------------------------------

func TestSearchIndexReturnsSnapshot(t *testing.T) {
	index := &fakeIndexService{snapshot: domain.IndexSnapshot{
		Items:       sampleItems(),
		TotalCount:  2,
		GeneratedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}}
	handler := newTestServer(t, index)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search-index", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store, max-age=0" {
		t.Fatalf("unexpected Cache-Control %q", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
	var snapshot domain.IndexSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snapshot.TotalCount != 2 || len(snapshot.Items) != 2 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if !strings.Contains(rec.Body.String(), `"link":null`) {
		t.Fatalf("expected absent link to serialize as null: %s", rec.Body.String())
	}
}

func TestSearchIndexCDNHeaders(t *testing.T) {
	handler := newTestServer(t, &fakeIndexService{}, WithCacheHeaderMode(CacheCDN))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search-index", nil))

	if got := rec.Header().Get("Cache-Control"); got != "public, s-maxage=300, stale-while-revalidate=600" {
		t.Fatalf("unexpected Cache-Control %q", got)
	}
}

func TestSearchIndexFailure(t *testing.T) {
	handler := newTestServer(t, &fakeIndexService{err: fmt.Errorf("%w: primary", domain.ErrSourceUnavailable)})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search-index", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != msgIndexFailed || body["code"] != "source_unavailable" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

// ---------------------------------------------------------------------------
// section data
// ---------------------------------------------------------------------------

func TestSectionDataKnownAndUnknownKeys(t *testing.T) {
	sections := &fakeSectionService{data: section.Data{
		domain.SectionPrompt: sampleItems(),
		domain.SectionKiosk:  {},
	}}
	handler := newTestServer(t, &fakeIndexService{}, WithSections(sections))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/section-data?section=prompt", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	items, ok := decodeBody(t, rec)["items"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("expected two items, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/section-data?section=unknown", nil))
	body := decodeBody(t, rec)
	if _, ok := body["prompt"]; !ok {
		t.Fatalf("expected the full mapping for an unknown key, got %s", rec.Body.String())
	}
	if _, ok := body["kiosk"]; !ok {
		t.Fatalf("expected kiosk in the full mapping")
	}
}

func TestSectionDataAppliesFilters(t *testing.T) {
	sections := &fakeSectionService{data: section.Data{domain.SectionPrompt: sampleItems()}}
	handler := newTestServer(t, &fakeIndexService{}, WithSections(sections))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/section-data?section=prompt&category=%EC%BB%B4%ED%8F%AC%EB%84%8C%ED%8A%B8", nil))

	items, _ := decodeBody(t, rec)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one filtered item, got %s", rec.Body.String())
	}
	if len(sections.lastFilter.Categories) != 1 || sections.lastFilter.Categories[0] != "컴포넌트" {
		t.Fatalf("unexpected filter: %+v", sections.lastFilter)
	}
}

func TestSectionDataFailure(t *testing.T) {
	sections := &fakeSectionService{err: domain.ErrSourceUnavailable}
	handler := newTestServer(t, &fakeIndexService{}, WithSections(sections))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/section-data", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if decodeBody(t, rec)["error"] != msgSectionsFailed {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

// ---------------------------------------------------------------------------
// ai search
// ---------------------------------------------------------------------------

func TestAISearchSuccess(t *testing.T) {
	semantic := &fakeSemanticService{resp: domain.AISearchResponse{
		Results:    sampleItems()[:1],
		Query:      "정렬하는 법",
		IsAIResult: true,
	}}
	handler := newTestServer(t, &fakeIndexService{}, WithSemantic(semantic))

	req := httptest.NewRequest(http.MethodPost, "/api/ai-search", strings.NewReader(`{"query":"정렬하는 법"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if semantic.lastQuery != "정렬하는 법" {
		t.Fatalf("unexpected query %q", semantic.lastQuery)
	}
	var resp domain.AISearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.IsAIResult || len(resp.Results) != 1 || resp.Results[0].ID != "1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAISearchErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		err     error
		status  int
		message string
	}{
		{"required", `{"query":"  "}`, domain.ErrQueryRequired, http.StatusBadRequest, msgQueryRequired},
		{"too long", `{"query":"x"}`, domain.ErrQueryTooLong, http.StatusBadRequest, msgQueryTooLong},
		{"not a string", `{"query":42}`, nil, http.StatusBadRequest, msgQueryRequired},
		{"oracle", `{"query":"x"}`, fmt.Errorf("%w: quota", domain.ErrOracleUnavailable), http.StatusInternalServerError, msgAISearchFailed},
		{"index", `{"query":"x"}`, domain.ErrSourceUnavailable, http.StatusInternalServerError, msgAISearchFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newTestServer(t, &fakeIndexService{}, WithSemantic(&fakeSemanticService{err: tt.err}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ai-search", strings.NewReader(tt.body)))

			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if got := decodeBody(t, rec)["error"]; got != tt.message {
				t.Fatalf("expected %q, got %v", tt.message, got)
			}
		})
	}
}

func TestAISearchRejectsGet(t *testing.T) {
	handler := newTestServer(t, &fakeIndexService{}, WithSemantic(&fakeSemanticService{}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ai-search", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// thumbnails
// ---------------------------------------------------------------------------

func TestOGImageAndPageThumbnail(t *testing.T) {
	thumbs := fakeThumbnails{
		og:    map[string]string{"https://example.com/post": "https://example.com/og.png"},
		pages: map[string]string{"page-1": "https://files.example.com/a.png"},
	}
	handler := newTestServer(t, &fakeIndexService{}, WithThumbnails(thumbs))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/og-image?url=https%3A%2F%2Fexample.com%2Fpost", nil))
	if got := decodeBody(t, rec)["ogImage"]; got != "https://example.com/og.png" {
		t.Fatalf("unexpected ogImage %v", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=86400" {
		t.Fatalf("unexpected Cache-Control %q", got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/og-image?url=https%3A%2F%2Fexample.com%2Fnone", nil))
	if body := decodeBody(t, rec); body["ogImage"] != nil {
		t.Fatalf("expected null ogImage, got %v", body["ogImage"])
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/page-thumbnail?pageId=page-1", nil))
	if got := decodeBody(t, rec)["thumbnail"]; got != "https://files.example.com/a.png" {
		t.Fatalf("unexpected thumbnail %v", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=2700" {
		t.Fatalf("unexpected Cache-Control %q", got)
	}
}

func TestThumbnailEndpointsRequireParameters(t *testing.T) {
	handler := newTestServer(t, &fakeIndexService{}, WithThumbnails(fakeThumbnails{}))

	for _, path := range []string{"/api/og-image", "/api/page-thumbnail?pageId=%20"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

// ---------------------------------------------------------------------------
// revalidate
// ---------------------------------------------------------------------------

func TestRevalidate(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		target string
		body   string
		status int
	}{
		{"query secret", "s3cret", "/api/revalidate?secret=s3cret", "", http.StatusOK},
		{"body secret", "s3cret", "/api/revalidate", `{"secret":"s3cret"}`, http.StatusOK},
		{"wrong secret", "s3cret", "/api/revalidate?secret=nope", "", http.StatusUnauthorized},
		{"non json body", "s3cret", "/api/revalidate", `payload=1`, http.StatusUnauthorized},
		{"unset server secret", "", "/api/revalidate", `{"secret":""}`, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index := &fakeIndexService{}
			sections := &fakeSectionService{}
			handler := newTestServer(t, index, WithSections(sections), WithRevalidateSecret(tt.secret))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body)))
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}

			body := decodeBody(t, rec)
			if tt.status != http.StatusOK {
				if body["error"] != msgInvalidSecret {
					t.Fatalf("unexpected error body %v", body)
				}
				if index.invalidations() != 0 {
					t.Fatalf("caches must not be invalidated on a rejected request")
				}
				return
			}
			if body["revalidated"] != true {
				t.Fatalf("expected revalidated=true, got %v", body)
			}
			tags, _ := body["tags"].([]any)
			if len(tags) != 2 || tags[0] != "search-index" || tags[1] != "section-data" {
				t.Fatalf("unexpected tags %v", body["tags"])
			}
			if _, ok := body["timestamp"].(float64); !ok {
				t.Fatalf("expected numeric timestamp, got %v", body["timestamp"])
			}
			if index.invalidations() != 1 || sections.invalidated != 1 {
				t.Fatalf("expected both caches invalidated once")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// entries, sources, health
// ---------------------------------------------------------------------------

func TestEntryDetail(t *testing.T) {
	index := &fakeIndexService{entries: map[string]domain.EntryDetail{
		"q1": {Item: domain.Item{ID: "q1", Title: "질문", Categories: []string{}}, Blocks: []domain.Block{{ID: "b1", Type: "paragraph", Content: "본문"}}},
	}}
	handler := newTestServer(t, index)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/entries/q1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["id"] != "q1" {
		t.Fatalf("expected flattened item fields, got %v", body)
	}
	if blocks, _ := body["blocks"].([]any); len(blocks) != 1 {
		t.Fatalf("expected one block, got %v", body["blocks"])
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/entries/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type fakeHealth struct{}

func (fakeHealth) Diagnostics() []domain.SourceDiagnostics {
	return []domain.SourceDiagnostics{{Name: "qa", Available: true}}
}

func TestSourcesHealthAndHealth(t *testing.T) {
	handler := newTestServer(t, &fakeIndexService{}, WithSourceHealth(fakeHealth{}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sources/health", nil))
	sources, _ := decodeBody(t, rec)["sources"].([]any)
	if len(sources) != 1 {
		t.Fatalf("expected one source, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if decodeBody(t, rec)["status"] != "ok" {
		t.Fatalf("unexpected health body %s", rec.Body.String())
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	handler := newTestServer(t, &fakeIndexService{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}

func TestRecoveryMiddlewareReturns500(t *testing.T) {
	handler := recoveryMiddleware(discardLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search-index", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestNormalizeRoute(t *testing.T) {
	cases := map[string]string{
		"/api/entries/abc":  "/api/entries/{id}",
		"/api/search-index": "/api/search-index",
		"/wp-login.php":     "/other",
	}
	for path, want := range cases {
		if got := normalizeRoute(path); got != want {
			t.Fatalf("normalizeRoute(%q) = %q, want %q", path, got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// events
// ---------------------------------------------------------------------------

func TestRevalidateBroadcastsEvent(t *testing.T) {
	server := NewServer(&fakeIndexService{}, WithRevalidateSecret("s3cret"))
	t.Cleanup(server.Close)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	resp.Body.Close()
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for server.events.subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber was not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	res, err := http.Post(srv.URL+"/api/revalidate?secret=s3cret", "application/json", nil)
	if err != nil {
		t.Fatalf("revalidate: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Type != "revalidated" || len(ev.Tags) != 1 || ev.Tags[0] != "search-index" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestRateLimitIsPerClient(t *testing.T) {
	handler := newTestServer(t, &fakeIndexService{}, WithRateLimit(0.001, 1))

	request := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/search-index", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := request("198.51.100.1:4000"); code != http.StatusOK {
		t.Fatalf("first request from client A: expected 200, got %d", code)
	}
	if code := request("198.51.100.1:4001"); code != http.StatusTooManyRequests {
		t.Fatalf("second request from client A: expected 429, got %d", code)
	}
	if code := request("198.51.100.2:4000"); code != http.StatusOK {
		t.Fatalf("client B should have its own bucket, got %d", code)
	}
}

func TestClientLimitersForgetLeastRecentClient(t *testing.T) {
	limiters := newClientLimiters(0.001, 1, 2)

	if !limiters.allow("a") || !limiters.allow("b") {
		t.Fatal("fresh clients should be allowed")
	}
	if limiters.allow("a") {
		t.Fatal("client a should be out of tokens")
	}
	limiters.allow("c")
	if !limiters.allow("b") {
		t.Fatal("evicted client b should start with a fresh bucket")
	}
}
