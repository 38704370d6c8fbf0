package apihttp

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"figmapedia/kbservice/internal/domain"
	"figmapedia/kbservice/internal/section"
)

type IndexService interface {
	GetIndex(ctx context.Context) (domain.IndexSnapshot, error)
	GetEntry(ctx context.Context, id string) (domain.EntryDetail, error)
	Invalidate(ctx context.Context) error
}

type SectionService interface {
	Get(ctx context.Context) (section.Data, error)
	Section(ctx context.Context, key domain.SectionKey, f section.Filter) ([]domain.Item, error)
	Invalidate(ctx context.Context) error
}

type SemanticService interface {
	Search(ctx context.Context, query string) (domain.AISearchResponse, error)
}

type ThumbnailService interface {
	OGImage(ctx context.Context, target string) string
	PageThumbnail(ctx context.Context, pageID string) string
}

type SourceHealthReporter interface {
	Diagnostics() []domain.SourceDiagnostics
}

// CacheHeaderMode selects the Cache-Control policy of the snapshot endpoints.
type CacheHeaderMode string

const (
	CacheNoStore CacheHeaderMode = "no-store"
	CacheCDN     CacheHeaderMode = "cdn"
)

const (
	msgQueryRequired   = "검색어를 입력해주세요."
	msgQueryTooLong    = "검색어가 너무 깁니다."
	msgAISearchFailed  = "AI 검색에 실패했습니다."
	msgIndexFailed     = "Failed to fetch search index"
	msgSectionsFailed  = "Failed to fetch section data"
	msgEntryFailed     = "Failed to fetch entry"
	msgInvalidSecret   = "Invalid secret"
	msgInvalidRequest  = "Invalid request"
	msgRevalidateError = "Failed to revalidate"

	ogCacheControl    = "public, max-age=86400"
	thumbCacheControl = "public, max-age=2700"
)

type Server struct {
	index      IndexService
	sections   SectionService
	semantic   SemanticService
	thumbnails ThumbnailService
	health     SourceHealthReporter
	events     *eventHub
	secret     string
	cacheMode  CacheHeaderMode
	rateRPS    float64
	rateBurst  int
	logger     *slog.Logger
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithSections(sections SectionService) ServerOption {
	return func(s *Server) {
		s.sections = sections
	}
}

func WithSemantic(semantic SemanticService) ServerOption {
	return func(s *Server) {
		s.semantic = semantic
	}
}

func WithThumbnails(thumbnails ThumbnailService) ServerOption {
	return func(s *Server) {
		s.thumbnails = thumbnails
	}
}

func WithSourceHealth(health SourceHealthReporter) ServerOption {
	return func(s *Server) {
		s.health = health
	}
}

// WithRevalidateSecret sets the shared secret for /api/revalidate. An empty
// secret rejects every request.
func WithRevalidateSecret(secret string) ServerOption {
	return func(s *Server) {
		s.secret = secret
	}
}

func WithCacheHeaderMode(mode CacheHeaderMode) ServerOption {
	return func(s *Server) {
		s.cacheMode = mode
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rateRPS = rps
			s.rateBurst = burst
		}
	}
}

func NewServer(index IndexService, options ...ServerOption) *Server {
	server := &Server{
		index:     index,
		cacheMode: CacheNoStore,
		rateRPS:   50,
		rateBurst: 100,
		logger:    slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	server.events = newEventHub(server.logger)
	go server.events.run()
	return server
}

// Close disconnects event subscribers.
func (s *Server) Close() {
	s.events.Close()
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/search-index", s.handleSearchIndex)
		r.Get("/section-data", s.handleSectionData)
		r.Post("/ai-search", s.handleAISearch)
		r.Get("/og-image", s.handleOGImage)
		r.Get("/page-thumbnail", s.handlePageThumbnail)
		r.Post("/revalidate", s.handleRevalidate)
		r.Get("/entries/{id}", s.handleEntry)
		r.Get("/sources/health", s.handleSourcesHealth)
		r.Get("/events", s.handleEvents)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	traced := otelhttp.NewHandler(requestIDMiddleware(loggingMiddleware(s.logger, r)), "kb-service",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health" && p != "/api/events"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(newClientLimiters(s.rateRPS, s.rateBurst, maxTrackedClients), metricsMiddleware(traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleSearchIndex(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.index.GetIndex(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, msgIndexFailed)
		return
	}
	w.Header().Set("Cache-Control", s.snapshotCacheControl())
	writeJSON(w, http.StatusOK, snapshot)
}

// handleSectionData returns one section when ?section names a known key,
// and every section otherwise.
func (s *Server) handleSectionData(w http.ResponseWriter, r *http.Request) {
	if s.sections == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "section service is not configured")
		return
	}
	q := r.URL.Query()
	if key := strings.TrimSpace(q.Get("section")); key != "" {
		items, err := s.sections.Section(r.Context(), domain.SectionKey(key), section.FilterFromQuery(q))
		switch {
		case err == nil:
			w.Header().Set("Cache-Control", s.snapshotCacheControl())
			writeJSON(w, http.StatusOK, map[string]any{"items": items})
			return
		case !errors.Is(err, domain.ErrUnknownSection):
			s.writeServiceError(w, r, err, msgSectionsFailed)
			return
		}
	}

	data, err := s.sections.Get(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err, msgSectionsFailed)
		return
	}
	w.Header().Set("Cache-Control", s.snapshotCacheControl())
	writeJSON(w, http.StatusOK, data)
}

type aiSearchRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleAISearch(w http.ResponseWriter, r *http.Request) {
	if s.semantic == nil {
		writeError(w, http.StatusInternalServerError, "oracle_unavailable", msgAISearchFailed)
		return
	}
	var req aiSearchRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", msgQueryRequired)
		return
	}

	resp, err := s.semantic.Search(r.Context(), req.Query)
	if err != nil {
		s.writeServiceError(w, r, err, msgAISearchFailed)
		return
	}
	s.logger.Info("ai search completed",
		slog.String("query", truncate(resp.Query, 80)),
		slog.Int("results", len(resp.Results)),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOGImage(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "url parameter required")
		return
	}
	var image string
	if s.thumbnails != nil {
		image = s.thumbnails.OGImage(r.Context(), target)
	}
	w.Header().Set("Cache-Control", ogCacheControl)
	writeJSON(w, http.StatusOK, map[string]*string{"ogImage": domain.StringPtr(image)})
}

func (s *Server) handlePageThumbnail(w http.ResponseWriter, r *http.Request) {
	pageID := strings.TrimSpace(r.URL.Query().Get("pageId"))
	if pageID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "pageId parameter required")
		return
	}
	var image string
	if s.thumbnails != nil {
		image = s.thumbnails.PageThumbnail(r.Context(), pageID)
	}
	w.Header().Set("Cache-Control", thumbCacheControl)
	writeJSON(w, http.StatusOK, map[string]*string{"thumbnail": domain.StringPtr(image)})
}

type revalidateRequest struct {
	Secret *string `json:"secret"`
}

// handleRevalidate accepts the secret from ?secret= or a JSON body. Bodies
// that are not JSON are ignored since webhook senders post their own payload.
func (s *Server) handleRevalidate(w http.ResponseWriter, r *http.Request) {
	secret := r.URL.Query().Get("secret")
	if secret == "" && r.Body != nil {
		payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", msgInvalidRequest)
			return
		}
		var req revalidateRequest
		if json.Unmarshal(payload, &req) == nil && req.Secret != nil {
			secret = *req.Secret
		}
	}

	if s.secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(s.secret)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized", msgInvalidSecret)
		return
	}

	tags, err := s.revalidate(r.Context())
	if err != nil {
		s.logger.Error("revalidate failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "revalidate_failed", msgRevalidateError)
		return
	}

	now := time.Now()
	s.events.Broadcast(domain.Event{Type: "revalidated", Tags: tags, Timestamp: now.UTC()})
	s.logger.Info("caches revalidated", slog.Any("tags", tags))
	writeJSON(w, http.StatusOK, map[string]any{
		"revalidated": true,
		"tags":        tags,
		"timestamp":   now.UnixMilli(),
	})
}

func (s *Server) revalidate(ctx context.Context) ([]string, error) {
	tags := []string{"search-index"}
	errs := []error{s.index.Invalidate(ctx)}
	if s.sections != nil {
		tags = append(tags, section.CacheTag)
		errs = append(errs, s.sections.Invalidate(ctx))
	}
	return tags, errors.Join(errs...)
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}
	entry, err := s.index.GetEntry(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, msgEntryFailed)
		return
	}
	w.Header().Set("Cache-Control", s.snapshotCacheControl())
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleSourcesHealth(w http.ResponseWriter, _ *http.Request) {
	sources := []domain.SourceDiagnostics{}
	if s.health != nil {
		sources = s.health.Diagnostics()
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) snapshotCacheControl() string {
	if s.cacheMode == CacheCDN {
		return "public, s-maxage=300, stale-while-revalidate=600"
	}
	return "no-store, max-age=0"
}

// writeServiceError maps domain errors to a status. fallback is the message
// shown for infrastructure failures.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status, code, message := http.StatusInternalServerError, "internal_error", fallback
	switch {
	case errors.Is(err, domain.ErrQueryTooLong):
		status, code, message = http.StatusBadRequest, "invalid_query", msgQueryTooLong
	case errors.Is(err, domain.ErrInvalidQuery):
		status, code, message = http.StatusBadRequest, "invalid_query", msgQueryRequired
	case errors.Is(err, domain.ErrNotFound):
		status, code, message = http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code, message = http.StatusUnauthorized, "unauthorized", msgInvalidSecret
	case errors.Is(err, domain.ErrOracleUnavailable):
		code = "oracle_unavailable"
	case errors.Is(err, domain.ErrSourceUnavailable):
		code = "source_unavailable"
	}

	attrs := []any{
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	}
	if status >= 500 {
		s.logger.Error("request failed", attrs...)
	} else {
		s.logger.Debug("request rejected", attrs...)
	}
	writeError(w, status, code, message)
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
