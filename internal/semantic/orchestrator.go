// Package semantic answers natural-language queries by narrowing the index
// lexically and asking an oracle to rank the candidates.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"figmapedia/kbservice/internal/cache"
	"figmapedia/kbservice/internal/domain"
	"figmapedia/kbservice/internal/lexical"
	"figmapedia/kbservice/internal/metrics"
	"figmapedia/kbservice/internal/oracle"
	"figmapedia/kbservice/internal/telemetry"
)

const (
	MaxQueryLength = 200
	MaxResults     = 20

	candidateLimit   = 50
	minPrefilterHits = 5
	summaryMaxLines  = 3

	defaultResponseTTL      = 5 * time.Minute
	defaultResponseCapacity = 200
	defaultOracleTimeout    = 20 * time.Second
)

// IndexSource yields the current unified index.
type IndexSource interface {
	GetIndex(ctx context.Context) (domain.IndexSnapshot, error)
}

type queryInput struct {
	Query string `validate:"required,max=200"`
}

// Orchestrator runs semantic searches and caches their responses.
type Orchestrator struct {
	index       IndexSource
	oracle      oracle.Oracle
	validate    *validator.Validate
	responses   cache.Cache[domain.AISearchResponse]
	responseTTL time.Duration
	timeout     time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	engine *sharedEngine
}

// sharedEngine is a prefilter engine that searches may still be using after
// a newer snapshot replaced it. It closes once retired and released by all.
type sharedEngine struct {
	*lexical.Engine
	at      time.Time
	refs    int
	retired bool
}

type Option func(*Orchestrator)

func WithOracleTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithResponseCache(c cache.Cache[domain.AISearchResponse], ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.responses = c
		}
		if ttl > 0 {
			o.responseTTL = ttl
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func New(index IndexSource, o oracle.Oracle, opts ...Option) *Orchestrator {
	orch := &Orchestrator{
		index:       index,
		oracle:      o,
		validate:    validator.New(),
		responseTTL: defaultResponseTTL,
		timeout:     defaultOracleTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(orch)
	}
	if orch.responses == nil {
		orch.responses = cache.NewMemory[domain.AISearchResponse](cache.WithCapacity(defaultResponseCapacity))
	}
	return orch
}

// NormalizeQuery trims and validates a raw query. Case is kept; the
// lexical engine folds it on its own.
func (o *Orchestrator) NormalizeQuery(raw string) (string, error) {
	q := strings.TrimSpace(norm.NFC.String(raw))
	if err := o.validate.Struct(queryInput{Query: q}); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "max" {
			return "", domain.ErrQueryTooLong
		}
		return "", domain.ErrQueryRequired
	}
	return q, nil
}

// Search answers query. Invalid queries fail before any network call.
func (o *Orchestrator) Search(ctx context.Context, raw string) (domain.AISearchResponse, error) {
	query, err := o.NormalizeQuery(raw)
	if err != nil {
		return domain.AISearchResponse{}, err
	}

	if cached, ok := o.responses.Get(ctx, query); ok {
		metrics.CacheHitsTotal.WithLabelValues("ai_search").Inc()
		return cached, nil
	}
	metrics.CacheMissesTotal.WithLabelValues("ai_search").Inc()

	ctx, span := telemetry.StartSpan(ctx, "semantic.search")
	defer span.End()

	snapshot, err := o.index.GetIndex(ctx)
	if err != nil {
		return domain.AISearchResponse{}, err
	}

	candidates, err := o.candidates(ctx, snapshot, query)
	if err != nil {
		return domain.AISearchResponse{}, err
	}

	answer, err := o.ask(ctx, BuildPrompt(candidates, query))
	if err != nil {
		span.RecordError(err)
		return domain.AISearchResponse{}, err
	}

	resp := domain.AISearchResponse{
		Results:    resolve(snapshot.Items, answer.IDs),
		Query:      query,
		IsAIResult: true,
		Summary:    trimLines(answer.Summary, summaryMaxLines),
	}
	o.responses.Set(ctx, query, resp, o.responseTTL)
	return resp, nil
}

// candidates narrows the index with the loose lexical profile, falling back
// to a broad sample when the lexical pass finds too little.
func (o *Orchestrator) candidates(ctx context.Context, snapshot domain.IndexSnapshot, query string) ([]domain.Item, error) {
	engine, release, err := o.engineFor(snapshot)
	if err != nil {
		return nil, err
	}
	defer release()
	hits, err := engine.Items(ctx, query, lexical.Prefilter)
	if err != nil {
		return nil, err
	}
	if len(hits) >= minPrefilterHits {
		return hits, nil
	}
	o.logger.Debug("prefilter fallback", slog.String("query", query), slog.Int("hits", len(hits)))
	return lexical.Sample(snapshot.Items, candidateLimit), nil
}

// engineFor reuses the engine while the snapshot is unchanged. Callers
// must call release once done with the engine.
func (o *Orchestrator) engineFor(snapshot domain.IndexSnapshot) (*lexical.Engine, func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	current := o.engine
	if current == nil || !current.at.Equal(snapshot.GeneratedAt) || current.Len() != len(snapshot.Items) {
		engine, err := lexical.NewEngine(snapshot.Items)
		if err != nil {
			return nil, nil, fmt.Errorf("build prefilter: %w", err)
		}
		if current != nil {
			current.retired = true
			o.closeIfIdleLocked(current)
		}
		current = &sharedEngine{Engine: engine, at: snapshot.GeneratedAt}
		o.engine = current
	}

	current.refs++
	var once sync.Once
	release := func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			current.refs--
			o.closeIfIdleLocked(current)
		})
	}
	return current.Engine, release, nil
}

func (o *Orchestrator) closeIfIdleLocked(e *sharedEngine) {
	if e.retired && e.refs == 0 {
		_ = e.Close()
	}
}

func (o *Orchestrator) ask(ctx context.Context, prompt string) (Answer, error) {
	if o.oracle == nil {
		return Answer{}, domain.ErrOracleUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	startedAt := time.Now()
	text, err := o.oracle.Complete(ctx, prompt)
	metrics.OracleRequestDuration.Observe(time.Since(startedAt).Seconds())
	if err != nil {
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		metrics.OracleRequestsTotal.WithLabelValues(status).Inc()
		o.logger.Warn("oracle call failed", slog.String("error", err.Error()))
		return Answer{}, fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
	}

	answer := ParseOracleResponse(text)
	if !answer.Parsed {
		metrics.OracleRequestsTotal.WithLabelValues("unparsed").Inc()
		o.logger.Debug("oracle reply had no JSON", slog.Int("length", len(text)))
	} else {
		metrics.OracleRequestsTotal.WithLabelValues("ok").Inc()
	}
	return answer, nil
}

// resolve maps ids to index items in the oracle's order, dropping unknown
// and repeated ids.
func resolve(items []domain.Item, ids []string) []domain.Item {
	byID := make(map[string]int, len(items))
	for i, it := range items {
		byID[it.ID] = i
	}
	out := make([]domain.Item, 0, min(len(ids), MaxResults))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if len(out) == MaxResults {
			break
		}
		pos, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, items[pos])
	}
	return out
}

func trimLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
