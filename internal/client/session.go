package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"figmapedia/kbservice/internal/domain"
	"figmapedia/kbservice/internal/lexical"
)

// ErrSuperseded is returned to a query that a newer query replaced.
var ErrSuperseded = errors.New("query superseded")

const fallbackNotice = "AI 검색에 실패했습니다."

// Searcher runs a semantic search.
type Searcher interface {
	AISearch(ctx context.Context, query string) (domain.AISearchResponse, error)
}

// Result is what a session shows for one query.
type Result struct {
	Query   string
	Items   []domain.Item
	Summary string
	IsAI    bool
	// Fallback is set when the semantic search failed and Items holds
	// lexical matches instead. Notice explains why.
	Fallback bool
	Notice   string
}

// Session keeps a corpus in memory for instant filtering and runs semantic
// searches so that only the most recent query commits its result.
type Session struct {
	engine   *lexical.Engine
	searcher Searcher

	gen atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	last   Result
}

func NewSession(items []domain.Item, searcher Searcher) (*Session, error) {
	engine, err := lexical.NewEngine(items)
	if err != nil {
		return nil, err
	}
	return &Session{engine: engine, searcher: searcher}, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	return s.engine.Close()
}

// Instant filters the corpus with the tight lexical profile.
func (s *Session) Instant(ctx context.Context, query string) ([]domain.Item, error) {
	return s.engine.Items(ctx, query, lexical.Instant)
}

// Ask runs a semantic search, cancelling any query still in flight. A query
// that was replaced before it finished returns ErrSuperseded and commits
// nothing. A failed semantic search degrades to lexical results; a query the
// service rejected as invalid is returned as an error instead.
func (s *Session) Ask(ctx context.Context, query string) (Result, error) {
	gen := s.gen.Add(1)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	resp, err := s.searcher.AISearch(ctx, query)
	if s.gen.Load() != gen {
		return Result{}, ErrSuperseded
	}

	var result Result
	switch {
	case err == nil:
		result = Result{Query: resp.Query, Items: resp.Results, Summary: resp.Summary, IsAI: resp.IsAIResult}
	case ctx.Err() != nil:
		return Result{}, ctx.Err()
	case isValidationError(err):
		s.clearCancel(gen)
		return Result{}, err
	default:
		items, lexErr := s.Instant(ctx, query)
		if lexErr != nil {
			return Result{}, errors.Join(err, lexErr)
		}
		notice := fallbackNotice
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			notice = apiErr.Message
		}
		result = Result{Query: query, Items: items, Fallback: true, Notice: notice}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen.Load() != gen {
		return Result{}, ErrSuperseded
	}
	s.last = result
	s.cancel = nil
	return result, nil
}

func (s *Session) clearCancel(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen.Load() == gen {
		s.cancel = nil
	}
}

func isValidationError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest
}

// Last returns the most recently committed result.
func (s *Session) Last() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
