package lexical

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"golang.org/x/text/unicode/norm"

	"figmapedia/kbservice/internal/domain"
)

const analyzerName = "kb_text"

const (
	FieldTitle      = "title"
	FieldCategories = "categories"
	FieldAuthor     = "author"
	FieldSection    = "section"
)

// Profile tunes how loosely a query matches.
type Profile struct {
	// MaxFuzziness caps the edit distance; short terms get less.
	MaxFuzziness int
	// RequireAll makes every query term match somewhere in the item.
	RequireAll bool
	Limit      int
	// MinScore drops hits scoring below it. Zero keeps every hit.
	MinScore float64
	Boosts   map[string]float64
}

var (
	// Instant is the tight as-you-type profile.
	Instant = Profile{
		MaxFuzziness: 0,
		RequireAll:   true,
		Limit:        20,
		MinScore:     0.001,
		Boosts: map[string]float64{
			FieldTitle:      0.5,
			FieldCategories: 0.25,
			FieldAuthor:     0.25,
		},
	}
	// Prefilter is the loose profile that narrows candidates for the oracle.
	Prefilter = Profile{
		MaxFuzziness: 2,
		RequireAll:   false,
		Limit:        50,
		Boosts: map[string]float64{
			FieldTitle:      0.55,
			FieldCategories: 0.35,
			FieldAuthor:     0.1,
			FieldSection:    0.1,
		},
	}
)

type document struct {
	Title      string   `json:"title"`
	Categories []string `json:"categories"`
	Author     string   `json:"author"`
	Section    string   `json:"section"`
}

// Hit is one ranked match.
type Hit struct {
	Item  domain.Item
	Score float64
}

// Engine is an in-memory full-text index over a fixed set of items.
type Engine struct {
	index    bleve.Index
	analyzer analysis.Analyzer
	items    []domain.Item
}

func newIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(analyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("add analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = analyzerName
	return indexMapping, nil
}

// NewEngine indexes items. Items are addressed by position so duplicate
// IDs across sections stay distinct.
func NewEngine(items []domain.Item) (*Engine, error) {
	indexMapping, err := newIndexMapping()
	if err != nil {
		return nil, err
	}
	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}

	batch := idx.NewBatch()
	for i, item := range items {
		doc := document{
			Title:      Normalize(item.Title),
			Categories: make([]string, 0, len(item.Categories)),
			Author:     Normalize(item.Author),
			Section:    Normalize(item.Section),
		}
		for _, c := range item.Categories {
			doc.Categories = append(doc.Categories, Normalize(c))
		}
		if err := batch.Index(docID(i), doc); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("index item %s: %w", item.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("execute batch: %w", err)
	}

	analyzer := indexMapping.AnalyzerNamed(analyzerName)
	if analyzer == nil {
		_ = idx.Close()
		return nil, fmt.Errorf("analyzer %s not registered", analyzerName)
	}

	return &Engine{index: idx, analyzer: analyzer, items: items}, nil
}

func docID(i int) string {
	return fmt.Sprintf("%08d", i)
}

func (e *Engine) Len() int { return len(e.items) }

func (e *Engine) Close() error { return e.index.Close() }

// Search ranks items against q. An empty query yields no hits.
func (e *Engine) Search(ctx context.Context, q string, p Profile) ([]Hit, error) {
	terms := e.terms(q)
	if len(terms) == 0 || len(e.items) == 0 {
		return []Hit{}, nil
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	req := bleve.NewSearchRequestOptions(buildQuery(terms, p), limit, 0, false)
	req.SortBy([]string{"-_score", "_id"})

	res, err := e.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		if h.Score < p.MinScore {
			continue
		}
		pos, err := strconv.Atoi(h.ID)
		if err != nil || pos < 0 || pos >= len(e.items) {
			continue
		}
		hits = append(hits, Hit{Item: e.items[pos], Score: h.Score})
	}
	return hits, nil
}

// Items is Search without scores.
func (e *Engine) Items(ctx context.Context, q string, p Profile) ([]domain.Item, error) {
	hits, err := e.Search(ctx, q, p)
	if err != nil {
		return nil, err
	}
	items := make([]domain.Item, 0, len(hits))
	for _, h := range hits {
		items = append(items, h.Item)
	}
	return items, nil
}

func (e *Engine) terms(q string) []string {
	q = Normalize(q)
	if q == "" {
		return nil
	}
	stream := e.analyzer.Analyze([]byte(q))
	seen := make(map[string]struct{}, len(stream))
	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		term := string(tok.Term)
		if term == "" {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	return terms
}

func buildQuery(terms []string, p Profile) query.Query {
	perTerm := make([]query.Query, 0, len(terms))
	for _, term := range terms {
		perTerm = append(perTerm, termQuery(term, p))
	}
	if p.RequireAll {
		return bleve.NewConjunctionQuery(perTerm...)
	}
	return bleve.NewDisjunctionQuery(perTerm...)
}

// termQuery matches one analyzed term in any boosted field: as a prefix, as
// an infix for compound words, and within an edit distance for longer terms.
func termQuery(term string, p Profile) query.Query {
	fuzziness := fuzzinessFor(term, p.MaxFuzziness)
	infix := utf8.RuneCountInString(term) >= 2 && !strings.ContainsAny(term, "*?")

	clauses := make([]query.Query, 0, len(p.Boosts)*3)
	for field, boost := range p.Boosts {
		if boost <= 0 {
			continue
		}
		prefix := bleve.NewPrefixQuery(term)
		prefix.SetField(field)
		prefix.SetBoost(boost * 2)
		clauses = append(clauses, prefix)

		if infix {
			wildcard := bleve.NewWildcardQuery("*" + term + "*")
			wildcard.SetField(field)
			wildcard.SetBoost(boost)
			clauses = append(clauses, wildcard)
		}
		if fuzziness > 0 {
			fuzzy := bleve.NewFuzzyQuery(term)
			fuzzy.SetField(field)
			fuzzy.SetFuzziness(fuzziness)
			fuzzy.SetBoost(boost * 0.5)
			clauses = append(clauses, fuzzy)
		}
	}
	return bleve.NewDisjunctionQuery(clauses...)
}

func fuzzinessFor(term string, max int) int {
	n := utf8.RuneCountInString(term)
	var f int
	switch {
	case n <= 2:
		f = 0
	case n <= 5:
		f = 1
	default:
		f = 2
	}
	if f > max {
		return max
	}
	return f
}

// Normalize folds text into the form used for indexing and querying.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}
