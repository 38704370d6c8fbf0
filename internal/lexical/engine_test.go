package lexical

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"

	"figmapedia/kbservice/internal/domain"
)

func ids(items []domain.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func newTestEngine(t *testing.T, items []domain.Item) *Engine {
	t.Helper()
	e, err := NewEngine(items)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func koreanCorpus() []domain.Item {
	return []domain.Item{
		{ID: "1", Title: "오토 레이아웃 기초", Categories: []string{"레이아웃"}, Author: "민지"},
		{ID: "2", Title: "컴포넌트 만들기", Categories: []string{"컴포넌트"}, Author: "준호"},
	}
}

func TestInstantPrefixMatchKorean(t *testing.T) {
	e := newTestEngine(t, koreanCorpus())

	got, err := e.Items(context.Background(), "오토", Instant)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(got))
}

func TestInstantMatchesCategoryAndAuthor(t *testing.T) {
	e := newTestEngine(t, koreanCorpus())

	got, err := e.Items(context.Background(), "컴포넌트", Instant)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(got))

	got, err = e.Items(context.Background(), "민지", Instant)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(got))
}

func TestInstantRequiresAllTerms(t *testing.T) {
	e := newTestEngine(t, koreanCorpus())

	got, err := e.Items(context.Background(), "오토 컴포넌트", Instant)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInfixMatchesCompoundWord(t *testing.T) {
	e := newTestEngine(t, []domain.Item{
		{ID: "a", Title: "오토레이아웃 팁", Categories: []string{}},
	})

	got, err := e.Items(context.Background(), "레이아웃", Instant)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))
}

func TestTitleOutranksAuthor(t *testing.T) {
	e := newTestEngine(t, []domain.Item{
		{ID: "by-author", Title: "다른 글", Author: "figma"},
		{ID: "by-title", Title: "figma 단축키"},
	})

	got, err := e.Items(context.Background(), "figma", Instant)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "by-title", got[0].ID)
}

func TestNormalizationMatchesDecomposedInput(t *testing.T) {
	e := newTestEngine(t, koreanCorpus())

	decomposed := norm.NFD.String("오토")
	require.NotEqual(t, "오토", decomposed)

	got, err := e.Items(context.Background(), decomposed, Instant)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(got))
}

func TestPrefilterToleratesTypos(t *testing.T) {
	e := newTestEngine(t, []domain.Item{
		{ID: "1", Title: "component variants"},
		{ID: "2", Title: "prototype"},
	})

	got, err := e.Items(context.Background(), "componnet", Prefilter)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids(got))

	got, err = e.Items(context.Background(), "componnet", Instant)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchRespectsLimit(t *testing.T) {
	items := make([]domain.Item, 0, 60)
	for i := 0; i < 60; i++ {
		items = append(items, domain.Item{ID: fmt.Sprint(i), Title: fmt.Sprintf("figma tip %d", i)})
	}
	e := newTestEngine(t, items)

	got, err := e.Items(context.Background(), "figma", Prefilter)
	require.NoError(t, err)
	assert.Len(t, got, Prefilter.Limit)
	assert.Equal(t, "0", got[0].ID, "ties keep index order")
}

func TestEmptyQueryHasNoHits(t *testing.T) {
	e := newTestEngine(t, koreanCorpus())

	got, err := e.Items(context.Background(), "   ", Instant)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMinScoreDropsWeakHits(t *testing.T) {
	e := newTestEngine(t, koreanCorpus())

	hits, err := e.Search(context.Background(), "오토", Instant)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, Instant.MinScore)
	}

	strict := Instant
	strict.MinScore = hits[0].Score + 1
	hits, err = e.Search(context.Background(), "오토", strict)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
