package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"figmapedia/kbservice/internal/client"
	"figmapedia/kbservice/internal/domain"
)

type recordingSearcher struct {
	mu      sync.Mutex
	queries []string
}

func (s *recordingSearcher) AISearch(_ context.Context, query string) (domain.AISearchResponse, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	return domain.AISearchResponse{
		Query:      query,
		IsAIResult: true,
		Summary:    "컴포넌트 관련 항목입니다.",
		Results:    []domain.Item{{ID: "2", Title: "컴포넌트 만들기"}},
	}, nil
}

func testItems() []domain.Item {
	return []domain.Item{
		{ID: "1", Title: "오토 레이아웃 기초", Categories: []string{"레이아웃"}, Section: "uxui-terms"},
		{ID: "2", Title: "컴포넌트 만들기", Categories: []string{"컴포넌트"}},
	}
}

func TestRunLiveAsksOnlyForLastLine(t *testing.T) {
	plain = true
	t.Cleanup(func() { plain = false })

	searcher := &recordingSearcher{}
	session, err := client.NewSession(testItems(), searcher)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer session.Close()

	var out bytes.Buffer
	in := strings.NewReader("오토\n\n컴포넌트\n")
	if err := runLive(context.Background(), in, &out, session, time.Hour); err != nil {
		t.Fatalf("runLive: %v", err)
	}

	if len(searcher.queries) != 1 || searcher.queries[0] != "컴포넌트" {
		t.Fatalf("expected a single semantic search for the last line, got %v", searcher.queries)
	}
	got := out.String()
	for _, want := range []string{"» 오토", "오토 레이아웃 기초", "» 컴포넌트", "AI 검색 결과: 컴포넌트", "컴포넌트 관련 항목입니다."} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRenderItemsEmptyAndMeta(t *testing.T) {
	var out bytes.Buffer
	renderItems(&out, plainStyles(), nil)
	if strings.TrimSpace(out.String()) != "(no results)" {
		t.Fatalf("unexpected empty render: %q", out.String())
	}

	link := "https://example.com"
	meta := itemMeta(domain.Item{Section: "plugins", Categories: []string{"a", "b"}, Author: "kim", Link: &link})
	if meta != "plugins · a, b · kim · https://example.com" {
		t.Fatalf("unexpected meta: %q", meta)
	}
}

func TestRenderSourcesStatus(t *testing.T) {
	var out bytes.Buffer
	renderSources(&out, plainStyles(), []domain.SourceDiagnostics{
		{Name: "primary", Available: true},
		{Name: "prompt", Available: true, FailureCount: 1, LastError: "timeout"},
		{Name: "kiosk", Available: false, FailureCount: 3},
	})
	got := out.String()
	for _, want := range []string{"ok", "degraded", "blocked", "timeout"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestLimit(t *testing.T) {
	items := testItems()
	if got := limit(items, 1); len(got) != 1 {
		t.Fatalf("expected 1 item, got %d", len(got))
	}
	if got := limit(items, 0); len(got) != 2 {
		t.Fatalf("expected all items, got %d", len(got))
	}
}
