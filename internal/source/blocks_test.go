package source

import (
	"context"
	"errors"
	"testing"
)

type blockMap struct {
	blocks map[string][]RawBlock
	errs   map[string]error
	calls  []string
}

func (m *blockMap) ListBlocks(_ context.Context, id string) ([]RawBlock, error) {
	m.calls = append(m.calls, id)
	if err := m.errs[id]; err != nil {
		return nil, err
	}
	return m.blocks[id], nil
}

func nestedBlocks() *blockMap {
	return &blockMap{blocks: map[string][]RawBlock{
		"page": {
			{ID: "t1", Type: "toggle", HasChildren: true},
			{ID: "p1", Type: "paragraph"},
		},
		"t1": {{ID: "t2", Type: "toggle", HasChildren: true}},
		"t2": {{ID: "t3", Type: "toggle", HasChildren: true}},
		"t3": {{ID: "deep", Type: "paragraph"}},
	}}
}

func TestListBlockTreeFillsChildrenDepthFirst(t *testing.T) {
	lister := nestedBlocks()

	blocks, err := ListBlockTree(context.Background(), lister, "page", MaxBlockDepth)
	if err != nil {
		t.Fatalf("ListBlockTree: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 top-level blocks, got %d", len(blocks))
	}
	level2 := blocks[0].Children
	if len(level2) != 1 || level2[0].ID != "t2" {
		t.Fatalf("unexpected second level: %+v", level2)
	}
	level3 := level2[0].Children
	if len(level3) != 1 || level3[0].ID != "t3" {
		t.Fatalf("unexpected third level: %+v", level3)
	}
	if level3[0].Children != nil {
		t.Fatalf("expected fetch to stop at depth %d, got %+v", MaxBlockDepth, level3[0].Children)
	}
	want := []string{"page", "t1", "t2"}
	if len(lister.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, lister.calls)
	}
	for i := range want {
		if lister.calls[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, lister.calls)
		}
	}
}

func TestListBlockTreePropagatesChildErrors(t *testing.T) {
	lister := nestedBlocks()
	boom := errors.New("boom")
	lister.errs = map[string]error{"t2": boom}

	_, err := ListBlockTree(context.Background(), lister, "page", MaxBlockDepth)
	if !errors.Is(err, boom) {
		t.Fatalf("expected child error, got %v", err)
	}
}
