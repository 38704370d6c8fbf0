package source

import (
	"context"
	"fmt"
)

// MaxBlockDepth is the number of block levels fetched below a record,
// counting the record's own body as the first.
const MaxBlockDepth = 3

// BlockLister reads the direct children of a block or record.
type BlockLister interface {
	ListBlocks(ctx context.Context, blockID string) ([]RawBlock, error)
}

// ListBlockTree lists the body of id and fills Children, depth first, for
// every block that declares children, down to maxDepth levels. Requests run
// one at a time so they stay within the store's rate limit.
func ListBlockTree(ctx context.Context, lister BlockLister, id string, maxDepth int) ([]RawBlock, error) {
	if maxDepth <= 0 {
		maxDepth = MaxBlockDepth
	}
	return listBlockLevel(ctx, lister, id, 1, maxDepth)
}

func listBlockLevel(ctx context.Context, lister BlockLister, id string, depth, maxDepth int) ([]RawBlock, error) {
	blocks, err := lister.ListBlocks(ctx, id)
	if err != nil {
		return nil, err
	}
	if depth >= maxDepth {
		return blocks, nil
	}
	for i := range blocks {
		if !blocks[i].HasChildren || blocks[i].ID == "" {
			continue
		}
		children, err := listBlockLevel(ctx, lister, blocks[i].ID, depth+1, maxDepth)
		if err != nil {
			return nil, fmt.Errorf("children of block %s: %w", blocks[i].ID, err)
		}
		blocks[i].Children = children
	}
	return blocks, nil
}
