package source

import (
	"context"
	"errors"
	"fmt"
)

// SortSpec orders a collection query by a property.
type SortSpec struct {
	Property  string `json:"property" yaml:"property"`
	Direction string `json:"direction" yaml:"direction"`
}

type QueryOptions struct {
	Sorts []SortSpec
}

// Store is the content store holding every collection.
type Store interface {
	QueryAll(ctx context.Context, collectionID string, opts QueryOptions) ([]Record, error)
	RetrieveRecord(ctx context.Context, recordID string) (Record, error)
	ListBlocks(ctx context.Context, blockID string) ([]RawBlock, error)
}

// ErrRateLimited marks a store response that asked the caller to slow down.
var ErrRateLimited = errors.New("content store rate limited")

// StatusError is a non-success response from the content store.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == 429
}

// IsRateLimited reports whether err carries a rate-limit signal.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
