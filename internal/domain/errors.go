package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuery      = errors.New("invalid query")
	ErrQueryRequired     = fmt.Errorf("%w: query is required", ErrInvalidQuery)
	ErrQueryTooLong      = fmt.Errorf("%w: query is too long", ErrInvalidQuery)
	ErrSourceUnavailable = errors.New("content source unavailable")
	ErrOracleUnavailable = errors.New("semantic oracle unavailable")
	ErrNotFound          = errors.New("not found")
	ErrUnknownSection    = fmt.Errorf("%w: unknown section", ErrNotFound)
	ErrUnauthorized      = errors.New("unauthorized")
)

// MappingError reports a record that could not be normalized.
type MappingError struct {
	RecordID string
	Field    string
	Reason   string
}

func (e *MappingError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("map record %s: %s", e.RecordID, e.Reason)
	}
	return fmt.Sprintf("map record %s: field %q: %s", e.RecordID, e.Field, e.Reason)
}
