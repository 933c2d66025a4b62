package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration   = errors.New("configuration error")
	ErrResolutionMiss  = errors.New("no geocoding candidate")
	ErrFetchFailure    = errors.New("fetch failure")
	ErrMalformedRecord = errors.New("malformed record")
	ErrPersistence     = errors.New("persistence failure")
	ErrRunInProgress   = errors.New("pipeline run already in progress")
)

// RecordError describes a single row rejected during load. It matches
// ErrMalformedRecord under errors.Is.
type RecordError struct {
	Table  string
	Key    string
	Reason string
	Err    error
}

func (e *RecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s row %q: %s: %v", e.Table, e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s row %q: %s", e.Table, e.Key, e.Reason)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func (e *RecordError) Is(target error) bool {
	return target == ErrMalformedRecord
}

// Fetch wraps err as a fetch failure for the given item.
func Fetch(item string, err error) error {
	return fmt.Errorf("%w for %s: %w", ErrFetchFailure, item, err)
}

// Persistence wraps err as a persistence failure for the given table.
func Persistence(table string, err error) error {
	return fmt.Errorf("%w on table %s: %w", ErrPersistence, table, err)
}
