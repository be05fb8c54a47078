package store

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrSagaNotFound     = errors.New("saga not found")
	ErrStepNotFound     = errors.New("saga step not found")
)

// ConcurrencyConflictError reports an expected-version mismatch on append.
// It is always retryable by the caller after reloading the stream.
type ConcurrencyConflictError struct {
	StreamID        string
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on stream %s: expected version %d, current version is %d",
		e.StreamID, e.ExpectedVersion, e.ActualVersion)
}

// IsConcurrencyConflict reports whether err is (or wraps) a version conflict.
func IsConcurrencyConflict(err error) bool {
	var conflict *ConcurrencyConflictError
	return errors.As(err, &conflict)
}
