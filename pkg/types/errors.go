package types

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy shared by every component. Callers classify with errors.Is.
var (
	// ErrInvalidQuery is bad caller input: empty query or non-positive limit
	ErrInvalidQuery = errors.New("invalid query")
	// ErrEmbedding means the embedder was unavailable or returned malformed output
	ErrEmbedding = errors.New("embedding failed")
	// ErrBuild means index construction failed; the serving generation stays active
	ErrBuild = errors.New("index build failed")
	// ErrUnsupportedOperation is returned by static indexes on incremental insert
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrTimeout is a retryable deadline expiry in the embedder or index search
	ErrTimeout = errors.New("operation timed out")
	// ErrDimensionMismatch is returned when a vector does not match the index dimension
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrNoIndex is returned when searching before any generation is installed
	ErrNoIndex = errors.New("no index available")
	// ErrRebuildInProgress is returned when a second rebuild is attempted concurrently
	ErrRebuildInProgress = errors.New("rebuild already in progress")
	// ErrIncompatibleSnapshot is returned when a persisted snapshot has an unknown format
	ErrIncompatibleSnapshot = errors.New("incompatible snapshot")
	// ErrDuplicateUnit is an insert of an id the index already holds. It is
	// caller input, so it also matches ErrInvalidQuery.
	ErrDuplicateUnit = fmt.Errorf("%w: unit id already indexed", ErrInvalidQuery)
)

// Validation errors for result types
var (
	ErrInvalidUnitID = errors.New("invalid unit ID")
	ErrInvalidRank   = errors.New("rank must be >= 1")
	ErrInvalidScore  = errors.New("score must be between 0 and 1")
)

// Error kinds reported by ErrorKind
const (
	KindInvalidQuery = "invalid_query"
	KindEmbedding    = "embedding"
	KindBuild        = "build"
	KindUnsupported  = "unsupported_operation"
	KindTimeout      = "timeout"
	KindNoIndex      = "no_index"
	KindInternal     = "internal"
)

// ErrorKind maps an error onto its taxonomy name. It returns "" for nil.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidQuery):
		return KindInvalidQuery
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrEmbedding):
		return KindEmbedding
	case errors.Is(err, ErrBuild):
		return KindBuild
	case errors.Is(err, ErrUnsupportedOperation):
		return KindUnsupported
	case errors.Is(err, ErrNoIndex):
		return KindNoIndex
	default:
		return KindInternal
	}
}

// IsRetryable reports whether a failed request may succeed if simply retried
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
