package domain

import "errors"

// Failure classes surfaced across the ingestion and query paths. Callers
// match with errors.Is; layers add detail with fmt.Errorf("...: %w", err).
var (
	// ErrInvalidInput covers malformed chunking parameters and empty documents.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDimensionMismatch is returned when a vector's width does not match
	// the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrIndexUnavailable reports a vector index storage failure. Committed
	// entries are never left partially modified.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrEmbeddingUnavailable reports that the embedding capability could
	// not be reached. Retryable by the caller.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrRateLimited reports embedding capability throttling. Retryable by
	// the caller.
	ErrRateLimited = errors.New("embedding service rate limited")

	// ErrAlreadyInProgress rejects a second ingestion run for a document
	// that already has one active.
	ErrAlreadyInProgress = errors.New("ingestion already in progress")

	ErrNotFound = errors.New("not found")
)
