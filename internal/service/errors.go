package service

import "errors"

var (
	// ErrEmptyQuery is returned when a recommendation query is blank.
	ErrEmptyQuery = errors.New("query must not be empty")

	// ErrIndexEmpty means the vector index has nothing to retrieve; run the pipeline first.
	ErrIndexEmpty = errors.New("vector index is empty")

	// ErrUpstream wraps failures of the embedding provider, the language model or the auth provider.
	ErrUpstream = errors.New("upstream service failed")

	// ErrNoRecords is returned by the transform step when the snapshot is empty.
	ErrNoRecords = errors.New("no records to transform")

	// ErrAccountNotFound means the caller has no users row.
	ErrAccountNotFound = errors.New("account not found")
)
