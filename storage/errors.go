package storage

import "errors"

var (
	// ErrInvalidID is returned when an identifier is not in the backend's format.
	ErrInvalidID = errors.New("invalid task id")
	// ErrNotFound is returned when a backend lookup matched no task.
	ErrNotFound = errors.New("task not found")
	// ErrRetriesExhausted is returned by Connection.Establish when the retry
	// policy gives up before the storage became reachable.
	ErrRetriesExhausted = errors.New("storage connection retries exhausted")
)
