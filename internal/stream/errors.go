package stream

import "errors"

var (
	ErrInvalidConfig   = errors.New("invalid streamer config")
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrDuplicateEntity = errors.New("entity already registered")
	ErrNotPinned       = errors.New("entity not pinned")
	// ErrCapacityExceeded is returned when an operation would push the number
	// of materialized entities past MaxVisible.
	ErrCapacityExceeded = errors.New("streamer capacity exceeded")
	ErrCycleInProgress  = errors.New("stream cycle already in progress")

	// Returned by Kind implementations.
	ErrEngineCapacityExceeded = errors.New("engine capacity exceeded")
	ErrUnknownHandle          = errors.New("unknown engine handle")
)
