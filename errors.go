package sitefeed

import "errors"

var (
	// ErrNotFound is returned when a jobsite or stream does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write collides with an existing row,
	// such as projecting a Created event for an id that already exists or
	// taking a jobsite name that is already in use.
	ErrConflict = errors.New("conflict")

	// ErrConcurrencyConflict is returned when an optimistic stream version
	// check fails on append.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrStreamExists is returned when appending to an already-existing
	// stream with expectedVersion 0.
	ErrStreamExists = errors.New("stream already exists")
)
