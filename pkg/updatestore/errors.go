package updatestore

import "errors"

var (
	// ErrAlreadyProcessed is returned by TryInsert when update_id has already
	// been recorded. Callers treat this as "skip, do not re-enqueue" rather
	// than an error condition.
	ErrAlreadyProcessed = errors.New("update already recorded")

	// ErrNotFound is returned when an update_id has no recorded row.
	ErrNotFound = errors.New("update not found")
)
