// ABOUTME: Error taxonomy for store adapters
// ABOUTME: Sentinel errors callers can match with errors.Is
package store

import "errors"

var (
	// ErrNotFound is returned by GetByID when the record is absent
	ErrNotFound = errors.New("record not found")

	// ErrPrimaryUnavailable means the primary store stayed unreachable
	// after the bounded consistency retry ladder. Caller-visible.
	ErrPrimaryUnavailable = errors.New("primary store unavailable")

	// ErrReadsDisabled is returned by secondary read methods while the
	// migration serves all reads from the primary.
	ErrReadsDisabled = errors.New("secondary reads disabled")
)
