// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/processor layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotRetryable indicates a retry was requested for an event that is not in failed state.
	ErrNotRetryable = errors.New("event is not in failed state")

	// ErrUnsupportedEvent indicates no sync recipe exists for the (resource_type, event_type) pair.
	ErrUnsupportedEvent = errors.New("unsupported event")

	// ErrInvalidSyncData indicates sync_data lacks fields the event type requires.
	ErrInvalidSyncData = errors.New("invalid sync data")

	// ErrUnknownRole indicates a role name outside the closed role set.
	ErrUnknownRole = errors.New("unknown role")

	// ErrMissingScope indicates a permission check with neither resource nor organization id.
	ErrMissingScope = errors.New("missing resource or organization id")

	// ErrUnknownResourceType indicates the object type of a permission could not be resolved.
	ErrUnknownResourceType = errors.New("unknown resource type")
)
