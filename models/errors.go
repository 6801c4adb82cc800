package models

import "errors"

// Error taxonomy for the report lifecycle core. Handlers map these to
// HTTP status codes; everything else is treated as an internal error.
var (
	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrForbidden means the actor's role is not allowed to take the
	// requested edge.
	ErrForbidden = errors.New("actor not permitted for this transition")

	// ErrInvalidTransition means the (current, target) pair is not an
	// edge of the report's status graph.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConflict means an optimistic-concurrency write lost the race.
	// The caller must re-read current state before retrying.
	ErrConflict = errors.New("version conflict, re-read and retry")

	// ErrNoAgentAvailable means dispatch found no active pickup agent.
	// The report stays in its pre-actionable status; retry later.
	ErrNoAgentAvailable = errors.New("no active pickup agent available")

	// ErrDownstreamUnavailable marks a failed collaborator call
	// (notifications, image storage). It is logged locally and never
	// rolls back a committed transition.
	ErrDownstreamUnavailable = errors.New("downstream collaborator unavailable")
)
