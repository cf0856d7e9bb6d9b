package domain

import "errors"

// Common domain errors used across the engine.
var (
	// ErrInvalidRuleValue is returned when an assignment rule carries a
	// malformed value (non-numeric where a number is expected, wrong type,
	// out-of-range threshold). Rule payloads are validated at task
	// create/update time so malformed values never reach evaluation.
	ErrInvalidRuleValue = errors.New("invalid rule value")

	// ErrUnknownRuleKey is returned when a rules mapping contains a key the
	// engine does not recognize. Unknown keys are rejected at write time
	// rather than silently skipped.
	ErrUnknownRuleKey = errors.New("unknown rule key")

	// ErrInvalidID is returned when an identifier is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")
)
