package rules

import "errors"

var (
	// ErrNoResponses is returned when a rule document has no responses.
	ErrNoResponses = errors.New("rule has no responses")

	// ErrBadDocument is returned when a rule file cannot be parsed.
	ErrBadDocument = errors.New("invalid rule document")
)
