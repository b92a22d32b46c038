package domain

import "errors"

var (
	// ErrNotFound is returned when a rule, group or record id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed configuration or requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstreamUnavailable is returned when the feature source cannot be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
