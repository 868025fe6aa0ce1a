package dispatch

import "errors"

var (
	// ErrInvalidArgument is returned for coordinates or distances outside their valid domain.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotConfigured is returned when a price is requested but no pricing record exists.
	ErrNotConfigured = errors.New("emergency pricing not configured")
)
