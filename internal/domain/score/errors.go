package score

import "errors"

// Sentinel kinds for extraction errors.
var (
	ErrMalformedRating = errors.New("malformed rating")
)
