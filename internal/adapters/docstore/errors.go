package docstore

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound         = errors.New("document not found")
	ErrRevisionMismatch = errors.New("document revision mismatch")
	ErrInvalidLimit     = errors.New("invalid list limit")
	ErrUnavailable      = errors.New("store unavailable")
)
