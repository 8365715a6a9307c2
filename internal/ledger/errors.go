package ledger

import "errors"

// Sentinel errors for this package; callers match with errors.Is.
var (
	ErrUnknownRater      = errors.New("unknown rater")
	ErrTooMuchContention = errors.New("too much contention on user record")
)
