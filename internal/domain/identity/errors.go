package identity

import "errors"

// ErrUnknownSubject means the subject has no user record.
var ErrUnknownSubject = errors.New("unknown subject")
