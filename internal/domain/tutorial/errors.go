package tutorial

import "errors"

// Sentinel errors for this package; callers match with errors.Is.
var (
	ErrDuplicateSubmission = errors.New("duplicate tutorial submission")
	ErrUnknownTutorial     = errors.New("unknown tutorial video")
	ErrUnknownTrainee      = errors.New("unknown trainee")
	ErrTooMuchContention   = errors.New("too much contention on trainee record")
)
