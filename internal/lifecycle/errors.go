package lifecycle

import "errors"

// Sentinel errors for this package; callers match with errors.Is.
var (
	// ErrStaleVideo means the video changed under the caller between the
	// read that produced a decision and the attempt to apply it. The
	// caller should re-read and re-evaluate.
	ErrStaleVideo = errors.New("stale video state")

	// ErrUnknownVideo means no index record exists for the title.
	ErrUnknownVideo = errors.New("unknown video")

	// ErrNotDecisive means the decision carries no bucket move.
	ErrNotDecisive = errors.New("decision is not decisive")
)
