package service

import "errors"

// Sentinel errors for the service surface; the HTTP layer maps these to
// status codes and callers match with errors.Is.
var (
	// ErrNotQualified means the subject may not submit production ratings.
	ErrNotQualified = errors.New("rater is not qualified")

	// ErrPermissionDenied means the subject lacks the role an operation
	// requires.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUnknownVideo means no index record exists for the title.
	ErrUnknownVideo = errors.New("unknown video")

	// ErrVideoNotRateable means the video is not collecting ratings.
	ErrVideoNotRateable = errors.New("video is not accepting ratings")

	// ErrDuplicateSubmission means the rater already rated this video and
	// the rating can no longer be replaced.
	ErrDuplicateSubmission = errors.New("duplicate submission")

	// ErrVideoExists means a video with this title is already registered.
	ErrVideoExists = errors.New("video already exists")

	// ErrUserExists means a user record with this uid already exists.
	ErrUserExists = errors.New("user already exists")

	// ErrNotFlagged means a manual re-evaluation was requested for a video
	// that is not in the flagged bucket.
	ErrNotFlagged = errors.New("video is not flagged")

	// ErrNoVideoAvailable means the review feed found nothing the rater
	// can work on right now.
	ErrNoVideoAvailable = errors.New("no video available for review")

	// ErrInvalidRole means a role grant named a role that cannot be
	// granted.
	ErrInvalidRole = errors.New("invalid role")

	// ErrBackpressure means the evaluation queue is full.
	ErrBackpressure = errors.New("evaluation queue is full")

	// ErrTooMuchContention means a bounded CAS retry loop gave up.
	ErrTooMuchContention = errors.New("too much contention")
)
