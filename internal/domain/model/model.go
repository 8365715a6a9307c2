// Package model contains domain documents shared between layers.
package model

import "time"

// Bucket names the collection a video document lives in. A video is in
// exactly one bucket at a time; the index record's Location field must
// always point at that bucket.
type Bucket string

const (
	BucketIncomplete Bucket = "incomplete-videos"
	BucketComplete   Bucket = "complete-videos"
	BucketFlagged    Bucket = "flagged-videos"
	BucketUnusable   Bucket = "unusable-videos"
	BucketTutorial   Bucket = "tutorial-videos"
)

// Valid reports whether b is one of the known buckets.
func (b Bucket) Valid() bool {
	switch b {
	case BucketIncomplete, BucketComplete, BucketFlagged, BucketUnusable, BucketTutorial:
		return true
	}
	return false
}

// Non-bucket collections in the document store.
const (
	CollectionVideos   = "videos"
	CollectionUsers    = "users"
	CollectionCounters = "counters"
	CollectionGrants   = "role-grants"
)

// Mark is a single per-frame annotation: either a bubble coordinate, or a
// reserved coordinate pair carrying a categorical judgment (Frame == -1) or
// an intentionally-empty frame ((-2,-2) mid-sequence).
type Mark struct {
	Frame int     `json:"frame"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// Rating is one rater's raw submission for one video.
type Rating struct {
	Marks        []Mark    `json:"marks"`
	SubmittedAt  time.Time `json:"submitted_at"`
	SubmissionID string    `json:"submission_id"`
}

// Video is the detailed record stored in a bucket collection.
type Video struct {
	Title   string            `json:"title"`
	Status  Bucket            `json:"status"`
	FPS     float64           `json:"fps"`
	URL     string            `json:"url"`
	Added   time.Time         `json:"added"`
	AddedBy string            `json:"added_by"`
	Raters  []string          `json:"raters"`
	Ratings map[string]Rating `json:"ratings"`
}

// HasRater reports whether uid is in the video's rater set.
func (v *Video) HasRater(uid string) bool {
	for _, r := range v.Raters {
		if r == uid {
			return true
		}
	}
	return false
}

// VideoIndex is the canonical record in the videos collection pointing at
// the bucket the detailed record currently lives in.
type VideoIndex struct {
	Title    string    `json:"title"`
	Added    time.Time `json:"added"`
	AddedBy  string    `json:"added_by"`
	Location Bucket    `json:"location"`
	URL      string    `json:"url"`
}

// TutorialVideo is a training video with a known-good score distribution
// authored by whoever created the tutorial content.
type TutorialVideo struct {
	Title   string    `json:"title"`
	FPS     float64   `json:"fps"`
	URL     string    `json:"url"`
	Average float64   `json:"average"`
	Stdev   float64   `json:"stdev"`
	Added   time.Time `json:"added"`
	AddedBy string    `json:"added_by"`
}

// Role is a user's permission tier.
type Role string

const (
	RoleRater     Role = "rater"
	RoleAssistant Role = "assistant"
	RoleAdmin     Role = "admin"
	RoleOwner     Role = "owner"
	RoleBanned    Role = "banned"
)

// RejectedRating records one consensus rejection in a rater's history.
type RejectedRating struct {
	Video       string    `json:"video"`
	Score       float64   `json:"score"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// TutorialRating records one tutorial submission and whether it fell inside
// the tutorial video's acceptance band.
type TutorialRating struct {
	Video string  `json:"video"`
	Score float64 `json:"score"`
	Valid bool    `json:"valid"`
}

// User is a rater record. Counters are mutated by every consensus outcome
// the rater participates in and by the tutorial gate.
type User struct {
	UID               string           `json:"uid"`
	Role              Role             `json:"role"`
	UserScore         int64            `json:"user_score"`
	Accepted          int              `json:"accepted"`
	Outliers          int              `json:"outliers"`
	VideosRated       []string         `json:"videos_rated"`
	RejectedRatings   []RejectedRating `json:"rejected_ratings"`
	TutorialRatings   []TutorialRating `json:"tutorial_ratings"`
	CompletedTutorial bool             `json:"completed_tutorial"`
	Banned            bool             `json:"banned"`
}

// HasRated reports whether the user has already rated the given video title.
func (u *User) HasRated(title string) bool {
	for _, t := range u.VideosRated {
		if t == title {
			return true
		}
	}
	return false
}

// ValidTutorialCount returns how many tutorial submissions fell in-band.
func (u *User) ValidTutorialCount() int {
	n := 0
	for _, tr := range u.TutorialRatings {
		if tr.Valid {
			n++
		}
	}
	return n
}

// RoleGrant records who granted a privileged role and when.
type RoleGrant struct {
	UID       string    `json:"uid"`
	Role      Role      `json:"role"`
	Granted   time.Time `json:"granted"`
	GrantedBy string    `json:"granted_by"`
}
