// Package score reduces a rater's raw per-frame annotation into a single
// value: either a numeric bubbles-per-frame density or a categorical
// sentinel. Everything downstream consumes the tagged Score and never
// re-inspects raw marks.
package score

import "github.com/frothlab/froth/internal/domain/model"

// sentinelFrame marks a single-mark rating as categorical rather than a
// density score.
const sentinelFrame = -1

// Sentinel is a categorical judgment encoded as a negative integer so it can
// share a numeric comparison path with real scores, which are always >= 0.
type Sentinel int

const (
	SentinelNone       Sentinel = 0
	SentinelWashOut    Sentinel = -1
	SentinelNoBubbles  Sentinel = -2
	SentinelBadQuality Sentinel = -3
)

// String returns the category name for logging.
func (s Sentinel) String() string {
	switch s {
	case SentinelWashOut:
		return "wash-out"
	case SentinelNoBubbles:
		return "no-bubbles"
	case SentinelBadQuality:
		return "bad-quality"
	default:
		return "none"
	}
}

// Score is the tagged result of extracting one rating. Exactly one of the
// two variants is meaningful: Sentinel when IsSentinel reports true,
// Density otherwise.
type Score struct {
	Density  float64  `json:"density"`
	Sentinel Sentinel `json:"sentinel"`
}

// IsSentinel reports whether the score is a categorical judgment.
func (s Score) IsSentinel() bool { return s.Sentinel != SentinelNone }

// Value collapses the score onto the shared numeric axis: sentinels map to
// their negative integer, densities pass through.
func (s Score) Value() float64 {
	if s.IsSentinel() {
		return float64(s.Sentinel)
	}
	return s.Density
}

// Extract converts a raw mark list into a Score.
//
// A rating consisting of exactly one mark with the reserved frame value is a
// categorical judgment: (-1,-1) wash-out, (-2,-2) no-bubbles, (-3,-3)
// bad-quality. Any other coordinate pair at the reserved frame falls through
// to the numeric path.
//
// The numeric path computes (marks - empties) / frames where frames is the
// count of distinct frame indices and empties is the count of mid-sequence
// (-2,-2) marks flagging a frame as intentionally bubble-free.
func Extract(marks []model.Mark) (Score, error) {
	if len(marks) == 1 && marks[0].Frame == sentinelFrame {
		m := marks[0]
		switch {
		case m.X == -1 && m.Y == -1:
			return Score{Sentinel: SentinelWashOut}, nil
		case m.X == -2 && m.Y == -2:
			return Score{Sentinel: SentinelNoBubbles}, nil
		case m.X == -3 && m.Y == -3:
			return Score{Sentinel: SentinelBadQuality}, nil
		}
		// Unrecognized reserved pair: treated as a one-frame numeric rating.
	}

	empties := 0
	frames := make(map[int]struct{}, len(marks))
	for _, m := range marks {
		frames[m.Frame] = struct{}{}
		if m.X == -2 && m.Y == -2 {
			empties++
		}
	}
	if len(frames) == 0 {
		return Score{}, ErrMalformedRating
	}
	return Score{Density: float64(len(marks)-empties) / float64(len(frames))}, nil
}
