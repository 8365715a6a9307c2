// Package consensus decides, from the accumulated scores of independent
// raters, whether a video's label can be trusted. Evaluate is a pure
// function over the video's current rater set; callers apply the Decision.
package consensus

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/frothlab/froth/internal/domain/model"
	"github.com/frothlab/froth/internal/domain/score"
)

// bandTolerance absorbs floating-point rounding at the acceptance band's
// inclusive edges.
const bandTolerance = 1e-9

// Agreement constants.
const (
	// RequiredAgreement is the minimum number of raters that must agree
	// before a disposition is finalized.
	RequiredAgreement = 3
	// MaxRaters is the number of attempts before the video is forced to
	// manual review.
	MaxRaters = 5
	// DeviationMultiplier is the acceptance-band half-width in population
	// standard deviations.
	DeviationMultiplier = 3
)

// Outcome is the disposition of one evaluation.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeComplete
	OutcomeUnusable
	OutcomeFlagged
)

// String returns the outcome name for logging and metrics labels.
func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeComplete:
		return "complete"
	case OutcomeUnusable:
		return "unusable"
	case OutcomeFlagged:
		return "flagged"
	default:
		return "unknown"
	}
}

// Final reports whether the outcome carries reputational consequences.
// Pending and flagged dispositions must not touch rater records.
func (o Outcome) Final() bool {
	return o == OutcomeComplete || o == OutcomeUnusable
}

// Bucket maps a decisive outcome to its destination bucket.
func (o Outcome) Bucket() model.Bucket {
	switch o {
	case OutcomeComplete:
		return model.BucketComplete
	case OutcomeUnusable:
		return model.BucketUnusable
	case OutcomeFlagged:
		return model.BucketFlagged
	default:
		return ""
	}
}

// Decision is the output of one evaluation: the accepted/rejected partition
// of raters and the resulting disposition. It is ephemeral and re-derivable
// from the stored rater data at any time.
type Decision struct {
	Outcome  Outcome
	Accepted []string
	Rejected []string
	Scores   map[string]score.Score
}

// Evaluate partitions the video's raters into accepted and rejected and
// picks a disposition.
//
// Fewer than RequiredAgreement raters is always pending. With three or more
// numeric scores, each rater is judged against the band
// [max(0, mean-3σ), mean+3σ] of the OTHER raters' numeric scores
// (population σ). The rater's own score is held out: a band over all
// scores at once can never exclude a lone outlier, because with N raters
// no point sits more than (N-1)/sqrt(N) population deviations from a mean
// it participates in. Sentinel scores are negative and fall outside any
// non-negative band; they are only validated through the categorical pass:
// if the numeric pass did not reach quorum and at least three sentinels
// exist, a single category reaching quorum accepts exactly its voters, and
// a no-bubbles or bad-quality category additionally marks the video
// unusable. A video that cannot reach quorum after MaxRaters attempts is
// flagged for manual review.
func Evaluate(v *model.Video) (Decision, error) {
	d := Decision{
		Outcome: OutcomePending,
		Scores:  make(map[string]score.Score, len(v.Raters)),
	}
	if len(v.Raters) < RequiredAgreement {
		return d, nil
	}

	var numeric []float64
	numericIdx := make(map[string]int, len(v.Raters))
	sentinels := 0
	for _, uid := range v.Raters {
		rating, ok := v.Ratings[uid]
		if !ok {
			return Decision{}, fmt.Errorf("rater %s has no stored rating: %w", uid, score.ErrMalformedRating)
		}
		s, err := score.Extract(rating.Marks)
		if err != nil {
			return Decision{}, fmt.Errorf("rater %s: %w", uid, err)
		}
		d.Scores[uid] = s
		if s.IsSentinel() {
			sentinels++
			numericIdx[uid] = -1
		} else {
			numericIdx[uid] = len(numeric)
			numeric = append(numeric, s.Density)
		}
	}

	if len(numeric) >= RequiredAgreement {
		others := make([]float64, 0, len(numeric))
		for _, uid := range v.Raters {
			others = others[:0]
			for i, val := range numeric {
				if i != numericIdx[uid] {
					others = append(others, val)
				}
			}
			mean := stat.Mean(others, nil)
			sigma := stat.PopStdDev(others, nil)
			upper := mean + DeviationMultiplier*sigma
			lower := mean - DeviationMultiplier*sigma
			if lower < 0 {
				lower = 0
			}
			// The band edges are inclusive; a relative tolerance keeps
			// rounding in the sigma arithmetic from nudging a score that
			// sits exactly on an edge to the wrong side of it.
			tol := bandTolerance * math.Max(1, math.Abs(upper))
			val := d.Scores[uid].Value()
			if val < lower-tol || val > upper+tol {
				d.Rejected = append(d.Rejected, uid)
			} else {
				d.Accepted = append(d.Accepted, uid)
			}
		}
	}

	unusable := false
	if len(d.Accepted) < RequiredAgreement && sentinels >= RequiredAgreement {
		winner := sentinelMajority(d.Scores)
		if winner != score.SentinelNone {
			d.Accepted = d.Accepted[:0]
			d.Rejected = d.Rejected[:0]
			for _, uid := range v.Raters {
				if d.Scores[uid].Sentinel == winner {
					d.Accepted = append(d.Accepted, uid)
				} else {
					d.Rejected = append(d.Rejected, uid)
				}
			}
			unusable = winner == score.SentinelNoBubbles || winner == score.SentinelBadQuality
		}
	}

	switch {
	case len(d.Accepted) >= RequiredAgreement && unusable:
		d.Outcome = OutcomeUnusable
	case len(d.Accepted) >= RequiredAgreement:
		d.Outcome = OutcomeComplete
	case len(v.Raters) >= MaxRaters:
		d.Outcome = OutcomeFlagged
	}
	return d, nil
}

// sentinelMajority returns the first sentinel category reaching quorum, or
// SentinelNone when no single category does.
func sentinelMajority(scores map[string]score.Score) score.Sentinel {
	tally := make(map[score.Sentinel]int, 3)
	for _, s := range scores {
		if s.IsSentinel() {
			tally[s.Sentinel]++
		}
	}
	for _, cat := range []score.Sentinel{score.SentinelWashOut, score.SentinelNoBubbles, score.SentinelBadQuality} {
		if tally[cat] >= RequiredAgreement {
			return cat
		}
	}
	return score.SentinelNone
}
