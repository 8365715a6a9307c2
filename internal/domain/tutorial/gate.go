// Package tutorial qualifies trainees for production rating. Each tutorial
// video carries a known-good average and stdev authored with the tutorial
// content; a trainee's submission is valid when it lands inside the
// two-sigma band around that average. Enough valid submissions promote the
// trainee permanently.
package tutorial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/frothlab/froth/internal/adapters/docstore"
	"github.com/frothlab/froth/internal/domain/model"
	"github.com/frothlab/froth/pkg/logger"
	"github.com/frothlab/froth/pkg/metrics"
)

const (
	// BandMultiplier is the acceptance-band half-width in standard
	// deviations of the tutorial video's authored distribution.
	BandMultiplier = 2

	// RetryCap is the soft cap on total tutorial submissions; past it a
	// trainee may not re-submit for a video they already attempted.
	RetryCap = 10

	// RequiredValid is how many in-band submissions complete the tutorial.
	RequiredValid = 4
)

// updateRetries bounds CAS retries on the trainee record.
const updateRetries = 5

// Result reports the fate of one tutorial submission.
type Result struct {
	// Valid is whether the score fell inside the acceptance band.
	Valid bool
	// ValidCount is the trainee's total in-band submissions, including
	// this one when Valid.
	ValidCount int
	// Completed is whether the trainee holds the completed-tutorial
	// capability after this submission.
	Completed bool
}

// Gate scores tutorial submissions and promotes trainees.
type Gate struct {
	store docstore.Store
	log   logger.Logger
}

// New creates a tutorial gate over the given store.
func New(store docstore.Store) *Gate {
	return &Gate{
		store: store,
		log:   logger.Get().Named("tutorial"),
	}
}

// Submit records one tutorial submission for the trainee and returns its
// fate. Promotion to completed-tutorial is permanent: later out-of-band
// submissions never revoke it.
func (g *Gate) Submit(ctx context.Context, uid, title string, submitted float64) (Result, error) {
	tv, err := g.loadTutorial(ctx, title)
	if err != nil {
		return Result{}, err
	}

	lower := tv.Average - BandMultiplier*tv.Stdev
	if lower < 0 {
		lower = 0
	}
	upper := tv.Average + BandMultiplier*tv.Stdev
	valid := submitted >= lower && submitted <= upper

	var res Result
	for attempt := 0; attempt < updateRetries; attempt++ {
		raw, rev, err := g.store.Get(ctx, model.CollectionUsers, uid)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return Result{}, fmt.Errorf("%w: %s", ErrUnknownTrainee, uid)
			}
			return Result{}, fmt.Errorf("read trainee: %w", err)
		}
		var u model.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return Result{}, fmt.Errorf("decode trainee: %w", err)
		}

		if hasAttempted(&u, title) && len(u.TutorialRatings) >= RetryCap {
			return Result{}, fmt.Errorf("%w: retry cap reached for %s", ErrDuplicateSubmission, title)
		}

		u.TutorialRatings = append(u.TutorialRatings, model.TutorialRating{
			Video: title,
			Score: submitted,
			Valid: valid,
		})
		promoted := false
		if !u.CompletedTutorial && u.ValidTutorialCount() >= RequiredValid {
			u.CompletedTutorial = true
			promoted = true
		}
		res = Result{
			Valid:      valid,
			ValidCount: u.ValidTutorialCount(),
			Completed:  u.CompletedTutorial,
		}

		doc, err := json.Marshal(&u)
		if err != nil {
			return Result{}, fmt.Errorf("encode trainee: %w", err)
		}
		_, err = g.store.Put(ctx, model.CollectionUsers, uid, doc, rev)
		if err == nil {
			metrics.RecordTutorialSubmission(valid)
			if promoted {
				metrics.RecordTutorialPromotion()
				g.log.Info(ctx, "trainee completed tutorial",
					logger.String("uid", uid),
					logger.Int("valid", res.ValidCount))
			}
			return res, nil
		}
		if !errors.Is(err, docstore.ErrRevisionMismatch) {
			return Result{}, fmt.Errorf("write trainee: %w", err)
		}
	}
	return Result{}, fmt.Errorf("%w: trainee %s", ErrTooMuchContention, uid)
}

func (g *Gate) loadTutorial(ctx context.Context, title string) (*model.TutorialVideo, error) {
	raw, _, err := g.store.Get(ctx, string(model.BucketTutorial), title)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTutorial, title)
		}
		return nil, fmt.Errorf("read tutorial video: %w", err)
	}
	var tv model.TutorialVideo
	if err := json.Unmarshal(raw, &tv); err != nil {
		return nil, fmt.Errorf("decode tutorial video: %w", err)
	}
	return &tv, nil
}

func hasAttempted(u *model.User, title string) bool {
	for _, tr := range u.TutorialRatings {
		if tr.Video == title {
			return true
		}
	}
	return false
}
