// Package ledger maintains per-rater reputation records. Reputation only
// moves on decisive consensus outcomes: agreeing raters earn score, outliers
// accumulate a rejection history. Pending and flagged dispositions leave
// every rater untouched.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/frothlab/froth/internal/adapters/docstore"
	"github.com/frothlab/froth/internal/domain/consensus"
	"github.com/frothlab/froth/internal/domain/model"
	"github.com/frothlab/froth/pkg/logger"
	"github.com/frothlab/froth/pkg/metrics"
)

// AcceptedAward is the score granted for each rating that survives
// consensus.
const AcceptedAward = 10

// updateRetries bounds CAS retries on a single user record.
const updateRetries = 5

// Ledger applies consensus outcomes to user records.
type Ledger struct {
	store docstore.Store
	log   logger.Logger
}

// New creates a ledger over the given store.
func New(store docstore.Store) *Ledger {
	return &Ledger{
		store: store,
		log:   logger.Get().Named("ledger"),
	}
}

// ApplyOutcome credits the accepted raters and records a rejection for each
// outlier. Non-final outcomes are a no-op. Each user record is updated
// independently; a failure on one rater does not roll back the others, and
// the first error is returned after all raters were attempted.
func (l *Ledger) ApplyOutcome(ctx context.Context, v *model.Video, d consensus.Decision) error {
	if !d.Outcome.Final() {
		return nil
	}

	var firstErr error
	for _, uid := range d.Accepted {
		if err := l.update(ctx, uid, func(u *model.User) {
			u.UserScore += AcceptedAward
			u.Accepted++
		}); err != nil {
			l.log.Error(ctx, "accepted credit failed",
				logger.String("uid", uid),
				logger.String("video", v.Title),
				logger.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.RecordReputationUpdate("accepted")
	}

	for _, uid := range d.Rejected {
		rejection := model.RejectedRating{
			Video:       v.Title,
			Score:       d.Scores[uid].Value(),
			SubmittedAt: v.Ratings[uid].SubmittedAt,
		}
		if err := l.update(ctx, uid, func(u *model.User) {
			u.Outliers++
			u.RejectedRatings = append(u.RejectedRatings, rejection)
		}); err != nil {
			l.log.Error(ctx, "rejection record failed",
				logger.String("uid", uid),
				logger.String("video", v.Title),
				logger.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.RecordReputationUpdate("rejected")
	}
	return firstErr
}

// update applies mutate to the user record under CAS, retrying on
// concurrent writers.
func (l *Ledger) update(ctx context.Context, uid string, mutate func(*model.User)) error {
	for attempt := 0; attempt < updateRetries; attempt++ {
		raw, rev, err := l.store.Get(ctx, model.CollectionUsers, uid)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownRater, uid)
			}
			return fmt.Errorf("read user: %w", err)
		}
		var u model.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return fmt.Errorf("decode user: %w", err)
		}

		mutate(&u)

		doc, err := json.Marshal(&u)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}
		_, err = l.store.Put(ctx, model.CollectionUsers, uid, doc, rev)
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrRevisionMismatch) {
			return fmt.Errorf("write user: %w", err)
		}
	}
	return fmt.Errorf("%w: user %s", ErrTooMuchContention, uid)
}
