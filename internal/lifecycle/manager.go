// Package lifecycle moves video documents between bucket collections as
// consensus decisions land. The index record in the videos collection is the
// authority on where a video lives; every move writes the destination
// document first and then swings the index, so the index always points at a
// bucket that holds the document and a torn move leaves at worst a stale
// source copy, which the index disambiguates.
package lifecycle

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

// Manager applies consensus decisions to the document store.
type Manager struct {
	store docstore.Store
	log   logger.Logger
}

// New creates a lifecycle manager over the given store.
func New(store docstore.Store) *Manager {
	return &Manager{
		store: store,
		log:   logger.Get().Named("lifecycle"),
	}
}

// Apply moves the video to the bucket the decision names. The caller passes
// the video document it evaluated together with the revision it read it at;
// if either the document or the index moved on since that read, Apply
// returns ErrStaleVideo and leaves the video where it was, and the caller
// should re-read and re-evaluate.
//
// The returned bool reports whether this call performed the move. A
// decision whose move already happened returns (false, nil) so the caller
// will not credit reputation twice.
func (m *Manager) Apply(ctx context.Context, v *model.Video, srcRev docstore.Revision, d consensus.Decision) (bool, error) {
	dest := d.Outcome.Bucket()
	if dest == "" {
		return false, fmt.Errorf("%w: outcome %s", ErrNotDecisive, d.Outcome)
	}

	idx, idxRev, err := m.loadIndex(ctx, v.Title)
	if err != nil {
		return false, err
	}
	if idx.Location == dest {
		return false, nil
	}
	if idx.Location != v.Status {
		return false, fmt.Errorf("%w: video moved to %s", ErrStaleVideo, idx.Location)
	}

	// A rating that arrived after the evaluation read invalidates the
	// decision. The revision-guarded source delete below closes the window
	// between this check and the move.
	if _, curRev, err := m.store.Get(ctx, string(v.Status), v.Title); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return false, fmt.Errorf("%w: source document gone", ErrStaleVideo)
		}
		return false, fmt.Errorf("read source document: %w", err)
	} else if curRev != srcRev {
		return false, fmt.Errorf("%w: %w", ErrStaleVideo, docstore.ErrRevisionMismatch)
	}

	moved := pruneForBucket(v, d, dest)

	if err := m.putVideo(ctx, dest, moved); err != nil {
		return false, err
	}
	newIdxRev, err := m.writeIndex(ctx, idx, idxRev, dest)
	if err != nil {
		m.cleanupDest(ctx, dest, v.Title)
		return false, err
	}

	// Delete the source only if it is still the revision the decision was
	// computed from. A rating appended in the meantime fails the guard;
	// the move is rolled back so the new rating survives and the caller
	// re-evaluates with it.
	if err := m.store.Delete(ctx, string(v.Status), v.Title, srcRev); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		if errors.Is(err, docstore.ErrRevisionMismatch) {
			return false, m.rollbackMove(ctx, idx, newIdxRev, v.Status, dest, v.Title)
		}
		return false, fmt.Errorf("delete source document: %w", err)
	}
	m.bumpBucketCounters(ctx, v.Status, dest)

	m.log.Info(ctx, "video moved",
		logger.String("title", v.Title),
		logger.String("from", string(v.Status)),
		logger.String("to", string(dest)),
		logger.Int("accepted", len(d.Accepted)),
		logger.Int("rejected", len(d.Rejected)))
	return true, nil
}

// cleanupDest removes the destination document written ahead of an index
// claim that was then lost. The document stays when the index meanwhile
// points at dest: in that case a concurrent applier owns it.
func (m *Manager) cleanupDest(ctx context.Context, dest model.Bucket, title string) {
	idx, _, err := m.loadIndex(ctx, title)
	if err != nil || idx.Location == dest {
		return
	}
	if err := m.store.Delete(ctx, string(dest), title, 0); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		m.log.Warn(ctx, "leftover destination document after lost index claim",
			logger.String("title", title),
			logger.String("bucket", string(dest)),
			logger.Error(err))
	}
}

// rollbackMove points the index back at the source bucket and removes the
// destination copy after a move lost the source-revision guard. The
// returned error is always ErrStaleVideo so the caller re-evaluates.
func (m *Manager) rollbackMove(ctx context.Context, idx *model.VideoIndex, idxRev docstore.Revision, src, dest model.Bucket, title string) error {
	if _, err := m.writeIndex(ctx, idx, idxRev, src); err != nil {
		return fmt.Errorf("roll back index: %w", err)
	}
	if err := m.store.Delete(ctx, string(dest), title, 0); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		m.log.Warn(ctx, "leftover destination document after rollback",
			logger.String("title", title),
			logger.String("bucket", string(dest)),
			logger.Error(err))
	}
	m.log.Info(ctx, "move rolled back, rating arrived during apply",
		logger.String("title", title),
		logger.String("bucket", string(src)))
	return fmt.Errorf("%w: source updated during move", ErrStaleVideo)
}

// Reset moves a video back to the incomplete bucket and clears its
// accumulated raters and ratings so collection starts over. Resetting a
// video already in the incomplete bucket only clears its ratings.
func (m *Manager) Reset(ctx context.Context, title string) error {
	idx, idxRev, err := m.loadIndex(ctx, title)
	if err != nil {
		return err
	}

	raw, docRev, err := m.store.Get(ctx, string(idx.Location), title)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("%w: document missing from %s", ErrStaleVideo, idx.Location)
		}
		return fmt.Errorf("read video document: %w", err)
	}
	var v model.Video
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decode video document: %w", err)
	}

	src := idx.Location
	v.Status = model.BucketIncomplete
	v.Raters = nil
	v.Ratings = nil

	if src == model.BucketIncomplete {
		doc, err := json.Marshal(&v)
		if err != nil {
			return fmt.Errorf("encode video document: %w", err)
		}
		if _, err := m.store.Put(ctx, string(src), title, doc, docRev); err != nil {
			if errors.Is(err, docstore.ErrRevisionMismatch) {
				return fmt.Errorf("%w: %w", ErrStaleVideo, err)
			}
			return fmt.Errorf("write video document: %w", err)
		}
		m.log.Info(ctx, "video ratings cleared", logger.String("title", title))
		return nil
	}

	if err := m.putVideo(ctx, model.BucketIncomplete, &v); err != nil {
		return err
	}
	if _, err := m.writeIndex(ctx, idx, idxRev, model.BucketIncomplete); err != nil {
		return err
	}
	// Non-incomplete buckets reject ratings, so the source copy cannot
	// have changed once the index CAS succeeds.
	if err := m.store.Delete(ctx, string(src), title, 0); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("delete source document: %w", err)
	}
	m.bumpBucketCounters(ctx, src, model.BucketIncomplete)

	m.log.Info(ctx, "video reset",
		logger.String("title", title),
		logger.String("from", string(src)))
	return nil
}

func (m *Manager) loadIndex(ctx context.Context, title string) (*model.VideoIndex, docstore.Revision, error) {
	raw, rev, err := m.store.Get(ctx, model.CollectionVideos, title)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, 0, fmt.Errorf("%w: %s", ErrUnknownVideo, title)
		}
		return nil, 0, fmt.Errorf("read index: %w", err)
	}
	var idx model.VideoIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, 0, fmt.Errorf("decode index: %w", err)
	}
	return &idx, rev, nil
}

func (m *Manager) writeIndex(ctx context.Context, idx *model.VideoIndex, rev docstore.Revision, dest model.Bucket) (docstore.Revision, error) {
	idx.Location = dest
	doc, err := json.Marshal(idx)
	if err != nil {
		return 0, fmt.Errorf("encode index: %w", err)
	}
	newRev, err := m.store.Put(ctx, model.CollectionVideos, idx.Title, doc, rev)
	if err != nil {
		if errors.Is(err, docstore.ErrRevisionMismatch) {
			return 0, fmt.Errorf("%w: %w", ErrStaleVideo, err)
		}
		return 0, fmt.Errorf("write index: %w", err)
	}
	return newRev, nil
}

// putVideo writes the document into its destination bucket. A leftover
// destination document from an interrupted earlier move is overwritten.
func (m *Manager) putVideo(ctx context.Context, bucket model.Bucket, v *model.Video) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode video document: %w", err)
	}
	_, err = m.store.Put(ctx, string(bucket), v.Title, doc, 0)
	if errors.Is(err, docstore.ErrRevisionMismatch) {
		_, rev, getErr := m.store.Get(ctx, string(bucket), v.Title)
		if getErr != nil {
			return fmt.Errorf("write destination document: %w", err)
		}
		m.log.Warn(ctx, "overwriting leftover destination document",
			logger.String("title", v.Title),
			logger.String("bucket", string(bucket)))
		_, err = m.store.Put(ctx, string(bucket), v.Title, doc, rev)
	}
	if err != nil {
		return fmt.Errorf("write destination document: %w", err)
	}
	return nil
}

// pruneForBucket builds the document to store in the destination bucket.
// Decisive outcomes drop the rejected raters so downstream consumers only
// see the agreeing set; a flagged video keeps everything for the reviewer.
func pruneForBucket(v *model.Video, d consensus.Decision, dest model.Bucket) *model.Video {
	moved := *v
	moved.Status = dest
	if !d.Outcome.Final() {
		return &moved
	}

	moved.Raters = make([]string, 0, len(d.Accepted))
	moved.Ratings = make(map[string]model.Rating, len(d.Accepted))
	for _, uid := range v.Raters {
		rejected := false
		for _, r := range d.Rejected {
			if r == uid {
				rejected = true
				break
			}
		}
		if rejected {
			continue
		}
		moved.Raters = append(moved.Raters, uid)
		if r, ok := v.Ratings[uid]; ok {
			moved.Ratings[uid] = r
		}
	}
	return &moved
}

// bumpBucketCounters maintains the per-bucket document counts. Counter
// drift cannot corrupt video state, so errors are logged and swallowed.
func (m *Manager) bumpBucketCounters(ctx context.Context, src, dest model.Bucket) {
	if n, err := m.store.Increment(ctx, model.CollectionCounters, "buckets", string(src), -1); err != nil {
		m.log.Warn(ctx, "bucket counter update failed", logger.String("bucket", string(src)), logger.Error(err))
	} else {
		metrics.UpdateBucketDocuments(string(src), int(n))
	}
	if n, err := m.store.Increment(ctx, model.CollectionCounters, "buckets", string(dest), 1); err != nil {
		m.log.Warn(ctx, "bucket counter update failed", logger.String("bucket", string(dest)), logger.Error(err))
	} else {
		metrics.UpdateBucketDocuments(string(dest), int(n))
	}
}
