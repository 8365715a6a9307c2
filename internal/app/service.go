// Package service wires the domain together behind the API surface:
// submission and review of ratings, the tutorial gate, video registration,
// consensus triggering, and the administrative overrides.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frothlab/froth/internal/adapters/docstore"
	evalqueue "github.com/frothlab/froth/internal/adapters/mq/queue"
	workerpool "github.com/frothlab/froth/internal/adapters/mq/worker"
	"github.com/frothlab/froth/internal/domain/consensus"
	"github.com/frothlab/froth/internal/domain/identity"
	"github.com/frothlab/froth/internal/domain/inflight"
	"github.com/frothlab/froth/internal/domain/model"
	"github.com/frothlab/froth/internal/domain/score"
	"github.com/frothlab/froth/internal/domain/tutorial"
	"github.com/frothlab/froth/internal/ledger"
	"github.com/frothlab/froth/internal/lifecycle"
	"github.com/frothlab/froth/pkg/logger"
	"github.com/frothlab/froth/pkg/metrics"
)

// casRetries bounds optimistic-write retries on a single document.
const casRetries = 5

// SubmissionResult reports an accepted rating submission.
type SubmissionResult struct {
	SubmissionID string
	Raters       int
	Triggered    bool
}

// Service implements the API dependencies for the rating system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    docstore.Store
	verifier identity.Verifier
	gate     *tutorial.Gate
	moves    *lifecycle.Manager
	ledger   *ledger.Ledger
	tracker  inflight.Tracker
	queue    evalqueue.Queue
	pool     *workerpool.Pool

	// Configuration
	workerCount     int
	queueSize       int
	maxRetries      int
	inflightSize    int
	reviewBatchSize int
	maxListLimit    int

	// State
	started bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore injects the document store. Required before Start.
func WithStore(store docstore.Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithWorkerCount sets the number of evaluation workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the evaluation queue capacity.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithMaxRetries bounds per-evaluation retries on stale video state.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithInflightSize bounds the per-video single-flight tracker.
func WithInflightSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.inflightSize = size
		}
	}
}

// WithReviewBatchSize sets how many candidates the review picker draws from.
func WithReviewBatchSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.reviewBatchSize = size
		}
	}
}

// WithMaxListLimit caps video listing page sizes.
func WithMaxListLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.maxListLimit = limit
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:     runtime.NumCPU() * 2,
		queueSize:       10_000,
		maxRetries:      5,
		inflightSize:    100_000,
		reviewBatchSize: 10,
		maxListLimit:    25,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.store == nil {
		s.store = docstore.NewMemStore()
		s.logger.Info(ctx, "no store injected, using in-memory store")
	}

	s.verifier = identity.NewVerifier(s.store)
	s.gate = tutorial.New(s.store)
	s.moves = lifecycle.New(s.store)
	s.ledger = ledger.New(s.store)
	s.tracker = inflight.New(inflight.WithMaxSize(s.inflightSize))
	s.queue = evalqueue.NewInMemoryQueue(evalqueue.WithCapacity(s.queueSize))

	s.pool = workerpool.NewPool(s.workerCount, s.queue, s, s, s,
		workerpool.WithMaxRetries(s.maxRetries))
	s.pool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "rating service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize))
	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping rating service...")

	if s.pool != nil {
		_ = s.pool.Shutdown(ctx)
	}
	if s.store != nil {
		_ = s.store.Close()
	}

	s.started = false
	s.logger.Info(ctx, "rating service stopped")
}

// SubmitRating records one production rating. The submission is validated
// before any state moves; once the rating is stored, an evaluation is
// queued when the video has reached quorum. A rater may replace their own
// rating while the video is still collecting.
func (s *Service) SubmitRating(ctx context.Context, uid, title string, marks []model.Mark) (SubmissionResult, error) {
	if _, err := score.Extract(marks); err != nil {
		metrics.RecordRatingRejected("malformed")
		return SubmissionResult{}, err
	}

	claims, err := s.verifier.Verify(ctx, uid)
	if err != nil {
		metrics.RecordRatingRejected("unknown_rater")
		return SubmissionResult{}, fmt.Errorf("%w: %v", ErrNotQualified, err)
	}
	if !claims.IsQualifiedRater() {
		metrics.RecordRatingRejected("not_qualified")
		return SubmissionResult{}, fmt.Errorf("%w: %s", ErrNotQualified, uid)
	}

	idx, err := s.loadIndex(ctx, title)
	if err != nil {
		metrics.RecordRatingRejected("unknown_video")
		return SubmissionResult{}, err
	}
	if idx.Location != model.BucketIncomplete {
		reason := "not_rateable"
		retErr := ErrVideoNotRateable
		if u, uerr := s.loadUser(ctx, uid); uerr == nil && u.HasRated(title) {
			reason = "duplicate"
			retErr = ErrDuplicateSubmission
		}
		metrics.RecordRatingRejected(reason)
		return SubmissionResult{}, fmt.Errorf("%w: %s is in %s", retErr, title, idx.Location)
	}

	rating := model.Rating{
		Marks:        marks,
		SubmittedAt:  time.Now().UTC(),
		SubmissionID: uuid.NewString(),
	}

	var raters int
	err = s.casUpdateVideo(ctx, model.BucketIncomplete, title, func(v *model.Video) error {
		if !v.HasRater(uid) {
			if len(v.Raters) >= consensus.MaxRaters {
				metrics.RecordRatingRejected("not_rateable")
				return fmt.Errorf("%w: rater set is full", ErrVideoNotRateable)
			}
			v.Raters = append(v.Raters, uid)
		}
		if v.Ratings == nil {
			v.Ratings = make(map[string]model.Rating)
		}
		v.Ratings[uid] = rating
		raters = len(v.Raters)
		return nil
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			metrics.RecordRatingRejected("not_rateable")
			return SubmissionResult{}, fmt.Errorf("%w: %s", ErrVideoNotRateable, title)
		}
		return SubmissionResult{}, err
	}

	// The lifecycle manager claims moves through the index record, so a
	// move that raced this append is visible here. A rating written into a
	// bucket that finalized mid-append is reported as not rateable.
	if idx, err := s.loadIndex(ctx, title); err != nil || idx.Location != model.BucketIncomplete {
		metrics.RecordRatingRejected("not_rateable")
		return SubmissionResult{}, fmt.Errorf("%w: %s finalized during submission", ErrVideoNotRateable, title)
	}

	if err := s.recordRated(ctx, uid, title); err != nil {
		s.logger.Warn(ctx, "rated-history update failed",
			logger.String("uid", uid),
			logger.String("video", title),
			logger.Error(err))
	}
	metrics.RecordRatingSubmitted()

	triggered := false
	if raters >= consensus.RequiredAgreement {
		triggered = s.triggerEvaluation(ctx, title, "quorum")
	}

	s.logger.Info(ctx, "rating recorded",
		logger.String("uid", uid),
		logger.String("video", title),
		logger.Int("raters", raters),
		logger.Any("triggered", triggered))
	return SubmissionResult{
		SubmissionID: rating.SubmissionID,
		Raters:       raters,
		Triggered:    triggered,
	}, nil
}

// SubmitTutorialRating runs one trainee submission through the tutorial
// gate. The marks are collapsed to a score exactly like a production rating.
func (s *Service) SubmitTutorialRating(ctx context.Context, uid, title string, marks []model.Mark) (tutorial.Result, error) {
	sc, err := score.Extract(marks)
	if err != nil {
		metrics.RecordRatingRejected("malformed")
		return tutorial.Result{}, err
	}
	return s.gate.Submit(ctx, uid, title, sc.Value())
}

// AddVideo registers a new video in the incomplete bucket. Requires the
// assistant role.
func (s *Service) AddVideo(ctx context.Context, actor, title, url string, fps float64) error {
	if err := s.requireRole(ctx, actor, model.RoleAssistant); err != nil {
		return err
	}

	now := time.Now().UTC()
	v := model.Video{
		Title:   title,
		Status:  model.BucketIncomplete,
		FPS:     fps,
		URL:     url,
		Added:   now,
		AddedBy: actor,
	}
	idx := model.VideoIndex{
		Title:    title,
		Added:    now,
		AddedBy:  actor,
		Location: model.BucketIncomplete,
		URL:      url,
	}
	return s.registerVideo(ctx, &idx, model.BucketIncomplete, &v)
}

// AddTutorialVideo registers a training video with its authored score
// distribution. Requires the assistant role.
func (s *Service) AddTutorialVideo(ctx context.Context, actor, title, url string, fps, average, stdev float64) error {
	if err := s.requireRole(ctx, actor, model.RoleAssistant); err != nil {
		return err
	}

	now := time.Now().UTC()
	tv := model.TutorialVideo{
		Title:   title,
		FPS:     fps,
		URL:     url,
		Average: average,
		Stdev:   stdev,
		Added:   now,
		AddedBy: actor,
	}
	idx := model.VideoIndex{
		Title:    title,
		Added:    now,
		AddedBy:  actor,
		Location: model.BucketTutorial,
		URL:      url,
	}
	return s.registerVideo(ctx, &idx, model.BucketTutorial, &tv)
}

// ReviewVideo picks an incomplete video the rater has not rated yet,
// starting from a random page so concurrent raters spread out.
func (s *Service) ReviewVideo(ctx context.Context, uid string) (*model.Video, error) {
	claims, err := s.verifier.Verify(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotQualified, err)
	}
	if !claims.IsQualifiedRater() {
		return nil, fmt.Errorf("%w: %s", ErrNotQualified, uid)
	}

	total, err := s.store.Count(ctx, string(model.BucketIncomplete))
	if err != nil {
		return nil, fmt.Errorf("count incomplete videos: %w", err)
	}
	if total == 0 {
		return nil, ErrNoVideoAvailable
	}

	pages := (total + s.reviewBatchSize - 1) / s.reviewBatchSize
	start := rand.IntN(pages)
	for p := 0; p < pages; p++ {
		offset := ((start + p) % pages) * s.reviewBatchSize
		docs, err := s.store.List(ctx, string(model.BucketIncomplete), offset, s.reviewBatchSize)
		if err != nil {
			return nil, fmt.Errorf("list incomplete videos: %w", err)
		}
		candidates := make([]*model.Video, 0, len(docs))
		for _, raw := range docs {
			var v model.Video
			if err := json.Unmarshal(raw, &v); err != nil {
				continue
			}
			if v.HasRater(uid) || len(v.Raters) >= consensus.MaxRaters {
				continue
			}
			candidates = append(candidates, &v)
		}
		if len(candidates) > 0 {
			return candidates[rand.IntN(len(candidates))], nil
		}
	}
	return nil, ErrNoVideoAvailable
}

// ListVideos returns raw video documents from one bucket in key order.
func (s *Service) ListVideos(ctx context.Context, bucket model.Bucket, offset, limit int) ([]docstore.Document, error) {
	if !bucket.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVideo, bucket)
	}
	if limit < 1 || limit > s.maxListLimit {
		limit = s.maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	docs, err := s.store.List(ctx, string(bucket), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	return docs, nil
}

// GetVideo resolves a title through the index and returns the raw document
// from whichever bucket it currently lives in.
func (s *Service) GetVideo(ctx context.Context, title string) (docstore.Document, model.Bucket, error) {
	idx, err := s.loadIndex(ctx, title)
	if err != nil {
		return nil, "", err
	}
	raw, _, err := s.store.Get(ctx, string(idx.Location), title)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: %s document missing from %s", ErrUnknownVideo, title, idx.Location)
		}
		return nil, "", fmt.Errorf("read video: %w", err)
	}
	return raw, idx.Location, nil
}

// Reevaluate queues a flagged video for a fresh consensus run. Requires the
// assistant role.
func (s *Service) Reevaluate(ctx context.Context, actor, title string) error {
	if err := s.requireRole(ctx, actor, model.RoleAssistant); err != nil {
		return err
	}
	idx, err := s.loadIndex(ctx, title)
	if err != nil {
		return err
	}
	if idx.Location != model.BucketFlagged {
		return fmt.Errorf("%w: %s is in %s", ErrNotFlagged, title, idx.Location)
	}
	if !s.triggerEvaluation(ctx, title, "manual") {
		return fmt.Errorf("%w: %s", ErrBackpressure, title)
	}
	return nil
}

// ResetVideo force-resets a video to the incomplete bucket with a clean
// rater slate. Requires the admin role.
func (s *Service) ResetVideo(ctx context.Context, actor, title string) error {
	if err := s.requireRole(ctx, actor, model.RoleAdmin); err != nil {
		return err
	}
	err := s.moves.Reset(ctx, title)
	if errors.Is(err, lifecycle.ErrUnknownVideo) {
		return fmt.Errorf("%w: %s", ErrUnknownVideo, title)
	}
	return err
}

// RegisterUser creates a fresh user record with the plain rater role.
func (s *Service) RegisterUser(ctx context.Context, uid string) error {
	if uid == "" {
		return fmt.Errorf("%w: empty uid", identity.ErrUnknownSubject)
	}
	u := model.User{UID: uid, Role: model.RoleRater}
	doc, err := json.Marshal(&u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if _, err := s.store.Put(ctx, model.CollectionUsers, uid, doc, 0); err != nil {
		if errors.Is(err, docstore.ErrRevisionMismatch) {
			return fmt.Errorf("%w: %s", ErrUserExists, uid)
		}
		return fmt.Errorf("write user: %w", err)
	}
	s.logger.Info(ctx, "user registered", logger.String("uid", uid))
	return nil
}

// GetUser returns a user record.
func (s *Service) GetUser(ctx context.Context, uid string) (*model.User, error) {
	return s.loadUser(ctx, uid)
}

// DeleteRater removes a rater: their ratings are stripped from every video
// whose consensus is still open, incomplete and flagged alike, and the user
// record is deleted. Ratings that already fed a finalized consensus stay.
// Requires the admin role.
func (s *Service) DeleteRater(ctx context.Context, actor, uid string) error {
	if err := s.requireRole(ctx, actor, model.RoleAdmin); err != nil {
		return err
	}
	if _, err := s.loadUser(ctx, uid); err != nil {
		return err
	}

	for _, bucket := range []model.Bucket{model.BucketIncomplete, model.BucketFlagged} {
		if err := s.stripRater(ctx, bucket, uid); err != nil {
			return err
		}
	}

	if err := s.store.Delete(ctx, model.CollectionUsers, uid, 0); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("delete user: %w", err)
	}
	s.logger.Info(ctx, "rater deleted",
		logger.String("uid", uid),
		logger.String("by", actor))
	return nil
}

// stripRater removes one rater's entry from every video of a bucket.
func (s *Service) stripRater(ctx context.Context, bucket model.Bucket, uid string) error {
	offset := 0
	for {
		docs, err := s.store.List(ctx, string(bucket), offset, s.reviewBatchSize)
		if err != nil {
			return fmt.Errorf("list %s: %w", bucket, err)
		}
		if len(docs) == 0 {
			return nil
		}
		for _, raw := range docs {
			var v model.Video
			if err := json.Unmarshal(raw, &v); err != nil || !v.HasRater(uid) {
				continue
			}
			if err := s.casUpdateVideo(ctx, bucket, v.Title, func(v *model.Video) error {
				kept := v.Raters[:0]
				for _, r := range v.Raters {
					if r != uid {
						kept = append(kept, r)
					}
				}
				v.Raters = kept
				delete(v.Ratings, uid)
				return nil
			}); err != nil && !errors.Is(err, docstore.ErrNotFound) {
				return err
			}
		}
		offset += len(docs)
	}
}

// GrantRole changes a user's role. Assistant grants need admin; admin
// grants need owner; the owner role is never grantable.
func (s *Service) GrantRole(ctx context.Context, actor, uid string, role model.Role) error {
	var required model.Role
	switch role {
	case model.RoleAssistant, model.RoleRater:
		required = model.RoleAdmin
	case model.RoleAdmin:
		required = model.RoleOwner
	default:
		return fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}
	if err := s.requireRole(ctx, actor, required); err != nil {
		return err
	}

	if err := s.casUpdateUser(ctx, uid, func(u *model.User) {
		u.Role = role
	}); err != nil {
		return err
	}

	grant := model.RoleGrant{
		UID:       uid,
		Role:      role,
		Granted:   time.Now().UTC(),
		GrantedBy: actor,
	}
	doc, err := json.Marshal(&grant)
	if err != nil {
		return fmt.Errorf("encode grant: %w", err)
	}
	if _, err := s.store.Put(ctx, model.CollectionGrants, uuid.NewString(), doc, 0); err != nil {
		return fmt.Errorf("write grant: %w", err)
	}
	s.logger.Info(ctx, "role granted",
		logger.String("uid", uid),
		logger.String("role", string(role)),
		logger.String("by", actor))
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
	}
	if !s.started {
		return stats
	}

	stats["queueLength"] = s.queue.Len(ctx)
	stats["inflight"] = s.tracker.Size()

	buckets := map[string]int{}
	for _, b := range []model.Bucket{
		model.BucketIncomplete, model.BucketComplete, model.BucketFlagged,
		model.BucketUnusable, model.BucketTutorial,
	} {
		if n, err := s.store.Count(ctx, string(b)); err == nil {
			buckets[string(b)] = n
			metrics.UpdateBucketDocuments(string(b), n)
		}
	}
	stats["buckets"] = buckets

	if n, err := s.store.Count(ctx, model.CollectionUsers); err == nil {
		stats["users"] = n
	}
	return stats
}

// EvaluateVideo reads the video fresh and computes its consensus decision.
// It implements the worker's Evaluator.
func (s *Service) EvaluateVideo(ctx context.Context, title string) (*workerpool.Evaluation, error) {
	idx, err := s.loadIndex(ctx, title)
	if err != nil {
		return nil, err
	}
	raw, rev, err := s.store.Get(ctx, string(idx.Location), title)
	if err != nil {
		return nil, fmt.Errorf("read video: %w", err)
	}
	var v model.Video
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode video: %w", err)
	}
	d, err := consensus.Evaluate(&v)
	if err != nil {
		return nil, err
	}
	return &workerpool.Evaluation{Video: &v, Revision: rev, Decision: d}, nil
}

// ApplyDecision performs the bucket move and the reputation updates for one
// decision. Reputation is credited only when this call performed the move,
// so re-applying an already-applied decision never double-credits. It
// implements the worker's Applier.
func (s *Service) ApplyDecision(ctx context.Context, ev *workerpool.Evaluation) error {
	applied, err := s.moves.Apply(ctx, ev.Video, ev.Revision, ev.Decision)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	return s.ledger.ApplyOutcome(ctx, ev.Video, ev.Decision)
}

// Release frees the per-video evaluation claim. It implements the worker's
// Releaser.
func (s *Service) Release(ctx context.Context, title string) {
	s.tracker.End(ctx, title)
}

// triggerEvaluation claims the title and queues an evaluation task. Returns
// false when an evaluation is already in flight or the queue is full; the
// next rating on the video re-triggers, so a declined trigger is safe.
func (s *Service) triggerEvaluation(ctx context.Context, title, reason string) bool {
	if !s.tracker.Begin(ctx, title) {
		return false
	}
	ok := s.queue.Enqueue(ctx, evalqueue.Task{VideoTitle: title, Reason: reason})
	if !ok {
		s.tracker.End(ctx, title)
		s.logger.Warn(ctx, "evaluation queue full",
			logger.String("video", title),
			logger.String("reason", reason))
	}
	return ok
}

func (s *Service) requireRole(ctx context.Context, actor string, role model.Role) error {
	claims, err := s.verifier.Verify(ctx, actor)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if !claims.HasRole(role) {
		return fmt.Errorf("%w: %s requires %s", ErrPermissionDenied, actor, role)
	}
	return nil
}

func (s *Service) loadIndex(ctx context.Context, title string) (*model.VideoIndex, error) {
	raw, _, err := s.store.Get(ctx, model.CollectionVideos, title)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVideo, title)
		}
		return nil, fmt.Errorf("read index: %w", err)
	}
	var idx model.VideoIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return &idx, nil
}

func (s *Service) loadUser(ctx context.Context, uid string) (*model.User, error) {
	raw, _, err := s.store.Get(ctx, model.CollectionUsers, uid)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", identity.ErrUnknownSubject, uid)
		}
		return nil, fmt.Errorf("read user: %w", err)
	}
	var u model.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &u, nil
}

// registerVideo creates the index record and the bucket document. The index
// write is the existence check; a duplicate title fails there before any
// bucket document is written.
func (s *Service) registerVideo(ctx context.Context, idx *model.VideoIndex, bucket model.Bucket, doc any) error {
	idxRaw, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if _, err := s.store.Put(ctx, model.CollectionVideos, idx.Title, idxRaw, 0); err != nil {
		if errors.Is(err, docstore.ErrRevisionMismatch) {
			return fmt.Errorf("%w: %s", ErrVideoExists, idx.Title)
		}
		return fmt.Errorf("write index: %w", err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode video: %w", err)
	}
	if _, err := s.store.Put(ctx, string(bucket), idx.Title, raw, 0); err != nil {
		return fmt.Errorf("write video: %w", err)
	}

	if n, err := s.store.Increment(ctx, model.CollectionCounters, "buckets", string(bucket), 1); err == nil {
		metrics.UpdateBucketDocuments(string(bucket), int(n))
	}
	s.logger.Info(ctx, "video registered",
		logger.String("title", idx.Title),
		logger.String("bucket", string(bucket)),
		logger.String("by", idx.AddedBy))
	return nil
}

// casUpdateVideo applies mutate to a bucket document under CAS with bounded
// retries. The mutate callback may veto the write by returning an error.
func (s *Service) casUpdateVideo(ctx context.Context, bucket model.Bucket, title string, mutate func(*model.Video) error) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		raw, rev, err := s.store.Get(ctx, string(bucket), title)
		if err != nil {
			return err
		}
		var v model.Video
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode video: %w", err)
		}
		if err := mutate(&v); err != nil {
			return err
		}
		doc, err := json.Marshal(&v)
		if err != nil {
			return fmt.Errorf("encode video: %w", err)
		}
		_, err = s.store.Put(ctx, string(bucket), title, doc, rev)
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrRevisionMismatch) {
			return fmt.Errorf("write video: %w", err)
		}
	}
	return fmt.Errorf("%w: video %s", ErrTooMuchContention, title)
}

// casUpdateUser applies mutate to a user record under CAS.
func (s *Service) casUpdateUser(ctx context.Context, uid string, mutate func(*model.User)) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		raw, rev, err := s.store.Get(ctx, model.CollectionUsers, uid)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("%w: %s", identity.ErrUnknownSubject, uid)
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
		_, err = s.store.Put(ctx, model.CollectionUsers, uid, doc, rev)
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrRevisionMismatch) {
			return fmt.Errorf("write user: %w", err)
		}
	}
	return fmt.Errorf("%w: user %s", ErrTooMuchContention, uid)
}

// recordRated adds the title to the rater's history once.
func (s *Service) recordRated(ctx context.Context, uid, title string) error {
	return s.casUpdateUser(ctx, uid, func(u *model.User) {
		if !u.HasRated(title) {
			u.VideosRated = append(u.VideosRated, title)
		}
	})
}
