// Package worker drains the evaluation queue and drives decisions to the
// store. A worker re-reads the video fresh on every attempt, so a decision
// is never applied against rater data that changed after it was computed.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/frothlab/froth/internal/adapters/docstore"
	"github.com/frothlab/froth/internal/adapters/mq/queue"
	"github.com/frothlab/froth/internal/domain/consensus"
	"github.com/frothlab/froth/internal/domain/model"
	"github.com/frothlab/froth/internal/lifecycle"
	"github.com/frothlab/froth/pkg/logger"
	"github.com/frothlab/froth/pkg/metrics"
)

const (
	defaultMaxRetries     = 5
	workerShutdownTimeout = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Evaluation is one fresh read of a video together with the decision
// computed from it. The revision pins the read; applying the decision fails
// with stale state when the video moved on.
type Evaluation struct {
	Video    *model.Video
	Revision docstore.Revision
	Decision consensus.Decision
}

// Evaluator reads a video fresh and computes its consensus decision.
type Evaluator interface {
	EvaluateVideo(ctx context.Context, title string) (*Evaluation, error)
}

// Applier applies a decision: the bucket move plus reputation updates.
type Applier interface {
	ApplyDecision(ctx context.Context, ev *Evaluation) error
}

// Releaser frees the per-video evaluation claim once a task settles.
type Releaser interface {
	Release(ctx context.Context, title string)
}

// Queue defines how workers receive tasks.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Task
}

// Worker processes evaluation tasks until stopped.
type Worker interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue      Queue
	evaluator  Evaluator
	applier    Applier
	releaser   Releaser
	name       string
	maxRetries int

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker with configuration options.
func NewInMemoryWorker(q Queue, e Evaluator, a Applier, r Releaser, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      q,
		evaluator:  e,
		applier:    a,
		releaser:   r,
		name:       "worker",
		maxRetries: defaultMaxRetries,
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	tasks := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case task, ok := <-tasks:
			if !ok {
				return
			}
			if err := w.processTask(ctx, task); err != nil {
				metrics.RecordWorkerError()
				w.logger.Error(ctx, "evaluation failed",
					logger.String("video", task.VideoTitle),
					logger.String("reason", task.Reason),
					logger.Error(err))
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processTask evaluates one video, retrying from fresh data when the video
// changed between the evaluation read and the apply.
func (w *InMemoryWorker) processTask(ctx context.Context, task queue.Task) error {
	defer w.releaser.Release(ctx, task.VideoTitle)

	start := time.Now()
	defer func() {
		metrics.RecordEvaluationLatency(float64(time.Since(start).Milliseconds()))
	}()

	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		ev, err := w.evaluator.EvaluateVideo(ctx, task.VideoTitle)
		if err != nil {
			return fmt.Errorf("evaluate %s: %w", task.VideoTitle, err)
		}

		outcome := ev.Decision.Outcome
		if outcome == consensus.OutcomePending {
			metrics.RecordEvaluation(outcome.String())
			return nil
		}

		err = w.applier.ApplyDecision(ctx, ev)
		if err == nil {
			metrics.RecordEvaluation(outcome.String())
			w.logger.Info(ctx, "decision applied",
				logger.String("video", task.VideoTitle),
				logger.String("outcome", outcome.String()),
				logger.Int("attempt", attempt))
			return nil
		}
		if !errors.Is(err, lifecycle.ErrStaleVideo) {
			return fmt.Errorf("apply decision for %s: %w", task.VideoTitle, err)
		}

		metrics.RecordStaleRetry()
		w.logger.Warn(ctx, "stale video state, re-evaluating",
			logger.String("video", task.VideoTitle),
			logger.Int("attempt", attempt))
	}
	return fmt.Errorf("%w: %s", ErrRetriesExhausted, task.VideoTitle)
}

// Pool manages a fixed set of workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	shutdown chan struct{}

	logger logger.Logger
}

// NewPool creates a pool of workerCount workers. A count below 1 defaults
// to twice the CPU count.
func NewPool(workerCount int, q Queue, e Evaluator, a Applier, r Releaser, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * 2
	}

	p := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    q,
		shutdown: make(chan struct{}),
		logger:   logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(q, e, a, r, workerOpts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start launches all workers.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue and waits for the workers to drain.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
