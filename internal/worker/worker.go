package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-classroom/backend/pkg/queue"
)

// Source is the queue side the runner consumes.
type Source interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Processor executes one job.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) error
}

// Options tunes the runner.
type Options struct {
	Concurrency int
	// PollTimeout bounds one blocking dequeue so shutdown is noticed.
	PollTimeout time.Duration
	// Backoff is the pause after a failed job or dequeue error.
	Backoff time.Duration
}

// Runner pulls jobs from the queue and hands them to a processor, retrying failures.
type Runner struct {
	src    Source
	proc   Processor
	opts   Options
	logger *zap.Logger
}

// NewRunner creates a job runner.
func NewRunner(src Source, proc Processor, opts Options, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = queue.RetryBackoff
	}
	return &Runner{src: src, proc: proc, opts: opts, logger: logger}
}

// Run starts the worker loops and blocks until ctx is done and every loop has returned.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < r.opts.Concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.loop(ctx, r.logger.With(zap.Int("worker", n)))
		}(i)
	}
	wg.Wait()
	r.logger.Info("worker stopped")
}

// loop is the dequeue, process, retry cycle of one worker.
func (r *Runner) loop(ctx context.Context, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, _, err := r.src.Dequeue(ctx, r.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("dequeue error", zap.Error(err))
			r.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := r.proc.Process(ctx, job); err != nil {
			logger.Error("job failed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)),
				zap.Int("attempt", job.Attempt), zap.Error(err))
			// ctx may already be canceled; the retry must still land
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if reErr := r.src.Retry(rctx, job); reErr != nil {
				logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(reErr))
			}
			cancel()
			r.sleep(ctx)
		}
	}
}

func (r *Runner) sleep(ctx context.Context) {
	t := time.NewTimer(r.opts.Backoff)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
