package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/aura-classroom/backend/pkg/queue"
)

type sourceStub struct {
	mu      sync.Mutex
	jobs    []*queue.Job
	retried []*queue.Job
	failDeq int
}

func (s *sourceStub) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, string, error) {
	s.mu.Lock()
	if s.failDeq > 0 {
		s.failDeq--
		s.mu.Unlock()
		return nil, "", errors.New("connection reset")
	}
	if len(s.jobs) > 0 {
		j := s.jobs[0]
		s.jobs = s.jobs[1:]
		s.mu.Unlock()
		return j, queue.QueueFor(j.Type), nil
	}
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-time.After(timeout):
		return nil, "", nil
	}
}

func (s *sourceStub) Retry(_ context.Context, job *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Attempt++
	s.retried = append(s.retried, job)
	return nil
}

type procStub struct {
	mu   sync.Mutex
	seen []string
	fail map[string]bool
	all  chan struct{}
	want int
}

func (p *procStub) Process(_ context.Context, job *queue.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, job.ID)
	if len(p.seen) == p.want {
		close(p.all)
	}
	if p.fail[job.ID] {
		return errors.New("boom")
	}
	return nil
}

func TestRunner_ProcessesAndRetries(t *testing.T) {
	src := &sourceStub{
		failDeq: 1,
		jobs: []*queue.Job{
			{ID: "a", Type: queue.JobTypeAttendanceSpan},
			{ID: "b", Type: queue.JobTypeAttendanceReport},
			{ID: "c", Type: queue.JobTypeAttendanceSpan},
		},
	}
	proc := &procStub{fail: map[string]bool{"b": true}, all: make(chan struct{}), want: 3}
	r := NewRunner(src, proc, Options{Concurrency: 2, PollTimeout: 10 * time.Millisecond, Backoff: time.Millisecond}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(stopped)
	}()

	select {
	case <-proc.all:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs not processed")
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if len(src.retried) != 1 || src.retried[0].ID != "b" || src.retried[0].Attempt != 1 {
		t.Fatalf("retried = %+v", src.retried)
	}
}

func TestNewRunner_Defaults(t *testing.T) {
	r := NewRunner(&sourceStub{}, &procStub{}, Options{Concurrency: -3}, nil)
	if r.opts.Concurrency != 1 || r.opts.Backoff != queue.RetryBackoff || r.opts.PollTimeout <= 0 {
		t.Fatalf("opts = %+v", r.opts)
	}
}
