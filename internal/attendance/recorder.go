package attendance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/classroom"
	"github.com/aura-classroom/backend/pkg/queue"
)

// SpanQueue accepts attendance span jobs.
type SpanQueue interface {
	EnqueueAttendanceSpan(ctx context.Context, payload queue.AttendanceSpanPayload) error
}

// Recorder is the classroom.AttendanceSink of the server process. Room loops
// hand spans over without blocking; a single goroutine pushes them to the queue.
type Recorder struct {
	q       SpanQueue
	ch      chan queue.AttendanceSpanPayload
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	timeout time.Duration
	dropped atomic.Uint64
	logger  *zap.Logger
}

var _ classroom.AttendanceSink = (*Recorder)(nil)

// NewRecorder starts a recorder with room for size pending spans.
func NewRecorder(q SpanQueue, size int, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = 1024
	}
	r := &Recorder{
		q:       q,
		ch:      make(chan queue.AttendanceSpanPayload, size),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		timeout: 5 * time.Second,
		logger:  logger.Named("attendance"),
	}
	go r.run()
	return r
}

// SpanOpened implements classroom.AttendanceSink.
func (r *Recorder) SpanOpened(rec classroom.AttendanceRecord) { r.offer(SpanPayload(rec)) }

// SpanClosed implements classroom.AttendanceSink.
func (r *Recorder) SpanClosed(rec classroom.AttendanceRecord) { r.offer(SpanPayload(rec)) }

// Dropped reports how many spans were discarded because the buffer was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

func (r *Recorder) offer(p queue.AttendanceSpanPayload) {
	select {
	case <-r.quit:
		r.drop(p, "recorder closed")
		return
	default:
	}
	select {
	case r.ch <- p:
	default:
		r.drop(p, "buffer full")
	}
}

func (r *Recorder) drop(p queue.AttendanceSpanPayload, why string) {
	r.dropped.Add(1)
	r.logger.Warn("attendance span dropped", zap.String("reason", why),
		zap.String("session_id", p.SessionID), zap.String("record_id", p.RecordID))
}

func (r *Recorder) run() {
	defer close(r.done)
	for {
		select {
		case p := <-r.ch:
			r.push(p)
		case <-r.quit:
			for {
				select {
				case p := <-r.ch:
					r.push(p)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) push(p queue.AttendanceSpanPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.q.EnqueueAttendanceSpan(ctx, p); err != nil {
		r.logger.Error("enqueue attendance span", zap.String("session_id", p.SessionID),
			zap.String("record_id", p.RecordID), zap.Error(err))
	}
}

// Close stops accepting spans and flushes what is buffered.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.quit) })
	<-r.done
}

// SpanPayload converts a room span into its queue form.
func SpanPayload(rec classroom.AttendanceRecord) queue.AttendanceSpanPayload {
	return queue.AttendanceSpanPayload{
		RecordID:        rec.ID,
		SessionID:       rec.SessionID,
		ParticipantID:   rec.ParticipantID,
		DisplayName:     rec.DisplayName,
		Role:            string(rec.Role),
		JoinTime:        rec.JoinTime,
		LeaveTime:       rec.LeaveTime,
		DurationMinutes: rec.DurationMinutes,
		LeaveReason:     string(rec.LeaveReason),
	}
}
