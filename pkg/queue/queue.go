package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueAttendance is the Redis list key for attendance span jobs.
	QueueAttendance = "worker:attendance"
	// QueueReports is the Redis list key for end-of-session report jobs.
	QueueReports = "worker:reports"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeAttendanceSpan   JobType = "attendance_span"
	JobTypeAttendanceReport JobType = "attendance_report"
)

// AttendanceSpanPayload is one opened or closed attendance span. A closed
// span carries LeaveTime; the same RecordID is sent for both transitions.
type AttendanceSpanPayload struct {
	RecordID        string     `json:"record_id"`
	SessionID       string     `json:"session_id"`
	ParticipantID   string     `json:"participant_id"`
	DisplayName     string     `json:"display_name"`
	Role            string     `json:"role"`
	JoinTime        time.Time  `json:"join_time"`
	LeaveTime       *time.Time `json:"leave_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	LeaveReason     string     `json:"leave_reason,omitempty"`
}

// AttendanceReportPayload asks the worker to publish the final report of an ended session.
type AttendanceReportPayload struct {
	SessionID string    `json:"session_id"`
	EndedAt   time.Time `json:"ended_at"`
	// Spans is how many attendance spans the room opened; the report waits
	// until that many are persisted.
	Spans int `json:"spans"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", j.Type, err)
	}
	return nil
}

// NewJob wraps payload in a fresh envelope.
func NewJob(typ JobType, payload any, now time.Time) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      typ,
		Payload:   body,
		CreatedAt: now,
	}, nil
}

// QueueFor returns the list a job type is pushed to.
func QueueFor(typ JobType) string {
	switch typ {
	case JobTypeAttendanceReport:
		return QueueReports
	default:
		return QueueAttendance
	}
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client redis.Cmdable
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client redis.Cmdable, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

func (q *Queue) enqueue(ctx context.Context, typ JobType, payload any) error {
	job, err := NewJob(typ, payload, time.Now())
	if err != nil {
		return err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueFor(typ), raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("type", string(typ)))
	return nil
}

// EnqueueAttendanceSpan enqueues an opened or closed attendance span.
func (q *Queue) EnqueueAttendanceSpan(ctx context.Context, payload AttendanceSpanPayload) error {
	return q.enqueue(ctx, JobTypeAttendanceSpan, payload)
}

// EnqueueAttendanceReport enqueues a report job for an ended session.
func (q *Queue) EnqueueAttendanceReport(ctx context.Context, payload AttendanceReportPayload) error {
	return q.enqueue(ctx, JobTypeAttendanceReport, payload)
}

// Dequeue blocks until a job is available on any of the job queues, timeout
// elapses, or ctx is done. Returns job and key (queue name); a nil job with a
// nil error means nothing arrived.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueAttendance, QueueReports).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return &job, result[0], nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueFor(job.Type), raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
