package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/queue"
)

// Store is the persistence the processor writes to.
type Store interface {
	UpsertSpan(ctx context.Context, row models.AttendanceRow) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceRow, error)
	SaveReport(ctx context.Context, rep models.AttendanceReport) error
}

// ReportUploader stores a rendered report and returns its object key and URL.
type ReportUploader interface {
	PutAttendanceReport(ctx context.Context, sessionID string, body []byte) (key, url string, err error)
}

// Processor handles attendance span and report jobs.
type Processor struct {
	store    Store
	uploader ReportUploader
	logger   *zap.Logger
	now      func() time.Time
}

// NewProcessor creates an attendance job processor.
func NewProcessor(store Store, uploader ReportUploader, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{store: store, uploader: uploader, logger: logger, now: time.Now}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeAttendanceSpan:
		var payload queue.AttendanceSpanPayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		return p.saveSpan(ctx, payload)
	case queue.JobTypeAttendanceReport:
		var payload queue.AttendanceReportPayload
		if err := job.Decode(&payload); err != nil {
			return err
		}
		// on the last attempt, spans whose leave event never arrived are closed at the session end
		final := job.Attempt+1 >= queue.MaxRetries
		return p.publishReport(ctx, payload, final)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *Processor) saveSpan(ctx context.Context, payload queue.AttendanceSpanPayload) error {
	id, err := uuid.Parse(payload.RecordID)
	if err != nil {
		return fmt.Errorf("record id %q: %w", payload.RecordID, err)
	}
	sid, err := uuid.Parse(payload.SessionID)
	if err != nil {
		return fmt.Errorf("session id %q: %w", payload.SessionID, err)
	}
	return p.store.UpsertSpan(ctx, models.AttendanceRow{
		ID:              id,
		SessionID:       sid,
		ParticipantID:   payload.ParticipantID,
		DisplayName:     payload.DisplayName,
		Role:            payload.Role,
		JoinTime:        payload.JoinTime,
		LeaveTime:       payload.LeaveTime,
		DurationMinutes: payload.DurationMinutes,
		LeaveReason:     payload.LeaveReason,
	})
}

func (p *Processor) publishReport(ctx context.Context, payload queue.AttendanceReportPayload, final bool) error {
	sid, err := uuid.Parse(payload.SessionID)
	if err != nil {
		return fmt.Errorf("session id %q: %w", payload.SessionID, err)
	}
	rows, err := p.store.ListBySession(ctx, sid)
	if err != nil {
		return err
	}
	if len(rows) < payload.Spans {
		if !final {
			return fmt.Errorf("report %s: %d of %d spans persisted: %w", payload.SessionID, len(rows), payload.Spans, ErrSpansMissing)
		}
		p.logger.Warn("publishing report with missing spans",
			zap.String("session_id", payload.SessionID),
			zap.Int("persisted", len(rows)),
			zap.Int("expected", payload.Spans))
	}
	report, err := BuildReport(payload.SessionID, rows, p.now())
	if errors.Is(err, ErrSpansOpen) && final {
		p.logger.Warn("closing spans without leave event", zap.String("session_id", payload.SessionID))
		report, err = BuildReport(payload.SessionID, CloseOpen(rows, payload.EndedAt), p.now())
	}
	if err != nil {
		return fmt.Errorf("report %s: %w", payload.SessionID, err)
	}
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	key, url, err := p.uploader.PutAttendanceReport(ctx, payload.SessionID, body)
	if err != nil {
		return fmt.Errorf("upload report: %w", err)
	}
	if err := p.store.SaveReport(ctx, models.AttendanceReport{
		SessionID:   sid,
		ObjectKey:   key,
		URL:         url,
		RecordCount: len(report.Records),
		CreatedAt:   report.GeneratedAt,
	}); err != nil {
		return err
	}
	p.logger.Info("attendance report published", zap.String("session_id", payload.SessionID),
		zap.Int("participants", len(report.Participants)), zap.String("key", key))
	return nil
}
