package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/queue"
)

// storeStub mimics the upsert rule of the SQL: a stored leave time wins.
type storeStub struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]models.AttendanceRow
	order   []uuid.UUID
	reports map[uuid.UUID]models.AttendanceReport
}

func newStoreStub() *storeStub {
	return &storeStub{rows: map[uuid.UUID]models.AttendanceRow{}, reports: map[uuid.UUID]models.AttendanceReport{}}
}

func (s *storeStub) UpsertSpan(_ context.Context, row models.AttendanceRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[row.ID]
	if !ok {
		s.order = append(s.order, row.ID)
		s.rows[row.ID] = row
		return nil
	}
	if cur.LeaveTime == nil {
		cur.LeaveTime, cur.DurationMinutes, cur.LeaveReason = row.LeaveTime, row.DurationMinutes, row.LeaveReason
	}
	s.rows[row.ID] = cur
	return nil
}

func (s *storeStub) ListBySession(_ context.Context, sid uuid.UUID) ([]models.AttendanceRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AttendanceRow
	for _, id := range s.order {
		if s.rows[id].SessionID == sid {
			out = append(out, s.rows[id])
		}
	}
	return out, nil
}

func (s *storeStub) SaveReport(_ context.Context, rep models.AttendanceReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[rep.SessionID] = rep
	return nil
}

func (s *storeStub) GetReport(_ context.Context, sid uuid.UUID) (*models.AttendanceReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.reports[sid]
	if !ok {
		return nil, ErrReportNotFound
	}
	return &rep, nil
}

type uploaderStub struct {
	bodies map[string][]byte
	err    error
}

func (u *uploaderStub) PutAttendanceReport(_ context.Context, sessionID string, body []byte) (string, string, error) {
	if u.err != nil {
		return "", "", u.err
	}
	if u.bodies == nil {
		u.bodies = map[string][]byte{}
	}
	u.bodies[sessionID] = body
	return "attendance-reports/" + sessionID + ".json", "https://bucket/" + sessionID, nil
}

func job(t *testing.T, typ queue.JobType, payload any, attempt int) *queue.Job {
	t.Helper()
	j, err := queue.NewJob(typ, payload, t0)
	if err != nil {
		t.Fatal(err)
	}
	j.Attempt = attempt
	return j
}

func spanJob(t *testing.T, recordID, sessionID uuid.UUID, leave *time.Time, minutes int) *queue.Job {
	p := queue.AttendanceSpanPayload{
		RecordID:        recordID.String(),
		SessionID:       sessionID.String(),
		ParticipantID:   "amy",
		Role:            "student",
		JoinTime:        t0,
		LeaveTime:       leave,
		DurationMinutes: minutes,
	}
	if leave != nil {
		p.LeaveReason = "left"
	}
	return job(t, queue.JobTypeAttendanceSpan, p, 0)
}

func TestProcessor_SpanEventsInEitherOrder(t *testing.T) {
	store := newStoreStub()
	p := NewProcessor(store, &uploaderStub{}, zaptest.NewLogger(t))
	ctx := context.Background()
	sid, rid := uuid.New(), uuid.New()
	leave := t0.Add(3 * time.Minute)

	// closed arrives before opened
	if err := p.Process(ctx, spanJob(t, rid, sid, &leave, 3)); err != nil {
		t.Fatal(err)
	}
	if err := p.Process(ctx, spanJob(t, rid, sid, nil, 0)); err != nil {
		t.Fatal(err)
	}
	rows, _ := store.ListBySession(ctx, sid)
	if len(rows) != 1 || rows[0].LeaveTime == nil || rows[0].DurationMinutes != 3 {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestProcessor_Report(t *testing.T) {
	store := newStoreStub()
	up := &uploaderStub{}
	p := NewProcessor(store, up, zaptest.NewLogger(t))
	p.now = func() time.Time { return t0.Add(time.Hour) }
	ctx := context.Background()
	sid := uuid.New()
	rid := uuid.New()

	if err := p.Process(ctx, spanJob(t, rid, sid, nil, 0)); err != nil {
		t.Fatal(err)
	}
	report := job(t, queue.JobTypeAttendanceReport, queue.AttendanceReportPayload{SessionID: sid.String(), EndedAt: t0.Add(30 * time.Minute)}, 0)
	if err := p.Process(ctx, report); !errors.Is(err, ErrSpansOpen) {
		t.Fatalf("open span err = %v", err)
	}

	leave := t0.Add(20 * time.Minute)
	if err := p.Process(ctx, spanJob(t, rid, sid, &leave, 20)); err != nil {
		t.Fatal(err)
	}
	if err := p.Process(ctx, report); err != nil {
		t.Fatal(err)
	}
	rep, err := store.GetReport(ctx, sid)
	if err != nil || rep.RecordCount != 1 || !strings.HasSuffix(rep.ObjectKey, sid.String()+".json") {
		t.Fatalf("report row = %+v, %v", rep, err)
	}
	var doc Report
	if err := json.Unmarshal(up.bodies[sid.String()], &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Participants) != 1 || doc.Participants[0].TotalMinutes != 20 {
		t.Fatalf("document = %+v", doc)
	}
}

func TestProcessor_FinalAttemptClosesOpenSpans(t *testing.T) {
	store := newStoreStub()
	up := &uploaderStub{}
	p := NewProcessor(store, up, zaptest.NewLogger(t))
	ctx := context.Background()
	sid := uuid.New()
	if err := p.Process(ctx, spanJob(t, uuid.New(), sid, nil, 0)); err != nil {
		t.Fatal(err)
	}
	final := job(t, queue.JobTypeAttendanceReport,
		queue.AttendanceReportPayload{SessionID: sid.String(), EndedAt: t0.Add(45 * time.Minute)}, queue.MaxRetries-1)
	if err := p.Process(ctx, final); err != nil {
		t.Fatal(err)
	}
	var doc Report
	if err := json.Unmarshal(up.bodies[sid.String()], &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Participants[0].TotalMinutes != 45 {
		t.Fatalf("document = %+v", doc)
	}
}

func TestProcessor_Errors(t *testing.T) {
	p := NewProcessor(newStoreStub(), &uploaderStub{err: errors.New("s3 down")}, zaptest.NewLogger(t))
	ctx := context.Background()

	if err := p.Process(ctx, &queue.Job{Type: "mystery"}); err == nil {
		t.Fatal("unknown type accepted")
	}
	bad := job(t, queue.JobTypeAttendanceSpan, queue.AttendanceSpanPayload{RecordID: "nope", SessionID: uuid.NewString()}, 0)
	if err := p.Process(ctx, bad); err == nil {
		t.Fatal("bad record id accepted")
	}
	report := job(t, queue.JobTypeAttendanceReport, queue.AttendanceReportPayload{SessionID: uuid.NewString()}, 0)
	if err := p.Process(ctx, report); err == nil || !strings.Contains(err.Error(), "s3 down") {
		t.Fatalf("upload err = %v", err)
	}
}

func TestProcessor_ReportWaitsForEverySpan(t *testing.T) {
	store := newStoreStub()
	up := &uploaderStub{}
	p := NewProcessor(store, up, zaptest.NewLogger(t))
	ctx := context.Background()
	sid := uuid.New()
	first, second := t0.Add(10*time.Minute), t0.Add(25*time.Minute)

	if err := p.Process(ctx, spanJob(t, uuid.New(), sid, &first, 10)); err != nil {
		t.Fatal(err)
	}
	payload := queue.AttendanceReportPayload{SessionID: sid.String(), EndedAt: t0.Add(30 * time.Minute), Spans: 2}
	if err := p.Process(ctx, job(t, queue.JobTypeAttendanceReport, payload, 0)); !errors.Is(err, ErrSpansMissing) {
		t.Fatalf("missing span err = %v", err)
	}
	if _, err := store.GetReport(ctx, sid); !errors.Is(err, ErrReportNotFound) {
		t.Fatalf("report published early: %v", err)
	}

	if err := p.Process(ctx, spanJob(t, uuid.New(), sid, &second, 25)); err != nil {
		t.Fatal(err)
	}
	if err := p.Process(ctx, job(t, queue.JobTypeAttendanceReport, payload, 1)); err != nil {
		t.Fatal(err)
	}
	rep, err := store.GetReport(ctx, sid)
	if err != nil || rep.RecordCount != 2 {
		t.Fatalf("report row = %+v, %v", rep, err)
	}
}

func TestProcessor_FinalAttemptPublishesWithMissingSpans(t *testing.T) {
	store := newStoreStub()
	p := NewProcessor(store, &uploaderStub{}, zaptest.NewLogger(t))
	ctx := context.Background()
	sid := uuid.New()
	leave := t0.Add(5 * time.Minute)
	if err := p.Process(ctx, spanJob(t, uuid.New(), sid, &leave, 5)); err != nil {
		t.Fatal(err)
	}
	final := job(t, queue.JobTypeAttendanceReport,
		queue.AttendanceReportPayload{SessionID: sid.String(), EndedAt: leave, Spans: 3}, queue.MaxRetries-1)
	if err := p.Process(ctx, final); err != nil {
		t.Fatal(err)
	}
	if rep, err := store.GetReport(ctx, sid); err != nil || rep.RecordCount != 1 {
		t.Fatalf("report row = %+v, %v", rep, err)
	}
}
