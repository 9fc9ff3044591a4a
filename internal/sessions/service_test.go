package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/aura-classroom/backend/internal/classroom"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/queue"
)

var scheduled = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type storeStub struct {
	mu       sync.Mutex
	sessions map[string]*models.ClassSession
	started  []string
	ended    []string
}

func newStoreStub(rows ...*models.ClassSession) *storeStub {
	s := &storeStub{sessions: map[string]*models.ClassSession{}}
	for _, r := range rows {
		s.sessions[r.ID.String()] = r
	}
	return s
}

func (s *storeStub) Get(_ context.Context, id string) (*models.ClassSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *storeStub) MarkStarted(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, id)
	return nil
}

func (s *storeStub) MarkEnded(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, id)
	if row, ok := s.sessions[id]; ok {
		row.EndedAt = &at
	}
	return nil
}

func (s *storeStub) endedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ended...)
}

type reportsStub struct {
	mu   sync.Mutex
	jobs []queue.AttendanceReportPayload
}

func (r *reportsStub) EnqueueAttendanceReport(_ context.Context, p queue.AttendanceReportPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, p)
	return nil
}

func newSession(teacher string) *models.ClassSession {
	return &models.ClassSession{
		ID:              uuid.New(),
		Title:           "Algebra",
		TeacherID:       teacher,
		ScheduledStart:  scheduled,
		DurationMinutes: 60,
		MaxParticipants: 30,
	}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newTestService(t *testing.T, store *storeStub, reports *reportsStub, now *clock) *Service {
	t.Helper()
	svc := NewService(store, reports, zaptest.NewLogger(t), Options{
		Now:      now.Now,
		Registry: []classroom.RegistryOption{classroom.WithRoomOptions(classroom.WithClock(now.Now))},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return svc
}

func TestService_OpenRespectsWindow(t *testing.T) {
	sess := newSession("t-1")
	store := newStoreStub(sess)
	now := &clock{t: scheduled.Add(-30 * time.Minute)}
	svc := newTestService(t, store, &reportsStub{}, now)
	ctx := context.Background()

	if _, err := svc.Open(ctx, sess.ID.String()); !errors.Is(err, ErrOutsideWindow) || !errors.Is(err, classroom.ErrForbidden) {
		t.Fatalf("early open err = %v", err)
	}
	if _, err := svc.Open(ctx, uuid.NewString()); !errors.Is(err, classroom.ErrNotFound) {
		t.Fatalf("unknown session err = %v", err)
	}

	now.Set(scheduled.Add(-5 * time.Minute))
	r1, err := svc.Open(ctx, sess.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	// a live room stays reachable after the window closes
	now.Set(scheduled.Add(3 * time.Hour))
	r2, err := svc.Open(ctx, sess.ID.String())
	if err != nil || r1 != r2 {
		t.Fatalf("reopen = %v,%v", r2, err)
	}
	svc.Wait()
	if len(store.started) != 1 {
		t.Fatalf("started = %v", store.started)
	}
}

func TestService_OpenEndedSession(t *testing.T) {
	sess := newSession("t-1")
	ended := scheduled.Add(10 * time.Minute)
	sess.EndedAt = &ended
	svc := newTestService(t, newStoreStub(sess), &reportsStub{}, &clock{t: scheduled.Add(20 * time.Minute)})
	if _, err := svc.Open(context.Background(), sess.ID.String()); !errors.Is(err, classroom.ErrRoomClosed) {
		t.Fatalf("err = %v, want ErrRoomClosed", err)
	}
}

func TestService_RoomConfigOverlaysSettings(t *testing.T) {
	svc := newTestService(t, newStoreStub(), &reportsStub{}, &clock{t: scheduled})

	sess := newSession("t")
	sess.MaxParticipants = 0
	sess.Settings = json.RawMessage(`{"allowPrivateMessages":false,"waitingRoomEnabled":true}`)
	cfg, err := svc.RoomConfig(sess)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Settings.AllowPrivateMessages || !cfg.Settings.WaitingRoomEnabled || !cfg.Settings.AllowHandRaise {
		t.Fatalf("settings = %+v", cfg.Settings)
	}
	if cfg.Capacity != 0 {
		t.Fatalf("capacity = %d", cfg.Capacity)
	}

	sess.Settings = json.RawMessage(`{"defaultCameraState":"sideways"}`)
	if _, err := svc.RoomConfig(sess); err == nil {
		t.Fatal("invalid camera state accepted")
	}
}

func TestService_EndRetiresRoomAndQueuesReport(t *testing.T) {
	sess := newSession("t-1")
	store := newStoreStub(sess)
	reports := &reportsStub{}
	svc := newTestService(t, store, reports, &clock{t: scheduled})
	ctx := context.Background()

	room, err := svc.Open(ctx, sess.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	for _, req := range []classroom.JoinRequest{
		{ParticipantID: "t-1", Role: classroom.RoleTeacher},
		{ParticipantID: "s-1", Role: classroom.RoleStudent},
	} {
		if _, _, err := room.Join(ctx, req); err != nil {
			t.Fatal(err)
		}
	}
	if err := room.Leave(ctx, "s-1"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := room.Join(ctx, classroom.JoinRequest{ParticipantID: "s-1", Role: classroom.RoleStudent}); err != nil {
		t.Fatal(err)
	}
	if err := svc.End(ctx, sess.ID.String(), classroom.EndedByTeacher); err != nil {
		t.Fatal(err)
	}
	<-room.Done()
	svc.Wait()

	if got := store.endedIDs(); len(got) != 1 || got[0] != sess.ID.String() {
		t.Fatalf("ended = %v", got)
	}
	if len(reports.jobs) != 1 || reports.jobs[0].SessionID != sess.ID.String() || reports.jobs[0].Spans != 3 {
		t.Fatalf("report jobs = %+v", reports.jobs)
	}
	if _, err := svc.Open(ctx, sess.ID.String()); !errors.Is(err, classroom.ErrRoomClosed) {
		t.Fatalf("open after end err = %v", err)
	}
}

func TestService_ShutdownLeavesSessionsOpen(t *testing.T) {
	sess := newSession("t-1")
	store := newStoreStub(sess)
	reports := &reportsStub{}
	now := &clock{t: scheduled}
	svc := newTestService(t, store, reports, now)
	ctx := context.Background()

	room, err := svc.Open(ctx, sess.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := room.Join(ctx, classroom.JoinRequest{ParticipantID: "t-1", Role: classroom.RoleTeacher}); err != nil {
		t.Fatal(err)
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		t.Fatal(err)
	}
	if got := store.endedIDs(); len(got) != 0 {
		t.Fatalf("ended on shutdown = %v", got)
	}
	if len(reports.jobs) != 0 {
		t.Fatalf("report jobs on shutdown = %+v", reports.jobs)
	}

	// after a restart the class can be rejoined
	restarted := newTestService(t, store, reports, now)
	if _, err := restarted.Open(ctx, sess.ID.String()); err != nil {
		t.Fatalf("reopen after restart: %v", err)
	}
}

func TestService_EndWithoutLiveRoom(t *testing.T) {
	sess := newSession("t-1")
	store := newStoreStub(sess)
	reports := &reportsStub{}
	svc := newTestService(t, store, reports, &clock{t: scheduled})

	if err := svc.End(context.Background(), sess.ID.String(), "x"); err != nil {
		t.Fatal(err)
	}
	if len(store.endedIDs()) != 1 || len(reports.jobs) != 0 {
		t.Fatalf("ended=%v reports=%v", store.endedIDs(), reports.jobs)
	}
	if err := svc.End(context.Background(), uuid.NewString(), "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("unknown err = %v", err)
	}
}

func TestService_SweepEndsElapsedRooms(t *testing.T) {
	early := newSession("t-1")
	long := newSession("t-2")
	long.DurationMinutes = 240
	store := newStoreStub(early, long)
	now := &clock{t: scheduled}
	svc := newTestService(t, store, &reportsStub{}, now)
	ctx := context.Background()

	r1, _ := svc.Open(ctx, early.ID.String())
	r2, _ := svc.Open(ctx, long.ID.String())

	if n := svc.Sweep(ctx); n != 0 {
		t.Fatalf("swept %d rooms inside window", n)
	}
	now.Set(scheduled.Add(2*time.Hour + time.Minute))
	if n := svc.Sweep(ctx); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	<-r1.Done()
	select {
	case <-r2.Done():
		t.Fatal("long session should still be live")
	default:
	}
}

func TestService_SweepOnSchedule(t *testing.T) {
	sess := newSession("t-1")
	store := newStoreStub(sess)
	now := &clock{t: scheduled}
	svc := newTestService(t, store, &reportsStub{}, now)
	room, _ := svc.Open(context.Background(), sess.ID.String())
	now.Set(scheduled.Add(5 * time.Hour))

	sched, err := svc.StartSweep("@every 1s", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()
	select {
	case <-room.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled sweep did not end the room")
	}

	if _, err := svc.StartSweep("not a schedule", time.Second); err == nil {
		t.Fatal("bad spec accepted")
	}
}
