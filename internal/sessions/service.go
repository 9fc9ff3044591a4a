package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/classroom"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/queue"
)

var (
	// ErrSessionNotFound is returned when no class session has the given id.
	ErrSessionNotFound = fmt.Errorf("class session: %w", classroom.ErrNotFound)
	// ErrOutsideWindow is returned when a session is joined outside its scheduled window.
	ErrOutsideWindow = fmt.Errorf("class session outside join window: %w", classroom.ErrForbidden)
)

// Store is the scheduling side of a class session.
type Store interface {
	Get(ctx context.Context, id string) (*models.ClassSession, error)
	MarkStarted(ctx context.Context, id string, at time.Time) error
	MarkEnded(ctx context.Context, id string, at time.Time) error
}

// ReportQueue receives a job once a session's room has retired.
type ReportQueue interface {
	EnqueueAttendanceReport(ctx context.Context, payload queue.AttendanceReportPayload) error
}

// Options tunes the service.
type Options struct {
	DefaultCapacity int
	Registry        []classroom.RegistryOption
	Now             func() time.Time
	HookTimeout     time.Duration
}

// Service connects class sessions to live rooms: it opens rooms inside the
// join window, ends them on request or schedule and records the outcome.
type Service struct {
	store    Store
	reports  ReportQueue
	registry *classroom.Registry
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
	timeout  time.Duration
	defCap   int
	hooks    sync.WaitGroup
}

// NewService builds the service and the room registry it owns.
func NewService(store Store, reports ReportQueue, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:    store,
		reports:  reports,
		validate: validator.New(),
		logger:   logger.Named("sessions"),
		now:      opts.Now,
		timeout:  opts.HookTimeout,
		defCap:   opts.DefaultCapacity,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}
	regOpts := append([]classroom.RegistryOption{
		classroom.OnRoomCreated(s.roomCreated),
		classroom.OnRoomRetired(s.roomRetired),
	}, opts.Registry...)
	s.registry = classroom.NewRegistry(logger, regOpts...)
	return s
}

// Registry exposes the live rooms.
func (s *Service) Registry() *classroom.Registry { return s.registry }

// Open returns the live room for sessionID, creating it when the session is
// inside its join window. A room that is already live is returned as is so
// participants can reconnect after the window closes.
func (s *Service) Open(ctx context.Context, sessionID string) (*classroom.Room, error) {
	if r, ok := s.registry.Get(sessionID); ok {
		return r, nil
	}
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.EndedAt != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, classroom.ErrRoomClosed)
	}
	if !sess.CanJoin(s.now()) {
		return nil, ErrOutsideWindow
	}
	cfg, err := s.RoomConfig(sess)
	if err != nil {
		return nil, err
	}
	return s.registry.GetOrCreate(sessionID, cfg)
}

// Room returns the live room for sessionID without creating one.
func (s *Service) Room(sessionID string) (*classroom.Room, bool) {
	return s.registry.Get(sessionID)
}

// Session returns the scheduling row.
func (s *Service) Session(ctx context.Context, sessionID string) (*models.ClassSession, error) {
	return s.store.Get(ctx, sessionID)
}

// RoomConfig overlays the session's stored settings on the defaults.
func (s *Service) RoomConfig(sess *models.ClassSession) (classroom.RoomConfig, error) {
	settings := classroom.DefaultSettings()
	if len(sess.Settings) > 0 && string(sess.Settings) != "null" {
		if err := json.Unmarshal(sess.Settings, &settings); err != nil {
			return classroom.RoomConfig{}, fmt.Errorf("session %s settings: %w", sess.ID, err)
		}
		if err := s.validate.Struct(settings); err != nil {
			return classroom.RoomConfig{}, fmt.Errorf("session %s settings: %w", sess.ID, err)
		}
	}
	capacity := sess.MaxParticipants
	if capacity <= 0 {
		capacity = s.defCap
	}
	return classroom.RoomConfig{Settings: settings, Capacity: capacity}, nil
}

// End closes the session. With a live room the room is ended and the record
// is written when it retires; otherwise the row is marked ended directly.
func (s *Service) End(ctx context.Context, sessionID, reason string) error {
	if r, ok := s.registry.Get(sessionID); ok {
		return r.End(ctx, reason)
	}
	if _, err := s.store.Get(ctx, sessionID); err != nil {
		return err
	}
	return s.store.MarkEnded(ctx, sessionID, s.now())
}

// Sweep ends every live room whose session has ended elsewhere or whose join
// window has passed.
func (s *Service) Sweep(ctx context.Context) int {
	now := s.now()
	ended := 0
	for _, id := range s.registry.SessionIDs() {
		sess, err := s.store.Get(ctx, id)
		if err != nil {
			s.logger.Warn("sweep: load session", zap.String("session_id", id), zap.Error(err))
			continue
		}
		if sess.EndedAt == nil && !now.After(sess.WindowEnd()) {
			continue
		}
		r, ok := s.registry.Get(id)
		if !ok {
			continue
		}
		if err := r.End(ctx, "scheduled_end"); err != nil {
			s.logger.Warn("sweep: end room", zap.String("session_id", id), zap.Error(err))
			continue
		}
		ended++
	}
	if ended > 0 {
		s.logger.Info("sweep ended rooms", zap.Int("count", ended))
	}
	return ended
}

// Shutdown ends all rooms and waits for their hooks.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.registry.Shutdown(ctx)
	done := make(chan struct{})
	go func() {
		s.hooks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Wait blocks until pending start/end hooks have finished.
func (s *Service) Wait() { s.hooks.Wait() }

func (s *Service) roomCreated(sessionID string) {
	at := s.now()
	s.async("mark started", sessionID, func(ctx context.Context) error {
		return s.store.MarkStarted(ctx, sessionID, at)
	})
}

// roomRetired runs on the room loop, so the database work is moved off it.
// A room closed by a server shutdown leaves the session open: it can be
// rejoined after the restart and is reported when it really ends.
func (s *Service) roomRetired(rt classroom.Retired) {
	if rt.Reason == classroom.EndedOnShutdown {
		s.logger.Info("room closed by shutdown, session left open", zap.String("session_id", rt.SessionID))
		return
	}
	at := s.now()
	s.async("mark ended", rt.SessionID, func(ctx context.Context) error {
		if err := s.store.MarkEnded(ctx, rt.SessionID, at); err != nil {
			return err
		}
		if s.reports == nil {
			return nil
		}
		return s.reports.EnqueueAttendanceReport(ctx, queue.AttendanceReportPayload{
			SessionID: rt.SessionID,
			EndedAt:   at,
			Spans:     rt.Spans,
		})
	})
}

func (s *Service) async(what, sessionID string, fn func(ctx context.Context) error) {
	s.hooks.Add(1)
	go func() {
		defer s.hooks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Error(what, zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
}
