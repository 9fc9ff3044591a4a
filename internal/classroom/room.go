package classroom

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultCommandQueue = 64

// Reasons a room ends with, reported in session_ended and to OnRoomRetired.
const (
	EndedByTeacher   = "ended_by_teacher"
	EndedOnShutdown  = "server_shutdown"
	EndedRoomRemoved = "room_removed"
)

// rollbackTimeout bounds the cleanup of a join whose outcome is unknown.
const rollbackTimeout = 5 * time.Second

// Option configures a Room.
type Option func(*Room)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Room) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the room logger; it is scoped with the session id.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Room) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithAttendanceSink receives every opened and closed attendance span.
func WithAttendanceSink(sink AttendanceSink) Option {
	return func(r *Room) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// WithOutboxSize sets the per-recipient event buffer.
func WithOutboxSize(n int) Option {
	return func(r *Room) { r.outboxSize = n }
}

// WithCommandQueue sets the capacity of the inbound command channel.
func WithCommandQueue(n int) Option {
	return func(r *Room) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

type result struct {
	v   any
	err error
}

type command struct {
	name  string
	fn    func() (any, error)
	reply chan result
}

type lobbyEntry struct {
	p   *Participant
	sub *Subscription
}

// Room is the in-memory state of one live class session. All state is owned
// by a single goroutine that applies commands one at a time, so every member
// observes the same order of broadcast events.
type Room struct {
	sessionID string
	cmds      chan command
	quit      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	onRetire  func(*Room)

	now        func() time.Time
	logger     *zap.Logger
	sink       AttendanceSink
	outboxSize int
	queueSize  int

	// owned by the loop
	cfg          RoomConfig
	closed       bool
	endReason    string
	participants map[string]*Participant
	lobby        map[string]*lobbyEntry
	hands        []*HandRaise
	tracker      *Tracker
	bc           *broadcaster
	rl           relay
}

// NewRoom creates a room and starts its command loop. Rooms are normally
// obtained from a Registry, which also retires them.
func NewRoom(sessionID string, cfg RoomConfig, opts ...Option) *Room {
	return newRoom(sessionID, cfg, nil, opts...)
}

func newRoom(sessionID string, cfg RoomConfig, onRetire func(*Room), opts ...Option) *Room {
	r := &Room{
		sessionID:    sessionID,
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		onRetire:     onRetire,
		now:          time.Now,
		logger:       zap.NewNop(),
		sink:         nopSink{},
		outboxSize:   DefaultOutboxSize,
		queueSize:    defaultCommandQueue,
		cfg:          cfg,
		participants: make(map[string]*Participant),
		lobby:        make(map[string]*lobbyEntry),
		tracker:      NewTracker(sessionID),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("session_id", sessionID))
	r.cmds = make(chan command, r.queueSize)
	r.bc = newBroadcaster(sessionID, r.now, r.logger)
	r.rl = relay{b: r.bc}
	go r.run()
	return r
}

// SessionID returns the session this room serves.
func (r *Room) SessionID() string { return r.sessionID }

// Done is closed once the command loop has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) run() {
	defer close(r.done)
	for {
		select {
		case cmd := <-r.cmds:
			r.exec(cmd)
			if r.closed && len(r.participants) == 0 && len(r.lobby) == 0 {
				r.logger.Info("room retired")
				if r.onRetire != nil {
					r.onRetire(r)
				}
				return
			}
		case <-r.quit:
			if !r.closed {
				r.terminate(EndedRoomRemoved, "")
			}
			r.logger.Info("room stopped")
			return
		}
	}
}

// exec runs one command. A panic is contained here so the room stays available.
func (r *Room) exec(cmd command) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("room command panicked",
				zap.String("command", cmd.name),
				zap.Any("panic", p),
				zap.Stack("stack"))
			cmd.reply <- result{err: fmt.Errorf("%s: %w", cmd.name, ErrInternal)}
		}
	}()
	v, err := cmd.fn()
	cmd.reply <- result{v: v, err: err}
}

func (r *Room) stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

// call enqueues fn on the room loop and waits for its result. If ctx ends
// after the command was enqueued the command still runs to completion.
func call[T any](ctx context.Context, r *Room, name string, fn func() (T, error)) (T, error) {
	var zero T
	reply := make(chan result, 1)
	cmd := command{
		name:  name,
		fn:    func() (any, error) { return fn() },
		reply: reply,
	}
	select {
	case <-r.done:
		return zero, fmt.Errorf("%s: %w", name, ErrRoomClosed)
	default:
	}
	select {
	case r.cmds <- cmd:
	case <-r.done:
		return zero, fmt.Errorf("%s: %w", name, ErrRoomClosed)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case res := <-reply:
		return unwrap[T](res)
	case <-r.done:
		select {
		case res := <-reply:
			return unwrap[T](res)
		default:
			return zero, fmt.Errorf("%s: %w", name, ErrRoomClosed)
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func unwrap[T any](res result) (T, error) {
	v, _ := res.v.(T)
	return v, res.err
}

// member returns the present participant or ErrForbidden: callers that are
// not in the room may not act on it.
func (r *Room) member(id string) (*Participant, error) {
	p, ok := r.participants[id]
	if !ok {
		return nil, fmt.Errorf("participant %s not in room: %w", id, ErrForbidden)
	}
	return p, nil
}

func (r *Room) allow(req Request) error {
	req.Settings = r.cfg.Settings
	if !Allow(req) {
		return fmt.Errorf("%s by %s: %w", req.Action, req.RequesterID, ErrForbidden)
	}
	return nil
}

func (r *Room) teacherIDs() []string {
	var ids []string
	for id, p := range r.participants {
		if p.Role == RoleTeacher {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Room) snapshot(self Participant, waiting bool) RoomState {
	st := RoomState{
		Self:     self,
		Settings: r.cfg.Settings,
		Seq:      r.bc.seq,
		Waiting:  waiting,
	}
	if waiting {
		return st
	}
	st.Participants = r.participantList()
	for _, h := range r.hands {
		if h.Active {
			st.HandRaises = append(st.HandRaises, *h)
		}
	}
	return st
}

func (r *Room) participantList() []Participant {
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// spanOpened and spanClosed forward to the sink and keep teachers' attendance panels live.
func (r *Room) spanOpened(rec AttendanceRecord) {
	r.toSink("opened", rec, r.sink.SpanOpened)
	r.bc.sendTo(EventAttendanceUpdated, rec, r.teacherIDs()...)
}

func (r *Room) spanClosed(rec AttendanceRecord) {
	r.toSink("closed", rec, r.sink.SpanClosed)
	r.bc.sendTo(EventAttendanceUpdated, rec, r.teacherIDs()...)
}

// toSink hands rec to the attendance sink. A faulty sink loses the span
// downstream but never leaves the room half way through a command.
func (r *Room) toSink(what string, rec AttendanceRecord, fn func(AttendanceRecord)) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("attendance sink panicked",
				zap.String("span", what),
				zap.String("participant_id", rec.ParticipantID),
				zap.Any("panic", p))
		}
	}()
	fn(rec)
}

// terminate closes every span, announces the end and releases all streams.
func (r *Room) terminate(reason, by string) {
	r.closed = true
	r.endReason = reason
	now := r.now()
	var closed []AttendanceRecord
	for _, id := range r.tracker.OpenIDs() {
		if rec, ok := r.tracker.Close(id, now, ReasonSessionEnded); ok {
			closed = append(closed, rec)
		}
	}
	for _, rec := range closed {
		r.spanClosed(rec)
	}
	ended := r.bc.broadcast(EventSessionEnded, SessionEnded{Reason: reason, By: by})
	r.bc.closeAll()
	for id, e := range r.lobby {
		e.sub.push(ended)
		e.sub.close()
		delete(r.lobby, id)
	}
	for id := range r.participants {
		delete(r.participants, id)
	}
	r.logger.Info("session ended",
		zap.String("reason", reason),
		zap.String("by", by),
		zap.Int("spans_closed", len(closed)))
}
