package classroom

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

var referenceTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// testClock is a controllable time source.
type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func newTestClock() *testClock { return &testClock{current: referenceTime} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}

// sinkStub records attendance spans handed out by a room.
type sinkStub struct {
	mu     sync.Mutex
	opened []AttendanceRecord
	closed []AttendanceRecord
}

func (s *sinkStub) SpanOpened(rec AttendanceRecord) {
	s.mu.Lock()
	s.opened = append(s.opened, rec)
	s.mu.Unlock()
}

func (s *sinkStub) SpanClosed(rec AttendanceRecord) {
	s.mu.Lock()
	s.closed = append(s.closed, rec)
	s.mu.Unlock()
}

func (s *sinkStub) closedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.closed)
}

type fixture struct {
	t     *testing.T
	clock *testClock
	sink  *sinkStub
	room  *Room
	ctx   context.Context
}

func newFixture(t *testing.T, cfg RoomConfig, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		clock: newTestClock(),
		sink:  &sinkStub{},
		ctx:   context.Background(),
	}
	base := []Option{
		WithClock(f.clock.Now),
		WithLogger(zaptest.NewLogger(t)),
		WithAttendanceSink(f.sink),
	}
	f.room = NewRoom("session-1", cfg, append(base, opts...)...)
	t.Cleanup(func() {
		f.room.stop()
		<-f.room.Done()
	})
	return f
}

func (f *fixture) join(id string, role Role) (Participant, *Subscription) {
	f.t.Helper()
	p, sub, err := f.room.Join(f.ctx, JoinRequest{
		ParticipantID:   id,
		DisplayName:     "name-" + id,
		Role:            role,
		ConnectionToken: "conn-" + id,
	})
	if err != nil {
		f.t.Fatalf("join %s: %v", id, err)
	}
	return p, sub
}

// drain returns every event already queued on sub. Room commands deliver
// synchronously, so after a call returns its events are in the buffer.
func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func types(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func countType(events []Event, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func isClosed(sub *Subscription) bool {
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return true
			}
		default:
			return false
		}
	}
}

func boolPtr(b bool) *bool { return &b }
