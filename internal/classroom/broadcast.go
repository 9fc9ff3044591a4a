package classroom

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultOutboxSize is the per-recipient buffer when none is configured.
const DefaultOutboxSize = 256

// Subscription is one recipient's bounded outbound stream. The room loop is
// its only producer; when the buffer is full the oldest event is dropped so
// a slow reader never stalls the room. Signal events are never dropped that
// way: a stream that would lose one is closed instead. The channel is closed
// when the participant leaves, is kicked, is replaced by a reconnect, lags
// behind on signaling or the session ends.
type Subscription struct {
	participantID string
	token         string
	ch            chan Event
	dropped       atomic.Uint64
	closeOnce     sync.Once
}

func newSubscription(participantID, token string, size int) *Subscription {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Subscription{
		participantID: participantID,
		token:         token,
		ch:            make(chan Event, size),
	}
}

// Events is the stream to pump to the connection.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped is the number of events discarded because the reader fell behind.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// ParticipantID is the participant this stream belongs to.
func (s *Subscription) ParticipantID() string { return s.participantID }

// push delivers ev without blocking. It reports whether an older event had to
// be discarded to make room, and whether a discarded event was a signal.
func (s *Subscription) push(ev Event) (dropped, lostSignal bool) {
	for {
		select {
		case s.ch <- ev:
			return dropped, lostSignal
		default:
		}
		select {
		case old := <-s.ch:
			s.dropped.Add(1)
			dropped = true
			if old.Type == EventSignal {
				lostSignal = true
			}
		default:
		}
	}
}

// offer delivers ev only if there is room for it.
func (s *Subscription) offer(ev Event) bool {
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// broadcaster fans room events out to the current members. Owned by the room loop.
type broadcaster struct {
	sessionID string
	seq       uint64
	members   map[string]*Subscription
	now       func() time.Time
	logger    *zap.Logger
}

func newBroadcaster(sessionID string, now func() time.Time, logger *zap.Logger) *broadcaster {
	return &broadcaster{
		sessionID: sessionID,
		members:   make(map[string]*Subscription),
		now:       now,
		logger:    logger,
	}
}

// attach registers sub as the stream of its participant and returns the one it replaces.
func (b *broadcaster) attach(sub *Subscription) *Subscription {
	prev := b.members[sub.participantID]
	b.members[sub.participantID] = sub
	return prev
}

// detach removes and returns the participant's stream without closing it.
func (b *broadcaster) detach(participantID string) *Subscription {
	sub, ok := b.members[participantID]
	if !ok {
		return nil
	}
	delete(b.members, participantID)
	return sub
}

func (b *broadcaster) lookup(participantID string) (*Subscription, bool) {
	sub, ok := b.members[participantID]
	return sub, ok
}

// broadcast stamps the next sequence number and delivers to every member.
func (b *broadcaster) broadcast(typ EventType, data any) Event {
	b.seq++
	ev := Event{Seq: b.seq, SessionID: b.sessionID, Type: typ, At: b.now(), Data: data}
	for id, sub := range b.members {
		b.deliver(id, sub, ev)
	}
	return ev
}

// sendTo delivers a point-to-point event to the listed members that are present.
func (b *broadcaster) sendTo(typ EventType, data any, ids ...string) {
	ev := b.direct(typ, data)
	for _, id := range ids {
		if sub, ok := b.members[id]; ok {
			b.deliver(id, sub, ev)
		}
	}
}

func (b *broadcaster) direct(typ EventType, data any) Event {
	return Event{SessionID: b.sessionID, Type: typ, At: b.now(), Data: data}
}

func (b *broadcaster) deliver(id string, sub *Subscription, ev Event) {
	dropped, lostSignal := sub.push(ev)
	if lostSignal {
		b.cut(id, sub)
		return
	}
	if dropped {
		b.logger.Debug("outbox full, dropped oldest event",
			zap.String("participant_id", id),
			zap.Uint64("dropped_total", sub.Dropped()))
	}
}

// deliverSignal queues a signal without evicting anything. A recipient with a
// full outbox is cut off and false is returned.
func (b *broadcaster) deliverSignal(id string, sub *Subscription, ev Event) bool {
	if sub.offer(ev) {
		return true
	}
	b.cut(id, sub)
	return false
}

// cut detaches and closes a stream that fell behind on signaling. The
// connection closes with it and the participant can reconnect to resync.
func (b *broadcaster) cut(id string, sub *Subscription) {
	if cur, ok := b.members[id]; ok && cur == sub {
		delete(b.members, id)
	}
	sub.close()
	b.logger.Warn("outbox overflowed with signaling pending, stream closed",
		zap.String("participant_id", id),
		zap.Uint64("dropped_total", sub.Dropped()))
}

// closeAll closes every member stream and forgets them.
func (b *broadcaster) closeAll() {
	for id, sub := range b.members {
		sub.close()
		delete(b.members, id)
	}
}
