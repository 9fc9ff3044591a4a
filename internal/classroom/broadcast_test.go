package classroom

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSubscription_DropsOldestWhenFull(t *testing.T) {
	sub := newSubscription("p", "tok", 3)
	for i := uint64(1); i <= 5; i++ {
		sub.push(Event{Seq: i})
	}
	if got := sub.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
	events := drain(sub)
	if len(events) != 3 {
		t.Fatalf("buffered = %d, want 3", len(events))
	}
	for i, want := range []uint64{3, 4, 5} {
		if events[i].Seq != want {
			t.Fatalf("event %d seq = %d, want %d", i, events[i].Seq, want)
		}
	}
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	sub := newSubscription("p", "tok", 1)
	sub.close()
	sub.close()
	if !isClosed(sub) {
		t.Fatal("expected closed channel")
	}
}

func TestBroadcaster_SequenceAndAddressing(t *testing.T) {
	b := newBroadcaster("s", func() time.Time { return referenceTime }, zap.NewNop())
	a := newSubscription("a", "ta", 8)
	c := newSubscription("c", "tc", 8)
	b.attach(a)
	b.attach(c)

	b.broadcast(EventChatMessage, "one")
	b.sendTo(EventSignal, "only-c", "c", "missing")
	b.broadcast(EventChatMessage, "two")

	gotA, gotC := drain(a), drain(c)
	if len(gotA) != 2 || len(gotC) != 3 {
		t.Fatalf("a=%v c=%v", types(gotA), types(gotC))
	}
	if gotA[0].Seq != 1 || gotA[1].Seq != 2 {
		t.Fatalf("a seqs = %d,%d", gotA[0].Seq, gotA[1].Seq)
	}
	if gotC[1].Type != EventSignal || gotC[1].Seq != 0 {
		t.Fatalf("direct event = %+v", gotC[1])
	}
}

func TestBroadcaster_AttachReturnsReplaced(t *testing.T) {
	b := newBroadcaster("s", time.Now, zap.NewNop())
	old := newSubscription("p", "t1", 1)
	if prev := b.attach(old); prev != nil {
		t.Fatal("first attach replaced something")
	}
	if prev := b.attach(newSubscription("p", "t2", 1)); prev != old {
		t.Fatal("second attach should return the first subscription")
	}
	if b.detach("p") == nil || b.detach("p") != nil {
		t.Fatal("detach should return the stream once")
	}
}
