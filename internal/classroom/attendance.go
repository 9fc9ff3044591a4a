package classroom

import (
	"time"

	"github.com/google/uuid"
)

// LeaveReason records why an attendance span was closed.
type LeaveReason string

const (
	ReasonLeft         LeaveReason = "left"
	ReasonKicked       LeaveReason = "kicked"
	ReasonDisconnected LeaveReason = "disconnected"
	ReasonSessionEnded LeaveReason = "session_ended"
)

// AttendanceRecord is one join span of one participant.
type AttendanceRecord struct {
	ID              string      `json:"id"`
	SessionID       string      `json:"sessionId"`
	ParticipantID   string      `json:"participantId"`
	DisplayName     string      `json:"displayName"`
	Role            Role        `json:"role"`
	JoinTime        time.Time   `json:"joinTime"`
	LeaveTime       *time.Time  `json:"leaveTime,omitempty"`
	DurationMinutes int         `json:"durationMinutes"`
	LeaveReason     LeaveReason `json:"leaveReason,omitempty"`
}

// Open reports whether the span has not been closed yet.
func (r AttendanceRecord) Open() bool { return r.LeaveTime == nil }

// AttendanceSink receives every opened and closed span. Implementations must
// not block: they are called from the room loop.
type AttendanceSink interface {
	SpanOpened(rec AttendanceRecord)
	SpanClosed(rec AttendanceRecord)
}

type nopSink struct{}

func (nopSink) SpanOpened(AttendanceRecord) {}
func (nopSink) SpanClosed(AttendanceRecord) {}

// wholeMinutes floors d to whole minutes; negative spans count as zero.
func wholeMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

// FinalDuration returns the duration of a closed span. For an open span it
// returns 0 and false; use Tracker.LiveDuration instead.
func FinalDuration(rec AttendanceRecord) (int, bool) {
	if rec.LeaveTime == nil {
		return 0, false
	}
	return wholeMinutes(rec.LeaveTime.Sub(rec.JoinTime)), true
}

// Tracker keeps the attendance spans of one room in insertion order.
// It is not safe for concurrent use; the owning room loop serializes access.
type Tracker struct {
	sessionID string
	records   []*AttendanceRecord
	open      map[string]*AttendanceRecord
}

// NewTracker returns an empty tracker for a session.
func NewTracker(sessionID string) *Tracker {
	return &Tracker{
		sessionID: sessionID,
		open:      make(map[string]*AttendanceRecord),
	}
}

// Open starts a new span. If the participant already has an open span it is
// returned unchanged, so a span is never opened twice.
func (t *Tracker) Open(p Participant, joinTime time.Time) AttendanceRecord {
	if rec, ok := t.open[p.ID]; ok {
		return *rec
	}
	rec := &AttendanceRecord{
		ID:            uuid.NewString(),
		SessionID:     t.sessionID,
		ParticipantID: p.ID,
		DisplayName:   p.DisplayName,
		Role:          p.Role,
		JoinTime:      joinTime,
	}
	t.records = append(t.records, rec)
	t.open[p.ID] = rec
	return *rec
}

// Close ends the open span of a participant. It reports false when there is
// no open span, which makes repeated closes harmless.
func (t *Tracker) Close(participantID string, leaveTime time.Time, reason LeaveReason) (AttendanceRecord, bool) {
	rec, ok := t.open[participantID]
	if !ok {
		return AttendanceRecord{}, false
	}
	if leaveTime.Before(rec.JoinTime) {
		leaveTime = rec.JoinTime
	}
	lt := leaveTime
	rec.LeaveTime = &lt
	rec.LeaveReason = reason
	rec.DurationMinutes, _ = FinalDuration(*rec)
	delete(t.open, participantID)
	return *rec, true
}

// Len is the number of spans ever opened, open or closed.
func (t *Tracker) Len() int { return len(t.records) }

// LiveDuration returns the whole minutes of the participant's open span as of now.
func (t *Tracker) LiveDuration(participantID string, now time.Time) (int, bool) {
	rec, ok := t.open[participantID]
	if !ok {
		return 0, false
	}
	return wholeMinutes(now.Sub(rec.JoinTime)), true
}

// List returns copies of all spans in insertion order. Open spans carry their
// live duration as of now.
func (t *Tracker) List(now time.Time) []AttendanceRecord {
	out := make([]AttendanceRecord, 0, len(t.records))
	for _, rec := range t.records {
		cp := *rec
		if cp.LeaveTime == nil {
			cp.DurationMinutes = wholeMinutes(now.Sub(cp.JoinTime))
		} else {
			lt := *cp.LeaveTime
			cp.LeaveTime = &lt
		}
		out = append(out, cp)
	}
	return out
}

// OpenIDs returns the participants with an open span, in join order.
func (t *Tracker) OpenIDs() []string {
	var ids []string
	for _, rec := range t.records {
		if rec.LeaveTime == nil {
			ids = append(ids, rec.ParticipantID)
		}
	}
	return ids
}
