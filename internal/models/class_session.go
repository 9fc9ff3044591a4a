package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	// JoinOpensBefore is how long before the scheduled start a session accepts joins.
	JoinOpensBefore = 10 * time.Minute
	// JoinClosesAfter is how long after the scheduled start a session accepts joins.
	JoinClosesAfter = 2 * time.Hour
)

// ClassSession is the scheduling row a live classroom is created from.
type ClassSession struct {
	ID              uuid.UUID       `json:"id"`
	Title           string          `json:"title"`
	TeacherID       string          `json:"teacher_id"`
	ScheduledStart  time.Time       `json:"scheduled_start"`
	DurationMinutes int             `json:"duration_minutes"`
	MaxParticipants int             `json:"max_participants"`
	Settings        json.RawMessage `json:"settings,omitempty"`
	IsActive        bool            `json:"is_active"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// WindowEnd is the last moment a participant may join. Sessions scheduled
// longer than JoinClosesAfter stay open for their full duration.
func (s *ClassSession) WindowEnd() time.Time {
	end := s.ScheduledStart.Add(JoinClosesAfter)
	if d := s.ScheduledStart.Add(time.Duration(s.DurationMinutes) * time.Minute); d.After(end) {
		return d
	}
	return end
}

// CanJoin reports whether now falls inside the join window of a session that has not ended.
func (s *ClassSession) CanJoin(now time.Time) bool {
	if s.EndedAt != nil {
		return false
	}
	return !now.Before(s.ScheduledStart.Add(-JoinOpensBefore)) && !now.After(s.WindowEnd())
}

// AttendanceRow is a persisted attendance span.
type AttendanceRow struct {
	ID              uuid.UUID  `json:"id"`
	SessionID       uuid.UUID  `json:"session_id"`
	ParticipantID   string     `json:"participant_id"`
	DisplayName     string     `json:"display_name"`
	Role            string     `json:"role"`
	JoinTime        time.Time  `json:"join_time"`
	LeaveTime       *time.Time `json:"leave_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	LeaveReason     string     `json:"leave_reason,omitempty"`
}

// AttendanceReport points at the uploaded final report of a session.
type AttendanceReport struct {
	SessionID   uuid.UUID `json:"session_id"`
	ObjectKey   string    `json:"object_key"`
	URL         string    `json:"url"`
	RecordCount int       `json:"record_count"`
	CreatedAt   time.Time `json:"created_at"`
}
