package attendance

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aura-classroom/backend/internal/models"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func span(pid string, join, leave time.Duration, minutes int) models.AttendanceRow {
	row := models.AttendanceRow{
		ID:              uuid.New(),
		ParticipantID:   pid,
		DisplayName:     pid,
		Role:            "student",
		JoinTime:        t0.Add(join),
		DurationMinutes: minutes,
	}
	if leave >= 0 {
		lt := t0.Add(leave)
		row.LeaveTime = &lt
		row.LeaveReason = "left"
	}
	return row
}

func TestBuildReport(t *testing.T) {
	rows := []models.AttendanceRow{
		span("bob", 5*time.Minute, 20*time.Minute, 15),
		span("amy", 0, 10*time.Minute, 10),
		span("bob", 30*time.Minute, 50*time.Minute+59*time.Second, 20),
	}
	rep, err := BuildReport("s-1", rows, t0.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Participants) != 2 || len(rep.Records) != 3 {
		t.Fatalf("report = %+v", rep)
	}
	amy, bob := rep.Participants[0], rep.Participants[1]
	if amy.ParticipantID != "amy" || bob.ParticipantID != "bob" {
		t.Fatalf("order = %s,%s", amy.ParticipantID, bob.ParticipantID)
	}
	if bob.Spans != 2 || bob.TotalMinutes != 35 {
		t.Fatalf("bob = %+v", bob)
	}
	if !bob.LastLeave.Equal(t0.Add(50*time.Minute + 59*time.Second)) {
		t.Fatalf("bob last leave = %v", bob.LastLeave)
	}
}

func TestBuildReport_Empty(t *testing.T) {
	rep, err := BuildReport("s-1", nil, t0)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Records == nil || len(rep.Participants) != 0 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestBuildReport_OpenSpan(t *testing.T) {
	rows := []models.AttendanceRow{span("amy", 0, -1, 0)}
	if _, err := BuildReport("s-1", rows, t0); !errors.Is(err, ErrSpansOpen) {
		t.Fatalf("err = %v", err)
	}

	closed := CloseOpen(rows, t0.Add(61*time.Second))
	if rows[0].LeaveTime != nil {
		t.Fatal("CloseOpen modified its input")
	}
	if closed[0].DurationMinutes != 1 || closed[0].LeaveReason != "session_ended" {
		t.Fatalf("closed = %+v", closed[0])
	}
	// a join after the recorded end clamps to zero
	late := CloseOpen([]models.AttendanceRow{span("bob", time.Hour, -1, 0)}, t0)
	if late[0].DurationMinutes != 0 || !late[0].LeaveTime.Equal(late[0].JoinTime) {
		t.Fatalf("late = %+v", late[0])
	}
}
