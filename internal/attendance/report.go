package attendance

import (
	"errors"
	"sort"
	"time"

	"github.com/aura-classroom/backend/internal/classroom"
	"github.com/aura-classroom/backend/internal/models"
)

var (
	// ErrSpansOpen is returned when a report is built before every span has closed.
	ErrSpansOpen = errors.New("attendance spans still open")
	// ErrSpansMissing is returned while fewer spans are persisted than the room opened.
	ErrSpansMissing = errors.New("attendance spans not yet persisted")
)

// ParticipantTotal sums the spans of one participant.
type ParticipantTotal struct {
	ParticipantID string    `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	Role          string    `json:"role"`
	Spans         int       `json:"spans"`
	TotalMinutes  int       `json:"total_minutes"`
	FirstJoin     time.Time `json:"first_join"`
	LastLeave     time.Time `json:"last_leave"`
}

// Report is the final attendance document of an ended session.
type Report struct {
	SessionID    string                 `json:"session_id"`
	GeneratedAt  time.Time              `json:"generated_at"`
	Participants []ParticipantTotal     `json:"participants"`
	Records      []models.AttendanceRow `json:"records"`
}

// BuildReport totals closed spans per participant, ordered by first join.
func BuildReport(sessionID string, rows []models.AttendanceRow, generatedAt time.Time) (*Report, error) {
	byID := make(map[string]*ParticipantTotal)
	var order []string
	for _, row := range rows {
		if row.LeaveTime == nil {
			return nil, ErrSpansOpen
		}
		t, ok := byID[row.ParticipantID]
		if !ok {
			t = &ParticipantTotal{
				ParticipantID: row.ParticipantID,
				DisplayName:   row.DisplayName,
				Role:          row.Role,
				FirstJoin:     row.JoinTime,
			}
			byID[row.ParticipantID] = t
			order = append(order, row.ParticipantID)
		}
		t.Spans++
		t.TotalMinutes += row.DurationMinutes
		if row.JoinTime.Before(t.FirstJoin) {
			t.FirstJoin = row.JoinTime
		}
		if row.LeaveTime.After(t.LastLeave) {
			t.LastLeave = *row.LeaveTime
		}
	}
	totals := make([]ParticipantTotal, 0, len(order))
	for _, id := range order {
		totals = append(totals, *byID[id])
	}
	sort.SliceStable(totals, func(i, j int) bool {
		if totals[i].FirstJoin.Equal(totals[j].FirstJoin) {
			return totals[i].ParticipantID < totals[j].ParticipantID
		}
		return totals[i].FirstJoin.Before(totals[j].FirstJoin)
	})
	if rows == nil {
		rows = []models.AttendanceRow{}
	}
	return &Report{SessionID: sessionID, GeneratedAt: generatedAt, Participants: totals, Records: rows}, nil
}

// CloseOpen closes spans that never received their leave event at endedAt.
// It is used once retries are exhausted so a lost event cannot block the report.
func CloseOpen(rows []models.AttendanceRow, endedAt time.Time) []models.AttendanceRow {
	out := make([]models.AttendanceRow, len(rows))
	for i, row := range rows {
		if row.LeaveTime == nil {
			leave := endedAt
			if leave.Before(row.JoinTime) {
				leave = row.JoinTime
			}
			row.LeaveTime = &leave
			row.LeaveReason = string(classroom.ReasonSessionEnded)
			row.DurationMinutes, _ = classroom.FinalDuration(classroom.AttendanceRecord{JoinTime: row.JoinTime, LeaveTime: &leave})
		}
		out[i] = row
	}
	return out
}
