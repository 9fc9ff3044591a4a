package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-classroom/backend/internal/models"
)

// ErrReportNotFound is returned when no report has been published for a session yet.
var ErrReportNotFound = errors.New("attendance report not found")

// Repository handles attendance_records and attendance_reports.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attendance repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertSpan writes an opened or closed span. Opened and closed events for the
// same span may arrive in either order: a stored leave time is never cleared.
func (r *Repository) UpsertSpan(ctx context.Context, row models.AttendanceRow) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attendance_records
			(id, session_id, participant_id, display_name, role, join_time, leave_time, duration_minutes, leave_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
			leave_time = COALESCE(attendance_records.leave_time, EXCLUDED.leave_time),
			duration_minutes = CASE WHEN attendance_records.leave_time IS NULL
				THEN EXCLUDED.duration_minutes ELSE attendance_records.duration_minutes END,
			leave_reason = CASE WHEN attendance_records.leave_time IS NULL
				THEN EXCLUDED.leave_reason ELSE attendance_records.leave_reason END,
			updated_at = NOW()`,
		row.ID, row.SessionID, row.ParticipantID, row.DisplayName, row.Role,
		row.JoinTime, row.LeaveTime, row.DurationMinutes, row.LeaveReason)
	if err != nil {
		return fmt.Errorf("upsert span %s: %w", row.ID, err)
	}
	return nil
}

// ListBySession returns the persisted trail of a session in join order.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, participant_id, display_name, role, join_time, leave_time, duration_minutes, leave_reason
		 FROM attendance_records WHERE session_id = $1 ORDER BY join_time, id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list attendance %s: %w", sessionID, err)
	}
	defer rows.Close()
	var list []models.AttendanceRow
	for rows.Next() {
		var row models.AttendanceRow
		if err := rows.Scan(&row.ID, &row.SessionID, &row.ParticipantID, &row.DisplayName, &row.Role,
			&row.JoinTime, &row.LeaveTime, &row.DurationMinutes, &row.LeaveReason); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}

// SaveReport records where a session's report was uploaded. Republishing replaces it.
func (r *Repository) SaveReport(ctx context.Context, rep models.AttendanceReport) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attendance_reports (session_id, object_key, url, record_count, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id) DO UPDATE SET
			object_key = EXCLUDED.object_key, url = EXCLUDED.url,
			record_count = EXCLUDED.record_count, created_at = EXCLUDED.created_at`,
		rep.SessionID, rep.ObjectKey, rep.URL, rep.RecordCount, rep.CreatedAt)
	if err != nil {
		return fmt.Errorf("save report %s: %w", rep.SessionID, err)
	}
	return nil
}

// GetReport returns the published report of a session or ErrReportNotFound.
func (r *Repository) GetReport(ctx context.Context, sessionID uuid.UUID) (*models.AttendanceReport, error) {
	var rep models.AttendanceReport
	err := r.pool.QueryRow(ctx,
		`SELECT session_id, object_key, url, record_count, created_at FROM attendance_reports WHERE session_id = $1`,
		sessionID).Scan(&rep.SessionID, &rep.ObjectKey, &rep.URL, &rep.RecordCount, &rep.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", sessionID, err)
	}
	return &rep, nil
}
