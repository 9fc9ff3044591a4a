package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-classroom/backend/internal/models"
)

// Repository reads class_sessions and records their start and end.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the session row. Unknown or malformed ids yield ErrSessionNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*models.ClassSession, error) {
	sid, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	const q = `SELECT id, title, teacher_id, scheduled_start, duration_minutes, max_participants,
		settings, is_active, started_at, ended_at, created_at, updated_at
		FROM class_sessions WHERE id = $1`
	var s models.ClassSession
	err = r.pool.QueryRow(ctx, q, sid).Scan(
		&s.ID, &s.Title, &s.TeacherID, &s.ScheduledStart, &s.DurationMinutes, &s.MaxParticipants,
		&s.Settings, &s.IsActive, &s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &s, nil
}

// MarkStarted flags the session active; the first start time wins.
func (r *Repository) MarkStarted(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE class_sessions SET is_active = TRUE, started_at = COALESCE(started_at, $2), updated_at = NOW()
		 WHERE id = $1 AND ended_at IS NULL`,
		id, at)
	if err != nil {
		return fmt.Errorf("mark session %s started: %w", id, err)
	}
	return nil
}

// MarkEnded closes the session; calling it again keeps the first end time.
func (r *Repository) MarkEnded(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE class_sessions SET is_active = FALSE, ended_at = COALESCE(ended_at, $2), updated_at = NOW()
		 WHERE id = $1`,
		id, at)
	if err != nil {
		return fmt.Errorf("mark session %s ended: %w", id, err)
	}
	return nil
}
