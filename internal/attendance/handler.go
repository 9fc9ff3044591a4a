package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/classroom"
	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/response"
)

// ReportLinkExpiry is how long a signed report link stays valid.
const ReportLinkExpiry = 15 * time.Minute

// Sessions resolves session rows and live rooms.
type Sessions interface {
	Session(ctx context.Context, id string) (*models.ClassSession, error)
	Room(id string) (*classroom.Room, bool)
}

// Reader reads the persisted trail and published reports.
type Reader interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceRow, error)
	GetReport(ctx context.Context, sessionID uuid.UUID) (*models.AttendanceReport, error)
}

// ReportLinker signs download links for published reports.
type ReportLinker interface {
	ReportDownloadURL(ctx context.Context, sessionID string, expires time.Duration) (string, error)
}

// Handler serves GET /sessions/:id/attendance and its report.
type Handler struct {
	sessions Sessions
	store    Reader
	links    ReportLinker
	logger   *zap.Logger
}

// NewHandler creates an attendance handler. links may be nil when object
// storage is not configured; the stored URL is returned instead.
func NewHandler(sessions Sessions, store Reader, links ReportLinker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, store: store, links: links, logger: logger}
}

// List returns the live trail to a teacher in the room, otherwise the
// persisted trail to the session's teacher.
func (h *Handler) List(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	userID := middleware.UserID(c)

	if room, ok := h.sessions.Room(sessionID); ok {
		recs, err := room.Attendance(ctx, userID)
		if err == nil {
			response.OK(c, gin.H{"live": true, "records": recs})
			return
		}
		if !errors.Is(err, classroom.ErrForbidden) && !errors.Is(err, classroom.ErrRoomClosed) {
			writeError(c, err)
			return
		}
	}

	sess, ok := h.ownSession(c, sessionID, userID)
	if !ok {
		return
	}
	rows, err := h.store.ListBySession(ctx, sess.ID)
	if err != nil {
		h.logger.Error("list attendance", zap.String("session_id", sessionID), zap.Error(err))
		response.Internal(c, "failed to list attendance")
		return
	}
	if rows == nil {
		rows = []models.AttendanceRow{}
	}
	response.OK(c, gin.H{"live": false, "records": rows})
}

// Report returns a download link for the final report of an ended session.
func (h *Handler) Report(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	sess, ok := h.ownSession(c, sessionID, middleware.UserID(c))
	if !ok {
		return
	}
	rep, err := h.store.GetReport(ctx, sess.ID)
	if errors.Is(err, ErrReportNotFound) {
		response.NotFound(c, "report not published yet")
		return
	}
	if err != nil {
		h.logger.Error("get report", zap.String("session_id", sessionID), zap.Error(err))
		response.Internal(c, "failed to load report")
		return
	}
	url := rep.URL
	expires := time.Time{}
	if h.links != nil {
		url, err = h.links.ReportDownloadURL(ctx, sessionID, ReportLinkExpiry)
		if err != nil {
			h.logger.Error("sign report url", zap.String("session_id", sessionID), zap.Error(err))
			response.Internal(c, "failed to sign report url")
			return
		}
		expires = time.Now().Add(ReportLinkExpiry)
	}
	body := gin.H{"url": url, "record_count": rep.RecordCount, "created_at": rep.CreatedAt}
	if !expires.IsZero() {
		body["expires_at"] = expires
	}
	response.OK(c, body)
}

func (h *Handler) ownSession(c *gin.Context, sessionID, userID string) (*models.ClassSession, bool) {
	sess, err := h.sessions.Session(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if sess.TeacherID != userID {
		response.Forbidden(c, "only the session teacher can view attendance")
		return nil, false
	}
	return sess, true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, classroom.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, classroom.ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, classroom.ErrRoomClosed):
		response.Gone(c, err.Error())
	default:
		response.Internal(c, "internal error")
	}
}
