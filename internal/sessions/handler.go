package sessions

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/classroom"
	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/pkg/response"
)

// Handler serves the session endpoints around live rooms.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a session handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Participants handles GET /sessions/:id/participants. Members of the live
// room and the session's teacher may list it.
func (h *Handler) Participants(c *gin.Context) {
	sessionID := c.Param("id")
	userID := middleware.UserID(c)
	room, ok := h.svc.Room(sessionID)
	if !ok {
		response.NotFound(c, "session is not live")
		return
	}
	list, err := room.Participants(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if !contains(list, userID) {
		sess, err := h.svc.Session(c.Request.Context(), sessionID)
		if err != nil {
			writeError(c, err)
			return
		}
		if sess.TeacherID != userID {
			response.Forbidden(c, "not a member of this session")
			return
		}
	}
	response.OK(c, gin.H{"participants": list})
}

// End handles POST /sessions/:id/end by the session's teacher.
func (h *Handler) End(c *gin.Context) {
	sessionID := c.Param("id")
	sess, err := h.svc.Session(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if sess.TeacherID != middleware.UserID(c) {
		response.Forbidden(c, "only the session teacher can end it")
		return
	}
	if err := h.svc.End(c.Request.Context(), sessionID, "ended_by_teacher"); err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info("session end requested", zap.String("session_id", sessionID), zap.String("by", sess.TeacherID))
	response.Accepted(c, gin.H{"session_id": sessionID, "status": "ending"})
}

func contains(list []classroom.Participant, id string) bool {
	for _, p := range list {
		if p.ID == id {
			return true
		}
	}
	return false
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
