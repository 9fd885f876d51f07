package api

import (
	"net/http"

	"ai-companion-care/backend/internal/models"
	"ai-companion-care/backend/internal/service"
	apperrors "ai-companion-care/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// SessionController handles the session lifecycle endpoints.
type SessionController struct {
	sessions *service.SessionService
	messages *service.MessageService
}

// NewSessionController creates a session controller.
func NewSessionController(sessions *service.SessionService, messages *service.MessageService) *SessionController {
	return &SessionController{
		sessions: sessions,
		messages: messages,
	}
}

type createSessionRequest struct {
	SessionID string `json:"session_id"`
	Voice     string `json:"voice"`
	Language  string `json:"language"`
}

// CreateSession starts a session for the caller, anonymous or
// authenticated. A pre-existing active session comes back with 200 and
// the pre_existing marker instead of a conflict error.
func (c *SessionController) CreateSession(ctx *gin.Context) {
	var req createSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		ctx.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "Invalid request body"))
		return
	}

	var userID *string
	if id, ok := ctx.Get("userId"); ok {
		if s, ok := id.(string); ok && s != "" {
			userID = &s
		}
	}
	role := ctx.GetString("role")

	result, err := c.sessions.StartSession(service.StartSessionRequest{
		SessionID: req.SessionID,
		UserID:    userID,
		UserRole:  role,
		Voice:     req.Voice,
		Language:  req.Language,
	})
	if err != nil {
		ctx.Error(err)
		return
	}

	status := http.StatusCreated
	if result.PreExisting {
		status = http.StatusOK
	}
	ctx.JSON(status, result)
}

type endSessionRequest struct {
	Reason string `json:"reason"`
}

// EndSession ends the session. Idempotent: a second call returns 200
// with already_ended set.
func (c *SessionController) EndSession(ctx *gin.Context) {
	sessionID := ctx.Param("id")

	var req endSessionRequest
	ctx.ShouldBindJSON(&req)

	endedBy := models.EndedByUser
	if ctx.GetString("role") == "admin" {
		if userID := ctx.GetString("userId"); userID != "" {
			endedBy = userID
		}
	}

	result, err := c.sessions.EndSession(sessionID, endedBy)
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// GetSession returns one session, crisis fields included.
func (c *SessionController) GetSession(ctx *gin.Context) {
	session, err := c.sessions.GetSession(ctx.Param("id"))
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"session": session})
}

// GetTranscript returns one of the three transcript projections. The
// supervisor and AI views expose more than the end user may see, so
// they require the supervisor role.
func (c *SessionController) GetTranscript(ctx *gin.Context) {
	sessionID := ctx.Param("id")
	view := ctx.DefaultQuery("view", service.ViewUser)

	switch view {
	case service.ViewUser:
	case service.ViewSupervisor, service.ViewAI:
		role := ctx.GetString("role")
		if role != "supervisor" && role != "admin" {
			ctx.Error(apperrors.NewForbiddenError("FORBIDDEN", "supervisor role required for this view"))
			return
		}
	default:
		ctx.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "view must be user, supervisor or ai"))
		return
	}

	if _, err := c.sessions.GetSession(sessionID); err != nil {
		ctx.Error(err)
		return
	}

	views, err := c.messages.Transcript(sessionID, view)
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"view":       view,
		"messages":   views,
		"count":      len(views),
	})
}
