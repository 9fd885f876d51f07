package api

import (
	"net/http"

	"ai-companion-care/backend/internal/service"
	apperrors "ai-companion-care/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// MessageController handles batch transcript ingestion.
type MessageController struct {
	sessions *service.SessionService
	messages *service.MessageService
	crisis   *service.CrisisService
}

// NewMessageController creates a message controller.
func NewMessageController(sessions *service.SessionService, messages *service.MessageService, crisis *service.CrisisService) *MessageController {
	return &MessageController{
		sessions: sessions,
		messages: messages,
		crisis:   crisis,
	}
}

type appendMessagesRequest struct {
	Messages []service.IncomingMessage `json:"messages" binding:"required,min=1"`
}

// AppendMessages ingests a batch for the session in arrival order, then
// reclassifies crisis risk against the updated window.
func (c *MessageController) AppendMessages(ctx *gin.Context) {
	sessionID := ctx.Param("id")

	var req appendMessagesRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "messages array is required"))
		return
	}

	session, err := c.sessions.GetSession(sessionID)
	if err != nil {
		ctx.Error(err)
		return
	}
	if !session.IsActive() {
		ctx.Error(apperrors.NewConflictError(apperrors.CodeSessionConflict, "session has ended"))
		return
	}

	persisted, err := c.messages.Append(ctx.Request.Context(), sessionID, req.Messages)
	if err != nil {
		ctx.Error(err)
		return
	}

	classification, err := c.crisis.Evaluate(ctx.Request.Context(), sessionID)
	if err != nil {
		// The batch is durable; classification failure must not fail it.
		classification = nil
	}

	response := gin.H{
		"session_id": sessionID,
		"count":      len(persisted),
	}
	if classification != nil && classification.Severity != "" {
		response["crisis"] = classification
	}
	ctx.JSON(http.StatusCreated, response)
}
