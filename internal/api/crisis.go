package api

import (
	"net/http"

	"ai-companion-care/backend/internal/service"
	apperrors "ai-companion-care/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

// CrisisController handles supervisory crisis operations: manual
// flagging, the audit trail, and handoff acknowledgement. All routes
// behind the supervisor role gate.
type CrisisController struct {
	crisis *service.CrisisService
}

// NewCrisisController creates a crisis controller.
func NewCrisisController(crisis *service.CrisisService) *CrisisController {
	return &CrisisController{crisis: crisis}
}

type flagRequest struct {
	Severity  string `json:"severity" binding:"required,oneof=low medium high"`
	RiskScore int    `json:"risk_score" binding:"min=0,max=100"`
	Notes     string `json:"notes"`
}

// FlagSession sets the session's crisis fields from an explicit
// supervisory judgment. Re-flagging updates severity and notes rather
// than erroring.
func (c *CrisisController) FlagSession(ctx *gin.Context) {
	var req flagRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(apperrors.NewBadRequestError("INVALID_REQUEST", "severity must be low, medium or high"))
		return
	}

	session, err := c.crisis.Flag(ctx.Param("id"), req.Severity, req.RiskScore, req.Notes, ctx.GetString("userId"))
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"session": session})
}

// UnflagSession clears the crisis fields. Idempotent.
func (c *CrisisController) UnflagSession(ctx *gin.Context) {
	session, err := c.crisis.Unflag(ctx.Param("id"), ctx.GetString("userId"))
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"session": session})
}

// ListInterventions returns the session's append-only audit trail.
func (c *CrisisController) ListInterventions(ctx *gin.Context) {
	actions, err := c.crisis.Interventions(ctx.Param("id"))
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"session_id":    ctx.Param("id"),
		"interventions": actions,
		"count":         len(actions),
	})
}

// AcknowledgeHandoff stamps a human handoff as acknowledged by the
// calling supervisor. A repeat call returns the record unchanged.
func (c *CrisisController) AcknowledgeHandoff(ctx *gin.Context) {
	handoff, err := c.crisis.AcknowledgeHandoff(ctx.Param("id"), ctx.GetString("userId"))
	if err != nil {
		ctx.Error(err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"handoff": handoff})
}
