package api

import (
	"net/http"

	"ai-companion-care/backend/internal/service"

	"github.com/gin-gonic/gin"
)

// QuotaController exposes the read-only quota projection.
type QuotaController struct {
	quota *service.QuotaService
}

// NewQuotaController creates a quota controller.
func NewQuotaController(quota *service.QuotaService) *QuotaController {
	return &QuotaController{quota: quota}
}

// GetStatus reports whether the caller could start a session right now
// and under which limits. Read-only, safe to poll.
func (c *QuotaController) GetStatus(ctx *gin.Context) {
	var userID *string
	if id, ok := ctx.Get("userId"); ok {
		if s, ok := id.(string); ok && s != "" {
			userID = &s
		}
	}

	decision, err := c.quota.CheckAllowed(userID, ctx.GetString("role"))
	if err != nil {
		ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, decision)
}
