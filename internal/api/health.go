package api

import (
	"net/http"

	"ai-companion-care/backend/pkg/health"

	"github.com/gin-gonic/gin"
)

// HealthController reports component health: DB reachability and the
// redaction gateway breaker state.
type HealthController struct {
	checker *health.Checker
}

// NewHealthController creates a health controller.
func NewHealthController(checker *health.Checker) *HealthController {
	return &HealthController{checker: checker}
}

// GetHealth returns the aggregate status. 200 when everything is up,
// 503 when any registered check reports down.
func (c *HealthController) GetHealth(ctx *gin.Context) {
	status := c.checker.GetStatus()

	code := http.StatusOK
	if !c.checker.IsSystemHealthy() {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, status)
}
