package observability

import (
	"testing"

	"ai-companion-care/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
)

func TestSetupTracingShutdown(t *testing.T) {
	cfg := logger.DefaultConfig()
	cfg.Level = "error"
	log := logger.New(cfg)

	shutdown := SetupTracing("test-service", log)
	assert.NotPanics(t, shutdown)
}
