package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ai-companion-care/backend/internal/models"
	"ai-companion-care/backend/pkg/config"
	"ai-companion-care/backend/pkg/di"
	"ai-companion-care/backend/pkg/logger"
	"ai-companion-care/backend/pkg/observability"
	"ai-companion-care/backend/pkg/router"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		stdlog.Println("No .env file found")
	}

	cfg := config.New()

	// Initialize structured logger
	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"

	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("Starting application", "version", os.Getenv("APP_VERSION"))

	// Initialize database
	db, err := config.NewDB()
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	// Auto-migrate the schema
	err = db.AutoMigrate(
		&models.Session{},
		&models.SessionConfiguration{},
		&models.Message{},
		&models.QuotaPolicy{},
		&models.InterventionAction{},
		&models.CrisisEvent{},
		&models.HumanHandoff{},
	)
	if err != nil {
		log.LogError(err, "Failed to migrate database")
		os.Exit(1)
	}

	// Create indexes for better query performance. The partial unique
	// index is the database-level arbiter of the one-active-session-per-
	// user rule; concurrent starts race on it, not on application state.
	if err := db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active_per_user ON sessions(user_id) WHERE status = 'active' AND user_id IS NOT NULL").Error; err != nil {
		log.LogError(err, "Failed to create index", "index", "idx_sessions_one_active_per_user")
	}
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_user_created ON sessions(user_id, created_at)").Error; err != nil {
		log.LogError(err, "Failed to create index", "index", "idx_sessions_user_created")
	}
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at, position)").Error; err != nil {
		log.LogError(err, "Failed to create index", "index", "idx_messages_session_created")
	}
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_messages_redaction_pending ON messages(created_at) WHERE redacted_content IS NULL").Error; err != nil {
		log.LogError(err, "Failed to create index", "index", "idx_messages_redaction_pending")
	}

	// Observability: stdout tracing plus the prometheus /metrics listener
	shutdownTracing := observability.SetupTracing("companion-care-backend", log)
	defer shutdownTracing()
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		metricsPort = "9091"
	}
	observability.SetupPrometheusMetrics(":"+metricsPort, log)

	// Initialize dependency injection container
	container, err := di.New(db, cfg, log)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	defer container.Close()

	// Rebuild the termination timer table lost on restart
	if err := container.Sessions.ReArmActive(); err != nil {
		log.LogError(err, "Failed to re-arm termination timers")
	}

	// Background loops: redaction repair and periodic health checks
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	container.Redaction.StartRetrySweep(sweepCtx, cfg.Redaction.RetryInterval)
	container.HealthChecker.Start()

	// Initialize and setup router
	r := router.New(container)
	r.SetupRoutes()

	// Add OpenAPI validation if schema file is available
	if schemaPath := os.Getenv("OPENAPI_SCHEMA_PATH"); schemaPath != "" {
		r.AddOpenAPIValidation(schemaPath)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r.Engine,
	}

	// Start the server in a goroutine
	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "Server failed to start")
			os.Exit(1)
		}
	}()

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}

	log.Info("Server exited gracefully")
}
