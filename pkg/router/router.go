package router

import (
	"ai-companion-care/backend/internal/api"
	"ai-companion-care/backend/pkg/config"
	"ai-companion-care/backend/pkg/di"
	"ai-companion-care/backend/pkg/errors"
	"ai-companion-care/backend/pkg/jwt"
	"ai-companion-care/backend/pkg/logger"
	"ai-companion-care/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	// Use the container's logger
	logger.SetGlobal(container.Logger)

	cfg := container.Config

	// Configure Gin mode based on environment
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Use the logger middleware first to capture all requests
	engine.Use(logger.Middleware(container.Logger))

	// Add custom error handler middleware
	engine.Use(errors.ErrorHandler())

	// Add custom recovery middleware with structured logging instead of default
	engine.Use(errors.RecoveryWithLogger())

	// Create rate limiter with default options
	rateLimiter := middleware.NewRateLimiter(container.Logger)
	engine.Use(rateLimiter.Middleware())

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.Engine.Use(corsMiddleware())

	jwtAuth := middleware.JWTAuthMiddleware(r.Container.JWTService, r.Logger)
	optionalAuth := middleware.OptionalAuth(r.Container.JWTService)
	supervisorOnly := middleware.RequireRole(jwt.RoleSupervisor)

	sessionController := api.NewSessionController(r.Container.Sessions, r.Container.Messages)
	messageController := api.NewMessageController(r.Container.Sessions, r.Container.Messages, r.Container.Crisis)
	quotaController := api.NewQuotaController(r.Container.Quota)
	crisisController := api.NewCrisisController(r.Container.Crisis)
	healthController := api.NewHealthController(r.Container.HealthChecker)

	v1 := r.Engine.Group("/api/v1")

	// Public routes. Session starts allow anonymous callers; the token,
	// when present, only feeds quota identity and role.
	v1.GET("/health", healthController.GetHealth)

	sessionRoutes := v1.Group("/sessions")
	sessionRoutes.Use(optionalAuth)
	{
		sessionRoutes.POST("", sessionController.CreateSession)
		sessionRoutes.POST("/:id/end", sessionController.EndSession)
		sessionRoutes.GET("/:id", sessionController.GetSession)
		sessionRoutes.GET("/:id/transcript", sessionController.GetTranscript)
		sessionRoutes.POST("/:id/messages", messageController.AppendMessages)
	}

	v1.GET("/quota/status", optionalAuth, quotaController.GetStatus)

	// Supervisory routes (authenticated, role-gated)
	supervisorRoutes := v1.Group("/")
	supervisorRoutes.Use(jwtAuth, supervisorOnly)
	{
		supervisorRoutes.POST("/sessions/:id/crisis/flag", crisisController.FlagSession)
		supervisorRoutes.POST("/sessions/:id/crisis/unflag", crisisController.UnflagSession)
		supervisorRoutes.GET("/sessions/:id/interventions", crisisController.ListInterventions)
		supervisorRoutes.POST("/handoffs/:id/ack", crisisController.AcknowledgeHandoff)
	}

	// WebSocket routes
	r.Engine.GET("/ws/session/:id", r.Container.WSHandler.ServeSession)
	r.Engine.GET("/ws/supervisor", jwtAuth, supervisorOnly, r.Container.WSHandler.ServeSupervisor)
}

// Enhance CORS middleware to explicitly allow WebSocket-specific headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Accept-Encoding, X-CSRF-Token, Authorization, Origin, Upgrade, Connection, Cache-Control")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
