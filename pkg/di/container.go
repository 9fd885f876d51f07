package di

import (
	"context"
	"fmt"
	"time"

	"ai-companion-care/backend/ai"
	"ai-companion-care/backend/internal/bus"
	"ai-companion-care/backend/internal/service"
	"ai-companion-care/backend/internal/ws"
	"ai-companion-care/backend/pkg/cache"
	"ai-companion-care/backend/pkg/config"
	"ai-companion-care/backend/pkg/health"
	"ai-companion-care/backend/pkg/jwt"
	"ai-companion-care/backend/pkg/logger"
	"ai-companion-care/backend/pkg/secrets"

	"gorm.io/gorm"
)

// Container holds all the dependencies for the application.
type Container struct {
	DB     *gorm.DB
	Config *config.Config
	Logger *logger.Logger

	JWTService  *jwt.Service
	PolicyCache *cache.Cache
	Bus         *bus.Bus
	RedisBridge *bus.RedisBridge
	Scheduler   *service.TerminationScheduler

	AIClient  *ai.Client
	Quota     *service.QuotaService
	Sessions  *service.SessionService
	Redaction *service.RedactionService
	Messages  *service.MessageService
	Crisis    *service.CrisisService

	WSHandler     *ws.Handler
	HealthChecker *health.Checker
}

// New wires the full dependency graph. Construction order matters only
// in one place: the session service installs itself as the scheduler's
// fire handler, so the scheduler exists first.
func New(db *gorm.DB, cfg *config.Config, log *logger.Logger) (*Container, error) {
	if err := secrets.Init(log); err != nil {
		return nil, fmt.Errorf("secrets init failed: %w", err)
	}

	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.Expiry)
	policyCache := cache.New(cfg.Quota.PolicyCacheTTL, cfg.Cache.PurgeWindow)

	eventBus := bus.New(cfg.Bus.SubscriberBuffer, log)
	var bridge *bus.RedisBridge
	if cfg.Bus.RedisURL != "" {
		bridge = bus.NewRedisBridge(cfg.Bus.RedisURL, log)
		eventBus.AttachBridge(bridge)
	}

	apiKey := secrets.GetSecretWithDefault(context.Background(), "OPENAI_API_KEY", "")
	aiClient, err := ai.NewClient(ai.Config{
		APIKey:  apiKey,
		BaseURL: cfg.AI.BaseURL,
		Model:   cfg.AI.Model,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("provider client init failed: %w", err)
	}

	redactionClient, err := ai.NewClient(ai.Config{
		APIKey:  apiKey,
		BaseURL: cfg.AI.BaseURL,
		Model:   cfg.Redaction.Model,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("redaction client init failed: %w", err)
	}

	scheduler := service.NewTerminationScheduler(log)
	quota := service.NewQuotaService(db, policyCache, cfg, log)
	sessions := service.NewSessionService(db, eventBus, quota, scheduler, log)
	redaction := service.NewRedactionService(db, redactionClient, cfg.Redaction.Timeout, log)
	messages := service.NewMessageService(db, redaction, eventBus, log)
	crisis := service.NewCrisisService(db, eventBus, messages, cfg, log)

	wsHandler := ws.NewHandler(eventBus, sessions, messages, crisis, aiClient, log)

	checker := health.NewChecker(log, 30*time.Second)
	checker.RegisterDatabaseCheck(func() error {
		return config.TestConnection(db)
	})
	checker.RegisterRedactionCheck(func() string {
		return string(redaction.BreakerState())
	})

	return &Container{
		DB:            db,
		Config:        cfg,
		Logger:        log,
		JWTService:    jwtService,
		PolicyCache:   policyCache,
		Bus:           eventBus,
		RedisBridge:   bridge,
		Scheduler:     scheduler,
		AIClient:      aiClient,
		Quota:         quota,
		Sessions:      sessions,
		Redaction:     redaction,
		Messages:      messages,
		Crisis:        crisis,
		WSHandler:     wsHandler,
		HealthChecker: checker,
	}, nil
}

// Close releases long-lived resources.
func (c *Container) Close() {
	c.Scheduler.Stop()
	if c.RedisBridge != nil {
		if err := c.RedisBridge.Close(); err != nil {
			c.Logger.Warn("redis bridge close failed", "error", err.Error())
		}
	}
}
