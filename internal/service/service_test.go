package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ai-companion-care/backend/internal/bus"
	"ai-companion-care/backend/internal/models"
	"ai-companion-care/backend/pkg/cache"
	"ai-companion-care/backend/pkg/config"
	"ai-companion-care/backend/pkg/logger"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Session{},
		&models.SessionConfiguration{},
		&models.Message{},
		&models.QuotaPolicy{},
		&models.InterventionAction{},
		&models.CrisisEvent{},
		&models.HumanHandoff{},
	)
	require.NoError(t, err)

	return db
}

func newTestCache() *cache.Cache {
	return cache.New(time.Second, time.Minute)
}

func testLogger() *logger.Logger {
	cfg := logger.DefaultConfig()
	cfg.Level = "error"
	return logger.New(cfg)
}

// fakeTransformer is a deterministic stand-in for the external redaction
// capability: it blanks a fixed identifier set, or fails on demand.
type fakeTransformer struct {
	fail bool
}

var fixtureIdentifiers = []string{"123-45-6789", "jane.doe@example.com", "+1 555 0100"}

func (f *fakeTransformer) Complete(_ context.Context, _ string, input string) (string, error) {
	if f.fail {
		return "", errors.New("transformer unavailable")
	}
	out := input
	for _, identifier := range fixtureIdentifiers {
		out = strings.ReplaceAll(out, identifier, "[REDACTED]")
	}
	return out, nil
}

// stack is the fully wired service graph over one in-memory store.
type stack struct {
	db          *gorm.DB
	bus         *bus.Bus
	scheduler   *TerminationScheduler
	quota       *QuotaService
	sessions    *SessionService
	redaction   *RedactionService
	messages    *MessageService
	crisis      *CrisisService
	transformer *fakeTransformer
}

func newStack(t *testing.T) *stack {
	t.Helper()

	db := newTestDB(t)
	log := testLogger()
	cfg := config.Get()

	eventBus := bus.New(64, log)
	scheduler := NewTerminationScheduler(log)
	t.Cleanup(scheduler.Stop)

	quota := NewQuotaService(db, newTestCache(), cfg, log)
	sessions := NewSessionService(db, eventBus, quota, scheduler, log)
	transformer := &fakeTransformer{}
	redaction := NewRedactionService(db, transformer, time.Second, log)
	messages := NewMessageService(db, redaction, eventBus, log)
	crisis := NewCrisisService(db, eventBus, messages, cfg, log)

	return &stack{
		db:          db,
		bus:         eventBus,
		scheduler:   scheduler,
		quota:       quota,
		sessions:    sessions,
		redaction:   redaction,
		messages:    messages,
		crisis:      crisis,
		transformer: transformer,
	}
}

// drainEvents reads everything currently buffered on the subscription.
// Publish delivers synchronously, so events from completed calls are
// already there.
func drainEvents(sub *bus.Subscription) []bus.Event {
	var events []bus.Event
	for {
		select {
		case event := <-sub.C:
			events = append(events, event)
		default:
			return events
		}
	}
}

func eventNames(events []bus.Event) []string {
	names := make([]string, len(events))
	for i, event := range events {
		names[i] = event.Name
	}
	return names
}

func strPtr(s string) *string {
	return &s
}
