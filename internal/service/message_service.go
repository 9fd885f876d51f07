package service

import (
	"context"
	"time"

	"ai-companion-care/backend/internal/bus"
	"ai-companion-care/backend/internal/models"
	apperrors "ai-companion-care/backend/pkg/errors"
	"ai-companion-care/backend/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Transcript views. User excludes hidden turns and shows raw content;
// supervisor shows everything through the redacted projection; AI is the
// raw provider-facing feed including hidden guidance.
const (
	ViewUser       = "user"
	ViewSupervisor = "supervisor"
	ViewAI         = "ai"
)

// redactionPendingPlaceholder is shown in supervisor views for messages
// whose redacted variant has not been produced yet. Raw content is never
// substituted.
const redactionPendingPlaceholder = "[redaction pending]"

// IncomingMessage is one caller-supplied message in an ingestion batch.
type IncomingMessage struct {
	Role        string         `json:"role" binding:"required"`
	MessageType string         `json:"message_type"`
	Content     string         `json:"content" binding:"required"`
	Metadata    map[string]any `json:"metadata"`
}

// MessageService owns transcript ingestion and the three projection
// views. Batches persist in arrival order; each message gets its
// redacted variant at ingestion time, or null plus a background retry
// when the gateway is down.
type MessageService struct {
	db        *gorm.DB
	redaction *RedactionService
	bus       *bus.Bus
	log       *logger.Logger
}

// NewMessageService creates a message service.
func NewMessageService(db *gorm.DB, redaction *RedactionService, eventBus *bus.Bus, log *logger.Logger) *MessageService {
	return &MessageService{
		db:        db,
		redaction: redaction,
		bus:       eventBus,
		log:       log,
	}
}

// Append persists a batch of messages for the session, in order, and
// publishes the new-message views. The whole batch commits or none of
// it does; a redaction failure is not fatal to the insert.
func (s *MessageService) Append(ctx context.Context, sessionID string, items []IncomingMessage) ([]models.Message, error) {
	if len(items) == 0 {
		return nil, nil
	}

	var session models.Session
	if err := s.db.First(&session, "id = ?", sessionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NewNotFoundSessionError(sessionID)
		}
		return nil, apperrors.NewPersistenceError(err)
	}

	now := time.Now()
	messages := make([]models.Message, 0, len(items))
	for i, item := range items {
		messageType := item.MessageType
		if messageType == "" {
			messageType = models.TypeChat
		}

		msg := models.Message{
			ID:          uuid.New().String(),
			SessionID:   sessionID,
			Role:        item.Role,
			MessageType: messageType,
			Content:     item.Content,
			Metadata:    item.Metadata,
			Position:    i,
			CreatedAt:   now,
		}

		redacted, err := s.redaction.Redact(ctx, item.Content)
		if err != nil {
			s.log.Warn("redaction unavailable, persisting with pending redaction",
				"sessionId", sessionID,
				"error", err.Error(),
			)
		} else {
			msg.RedactedContent = &redacted
		}

		messages = append(messages, msg)
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&messages).Error
	})
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}

	s.publishNew(sessionID, messages)
	return messages, nil
}

// publishNew fans the batch out: the user projection to the session
// topic, the redacted supervisor projection to the broadcast topic.
func (s *MessageService) publishNew(sessionID string, messages []models.Message) {
	userViews := make([]models.MessageView, 0, len(messages))
	supervisorViews := make([]models.MessageView, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		if !msg.HiddenFromUser() {
			userViews = append(userViews, projectMessage(msg, ViewUser))
		}
		supervisorViews = append(supervisorViews, projectMessage(msg, ViewSupervisor))
	}

	if len(userViews) > 0 {
		s.bus.Publish(bus.SessionTopic(sessionID), bus.Event{
			Name:      bus.EventMessagesNew,
			SessionID: sessionID,
			Payload:   map[string]any{"messages": userViews},
		})
	}
	s.bus.Publish(bus.Broadcast, bus.Event{
		Name:      bus.EventMessagesNew,
		SessionID: sessionID,
		Payload:   map[string]any{"messages": supervisorViews},
	})
}

// Transcript assembles the requested projection of the session's
// persisted transcript, in arrival order.
func (s *MessageService) Transcript(sessionID, view string) ([]models.MessageView, error) {
	messages, err := s.History(sessionID)
	if err != nil {
		return nil, err
	}

	views := make([]models.MessageView, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		if view == ViewUser && msg.HiddenFromUser() {
			continue
		}
		views = append(views, projectMessage(msg, view))
	}
	return views, nil
}

// History returns the session's full raw transcript in arrival order.
// This is the provider-facing feed: hidden guidance included.
func (s *MessageService) History(sessionID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.Where("session_id = ?", sessionID).
		Order("created_at ASC, position ASC").
		Find(&messages).Error
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	return messages, nil
}

func projectMessage(msg *models.Message, view string) models.MessageView {
	content := msg.Content
	if view == ViewSupervisor {
		if msg.RedactedContent != nil {
			content = *msg.RedactedContent
		} else {
			content = redactionPendingPlaceholder
		}
	}
	return models.MessageView{
		ID:          msg.ID,
		SessionID:   msg.SessionID,
		Role:        msg.Role,
		MessageType: msg.MessageType,
		Content:     content,
		Metadata:    msg.Metadata,
		CreatedAt:   msg.CreatedAt,
	}
}
