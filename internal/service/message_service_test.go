package service

import (
	"context"
	"testing"

	"ai-companion-care/backend/internal/bus"
	"ai-companion-care/backend/internal/models"
	apperrors "ai-companion-care/backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSession(t *testing.T, s *stack, userID string) string {
	t.Helper()
	result, err := s.sessions.StartSession(StartSessionRequest{UserID: strPtr(userID)})
	require.NoError(t, err)
	return result.Session.ID
}

func TestAppendPreservesBatchOrder(t *testing.T) {
	s := newStack(t)
	sessionID := startSession(t, s, "user-order")

	batch := []IncomingMessage{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleAssistant, Content: "second"},
		{Role: models.RoleUser, Content: "third"},
	}
	persisted, err := s.messages.Append(context.Background(), sessionID, batch)
	require.NoError(t, err)
	require.Len(t, persisted, 3)

	views, err := s.messages.Transcript(sessionID, ViewUser)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, "first", views[0].Content)
	assert.Equal(t, "second", views[1].Content)
	assert.Equal(t, "third", views[2].Content)
}

func TestAppendRedactsIdentifiers(t *testing.T) {
	s := newStack(t)
	sessionID := startSession(t, s, "user-redact")

	_, err := s.messages.Append(context.Background(), sessionID, []IncomingMessage{
		{Role: models.RoleUser, Content: "my ssn is 123-45-6789 and my email is jane.doe@example.com"},
	})
	require.NoError(t, err)

	views, err := s.messages.Transcript(sessionID, ViewSupervisor)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.NotContains(t, views[0].Content, "123-45-6789")
	assert.NotContains(t, views[0].Content, "jane.doe@example.com")
	assert.Contains(t, views[0].Content, "[REDACTED]")
}

func TestAppendSurvivesRedactionOutage(t *testing.T) {
	s := newStack(t)
	sessionID := startSession(t, s, "user-outage")
	s.transformer.fail = true

	_, err := s.messages.Append(context.Background(), sessionID, []IncomingMessage{
		{Role: models.RoleUser, Content: "call me at +1 555 0100"},
	})
	require.NoError(t, err, "redaction failure must not drop the batch")

	var stored models.Message
	require.NoError(t, s.db.First(&stored, "session_id = ?", sessionID).Error)
	assert.Nil(t, stored.RedactedContent)

	// The supervisor projection never falls back to raw content.
	views, err := s.messages.Transcript(sessionID, ViewSupervisor)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.NotContains(t, views[0].Content, "+1 555 0100")

	// Provider recovers; the sweep repairs the pending row.
	s.transformer.fail = false
	s.redaction.sweep(context.Background())

	require.NoError(t, s.db.First(&stored, "session_id = ?", sessionID).Error)
	require.NotNil(t, stored.RedactedContent)
	assert.NotContains(t, *stored.RedactedContent, "+1 555 0100")
}

func TestHiddenMessagesOnlyInAIFeed(t *testing.T) {
	s := newStack(t)
	sessionID := startSession(t, s, "user-hidden")

	_, err := s.messages.Append(context.Background(), sessionID, []IncomingMessage{
		{Role: models.RoleUser, Content: "hello"},
		{
			Role:        models.RoleSystem,
			MessageType: models.TypeAIGuidance,
			Content:     "steer gently",
			Metadata:    map[string]any{models.MetadataHiddenKey: true},
		},
	})
	require.NoError(t, err)

	userView, err := s.messages.Transcript(sessionID, ViewUser)
	require.NoError(t, err)
	require.Len(t, userView, 1)
	assert.Equal(t, "hello", userView[0].Content)

	aiView, err := s.messages.Transcript(sessionID, ViewAI)
	require.NoError(t, err)
	require.Len(t, aiView, 2)
	assert.Equal(t, "steer gently", aiView[1].Content)

	history, err := s.messages.History(sessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[1].HiddenFromUser())
}

func TestAppendPublishesBothProjections(t *testing.T) {
	s := newStack(t)
	sessionID := startSession(t, s, "user-pub")

	sessionSub := s.bus.Subscribe(bus.SessionTopic(sessionID))
	broadcastSub := s.bus.Subscribe(bus.Broadcast)
	defer s.bus.Unsubscribe(sessionSub)
	defer s.bus.Unsubscribe(broadcastSub)

	_, err := s.messages.Append(context.Background(), sessionID, []IncomingMessage{
		{Role: models.RoleUser, Content: "reach me at 123-45-6789"},
	})
	require.NoError(t, err)

	sessionEvents := drainEvents(sessionSub)
	require.Len(t, sessionEvents, 1)
	assert.Equal(t, bus.EventMessagesNew, sessionEvents[0].Name)

	broadcastEvents := drainEvents(broadcastSub)
	require.Len(t, broadcastEvents, 1)
	supervisorViews, ok := broadcastEvents[0].Payload["messages"].([]models.MessageView)
	require.True(t, ok)
	require.Len(t, supervisorViews, 1)
	assert.NotContains(t, supervisorViews[0].Content, "123-45-6789")
}

func TestAppendUnknownSession(t *testing.T) {
	s := newStack(t)

	_, err := s.messages.Append(context.Background(), "missing", []IncomingMessage{
		{Role: models.RoleUser, Content: "hello"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}
