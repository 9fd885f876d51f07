package service

import (
	"context"
	"testing"

	"ai-companion-care/backend/internal/bus"
	"ai-companion-care/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifierIsPure(t *testing.T) {
	window := []models.Message{
		{Role: models.RoleUser, Content: "I feel hopeless and want to die"},
		{Role: models.RoleAssistant, Content: "I'm here with you"},
	}

	first := ClassifyWindow(window, 31, 71)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ClassifyWindow(window, 31, 71))
	}
	assert.Equal(t, models.SeverityMedium, first.Severity)
}

func TestClassifierIgnoresAssistantTurns(t *testing.T) {
	window := []models.Message{
		{Role: models.RoleAssistant, Content: "if you ever want to die please call 988"},
		{Role: models.RoleSystem, Content: "suicide prevention guidance"},
	}

	c := ClassifyWindow(window, 31, 71)
	assert.Zero(t, c.RiskScore)
	assert.Empty(t, c.Severity)
}

func TestClassifierBands(t *testing.T) {
	low := ClassifyWindow([]models.Message{
		{Role: models.RoleUser, Content: "I am so overwhelmed and scared"},
	}, 31, 71)
	assert.Equal(t, models.SeverityLow, low.Severity)

	medium := ClassifyWindow([]models.Message{
		{Role: models.RoleUser, Content: "everything feels hopeless, I'm worthless"},
	}, 31, 71)
	assert.Equal(t, models.SeverityMedium, medium.Severity)

	high := ClassifyWindow([]models.Message{
		{Role: models.RoleUser, Content: "I want to die, I'm going to kill myself"},
	}, 31, 71)
	assert.Equal(t, models.SeverityHigh, high.Severity)
	assert.GreaterOrEqual(t, high.RiskScore, 71)
}

func TestEvaluateLowTier(t *testing.T) {
	s := newStack(t)
	sessionID := startSession(t, s, "user-low")

	_, err := s.messages.Append(context.Background(), sessionID, []IncomingMessage{
		{Role: models.RoleUser, Content: "I feel really overwhelmed and alone today"},
	})
	require.NoError(t, err)

	sessionSub := s.bus.Subscribe(bus.SessionTopic(sessionID))
	defer s.bus.Unsubscribe(sessionSub)

	c, err := s.crisis.Evaluate(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityLow, c.Severity)

	names := eventNames(drainEvents(sessionSub))
	assert.Contains(t, names, bus.EventCrisisDetected)
	assert.Contains(t, names, bus.EventMessagesNew) // the coping message

	actions, err := s.crisis.Interventions(sessionID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.SeverityLow, actions[0].Tier)

	// No escalation at the low tier
	session, err := s.sessions.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.MonitoringNormal, session.MonitoringFrequency)
	assert.False(t, session.CrisisFlagged)
}

func TestEvaluateMediumTier(t *testing.T) {
	s := newStack(t)
	sessionID := startSession(t, s, "user-medium")

	_, err := s.messages.Append(context.Background(), sessionID, []IncomingMessage{
		{Role: models.RoleUser, Content: "I feel hopeless and completely worthless"},
	})
	require.NoError(t, err)

	broadcastSub := s.bus.Subscribe(bus.Broadcast)
	defer s.bus.Unsubscribe(broadcastSub)

	c, err := s.crisis.Evaluate(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityMedium, c.Severity)

	names := eventNames(drainEvents(broadcastSub))
	assert.Contains(t, names, bus.EventSupervisorReviewRequired)

	session, err := s.sessions.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.MonitoringHigh, session.MonitoringFrequency)

	// Hidden guidance reached the provider feed but not the user view.
	aiView, err := s.messages.Transcript(sessionID, ViewAI)
	require.NoError(t, err)
	userView, err := s.messages.Transcript(sessionID, ViewUser)
	require.NoError(t, err)

	var hiddenGuidance int
	for _, view := range aiView {
		if view.MessageType == models.TypeAIGuidance {
			hiddenGuidance++
		}
	}
	assert.Equal(t, 1, hiddenGuidance)
	for _, view := range userView {
		assert.NotEqual(t, models.TypeAIGuidance, view.MessageType)
	}
}

func TestEvaluateHighTier(t *testing.T) {
	s := newStack(t)
	sessionID := startSession(t, s, "user-high")

	_, err := s.messages.Append(context.Background(), sessionID, []IncomingMessage{
		{Role: models.RoleUser, Content: "I want to die and I am going to kill myself tonight"},
	})
	require.NoError(t, err)

	sessionSub := s.bus.Subscribe(bus.SessionTopic(sessionID))
	broadcastSub := s.bus.Subscribe(bus.Broadcast)
	defer s.bus.Unsubscribe(sessionSub)
	defer s.bus.Unsubscribe(broadcastSub)

	c, err := s.crisis.Evaluate(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityHigh, c.Severity)

	sessionNames := eventNames(drainEvents(sessionSub))
	assert.Contains(t, sessionNames, bus.EventCrisisEmergency)
	broadcastNames := eventNames(drainEvents(broadcastSub))
	assert.Contains(t, broadcastNames, bus.EventCrisisEmergency)

	var handoff models.HumanHandoff
	require.NoError(t, s.db.First(&handoff, "session_id = ?", sessionID).Error)
	assert.Equal(t, models.HandoffInitiated, handoff.Status)
	assert.Equal(t, c.RiskScore, handoff.RiskScore)

	session, err := s.sessions.GetSession(sessionID)
	require.NoError(t, err)
	assert.True(t, session.CrisisFlagged)
	assert.Equal(t, models.MonitoringCritical, session.MonitoringFrequency)
	require.NotNil(t, session.CrisisSeverity)
	assert.Equal(t, models.SeverityHigh, *session.CrisisSeverity)

	var crisisEvents []models.CrisisEvent
	require.NoError(t, s.db.Find(&crisisEvents, "session_id = ?", sessionID).Error)
	assert.NotEmpty(t, crisisEvents)
}

func TestEvaluateHighTierReusesOpenHandoff(t *testing.T) {
	s := newStack(t)
	sessionID := startSession(t, s, "user-repeat")

	_, err := s.messages.Append(context.Background(), sessionID, []IncomingMessage{
		{Role: models.RoleUser, Content: "I want to die, I will kill myself"},
	})
	require.NoError(t, err)

	_, err = s.crisis.Evaluate(context.Background(), sessionID)
	require.NoError(t, err)
	_, err = s.crisis.Evaluate(context.Background(), sessionID)
	require.NoError(t, err)

	var count int64
	require.NoError(t, s.db.Model(&models.HumanHandoff{}).
		Where("session_id = ?", sessionID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAcknowledgeHandoff(t *testing.T) {
	s := newStack(t)
	sessionID := startSession(t, s, "user-ack")

	_, err := s.messages.Append(context.Background(), sessionID, []IncomingMessage{
		{Role: models.RoleUser, Content: "I am going to kill myself"},
	})
	require.NoError(t, err)
	_, err = s.crisis.Evaluate(context.Background(), sessionID)
	require.NoError(t, err)

	var handoff models.HumanHandoff
	require.NoError(t, s.db.First(&handoff, "session_id = ?", sessionID).Error)

	acked, err := s.crisis.AcknowledgeHandoff(handoff.ID, "supervisor-7")
	require.NoError(t, err)
	assert.Equal(t, models.HandoffAcknowledged, acked.Status)
	assert.Equal(t, "supervisor-7", acked.AcknowledgedBy)
	require.NotNil(t, acked.AcknowledgedAt)

	// Second acknowledger does not overwrite the first.
	again, err := s.crisis.AcknowledgeHandoff(handoff.ID, "supervisor-9")
	require.NoError(t, err)
	assert.Equal(t, "supervisor-7", again.AcknowledgedBy)
}

func TestManualFlagIdempotent(t *testing.T) {
	s := newStack(t)
	sessionID := startSession(t, s, "user-flag")

	broadcastSub := s.bus.Subscribe(bus.Broadcast)
	defer s.bus.Unsubscribe(broadcastSub)

	flagged, err := s.crisis.Flag(sessionID, models.SeverityMedium, 50, "worried", "supervisor-1")
	require.NoError(t, err)
	assert.True(t, flagged.CrisisFlagged)

	// Re-flagging updates severity and notes instead of erroring.
	reflagged, err := s.crisis.Flag(sessionID, models.SeverityHigh, 80, "worse now", "supervisor-1")
	require.NoError(t, err)
	assert.True(t, reflagged.CrisisFlagged)
	require.NotNil(t, reflagged.CrisisSeverity)
	assert.Equal(t, models.SeverityHigh, *reflagged.CrisisSeverity)
	assert.Equal(t, "worse now", reflagged.CrisisNotes)

	names := eventNames(drainEvents(broadcastSub))
	assert.Equal(t, []string{bus.EventCrisisFlagged, bus.EventCrisisFlagged}, names)

	unflagged, err := s.crisis.Unflag(sessionID, "supervisor-1")
	require.NoError(t, err)
	assert.False(t, unflagged.CrisisFlagged)
	assert.Nil(t, unflagged.CrisisSeverity)
	assert.Equal(t, models.MonitoringNormal, unflagged.MonitoringFrequency)
}

func TestEvaluateCalmTranscriptIsNoOp(t *testing.T) {
	s := newStack(t)
	sessionID := startSession(t, s, "user-calm")

	_, err := s.messages.Append(context.Background(), sessionID, []IncomingMessage{
		{Role: models.RoleUser, Content: "had a lovely walk in the park today"},
	})
	require.NoError(t, err)

	c, err := s.crisis.Evaluate(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Empty(t, c.Severity)

	actions, err := s.crisis.Interventions(sessionID)
	require.NoError(t, err)
	assert.Empty(t, actions)
}
