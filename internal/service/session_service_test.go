package service

import (
	"testing"
	"time"

	"ai-companion-care/backend/internal/bus"
	"ai-companion-care/backend/internal/models"
	apperrors "ai-companion-care/backend/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSessionIdempotentForSameUser(t *testing.T) {
	s := newStack(t)

	first, err := s.sessions.StartSession(StartSessionRequest{UserID: strPtr("user-1")})
	require.NoError(t, err)
	assert.False(t, first.PreExisting)
	assert.Equal(t, models.SessionActive, first.Session.Status)

	second, err := s.sessions.StartSession(StartSessionRequest{UserID: strPtr("user-1")})
	require.NoError(t, err)
	assert.True(t, second.PreExisting)
	assert.Equal(t, first.Session.ID, second.Session.ID)

	var count int64
	require.NoError(t, s.db.Model(&models.Session{}).
		Where("user_id = ? AND status = ?", "user-1", models.SessionActive).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStartSessionRetriedExternalID(t *testing.T) {
	s := newStack(t)

	first, err := s.sessions.StartSession(StartSessionRequest{SessionID: "ext-42"})
	require.NoError(t, err)
	assert.False(t, first.PreExisting)

	// Same externally-issued id again, anonymous caller: the conditional
	// insert is a no-op and the original row comes back.
	second, err := s.sessions.StartSession(StartSessionRequest{SessionID: "ext-42"})
	require.NoError(t, err)
	assert.True(t, second.PreExisting)
	assert.Equal(t, "ext-42", second.Session.ID)
}

func TestStartSessionArmsSchedulerAndPublishes(t *testing.T) {
	s := newStack(t)
	sub := s.bus.Subscribe(bus.Broadcast)
	defer s.bus.Unsubscribe(sub)

	result, err := s.sessions.StartSession(StartSessionRequest{UserID: strPtr("user-arm")})
	require.NoError(t, err)

	assert.True(t, s.scheduler.Armed(result.Session.ID))
	assert.Equal(t, 30, result.Config.MaxDurationMinutes)

	names := eventNames(drainEvents(sub))
	assert.Contains(t, names, bus.EventSessionCreated)
}

func TestStartSessionDeniedByQuota(t *testing.T) {
	s := newStack(t)
	seedPolicy(t, s, models.QuotaPolicy{
		Enabled:           true,
		MaxSessionsPerDay: 1,
	})

	userID := "user-denied"
	started, err := s.sessions.StartSession(StartSessionRequest{UserID: &userID})
	require.NoError(t, err)

	// End the active session so the daily count, not the active lookup,
	// is what blocks the next start.
	_, err = s.sessions.EndSession(started.Session.ID, models.EndedByUser)
	require.NoError(t, err)

	_, err = s.sessions.StartSession(StartSessionRequest{UserID: &userID})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeQuotaExceeded))
}

func TestEndSessionIdempotent(t *testing.T) {
	s := newStack(t)
	started, err := s.sessions.StartSession(StartSessionRequest{UserID: strPtr("user-end")})
	require.NoError(t, err)
	sessionID := started.Session.ID

	sub := s.bus.Subscribe(bus.Broadcast)
	defer s.bus.Unsubscribe(sub)

	first, err := s.sessions.EndSession(sessionID, models.EndedByUser)
	require.NoError(t, err)
	assert.False(t, first.AlreadyEnded)
	assert.Equal(t, models.SessionEnded, first.Session.Status)
	assert.Equal(t, models.EndedByUser, first.Session.EndedBy)
	require.NotNil(t, first.Session.EndedAt)
	assert.False(t, s.scheduler.Armed(sessionID))

	second, err := s.sessions.EndSession(sessionID, models.EndedByUser)
	require.NoError(t, err)
	assert.True(t, second.AlreadyEnded)

	statusEvents := 0
	for _, event := range drainEvents(sub) {
		if event.Name == bus.EventSessionStatus {
			statusEvents++
		}
	}
	assert.Equal(t, 1, statusEvents, "repeat end must not re-fire side effects")
}

func TestEndSessionNotFound(t *testing.T) {
	s := newStack(t)

	_, err := s.sessions.EndSession("missing", models.EndedByUser)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestSchedulerFireEndsSessionAsSystem(t *testing.T) {
	s := newStack(t)
	started, err := s.sessions.StartSession(StartSessionRequest{UserID: strPtr("user-expire")})
	require.NoError(t, err)
	sessionID := started.Session.ID

	sessionSub := s.bus.Subscribe(bus.SessionTopic(sessionID))
	defer s.bus.Unsubscribe(sessionSub)

	s.scheduler.Arm(sessionID, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		session, err := s.sessions.GetSession(sessionID)
		return err == nil && session.Status == models.SessionEnded
	}, time.Second, 10*time.Millisecond)

	session, err := s.sessions.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.EndedBySystem, session.EndedBy)

	var sawRemote bool
	for _, event := range drainEvents(sessionSub) {
		if event.Name == bus.EventSessionStatus {
			if remote, ok := event.Payload["remoteTermination"].(bool); ok && remote {
				sawRemote = true
			}
		}
	}
	assert.True(t, sawRemote, "auto-termination must carry the remote marker")
}

func TestSchedulerFireOnEndedSessionIsNoOp(t *testing.T) {
	s := newStack(t)
	started, err := s.sessions.StartSession(StartSessionRequest{UserID: strPtr("user-race")})
	require.NoError(t, err)
	sessionID := started.Session.ID

	_, err = s.sessions.EndSession(sessionID, models.EndedByUser)
	require.NoError(t, err)

	sub := s.bus.Subscribe(bus.SessionTopic(sessionID))
	defer s.bus.Unsubscribe(sub)

	// Simulate a stale timer firing after the user already ended it.
	s.sessions.handleExpiry(sessionID)

	session, err := s.sessions.GetSession(sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.EndedByUser, session.EndedBy)
	assert.Empty(t, drainEvents(sub))
}

func TestReArmActive(t *testing.T) {
	s := newStack(t)

	fresh := models.Session{
		ID:        "rearm-fresh",
		Status:    models.SessionActive,
		CreatedAt: time.Now().Add(-5 * time.Minute),
	}
	overdue := models.Session{
		ID:        "rearm-overdue",
		Status:    models.SessionActive,
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, s.db.Create(&fresh).Error)
	require.NoError(t, s.db.Create(&overdue).Error)

	require.NoError(t, s.sessions.ReArmActive())

	assert.True(t, s.scheduler.Armed("rearm-fresh"))
	assert.False(t, s.scheduler.Armed("rearm-overdue"))

	session, err := s.sessions.GetSession("rearm-overdue")
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, session.Status)
	assert.Equal(t, models.EndedBySystem, session.EndedBy)
}
