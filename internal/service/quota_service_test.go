package service

import (
	"testing"
	"time"

	"ai-companion-care/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPolicy(t *testing.T, s *stack, policy models.QuotaPolicy) {
	t.Helper()
	require.NoError(t, s.db.Create(&policy).Error)
}

func TestCheckAllowedAnonymous(t *testing.T) {
	s := newStack(t)

	decision, err := s.quota.CheckAllowed(nil, "")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.NotNil(t, decision.Limits)
}

func TestCheckAllowedExemptRole(t *testing.T) {
	s := newStack(t)
	seedPolicy(t, s, models.QuotaPolicy{
		Enabled:           true,
		MaxSessionsPerDay: 0, // even a zero budget is bypassed
		ExemptRole:        "admin",
	})

	decision, err := s.quota.CheckAllowed(strPtr("admin-1"), "admin")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCheckAllowedDisabledPolicy(t *testing.T) {
	s := newStack(t)
	seedPolicy(t, s, models.QuotaPolicy{
		Enabled:           false,
		MaxSessionsPerDay: 0,
	})

	decision, err := s.quota.CheckAllowed(strPtr("user-1"), "user")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCheckAllowedDailyLimit(t *testing.T) {
	s := newStack(t)
	seedPolicy(t, s, models.QuotaPolicy{
		Enabled:           true,
		MaxSessionsPerDay: 3,
	})

	userID := "user-daily"
	for i := 0; i < 3; i++ {
		session := models.Session{
			ID:        "daily-" + string(rune('a'+i)),
			UserID:    &userID,
			Status:    models.SessionEnded,
			CreatedAt: time.Now(),
		}
		require.NoError(t, s.db.Create(&session).Error)
	}

	decision, err := s.quota.CheckAllowed(&userID, "user")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonDailyLimit, decision.Reason)
	assert.Equal(t, 3, decision.SessionsToday)
	assert.NotEmpty(t, decision.Message)
}

func TestCheckAllowedCooldown(t *testing.T) {
	s := newStack(t)
	seedPolicy(t, s, models.QuotaPolicy{
		Enabled:           true,
		MaxSessionsPerDay: 10,
		CooldownMinutes:   30,
	})

	userID := "user-cooldown"
	endedAt := time.Now().Add(-10 * time.Minute)
	session := models.Session{
		ID:        "cooldown-1",
		UserID:    &userID,
		Status:    models.SessionEnded,
		CreatedAt: endedAt.Add(-20 * time.Minute),
		EndedAt:   &endedAt,
		EndedBy:   models.EndedByUser,
	}
	require.NoError(t, s.db.Create(&session).Error)

	decision, err := s.quota.CheckAllowed(&userID, "user")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonCooldown, decision.Reason)
	assert.Equal(t, 20, decision.MinutesRemaining)
}

func TestCheckAllowedAfterCooldownExpires(t *testing.T) {
	s := newStack(t)
	seedPolicy(t, s, models.QuotaPolicy{
		Enabled:           true,
		MaxSessionsPerDay: 10,
		CooldownMinutes:   30,
	})

	userID := "user-cooled"
	endedAt := time.Now().Add(-45 * time.Minute)
	session := models.Session{
		ID:        "cooled-1",
		UserID:    &userID,
		Status:    models.SessionEnded,
		CreatedAt: endedAt.Add(-20 * time.Minute),
		EndedAt:   &endedAt,
	}
	require.NoError(t, s.db.Create(&session).Error)

	decision, err := s.quota.CheckAllowed(&userID, "user")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestPolicyFallsBackToDefaults(t *testing.T) {
	s := newStack(t)

	// No row persisted: the hardcoded config defaults apply.
	policy := s.quota.Policy()
	assert.True(t, policy.Enabled)
	assert.Equal(t, 3, policy.MaxSessionsPerDay)
	assert.Equal(t, 30, policy.MaxDurationMinutes)
}

func TestCheckAllowedIsReadOnly(t *testing.T) {
	s := newStack(t)

	userID := "user-readonly"
	for i := 0; i < 5; i++ {
		decision, err := s.quota.CheckAllowed(&userID, "user")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	var count int64
	require.NoError(t, s.db.Model(&models.Session{}).Count(&count).Error)
	assert.Zero(t, count)
}
