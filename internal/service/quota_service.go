package service

import (
	"fmt"
	"math"
	"time"

	"ai-companion-care/backend/internal/models"
	"ai-companion-care/backend/pkg/cache"
	"ai-companion-care/backend/pkg/config"
	"ai-companion-care/backend/pkg/logger"
	"ai-companion-care/backend/pkg/observability"

	"gorm.io/gorm"
)

// Quota denial reasons
const (
	ReasonDailyLimit = "daily_limit"
	ReasonCooldown   = "cooldown"
)

const policyCacheKey = "quota:policy"

// QuotaLimits is the active-policy slice returned on allow so the caller
// can arm a client-visible countdown.
type QuotaLimits struct {
	MaxSessionsPerDay  int `json:"max_sessions_per_day"`
	MaxDurationMinutes int `json:"max_duration_minutes"`
	CooldownMinutes    int `json:"cooldown_minutes"`
}

// QuotaDecision is the outcome of one checkAllowed evaluation.
type QuotaDecision struct {
	Allowed          bool         `json:"allowed"`
	Reason           string       `json:"reason,omitempty"`
	Message          string       `json:"message,omitempty"`
	SessionsToday    int          `json:"sessions_today,omitempty"`
	MinutesRemaining int          `json:"minutes_remaining,omitempty"`
	Limits           *QuotaLimits `json:"limits,omitempty"`
}

// QuotaService decides whether a user may start a new session. Purely
// read-only: it never mutates state and is safe to call repeatedly. The
// policy row is cached with a short TTL so edits land without a deploy;
// on store failure the hardcoded config defaults apply.
type QuotaService struct {
	db       *gorm.DB
	cache    *cache.Cache
	cfg      *config.Config
	log      *logger.Logger
	location *time.Location
	now      func() time.Time
}

// NewQuotaService creates a quota service. The reference timezone from
// config determines where "today" starts; a bad zone name falls back to
// UTC with a logged warning.
func NewQuotaService(db *gorm.DB, policyCache *cache.Cache, cfg *config.Config, log *logger.Logger) *QuotaService {
	location, err := time.LoadLocation(cfg.Quota.Timezone)
	if err != nil {
		log.Warn("invalid quota timezone, falling back to UTC", "timezone", cfg.Quota.Timezone)
		location = time.UTC
	}
	return &QuotaService{
		db:       db,
		cache:    policyCache,
		cfg:      cfg,
		log:      log,
		location: location,
		now:      time.Now,
	}
}

// Policy returns the active quota policy: cached DB row when fresh,
// re-read on TTL expiry, config defaults when the store is unreachable.
func (s *QuotaService) Policy() models.QuotaPolicy {
	if cached, ok := s.cache.Get(policyCacheKey); ok {
		if policy, ok := cached.(models.QuotaPolicy); ok {
			return policy
		}
	}

	var policy models.QuotaPolicy
	if err := s.db.First(&policy).Error; err != nil {
		if err != gorm.ErrRecordNotFound {
			s.log.Warn("quota policy read failed, using defaults", "error", err.Error())
		}
		policy = s.defaultPolicy()
	}

	s.cache.SetWithExpiration(policyCacheKey, policy, s.cfg.Quota.PolicyCacheTTL)
	return policy
}

func (s *QuotaService) defaultPolicy() models.QuotaPolicy {
	return models.QuotaPolicy{
		Enabled:            s.cfg.Quota.Enabled,
		MaxSessionsPerDay:  s.cfg.Quota.MaxSessionsPerDay,
		MaxDurationMinutes: s.cfg.Quota.MaxDurationMinutes,
		CooldownMinutes:    s.cfg.Quota.CooldownMinutes,
		ExemptRole:         s.cfg.Quota.ExemptRole,
	}
}

// CheckAllowed evaluates whether userID may start a session right now.
// Anonymous callers and the exempt role are always allowed, as is
// everyone when the policy is disabled.
func (s *QuotaService) CheckAllowed(userID *string, userRole string) (*QuotaDecision, error) {
	policy := s.Policy()
	limits := &QuotaLimits{
		MaxSessionsPerDay:  policy.MaxSessionsPerDay,
		MaxDurationMinutes: policy.MaxDurationMinutes,
		CooldownMinutes:    policy.CooldownMinutes,
	}

	if userID == nil || *userID == "" {
		return &QuotaDecision{Allowed: true, Limits: limits}, nil
	}
	if policy.ExemptRole != "" && userRole == policy.ExemptRole {
		return &QuotaDecision{Allowed: true, Limits: limits}, nil
	}
	if !policy.Enabled {
		return &QuotaDecision{Allowed: true, Limits: limits}, nil
	}

	now := s.now()
	startOfDay := s.startOfDay(now)

	var sessionsToday int64
	err := s.db.Model(&models.Session{}).
		Where("user_id = ? AND created_at >= ?", *userID, startOfDay).
		Count(&sessionsToday).Error
	if err != nil {
		return nil, err
	}

	if int(sessionsToday) >= policy.MaxSessionsPerDay {
		observability.QuotaDenials.WithLabelValues(ReasonDailyLimit).Inc()
		return &QuotaDecision{
			Allowed:       false,
			Reason:        ReasonDailyLimit,
			Message:       fmt.Sprintf("daily session limit of %d reached, 0 remaining today", policy.MaxSessionsPerDay),
			SessionsToday: int(sessionsToday),
			Limits:        limits,
		}, nil
	}

	if policy.CooldownMinutes > 0 {
		var lastEnded models.Session
		err := s.db.
			Where("user_id = ? AND status = ? AND ended_at IS NOT NULL", *userID, models.SessionEnded).
			Order("ended_at DESC").
			First(&lastEnded).Error
		if err != nil && err != gorm.ErrRecordNotFound {
			return nil, err
		}
		if err == nil && lastEnded.EndedAt != nil {
			elapsed := now.Sub(*lastEnded.EndedAt)
			cooldown := time.Duration(policy.CooldownMinutes) * time.Minute
			if elapsed < cooldown {
				remaining := int(math.Ceil((cooldown - elapsed).Minutes()))
				observability.QuotaDenials.WithLabelValues(ReasonCooldown).Inc()
				return &QuotaDecision{
					Allowed:          false,
					Reason:           ReasonCooldown,
					Message:          fmt.Sprintf("cooldown in effect, try again in %d minutes", remaining),
					MinutesRemaining: remaining,
					Limits:           limits,
				}, nil
			}
		}
	}

	return &QuotaDecision{
		Allowed:       true,
		SessionsToday: int(sessionsToday),
		Limits:        limits,
	}, nil
}

// startOfDay returns midnight of the current day in the reference
// timezone, converted back for store comparison.
func (s *QuotaService) startOfDay(now time.Time) time.Time {
	local := now.In(s.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
}
