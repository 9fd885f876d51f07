package models

import (
	"time"
)

// QuotaPolicy is the process-wide session quota configuration. A single
// row lives in the database so it can be changed without a deploy; the
// enforcer caches it with a short TTL and falls back to hardcoded
// defaults when the store is unreachable.
type QuotaPolicy struct {
	ID                 uint      `json:"id" gorm:"primaryKey"`
	Enabled            bool      `json:"enabled"`
	MaxSessionsPerDay  int       `json:"max_sessions_per_day"`
	MaxDurationMinutes int       `json:"max_duration_minutes"`
	CooldownMinutes    int       `json:"cooldown_minutes"`
	ExemptRole         string    `json:"exempt_role"`
	UpdatedAt          time.Time `json:"updated_at"`
}
