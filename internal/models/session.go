package models

import (
	"time"
)

// Session statuses
const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

// Who ended a session
const (
	EndedByUser   = "user"
	EndedBySystem = "system"
)

// Monitoring frequencies
const (
	MonitoringNormal   = "normal"
	MonitoringHigh     = "high"
	MonitoringCritical = "critical"
)

// Crisis severities
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Session represents one continuous conversational engagement between a
// user and the AI provider. The id is opaque: either issued by the
// provider on a retried client call or generated locally.
type Session struct {
	ID                  string     `json:"id" gorm:"primaryKey"`
	UserID              *string    `json:"user_id" gorm:"index"`
	Status              string     `json:"status" gorm:"index"`
	CreatedAt           time.Time  `json:"created_at" gorm:"index"`
	EndedAt             *time.Time `json:"ended_at"`
	EndedBy             string     `json:"ended_by,omitempty"`
	CrisisFlagged       bool       `json:"crisis_flagged"`
	CrisisSeverity      *string    `json:"crisis_severity"`
	CrisisRiskScore     *int       `json:"crisis_risk_score"`
	CrisisNotes         string     `json:"crisis_notes,omitempty"`
	MonitoringFrequency string     `json:"monitoring_frequency"`
}

// IsActive reports whether the session is still running.
func (s *Session) IsActive() bool {
	return s.Status == SessionActive
}

// SessionConfiguration captures the provider-facing parameters a session
// was created with. One row per session, immutable after creation.
type SessionConfiguration struct {
	SessionID          string    `json:"session_id" gorm:"primaryKey"`
	Voice              string    `json:"voice"`
	Language           string    `json:"language"`
	MaxDurationMinutes int       `json:"max_duration_minutes"`
	CreatedAt          time.Time `json:"created_at"`
}
