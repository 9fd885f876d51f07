package models

import (
	"time"
)

// Human handoff statuses
const (
	HandoffInitiated    = "initiated"
	HandoffAcknowledged = "acknowledged"
)

// InterventionAction is the append-only audit record of what the crisis
// engine did for a session: which tier fired, when, with what payload.
// Rows are never mutated after insert.
type InterventionAction struct {
	ID        string         `json:"id" gorm:"primaryKey"`
	SessionID string         `json:"session_id" gorm:"index"`
	Tier      string         `json:"tier"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload" gorm:"serializer:json"`
	CreatedAt time.Time      `json:"created_at"`
}

// CrisisEvent records one risk evaluation outcome. Severity is derived
// per evaluation, not transitioned; each row is a fresh classification of
// the transcript window at that instant.
type CrisisEvent struct {
	ID        string         `json:"id" gorm:"primaryKey"`
	SessionID string         `json:"session_id" gorm:"index"`
	EventType string         `json:"event_type"`
	Severity  string         `json:"severity"`
	RiskScore int            `json:"risk_score"`
	Payload   map[string]any `json:"payload" gorm:"serializer:json"`
	CreatedAt time.Time      `json:"created_at"`
}

// HumanHandoff surfaces a session for direct supervisory intervention.
// Created at the high tier; the only permitted mutation is the
// acknowledgement stamp.
type HumanHandoff struct {
	ID             string     `json:"id" gorm:"primaryKey"`
	SessionID      string     `json:"session_id" gorm:"index"`
	Status         string     `json:"status"`
	Reason         string     `json:"reason"`
	RiskScore      int        `json:"risk_score"`
	InitiatedAt    time.Time  `json:"initiated_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
}
