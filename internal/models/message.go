package models

import (
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Well-known message types. MessageType is a free-form tag; these are the
// values the backend itself produces.
const (
	TypeChat               = "chat"
	TypeVoice              = "voice"
	TypeCrisisIntervention = "crisis_intervention"
	TypeAIGuidance         = "ai_guidance"
	TypeAdminVisible       = "admin_visible"
)

// MetadataHiddenKey marks a message that is forwarded only into the
// upstream-AI conversational channel and never rendered to the end user.
const MetadataHiddenKey = "hidden_from_user"

// Message belongs to exactly one session. RedactedContent stays nil until
// the redaction gateway has produced the privacy-safe variant; the retry
// sweep guarantees it eventually fills in for non-empty content.
type Message struct {
	ID              string         `json:"id" gorm:"primaryKey"`
	SessionID       string         `json:"session_id" gorm:"index"`
	Role            string         `json:"role"`
	MessageType     string         `json:"message_type"`
	Content         string         `json:"content"`
	RedactedContent *string        `json:"redacted_content"`
	Metadata        map[string]any `json:"metadata" gorm:"serializer:json"`
	Position        int            `json:"position"`
	CreatedAt       time.Time      `json:"created_at" gorm:"index"`
}

// HiddenFromUser reports whether the message may only be fed to the
// upstream AI, never rendered in user-facing transcript views.
func (m *Message) HiddenFromUser() bool {
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata[MetadataHiddenKey]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// MessageView is the shape published on the event bus and returned by
// transcript endpoints. Content carries either the raw or the redacted
// text depending on the projection that produced the view.
type MessageView struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Role        string         `json:"role"`
	MessageType string         `json:"message_type"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
