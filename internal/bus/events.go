package bus

import (
	"time"
)

// Event names carried on the bus. These are the wire contract consumed
// by UI collaborators over the websocket layer.
const (
	EventSessionCreated           = "session:created"
	EventSessionStatus            = "session:status"
	EventMessagesNew              = "messages:new"
	EventCrisisDetected           = "session:crisis-detected"
	EventCrisisFlagged            = "session:crisis-flagged"
	EventCrisisUnflagged          = "session:crisis-unflagged"
	EventCrisisEmergency          = "session:crisis-emergency"
	EventSupervisorReviewRequired = "session:supervisor-review-required"
)

// Broadcast is the well-known topic every supervisory observer
// subscribes to. A constant name, not global state: any subscriber may
// join, no lifecycle.
const Broadcast = "supervisors"

// SessionTopic returns the per-session topic name.
func SessionTopic(sessionID string) string {
	return "session:" + sessionID
}

// Event is a single bus message. Payload must be JSON-marshalable since
// events cross the websocket boundary and, when the redis bridge is
// enabled, an instance boundary.
type Event struct {
	Name      string         `json:"name"`
	SessionID string         `json:"session_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	// origin identifies the publishing instance so the redis bridge can
	// drop its own echoes.
	Origin string `json:"origin,omitempty"`
}
