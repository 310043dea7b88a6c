// Package models defines the engine's outbound event types.
package models

import "time"

// EventType names an outbound engine event consumed by collaborators.
type EventType string

const (
	EventCrisisDetected      EventType = "crisis-detected"
	EventAlertCreated        EventType = "alert-created"
	EventAlertAcknowledged   EventType = "alert-acknowledged"
	EventAlertInProgress     EventType = "alert-in-progress"
	EventAlertResolved       EventType = "alert-resolved"
	EventAlertEscalated      EventType = "alert-escalated"
	EventAlertCancelled      EventType = "alert-cancelled"
	EventNotificationSent    EventType = "notification-sent"
	EventEscalationExhausted EventType = "escalation-exhausted"
)

// Event is one outbound engine event. Exactly one of the record pointers is
// populated, matching the event type.
type Event struct {
	ID           string                 `json:"id"`
	Type         EventType              `json:"type"`
	AlertID      string                 `json:"alert_id,omitempty"`
	UserID       string                 `json:"user_id,omitempty"`
	Detection    *CrisisDetectionResult `json:"detection,omitempty"`
	Alert        *EmergencyAlert        `json:"alert,omitempty"`
	Notification *EmergencyNotification `json:"notification,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
}
