// Package models defines emergency alert lifecycle structures for the sentinel crisis engine.
package models

import "time"

// AlertSeverity grades how serious an emergency alert is.
type AlertSeverity string

const (
	SeverityLow       AlertSeverity = "low"
	SeverityMedium    AlertSeverity = "medium"
	SeverityHigh      AlertSeverity = "high"
	SeverityCritical  AlertSeverity = "critical"
	SeverityEmergency AlertSeverity = "emergency"
)

// IsValidAlertSeverity checks if the given severity is supported.
func IsValidAlertSeverity(s AlertSeverity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical, SeverityEmergency:
		return true
	default:
		return false
	}
}

// AlertStatus is the lifecycle state of an emergency alert.
//
// Allowed transitions:
//
//	pending -> acknowledged -> in_progress -> resolved
//	pending/acknowledged -> escalated -> resolved
//	any non-terminal state -> cancelled
type AlertStatus string

const (
	AlertStatusPending      AlertStatus = "pending"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusInProgress   AlertStatus = "in_progress"
	AlertStatusEscalated    AlertStatus = "escalated"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusCancelled    AlertStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s AlertStatus) IsTerminal() bool {
	return s == AlertStatusResolved || s == AlertStatusCancelled
}

// AlertType identifies what triggered an alert.
type AlertType string

const (
	// AlertTypeCrisisDetection marks alerts opened automatically by the detection layer.
	AlertTypeCrisisDetection AlertType = "crisis_detection"
	// AlertTypeManual marks alerts opened by an operator.
	AlertTypeManual AlertType = "manual"
)

// NotificationStatus is the delivery state of one emergency notification.
type NotificationStatus string

const (
	NotificationStatusQueued       NotificationStatus = "queued"
	NotificationStatusSent         NotificationStatus = "sent"
	NotificationStatusDelivered    NotificationStatus = "delivered"
	NotificationStatusFailed       NotificationStatus = "failed"
	NotificationStatusAcknowledged NotificationStatus = "acknowledged"
)

// NotificationChannel names a delivery transport for emergency notifications.
type NotificationChannel string

const (
	ChannelSMS      NotificationChannel = "sms"
	ChannelWhatsApp NotificationChannel = "whatsapp"
	ChannelWebhook  NotificationChannel = "webhook"
)

// EmergencyNotification is one notification attempt chain for a contact on an alert.
type EmergencyNotification struct {
	ID        string              `json:"id"`
	AlertID   string              `json:"alert_id"`
	ContactID string              `json:"contact_id"`
	Channel   NotificationChannel `json:"channel"`
	Level     int                 `json:"level"` // escalation level the notification was sent at
	Status    NotificationStatus  `json:"status"`
	Attempt   int                 `json:"attempt"`
	LastError string              `json:"last_error,omitempty"`
	SentAt    *time.Time          `json:"sent_at,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// EmergencyAlert is the single source of truth for one safety-critical incident.
// It is owned exclusively by the alert manager; other components only read it or
// request transitions through the manager.
type EmergencyAlert struct {
	ID              string                  `json:"id"`
	UserID          string                  `json:"user_id"`
	ConversationID  string                  `json:"conversation_id,omitempty"`
	MessageID       string                  `json:"message_id,omitempty"`
	DetectionID     string                  `json:"detection_id,omitempty"`
	AlertType       AlertType               `json:"alert_type"`
	Severity        AlertSeverity           `json:"severity"`
	Title           string                  `json:"title,omitempty"`
	Description     string                  `json:"description"`
	Context         map[string]string       `json:"context,omitempty"`
	Status          AlertStatus             `json:"status"`
	EscalationLevel int                     `json:"escalation_level"`
	Notifications   []EmergencyNotification `json:"notifications,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	AcknowledgedAt  *time.Time              `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string                  `json:"acknowledged_by,omitempty"`
	ResolvedAt      *time.Time              `json:"resolved_at,omitempty"`
	ResolvedBy      string                  `json:"resolved_by,omitempty"`
	Resolution      string                  `json:"resolution,omitempty"`
	CancelReason    string                  `json:"cancel_reason,omitempty"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// CreateAlertRequest is the payload for opening an alert.
type CreateAlertRequest struct {
	UserID              string            `json:"user_id"`
	ConversationID      string            `json:"conversation_id,omitempty"`
	MessageID           string            `json:"message_id,omitempty"`
	DetectionID         string            `json:"detection_id,omitempty"`
	AlertType           AlertType         `json:"alert_type,omitempty"`
	Severity            AlertSeverity     `json:"severity"`
	Title               string            `json:"title,omitempty"`
	Description         string            `json:"description"`
	Context             map[string]string `json:"context,omitempty"`
	ImmediateEscalation bool              `json:"immediate_escalation,omitempty"`
}

// Validate performs validation on a CreateAlertRequest.
func (r *CreateAlertRequest) Validate() error {
	if r.UserID == "" {
		return ErrEmptyUserID
	}
	if !IsValidAlertSeverity(r.Severity) {
		return ErrInvalidSeverity
	}
	if r.Description == "" {
		return ErrEmptyDescription
	}
	if len(r.Description) > MaxAlertDescriptionLength {
		return ErrDescriptionTooLong
	}
	if len(r.Title) > MaxAlertTitleLength {
		return ErrTitleTooLong
	}
	return nil
}

// AlertActionRequest carries the actor and free-form text for a manual alert
// operation (acknowledge, resolve, escalate, cancel).
type AlertActionRequest struct {
	ActorID    string `json:"actor_id"`
	Notes      string `json:"notes,omitempty"`      // acknowledge
	Reason     string `json:"reason,omitempty"`     // escalate, cancel
	Resolution string `json:"resolution,omitempty"` // resolve
}

// AlertMetrics is a derived read-only view over stored alerts. It is never
// written directly, only computed from the alert history.
type AlertMetrics struct {
	TotalAlerts            int                   `json:"total_alerts"`
	AlertsByStatus         map[AlertStatus]int   `json:"alerts_by_status"`
	AlertsBySeverity       map[AlertSeverity]int `json:"alerts_by_severity"`
	ActiveAlerts           int                   `json:"active_alerts"`
	EscalationsExhausted   int                   `json:"escalations_exhausted"`
	AvgTimeToAcknowledgeMs float64               `json:"avg_time_to_acknowledge_ms"`
}
