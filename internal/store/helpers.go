package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mindmesh/sentinel/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalJSON encodes v as a JSON string, returning nil for empty values so
// the column stays NULL.
func marshalJSON(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	s := string(b)
	if s == "null" || s == "[]" || s == "{}" {
		return nil, nil
	}
	return s, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows so scan helpers can serve both.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanDetection scans one detections row. Column order must match the
// detectionColumns list in the backend queries.
func scanDetection(row rowScanner) (models.CrisisDetectionResult, error) {
	var det models.CrisisDetectionResult
	var conversationID, categoriesJSON, signalsJSON sql.NullString
	err := row.Scan(
		&det.ID, &det.MessageID, &det.UserID, &conversationID, &categoriesJSON,
		&det.Confidence, &det.RiskLevel, &det.Urgency, &det.RequiresImmediate,
		&signalsJSON, &det.DetectedAt,
	)
	if err != nil {
		return det, err
	}
	det.ConversationID = conversationID.String
	if categoriesJSON.Valid && categoriesJSON.String != "" {
		if err := json.Unmarshal([]byte(categoriesJSON.String), &det.Categories); err != nil {
			return det, fmt.Errorf("unmarshal detection categories: %w", err)
		}
	}
	if signalsJSON.Valid && signalsJSON.String != "" {
		if err := json.Unmarshal([]byte(signalsJSON.String), &det.Signals); err != nil {
			return det, fmt.Errorf("unmarshal detection signals: %w", err)
		}
	}
	return det, nil
}

// scanAlert scans one alerts row (without notifications).
func scanAlert(row rowScanner) (models.EmergencyAlert, error) {
	var alert models.EmergencyAlert
	var conversationID, messageID, detectionID, title, contextJSON sql.NullString
	var acknowledgedBy, resolvedBy, resolution, cancelReason sql.NullString
	var acknowledgedAt, resolvedAt sql.NullTime
	err := row.Scan(
		&alert.ID, &alert.UserID, &conversationID, &messageID, &detectionID,
		&alert.AlertType, &alert.Severity, &title, &alert.Description, &contextJSON,
		&alert.Status, &alert.EscalationLevel, &alert.CreatedAt,
		&acknowledgedAt, &acknowledgedBy, &resolvedAt, &resolvedBy,
		&resolution, &cancelReason, &alert.UpdatedAt,
	)
	if err != nil {
		return alert, err
	}
	alert.ConversationID = conversationID.String
	alert.MessageID = messageID.String
	alert.DetectionID = detectionID.String
	alert.Title = title.String
	alert.AcknowledgedBy = acknowledgedBy.String
	alert.ResolvedBy = resolvedBy.String
	alert.Resolution = resolution.String
	alert.CancelReason = cancelReason.String
	if acknowledgedAt.Valid {
		alert.AcknowledgedAt = &acknowledgedAt.Time
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &alert.Context); err != nil {
			return alert, fmt.Errorf("unmarshal alert context: %w", err)
		}
	}
	return alert, nil
}

// scanNotification scans one notifications row.
func scanNotification(row rowScanner) (models.EmergencyNotification, error) {
	var n models.EmergencyNotification
	var lastError sql.NullString
	var sentAt sql.NullTime
	err := row.Scan(
		&n.ID, &n.AlertID, &n.ContactID, &n.Channel, &n.Level, &n.Status,
		&n.Attempt, &lastError, &sentAt, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return n, err
	}
	n.LastError = lastError.String
	if sentAt.Valid {
		n.SentAt = &sentAt.Time
	}
	return n, nil
}

// scanContact scans one contacts row.
func scanContact(row rowScanner) (models.EmergencyContact, error) {
	var c models.EmergencyContact
	var relationship, phoneNumber, webhookURL, channelsJSON, scheduleJSON sql.NullString
	err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &relationship, &phoneNumber, &webhookURL,
		&channelsJSON, &c.Availability, &scheduleJSON, &c.Priority,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	c.Relationship = relationship.String
	c.PhoneNumber = phoneNumber.String
	c.WebhookURL = webhookURL.String
	if channelsJSON.Valid && channelsJSON.String != "" {
		if err := json.Unmarshal([]byte(channelsJSON.String), &c.Channels); err != nil {
			return c, fmt.Errorf("unmarshal contact channels: %w", err)
		}
	}
	if scheduleJSON.Valid && scheduleJSON.String != "" {
		if err := json.Unmarshal([]byte(scheduleJSON.String), &c.Schedule); err != nil {
			return c, fmt.Errorf("unmarshal contact schedule: %w", err)
		}
	}
	return c, nil
}
