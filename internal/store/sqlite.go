// Package store provides storage backends for the sentinel crisis engine.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/mindmesh/sentinel/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

const detectionColumns = `id, message_id, user_id, conversation_id, categories, confidence, risk_level, urgency, requires_immediate, signals, detected_at`

// AddDetection appends a detection result to the history.
func (s *SQLiteStore) AddDetection(det models.CrisisDetectionResult) error {
	categoriesJSON, err := marshalJSON(det.Categories)
	if err != nil {
		return err
	}
	signalsJSON, err := marshalJSON(det.Signals)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO detections (`+detectionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		det.ID, det.MessageID, det.UserID, nilIfEmpty(det.ConversationID), categoriesJSON,
		det.Confidence, det.RiskLevel, det.Urgency, det.RequiresImmediate, signalsJSON, det.DetectedAt)
	if err != nil {
		slog.Error("SQLiteStore AddDetection failed", "error", err, "id", det.ID)
		return fmt.Errorf("failed to insert detection %s: %w", det.ID, err)
	}
	slog.Debug("SQLiteStore AddDetection succeeded", "id", det.ID, "userID", det.UserID, "riskLevel", det.RiskLevel)
	return nil
}

// GetDetection retrieves a detection by ID. Returns nil if not found.
func (s *SQLiteStore) GetDetection(id string) (*models.CrisisDetectionResult, error) {
	row := s.db.QueryRow(`SELECT `+detectionColumns+` FROM detections WHERE id = ?`, id)
	det, err := scanDetection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetDetection failed", "error", err, "id", id)
		return nil, err
	}
	return &det, nil
}

// ListRecentDetections returns a user's detections at or after since, newest first.
func (s *SQLiteStore) ListRecentDetections(userID string, since time.Time) ([]models.CrisisDetectionResult, error) {
	rows, err := s.db.Query(`SELECT `+detectionColumns+` FROM detections WHERE user_id = ? AND detected_at >= ? ORDER BY detected_at DESC`, userID, since)
	if err != nil {
		slog.Error("SQLiteStore ListRecentDetections query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []models.CrisisDetectionResult
	for rows.Next() {
		det, err := scanDetection(rows)
		if err != nil {
			slog.Error("SQLiteStore ListRecentDetections scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan detection row: %w", err)
		}
		detections = append(detections, det)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate detection rows: %w", err)
	}
	slog.Debug("SQLiteStore ListRecentDetections succeeded", "userID", userID, "count", len(detections))
	return detections, nil
}

const alertColumns = `id, user_id, conversation_id, message_id, detection_id, alert_type, severity, title, description, context, status, escalation_level, created_at, acknowledged_at, acknowledged_by, resolved_at, resolved_by, resolution, cancel_reason, updated_at`

// SaveAlert stores or updates an alert row.
func (s *SQLiteStore) SaveAlert(alert models.EmergencyAlert) error {
	contextJSON, err := marshalJSON(alert.Context)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.UserID, nilIfEmpty(alert.ConversationID), nilIfEmpty(alert.MessageID), nilIfEmpty(alert.DetectionID),
		alert.AlertType, alert.Severity, nilIfEmpty(alert.Title), alert.Description, contextJSON,
		alert.Status, alert.EscalationLevel, alert.CreatedAt,
		alert.AcknowledgedAt, nilIfEmpty(alert.AcknowledgedBy), alert.ResolvedAt, nilIfEmpty(alert.ResolvedBy),
		nilIfEmpty(alert.Resolution), nilIfEmpty(alert.CancelReason), alert.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveAlert failed", "error", err, "id", alert.ID)
		return fmt.Errorf("failed to save alert %s: %w", alert.ID, err)
	}
	slog.Debug("SQLiteStore SaveAlert succeeded", "id", alert.ID, "status", alert.Status)
	return nil
}

// GetAlert retrieves an alert with its notifications. Returns nil if not found.
func (s *SQLiteStore) GetAlert(id string) (*models.EmergencyAlert, error) {
	row := s.db.QueryRow(`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetAlert failed", "error", err, "id", id)
		return nil, err
	}
	alert.Notifications, err = s.ListNotifications(id)
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// ListAlerts returns every stored alert, newest first, without notifications.
func (s *SQLiteStore) ListAlerts() ([]models.EmergencyAlert, error) {
	return s.queryAlerts(`SELECT ` + alertColumns + ` FROM alerts ORDER BY created_at DESC`)
}

// ListActiveAlerts returns alerts in a non-terminal state, newest first.
func (s *SQLiteStore) ListActiveAlerts() ([]models.EmergencyAlert, error) {
	return s.queryAlerts(`SELECT ` + alertColumns + ` FROM alerts WHERE status NOT IN ('resolved', 'cancelled') ORDER BY created_at DESC`)
}

func (s *SQLiteStore) queryAlerts(query string, args ...interface{}) ([]models.EmergencyAlert, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore queryAlerts failed", "error", err)
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.EmergencyAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert rows: %w", err)
	}
	return alerts, nil
}

const notificationColumns = `id, alert_id, contact_id, channel, level, status, attempt, last_error, sent_at, created_at, updated_at`

// SaveNotification stores or updates a notification attempt chain.
func (s *SQLiteStore) SaveNotification(n models.EmergencyNotification) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO notifications (`+notificationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.AlertID, n.ContactID, n.Channel, n.Level, n.Status, n.Attempt,
		nilIfEmpty(n.LastError), n.SentAt, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveNotification failed", "error", err, "id", n.ID)
		return fmt.Errorf("failed to save notification %s: %w", n.ID, err)
	}
	slog.Debug("SQLiteStore SaveNotification succeeded", "id", n.ID, "status", n.Status, "attempt", n.Attempt)
	return nil
}

// ListNotifications returns notifications for an alert in creation order.
func (s *SQLiteStore) ListNotifications(alertID string) ([]models.EmergencyNotification, error) {
	rows, err := s.db.Query(`SELECT `+notificationColumns+` FROM notifications WHERE alert_id = ? ORDER BY created_at ASC`, alertID)
	if err != nil {
		slog.Error("SQLiteStore ListNotifications query failed", "error", err, "alertID", alertID)
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []models.EmergencyNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notification rows: %w", err)
	}
	return notifications, nil
}

const contactColumns = `id, user_id, name, relationship, phone_number, webhook_url, channels, availability, schedule, priority, created_at, updated_at`

// SaveContact stores or updates an emergency contact.
func (s *SQLiteStore) SaveContact(c models.EmergencyContact) error {
	channelsJSON, err := marshalJSON(c.Channels)
	if err != nil {
		return err
	}
	scheduleJSON, err := marshalJSON(c.Schedule)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO contacts (`+contactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, nilIfEmpty(c.Relationship), nilIfEmpty(c.PhoneNumber), nilIfEmpty(c.WebhookURL),
		channelsJSON, c.Availability, scheduleJSON, c.Priority, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveContact failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save contact %s: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore SaveContact succeeded", "id", c.ID, "userID", c.UserID)
	return nil
}

// GetContact retrieves a contact by ID. Returns nil if not found.
func (s *SQLiteStore) GetContact(id string) (*models.EmergencyContact, error) {
	row := s.db.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetContact failed", "error", err, "id", id)
		return nil, err
	}
	return &c, nil
}

// ListContacts returns a user's contacts ordered by escalation priority.
func (s *SQLiteStore) ListContacts(userID string) ([]models.EmergencyContact, error) {
	rows, err := s.db.Query(`SELECT `+contactColumns+` FROM contacts WHERE user_id = ? ORDER BY priority ASC, id ASC`, userID)
	if err != nil {
		slog.Error("SQLiteStore ListContacts query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.EmergencyContact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact row: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contact rows: %w", err)
	}
	return contacts, nil
}

// DeleteContact removes a contact by ID.
func (s *SQLiteStore) DeleteContact(id string) error {
	_, err := s.db.Exec(`DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteContact failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete contact %s: %w", id, err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
