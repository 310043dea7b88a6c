// Package store provides storage backends for the sentinel crisis engine.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/mindmesh/sentinel/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// AddDetection appends a detection result to the history.
func (s *PostgresStore) AddDetection(det models.CrisisDetectionResult) error {
	categoriesJSON, err := marshalJSON(det.Categories)
	if err != nil {
		return err
	}
	signalsJSON, err := marshalJSON(det.Signals)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO detections (`+detectionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		det.ID, det.MessageID, det.UserID, nilIfEmpty(det.ConversationID), categoriesJSON,
		det.Confidence, det.RiskLevel, det.Urgency, det.RequiresImmediate, signalsJSON, det.DetectedAt)
	if err != nil {
		slog.Error("PostgresStore AddDetection failed", "error", err, "id", det.ID)
		return fmt.Errorf("failed to insert detection %s: %w", det.ID, err)
	}
	slog.Debug("PostgresStore AddDetection succeeded", "id", det.ID, "userID", det.UserID, "riskLevel", det.RiskLevel)
	return nil
}

// GetDetection retrieves a detection by ID. Returns nil if not found.
func (s *PostgresStore) GetDetection(id string) (*models.CrisisDetectionResult, error) {
	row := s.db.QueryRow(`SELECT `+detectionColumns+` FROM detections WHERE id = $1`, id)
	det, err := scanDetection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetDetection failed", "error", err, "id", id)
		return nil, err
	}
	return &det, nil
}

// ListRecentDetections returns a user's detections at or after since, newest first.
func (s *PostgresStore) ListRecentDetections(userID string, since time.Time) ([]models.CrisisDetectionResult, error) {
	rows, err := s.db.Query(`SELECT `+detectionColumns+` FROM detections WHERE user_id = $1 AND detected_at >= $2 ORDER BY detected_at DESC`, userID, since)
	if err != nil {
		slog.Error("PostgresStore ListRecentDetections query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []models.CrisisDetectionResult
	for rows.Next() {
		det, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detection row: %w", err)
		}
		detections = append(detections, det)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate detection rows: %w", err)
	}
	slog.Debug("PostgresStore ListRecentDetections succeeded", "userID", userID, "count", len(detections))
	return detections, nil
}

// SaveAlert stores or updates an alert row.
func (s *PostgresStore) SaveAlert(alert models.EmergencyAlert) error {
	contextJSON, err := marshalJSON(alert.Context)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO alerts (`+alertColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE SET
			severity = EXCLUDED.severity, title = EXCLUDED.title, description = EXCLUDED.description,
			context = EXCLUDED.context, status = EXCLUDED.status, escalation_level = EXCLUDED.escalation_level,
			acknowledged_at = EXCLUDED.acknowledged_at, acknowledged_by = EXCLUDED.acknowledged_by,
			resolved_at = EXCLUDED.resolved_at, resolved_by = EXCLUDED.resolved_by,
			resolution = EXCLUDED.resolution, cancel_reason = EXCLUDED.cancel_reason, updated_at = EXCLUDED.updated_at`,
		alert.ID, alert.UserID, nilIfEmpty(alert.ConversationID), nilIfEmpty(alert.MessageID), nilIfEmpty(alert.DetectionID),
		alert.AlertType, alert.Severity, nilIfEmpty(alert.Title), alert.Description, contextJSON,
		alert.Status, alert.EscalationLevel, alert.CreatedAt,
		alert.AcknowledgedAt, nilIfEmpty(alert.AcknowledgedBy), alert.ResolvedAt, nilIfEmpty(alert.ResolvedBy),
		nilIfEmpty(alert.Resolution), nilIfEmpty(alert.CancelReason), alert.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveAlert failed", "error", err, "id", alert.ID)
		return fmt.Errorf("failed to save alert %s: %w", alert.ID, err)
	}
	slog.Debug("PostgresStore SaveAlert succeeded", "id", alert.ID, "status", alert.Status)
	return nil
}

// GetAlert retrieves an alert with its notifications. Returns nil if not found.
func (s *PostgresStore) GetAlert(id string) (*models.EmergencyAlert, error) {
	row := s.db.QueryRow(`SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetAlert failed", "error", err, "id", id)
		return nil, err
	}
	alert.Notifications, err = s.ListNotifications(id)
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// ListAlerts returns every stored alert, newest first, without notifications.
func (s *PostgresStore) ListAlerts() ([]models.EmergencyAlert, error) {
	return s.queryAlerts(`SELECT ` + alertColumns + ` FROM alerts ORDER BY created_at DESC`)
}

// ListActiveAlerts returns alerts in a non-terminal state, newest first.
func (s *PostgresStore) ListActiveAlerts() ([]models.EmergencyAlert, error) {
	return s.queryAlerts(`SELECT ` + alertColumns + ` FROM alerts WHERE status NOT IN ('resolved', 'cancelled') ORDER BY created_at DESC`)
}

func (s *PostgresStore) queryAlerts(query string, args ...interface{}) ([]models.EmergencyAlert, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore queryAlerts failed", "error", err)
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

// SaveNotification stores or updates a notification attempt chain.
func (s *PostgresStore) SaveNotification(n models.EmergencyNotification) error {
	_, err := s.db.Exec(`INSERT INTO notifications (`+notificationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, attempt = EXCLUDED.attempt, last_error = EXCLUDED.last_error,
			sent_at = EXCLUDED.sent_at, updated_at = EXCLUDED.updated_at`,
		n.ID, n.AlertID, n.ContactID, n.Channel, n.Level, n.Status, n.Attempt,
		nilIfEmpty(n.LastError), n.SentAt, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveNotification failed", "error", err, "id", n.ID)
		return fmt.Errorf("failed to save notification %s: %w", n.ID, err)
	}
	slog.Debug("PostgresStore SaveNotification succeeded", "id", n.ID, "status", n.Status, "attempt", n.Attempt)
	return nil
}

// ListNotifications returns notifications for an alert in creation order.
func (s *PostgresStore) ListNotifications(alertID string) ([]models.EmergencyNotification, error) {
	rows, err := s.db.Query(`SELECT `+notificationColumns+` FROM notifications WHERE alert_id = $1 ORDER BY created_at ASC`, alertID)
	if err != nil {
		slog.Error("PostgresStore ListNotifications query failed", "error", err, "alertID", alertID)
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

// SaveContact stores or updates an emergency contact.
func (s *PostgresStore) SaveContact(c models.EmergencyContact) error {
	channelsJSON, err := marshalJSON(c.Channels)
	if err != nil {
		return err
	}
	scheduleJSON, err := marshalJSON(c.Schedule)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO contacts (`+contactColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, relationship = EXCLUDED.relationship, phone_number = EXCLUDED.phone_number,
			webhook_url = EXCLUDED.webhook_url, channels = EXCLUDED.channels, availability = EXCLUDED.availability,
			schedule = EXCLUDED.schedule, priority = EXCLUDED.priority, updated_at = EXCLUDED.updated_at`,
		c.ID, c.UserID, c.Name, nilIfEmpty(c.Relationship), nilIfEmpty(c.PhoneNumber), nilIfEmpty(c.WebhookURL),
		channelsJSON, c.Availability, scheduleJSON, c.Priority, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveContact failed", "error", err, "id", c.ID)
		return fmt.Errorf("failed to save contact %s: %w", c.ID, err)
	}
	slog.Debug("PostgresStore SaveContact succeeded", "id", c.ID, "userID", c.UserID)
	return nil
}

// GetContact retrieves a contact by ID. Returns nil if not found.
func (s *PostgresStore) GetContact(id string) (*models.EmergencyContact, error) {
	row := s.db.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetContact failed", "error", err, "id", id)
		return nil, err
	}
	return &c, nil
}

// ListContacts returns a user's contacts ordered by escalation priority.
func (s *PostgresStore) ListContacts(userID string) ([]models.EmergencyContact, error) {
	rows, err := s.db.Query(`SELECT `+contactColumns+` FROM contacts WHERE user_id = $1 ORDER BY priority ASC, id ASC`, userID)
	if err != nil {
		slog.Error("PostgresStore ListContacts query failed", "error", err, "userID", userID)
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
func (s *PostgresStore) DeleteContact(id string) error {
	_, err := s.db.Exec(`DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteContact failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete contact %s: %w", id, err)
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
