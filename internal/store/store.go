// Package store provides storage backends for the sentinel crisis engine.
//
// It includes an in-memory store for tests and development, and SQLite and
// PostgreSQL backed stores for persistent deployments. Detection history is
// append-only; alerts and notifications are upserted by ID.
package store

import (
	"strings"
	"time"

	"github.com/mindmesh/sentinel/internal/models"
)

// Store is the persistence interface shared by all backends.
type Store interface {
	// Detections. AddDetection is append-only; detections are never updated.
	AddDetection(det models.CrisisDetectionResult) error
	GetDetection(id string) (*models.CrisisDetectionResult, error)
	ListRecentDetections(userID string, since time.Time) ([]models.CrisisDetectionResult, error)

	// Alerts. SaveAlert upserts the full alert row (not its notifications).
	SaveAlert(alert models.EmergencyAlert) error
	GetAlert(id string) (*models.EmergencyAlert, error)
	ListAlerts() ([]models.EmergencyAlert, error)
	ListActiveAlerts() ([]models.EmergencyAlert, error)

	// Notifications. SaveNotification upserts one notification attempt chain.
	SaveNotification(n models.EmergencyNotification) error
	ListNotifications(alertID string) ([]models.EmergencyNotification, error)

	// Emergency contacts.
	SaveContact(c models.EmergencyContact) error
	GetContact(id string) (*models.EmergencyContact, error)
	ListContacts(userID string) ([]models.EmergencyContact, error)
	DeleteContact(id string) error

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
