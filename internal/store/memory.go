// Package store provides storage backends for the sentinel crisis engine.
//
// This file implements the in-memory store used in tests and single-node
// development setups.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/mindmesh/sentinel/internal/models"
)

// InMemoryStore is a mutex-guarded in-memory implementation of Store.
type InMemoryStore struct {
	mu            sync.RWMutex
	detections    []models.CrisisDetectionResult
	alerts        map[string]models.EmergencyAlert
	notifications map[string]models.EmergencyNotification
	contacts      map[string]models.EmergencyContact
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		alerts:        make(map[string]models.EmergencyAlert),
		notifications: make(map[string]models.EmergencyNotification),
		contacts:      make(map[string]models.EmergencyContact),
	}
}

// AddDetection appends a detection result to the history.
func (s *InMemoryStore) AddDetection(det models.CrisisDetectionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections = append(s.detections, det)
	return nil
}

// GetDetection returns a detection by ID, or nil if absent.
func (s *InMemoryStore) GetDetection(id string) (*models.CrisisDetectionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.detections {
		if s.detections[i].ID == id {
			det := s.detections[i]
			return &det, nil
		}
	}
	return nil, nil
}

// ListRecentDetections returns all detections for a user at or after since,
// newest first.
func (s *InMemoryStore) ListRecentDetections(userID string, since time.Time) ([]models.CrisisDetectionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CrisisDetectionResult
	for _, det := range s.detections {
		if det.UserID == userID && !det.DetectedAt.Before(since) {
			out = append(out, det)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, nil
}

// SaveAlert upserts an alert row.
func (s *InMemoryStore) SaveAlert(alert models.EmergencyAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert.Notifications = nil // notifications live in their own table
	s.alerts[alert.ID] = alert
	return nil
}

// GetAlert returns an alert with its notifications attached, or nil if absent.
func (s *InMemoryStore) GetAlert(id string) (*models.EmergencyAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, nil
	}
	alert.Notifications = s.notificationsForLocked(id)
	return &alert, nil
}

// ListAlerts returns every stored alert, newest first.
func (s *InMemoryStore) ListAlerts() ([]models.EmergencyAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.EmergencyAlert, 0, len(s.alerts))
	for _, alert := range s.alerts {
		alert.Notifications = s.notificationsForLocked(alert.ID)
		out = append(out, alert)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListActiveAlerts returns alerts in a non-terminal state.
func (s *InMemoryStore) ListActiveAlerts() ([]models.EmergencyAlert, error) {
	alerts, err := s.ListAlerts()
	if err != nil {
		return nil, err
	}
	var out []models.EmergencyAlert
	for _, alert := range alerts {
		if !alert.Status.IsTerminal() {
			out = append(out, alert)
		}
	}
	return out, nil
}

// SaveNotification upserts a notification attempt chain.
func (s *InMemoryStore) SaveNotification(n models.EmergencyNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.ID] = n
	return nil
}

// ListNotifications returns notifications for an alert in creation order.
func (s *InMemoryStore) ListNotifications(alertID string) ([]models.EmergencyNotification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notificationsForLocked(alertID), nil
}

func (s *InMemoryStore) notificationsForLocked(alertID string) []models.EmergencyNotification {
	var out []models.EmergencyNotification
	for _, n := range s.notifications {
		if n.AlertID == alertID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SaveContact upserts an emergency contact.
func (s *InMemoryStore) SaveContact(c models.EmergencyContact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = c
	return nil
}

// GetContact returns a contact by ID, or nil if absent.
func (s *InMemoryStore) GetContact(id string) (*models.EmergencyContact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// ListContacts returns a user's contacts ordered by escalation priority.
func (s *InMemoryStore) ListContacts(userID string) ([]models.EmergencyContact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.EmergencyContact
	for _, c := range s.contacts {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteContact removes a contact by ID.
func (s *InMemoryStore) DeleteContact(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contacts, id)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
