// Package contacts provides availability resolution for emergency contacts.
//
// Resolution is a pure function over a contact and a timestamp so it can be
// called from any goroutine and tested with a fixed clock.
package contacts

import (
	"time"

	"github.com/mindmesh/sentinel/internal/models"
)

// Resolve returns whether the contact is reachable at the given time.
// AvailabilityAlways short-circuits to available; emergency-only contacts are
// reported as such so the caller can decide based on alert severity; scheduled
// contacts are available only inside one of their weekly windows.
func Resolve(contact models.EmergencyContact, at time.Time) models.ContactAvailability {
	switch contact.Availability {
	case models.AvailabilityAlways:
		return models.ContactAvailable
	case models.AvailabilityEmergencyOnly:
		return models.ContactEmergencyOnly
	case models.AvailabilityScheduled:
		if inSchedule(contact.Schedule, at) {
			return models.ContactAvailable
		}
		return models.ContactUnavailable
	default:
		return models.ContactUnavailable
	}
}

// Reachable reports whether a contact may be notified for an alert of the
// given severity: available contacts always, emergency-only contacts only for
// critical and emergency alerts.
func Reachable(contact models.EmergencyContact, severity models.AlertSeverity, at time.Time) bool {
	switch Resolve(contact, at) {
	case models.ContactAvailable:
		return true
	case models.ContactEmergencyOnly:
		return severity == models.SeverityCritical || severity == models.SeverityEmergency
	default:
		return false
	}
}

// inSchedule reports whether at falls inside any window. Window End is
// exclusive; a window whose End is before its Start wraps past midnight and
// its remainder belongs to the following day.
func inSchedule(schedule []models.AvailabilityWindow, at time.Time) bool {
	day := at.Weekday()
	minute := at.Hour()*60 + at.Minute()
	for _, w := range schedule {
		if w.End > w.Start {
			if day == w.Day && minute >= w.Start && minute < w.End {
				return true
			}
			continue
		}
		if day == w.Day && minute >= w.Start {
			return true
		}
		if day == (w.Day+1)%7 && minute < w.End {
			return true
		}
	}
	return false
}
