// Package models defines emergency contact structures for the sentinel crisis engine.
package models

import (
	"fmt"
	"time"
)

// AvailabilityMode describes when an emergency contact may be reached.
type AvailabilityMode string

const (
	// AvailabilityAlways short-circuits every availability check to available.
	AvailabilityAlways AvailabilityMode = "always"
	// AvailabilityEmergencyOnly means the contact accepts emergency-severity notifications only.
	AvailabilityEmergencyOnly AvailabilityMode = "emergency_only"
	// AvailabilityScheduled consults the contact's weekly schedule windows.
	AvailabilityScheduled AvailabilityMode = "scheduled"
)

// ContactAvailability is the resolver's verdict for a contact at a point in time.
type ContactAvailability string

const (
	ContactAvailable     ContactAvailability = "available"
	ContactEmergencyOnly ContactAvailability = "emergency_only"
	ContactUnavailable   ContactAvailability = "unavailable"
)

// AvailabilityWindow is one weekly recurring reachability window.
// Start and End are minutes since local midnight; End is exclusive. A window
// whose End is before its Start wraps past midnight into the following day,
// e.g. Day=Friday Start=1320 End=360 covers Friday 22:00 to Saturday 06:00.
type AvailabilityWindow struct {
	Day   time.Weekday `json:"day"`
	Start int          `json:"start_minute"`
	End   int          `json:"end_minute"`
}

// Validate checks the window bounds.
func (w *AvailabilityWindow) Validate() error {
	if w.Day < time.Sunday || w.Day > time.Saturday {
		return fmt.Errorf("invalid weekday: %d", w.Day)
	}
	if w.Start < 0 || w.Start >= 24*60 || w.End < 0 || w.End > 24*60 {
		return fmt.Errorf("window minutes out of range: start=%d end=%d", w.Start, w.End)
	}
	if w.End == w.Start {
		return ErrInvalidScheduleWindow
	}
	return nil
}

// EmergencyContact is a person notified during an escalation, with the
// channels they can be reached on and when.
type EmergencyContact struct {
	ID           string               `json:"id"`
	UserID       string               `json:"user_id"` // owner of the contact list entry
	Name         string               `json:"name"`
	Relationship string               `json:"relationship,omitempty"`
	PhoneNumber  string               `json:"phone_number,omitempty"` // sms + whatsapp
	WebhookURL   string               `json:"webhook_url,omitempty"`
	Channels     []NotificationChannel `json:"channels"`
	Availability AvailabilityMode     `json:"availability"`
	Schedule     []AvailabilityWindow `json:"schedule,omitempty"`
	Priority     int                  `json:"priority"` // lower value is tried first
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// Validate performs validation on an EmergencyContact.
func (c *EmergencyContact) Validate() error {
	if c.UserID == "" {
		return ErrEmptyUserID
	}
	if len(c.Channels) == 0 {
		return ErrInvalidContactChannel
	}
	for _, ch := range c.Channels {
		switch ch {
		case ChannelSMS, ChannelWhatsApp:
			if c.PhoneNumber == "" {
				return fmt.Errorf("%w: channel %s requires a phone number", ErrInvalidContactChannel, ch)
			}
		case ChannelWebhook:
			if c.WebhookURL == "" {
				return fmt.Errorf("%w: channel %s requires a webhook URL", ErrInvalidContactChannel, ch)
			}
		default:
			return fmt.Errorf("%w: unknown channel %q", ErrInvalidContactChannel, ch)
		}
	}
	if c.Availability == AvailabilityScheduled && len(c.Schedule) == 0 {
		return fmt.Errorf("scheduled availability requires at least one window")
	}
	for i := range c.Schedule {
		if err := c.Schedule[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// EscalationLevel is one step of an escalation protocol.
type EscalationLevel struct {
	// Timeout is how long to wait at this level for an acknowledgment before
	// advancing to the next level.
	Timeout time.Duration `json:"timeout"`
	// RetryInterval is the pause before retrying a failed delivery within the
	// level, instead of waiting out the full acknowledgment timeout.
	RetryInterval time.Duration `json:"retry_interval"`
	// Channels lists the transports to try for this level, in order.
	Channels []NotificationChannel `json:"channels"`
}

// EscalationProtocol is the ordered list of levels an unacknowledged alert
// climbs through before the fail-safe fires.
type EscalationProtocol struct {
	Levels []EscalationLevel `json:"levels"`
}

// Validate checks the protocol is usable.
func (p *EscalationProtocol) Validate() error {
	if len(p.Levels) == 0 {
		return ErrNoEscalationLevels
	}
	for i, lvl := range p.Levels {
		if lvl.Timeout <= 0 {
			return fmt.Errorf("level %d: timeout must be positive", i)
		}
		if len(lvl.Channels) == 0 {
			return fmt.Errorf("level %d: at least one channel required", i)
		}
	}
	return nil
}

// DefaultEscalationProtocol returns the three-level default protocol: SMS
// first, then SMS+WhatsApp, then every channel including webhooks.
func DefaultEscalationProtocol() EscalationProtocol {
	return EscalationProtocol{
		Levels: []EscalationLevel{
			{Timeout: 5 * time.Minute, RetryInterval: 2 * time.Minute, Channels: []NotificationChannel{ChannelSMS}},
			{Timeout: 10 * time.Minute, RetryInterval: 3 * time.Minute, Channels: []NotificationChannel{ChannelSMS, ChannelWhatsApp}},
			{Timeout: 15 * time.Minute, RetryInterval: 5 * time.Minute, Channels: []NotificationChannel{ChannelSMS, ChannelWhatsApp, ChannelWebhook}},
		},
	}
}
