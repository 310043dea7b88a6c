// Package notify delivers emergency notifications over the configured
// transports and tracks each delivery attempt chain.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mindmesh/sentinel/internal/models"
	"github.com/mindmesh/sentinel/internal/twiliosms"
	"github.com/mindmesh/sentinel/internal/whatsapp"
)

// Message is the transport-independent notification payload.
type Message struct {
	AlertID  string               `json:"alert_id"`
	UserID   string               `json:"user_id"`
	Severity models.AlertSeverity `json:"severity"`
	Level    int                  `json:"escalation_level"`
	Body     string               `json:"body"`
}

// Channel sends one message to one contact over a single transport. Send
// returns a models.ChannelError so the dispatcher can tell transient
// failures from permanent ones.
type Channel interface {
	Kind() models.NotificationChannel
	Send(ctx context.Context, contact models.EmergencyContact, msg Message) error
}

// Registry holds the available channels by kind.
type Registry struct {
	mu       sync.RWMutex
	channels map[models.NotificationChannel]Channel
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[models.NotificationChannel]Channel)}
}

// Register adds or replaces the channel for its kind.
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Kind()] = ch
	slog.Debug("Registry channel registered", "kind", ch.Kind())
}

// Get returns the channel for a kind, or nil when none is registered.
func (r *Registry) Get(kind models.NotificationChannel) Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[kind]
}

// Kinds lists the registered channel kinds.
func (r *Registry) Kinds() []models.NotificationChannel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]models.NotificationChannel, 0, len(r.channels))
	for kind := range r.channels {
		kinds = append(kinds, kind)
	}
	return kinds
}

// SMSChannel delivers over Twilio SMS.
type SMSChannel struct {
	sender twiliosms.Sender
}

// NewSMSChannel creates an SMS channel over the given sender.
func NewSMSChannel(sender twiliosms.Sender) *SMSChannel {
	return &SMSChannel{sender: sender}
}

func (c *SMSChannel) Kind() models.NotificationChannel {
	return models.ChannelSMS
}

func (c *SMSChannel) Send(ctx context.Context, contact models.EmergencyContact, msg Message) error {
	if contact.PhoneNumber == "" {
		return models.NewPermanentChannelError(models.ChannelSMS, fmt.Errorf("contact %s has no phone number", contact.ID))
	}
	if err := c.sender.SendSMS(ctx, contact.PhoneNumber, msg.Body); err != nil {
		// Twilio API failures are assumed recoverable; the dispatcher retries.
		return models.NewTransientChannelError(models.ChannelSMS, err)
	}
	return nil
}

// WhatsAppChannel delivers over the whatsmeow client.
type WhatsAppChannel struct {
	sender whatsapp.Sender
}

// NewWhatsAppChannel creates a WhatsApp channel over the given sender.
func NewWhatsAppChannel(sender whatsapp.Sender) *WhatsAppChannel {
	return &WhatsAppChannel{sender: sender}
}

func (c *WhatsAppChannel) Kind() models.NotificationChannel {
	return models.ChannelWhatsApp
}

func (c *WhatsAppChannel) Send(ctx context.Context, contact models.EmergencyContact, msg Message) error {
	if contact.PhoneNumber == "" {
		return models.NewPermanentChannelError(models.ChannelWhatsApp, fmt.Errorf("contact %s has no phone number", contact.ID))
	}
	if err := c.sender.SendMessage(ctx, contact.PhoneNumber, msg.Body); err != nil {
		return models.NewTransientChannelError(models.ChannelWhatsApp, err)
	}
	return nil
}
