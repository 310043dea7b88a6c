package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mindmesh/sentinel/internal/alert"
	"github.com/mindmesh/sentinel/internal/models"
	"github.com/mindmesh/sentinel/internal/store"
	"github.com/mindmesh/sentinel/internal/util"
)

// DefaultMaxAttempts is the delivery attempt cap per notification.
const DefaultMaxAttempts = 3

// defaultBackoff doubles the pause between attempts: 2s, 4s, 8s, ...
func defaultBackoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// Opts holds configuration options for the Dispatcher.
type Opts struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Now         func() time.Time
}

// Option defines a configuration option for the Dispatcher.
type Option func(*Opts)

// WithMaxAttempts sets the delivery attempt cap.
func WithMaxAttempts(n int) Option {
	return func(o *Opts) { o.MaxAttempts = n }
}

// WithBackoff sets the inter-attempt backoff schedule.
func WithBackoff(backoff func(attempt int) time.Duration) Option {
	return func(o *Opts) { o.Backoff = backoff }
}

// WithClock injects a clock for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Dispatcher sends notifications through registered channels with bounded
// retries. Every attempt updates the persisted notification record, so the
// delivery history survives restarts.
type Dispatcher struct {
	store       store.Store
	registry    *Registry
	bus         *alert.EventBus
	maxAttempts int
	backoff     func(attempt int) time.Duration
	now         func() time.Time
}

// NewDispatcher creates a Dispatcher over the given store and channel registry.
func NewDispatcher(st store.Store, registry *Registry, bus *alert.EventBus, opts ...Option) *Dispatcher {
	cfg := Opts{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     defaultBackoff,
		Now:         time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Dispatcher{
		store:       st,
		registry:    registry,
		bus:         bus,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		now:         cfg.Now,
	}
}

// Dispatch sends one notification to one contact over one channel, retrying
// transient failures up to the attempt cap. A delivery failure is reported in
// the returned notification's status, not as an error; errors mean the
// dispatch could not run at all.
func (d *Dispatcher) Dispatch(ctx context.Context, a models.EmergencyAlert, contact models.EmergencyContact, channelKind models.NotificationChannel, level int) (*models.EmergencyNotification, error) {
	channel := d.registry.Get(channelKind)
	if channel == nil {
		return nil, fmt.Errorf("no channel registered for %s", channelKind)
	}

	now := d.now()
	notification := models.EmergencyNotification{
		ID:        util.GenerateNotificationID(),
		AlertID:   a.ID,
		ContactID: contact.ID,
		Channel:   channelKind,
		Level:     level,
		Status:    models.NotificationStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.SaveNotification(notification); err != nil {
		return nil, fmt.Errorf("failed to save notification: %w", err)
	}

	msg := Message{
		AlertID:  a.ID,
		UserID:   a.UserID,
		Severity: a.Severity,
		Level:    level,
		Body:     composeBody(a, contact, level),
	}

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &notification, err
		}

		err := channel.Send(ctx, contact, msg)
		notification.Attempt = attempt
		notification.UpdatedAt = d.now()

		if err == nil {
			sentAt := d.now()
			notification.Status = models.NotificationStatusSent
			notification.SentAt = &sentAt
			notification.LastError = ""
			if saveErr := d.store.SaveNotification(notification); saveErr != nil {
				slog.Error("Dispatcher failed to persist sent notification", "error", saveErr, "notificationID", notification.ID)
			}
			slog.Info("Dispatcher notification sent", "notificationID", notification.ID, "alertID", a.ID, "contactID", contact.ID, "channel", channelKind, "attempt", attempt)
			d.publishSent(ctx, a, notification)
			return &notification, nil
		}

		notification.LastError = err.Error()
		transient := models.IsTransientChannelError(err)
		if !transient || attempt == d.maxAttempts {
			notification.Status = models.NotificationStatusFailed
			if saveErr := d.store.SaveNotification(notification); saveErr != nil {
				slog.Error("Dispatcher failed to persist failed notification", "error", saveErr, "notificationID", notification.ID)
			}
			slog.Error("Dispatcher delivery failed", "notificationID", notification.ID, "alertID", a.ID, "channel", channelKind, "attempt", attempt, "transient", transient, "error", err)
			return &notification, nil
		}

		if saveErr := d.store.SaveNotification(notification); saveErr != nil {
			slog.Error("Dispatcher failed to persist attempt", "error", saveErr, "notificationID", notification.ID)
		}
		slog.Warn("Dispatcher transient delivery failure, retrying", "notificationID", notification.ID, "channel", channelKind, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return &notification, ctx.Err()
		case <-time.After(d.backoff(attempt)):
		}
	}
	return &notification, nil
}

// ConfirmDelivery marks a sent notification as delivered, typically from a
// channel delivery receipt.
func (d *Dispatcher) ConfirmDelivery(alertID, notificationID string) error {
	notifications, err := d.store.ListNotifications(alertID)
	if err != nil {
		return fmt.Errorf("failed to list notifications: %w", err)
	}
	for _, n := range notifications {
		if n.ID != notificationID {
			continue
		}
		n.Status = models.NotificationStatusDelivered
		n.UpdatedAt = d.now()
		if err := d.store.SaveNotification(n); err != nil {
			return fmt.Errorf("failed to save notification: %w", err)
		}
		slog.Debug("Dispatcher delivery confirmed", "notificationID", notificationID, "alertID", alertID)
		return nil
	}
	return fmt.Errorf("notification %s not found on alert %s", notificationID, alertID)
}

func (d *Dispatcher) publishSent(ctx context.Context, a models.EmergencyAlert, notification models.EmergencyNotification) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(ctx, models.Event{
		Type:         models.EventNotificationSent,
		AlertID:      a.ID,
		UserID:       a.UserID,
		Notification: &notification,
		OccurredAt:   d.now(),
	})
}

// composeBody renders the human-readable notification text.
func composeBody(a models.EmergencyAlert, contact models.EmergencyContact, level int) string {
	name := contact.Name
	if name == "" {
		name = "emergency contact"
	}
	return fmt.Sprintf(
		"%s: you are listed as an emergency contact. A %s severity safety alert (level %d) is active for someone in your care circle. Alert ID %s. Please respond or acknowledge as soon as possible.",
		name, a.Severity, level+1, a.ID,
	)
}
