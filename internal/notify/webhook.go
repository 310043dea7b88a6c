package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mindmesh/sentinel/internal/models"
)

// DefaultWebhookTimeout bounds one webhook POST.
const DefaultWebhookTimeout = 10 * time.Second

// WebhookChannel delivers by POSTing the message as JSON to the contact's
// webhook URL. Crisis-line integrations and on-call paging systems consume
// this payload.
type WebhookChannel struct {
	client *http.Client
}

// NewWebhookChannel creates a webhook channel. A nil client gets a default
// with a bounded timeout.
func NewWebhookChannel(client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: DefaultWebhookTimeout}
	}
	return &WebhookChannel{client: client}
}

func (c *WebhookChannel) Kind() models.NotificationChannel {
	return models.ChannelWebhook
}

func (c *WebhookChannel) Send(ctx context.Context, contact models.EmergencyContact, msg Message) error {
	if contact.WebhookURL == "" {
		return models.NewPermanentChannelError(models.ChannelWebhook, fmt.Errorf("contact %s has no webhook URL", contact.ID))
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return models.NewPermanentChannelError(models.ChannelWebhook, fmt.Errorf("failed to marshal payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, contact.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return models.NewPermanentChannelError(models.ChannelWebhook, fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return models.NewTransientChannelError(models.ChannelWebhook, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		slog.Debug("Webhook notification delivered", "url", contact.WebhookURL, "status", resp.StatusCode)
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return models.NewTransientChannelError(models.ChannelWebhook, fmt.Errorf("webhook returned status %d", resp.StatusCode))
	default:
		return models.NewPermanentChannelError(models.ChannelWebhook, fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
}
