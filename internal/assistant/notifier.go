package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/junostudio/leadchat/internal/guest"
)

// ContactNotifier opens the human-contact workflow when a guest escalates.
type ContactNotifier interface {
	Notify(ctx context.Context, p guest.Profile) error
}

// WebhookNotifier posts the guest profile to a configured webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, p guest.Profile) error {
	payload, err := json.Marshal(map[string]any{
		"event":        "contact_requested",
		"guest_id":     p.ID,
		"name":         p.Name,
		"company":      p.Company,
		"contact_info": p.ContactInfo,
		"pain_points":  p.PainPoints,
		"status":       p.Status,
	})
	if err != nil {
		return fmt.Errorf("marshal contact payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send contact webhook: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("contact webhook status %d: %s", res.StatusCode, string(body))
	}
	return nil
}

// NoopNotifier is used when no webhook is configured; the widget still opens
// its local contact form off the escalation event.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, guest.Profile) error { return nil }

// NewNotifier creates a webhook notifier when a URL is configured.
func NewNotifier(url string) ContactNotifier {
	if strings.TrimSpace(url) == "" {
		return NoopNotifier{}
	}
	return NewWebhookNotifier(url)
}
