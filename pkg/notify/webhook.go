package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Webhook sends notifications to a generic HTTP endpoint, which is expected
// to route them to the named destination or identity itself.
type Webhook struct {
	client *http.Client
	url    string
	secret string
}

// NewWebhook creates a new generic webhook notifier.
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		secret: secret,
	}
}

// WebhookPayload is the JSON body the endpoint receives.
type WebhookPayload struct {
	Destination  string        `json:"destination,omitempty"`
	Identity     string        `json:"identity,omitempty"`
	Notification *Notification `json:"notification"`
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) DeliverToDestination(ctx context.Context, destination string, n *Notification) error {
	return w.send(ctx, WebhookPayload{Destination: destination, Notification: n})
}

func (w *Webhook) DeliverToIdentity(ctx context.Context, identity string, n *Notification) error {
	return w.send(ctx, WebhookPayload{Identity: identity, Notification: n})
}

func (w *Webhook) send(ctx context.Context, p WebhookPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "pulsebot/1.0")

	// HMAC signature for verification.
	if w.secret != "" {
		req.Header.Set("X-Signature-256", "sha256="+Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrNotFound
	case resp.StatusCode == http.StatusForbidden:
		return ErrUnreachable
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
