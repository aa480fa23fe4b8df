// Package alert pushes operator notifications to an external chat
// webhook. Delivery is best effort; failures are logged, never
// propagated into the dispatch path.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier sends a plain-text notification.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Webhook posts notifications to a chat webhook endpoint. The payload
// follows the bot message format: a msg_type envelope with a text body,
// optionally targeting a channel by ID.
type Webhook struct {
	url       string
	channelID string
	httpc     *http.Client
	logger    *slog.Logger
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithHTTPClient overrides the HTTP client used for delivery.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.httpc = c }
}

// WithChannelID targets a specific channel.
func WithChannelID(id string) WebhookOption {
	return func(w *Webhook) { w.channelID = id }
}

// NewWebhook creates a Notifier posting to the given webhook URL.
func NewWebhook(url string, logger *slog.Logger, opts ...WebhookOption) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Webhook{
		url:    url,
		httpc:  &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type webhookMessage struct {
	MsgType   string         `json:"msg_type"`
	ChannelID string         `json:"channel_id,omitempty"`
	Content   webhookContent `json:"content"`
}

type webhookContent struct {
	Text string `json:"text"`
}

// Notify posts the text to the webhook. A non-2xx response is an error.
func (w *Webhook) Notify(ctx context.Context, text string) error {
	body, err := json.Marshal(webhookMessage{
		MsgType:   "text",
		ChannelID: w.channelID,
		Content:   webhookContent{Text: text},
	})
	if err != nil {
		return fmt.Errorf("marshal webhook message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
