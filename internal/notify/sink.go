// Package notify implements the order state-transition poller: it
// periodically fetches today's modified orders, diffs them against the
// previous tick's snapshot, and dispatches one notification per qualifying
// transition.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/syncforge/syncforge/internal/record"
)

// Sink receives one notification per qualifying change. Delivery is
// best-effort: failures are logged by the notifier, never retried here.
//
//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks -source=sink.go Sink
type Sink interface {
	Notify(ctx context.Context, change record.Change) error
}

// notification is the webhook payload for one state transition.
type notification struct {
	ID            string    `json:"id"`
	OrderCode     string    `json:"order_code"`
	Status        int       `json:"status"`
	Total         float64   `json:"total"`
	ChangedFields []string  `json:"changed_fields"`
	ObservedAt    time.Time `json:"observed_at"`
}

// WebhookSink posts notifications to a fixed HTTP endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a sink posting to url. If timeout is 0 a 10 second
// default applies.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Notify posts one change to the webhook endpoint.
func (w *WebhookSink) Notify(ctx context.Context, change record.Change) error {
	payload, err := json.Marshal(notification{
		ID:            uuid.NewString(),
		OrderCode:     change.Record.Key(),
		Status:        change.Record.Status(),
		Total:         change.Record.Total(),
		ChangedFields: change.Fields,
		ObservedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %s", resp.Status)
	}
	return nil
}
