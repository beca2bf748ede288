// Package tracking forwards fleet-inventory payloads to an external webhook
// sink. The sink is best-effort bookkeeping: when no URL is configured, sends
// are silently skipped.
package tracking

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Sink accepts arbitrary keyed payloads for external fleet bookkeeping.
type Sink interface {
	Send(ctx context.Context, payload map[string]any) error
}

// WebhookSink posts JSON payloads to a configured webhook URL.
type WebhookSink struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookSink creates a sink for the given URL. An empty URL yields a sink
// that drops every payload.
func NewWebhookSink(url string, logger zerolog.Logger) *WebhookSink {
	return &WebhookSink{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				// internal tracking endpoints commonly run self-signed certs
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		logger: logger,
	}
}

// Send posts the payload keyed on hostname. Payloads without a hostname and
// sinks without a configured URL are skipped without error.
func (w *WebhookSink) Send(ctx context.Context, payload map[string]any) error {
	if w.url == "" {
		w.logger.Debug().Msg("Tracking webhook not configured, skipping payload")
		return nil
	}
	if _, ok := payload["hostname"]; !ok {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal tracking payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build tracking request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post tracking payload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("tracking webhook returned status %d", resp.StatusCode)
	}
	return nil
}
