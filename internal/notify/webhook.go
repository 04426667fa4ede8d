package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/lendguard/fraud-engine/configs"
	"github.com/lendguard/fraud-engine/internal/models"
)

// WebhookSender delivers alert events to a configured HTTP endpoint. Used by
// the alert worker; a non-2xx response counts as a delivery failure so the
// worker's retry policy applies.
type WebhookSender struct {
	url    string
	client *http.Client
}

// NewWebhookSender creates a webhook sender. Returns nil when no URL is
// configured; callers treat a nil sender as delivery disabled.
func NewWebhookSender(cfg configs.NotifyConfig) *WebhookSender {
	if cfg.WebhookURL == "" {
		return nil
	}
	return &WebhookSender{
		url: cfg.WebhookURL,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type webhookPayload struct {
	Event string             `json:"event"`
	Alert *models.AlertEvent `json:"alert"`
}

// Send delivers a single alert event
func (s *WebhookSender) Send(ctx context.Context, event *models.AlertEvent) error {
	body, err := json.Marshal(webhookPayload{
		Event: "fraud_alert",
		Alert: event,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Fraud-Event", "fraud_alert")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	log.Info().
		Str("alert_id", event.AlertID).
		Int("status", resp.StatusCode).
		Float64("risk_score", event.RiskScore).
		Msg("Alert webhook delivered")

	return nil
}
