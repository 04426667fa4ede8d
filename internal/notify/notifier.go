// Package notify delivers alert notifications produced by fraud detection.
// Publishing is best effort from the request path's perspective: a delivery
// failure is logged and never fails the evaluation that produced the alert.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/lendguard/fraud-engine/internal/models"
	"github.com/lendguard/fraud-engine/internal/queue"
)

// Notifier publishes an alert event for asynchronous delivery
type Notifier interface {
	Notify(ctx context.Context, event *models.AlertEvent) error
}

// StreamNotifier hands alert events to the Redis Stream consumed by the
// alert worker.
type StreamNotifier struct {
	stream *queue.RedisStreamClient
}

// NewStreamNotifier creates a stream-backed notifier
func NewStreamNotifier(stream *queue.RedisStreamClient) *StreamNotifier {
	return &StreamNotifier{stream: stream}
}

func (n *StreamNotifier) Notify(ctx context.Context, event *models.AlertEvent) error {
	_, err := n.stream.Publish(ctx, event)
	if err != nil {
		log.Error().Err(err).
			Str("alert_id", event.AlertID).
			Msg("Failed to publish alert event")
		return err
	}
	return nil
}

// NopNotifier discards alert events. Used when no sink is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, event *models.AlertEvent) error {
	return nil
}
