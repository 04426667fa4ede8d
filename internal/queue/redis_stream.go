package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/lendguard/fraud-engine/configs"
	"github.com/lendguard/fraud-engine/internal/models"
)

// RedisStreamClient carries alert events from the detection path to the
// alert worker over a Redis Stream consumer group.
type RedisStreamClient struct {
	client           *redis.Client
	streamName       string
	consumerGroup    string
	deadLetterStream string
	maxRetries       int
}

// NewRedisStreamClient creates a new Redis stream client
func NewRedisStreamClient(cfg configs.RedisConfig) (*RedisStreamClient, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	rsc := &RedisStreamClient{
		client:           client,
		streamName:       cfg.StreamName,
		consumerGroup:    cfg.ConsumerGroup,
		deadLetterStream: cfg.DeadLetterStream,
		maxRetries:       cfg.MaxRetries,
	}

	if err := rsc.createConsumerGroup(ctx); err != nil {
		log.Warn().Err(err).Msg("Consumer group may already exist")
	}

	log.Info().Str("stream", cfg.StreamName).Msg("Redis Stream client initialized")
	return rsc, nil
}

func (r *RedisStreamClient) createConsumerGroup(ctx context.Context) error {
	// MKSTREAM creates the stream if it doesn't exist
	err := r.client.XGroupCreateMkStream(ctx, r.streamName, r.consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// Publish publishes an alert event to the stream
func (r *RedisStreamClient) Publish(ctx context.Context, event *models.AlertEvent) (string, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	msgID, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.streamName,
		Values: map[string]interface{}{
			"data": string(eventJSON),
		},
	}).Result()

	if err != nil {
		return "", fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().
		Str("message_id", msgID).
		Str("alert_id", event.AlertID).
		Msg("Alert event published to stream")

	return msgID, nil
}

// Consume consumes alert events from the stream. Abandoned pending messages
// are claimed before new ones are read.
func (r *RedisStreamClient) Consume(ctx context.Context, consumerName string, count int64, blockDuration time.Duration) ([]StreamMessage, error) {
	pendingMessages, err := r.claimPendingMessages(ctx, consumerName, count)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to claim pending messages")
	}

	if len(pendingMessages) > 0 {
		return pendingMessages, nil
	}

	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.consumerGroup,
		Consumer: consumerName,
		Streams:  []string{r.streamName, ">"},
		Count:    count,
		Block:    blockDuration,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []StreamMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			event, err := r.parseMessage(msg)
			if err != nil {
				log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to parse message")
				continue
			}

			messages = append(messages, StreamMessage{
				ID:    msg.ID,
				Event: event,
			})
		}
	}

	return messages, nil
}

// claimPendingMessages claims messages that have been pending for too long
func (r *RedisStreamClient) claimPendingMessages(ctx context.Context, consumerName string, count int64) ([]StreamMessage, error) {
	minIdleTime := 30 * time.Second

	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.streamName,
		Group:  r.consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()

	if err != nil {
		return nil, err
	}

	if len(pending) == 0 {
		return nil, nil
	}

	var messageIDs []string
	for _, p := range pending {
		if p.Idle >= minIdleTime {
			messageIDs = append(messageIDs, p.ID)
		}
	}

	if len(messageIDs) == 0 {
		return nil, nil
	}

	claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.streamName,
		Group:    r.consumerGroup,
		Consumer: consumerName,
		MinIdle:  minIdleTime,
		Messages: messageIDs,
	}).Result()

	if err != nil {
		return nil, err
	}

	var messages []StreamMessage
	for _, msg := range claimed {
		event, err := r.parseMessage(msg)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to parse claimed message")
			continue
		}

		messages = append(messages, StreamMessage{
			ID:    msg.ID,
			Event: event,
		})
	}

	return messages, nil
}

func (r *RedisStreamClient) parseMessage(msg redis.XMessage) (*models.AlertEvent, error) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid message format")
	}

	var event models.AlertEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}

// Acknowledge acknowledges a message as processed
func (r *RedisStreamClient) Acknowledge(ctx context.Context, messageID string) error {
	_, err := r.client.XAck(ctx, r.streamName, r.consumerGroup, messageID).Result()
	if err != nil {
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}
	return nil
}

// MaxRetries is the delivery attempt ceiling before dead-lettering
func (r *RedisStreamClient) MaxRetries() int {
	return r.maxRetries
}

// SendToDeadLetter parks an undeliverable alert event with the final error
func (r *RedisStreamClient) SendToDeadLetter(ctx context.Context, event *models.AlertEvent, cause error) error {
	eventJSON, _ := json.Marshal(event)

	_, dlqErr := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.deadLetterStream,
		Values: map[string]interface{}{
			"data":  string(eventJSON),
			"error": cause.Error(),
		},
	}).Result()

	if dlqErr != nil {
		return fmt.Errorf("failed to send to dead letter: %w", dlqErr)
	}

	log.Warn().
		Str("alert_id", event.AlertID).
		Err(cause).
		Msg("Alert event sent to dead letter stream")

	return nil
}

// GetPendingCount returns the number of pending messages
func (r *RedisStreamClient) GetPendingCount(ctx context.Context) (int64, error) {
	pending, err := r.client.XPending(ctx, r.streamName, r.consumerGroup).Result()
	if err != nil {
		return 0, err
	}
	return pending.Count, nil
}

// Close closes the Redis client
func (r *RedisStreamClient) Close() error {
	return r.client.Close()
}

// StreamMessage represents a message from the stream
type StreamMessage struct {
	ID    string
	Event *models.AlertEvent
}
