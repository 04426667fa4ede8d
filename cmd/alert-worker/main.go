package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lendguard/fraud-engine/configs"
	"github.com/lendguard/fraud-engine/internal/models"
	"github.com/lendguard/fraud-engine/internal/notify"
	"github.com/lendguard/fraud-engine/internal/queue"
)

const (
	consumeBatchSize = 10
	consumeBlock     = 5 * time.Second
)

func main() {
	_ = godotenv.Load()

	cfg := configs.Load()

	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("stream", cfg.Redis.StreamName).
		Msg("Starting fraud alert worker")

	streamClient, err := queue.NewRedisStreamClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Stream")
	}
	defer streamClient.Close()

	sender := notify.NewWebhookSender(cfg.Notify)
	if sender == nil {
		log.Warn().Msg("No webhook URL configured; alert events will be acknowledged without delivery")
	}

	consumerName, _ := os.Hostname()
	if consumerName == "" {
		consumerName = "alert-worker-" + uuid.NewString()[:8]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	run(ctx, streamClient, sender, consumerName)

	log.Info().Msg("Alert worker shutdown complete")
}

func run(ctx context.Context, streamClient *queue.RedisStreamClient, sender *notify.WebhookSender, consumerName string) {
	for {
		if ctx.Err() != nil {
			return
		}

		messages, err := streamClient.Consume(ctx, consumerName, consumeBatchSize, consumeBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("Failed to consume from stream")
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			deliver(ctx, streamClient, sender, msg)
		}
	}
}

// deliver attempts one webhook delivery. Failures re-enqueue the event with
// an incremented retry count until the ceiling, then dead-letter it. The
// original message is acknowledged either way so the stream never wedges on
// a poison event.
func deliver(ctx context.Context, streamClient *queue.RedisStreamClient, sender *notify.WebhookSender, msg queue.StreamMessage) {
	defer func() {
		if err := streamClient.Acknowledge(ctx, msg.ID); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to acknowledge message")
		}
	}()

	if sender == nil {
		return
	}

	event := msg.Event
	if err := sender.Send(ctx, event); err != nil {
		event.RetryCount++
		if event.RetryCount >= streamClient.MaxRetries() {
			if dlqErr := streamClient.SendToDeadLetter(ctx, event, err); dlqErr != nil {
				log.Error().Err(dlqErr).Str("alert_id", event.AlertID).Msg("Dead letter write failed")
			}
			return
		}

		requeue(ctx, streamClient, event, err)
	}
}

func requeue(ctx context.Context, streamClient *queue.RedisStreamClient, event *models.AlertEvent, cause error) {
	log.Warn().Err(cause).
		Str("alert_id", event.AlertID).
		Int("retry_count", event.RetryCount).
		Msg("Webhook delivery failed, requeueing")

	if _, err := streamClient.Publish(ctx, event); err != nil {
		log.Error().Err(err).Str("alert_id", event.AlertID).Msg("Failed to requeue alert event")
	}
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
