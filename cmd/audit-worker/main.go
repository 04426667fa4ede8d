package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lendguard/fraud-engine/configs"
	"github.com/lendguard/fraud-engine/internal/queue"
)

// This worker does not evaluate applications (the API server does that
// synchronously). It consumes Debezium CDC events off the loan_applications
// and fraud_alerts tables for the audit trail and live fraud metrics.

// DebeziumMessage represents a CDC event from Debezium
type DebeziumMessage struct {
	Before json.RawMessage `json:"before"`
	After  json.RawMessage `json:"after"`
	Source DebeziumSource  `json:"source"`
	Op     string          `json:"op"` // c=create, u=update, d=delete, r=read (snapshot)
	TsMs   int64           `json:"ts_ms"`
}

// DebeziumSource contains metadata about the change
type DebeziumSource struct {
	Connector string `json:"connector"`
	DB        string `json:"db"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	TxID      int64  `json:"txId"`
	LSN       int64  `json:"lsn"`
}

// ApplicationCDC is a loan application row as it appears in CDC payloads
type ApplicationCDC struct {
	ID        string      `json:"id"`
	VisitorID *string     `json:"visitor_id"`
	Status    string      `json:"status"`
	RiskScore interface{} `json:"risk_score"`
	IPAddress *string     `json:"ip_address"`
}

// AlertCDC is a fraud alert row as it appears in CDC payloads
type AlertCDC struct {
	ID            string `json:"id"`
	ApplicationID string `json:"loan_application_id"`
	Decision      string `json:"decision"`
	Resolved      bool   `json:"resolved"`
}

// FraudEvent is the normalized event cached for dashboards
type FraudEvent struct {
	EventType    string    `json:"event_type"`
	Table        string    `json:"table"`
	EntityID     string    `json:"entity_id"`
	Status       string    `json:"status,omitempty"`
	PrevStatus   string    `json:"prev_status,omitempty"`
	Decision     string    `json:"decision,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	CDCTimestamp int64     `json:"cdc_timestamp_ms"`
}

// FraudMetrics tracks live counters across the consumed CDC stream
type FraudMetrics struct {
	mu                  sync.RWMutex
	ApplicationsSeen    int64
	ApplicationsFlagged int64
	FraudDetected       int64
	AlertsCreated       int64
	AlertsResolved      int64
	StatusTransitions   map[string]int64
	LastEventTime       time.Time
}

func NewFraudMetrics() *FraudMetrics {
	return &FraudMetrics{
		StatusTransitions: make(map[string]int64),
	}
}

func (m *FraudMetrics) Record(event *FraudEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastEventTime = time.Now()

	switch event.EventType {
	case "application_created":
		m.ApplicationsSeen++
	case "application_updated":
		if event.PrevStatus != event.Status {
			m.StatusTransitions[event.PrevStatus+"->"+event.Status]++
		}
		switch event.Status {
		case "flagged":
			m.ApplicationsFlagged++
		case "fraud_detected":
			m.FraudDetected++
		}
	case "alert_created":
		m.AlertsCreated++
	case "alert_resolved":
		m.AlertsResolved++
	}
}

func (m *FraudMetrics) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"applications_seen":    m.ApplicationsSeen,
		"applications_flagged": m.ApplicationsFlagged,
		"fraud_detected":       m.FraudDetected,
		"alerts_created":       m.AlertsCreated,
		"alerts_resolved":      m.AlertsResolved,
		"status_transitions":   m.StatusTransitions,
		"last_event_time":      m.LastEventTime,
	}
}

func main() {
	_ = godotenv.Load()

	cfg := configs.Load()

	setupLogging(cfg.Server.Environment)

	brokers := strings.Split(cfg.Kafka.Brokers, ",")
	topics := strings.Split(cfg.Kafka.Topics, ",")

	log.Info().
		Strs("brokers", brokers).
		Strs("topics", topics).
		Str("group_id", cfg.Kafka.GroupID).
		Msg("Starting fraud audit pipeline")

	cacheClient, err := queue.NewCacheClient(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer cacheClient.Close()

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V3_0_0_0

	// Kafka may come up after us in compose environments
	var consumerGroup sarama.ConsumerGroup
	for i := 0; i < 30; i++ {
		consumerGroup, err = sarama.NewConsumerGroup(brokers, cfg.Kafka.GroupID, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	handler := &AuditPipelineHandler{
		metrics:     NewFraudMetrics(),
		cacheClient: cacheClient,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received, stopping audit pipeline...")
		cancel()
	}()

	go handler.startMetricsReporter(ctx)

	for {
		if err := consumerGroup.Consume(ctx, topics, handler); err != nil {
			log.Error().Err(err).Msg("Error from consumer")
		}

		if ctx.Err() != nil {
			log.Info().Msg("Context cancelled, shutting down audit pipeline")
			return
		}
	}
}

// AuditPipelineHandler processes CDC events into metrics and a recent-event
// cache for the dashboard.
type AuditPipelineHandler struct {
	metrics     *FraudMetrics
	cacheClient *queue.CacheClient
}

func (h *AuditPipelineHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Audit pipeline session started")
	return nil
}

func (h *AuditPipelineHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Audit pipeline session ended")
	return nil
}

func (h *AuditPipelineHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.processMessage(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *AuditPipelineHandler) processMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var msg DebeziumMessage
	if err := json.Unmarshal(message.Value, &msg); err != nil {
		log.Error().Err(err).Msg("Failed to parse Debezium message")
		return
	}

	var event *FraudEvent
	switch msg.Source.Table {
	case "loan_applications":
		event = h.applicationEvent(&msg)
	case "fraud_alerts":
		event = h.alertEvent(&msg)
	default:
		return
	}
	if event == nil {
		return
	}

	h.metrics.Record(event)
	h.cacheEvent(ctx, event)

	log.Debug().
		Str("event_type", event.EventType).
		Str("entity_id", event.EntityID).
		Str("status", event.Status).
		Msg("CDC event captured")
}

func (h *AuditPipelineHandler) applicationEvent(msg *DebeziumMessage) *FraudEvent {
	if msg.After == nil {
		return nil
	}

	var app ApplicationCDC
	if err := json.Unmarshal(msg.After, &app); err != nil {
		log.Error().Err(err).Msg("Failed to parse application CDC payload")
		return nil
	}

	eventType := "application_snapshot"
	switch msg.Op {
	case "c":
		eventType = "application_created"
	case "u":
		eventType = "application_updated"
	}

	event := &FraudEvent{
		EventType:    eventType,
		Table:        msg.Source.Table,
		EntityID:     app.ID,
		Status:       app.Status,
		Timestamp:    time.Now(),
		CDCTimestamp: msg.TsMs,
	}

	if msg.Before != nil {
		var prev ApplicationCDC
		if err := json.Unmarshal(msg.Before, &prev); err == nil {
			event.PrevStatus = prev.Status
		}
	}

	return event
}

func (h *AuditPipelineHandler) alertEvent(msg *DebeziumMessage) *FraudEvent {
	if msg.After == nil {
		return nil
	}

	var alert AlertCDC
	if err := json.Unmarshal(msg.After, &alert); err != nil {
		log.Error().Err(err).Msg("Failed to parse alert CDC payload")
		return nil
	}

	eventType := "alert_created"
	if msg.Op == "u" {
		if alert.Resolved {
			eventType = "alert_resolved"
		} else {
			eventType = "alert_updated"
		}
	}

	return &FraudEvent{
		EventType:    eventType,
		Table:        msg.Source.Table,
		EntityID:     alert.ID,
		Decision:     alert.Decision,
		Timestamp:    time.Now(),
		CDCTimestamp: msg.TsMs,
	}
}

func (h *AuditPipelineHandler) cacheEvent(ctx context.Context, event *FraudEvent) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return
	}

	key := "fraud:recent_events"
	h.cacheClient.LPush(ctx, key, string(eventJSON))
	h.cacheClient.LTrim(ctx, key, 0, 999)
}

func (h *AuditPipelineHandler) startMetricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapshot := h.metrics.Snapshot()
			log.Info().
				Int64("applications", snapshot["applications_seen"].(int64)).
				Int64("flagged", snapshot["applications_flagged"].(int64)).
				Int64("fraud_detected", snapshot["fraud_detected"].(int64)).
				Int64("alerts", snapshot["alerts_created"].(int64)).
				Int64("resolved", snapshot["alerts_resolved"].(int64)).
				Msg("Audit pipeline metrics")

		case <-ctx.Done():
			return
		}
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
