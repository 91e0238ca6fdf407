package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/quantumflow/supportflow/internal/knowledge"
	"github.com/quantumflow/supportflow/internal/models"
)

// Event types written to the events topic
const (
	EventWorkflowCompleted = "workflow.completed"
	EventKnowledgeUsage    = "knowledge.usage"
)

// messageWriter is the subset of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the JSON envelope published to Kafka
type Event struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// WorkflowEvent summarizes a completed workflow
type WorkflowEvent struct {
	MessageID        string                  `json:"message_id"`
	ChannelID        string                  `json:"channel_id"`
	Category         models.Category         `json:"category"`
	Urgency          models.Urgency          `json:"urgency"`
	Status           models.ResolutionStatus `json:"status"`
	Escalated        bool                    `json:"escalated"`
	EscalationReason string                  `json:"escalation_reason,omitempty"`
	AgentsUsed       []string                `json:"agents_used"`
	DurationMs       int64                   `json:"duration_ms"`
}

// UsageEventPayload reports one knowledge usage update
type UsageEventPayload struct {
	EntryID   string `json:"entry_id"`
	MessageID string `json:"message_id"`
	Helpful   bool   `json:"helpful"`
	Error     string `json:"error,omitempty"`
}

// EventPublisher sends workflow and usage events to Kafka
type EventPublisher struct {
	writer messageWriter
	logger *slog.Logger
	now    func() time.Time
}

// NewEventPublisher creates a publisher writing to topic
func NewEventPublisher(brokers []string, topic string, logger *slog.Logger) *EventPublisher {
	return newEventPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}, logger)
}

func newEventPublisher(w messageWriter, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{writer: w, logger: logger, now: time.Now}
}

// RecordOutcome publishes a workflow.completed event keyed by message id
func (p *EventPublisher) RecordOutcome(ctx context.Context, state *models.WorkflowState) error {
	msg := state.Message
	agents := make([]string, len(state.AgentResponses))
	for i, r := range state.AgentResponses {
		agents[i] = r.AgentName
	}

	ev := WorkflowEvent{
		MessageID:        msg.ID,
		ChannelID:        msg.ChannelID,
		Category:         msg.Category,
		Urgency:          msg.Urgency,
		Status:           msg.Status,
		Escalated:        state.Escalated,
		EscalationReason: state.EscalationReason,
		AgentsUsed:       agents,
	}
	if state.ProcessingCompleted != nil {
		ev.DurationMs = state.ProcessingCompleted.Sub(state.ProcessingStarted).Milliseconds()
	}
	return p.send(ctx, msg.ID, EventWorkflowCompleted, ev)
}

// PublishUsage publishes a knowledge.usage event keyed by entry id. Its
// signature matches knowledge.UsageConfig.Observer; failures are logged.
func (p *EventPublisher) PublishUsage(ctx context.Context, ev knowledge.UsageEvent) {
	payload := UsageEventPayload{
		EntryID:   ev.EntryID,
		MessageID: ev.MessageID,
		Helpful:   ev.Helpful,
	}
	if ev.Err != nil {
		payload.Error = ev.Err.Error()
	}
	if err := p.send(ctx, ev.EntryID, EventKnowledgeUsage, payload); err != nil {
		p.logger.Warn("failed to publish usage event", "entry_id", ev.EntryID, "error", err)
	}
}

func (p *EventPublisher) send(ctx context.Context, key, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	data, err := json.Marshal(Event{Type: eventType, OccurredAt: p.now().UTC(), Payload: body})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}

	p.logger.Debug("published event", "type", eventType, "key", key)
	return nil
}

// Close flushes and closes the writer
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
