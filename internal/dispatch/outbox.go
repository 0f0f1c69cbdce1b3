package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"

	"github.com/example/food-rescue/internal/logging"
	"github.com/example/food-rescue/internal/models"
	"github.com/example/food-rescue/internal/observability"
)

// OutboundMessage is one SMS on the outbox topic.
type OutboundMessage struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipient_id"`
	To          string `json:"to"`
	Body        string `json:"body"`
}

// Sender delivers a single outbound message.
type Sender interface {
	SendOne(ctx context.Context, msg OutboundMessage) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Outbox queues one message per recipient on a Kafka topic so that delivery
// happens out of band, with retries, in cmd/consumer.
type Outbox struct {
	w   messageWriter
	log *slog.Logger
}

func NewOutbox(brokers []string, topic string, log *slog.Logger) *Outbox {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	return &Outbox{w: w, log: log}
}

func (o *Outbox) Deliver(ctx context.Context, to []models.Contact, message string) int {
	msgs := make([]kafka.Message, 0, len(to))
	for _, c := range to {
		if c.Phone == "" {
			continue
		}
		b, err := json.Marshal(OutboundMessage{ID: uuid.NewString(), RecipientID: c.ID, To: c.Phone, Body: message})
		if err != nil {
			continue
		}
		msgs = append(msgs, kafka.Message{Key: []byte(c.ID), Value: b})
	}
	if len(msgs) == 0 {
		return 0
	}
	if err := o.w.WriteMessages(ctx, msgs...); err != nil {
		if o.log != nil {
			o.log.Warn("outbox write failed", "messages", len(msgs), "error", err)
		}
		observability.NotificationsFailed.WithLabelValues("outbox").Add(float64(len(msgs)))
		return 0
	}
	observability.NotificationsSent.WithLabelValues("outbox").Add(float64(len(msgs)))
	return len(msgs)
}

func (o *Outbox) Close() error {
	if c, ok := o.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// OutboxConsumer drains the outbox into a Sender. Offsets are committed after
// each message; messages that exhaust their retries go to the DLQ topic.
type OutboxConsumer struct {
	reader     messageReader
	dlq        messageWriter
	sender     Sender
	log        *slog.Logger
	MaxRetries int
	Backoff    func(attempt int) time.Duration
}

func NewOutboxConsumer(brokers []string, topic, dlqTopic, group string, sender Sender, log *slog.Logger) *OutboxConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        group,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: 0, // explicit commits only
		StartOffset:    kafka.LastOffset,
	})
	dlq := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        dlqTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	if log == nil {
		log = logging.Discard()
	}
	return &OutboxConsumer{reader: reader, dlq: dlq, sender: sender, log: log, MaxRetries: 3, Backoff: linearBackoff}
}

func linearBackoff(attempt int) time.Duration { return time.Duration(attempt) * 2 * time.Second }

// Run blocks until ctx is cancelled.
func (c *OutboxConsumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch: %w", err)
		}
		if err := c.handle(ctx, m); err != nil {
			c.log.Warn("outbox message routed to dlq", "key", string(m.Key), "error", err)
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.log.Warn("outbox commit failed", "error", err)
		}
	}
}

func (c *OutboxConsumer) Close() error {
	var rerr, werr error
	if r, ok := c.reader.(interface{ Close() error }); ok {
		rerr = r.Close()
	}
	if w, ok := c.dlq.(interface{ Close() error }); ok {
		werr = w.Close()
	}
	if rerr != nil {
		return rerr
	}
	return werr
}

func (c *OutboxConsumer) handle(ctx context.Context, m kafka.Message) error {
	var msg OutboundMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return c.toDLQ(ctx, m, fmt.Errorf("unmarshal: %w", err))
	}
	var lastErr error
	for attempt := 1; attempt <= c.MaxRetries; attempt++ {
		if lastErr = c.sender.SendOne(ctx, msg); lastErr == nil {
			observability.NotificationsSent.WithLabelValues("sms").Inc()
			c.log.Debug("outbox message sent", "id", msg.ID, "attempt", attempt)
			return nil
		}
		c.log.Warn("outbox send failed", "id", msg.ID, "attempt", attempt, "max", c.MaxRetries, "error", lastErr)
		if attempt < c.MaxRetries {
			select {
			case <-time.After(c.Backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	observability.NotificationsFailed.WithLabelValues("sms").Inc()
	return c.toDLQ(ctx, m, lastErr)
}

func (c *OutboxConsumer) toDLQ(ctx context.Context, m kafka.Message, reason error) error {
	if err := c.dlq.WriteMessages(ctx, kafka.Message{Key: m.Key, Value: m.Value}); err != nil {
		c.log.Error("dlq write failed", "key", string(m.Key), "error", err)
	}
	return reason
}
