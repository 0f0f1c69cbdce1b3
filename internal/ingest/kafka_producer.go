package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/food-rescue/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer writes JSON records to a single topic.
type KafkaProducer struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaProducer{writer: w, timeout: 2 * time.Second}
}

// PublishClaimant sends a claimant profile to the locations topic, keyed by
// claimant so updates for one claimant stay ordered.
func (k *KafkaProducer) PublishClaimant(ctx context.Context, c models.Claimant) error {
	return k.publish(ctx, c.ID, c)
}

// PublishEvent sends an allocation event keyed by listing.
func (k *KafkaProducer) PublishEvent(ctx context.Context, e models.Event) error {
	return k.publish(ctx, e.ListingID, e)
}

func (k *KafkaProducer) publish(ctx context.Context, key string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
