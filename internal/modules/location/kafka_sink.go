// README: Kafka producer streaming location records for downstream consumers.
package location

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

const DefaultTopic = "ridesync.locations"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes records keyed by user id so one user's samples stay ordered.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: topic, Balancer: &kafka.Hash{}}
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Sync(ctx context.Context, r Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode location: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(r.UserID), Value: b})
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
