// Package store implements the durable-storage collaborator. The gateway
// never writes to ScyllaDB directly: events go through Kafka and the
// messaging service persists them, so a slow database write can never stall
// the gateway's delivery loop.
package store

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/inkwell-app/realtime/pkg/model"
)

// KafkaStore publishes stored events to the realtime-events topic. A
// successful publish is what "durably appended" means to the callers.
type KafkaStore struct {
	writer *kafka.Writer
}

func NewKafkaStore(brokers []string, topic string) *KafkaStore {
	return &KafkaStore{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (s *KafkaStore) publish(ctx context.Context, ev model.StoredEvent) error {
	value, err := ev.Encode()
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{Value: value})
}

func (s *KafkaStore) AppendMessage(ctx context.Context, m model.ChatMessage) error {
	return s.publish(ctx, model.NewMessageEvent(m))
}

func (s *KafkaStore) AppendDM(ctx context.Context, d model.DirectMessage) error {
	return s.publish(ctx, model.NewDMEvent(d))
}

func (s *KafkaStore) Close() error {
	return s.writer.Close()
}
