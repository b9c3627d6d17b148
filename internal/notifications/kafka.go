package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"imgbatch/internal/jobstore"
)

// KafkaService produces completion events to a topic, keyed by job id.
type KafkaService struct {
	producer sarama.SyncProducer
	topic    string
}

// DialKafka connects a synchronous producer to brokers.
func DialKafka(brokers []string, topic string) (*KafkaService, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "imgbatch"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	// A failed completion event is reported once and never resent.
	cfg.Producer.Retry.Max = 0
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	return NewKafkaService(producer, topic), nil
}

// NewKafkaService wraps an existing producer.
func NewKafkaService(producer sarama.SyncProducer, topic string) *KafkaService {
	return &KafkaService{producer: producer, topic: topic}
}

func (k *KafkaService) NotifyJobCompleted(ctx context.Context, jobID string, status jobstore.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(Event{JobID: jobID, Status: status})
	if err != nil {
		return fmt.Errorf("encode kafka payload: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(jobID),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("produce to %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaService) Close() error {
	return k.producer.Close()
}
