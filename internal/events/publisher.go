package events

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/NurluhanKakpanAitu/order-manager/internal/storage"
)

// Publisher delivers outbox events to their destination
type Publisher interface {
	Publish(ctx context.Context, event *storage.OutboxEvent) error
	Close() error
}

// ParseBrokers splits a comma separated broker list, dropping blanks
func ParseBrokers(brokersCSV string) []string {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// KafkaPublisher writes each event to the topic named by its type, keyed by order id
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *storage.OutboxEvent) error {
	return p.writer.WriteMessages(ctx, kafkaMessage(event))
}

func kafkaMessage(event *storage.OutboxEvent) kafka.Message {
	return kafka.Message{
		Topic: event.Topic,
		Key:   []byte(event.Key),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID)},
		},
		Time: time.Now().UTC(),
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher logs events instead of sending them; used when no brokers are configured
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a log-only publisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event *storage.OutboxEvent) error {
	p.logger.Info("event published",
		zap.String("event_id", event.EventID),
		zap.String("topic", event.Topic),
		zap.String("key", event.Key),
		zap.ByteString("payload", event.Payload),
	)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}

// NewPublisher picks Kafka when brokers are configured and logging otherwise
func NewPublisher(brokersCSV string, logger *zap.Logger) Publisher {
	brokers := ParseBrokers(brokersCSV)
	if len(brokers) == 0 {
		return NewLogPublisher(logger)
	}
	return NewKafkaPublisher(brokers)
}
