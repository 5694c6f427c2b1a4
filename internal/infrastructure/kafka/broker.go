package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"stockkeeper/internal/outbox"
)

// Broker publishes outbox messages to Kafka, one writer per topic.
type Broker struct {
	brokers      []string
	writeTimeout time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer
}

func NewBroker(brokers []string, writeTimeout time.Duration, logger *zap.Logger) (*Broker, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka broker list is empty")
	}
	return &Broker{
		brokers:      brokers,
		writeTimeout: writeTimeout,
		logger:       logger,
		writers:      make(map[string]*kafka.Writer),
	}, nil
}

func (b *Broker) Publish(ctx context.Context, topic string, msg outbox.Message) error {
	headers := []kafka.Header{
		{Key: "event-id", Value: []byte(msg.ID)},
		{Key: "event-type", Value: []byte(msg.EventType)},
	}
	carrier := HeaderCarrier(headers)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)

	err := b.writer(topic).WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.Key),
		Value:   msg.Payload,
		Headers: carrier,
	})
	if err != nil {
		return fmt.Errorf("writing event %s to topic %s: %w", msg.ID, topic, err)
	}
	return nil
}

func (b *Broker) writer(topic string) *kafka.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.writers[topic]
	if !ok {
		w = &kafka.Writer{
			Addr:                   kafka.TCP(b.brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			WriteTimeout:           b.writeTimeout,
			AllowAutoTopicCreation: true,
		}
		b.writers[topic] = w
	}
	return w
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for topic, w := range b.writers {
		if err := w.Close(); err != nil {
			b.logger.Error("failed to close kafka writer", zap.String("topic", topic), zap.Error(err))
			errs = append(errs, err)
		}
	}
	b.writers = make(map[string]*kafka.Writer)
	return errors.Join(errs...)
}

// HeaderCarrier adapts Kafka message headers to the OpenTelemetry text map
// carrier.
type HeaderCarrier []kafka.Header

func (c *HeaderCarrier) Get(key string) string {
	for _, h := range *c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *HeaderCarrier) Set(key, value string) {
	for i, h := range *c {
		if h.Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *HeaderCarrier) Keys() []string {
	keys := make([]string, len(*c))
	for i, h := range *c {
		keys[i] = h.Key
	}
	return keys
}
