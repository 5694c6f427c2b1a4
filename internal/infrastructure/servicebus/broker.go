package servicebus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"go.uber.org/zap"

	"stockkeeper/internal/outbox"
)

const contentType = "application/json"

// Broker publishes outbox messages to Azure Service Bus queues or topics,
// keeping one sender per destination.
type Broker struct {
	client *azservicebus.Client
	logger *zap.Logger

	mu      sync.Mutex
	senders map[string]*azservicebus.Sender
}

func NewBroker(connectionString string, logger *zap.Logger) (*Broker, error) {
	if connectionString == "" {
		return nil, errors.New("azure service bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("creating service bus client: %w", err)
	}

	return &Broker{
		client:  client,
		logger:  logger,
		senders: make(map[string]*azservicebus.Sender),
	}, nil
}

func (b *Broker) Publish(ctx context.Context, destination string, msg outbox.Message) error {
	sender, err := b.sender(destination)
	if err != nil {
		return err
	}

	id := msg.ID
	subject := msg.EventType
	ct := contentType
	message := &azservicebus.Message{
		Body:        msg.Payload,
		MessageID:   &id,
		Subject:     &subject,
		ContentType: &ct,
		ApplicationProperties: map[string]any{
			"eventType": msg.EventType,
			"key":       msg.Key,
		},
	}
	if msg.Key != "" {
		key := msg.Key
		message.CorrelationID = &key
	}

	if err := sender.SendMessage(ctx, message, nil); err != nil {
		return fmt.Errorf("sending event %s to %s: %w", msg.ID, destination, err)
	}
	return nil
}

func (b *Broker) sender(destination string) (*azservicebus.Sender, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.senders[destination]; ok {
		return s, nil
	}
	s, err := b.client.NewSender(destination, nil)
	if err != nil {
		return nil, fmt.Errorf("creating service bus sender for %s: %w", destination, err)
	}
	b.senders[destination] = s
	return s, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx := context.Background()
	var errs []error
	for destination, s := range b.senders {
		if err := s.Close(ctx); err != nil {
			b.logger.Error("failed to close service bus sender", zap.String("destination", destination), zap.Error(err))
			errs = append(errs, err)
		}
	}
	b.senders = make(map[string]*azservicebus.Sender)

	if err := b.client.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
