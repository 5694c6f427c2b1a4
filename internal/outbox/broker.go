package outbox

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Message is one outbox row on its way to a broker.
type Message struct {
	ID        string
	Key       string
	EventType string
	Payload   []byte
}

// Broker delivers a message to a named destination (topic or queue). A nil
// error means the broker acknowledged it.
type Broker interface {
	Publish(ctx context.Context, destination string, msg Message) error
	Close() error
}

// Router resolves event types to destinations. Lookups ignore case since
// configuration keys arrive lower-cased.
type Router struct {
	routes map[string]string
}

func NewRouter(routes map[string]string) *Router {
	normalized := make(map[string]string, len(routes))
	for eventType, destination := range routes {
		normalized[strings.ToLower(eventType)] = destination
	}
	return &Router{routes: normalized}
}

func (r *Router) Resolve(eventType string) (string, bool) {
	destination, ok := r.routes[strings.ToLower(eventType)]
	return destination, ok && destination != ""
}

// LogBroker writes messages to the log instead of a real broker.
type LogBroker struct {
	logger *zap.Logger
}

func NewLogBroker(logger *zap.Logger) *LogBroker {
	return &LogBroker{logger: logger}
}

func (b *LogBroker) Publish(_ context.Context, destination string, msg Message) error {
	b.logger.Info("event published",
		zap.String("destination", destination),
		zap.String("eventId", msg.ID),
		zap.String("eventType", msg.EventType),
		zap.String("key", msg.Key),
		zap.ByteString("payload", msg.Payload),
	)
	return nil
}

func (b *LogBroker) Close() error {
	return nil
}
