package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"stockkeeper/internal/domain"
	"stockkeeper/internal/infrastructure/metrics"
	"stockkeeper/internal/storage"
)

var tracer = otel.Tracer("stockkeeper/outbox")

// DefaultBatchSize is used when NewPublisher is given a non-positive size.
const DefaultBatchSize = 500

// Publisher relays unpublished outbox rows to the broker. Delivery is at
// least once: a row is marked published only after the broker acknowledged
// it, so a crash in between sends it again on the next cycle.
type Publisher struct {
	uow       storage.UnitOfWork
	broker    Broker
	router    *Router
	clock     clockwork.Clock
	batchSize int
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewPublisher(
	uow storage.UnitOfWork,
	broker Broker,
	router *Router,
	clock clockwork.Clock,
	batchSize int,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Publisher {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Publisher{
		uow:       uow,
		broker:    broker,
		router:    router,
		clock:     clock,
		batchSize: batchSize,
		metrics:   m,
		logger:    logger,
	}
}

// Result summarises one publish cycle.
type Result struct {
	Published int
	Failed    int
	Skipped   int
}

// PublishPending runs one cycle over every unpublished row, batchSize rows
// per read. Each page starts after the last row of the previous one, so rows
// that keep failing never hide newer events. Per-row failures are counted and
// logged; only a failure to read the outbox is returned.
func (p *Publisher) PublishPending(ctx context.Context) (Result, error) {
	var (
		result Result
		cursor storage.OutboxCursor
		seen   int
	)

	for {
		events, err := p.uow.Repositories().Outbox().FindUnpublished(ctx, cursor, p.batchSize)
		if err != nil {
			return result, fmt.Errorf("loading unpublished events: %w", err)
		}

		for _, event := range events {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			p.handle(ctx, event, &result)
			cursor = storage.CursorAt(event)
		}
		seen += len(events)

		if len(events) < p.batchSize {
			break
		}
	}

	if seen > 0 {
		p.logger.Info("outbox cycle finished",
			zap.Int("published", result.Published),
			zap.Int("failed", result.Failed),
			zap.Int("skipped", result.Skipped))
	}
	return result, nil
}

func (p *Publisher) handle(ctx context.Context, event domain.OutboxEvent, result *Result) {
	destination, ok := p.router.Resolve(event.EventType)
	if !ok {
		p.logger.Warn("no destination for event type, skipping",
			zap.String("eventId", event.ID), zap.String("eventType", event.EventType))
		p.metrics.IncPublishFailed(event.EventType, "unrouted")
		result.Skipped++
		return
	}

	if err := p.publish(ctx, destination, event); err != nil {
		result.Failed++
		return
	}
	result.Published++
}

func (p *Publisher) publish(ctx context.Context, destination string, event domain.OutboxEvent) error {
	ctx, span := tracer.Start(ctx, "outbox.publish", trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("event.id", event.ID),
			attribute.String("event.type", event.EventType),
			attribute.String("messaging.destination.name", destination),
		))
	defer span.End()

	logger := p.logger.With(zap.String("eventId", event.ID), zap.String("eventType", event.EventType),
		zap.String("destination", destination))

	msg := Message{
		ID:        event.ID,
		Key:       event.AggregateID,
		EventType: event.EventType,
		Payload:   event.Payload,
	}
	if err := p.broker.Publish(ctx, destination, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics.IncPublishFailed(event.EventType, "broker")

		if incErr := p.uow.Repositories().Outbox().IncrementAttempts(ctx, event.ID); incErr != nil {
			logger.Error("failed to record publish attempt", zap.Error(incErr))
		}
		logger.Warn("publish failed, will retry next cycle", zap.Int("attempts", event.Attempts+1), zap.Error(err))
		return err
	}

	if err := p.uow.Repositories().Outbox().MarkPublished(ctx, event.ID, p.clock.Now().UTC()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics.IncPublishFailed(event.EventType, "mark")
		logger.Error("event sent but not marked published, it will be sent again", zap.Error(err))
		return err
	}

	p.metrics.IncPublished(event.EventType)
	logger.Debug("event published", zap.Duration("age", p.clock.Since(event.CreatedAt).Round(time.Millisecond)))
	return nil
}
