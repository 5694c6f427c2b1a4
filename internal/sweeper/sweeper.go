package sweeper

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"stockkeeper/internal/domain"
	"stockkeeper/internal/infrastructure/metrics"
	"stockkeeper/internal/storage"
)

var tracer = otel.Tracer("stockkeeper/sweeper")

const defaultBatchSize = 500

// Engine is the part of the reservation engine the sweeper drives.
type Engine interface {
	Release(ctx context.Context, idempotencyKey string, reservationIDs []string) ([]domain.Reservation, error)
	Expire(ctx context.Context, reservationIDs []string) ([]domain.Reservation, error)
}

type Config struct {
	BatchSize int
	// MarkExpired moves overdue holds to EXPIRED instead of RELEASED.
	MarkExpired bool
}

// Sweeper returns the stock of overdue RESERVED holds to the pool.
type Sweeper struct {
	uow     storage.UnitOfWork
	engine  Engine
	clock   clockwork.Clock
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(uow storage.UnitOfWork, engine Engine, clock clockwork.Clock, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Sweeper {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Sweeper{
		uow:     uow,
		engine:  engine,
		clock:   clock,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

type Result struct {
	Swept  int
	Failed int
}

// Sweep handles one batch of overdue holds. Each hold is settled in its own
// unit of work; a hold that fails is logged and picked up again next run.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "sweeper.sweep")
	defer span.End()

	var result Result
	now := s.clock.Now().UTC()

	overdue, err := s.uow.Repositories().Reservations().FindExpired(ctx, domain.ReservationStatusReserved, now, s.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("finding expired reservations: %w", err)
	}
	span.SetAttributes(attribute.Int("reservations.overdue", len(overdue)))

	outcome := "released"
	if s.cfg.MarkExpired {
		outcome = "expired"
	}

	for _, res := range overdue {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		if err := s.settle(ctx, res.ID); err != nil {
			result.Failed++
			s.metrics.IncSwept("failed")
			s.logger.Warn("failed to settle expired reservation",
				zap.String("reservationId", res.ID),
				zap.String("productId", res.ProductID),
				zap.Error(err))
			continue
		}
		result.Swept++
		s.metrics.IncSwept(outcome)
	}

	if len(overdue) > 0 {
		s.logger.Info("expired reservations swept",
			zap.String("outcome", outcome),
			zap.Int("swept", result.Swept),
			zap.Int("failed", result.Failed))
	}
	return result, nil
}

func (s *Sweeper) settle(ctx context.Context, id string) error {
	ids := []string{id}
	if s.cfg.MarkExpired {
		_, err := s.engine.Expire(ctx, ids)
		return err
	}
	_, err := s.engine.Release(ctx, uuid.NewString(), ids)
	return err
}
