package reservation

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"stockkeeper/internal/infrastructure/metrics"
	"stockkeeper/internal/storage"
)

// NewModule builds the engine and its controller. The engine is returned as
// well since the sweeper drives it directly.
func NewModule(
	uow storage.UnitOfWork,
	retrier *storage.Retrier,
	clock clockwork.Clock,
	holdDuration time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Engine, *Controller) {
	engine := NewEngine(uow, retrier, clock, holdDuration, m, logger.Named("reservation"))
	return engine, NewController(engine, clock, logger)
}
