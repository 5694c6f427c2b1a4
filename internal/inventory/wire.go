package inventory

import (
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"stockkeeper/internal/infrastructure/metrics"
	"stockkeeper/internal/storage"
)

func NewModule(
	uow storage.UnitOfWork,
	retrier *storage.Retrier,
	clock clockwork.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Controller {
	ledger := NewLedger(uow, retrier, clock, m, logger.Named("inventory"))
	return NewController(ledger, clock, logger)
}
