package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"stockkeeper/internal/domain"
	apperrors "stockkeeper/internal/errors"
	"stockkeeper/internal/infrastructure/metrics"
	"stockkeeper/internal/storage"
)

const reactivatedReason = "inventory reactivated"

var tracer = otel.Tracer("stockkeeper/inventory")

// Ledger owns the per-product stock counters. Every mutation runs in one unit
// of work with the inventory row locked.
type Ledger struct {
	uow     storage.UnitOfWork
	retrier *storage.Retrier
	clock   clockwork.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewLedger(
	uow storage.UnitOfWork,
	retrier *storage.Retrier,
	clock clockwork.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Ledger {
	return &Ledger{
		uow:     uow,
		retrier: retrier,
		clock:   clock,
		metrics: m,
		logger:  logger,
	}
}

func (l *Ledger) FindOrCreate(ctx context.Context, productID string) (*domain.Inventory, error) {
	if err := requireProduct(productID); err != nil {
		return nil, err
	}

	var result *domain.Inventory
	err := l.run(ctx, "find_or_create", productID, func(ctx context.Context, repos storage.Repositories) error {
		inv, err := LockOrCreate(ctx, repos, productID, l.now())
		result = inv
		return err
	})
	return result, err
}

// AddStock adds quantity to the product's total once per idempotency key. A
// key already recorded on any inventory returns that row untouched.
func (l *Ledger) AddStock(ctx context.Context, productID, idempotencyKey string, quantity int) (*domain.Inventory, error) {
	if err := validateAddStock(productID, idempotencyKey, quantity); err != nil {
		return nil, err
	}

	var result *domain.Inventory
	add := func(ctx context.Context, repos storage.Repositories) error {
		existing, err := repos.Inventories().FindByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			l.logger.Info("add stock replayed",
				zap.String("productId", existing.ProductID), zap.String("idempotencyKey", idempotencyKey))
			result = existing
			return nil
		}
		if _, ok := apperrors.IsNotFoundError(err); !ok {
			return err
		}

		now := l.now()
		inv, err := LockOrCreate(ctx, repos, productID, now)
		if err != nil {
			return err
		}
		if inv.Deleted {
			if err := reactivate(ctx, repos, inv, now); err != nil {
				return err
			}
			l.logger.Info("inventory reactivated", zap.String("productId", productID))
		}

		inv.TotalQuantity += quantity
		inv.IdempotencyKey = &idempotencyKey
		inv.UpdatedAt = now
		if err := repos.Inventories().Update(ctx, inv); err != nil {
			return err
		}
		result = inv
		return nil
	}

	err := l.run(ctx, "add_stock", productID, add)
	if errors.Is(err, storage.ErrDuplicateKey) {
		// A concurrent call with the same key won; the rerun returns its row.
		err = l.run(ctx, "add_stock", productID, add)
	}
	if err != nil {
		return nil, err
	}

	l.logger.Info("stock added", zap.String("productId", productID), zap.Int("quantity", quantity),
		zap.Int("total", result.TotalQuantity))
	return result, nil
}

// ReduceStock removes quantity from the total. Stock that is held by open
// reservations cannot be removed.
func (l *Ledger) ReduceStock(ctx context.Context, productID string, quantity int) (*domain.Inventory, error) {
	if err := requireProduct(productID); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, quantityError("quantity", "quantity must be a positive integer")
	}

	var result *domain.Inventory
	err := l.run(ctx, "reduce_stock", productID, func(ctx context.Context, repos storage.Repositories) error {
		inv, err := lockActive(ctx, repos, productID)
		if err != nil {
			return err
		}
		if quantity > inv.TotalQuantity {
			return apperrors.NewInsufficientStockError(productID, quantity, inv.TotalQuantity)
		}
		if quantity > inv.AvailableQuantity() {
			return apperrors.NewInsufficientStockError(productID, quantity, inv.AvailableQuantity())
		}

		inv.TotalQuantity -= quantity
		inv.UpdatedAt = l.now()
		if err := repos.Inventories().Update(ctx, inv); err != nil {
			return err
		}
		result = inv
		return nil
	})
	return result, err
}

// SetQuantity overwrites the total. It never drops below what is reserved.
func (l *Ledger) SetQuantity(ctx context.Context, productID string, newTotal int) (*domain.Inventory, error) {
	if err := requireProduct(productID); err != nil {
		return nil, err
	}
	if newTotal < 0 {
		return nil, quantityError("quantity", "quantity must not be negative")
	}

	var result *domain.Inventory
	err := l.run(ctx, "set_quantity", productID, func(ctx context.Context, repos storage.Repositories) error {
		inv, err := lockActive(ctx, repos, productID)
		if err != nil {
			return err
		}
		if newTotal < inv.ReservedQuantity {
			return apperrors.NewInsufficientStockError(productID, inv.ReservedQuantity, newTotal)
		}

		inv.TotalQuantity = newTotal
		inv.UpdatedAt = l.now()
		if err := repos.Inventories().Update(ctx, inv); err != nil {
			return err
		}
		result = inv
		return nil
	})
	return result, err
}

// SoftDelete flags the inventory and enqueues one InventoryDeleted event in
// the same transaction. Deleting a deleted row changes nothing.
func (l *Ledger) SoftDelete(ctx context.Context, productID string) error {
	if err := requireProduct(productID); err != nil {
		return err
	}

	return l.run(ctx, "soft_delete", productID, func(ctx context.Context, repos storage.Repositories) error {
		inv, err := repos.Inventories().FindByProductIDForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if inv.Deleted {
			return nil
		}

		now := l.now()
		inv.Deleted = true
		inv.UpdatedAt = now
		if err := repos.Inventories().Update(ctx, inv); err != nil {
			return err
		}

		event, err := domain.NewInventoryDeletedEvent(uuid.NewString(), productID, now)
		if err != nil {
			return err
		}
		if err := repos.Outbox().Insert(ctx, event); err != nil {
			return err
		}

		l.logger.Info("inventory deleted", zap.String("productId", productID), zap.String("eventId", event.ID))
		return nil
	})
}

func (l *Ledger) Restore(ctx context.Context, productID string) (*domain.Inventory, error) {
	if err := requireProduct(productID); err != nil {
		return nil, err
	}

	var result *domain.Inventory
	err := l.run(ctx, "restore", productID, func(ctx context.Context, repos storage.Repositories) error {
		inv, err := repos.Inventories().FindByProductIDForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		result = inv
		if !inv.Deleted {
			return nil
		}

		inv.Deleted = false
		inv.UpdatedAt = l.now()
		return repos.Inventories().Update(ctx, inv)
	})
	return result, err
}

func (l *Ledger) Get(ctx context.Context, productID string) (*domain.Inventory, error) {
	if err := requireProduct(productID); err != nil {
		return nil, err
	}
	return l.uow.Repositories().Inventories().FindByProductID(ctx, productID)
}

// Exists reports whether a non-deleted inventory is recorded for productID.
func (l *Ledger) Exists(ctx context.Context, productID string) (bool, error) {
	inv, err := l.Get(ctx, productID)
	if err != nil {
		if _, ok := apperrors.IsNotFoundError(err); ok {
			return false, nil
		}
		return false, err
	}
	return !inv.Deleted, nil
}

func (l *Ledger) run(ctx context.Context, operation, productID string, fn func(ctx context.Context, repos storage.Repositories) error) error {
	ctx, span := tracer.Start(ctx, "inventory."+operation, trace.WithAttributes(
		attribute.String("product.id", productID),
	))
	defer span.End()

	start := time.Now()
	err := l.retrier.Do(ctx, operation, func(ctx context.Context) error {
		return l.uow.Do(ctx, fn)
	})
	l.metrics.ObserveOperation(operation, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (l *Ledger) now() time.Time {
	return l.clock.Now().UTC()
}

// LockOrCreate returns the product's inventory locked for the rest of the unit
// of work, inserting an empty row on first access. The unique product id
// resolves concurrent first inserts: the loser re-reads the winning row.
func LockOrCreate(ctx context.Context, repos storage.Repositories, productID string, now time.Time) (*domain.Inventory, error) {
	inv, err := repos.Inventories().FindByProductIDForUpdate(ctx, productID)
	if err == nil {
		return inv, nil
	}
	if _, ok := apperrors.IsNotFoundError(err); !ok {
		return nil, err
	}

	inv = &domain.Inventory{
		ID:        uuid.NewString(),
		ProductID: productID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = repos.Inventories().Insert(ctx, inv)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, storage.ErrDuplicateKey) {
		return nil, err
	}
	return repos.Inventories().FindByProductIDForUpdate(ctx, productID)
}

func lockActive(ctx context.Context, repos storage.Repositories, productID string) (*domain.Inventory, error) {
	inv, err := repos.Inventories().FindByProductIDForUpdate(ctx, productID)
	if err != nil {
		return nil, err
	}
	if inv.Deleted {
		return nil, apperrors.NewInventoryNotFoundError(productID)
	}
	return inv, nil
}

// reactivate zeroes a deleted inventory and fails its open holds, which no
// longer have stock behind them.
func reactivate(ctx context.Context, repos storage.Repositories, inv *domain.Inventory, now time.Time) error {
	open, err := repos.Reservations().FindOpenByInventory(ctx, inv.ID)
	if err != nil {
		return err
	}
	for i := range open {
		res := &open[i]
		if err := res.Fail(reactivatedReason, now); err != nil {
			return err
		}
		if err := repos.Reservations().Update(ctx, res); err != nil {
			return err
		}
	}

	inv.Reset()
	return nil
}

func requireProduct(productID string) error {
	if productID == "" {
		return apperrors.NewValidationError("productId is required", apperrors.ValidationDetail{
			Field:   "productId",
			Message: "productId is required",
		})
	}
	return nil
}

func quantityError(field, msg string) error {
	return apperrors.NewValidationError(msg, apperrors.ValidationDetail{Field: field, Message: msg})
}

func validateAddStock(productID, idempotencyKey string, quantity int) error {
	var details []apperrors.ValidationDetail
	if productID == "" {
		details = append(details, apperrors.ValidationDetail{Field: "productId", Message: "productId is required"})
	}
	if idempotencyKey == "" {
		details = append(details, apperrors.ValidationDetail{Field: "idempotencyKey", Message: "idempotency key is required"})
	}
	if quantity <= 0 {
		details = append(details, apperrors.ValidationDetail{Field: "quantity", Message: "quantity must be a positive integer"})
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("validation failed", details...)
	}
	return nil
}
