package reservation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
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
	"stockkeeper/internal/inventory"
	"stockkeeper/internal/storage"
)

var tracer = otel.Tracer("stockkeeper/reservation")

type Item struct {
	ProductID string
	Quantity  int
}

// Engine drives reservations through their lifecycle and keeps the owning
// inventory counters in step. Each call is one unit of work: every ledger and
// reservation write in it commits together or not at all.
type Engine struct {
	uow          storage.UnitOfWork
	retrier      *storage.Retrier
	clock        clockwork.Clock
	holdDuration time.Duration
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

func NewEngine(
	uow storage.UnitOfWork,
	retrier *storage.Retrier,
	clock clockwork.Clock,
	holdDuration time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		uow:          uow,
		retrier:      retrier,
		clock:        clock,
		holdDuration: holdDuration,
		metrics:      m,
		logger:       logger,
	}
}

// Reserve places one hold per item, in input order, and returns their ids.
// A key that already produced a batch returns that batch's ids without
// touching the ledger; reusing it for a different request is a conflict.
func (e *Engine) Reserve(ctx context.Context, idempotencyKey, orderID string, items []Item) ([]string, error) {
	if err := validateReserve(idempotencyKey, items); err != nil {
		return nil, err
	}

	var ids []string
	reserve := func(ctx context.Context, repos storage.Repositories) error {
		replayed, err := findReplay(ctx, repos, idempotencyKey, items)
		if err != nil {
			return err
		}
		if replayed != nil {
			e.logger.Info("reserve replayed", zap.String("idempotencyKey", idempotencyKey), zap.Int("items", len(replayed)))
			ids = replayed
			return nil
		}

		now := e.now()
		created := make([]string, 0, len(items))
		for lineNo, item := range items {
			res, err := e.reserveItem(ctx, repos, idempotencyKey, lineNo, item, now)
			if err != nil {
				return err
			}
			created = append(created, res.ID)
		}
		ids = created
		return nil
	}

	attrs := []attribute.KeyValue{
		attribute.String("idempotency.key", idempotencyKey),
		attribute.Int("items", len(items)),
	}
	err := e.run(ctx, "reserve", attrs, reserve)
	if errors.Is(err, storage.ErrDuplicateKey) {
		// A concurrent call with the same key committed first; rerunning
		// turns this call into its replay.
		err = e.run(ctx, "reserve", attrs, reserve)
	}
	if errors.Is(err, storage.ErrDuplicateKey) {
		err = apperrors.NewConflictError(fmt.Sprintf("idempotency key %s is being used by a concurrent request, retry later", idempotencyKey))
	}
	if err != nil {
		e.logger.Warn("reserve failed", zap.String("idempotencyKey", idempotencyKey), zap.String("orderId", orderID), zap.Error(err))
		return nil, err
	}

	e.logger.Info("items reserved", zap.String("idempotencyKey", idempotencyKey), zap.String("orderId", orderID),
		zap.Strings("reservationIds", ids))
	return ids, nil
}

func (e *Engine) reserveItem(ctx context.Context, repos storage.Repositories, key string, lineNo int, item Item, now time.Time) (*domain.Reservation, error) {
	inv, err := inventory.LockOrCreate(ctx, repos, item.ProductID, now)
	if err != nil {
		return nil, err
	}
	if inv.Deleted {
		return nil, apperrors.NewInventoryNotFoundError(item.ProductID)
	}

	available := inv.AvailableQuantity()
	if item.Quantity > available {
		return nil, apperrors.NewInsufficientStockError(item.ProductID, item.Quantity, available)
	}

	delta := storage.Delta{Reserved: item.Quantity, ReservationKey: &key}
	if err := repos.Inventories().ApplyDelta(ctx, inv.ID, delta, now); err != nil {
		if errors.Is(err, storage.ErrGuardViolated) {
			return nil, apperrors.NewInsufficientStockError(item.ProductID, item.Quantity, available)
		}
		return nil, err
	}

	res := &domain.Reservation{
		ID:             uuid.NewString(),
		InventoryID:    inv.ID,
		ProductID:      item.ProductID,
		Quantity:       item.Quantity,
		Status:         domain.ReservationStatusReserved,
		IdempotencyKey: key,
		LineNo:         lineNo,
		ExpiresAt:      now.Add(e.holdDuration),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := repos.Reservations().Insert(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// findReplay looks for a batch already stored under key. It returns nil when
// the key is unused.
func findReplay(ctx context.Context, repos storage.Repositories, key string, items []Item) ([]string, error) {
	hit := false
	for _, item := range items {
		_, err := repos.Reservations().FindByProductAndKey(ctx, item.ProductID, key)
		if err == nil {
			hit = true
			break
		}
		if _, ok := apperrors.IsNotFoundError(err); !ok {
			return nil, err
		}
	}

	stored, err := repos.Reservations().FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if !hit && len(stored) == 0 {
		return nil, nil
	}

	if len(stored) != len(items) {
		return nil, keyReused(key)
	}
	ids := make([]string, len(stored))
	for i, res := range stored {
		if res.LineNo != i || res.ProductID != items[i].ProductID || res.Quantity != items[i].Quantity {
			return nil, keyReused(key)
		}
		ids[i] = res.ID
	}
	return ids, nil
}

func keyReused(key string) error {
	return apperrors.NewConflictError(fmt.Sprintf("idempotency key %s was already used for a different request", key))
}

// Confirm turns holds into consumed stock. The batch is all-or-nothing: an
// expired hold aborts it, is released on its own and reported as expired.
func (e *Engine) Confirm(ctx context.Context, idempotencyKey, orderID string, reservationIDs []string) ([]domain.Reservation, error) {
	if err := validateIDs(reservationIDs); err != nil {
		return nil, err
	}
	if orderID == "" {
		return nil, apperrors.NewValidationError("orderId is required", apperrors.ValidationDetail{
			Field:   "orderId",
			Message: "orderId is required",
		})
	}

	var out []domain.Reservation
	err := e.run(ctx, "confirm", idsAttrs(idempotencyKey, reservationIDs), func(ctx context.Context, repos storage.Repositories) error {
		out = make([]domain.Reservation, 0, len(reservationIDs))
		now := e.now()
		for _, id := range reservationIDs {
			res, err := repos.Reservations().FindByIDForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if res.Status == domain.ReservationStatusReserved && res.Expired(now) {
				return apperrors.NewReservationExpiredError(id)
			}
			if err := res.Confirm(orderID, now); err != nil {
				return err
			}

			delta := storage.Delta{Total: -res.Quantity, Reserved: -res.Quantity}
			if err := applyDelta(ctx, repos, res, delta, now); err != nil {
				return err
			}
			if err := repos.Reservations().Update(ctx, res); err != nil {
				return err
			}
			out = append(out, *res)
		}
		return nil
	})

	if re, ok := apperrors.IsReservationExpiredError(err); ok {
		if relErr := e.releaseExpired(ctx, re.ReservationID); relErr != nil {
			e.logger.Error("failed to release expired reservation",
				zap.String("reservationId", re.ReservationID), zap.Error(relErr))
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info("reservations confirmed", zap.String("orderId", orderID), zap.String("idempotencyKey", idempotencyKey),
		zap.Int("count", len(out)))
	return out, nil
}

func (e *Engine) releaseExpired(ctx context.Context, id string) error {
	return e.run(ctx, "release_expired", []attribute.KeyValue{attribute.String("reservation.id", id)},
		func(ctx context.Context, repos storage.Repositories) error {
			res, err := repos.Reservations().FindByIDForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if res.Status != domain.ReservationStatusReserved {
				return nil
			}
			if err := release(ctx, repos, res, e.now()); err != nil {
				return err
			}
			return repos.Reservations().Update(ctx, res)
		})
}

// Complete marks confirmed reservations as fulfilled. Counters were already
// settled at confirmation.
func (e *Engine) Complete(ctx context.Context, reservationIDs []string) ([]domain.Reservation, error) {
	if err := validateIDs(reservationIDs); err != nil {
		return nil, err
	}

	return e.transition(ctx, "complete", "", reservationIDs, func(ctx context.Context, repos storage.Repositories, res *domain.Reservation, now time.Time) error {
		return res.Complete(now)
	})
}

// Release gives held stock back. A RESERVED hold frees its reserved units; a
// CONFIRMED one returns its quantity to the total, since confirmation already
// consumed it.
func (e *Engine) Release(ctx context.Context, idempotencyKey string, reservationIDs []string) ([]domain.Reservation, error) {
	if err := validateIDs(reservationIDs); err != nil {
		return nil, err
	}

	return e.transition(ctx, "release", idempotencyKey, reservationIDs, release)
}

// Expire moves overdue RESERVED holds to EXPIRED and frees their units.
func (e *Engine) Expire(ctx context.Context, reservationIDs []string) ([]domain.Reservation, error) {
	if err := validateIDs(reservationIDs); err != nil {
		return nil, err
	}

	return e.transition(ctx, "expire", "", reservationIDs, func(ctx context.Context, repos storage.Repositories, res *domain.Reservation, now time.Time) error {
		if err := res.Expire(now); err != nil {
			return err
		}
		return applyDelta(ctx, repos, res, storage.Delta{Reserved: -res.Quantity}, now)
	})
}

// Fail parks an open reservation in FAILED and reconciles the ledger the way
// a release would for its previous status.
func (e *Engine) Fail(ctx context.Context, reservationID, reason string) (*domain.Reservation, error) {
	if reason == "" {
		return nil, apperrors.NewValidationError("reason is required", apperrors.ValidationDetail{
			Field:   "reason",
			Message: "reason is required",
		})
	}
	if err := validateIDs([]string{reservationID}); err != nil {
		return nil, err
	}

	out, err := e.transition(ctx, "fail", "", []string{reservationID}, func(ctx context.Context, repos storage.Repositories, res *domain.Reservation, now time.Time) error {
		delta := releaseDelta(res)
		if err := res.Fail(reason, now); err != nil {
			return err
		}
		return applyDelta(ctx, repos, res, delta, now)
	})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

func (e *Engine) Get(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	return e.uow.Repositories().Reservations().FindByID(ctx, reservationID)
}

func (e *Engine) ListByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	return e.uow.Repositories().Reservations().FindByOrderID(ctx, orderID)
}

type stepFunc func(ctx context.Context, repos storage.Repositories, res *domain.Reservation, now time.Time) error

// transition applies step to every reservation in one unit of work, locking
// each row before it is changed.
func (e *Engine) transition(ctx context.Context, operation, key string, ids []string, step stepFunc) ([]domain.Reservation, error) {
	var out []domain.Reservation
	err := e.run(ctx, operation, idsAttrs(key, ids), func(ctx context.Context, repos storage.Repositories) error {
		out = make([]domain.Reservation, 0, len(ids))
		now := e.now()
		for _, id := range ids {
			res, err := repos.Reservations().FindByIDForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if err := step(ctx, repos, res, now); err != nil {
				return err
			}
			if err := repos.Reservations().Update(ctx, res); err != nil {
				return err
			}
			out = append(out, *res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("reservations updated", zap.String("operation", operation), zap.String("idempotencyKey", key),
		zap.Strings("reservationIds", ids))
	return out, nil
}

// release moves res to RELEASED and gives its units back to the ledger. The
// caller persists res.
func release(ctx context.Context, repos storage.Repositories, res *domain.Reservation, now time.Time) error {
	delta := releaseDelta(res)
	if err := res.Release(now); err != nil {
		return err
	}
	return applyDelta(ctx, repos, res, delta, now)
}

func releaseDelta(res *domain.Reservation) storage.Delta {
	switch res.Status {
	case domain.ReservationStatusReserved:
		return storage.Delta{Reserved: -res.Quantity}
	case domain.ReservationStatusConfirmed:
		return storage.Delta{Total: res.Quantity}
	}
	return storage.Delta{}
}

func applyDelta(ctx context.Context, repos storage.Repositories, res *domain.Reservation, delta storage.Delta, now time.Time) error {
	if delta.Total == 0 && delta.Reserved == 0 {
		return nil
	}
	if err := repos.Inventories().ApplyDelta(ctx, res.InventoryID, delta, now); err != nil {
		return fmt.Errorf("adjusting inventory for reservation %s: %w", res.ID, err)
	}
	return nil
}

func (e *Engine) run(ctx context.Context, operation string, attrs []attribute.KeyValue, fn func(ctx context.Context, repos storage.Repositories) error) error {
	ctx, span := tracer.Start(ctx, "reservation."+operation, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	err := e.retrier.Do(ctx, operation, func(ctx context.Context) error {
		return e.uow.Do(ctx, fn)
	})
	e.metrics.ObserveOperation(operation, err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

func idsAttrs(key string, ids []string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.StringSlice("reservation.ids", ids)}
	if key != "" {
		attrs = append(attrs, attribute.String("idempotency.key", key))
	}
	return attrs
}

func validateReserve(key string, items []Item) error {
	var details []apperrors.ValidationDetail
	if key == "" {
		details = append(details, apperrors.ValidationDetail{Field: "idempotencyKey", Message: "idempotency key is required"})
	}
	if len(items) == 0 {
		details = append(details, apperrors.ValidationDetail{Field: "items", Message: "items must not be empty"})
	}
	for i, item := range items {
		prefix := "items[" + strconv.Itoa(i) + "]"
		if item.ProductID == "" {
			details = append(details, apperrors.ValidationDetail{Field: prefix + ".productId", Message: "productId is required"})
		}
		if item.Quantity <= 0 {
			details = append(details, apperrors.ValidationDetail{Field: prefix + ".quantity", Message: "quantity must be a positive integer"})
		}
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("validation failed", details...)
	}
	return nil
}

func validateIDs(ids []string) error {
	if len(ids) == 0 {
		return apperrors.NewValidationError("reservationIds must not be empty", apperrors.ValidationDetail{
			Field:   "reservationIds",
			Message: "reservationIds must not be empty",
		})
	}
	for i, id := range ids {
		if id == "" {
			msg := "reservation id must not be empty"
			return apperrors.NewValidationError(msg, apperrors.ValidationDetail{
				Field:   "reservationIds[" + strconv.Itoa(i) + "]",
				Message: msg,
			})
		}
	}
	return nil
}
