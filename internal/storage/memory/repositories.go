package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"stockkeeper/internal/domain"
	apperrors "stockkeeper/internal/errors"
	"stockkeeper/internal/storage"
)

type inventoryRepository struct {
	st *state
}

func (r *inventoryRepository) FindByProductID(_ context.Context, productID string) (*domain.Inventory, error) {
	id, ok := r.st.productIndex[productID]
	if !ok {
		return nil, apperrors.NewInventoryNotFoundError(productID)
	}
	inv := r.st.inventories[id]
	return &inv, nil
}

func (r *inventoryRepository) FindByProductIDForUpdate(ctx context.Context, productID string) (*domain.Inventory, error) {
	return r.FindByProductID(ctx, productID)
}

func (r *inventoryRepository) FindByIDForUpdate(_ context.Context, id string) (*domain.Inventory, error) {
	inv, ok := r.st.inventories[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("inventory %s not found", id))
	}
	return &inv, nil
}

func (r *inventoryRepository) FindByIdempotencyKey(_ context.Context, key string) (*domain.Inventory, error) {
	id, ok := r.st.keyIndex[key]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("inventory with idempotency key %s not found", key))
	}
	inv := r.st.inventories[id]
	return &inv, nil
}

func (r *inventoryRepository) Insert(_ context.Context, inv *domain.Inventory) error {
	if _, ok := r.st.productIndex[inv.ProductID]; ok {
		return fmt.Errorf("inserting inventory for product %s: %w", inv.ProductID, storage.ErrDuplicateKey)
	}
	if inv.IdempotencyKey != nil {
		if _, ok := r.st.keyIndex[*inv.IdempotencyKey]; ok {
			return fmt.Errorf("inserting inventory idempotency key: %w", storage.ErrDuplicateKey)
		}
		r.st.keyIndex[*inv.IdempotencyKey] = inv.ID
	}

	r.st.inventories[inv.ID] = *inv
	r.st.productIndex[inv.ProductID] = inv.ID
	return nil
}

func (r *inventoryRepository) Update(_ context.Context, inv *domain.Inventory) error {
	current, ok := r.st.inventories[inv.ID]
	if !ok {
		return apperrors.NewInventoryNotFoundError(inv.ProductID)
	}
	if !inv.Valid() {
		return fmt.Errorf("updating inventory %s: %w", inv.ID, storage.ErrGuardViolated)
	}

	if inv.IdempotencyKey != nil {
		if owner, taken := r.st.keyIndex[*inv.IdempotencyKey]; taken && owner != inv.ID {
			return fmt.Errorf("updating inventory idempotency key: %w", storage.ErrDuplicateKey)
		}
	}
	if current.IdempotencyKey != nil {
		delete(r.st.keyIndex, *current.IdempotencyKey)
	}
	if inv.IdempotencyKey != nil {
		r.st.keyIndex[*inv.IdempotencyKey] = inv.ID
	}

	updated := *inv
	updated.ProductID = current.ProductID
	updated.CreatedAt = current.CreatedAt
	updated.Version = current.Version + 1
	r.st.inventories[inv.ID] = updated
	inv.Version = updated.Version
	return nil
}

func (r *inventoryRepository) ApplyDelta(_ context.Context, id string, delta storage.Delta, now time.Time) error {
	inv, ok := r.st.inventories[id]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("inventory %s not found", id))
	}

	total := inv.TotalQuantity + delta.Total
	reserved := inv.ReservedQuantity + delta.Reserved
	if reserved < 0 || reserved > total {
		return fmt.Errorf("applying delta to inventory %s: %w", id, storage.ErrGuardViolated)
	}

	inv.TotalQuantity = total
	inv.ReservedQuantity = reserved
	if delta.ReservationKey != nil {
		key := *delta.ReservationKey
		inv.LastReservationKey = &key
	}
	inv.Version++
	inv.UpdatedAt = now
	r.st.inventories[id] = inv
	return nil
}

type reservationRepository struct {
	st *state
}

func (r *reservationRepository) FindByID(_ context.Context, id string) (*domain.Reservation, error) {
	res, ok := r.st.reservations[id]
	if !ok {
		return nil, apperrors.NewReservationNotFoundError(id)
	}
	return &res, nil
}

func (r *reservationRepository) FindByIDForUpdate(ctx context.Context, id string) (*domain.Reservation, error) {
	return r.FindByID(ctx, id)
}

func (r *reservationRepository) FindByProductAndKey(_ context.Context, productID, key string) (*domain.Reservation, error) {
	var found *domain.Reservation
	for _, res := range r.st.reservations {
		if res.ProductID != productID || res.IdempotencyKey != key {
			continue
		}
		if found == nil || res.LineNo < found.LineNo {
			res := res
			found = &res
		}
	}
	if found == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("reservation for product %s and key %s not found", productID, key))
	}
	return found, nil
}

func (r *reservationRepository) FindByIdempotencyKey(_ context.Context, key string) ([]domain.Reservation, error) {
	return r.filter(func(res domain.Reservation) bool { return res.IdempotencyKey == key }, func(a, b domain.Reservation) bool {
		return a.LineNo < b.LineNo
	}), nil
}

func (r *reservationRepository) FindByOrderID(_ context.Context, orderID string) ([]domain.Reservation, error) {
	return r.filter(func(res domain.Reservation) bool {
		return res.OrderID != nil && *res.OrderID == orderID
	}, byCreation), nil
}

func (r *reservationRepository) FindOpenByInventory(_ context.Context, inventoryID string) ([]domain.Reservation, error) {
	return r.filter(func(res domain.Reservation) bool {
		return res.InventoryID == inventoryID && res.Status == domain.ReservationStatusReserved
	}, byCreation), nil
}

func (r *reservationRepository) FindExpired(_ context.Context, status domain.ReservationStatus, before time.Time, limit int) ([]domain.Reservation, error) {
	expired := r.filter(func(res domain.Reservation) bool {
		return res.Status == status && res.ExpiresAt.Before(before)
	}, func(a, b domain.Reservation) bool {
		return a.ExpiresAt.Before(b.ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (r *reservationRepository) Insert(_ context.Context, res *domain.Reservation) error {
	k := reservationKey{key: res.IdempotencyKey, lineNo: res.LineNo}
	if _, ok := r.st.reservationIndex[k]; ok {
		return fmt.Errorf("inserting reservation line %d for key %s: %w", res.LineNo, res.IdempotencyKey, storage.ErrDuplicateKey)
	}
	r.st.reservations[res.ID] = *res
	r.st.reservationIndex[k] = res.ID
	return nil
}

func (r *reservationRepository) Update(_ context.Context, res *domain.Reservation) error {
	current, ok := r.st.reservations[res.ID]
	if !ok {
		return apperrors.NewReservationNotFoundError(res.ID)
	}

	updated := *res
	updated.Quantity = current.Quantity
	updated.InventoryID = current.InventoryID
	updated.IdempotencyKey = current.IdempotencyKey
	updated.LineNo = current.LineNo
	r.st.reservations[res.ID] = updated
	return nil
}

func (r *reservationRepository) filter(keep func(domain.Reservation) bool, less func(a, b domain.Reservation) bool) []domain.Reservation {
	var out []domain.Reservation
	for _, res := range r.st.reservations {
		if keep(res) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byCreation(a, b domain.Reservation) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		if a.LineNo != b.LineNo {
			return a.LineNo < b.LineNo
		}
		return a.ID < b.ID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

type outboxRepository struct {
	st *state
}

func (r *outboxRepository) Insert(_ context.Context, e *domain.OutboxEvent) error {
	if _, ok := r.st.outbox[e.ID]; ok {
		return fmt.Errorf("inserting outbox event %s: %w", e.ID, storage.ErrDuplicateKey)
	}
	r.st.outbox[e.ID] = *e
	r.st.outboxOrder = append(r.st.outboxOrder, e.ID)
	return nil
}

func (r *outboxRepository) FindUnpublished(_ context.Context, after storage.OutboxCursor, limit int) ([]domain.OutboxEvent, error) {
	var out []domain.OutboxEvent
	for _, id := range r.st.outboxOrder {
		e := r.st.outbox[id]
		if e.Published || !after.Precedes(e) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *outboxRepository) MarkPublished(_ context.Context, id string, at time.Time) error {
	e, ok := r.st.outbox[id]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("outbox event %s not found", id))
	}
	e.Published = true
	e.PublishedAt = &at
	r.st.outbox[id] = e
	return nil
}

func (r *outboxRepository) IncrementAttempts(_ context.Context, id string) error {
	e, ok := r.st.outbox[id]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("outbox event %s not found", id))
	}
	e.Attempts++
	r.st.outbox[id] = e
	return nil
}
