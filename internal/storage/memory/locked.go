package memory

import (
	"context"
	"time"

	"stockkeeper/internal/domain"
	"stockkeeper/internal/storage"
)

type lockedInventoryRepository struct {
	store *Store
}

func (r *lockedInventoryRepository) FindByProductID(ctx context.Context, productID string) (inv *domain.Inventory, err error) {
	err = r.store.view(func(repos *repositories) error {
		inv, err = repos.Inventories().FindByProductID(ctx, productID)
		return err
	})
	return inv, err
}

func (r *lockedInventoryRepository) FindByProductIDForUpdate(ctx context.Context, productID string) (*domain.Inventory, error) {
	return r.FindByProductID(ctx, productID)
}

func (r *lockedInventoryRepository) FindByIDForUpdate(ctx context.Context, id string) (inv *domain.Inventory, err error) {
	err = r.store.view(func(repos *repositories) error {
		inv, err = repos.Inventories().FindByIDForUpdate(ctx, id)
		return err
	})
	return inv, err
}

func (r *lockedInventoryRepository) FindByIdempotencyKey(ctx context.Context, key string) (inv *domain.Inventory, err error) {
	err = r.store.view(func(repos *repositories) error {
		inv, err = repos.Inventories().FindByIdempotencyKey(ctx, key)
		return err
	})
	return inv, err
}

func (r *lockedInventoryRepository) Insert(ctx context.Context, inv *domain.Inventory) error {
	return r.store.with(func(repos *repositories) error {
		return repos.Inventories().Insert(ctx, inv)
	})
}

func (r *lockedInventoryRepository) Update(ctx context.Context, inv *domain.Inventory) error {
	return r.store.with(func(repos *repositories) error {
		return repos.Inventories().Update(ctx, inv)
	})
}

func (r *lockedInventoryRepository) ApplyDelta(ctx context.Context, id string, delta storage.Delta, now time.Time) error {
	return r.store.with(func(repos *repositories) error {
		return repos.Inventories().ApplyDelta(ctx, id, delta, now)
	})
}

type lockedReservationRepository struct {
	store *Store
}

func (r *lockedReservationRepository) FindByID(ctx context.Context, id string) (res *domain.Reservation, err error) {
	err = r.store.view(func(repos *repositories) error {
		res, err = repos.Reservations().FindByID(ctx, id)
		return err
	})
	return res, err
}

func (r *lockedReservationRepository) FindByIDForUpdate(ctx context.Context, id string) (*domain.Reservation, error) {
	return r.FindByID(ctx, id)
}

func (r *lockedReservationRepository) FindByProductAndKey(ctx context.Context, productID, key string) (res *domain.Reservation, err error) {
	err = r.store.view(func(repos *repositories) error {
		res, err = repos.Reservations().FindByProductAndKey(ctx, productID, key)
		return err
	})
	return res, err
}

func (r *lockedReservationRepository) FindByIdempotencyKey(ctx context.Context, key string) (out []domain.Reservation, err error) {
	err = r.store.view(func(repos *repositories) error {
		out, err = repos.Reservations().FindByIdempotencyKey(ctx, key)
		return err
	})
	return out, err
}

func (r *lockedReservationRepository) FindByOrderID(ctx context.Context, orderID string) (out []domain.Reservation, err error) {
	err = r.store.view(func(repos *repositories) error {
		out, err = repos.Reservations().FindByOrderID(ctx, orderID)
		return err
	})
	return out, err
}

func (r *lockedReservationRepository) FindOpenByInventory(ctx context.Context, inventoryID string) (out []domain.Reservation, err error) {
	err = r.store.view(func(repos *repositories) error {
		out, err = repos.Reservations().FindOpenByInventory(ctx, inventoryID)
		return err
	})
	return out, err
}

func (r *lockedReservationRepository) FindExpired(ctx context.Context, status domain.ReservationStatus, before time.Time, limit int) (out []domain.Reservation, err error) {
	err = r.store.view(func(repos *repositories) error {
		out, err = repos.Reservations().FindExpired(ctx, status, before, limit)
		return err
	})
	return out, err
}

func (r *lockedReservationRepository) Insert(ctx context.Context, res *domain.Reservation) error {
	return r.store.with(func(repos *repositories) error {
		return repos.Reservations().Insert(ctx, res)
	})
}

func (r *lockedReservationRepository) Update(ctx context.Context, res *domain.Reservation) error {
	return r.store.with(func(repos *repositories) error {
		return repos.Reservations().Update(ctx, res)
	})
}

type lockedOutboxRepository struct {
	store *Store
}

func (r *lockedOutboxRepository) Insert(ctx context.Context, e *domain.OutboxEvent) error {
	return r.store.with(func(repos *repositories) error {
		return repos.Outbox().Insert(ctx, e)
	})
}

func (r *lockedOutboxRepository) FindUnpublished(ctx context.Context, after storage.OutboxCursor, limit int) (out []domain.OutboxEvent, err error) {
	err = r.store.view(func(repos *repositories) error {
		out, err = repos.Outbox().FindUnpublished(ctx, after, limit)
		return err
	})
	return out, err
}

func (r *lockedOutboxRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	return r.store.with(func(repos *repositories) error {
		return repos.Outbox().MarkPublished(ctx, id, at)
	})
}

func (r *lockedOutboxRepository) IncrementAttempts(ctx context.Context, id string) error {
	return r.store.with(func(repos *repositories) error {
		return repos.Outbox().IncrementAttempts(ctx, id)
	})
}
