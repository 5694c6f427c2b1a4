// Package storage declares the persistence ports shared by the ledger, the
// reservation engine, the outbox publisher and the sweeper. Implementations
// live in storage/mysql and storage/memory.
package storage

import (
	"context"
	"errors"
	"time"

	"stockkeeper/internal/domain"
)

var (
	// ErrDuplicateKey is returned when a write violates a unique constraint
	// (product id, inventory idempotency key, reservation key + line).
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrGuardViolated is returned by ApplyDelta when the update would break
	// 0 <= reserved <= total.
	ErrGuardViolated = errors.New("ledger guard violated")

	// ErrDeadlock marks a transaction aborted by the storage engine that is
	// safe to retry from the start.
	ErrDeadlock = errors.New("transaction deadlock")
)

// Delta is an atomic counter adjustment applied under the ledger guard.
type Delta struct {
	Total          int
	Reserved       int
	ReservationKey *string
}

type InventoryRepository interface {
	FindByProductID(ctx context.Context, productID string) (*domain.Inventory, error)
	FindByProductIDForUpdate(ctx context.Context, productID string) (*domain.Inventory, error)
	FindByIDForUpdate(ctx context.Context, id string) (*domain.Inventory, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Inventory, error)
	Insert(ctx context.Context, inv *domain.Inventory) error
	Update(ctx context.Context, inv *domain.Inventory) error
	ApplyDelta(ctx context.Context, id string, delta Delta, now time.Time) error
}

type ReservationRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Reservation, error)
	FindByIDForUpdate(ctx context.Context, id string) (*domain.Reservation, error)
	FindByProductAndKey(ctx context.Context, productID, key string) (*domain.Reservation, error)
	FindByIdempotencyKey(ctx context.Context, key string) ([]domain.Reservation, error)
	FindByOrderID(ctx context.Context, orderID string) ([]domain.Reservation, error)
	FindOpenByInventory(ctx context.Context, inventoryID string) ([]domain.Reservation, error)
	FindExpired(ctx context.Context, status domain.ReservationStatus, before time.Time, limit int) ([]domain.Reservation, error)
	Insert(ctx context.Context, r *domain.Reservation) error
	Update(ctx context.Context, r *domain.Reservation) error
}

// OutboxCursor is a position in the (created_at, id) order of the outbox.
// The zero value starts from the oldest row.
type OutboxCursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorAt returns the cursor positioned on e.
func CursorAt(e domain.OutboxEvent) OutboxCursor {
	return OutboxCursor{CreatedAt: e.CreatedAt, ID: e.ID}
}

func (c OutboxCursor) IsZero() bool {
	return c.ID == "" && c.CreatedAt.IsZero()
}

// Precedes reports whether e sorts strictly after the cursor.
func (c OutboxCursor) Precedes(e domain.OutboxEvent) bool {
	if c.IsZero() {
		return true
	}
	if e.CreatedAt.Equal(c.CreatedAt) {
		return e.ID > c.ID
	}
	return e.CreatedAt.After(c.CreatedAt)
}

type OutboxRepository interface {
	Insert(ctx context.Context, e *domain.OutboxEvent) error
	// FindUnpublished returns up to limit unpublished rows that sort after
	// the cursor, oldest first.
	FindUnpublished(ctx context.Context, after OutboxCursor, limit int) ([]domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	IncrementAttempts(ctx context.Context, id string) error
}

type Repositories interface {
	Inventories() InventoryRepository
	Reservations() ReservationRepository
	Outbox() OutboxRepository
}

// UnitOfWork runs fn inside one transaction. Everything fn writes through
// repos commits together or not at all. Repositories returns autocommit
// repositories for reads and single-statement writes.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
	Repositories() Repositories
}
