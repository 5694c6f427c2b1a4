package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockkeeper/internal/domain"
	apperrors "stockkeeper/internal/errors"
	"stockkeeper/internal/storage"
	"stockkeeper/internal/testutil"
)

// Unit Tests

func TestNewUnitOfWork(t *testing.T) {
	db := &sql.DB{}
	uow := NewUnitOfWork(db, 5*time.Second)

	assert.NotNil(t, uow)
	assert.Equal(t, db, uow.db)
	assert.Equal(t, 5*time.Second, uow.txTimeout)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name   string
		number uint16
		want   error
	}{
		{"duplicate entry", errDuplicateEntry, storage.ErrDuplicateKey},
		{"deadlock", errDeadlock, storage.ErrDeadlock},
		{"lock wait timeout", errLockWaitTimeout, storage.ErrDeadlock},
		{"check constraint", errCheckConstraint, storage.ErrGuardViolated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &driver.MySQLError{Number: tt.number, Message: "boom"}
			err := translate(fmt.Errorf("exec: %w", src))

			assert.ErrorIs(t, err, tt.want)

			var mysqlErr *driver.MySQLError
			assert.True(t, errors.As(err, &mysqlErr))
		})
	}
}

func TestTranslate_PassesThroughOtherErrors(t *testing.T) {
	src := errors.New("connection refused")
	assert.Equal(t, src, translate(src))

	other := &driver.MySQLError{Number: 1146, Message: "table missing"}
	assert.Equal(t, error(other), translate(other))
}

func TestNullHelpers(t *testing.T) {
	assert.False(t, nullString(nil).Valid)
	assert.False(t, nullTime(nil).Valid)
	assert.Nil(t, stringPtr(sql.NullString{}))
	assert.Nil(t, timePtr(sql.NullTime{}))

	s := "key-1"
	ns := nullString(&s)
	require.True(t, ns.Valid)
	assert.Equal(t, "key-1", *stringPtr(ns))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	nt := nullTime(&now)
	require.True(t, nt.Valid)
	assert.Equal(t, now, *timePtr(nt))
}

// Integration Tests

func setupStore(t *testing.T) (*sql.DB, *UnitOfWork) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	require.NoError(t, Migrate(context.Background(), db))
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	return db, NewUnitOfWork(db, 5*time.Second)
}

func newInventory(productID string, total, reserved int) *domain.Inventory {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Inventory{
		ID:               uuid.NewString(),
		ProductID:        productID,
		TotalQuantity:    total,
		ReservedQuantity: reserved,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestUnitOfWork_CommitsAndRollsBack(t *testing.T) {
	_, uow := setupStore(t)
	ctx := context.Background()

	inv := newInventory("p-commit", 10, 0)
	err := uow.Do(ctx, func(ctx context.Context, repos storage.Repositories) error {
		return repos.Inventories().Insert(ctx, inv)
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = uow.Do(ctx, func(ctx context.Context, repos storage.Repositories) error {
		if err := repos.Inventories().ApplyDelta(ctx, inv.ID, storage.Delta{Reserved: 4}, time.Now().UTC()); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := uow.Repositories().Inventories().FindByProductID(ctx, "p-commit")
	require.NoError(t, err)
	assert.Equal(t, 10, got.TotalQuantity)
	assert.Equal(t, 0, got.ReservedQuantity)
}

func TestInventoryRepository_InsertDuplicateProduct(t *testing.T) {
	_, uow := setupStore(t)
	ctx := context.Background()
	repo := uow.Repositories().Inventories()

	require.NoError(t, repo.Insert(ctx, newInventory("p-dup", 1, 0)))

	err := repo.Insert(ctx, newInventory("p-dup", 1, 0))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestInventoryRepository_FindByProductID_NotFound(t *testing.T) {
	_, uow := setupStore(t)

	inv, err := uow.Repositories().Inventories().FindByProductID(context.Background(), "missing")
	assert.Nil(t, inv)

	nfe, ok := apperrors.IsNotFoundError(err)
	assert.True(t, ok)
	assert.NotNil(t, nfe)
}

func TestInventoryRepository_ApplyDeltaGuard(t *testing.T) {
	_, uow := setupStore(t)
	ctx := context.Background()
	repo := uow.Repositories().Inventories()

	inv := newInventory("p-guard", 5, 0)
	require.NoError(t, repo.Insert(ctx, inv))

	key := "res-key"
	require.NoError(t, repo.ApplyDelta(ctx, inv.ID, storage.Delta{Reserved: 5, ReservationKey: &key}, time.Now().UTC()))

	err := repo.ApplyDelta(ctx, inv.ID, storage.Delta{Reserved: 1}, time.Now().UTC())
	assert.ErrorIs(t, err, storage.ErrGuardViolated)

	err = repo.ApplyDelta(ctx, inv.ID, storage.Delta{Reserved: -6}, time.Now().UTC())
	assert.ErrorIs(t, err, storage.ErrGuardViolated)

	_, ok := apperrors.IsNotFoundError(repo.ApplyDelta(ctx, uuid.NewString(), storage.Delta{Total: 1}, time.Now().UTC()))
	assert.True(t, ok)

	got, err := repo.FindByProductID(ctx, "p-guard")
	require.NoError(t, err)
	assert.Equal(t, 5, got.ReservedQuantity)
	require.NotNil(t, got.LastReservationKey)
	assert.Equal(t, "res-key", *got.LastReservationKey)
	assert.Equal(t, 1, got.Version)
}

func TestInventoryRepository_UpdateAndFindByIdempotencyKey(t *testing.T) {
	_, uow := setupStore(t)
	ctx := context.Background()
	repo := uow.Repositories().Inventories()

	inv := newInventory("p-update", 0, 0)
	require.NoError(t, repo.Insert(ctx, inv))

	key := "add-1"
	inv.TotalQuantity = 7
	inv.IdempotencyKey = &key
	inv.UpdatedAt = time.Now().UTC()
	require.NoError(t, repo.Update(ctx, inv))

	got, err := repo.FindByIdempotencyKey(ctx, "add-1")
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.ID)
	assert.Equal(t, 7, got.TotalQuantity)

	inv.ReservedQuantity = 8
	assert.ErrorIs(t, repo.Update(ctx, inv), storage.ErrGuardViolated)
}

func TestReservationRepository_Lifecycle(t *testing.T) {
	_, uow := setupStore(t)
	ctx := context.Background()
	repos := uow.Repositories()

	inv := newInventory("p-res", 10, 0)
	require.NoError(t, repos.Inventories().Insert(ctx, inv))

	now := time.Now().UTC().Truncate(time.Microsecond)
	res := &domain.Reservation{
		ID:             uuid.NewString(),
		InventoryID:    inv.ID,
		ProductID:      inv.ProductID,
		Quantity:       3,
		Status:         domain.ReservationStatusReserved,
		IdempotencyKey: "k-1",
		LineNo:         0,
		ExpiresAt:      now.Add(-time.Minute),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, repos.Reservations().Insert(ctx, res))

	dup := *res
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, repos.Reservations().Insert(ctx, &dup), storage.ErrDuplicateKey)

	found, err := repos.Reservations().FindByProductAndKey(ctx, "p-res", "k-1")
	require.NoError(t, err)
	assert.Equal(t, res.ID, found.ID)

	expired, err := repos.Reservations().FindExpired(ctx, domain.ReservationStatusReserved, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, res.ID, expired[0].ID)

	require.NoError(t, res.Confirm("order-1", now))
	require.NoError(t, repos.Reservations().Update(ctx, res))

	byOrder, err := repos.Reservations().FindByOrderID(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, byOrder, 1)
	assert.Equal(t, domain.ReservationStatusConfirmed, byOrder[0].Status)
	assert.Equal(t, 3, byOrder[0].Quantity)

	_, ok := apperrors.IsNotFoundError(func() error {
		_, err := repos.Reservations().FindByID(ctx, uuid.NewString())
		return err
	}())
	assert.True(t, ok)
}

func TestOutboxRepository_PublishCycle(t *testing.T) {
	_, uow := setupStore(t)
	ctx := context.Background()
	repo := uow.Repositories().Outbox()

	now := time.Now().UTC().Truncate(time.Microsecond)
	first, err := domain.NewInventoryDeletedEvent(uuid.NewString(), "p-1", now)
	require.NoError(t, err)
	second, err := domain.NewInventoryDeletedEvent(uuid.NewString(), "p-2", now.Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, second))
	require.NoError(t, repo.Insert(ctx, first))

	pending, err := repo.FindUnpublished(ctx, storage.OutboxCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.JSONEq(t, `{"productId":"p-1"}`, string(pending[0].Payload))

	require.NoError(t, repo.IncrementAttempts(ctx, first.ID))
	require.NoError(t, repo.MarkPublished(ctx, second.ID, now))

	pending, err = repo.FindUnpublished(ctx, storage.OutboxCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)

	third, err := domain.NewInventoryDeletedEvent(uuid.NewString(), "p-3", now.Add(2*time.Second))
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, third))

	page, err := repo.FindUnpublished(ctx, storage.OutboxCursor{}, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, first.ID, page[0].ID)

	page, err = repo.FindUnpublished(ctx, storage.CursorAt(page[0]), 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, third.ID, page[0].ID)

	page, err = repo.FindUnpublished(ctx, storage.CursorAt(page[0]), 1)
	require.NoError(t, err)
	assert.Empty(t, page)
}
