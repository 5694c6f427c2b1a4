package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockkeeper/internal/domain"
	apperrors "stockkeeper/internal/errors"
	"stockkeeper/internal/storage"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newInventory(id, productID string, total int) *domain.Inventory {
	return &domain.Inventory{
		ID:            id,
		ProductID:     productID,
		TotalQuantity: total,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func newReservation(id, inventoryID, productID, key string, lineNo int) *domain.Reservation {
	return &domain.Reservation{
		ID:             id,
		InventoryID:    inventoryID,
		ProductID:      productID,
		Quantity:       2,
		Status:         domain.ReservationStatusReserved,
		IdempotencyKey: key,
		LineNo:         lineNo,
		ExpiresAt:      now.Add(15 * time.Minute),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestStore_DoRollsBackOnError(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.Repositories().Inventories().Insert(ctx, newInventory("inv-1", "p-1", 10)))

	boom := errors.New("boom")
	err := store.Do(ctx, func(ctx context.Context, repos storage.Repositories) error {
		if err := repos.Inventories().ApplyDelta(ctx, "inv-1", storage.Delta{Reserved: 3}, now); err != nil {
			return err
		}
		if err := repos.Reservations().Insert(ctx, newReservation("r-1", "inv-1", "p-1", "k", 0)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	inv, err := store.Repositories().Inventories().FindByProductID(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 0, inv.ReservedQuantity)

	_, err = store.Repositories().Reservations().FindByID(ctx, "r-1")
	_, ok := apperrors.IsNotFoundError(err)
	assert.True(t, ok)
}

func TestStore_DoCommits(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.Do(ctx, func(ctx context.Context, repos storage.Repositories) error {
		if err := repos.Inventories().Insert(ctx, newInventory("inv-1", "p-1", 10)); err != nil {
			return err
		}
		return repos.Inventories().ApplyDelta(ctx, "inv-1", storage.Delta{Reserved: 4}, now)
	})
	require.NoError(t, err)

	inv, err := store.Repositories().Inventories().FindByProductID(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 4, inv.ReservedQuantity)
	assert.Equal(t, 1, inv.Version)
}

func TestStore_DoHonoursCancelledContext(t *testing.T) {
	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.Do(ctx, func(context.Context, storage.Repositories) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestInventoryRepository_DuplicateKeys(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repo := store.Repositories().Inventories()

	key := "add-1"
	first := newInventory("inv-1", "p-1", 1)
	first.IdempotencyKey = &key
	require.NoError(t, repo.Insert(ctx, first))

	assert.ErrorIs(t, repo.Insert(ctx, newInventory("inv-2", "p-1", 1)), storage.ErrDuplicateKey)

	second := newInventory("inv-3", "p-3", 1)
	second.IdempotencyKey = &key
	assert.ErrorIs(t, repo.Insert(ctx, second), storage.ErrDuplicateKey)

	_, err := repo.FindByProductID(ctx, "p-3")
	_, ok := apperrors.IsNotFoundError(err)
	assert.True(t, ok, "failed insert must not leave a row behind")
}

func TestInventoryRepository_UpdateMovesIdempotencyKey(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repo := store.Repositories().Inventories()

	inv := newInventory("inv-1", "p-1", 1)
	require.NoError(t, repo.Insert(ctx, inv))

	k1, k2 := "k1", "k2"
	inv.IdempotencyKey = &k1
	require.NoError(t, repo.Update(ctx, inv))
	inv.IdempotencyKey = &k2
	require.NoError(t, repo.Update(ctx, inv))

	_, err := repo.FindByIdempotencyKey(ctx, "k1")
	_, ok := apperrors.IsNotFoundError(err)
	assert.True(t, ok)

	got, err := repo.FindByIdempotencyKey(ctx, "k2")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", got.ID)
	assert.Equal(t, 2, got.Version)
}

func TestInventoryRepository_UpdateRejectsInvalidLedger(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repo := store.Repositories().Inventories()

	inv := newInventory("inv-1", "p-1", 1)
	require.NoError(t, repo.Insert(ctx, inv))

	inv.ReservedQuantity = 2
	assert.ErrorIs(t, repo.Update(ctx, inv), storage.ErrGuardViolated)
}

func TestInventoryRepository_ApplyDeltaGuard(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repo := store.Repositories().Inventories()
	require.NoError(t, repo.Insert(ctx, newInventory("inv-1", "p-1", 5)))

	tests := []struct {
		name  string
		delta storage.Delta
	}{
		{"reserve past total", storage.Delta{Reserved: 6}},
		{"release below zero", storage.Delta{Reserved: -1}},
		{"shrink total under reserved", storage.Delta{Total: -6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, repo.ApplyDelta(ctx, "inv-1", tt.delta, now), storage.ErrGuardViolated)
		})
	}

	key := "res-1"
	require.NoError(t, repo.ApplyDelta(ctx, "inv-1", storage.Delta{Reserved: 5, ReservationKey: &key}, now))

	inv, err := repo.FindByProductID(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 5, inv.ReservedQuantity)
	require.NotNil(t, inv.LastReservationKey)
	assert.Equal(t, "res-1", *inv.LastReservationKey)

	_, ok := apperrors.IsNotFoundError(repo.ApplyDelta(ctx, "nope", storage.Delta{Total: 1}, now))
	assert.True(t, ok)
}

func TestReservationRepository_Queries(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repos := store.Repositories()

	require.NoError(t, repos.Inventories().Insert(ctx, newInventory("inv-1", "p-1", 10)))
	require.NoError(t, repos.Inventories().Insert(ctx, newInventory("inv-2", "p-2", 10)))

	line1 := newReservation("r-2", "inv-2", "p-2", "k", 1)
	line0 := newReservation("r-1", "inv-1", "p-1", "k", 0)
	line0.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, repos.Reservations().Insert(ctx, line1))
	require.NoError(t, repos.Reservations().Insert(ctx, line0))

	assert.ErrorIs(t, repos.Reservations().Insert(ctx, newReservation("r-3", "inv-1", "p-1", "k", 0)), storage.ErrDuplicateKey)

	batch, err := repos.Reservations().FindByIdempotencyKey(ctx, "k")
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "r-1", batch[0].ID)
	assert.Equal(t, "r-2", batch[1].ID)

	hit, err := repos.Reservations().FindByProductAndKey(ctx, "p-2", "k")
	require.NoError(t, err)
	assert.Equal(t, "r-2", hit.ID)

	expired, err := repos.Reservations().FindExpired(ctx, domain.ReservationStatusReserved, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "r-1", expired[0].ID)

	open, err := repos.Reservations().FindOpenByInventory(ctx, "inv-2")
	require.NoError(t, err)
	require.Len(t, open, 1)
}

func TestReservationRepository_UpdateKeepsQuantity(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repo := store.Repositories().Reservations()

	res := newReservation("r-1", "inv-1", "p-1", "k", 0)
	require.NoError(t, repo.Insert(ctx, res))

	require.NoError(t, res.Confirm("order-1", now))
	res.Quantity = 99
	require.NoError(t, repo.Update(ctx, res))

	got, err := repo.FindByID(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Quantity)
	assert.Equal(t, domain.ReservationStatusConfirmed, got.Status)

	byOrder, err := repo.FindByOrderID(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, byOrder, 1)
}

func TestOutboxRepository_Cycle(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repo := store.Repositories().Outbox()

	for _, id := range []string{"e-1", "e-2", "e-3"} {
		event, err := domain.NewInventoryDeletedEvent(id, "p-"+id, now)
		require.NoError(t, err)
		require.NoError(t, repo.Insert(ctx, event))
	}

	pending, err := repo.FindUnpublished(ctx, storage.OutboxCursor{}, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "e-1", pending[0].ID)

	require.NoError(t, repo.MarkPublished(ctx, "e-1", now))
	require.NoError(t, repo.IncrementAttempts(ctx, "e-2"))

	pending, err = repo.FindUnpublished(ctx, storage.OutboxCursor{}, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "e-2", pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)

	_, ok := apperrors.IsNotFoundError(repo.MarkPublished(ctx, "missing", now))
	assert.True(t, ok)
}

func TestOutboxRepository_Cursor(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repo := store.Repositories().Outbox()

	// Inserted out of order; reads follow (created_at, id).
	for _, e := range []struct {
		id string
		at time.Time
	}{
		{"e-3", now.Add(time.Second)},
		{"e-2", now},
		{"e-1", now},
	} {
		event, err := domain.NewInventoryDeletedEvent(e.id, "p-"+e.id, e.at)
		require.NoError(t, err)
		require.NoError(t, repo.Insert(ctx, event))
	}

	page, err := repo.FindUnpublished(ctx, storage.OutboxCursor{}, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "e-1", page[0].ID)
	assert.Equal(t, "e-2", page[1].ID)

	page, err = repo.FindUnpublished(ctx, storage.CursorAt(page[1]), 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "e-3", page[0].ID)

	page, err = repo.FindUnpublished(ctx, storage.CursorAt(page[0]), 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestStore_ReadsTakeNoSnapshot(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repos := store.Repositories()

	event, err := domain.NewInventoryDeletedEvent("e-1", "p-1", now)
	require.NoError(t, err)
	require.NoError(t, repos.Outbox().Insert(ctx, event))
	require.Equal(t, 1, store.snapshots)

	_, err = repos.Outbox().FindUnpublished(ctx, storage.OutboxCursor{}, 10)
	require.NoError(t, err)
	_, err = repos.Reservations().FindExpired(ctx, domain.ReservationStatusReserved, now, 10)
	require.NoError(t, err)
	_, err = repos.Reservations().FindByOrderID(ctx, "o-1")
	require.NoError(t, err)
	_, _ = repos.Inventories().FindByProductID(ctx, "p-1")
	assert.Equal(t, 1, store.snapshots)

	require.NoError(t, repos.Outbox().MarkPublished(ctx, "e-1", now))
	assert.Equal(t, 2, store.snapshots)
}
