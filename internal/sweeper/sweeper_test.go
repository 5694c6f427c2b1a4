package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stockkeeper/internal/domain"
	"stockkeeper/internal/inventory"
	"stockkeeper/internal/reservation"
	"stockkeeper/internal/storage"
	"stockkeeper/internal/storage/memory"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const hold = 15 * time.Minute

type mockEngine struct {
	ReleaseFunc func(ctx context.Context, key string, ids []string) ([]domain.Reservation, error)
	ExpireFunc  func(ctx context.Context, ids []string) ([]domain.Reservation, error)
}

func (m *mockEngine) Release(ctx context.Context, key string, ids []string) ([]domain.Reservation, error) {
	return m.ReleaseFunc(ctx, key, ids)
}

func (m *mockEngine) Expire(ctx context.Context, ids []string) ([]domain.Reservation, error) {
	return m.ExpireFunc(ctx, ids)
}

type fixture struct {
	store  *memory.Store
	clock  *clockwork.FakeClock
	engine *reservation.Engine
	ledger *inventory.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	clock := clockwork.NewFakeClockAt(start)
	retrier := storage.NewRetrier(1, zap.NewNop())
	f := &fixture{
		store:  store,
		clock:  clock,
		engine: reservation.NewEngine(store, retrier, clock, hold, nil, zap.NewNop()),
		ledger: inventory.NewLedger(store, retrier, clock, nil, zap.NewNop()),
	}
	_, err := f.ledger.AddStock(context.Background(), "p-1", "seed", 10)
	require.NoError(t, err)
	return f
}

func (f *fixture) reserve(t *testing.T, key string, qty int) string {
	t.Helper()
	ids, err := f.engine.Reserve(context.Background(), key, "o-1", []reservation.Item{{ProductID: "p-1", Quantity: qty}})
	require.NoError(t, err)
	return ids[0]
}

func TestSweeper_ReleasesOverdueHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.reserve(t, "k-1", 3)
	f.clock.Advance(10 * time.Minute)
	fresh := f.reserve(t, "k-2", 2)
	f.clock.Advance(6 * time.Minute)

	s := New(f.store, f.engine, f.clock, Config{BatchSize: 500}, nil, zap.NewNop())
	result, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Swept: 1}, result)

	res, err := f.engine.Get(ctx, old)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusReleased, res.Status)

	res, err = f.engine.Get(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusReserved, res.Status)

	inv, err := f.ledger.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 2, inv.ReservedQuantity)
	assert.Equal(t, 10, inv.TotalQuantity)

	result, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}

func TestSweeper_MarkExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.reserve(t, "k-1", 4)
	f.clock.Advance(hold + time.Second)

	s := New(f.store, f.engine, f.clock, Config{BatchSize: 10, MarkExpired: true}, nil, zap.NewNop())
	result, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Swept)

	res, err := f.engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusExpired, res.Status)

	inv, err := f.ledger.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 0, inv.ReservedQuantity)
}

func TestSweeper_BatchSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, key := range []string{"k-1", "k-2", "k-3"} {
		f.reserve(t, key, 1)
	}
	f.clock.Advance(hold + time.Second)

	s := New(f.store, f.engine, f.clock, Config{BatchSize: 2}, nil, zap.NewNop())
	result, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Swept)

	result, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Swept)
}

func TestSweeper_FailureDoesNotStopBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.reserve(t, "k-1", 1)
	f.clock.Advance(time.Second)
	f.reserve(t, "k-2", 1)
	f.clock.Advance(hold + time.Second)

	var keys []string
	engine := &mockEngine{
		ReleaseFunc: func(ctx context.Context, key string, ids []string) ([]domain.Reservation, error) {
			keys = append(keys, key)
			if ids[0] == first {
				return nil, errors.New("lock wait timeout")
			}
			return f.engine.Release(ctx, key, ids)
		},
	}

	s := New(f.store, engine, f.clock, Config{BatchSize: 10}, nil, zap.NewNop())
	result, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Swept: 1, Failed: 1}, result)

	require.Len(t, keys, 2)
	assert.NotEmpty(t, keys[0])
	assert.NotEqual(t, keys[0], keys[1])

	res, err := f.engine.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusReserved, res.Status)
}

func TestSweeper_NonPositiveBatchSizeUsesDefault(t *testing.T) {
	f := newFixture(t)
	f.reserve(t, "k-1", 1)
	f.clock.Advance(hold + time.Second)

	s := New(f.store, f.engine, f.clock, Config{}, nil, zap.NewNop())
	assert.Equal(t, defaultBatchSize, s.cfg.BatchSize)

	result, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Swept)
}
