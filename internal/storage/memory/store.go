// Package memory is an in-process storage.UnitOfWork. Units of work are
// serialised by a single mutex and roll back by restoring a snapshot, which
// gives the same isolation the MySQL store gets from row locks.
package memory

import (
	"context"
	"sync"

	"stockkeeper/internal/domain"
	"stockkeeper/internal/storage"
)

type state struct {
	inventories      map[string]domain.Inventory
	productIndex     map[string]string
	keyIndex         map[string]string
	reservations     map[string]domain.Reservation
	reservationIndex map[reservationKey]string
	outbox           map[string]domain.OutboxEvent
	outboxOrder      []string
}

type reservationKey struct {
	key    string
	lineNo int
}

func newState() *state {
	return &state{
		inventories:      make(map[string]domain.Inventory),
		productIndex:     make(map[string]string),
		keyIndex:         make(map[string]string),
		reservations:     make(map[string]domain.Reservation),
		reservationIndex: make(map[reservationKey]string),
		outbox:           make(map[string]domain.OutboxEvent),
	}
}

func (s *state) clone() *state {
	c := &state{
		inventories:      make(map[string]domain.Inventory, len(s.inventories)),
		productIndex:     make(map[string]string, len(s.productIndex)),
		keyIndex:         make(map[string]string, len(s.keyIndex)),
		reservations:     make(map[string]domain.Reservation, len(s.reservations)),
		reservationIndex: make(map[reservationKey]string, len(s.reservationIndex)),
		outbox:           make(map[string]domain.OutboxEvent, len(s.outbox)),
		outboxOrder:      append([]string(nil), s.outboxOrder...),
	}
	for k, v := range s.inventories {
		c.inventories[k] = v
	}
	for k, v := range s.productIndex {
		c.productIndex[k] = v
	}
	for k, v := range s.keyIndex {
		c.keyIndex[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.reservationIndex {
		c.reservationIndex[k] = v
	}
	for k, v := range s.outbox {
		c.outbox[k] = v
	}
	return c
}

type Store struct {
	mu    sync.RWMutex
	state *state
	// snapshots counts state copies taken for rollback.
	snapshots int
}

func NewStore() *Store {
	return &Store{state: newState()}
}

func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, repos storage.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot()
	if err := fn(ctx, &repositories{st: s.state}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *Store) Repositories() storage.Repositories {
	return &lockedRepositories{store: s}
}

type repositories struct {
	st *state
}

func (r *repositories) Inventories() storage.InventoryRepository {
	return &inventoryRepository{st: r.st}
}

func (r *repositories) Reservations() storage.ReservationRepository {
	return &reservationRepository{st: r.st}
}

func (r *repositories) Outbox() storage.OutboxRepository {
	return &outboxRepository{st: r.st}
}

// lockedRepositories gives autocommit semantics: every call runs as its own
// single-statement unit of work.
type lockedRepositories struct {
	store *Store
}

func (r *lockedRepositories) Inventories() storage.InventoryRepository {
	return &lockedInventoryRepository{store: r.store}
}

func (r *lockedRepositories) Reservations() storage.ReservationRepository {
	return &lockedReservationRepository{store: r.store}
}

func (r *lockedRepositories) Outbox() storage.OutboxRepository {
	return &lockedOutboxRepository{store: r.store}
}

func (s *Store) with(fn func(repos *repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot()
	if err := fn(&repositories{st: s.state}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// view runs a read-only fn. Nothing is written, so no snapshot is taken.
func (s *Store) view(fn func(repos *repositories) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&repositories{st: s.state})
}

func (s *Store) snapshot() *state {
	s.snapshots++
	return s.state.clone()
}
