package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stockkeeper/internal/domain"
	apperrors "stockkeeper/internal/errors"
	"stockkeeper/internal/storage"
)

const inventoryColumns = `id, product_id, total_quantity, reserved_quantity, idempotency_key,
	last_reservation_key, deleted, version, created_at, updated_at`

type InventoryRepository struct {
	q querier
}

func NewInventoryRepository(db *sql.DB) *InventoryRepository {
	return &InventoryRepository{q: db}
}

func (r *InventoryRepository) FindByProductID(ctx context.Context, productID string) (*domain.Inventory, error) {
	query := `SELECT ` + inventoryColumns + ` FROM inventories WHERE product_id = ?`
	inv, err := r.scanOne(r.q.QueryRowContext(ctx, query, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewInventoryNotFoundError(productID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying inventory by product id: %w", translate(err))
	}
	return inv, nil
}

func (r *InventoryRepository) FindByProductIDForUpdate(ctx context.Context, productID string) (*domain.Inventory, error) {
	query := `SELECT ` + inventoryColumns + ` FROM inventories WHERE product_id = ? FOR UPDATE`
	inv, err := r.scanOne(r.q.QueryRowContext(ctx, query, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewInventoryNotFoundError(productID)
	}
	if err != nil {
		return nil, fmt.Errorf("locking inventory by product id: %w", translate(err))
	}
	return inv, nil
}

func (r *InventoryRepository) FindByIDForUpdate(ctx context.Context, id string) (*domain.Inventory, error) {
	query := `SELECT ` + inventoryColumns + ` FROM inventories WHERE id = ? FOR UPDATE`
	inv, err := r.scanOne(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("inventory %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("locking inventory by id: %w", translate(err))
	}
	return inv, nil
}

func (r *InventoryRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Inventory, error) {
	query := `SELECT ` + inventoryColumns + ` FROM inventories WHERE idempotency_key = ?`
	inv, err := r.scanOne(r.q.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("inventory with idempotency key %s not found", key))
	}
	if err != nil {
		return nil, fmt.Errorf("querying inventory by idempotency key: %w", translate(err))
	}
	return inv, nil
}

func (r *InventoryRepository) Insert(ctx context.Context, inv *domain.Inventory) error {
	query := `
		INSERT INTO inventories (` + inventoryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.q.ExecContext(ctx, query,
		inv.ID, inv.ProductID, inv.TotalQuantity, inv.ReservedQuantity,
		nullString(inv.IdempotencyKey), nullString(inv.LastReservationKey),
		inv.Deleted, inv.Version, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting inventory: %w", translate(err))
	}
	return nil
}

func (r *InventoryRepository) Update(ctx context.Context, inv *domain.Inventory) error {
	if !inv.Valid() {
		return fmt.Errorf("updating inventory %s: %w", inv.ID, storage.ErrGuardViolated)
	}

	query := `
		UPDATE inventories
		SET total_quantity = ?, reserved_quantity = ?, idempotency_key = ?,
		    last_reservation_key = ?, deleted = ?, version = version + 1, updated_at = ?
		WHERE id = ?
	`

	result, err := r.q.ExecContext(ctx, query,
		inv.TotalQuantity, inv.ReservedQuantity, nullString(inv.IdempotencyKey),
		nullString(inv.LastReservationKey), inv.Deleted, inv.UpdatedAt, inv.ID,
	)
	if err != nil {
		return fmt.Errorf("updating inventory: %w", translate(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewInventoryNotFoundError(inv.ProductID)
	}

	inv.Version++
	return nil
}

// ApplyDelta adjusts both counters in one statement. The WHERE clause is the
// ledger guard: no row is touched unless 0 <= reserved' <= total' holds.
func (r *InventoryRepository) ApplyDelta(ctx context.Context, id string, delta storage.Delta, now time.Time) error {
	query := `
		UPDATE inventories
		SET total_quantity = total_quantity + ?,
		    reserved_quantity = reserved_quantity + ?,
		    last_reservation_key = COALESCE(?, last_reservation_key),
		    version = version + 1,
		    updated_at = ?
		WHERE id = ?
		  AND reserved_quantity + ? >= 0
		  AND reserved_quantity + ? <= total_quantity + ?
	`

	result, err := r.q.ExecContext(ctx, query,
		delta.Total, delta.Reserved, nullString(delta.ReservationKey), now, id,
		delta.Reserved, delta.Reserved, delta.Total,
	)
	if err != nil {
		return fmt.Errorf("applying inventory delta: %w", translate(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists int
	err = r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM inventories WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking inventory existence: %w", translate(err))
	}
	if exists == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("inventory %s not found", id))
	}
	return fmt.Errorf("applying delta to inventory %s: %w", id, storage.ErrGuardViolated)
}

func (r *InventoryRepository) scanOne(row *sql.Row) (*domain.Inventory, error) {
	var (
		inv            domain.Inventory
		idempotencyKey sql.NullString
		reservationKey sql.NullString
	)

	err := row.Scan(
		&inv.ID, &inv.ProductID, &inv.TotalQuantity, &inv.ReservedQuantity,
		&idempotencyKey, &reservationKey, &inv.Deleted, &inv.Version,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.IdempotencyKey = stringPtr(idempotencyKey)
	inv.LastReservationKey = stringPtr(reservationKey)
	return &inv, nil
}
