package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stockkeeper/internal/domain"
	apperrors "stockkeeper/internal/errors"
)

const reservationColumns = `id, inventory_id, product_id, quantity, status, order_id, idempotency_key,
	line_no, expires_at, completed_at, released_at, failed_at, failure_reason, created_at, updated_at`

type ReservationRepository struct {
	q querier
}

func NewReservationRepository(db *sql.DB) *ReservationRepository {
	return &ReservationRepository{q: db}
}

func (r *ReservationRepository) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	res, err := scanReservation(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewReservationNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying reservation: %w", translate(err))
	}
	return res, nil
}

func (r *ReservationRepository) FindByIDForUpdate(ctx context.Context, id string) (*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ? FOR UPDATE`
	res, err := scanReservation(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewReservationNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("locking reservation: %w", translate(err))
	}
	return res, nil
}

func (r *ReservationRepository) FindByProductAndKey(ctx context.Context, productID, key string) (*domain.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE product_id = ? AND idempotency_key = ?
		ORDER BY line_no
		LIMIT 1
	`
	res, err := scanReservation(r.q.QueryRowContext(ctx, query, productID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("reservation for product %s and key %s not found", productID, key))
	}
	if err != nil {
		return nil, fmt.Errorf("querying reservation by product and key: %w", translate(err))
	}
	return res, nil
}

func (r *ReservationRepository) FindByIdempotencyKey(ctx context.Context, key string) ([]domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE idempotency_key = ? ORDER BY line_no`
	return r.list(ctx, "querying reservations by idempotency key", query, key)
}

func (r *ReservationRepository) FindByOrderID(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE order_id = ? ORDER BY created_at, line_no, id`
	return r.list(ctx, "querying reservations by order", query, orderID)
}

func (r *ReservationRepository) FindOpenByInventory(ctx context.Context, inventoryID string) ([]domain.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE inventory_id = ? AND status = ?
		ORDER BY created_at, line_no, id
		FOR UPDATE
	`
	return r.list(ctx, "querying open reservations", query, inventoryID, domain.ReservationStatusReserved)
}

func (r *ReservationRepository) FindExpired(ctx context.Context, status domain.ReservationStatus, before time.Time, limit int) ([]domain.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = ? AND expires_at < ?
		ORDER BY expires_at
		LIMIT ?
	`
	return r.list(ctx, "querying expired reservations", query, status, before, limit)
}

func (r *ReservationRepository) Insert(ctx context.Context, res *domain.Reservation) error {
	query := `
		INSERT INTO reservations (` + reservationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.q.ExecContext(ctx, query,
		res.ID, res.InventoryID, res.ProductID, res.Quantity, res.Status,
		nullString(res.OrderID), res.IdempotencyKey, res.LineNo, res.ExpiresAt,
		nullTime(res.CompletedAt), nullTime(res.ReleasedAt), nullTime(res.FailedAt),
		nullString(res.FailureReason), res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting reservation: %w", translate(err))
	}
	return nil
}

// Update persists status, order and lifecycle timestamps. Quantity and
// ownership are never rewritten.
func (r *ReservationRepository) Update(ctx context.Context, res *domain.Reservation) error {
	query := `
		UPDATE reservations
		SET status = ?, order_id = ?, completed_at = ?, released_at = ?,
		    failed_at = ?, failure_reason = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.q.ExecContext(ctx, query,
		res.Status, nullString(res.OrderID), nullTime(res.CompletedAt), nullTime(res.ReleasedAt),
		nullTime(res.FailedAt), nullString(res.FailureReason), res.UpdatedAt, res.ID,
	)
	if err != nil {
		return fmt.Errorf("updating reservation: %w", translate(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewReservationNotFoundError(res.ID)
	}
	return nil
}

func (r *ReservationRepository) list(ctx context.Context, op, query string, args ...any) ([]domain.Reservation, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reservation: %w", err)
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, translate(err))
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReservation(row scanner) (*domain.Reservation, error) {
	var (
		res           domain.Reservation
		orderID       sql.NullString
		failureReason sql.NullString
		completedAt   sql.NullTime
		releasedAt    sql.NullTime
		failedAt      sql.NullTime
	)

	err := row.Scan(
		&res.ID, &res.InventoryID, &res.ProductID, &res.Quantity, &res.Status,
		&orderID, &res.IdempotencyKey, &res.LineNo, &res.ExpiresAt,
		&completedAt, &releasedAt, &failedAt, &failureReason,
		&res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	res.OrderID = stringPtr(orderID)
	res.FailureReason = stringPtr(failureReason)
	res.CompletedAt = timePtr(completedAt)
	res.ReleasedAt = timePtr(releasedAt)
	res.FailedAt = timePtr(failedAt)
	return &res, nil
}
