package domain

import (
	"time"

	apperrors "stockkeeper/internal/errors"
)

type ReservationStatus string

const (
	ReservationStatusReserved  ReservationStatus = "RESERVED"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusCompleted ReservationStatus = "COMPLETED"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
	ReservationStatusFailed    ReservationStatus = "FAILED"
)

func (s ReservationStatus) Terminal() bool {
	switch s {
	case ReservationStatusCompleted, ReservationStatusReleased, ReservationStatusExpired, ReservationStatusFailed:
		return true
	}
	return false
}

func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationStatusReserved, ReservationStatusConfirmed, ReservationStatusCompleted,
		ReservationStatusReleased, ReservationStatusExpired, ReservationStatusFailed:
		return true
	}
	return false
}

// Reservation is a time-boxed hold on stock. It points at its inventory by id;
// quantity never changes after creation.
type Reservation struct {
	ID             string
	InventoryID    string
	ProductID      string
	Quantity       int
	Status         ReservationStatus
	OrderID        *string
	IdempotencyKey string
	LineNo         int
	ExpiresAt      time.Time
	CompletedAt    *time.Time
	ReleasedAt     *time.Time
	FailedAt       *time.Time
	FailureReason  *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r *Reservation) Expired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

func (r *Reservation) Confirm(orderID string, now time.Time) error {
	if r.Status != ReservationStatusReserved {
		return r.invalid(ReservationStatusConfirmed)
	}
	r.OrderID = &orderID
	r.Status = ReservationStatusConfirmed
	r.UpdatedAt = now
	return nil
}

func (r *Reservation) Complete(now time.Time) error {
	if r.Status != ReservationStatusConfirmed {
		return r.invalid(ReservationStatusCompleted)
	}
	r.CompletedAt = &now
	r.Status = ReservationStatusCompleted
	r.UpdatedAt = now
	return nil
}

func (r *Reservation) Release(now time.Time) error {
	if r.Status != ReservationStatusReserved && r.Status != ReservationStatusConfirmed {
		return r.invalid(ReservationStatusReleased)
	}
	r.ReleasedAt = &now
	r.Status = ReservationStatusReleased
	r.UpdatedAt = now
	return nil
}

func (r *Reservation) Expire(now time.Time) error {
	if r.Status != ReservationStatusReserved {
		return r.invalid(ReservationStatusExpired)
	}
	r.Status = ReservationStatusExpired
	r.UpdatedAt = now
	return nil
}

// Fail moves any open reservation to FAILED. Ledger counters are left alone;
// whoever routes a hold here owns the reconciliation.
func (r *Reservation) Fail(reason string, now time.Time) error {
	if r.Status.Terminal() {
		return r.invalid(ReservationStatusFailed)
	}
	r.FailedAt = &now
	r.FailureReason = &reason
	r.Status = ReservationStatusFailed
	r.UpdatedAt = now
	return nil
}

func (r *Reservation) invalid(to ReservationStatus) error {
	return apperrors.NewInvalidStateTransitionError(r.ID, string(r.Status), string(to))
}
