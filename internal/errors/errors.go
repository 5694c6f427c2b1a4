package errors

import (
	stderrors "errors"
	"fmt"
)

type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Message string
	Details []ValidationDetail
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(message string, details ...ValidationDetail) *ValidationError {
	return &ValidationError{
		Message: message,
		Details: details,
	}
}

func IsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if stderrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// NotFoundError reports a missing inventory or reservation. Resource and ID are
// optional so callers can also build it from a free-form message.
type NotFoundError struct {
	Message  string
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

func NewNotFoundError(message string) *NotFoundError {
	return &NotFoundError{Message: message}
}

func NewInventoryNotFoundError(productID string) *NotFoundError {
	return &NotFoundError{
		Message:  fmt.Sprintf("inventory for product %s not found", productID),
		Resource: "inventory",
		ID:       productID,
	}
}

func NewReservationNotFoundError(reservationID string) *NotFoundError {
	return &NotFoundError{
		Message:  fmt.Sprintf("reservation %s not found", reservationID),
		Resource: "reservation",
		ID:       reservationID,
	}
}

func IsNotFoundError(err error) (*NotFoundError, bool) {
	var nf *NotFoundError
	if stderrors.As(err, &nf) {
		return nf, true
	}
	return nil, false
}

type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func NewInsufficientStockError(productID string, requested, available int) *InsufficientStockError {
	return &InsufficientStockError{
		ProductID: productID,
		Requested: requested,
		Available: available,
	}
}

func IsInsufficientStockError(err error) (*InsufficientStockError, bool) {
	var ise *InsufficientStockError
	if stderrors.As(err, &ise) {
		return ise, true
	}
	return nil, false
}

type InvalidStateTransitionError struct {
	ReservationID string
	From          string
	To            string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("reservation %s cannot move from %s to %s", e.ReservationID, e.From, e.To)
}

func NewInvalidStateTransitionError(reservationID, from, to string) *InvalidStateTransitionError {
	return &InvalidStateTransitionError{
		ReservationID: reservationID,
		From:          from,
		To:            to,
	}
}

func IsInvalidStateTransitionError(err error) (*InvalidStateTransitionError, bool) {
	var ite *InvalidStateTransitionError
	if stderrors.As(err, &ite) {
		return ite, true
	}
	return nil, false
}

type ReservationExpiredError struct {
	ReservationID string
}

func (e *ReservationExpiredError) Error() string {
	return fmt.Sprintf("reservation %s has expired", e.ReservationID)
}

func NewReservationExpiredError(reservationID string) *ReservationExpiredError {
	return &ReservationExpiredError{ReservationID: reservationID}
}

func IsReservationExpiredError(err error) (*ReservationExpiredError, bool) {
	var ree *ReservationExpiredError
	if stderrors.As(err, &ree) {
		return ree, true
	}
	return nil, false
}

type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

func NewConflictError(message string) *ConflictError {
	return &ConflictError{Message: message}
}

func IsConflictError(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

type DeadlockError struct {
	Message string
}

func (e *DeadlockError) Error() string {
	return e.Message
}

func NewDeadlockError(message string) *DeadlockError {
	return &DeadlockError{Message: message}
}

func IsDeadlockError(err error) (*DeadlockError, bool) {
	var de *DeadlockError
	if stderrors.As(err, &de) {
		return de, true
	}
	return nil, false
}

type InternalError struct {
	Message string
	Cause   error
}

func (e *InternalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *InternalError) Unwrap() error {
	return e.Cause
}

func NewInternalError(message string, cause error) *InternalError {
	return &InternalError{
		Message: message,
		Cause:   cause,
	}
}
