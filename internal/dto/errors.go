package dto

import (
	"net/http"
	"time"

	apperrors "stockkeeper/internal/errors"
)

// NewErrorResponse maps an application error onto its HTTP status, code and
// details. Anything unrecognised is an internal error and its message is not
// exposed.
func NewErrorResponse(traceID string, err error, now time.Time) ErrorResponse {
	resp := ErrorResponse{
		TraceID:   traceID,
		Message:   err.Error(),
		Timestamp: now,
	}

	if _, ok := apperrors.IsNotFoundError(err); ok {
		resp.Status, resp.Code = http.StatusNotFound, "NOT_FOUND"
		return resp
	}
	if ise, ok := apperrors.IsInsufficientStockError(err); ok {
		resp.Status, resp.Code = http.StatusConflict, "INSUFFICIENT_STOCK"
		resp.Details = &ErrorDetails{ProductID: ise.ProductID, Requested: ise.Requested, Available: ise.Available}
		return resp
	}
	if ist, ok := apperrors.IsInvalidStateTransitionError(err); ok {
		resp.Status, resp.Code = http.StatusConflict, "INVALID_STATE_TRANSITION"
		resp.Details = &ErrorDetails{ReservationID: ist.ReservationID, From: ist.From, To: ist.To}
		return resp
	}
	if re, ok := apperrors.IsReservationExpiredError(err); ok {
		resp.Status, resp.Code = http.StatusGone, "RESERVATION_EXPIRED"
		resp.Details = &ErrorDetails{ReservationID: re.ReservationID}
		return resp
	}
	if _, ok := apperrors.IsConflictError(err); ok {
		resp.Status, resp.Code = http.StatusConflict, "CONFLICT"
		return resp
	}
	if _, ok := apperrors.IsDeadlockError(err); ok {
		resp.Status, resp.Code = http.StatusConflict, "DEADLOCK"
		return resp
	}
	if _, ok := apperrors.IsValidationError(err); ok {
		resp.Status, resp.Code = http.StatusBadRequest, "VALIDATION_ERROR"
		return resp
	}

	resp.Status, resp.Code = http.StatusInternalServerError, "INTERNAL_ERROR"
	resp.Message = "an unexpected error occurred"
	return resp
}
