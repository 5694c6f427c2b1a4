package dto

import (
	"time"

	"stockkeeper/internal/domain"
	apperrors "stockkeeper/internal/errors"
)

type InventoryResponse struct {
	ProductID         string    `json:"productId"`
	TotalQuantity     int       `json:"totalQuantity"`
	ReservedQuantity  int       `json:"reservedQuantity"`
	AvailableQuantity int       `json:"availableQuantity"`
	Deleted           bool      `json:"deleted"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func NewInventoryResponse(inv *domain.Inventory) InventoryResponse {
	return InventoryResponse{
		ProductID:         inv.ProductID,
		TotalQuantity:     inv.TotalQuantity,
		ReservedQuantity:  inv.ReservedQuantity,
		AvailableQuantity: inv.AvailableQuantity(),
		Deleted:           inv.Deleted,
		UpdatedAt:         inv.UpdatedAt,
	}
}

type ReservationResponse struct {
	ReservationID string     `json:"reservationId"`
	ProductID     string     `json:"productId"`
	Quantity      int        `json:"quantity"`
	Status        string     `json:"status"`
	OrderID       *string    `json:"orderId,omitempty"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	ReleasedAt    *time.Time `json:"releasedAt,omitempty"`
	FailedAt      *time.Time `json:"failedAt,omitempty"`
	FailureReason *string    `json:"failureReason,omitempty"`
}

func NewReservationResponse(res *domain.Reservation) ReservationResponse {
	return ReservationResponse{
		ReservationID: res.ID,
		ProductID:     res.ProductID,
		Quantity:      res.Quantity,
		Status:        string(res.Status),
		OrderID:       res.OrderID,
		ExpiresAt:     res.ExpiresAt,
		CompletedAt:   res.CompletedAt,
		ReleasedAt:    res.ReleasedAt,
		FailedAt:      res.FailedAt,
		FailureReason: res.FailureReason,
	}
}

func NewReservationResponses(reservations []domain.Reservation) []ReservationResponse {
	out := make([]ReservationResponse, len(reservations))
	for i := range reservations {
		out[i] = NewReservationResponse(&reservations[i])
	}
	return out
}

type ErrorResponse struct {
	TraceID   string        `json:"traceId"`
	Status    int           `json:"status"`
	Code      string        `json:"code"`
	Message   string        `json:"message"`
	Details   *ErrorDetails `json:"details,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

type ErrorDetails struct {
	ProductID     string `json:"productId,omitempty"`
	Requested     int    `json:"requested,omitempty"`
	Available     int    `json:"available,omitempty"`
	ReservationID string `json:"reservationId,omitempty"`
	From          string `json:"from,omitempty"`
	To            string `json:"to,omitempty"`
}

type ValidationErrorResponse struct {
	Error   string                       `json:"error"`
	Message string                       `json:"message"`
	Details []apperrors.ValidationDetail `json:"details"`
}
