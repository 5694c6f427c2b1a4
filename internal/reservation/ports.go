package reservation

import (
	"context"

	"stockkeeper/internal/domain"
)

type Service interface {
	Reserve(ctx context.Context, idempotencyKey, orderID string, items []Item) ([]string, error)
	Confirm(ctx context.Context, idempotencyKey, orderID string, reservationIDs []string) ([]domain.Reservation, error)
	Complete(ctx context.Context, reservationIDs []string) ([]domain.Reservation, error)
	Release(ctx context.Context, idempotencyKey string, reservationIDs []string) ([]domain.Reservation, error)
	Fail(ctx context.Context, reservationID, reason string) (*domain.Reservation, error)
	Get(ctx context.Context, reservationID string) (*domain.Reservation, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error)
}
