package inventory

import (
	"context"

	"stockkeeper/internal/domain"
)

type Service interface {
	AddStock(ctx context.Context, productID, idempotencyKey string, quantity int) (*domain.Inventory, error)
	ReduceStock(ctx context.Context, productID string, quantity int) (*domain.Inventory, error)
	SetQuantity(ctx context.Context, productID string, newTotal int) (*domain.Inventory, error)
	SoftDelete(ctx context.Context, productID string) error
	Restore(ctx context.Context, productID string) (*domain.Inventory, error)
	Get(ctx context.Context, productID string) (*domain.Inventory, error)
	Exists(ctx context.Context, productID string) (bool, error)
}
