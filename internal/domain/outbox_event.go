package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	AggregateInventory = "Inventory"

	EventInventoryDeleted = "InventoryDeleted"
)

type OutboxEvent struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Published     bool
	PublishedAt   *time.Time
	Attempts      int
	CreatedAt     time.Time
}

type InventoryDeletedEvent struct {
	ProductID string `json:"productId"`
}

func NewInventoryDeletedEvent(id, productID string, now time.Time) (*OutboxEvent, error) {
	payload, err := json.Marshal(InventoryDeletedEvent{ProductID: productID})
	if err != nil {
		return nil, fmt.Errorf("marshaling inventory deleted event: %w", err)
	}

	return &OutboxEvent{
		ID:            id,
		AggregateType: AggregateInventory,
		AggregateID:   productID,
		EventType:     EventInventoryDeleted,
		Payload:       payload,
		CreatedAt:     now,
	}, nil
}
