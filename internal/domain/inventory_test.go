package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventory_AvailableQuantity(t *testing.T) {
	inv := Inventory{TotalQuantity: 100, ReservedQuantity: 30}
	assert.Equal(t, 70, inv.AvailableQuantity())
	assert.True(t, inv.Valid())

	broken := Inventory{TotalQuantity: 10, ReservedQuantity: 20}
	assert.Equal(t, 0, broken.AvailableQuantity())
	assert.False(t, broken.Valid())
}

func TestInventory_Reset(t *testing.T) {
	inv := Inventory{TotalQuantity: 40, ReservedQuantity: 10, Deleted: true}

	inv.Reset()

	assert.Equal(t, 0, inv.TotalQuantity)
	assert.Equal(t, 0, inv.ReservedQuantity)
	assert.False(t, inv.Deleted)
}

func TestNewInventoryDeletedEvent(t *testing.T) {
	event, err := NewInventoryDeletedEvent("evt-1", "p-42", now)
	require.NoError(t, err)

	assert.Equal(t, AggregateInventory, event.AggregateType)
	assert.Equal(t, EventInventoryDeleted, event.EventType)
	assert.Equal(t, "p-42", event.AggregateID)
	assert.False(t, event.Published)

	var body InventoryDeletedEvent
	require.NoError(t, json.Unmarshal(event.Payload, &body))
	assert.Equal(t, "p-42", body.ProductID)
	assert.JSONEq(t, `{"productId":"p-42"}`, string(event.Payload))
}
