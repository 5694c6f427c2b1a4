package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "stockkeeper/internal/errors"
)

type sampleItem struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

type sampleRequest struct {
	OrderID string       `json:"orderId" validate:"required"`
	Items   []sampleItem `json:"items" validate:"min=1,max=2,dive"`
}

func TestValidate(t *testing.T) {
	err := Validate(sampleRequest{
		OrderID: "o-1",
		Items:   []sampleItem{{ProductID: "p-1", Quantity: 1}},
	})
	assert.NoError(t, err)
}

func TestValidate_ReportsEveryField(t *testing.T) {
	err := Validate(sampleRequest{
		Items: []sampleItem{{ProductID: "", Quantity: 0}},
	})

	ve, ok := apperrors.IsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "validation failed", ve.Message)

	fields := make([]string, 0, len(ve.Details))
	for _, d := range ve.Details {
		fields = append(fields, d.Field)
	}
	assert.ElementsMatch(t, []string{"orderId", "items[0].productId", "items[0].quantity"}, fields)
}

func TestValidate_SliceBounds(t *testing.T) {
	err := Validate(sampleRequest{OrderID: "o-1"})

	ve, ok := apperrors.IsValidationError(err)
	require.True(t, ok)
	require.Len(t, ve.Details, 1)
	assert.Equal(t, "items", ve.Details[0].Field)
	assert.Equal(t, "items must contain at least 1 entries", ve.Details[0].Message)
}
