package domain

import "time"

type Inventory struct {
	ID                 string
	ProductID          string
	TotalQuantity      int
	ReservedQuantity   int
	IdempotencyKey     *string
	LastReservationKey *string
	Deleted            bool
	Version            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (i Inventory) AvailableQuantity() int {
	available := i.TotalQuantity - i.ReservedQuantity
	if available < 0 {
		return 0
	}
	return available
}

// Valid reports whether the ledger invariant 0 <= reserved <= total holds.
func (i Inventory) Valid() bool {
	return i.ReservedQuantity >= 0 && i.ReservedQuantity <= i.TotalQuantity
}

// Reset zeroes the counters of a soft-deleted row and marks it active again.
func (i *Inventory) Reset() {
	i.TotalQuantity = 0
	i.ReservedQuantity = 0
	i.Deleted = false
}
