package reservation

type ReserveItemRequest struct {
	ProductID string `json:"productId" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

type ReserveRequest struct {
	OrderID string               `json:"orderId" validate:"max=64"`
	Items   []ReserveItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
}

type ConfirmRequest struct {
	OrderID        string   `json:"orderId" validate:"required,max=64"`
	ReservationIDs []string `json:"reservationIds" validate:"required,min=1,max=100,dive,required"`
}

type IDsRequest struct {
	ReservationIDs []string `json:"reservationIds" validate:"required,min=1,max=100,dive,required"`
}

type FailRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

type ReserveResponse struct {
	ReservationIDs []string `json:"reservationIds"`
}
