package inventory

type AddStockRequest struct {
	ProductID string `json:"productId" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

type SetQuantityRequest struct {
	Quantity int `json:"quantity" validate:"min=0"`
}
