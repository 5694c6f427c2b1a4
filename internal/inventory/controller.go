package inventory

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"stockkeeper/internal/dto"
	apperrors "stockkeeper/internal/errors"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type Controller struct {
	service Service
	clock   clockwork.Clock
	logger  *zap.Logger
}

func NewController(service Service, clock clockwork.Clock, logger *zap.Logger) *Controller {
	return &Controller{
		service: service,
		clock:   clock,
		logger:  logger,
	}
}

// Routes mounts the inventory endpoints on r.
func (c *Controller) Routes(r chi.Router) {
	r.Post("/inventories", c.HandleAddStock)
	r.Get("/inventories/{productId}", c.HandleGet)
	r.Head("/inventories/{productId}", c.HandleExists)
	r.Patch("/inventories/{productId}/reduce", c.HandleReduceStock)
	r.Put("/inventories/{productId}", c.HandleSetQuantity)
	r.Delete("/inventories/{productId}", c.HandleSoftDelete)
	r.Post("/inventories/{productId}/restore", c.HandleRestore)
}

func (c *Controller) HandleAddStock(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.NewString()

	var req AddStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeValidationError(w, "invalid JSON body", apperrors.ValidationDetail{
			Field:   "body",
			Message: "request body must be valid JSON",
		})
		return
	}
	if err := dto.Validate(req); err != nil {
		c.writeError(w, traceID, err)
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" {
		c.writeValidationError(w, "idempotency key is required", apperrors.ValidationDetail{
			Field:   IdempotencyKeyHeader,
			Message: "header is required",
		})
		return
	}

	inv, err := c.service.AddStock(r.Context(), req.ProductID, key, req.Quantity)
	if err != nil {
		c.writeError(w, traceID, err)
		return
	}
	c.writeJSON(w, http.StatusOK, dto.NewInventoryResponse(inv))
}

func (c *Controller) HandleGet(w http.ResponseWriter, r *http.Request) {
	inv, err := c.service.Get(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		c.writeError(w, uuid.NewString(), err)
		return
	}
	c.writeJSON(w, http.StatusOK, dto.NewInventoryResponse(inv))
}

func (c *Controller) HandleExists(w http.ResponseWriter, r *http.Request) {
	exists, err := c.service.Exists(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		c.logger.Error("inventory exists check failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (c *Controller) HandleReduceStock(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.NewString()

	quantity, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil || quantity < 1 {
		c.writeValidationError(w, "invalid quantity", apperrors.ValidationDetail{
			Field:   "quantity",
			Message: "quantity must be a positive integer",
		})
		return
	}

	inv, err := c.service.ReduceStock(r.Context(), chi.URLParam(r, "productId"), quantity)
	if err != nil {
		c.writeError(w, traceID, err)
		return
	}
	c.writeJSON(w, http.StatusOK, dto.NewInventoryResponse(inv))
}

func (c *Controller) HandleSetQuantity(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.NewString()

	var req SetQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeValidationError(w, "invalid JSON body", apperrors.ValidationDetail{
			Field:   "body",
			Message: "request body must be valid JSON",
		})
		return
	}
	if err := dto.Validate(req); err != nil {
		c.writeError(w, traceID, err)
		return
	}

	inv, err := c.service.SetQuantity(r.Context(), chi.URLParam(r, "productId"), req.Quantity)
	if err != nil {
		c.writeError(w, traceID, err)
		return
	}
	c.writeJSON(w, http.StatusOK, dto.NewInventoryResponse(inv))
}

func (c *Controller) HandleSoftDelete(w http.ResponseWriter, r *http.Request) {
	if err := c.service.SoftDelete(r.Context(), chi.URLParam(r, "productId")); err != nil {
		c.writeError(w, uuid.NewString(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) HandleRestore(w http.ResponseWriter, r *http.Request) {
	inv, err := c.service.Restore(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		c.writeError(w, uuid.NewString(), err)
		return
	}
	c.writeJSON(w, http.StatusOK, dto.NewInventoryResponse(inv))
}

func (c *Controller) writeError(w http.ResponseWriter, traceID string, err error) {
	if ve, ok := apperrors.IsValidationError(err); ok {
		c.writeValidationError(w, ve.Message, ve.Details...)
		return
	}

	resp := dto.NewErrorResponse(traceID, err, c.clock.Now().UTC())
	if resp.Status == http.StatusInternalServerError {
		c.logger.Error("unexpected error", zap.String("traceId", traceID), zap.Error(err))
	}
	c.writeJSON(w, resp.Status, resp)
}

func (c *Controller) writeValidationError(w http.ResponseWriter, message string, details ...apperrors.ValidationDetail) {
	c.writeJSON(w, http.StatusBadRequest, dto.ValidationErrorResponse{
		Error:   "VALIDATION_ERROR",
		Message: message,
		Details: details,
	})
}

func (c *Controller) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		c.logger.Error("failed to encode response", zap.Error(err))
	}
}
