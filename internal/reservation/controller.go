package reservation

import (
	"encoding/json"
	"net/http"

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

// Routes mounts the reservation endpoints on r. The static reservations
// segment wins over the inventory {productId} routes.
func (c *Controller) Routes(r chi.Router) {
	r.Post("/inventories/reservations", c.HandleReserve)
	r.Post("/inventories/reservations/confirm", c.HandleConfirm)
	r.Post("/inventories/reservations/complete", c.HandleComplete)
	r.Post("/inventories/reservations/release", c.HandleRelease)
	r.Post("/inventories/reservations/{reservationId}/fail", c.HandleFail)
	r.Get("/inventories/reservations/{reservationId}", c.HandleGet)
	r.Get("/orders/{orderId}/reservations", c.HandleListByOrder)
}

func (c *Controller) HandleReserve(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.NewString()
	logger := c.logger.With(zap.String("traceId", traceID))

	key, ok := c.requireKey(w, r)
	if !ok {
		return
	}

	var req ReserveRequest
	if !c.decode(w, r, traceID, &req) {
		return
	}

	items := make([]Item, len(req.Items))
	for i, item := range req.Items {
		items[i] = Item{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	ids, err := c.service.Reserve(r.Context(), key, req.OrderID, items)
	if err != nil {
		logger.Warn("reserve rejected", zap.String("orderId", req.OrderID), zap.Error(err))
		c.writeError(w, traceID, err)
		return
	}
	c.writeJSON(w, http.StatusCreated, ReserveResponse{ReservationIDs: ids})
}

func (c *Controller) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.NewString()

	key, ok := c.requireKey(w, r)
	if !ok {
		return
	}

	var req ConfirmRequest
	if !c.decode(w, r, traceID, &req) {
		return
	}

	out, err := c.service.Confirm(r.Context(), key, req.OrderID, req.ReservationIDs)
	if err != nil {
		c.writeError(w, traceID, err)
		return
	}
	c.writeJSON(w, http.StatusOK, dto.NewReservationResponses(out))
}

func (c *Controller) HandleComplete(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.NewString()

	var req IDsRequest
	if !c.decode(w, r, traceID, &req) {
		return
	}

	out, err := c.service.Complete(r.Context(), req.ReservationIDs)
	if err != nil {
		c.writeError(w, traceID, err)
		return
	}
	c.writeJSON(w, http.StatusOK, dto.NewReservationResponses(out))
}

func (c *Controller) HandleRelease(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.NewString()

	key, ok := c.requireKey(w, r)
	if !ok {
		return
	}

	var req IDsRequest
	if !c.decode(w, r, traceID, &req) {
		return
	}

	out, err := c.service.Release(r.Context(), key, req.ReservationIDs)
	if err != nil {
		c.writeError(w, traceID, err)
		return
	}
	c.writeJSON(w, http.StatusOK, dto.NewReservationResponses(out))
}

func (c *Controller) HandleFail(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.NewString()

	var req FailRequest
	if !c.decode(w, r, traceID, &req) {
		return
	}

	res, err := c.service.Fail(r.Context(), chi.URLParam(r, "reservationId"), req.Reason)
	if err != nil {
		c.writeError(w, traceID, err)
		return
	}
	c.writeJSON(w, http.StatusOK, dto.NewReservationResponse(res))
}

func (c *Controller) HandleGet(w http.ResponseWriter, r *http.Request) {
	res, err := c.service.Get(r.Context(), chi.URLParam(r, "reservationId"))
	if err != nil {
		c.writeError(w, uuid.NewString(), err)
		return
	}
	c.writeJSON(w, http.StatusOK, dto.NewReservationResponse(res))
}

func (c *Controller) HandleListByOrder(w http.ResponseWriter, r *http.Request) {
	out, err := c.service.ListByOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		c.writeError(w, uuid.NewString(), err)
		return
	}
	c.writeJSON(w, http.StatusOK, dto.NewReservationResponses(out))
}

func (c *Controller) requireKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" {
		c.writeValidationError(w, "idempotency key is required", apperrors.ValidationDetail{
			Field:   IdempotencyKeyHeader,
			Message: "header is required",
		})
		return "", false
	}
	return key, true
}

// decode reads and validates a JSON body, writing the 400 itself on failure.
func (c *Controller) decode(w http.ResponseWriter, r *http.Request, traceID string, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		c.writeValidationError(w, "invalid JSON body", apperrors.ValidationDetail{
			Field:   "body",
			Message: "request body must be valid JSON",
		})
		return false
	}
	if err := dto.Validate(req); err != nil {
		c.writeError(w, traceID, err)
		return false
	}
	return true
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
