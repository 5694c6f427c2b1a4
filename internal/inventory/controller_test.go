package inventory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stockkeeper/internal/domain"
	"stockkeeper/internal/dto"
	apperrors "stockkeeper/internal/errors"
)

type mockService struct {
	AddStockFunc    func(ctx context.Context, productID, idempotencyKey string, quantity int) (*domain.Inventory, error)
	ReduceStockFunc func(ctx context.Context, productID string, quantity int) (*domain.Inventory, error)
	SetQuantityFunc func(ctx context.Context, productID string, newTotal int) (*domain.Inventory, error)
	SoftDeleteFunc  func(ctx context.Context, productID string) error
	RestoreFunc     func(ctx context.Context, productID string) (*domain.Inventory, error)
	GetFunc         func(ctx context.Context, productID string) (*domain.Inventory, error)
	ExistsFunc      func(ctx context.Context, productID string) (bool, error)
}

func (m *mockService) AddStock(ctx context.Context, productID, idempotencyKey string, quantity int) (*domain.Inventory, error) {
	return m.AddStockFunc(ctx, productID, idempotencyKey, quantity)
}

func (m *mockService) ReduceStock(ctx context.Context, productID string, quantity int) (*domain.Inventory, error) {
	return m.ReduceStockFunc(ctx, productID, quantity)
}

func (m *mockService) SetQuantity(ctx context.Context, productID string, newTotal int) (*domain.Inventory, error) {
	return m.SetQuantityFunc(ctx, productID, newTotal)
}

func (m *mockService) SoftDelete(ctx context.Context, productID string) error {
	return m.SoftDeleteFunc(ctx, productID)
}

func (m *mockService) Restore(ctx context.Context, productID string) (*domain.Inventory, error) {
	return m.RestoreFunc(ctx, productID)
}

func (m *mockService) Get(ctx context.Context, productID string) (*domain.Inventory, error) {
	return m.GetFunc(ctx, productID)
}

func (m *mockService) Exists(ctx context.Context, productID string) (bool, error) {
	return m.ExistsFunc(ctx, productID)
}

func newRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	NewController(svc, clockwork.NewFakeClockAt(start), zap.NewNop()).Routes(r)
	return r
}

func serve(h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestController_AddStock(t *testing.T) {
	var gotKey string
	svc := &mockService{
		AddStockFunc: func(_ context.Context, productID, key string, quantity int) (*domain.Inventory, error) {
			gotKey = key
			return &domain.Inventory{ProductID: productID, TotalQuantity: quantity, ReservedQuantity: 2}, nil
		},
	}

	rec := serve(newRouter(svc), http.MethodPost, "/inventories", `{"productId":"p-1","quantity":10}`,
		map[string]string{IdempotencyKeyHeader: "k-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "k-1", gotKey)

	var resp dto.InventoryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "p-1", resp.ProductID)
	assert.Equal(t, 10, resp.TotalQuantity)
	assert.Equal(t, 8, resp.AvailableQuantity)
}

func TestController_AddStock_ValidationErrors(t *testing.T) {
	svc := &mockService{}
	h := newRouter(svc)

	tests := []struct {
		name    string
		body    string
		headers map[string]string
	}{
		{"invalid json", `{`, map[string]string{IdempotencyKeyHeader: "k"}},
		{"missing product", `{"quantity":1}`, map[string]string{IdempotencyKeyHeader: "k"}},
		{"zero quantity", `{"productId":"p-1","quantity":0}`, map[string]string{IdempotencyKeyHeader: "k"}},
		{"missing key", `{"productId":"p-1","quantity":1}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, http.MethodPost, "/inventories", tt.body, tt.headers)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp dto.ValidationErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, "VALIDATION_ERROR", resp.Error)
		})
	}
}

func TestController_ReduceStock_Insufficient(t *testing.T) {
	svc := &mockService{
		ReduceStockFunc: func(_ context.Context, productID string, quantity int) (*domain.Inventory, error) {
			return nil, apperrors.NewInsufficientStockError(productID, quantity, 1)
		},
	}

	rec := serve(newRouter(svc), http.MethodPatch, "/inventories/p-1/reduce?quantity=5", "", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp dto.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "INSUFFICIENT_STOCK", resp.Code)
	require.NotNil(t, resp.Details)
	assert.Equal(t, 5, resp.Details.Requested)

	rec = serve(newRouter(svc), http.MethodPatch, "/inventories/p-1/reduce?quantity=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestController_SetQuantity(t *testing.T) {
	svc := &mockService{
		SetQuantityFunc: func(_ context.Context, productID string, total int) (*domain.Inventory, error) {
			return &domain.Inventory{ProductID: productID, TotalQuantity: total}, nil
		},
	}

	rec := serve(newRouter(svc), http.MethodPut, "/inventories/p-1", `{"quantity":7}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.InventoryResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 7, resp.TotalQuantity)
}

func TestController_GetNotFound(t *testing.T) {
	svc := &mockService{
		GetFunc: func(_ context.Context, productID string) (*domain.Inventory, error) {
			return nil, apperrors.NewInventoryNotFoundError(productID)
		},
	}

	rec := serve(newRouter(svc), http.MethodGet, "/inventories/p-9", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp dto.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "NOT_FOUND", resp.Code)
	assert.NotEmpty(t, resp.TraceID)
}

func TestController_Exists(t *testing.T) {
	svc := &mockService{
		ExistsFunc: func(_ context.Context, productID string) (bool, error) {
			return productID == "p-1", nil
		},
	}
	h := newRouter(svc)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodHead, "/inventories/p-1", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodHead, "/inventories/p-2", "", nil).Code)
}

func TestController_DeleteAndRestore(t *testing.T) {
	var deleted string
	svc := &mockService{
		SoftDeleteFunc: func(_ context.Context, productID string) error {
			deleted = productID
			return nil
		},
		RestoreFunc: func(_ context.Context, productID string) (*domain.Inventory, error) {
			return &domain.Inventory{ProductID: productID}, nil
		},
	}
	h := newRouter(svc)

	rec := serve(h, http.MethodDelete, "/inventories/p-1", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "p-1", deleted)

	rec = serve(h, http.MethodPost, "/inventories/p-1/restore", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
