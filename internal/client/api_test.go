package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/flashsale/tools/loadgen/internal/config"
)

func newOrderClient(t *testing.T, handler http.Handler) (*OrderClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(config.TargetConfig{BaseURL: srv.URL, Timeout: 2 * time.Second}, NoRetry())
	require.NoError(t, err)
	return NewOrderClient(c, slog.New(slog.DiscardHandler)), srv
}

func TestGetProduct(t *testing.T) {
	oc, _ := newOrderClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/4", r.URL.Path)
		w.Write([]byte(`{"id":4,"stock":7}`))
	}))

	state, resp, err := oc.GetProduct(context.Background(), 4)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, int64(4), state.ID)
	assert.Equal(t, int64(7), state.Stock)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetProductLegacyStockField(t *testing.T) {
	oc, _ := newOrderClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":2,"current_stock":12}`))
	}))

	state, _, err := oc.GetProduct(context.Background(), 2)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, int64(12), state.Stock)
}

func TestGetProductNotFound(t *testing.T) {
	oc, _ := newOrderClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	state, resp, err := oc.GetProduct(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, state)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetProductNoStockField(t *testing.T) {
	oc, _ := newOrderClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":1}`))
	}))

	state, _, err := oc.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestListOrders(t *testing.T) {
	oc, _ := newOrderClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("product_id"))
		json.NewEncoder(w).Encode(map[string]any{
			"orders": []map[string]any{
				{"order_id": "a", "status": StatusConfirmed, "quantity": 2},
				{"order_id": "b", "status": StatusCancelled, "quantity": 1},
			},
		})
	}))

	orders, _, err := oc.ListOrders(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "a", orders[0].OrderID)
	assert.Equal(t, StatusCancelled, orders[1].Status)
}

func TestGetOrderMissingFields(t *testing.T) {
	oc, _ := newOrderClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","status":"CONFIRMED","quantity":1}`))
	}))

	detail, _, err := oc.GetOrder(context.Background(), "x")
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, []string{
		"idempotency_key", "product_id", "customer_id",
		"unit_price", "total_price", "created_at",
	}, detail.MissingFields())
}

func TestGetOrderComplete(t *testing.T) {
	oc, _ := newOrderClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "ord-1", "idempotency_key": "key-1", "product_id": 4,
			"customer_id": "customer_vu1", "quantity": 2, "unit_price": 9.5,
			"total_price": 19.0, "status": "CONFIRMED",
			"created_at": "2026-01-01T00:00:00Z"
		}`))
	}))

	detail, _, err := oc.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Empty(t, detail.MissingFields())
	assert.Equal(t, "ord-1", *detail.ID)
	assert.Equal(t, int64(4), *detail.ProductID)
}

func TestPlaceOrder(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail bool
	}{
		{"created", http.StatusCreated, `{"id":"new-1","status":"CONFIRMED"}`, true},
		{"idempotent replay", http.StatusOK, `{"id":"new-1","status":"CONFIRMED"}`, true},
		{"stock exhausted", http.StatusConflict, `{"error":"out of stock"}`, false},
		{"validation error", http.StatusUnprocessableEntity, `{"error":"bad qty"}`, false},
		{"created with broken body", http.StatusCreated, `{{{`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oc, _ := newOrderClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req PurchaseRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "key-1", req.IdempotencyKey)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))

			detail, resp, err := oc.PlaceOrder(context.Background(), PurchaseRequest{
				ProductID: 1, IdempotencyKey: "key-1", CustomerID: "c", Quantity: 1,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.wantDetail {
				require.NotNil(t, detail)
				assert.Equal(t, "new-1", *detail.ID)
			} else {
				assert.Nil(t, detail)
			}
		})
	}
}

func TestCancelOrder(t *testing.T) {
	oc, _ := newOrderClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders/ord-9/cancel", r.URL.Path)
		w.WriteHeader(http.StatusConflict)
	}))

	resp, err := oc.CancelOrder(context.Background(), "ord-9")
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
