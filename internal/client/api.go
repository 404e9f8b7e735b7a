package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

// Order statuses exposed by the service.
const (
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
)

// IsBusinessStatus reports whether an HTTP status is an expected business
// outcome of the order API. Everything else (notably 5xx) is an
// infrastructure failure.
func IsBusinessStatus(code int) bool {
	switch code {
	case http.StatusOK, http.StatusCreated, http.StatusNotFound,
		http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// PurchaseRequest is the order-creation payload. It is immutable once
// built; idempotent replays must reuse the identical value.
type PurchaseRequest struct {
	ProductID      int64  `json:"product_id"`
	IdempotencyKey string `json:"idempotency_key"`
	CustomerID     string `json:"customer_id"`
	Quantity       int64  `json:"quantity"`
}

// ProductState is the externally observable state of a product.
type ProductState struct {
	ID    int64
	Stock int64
}

// productPayload tolerates the field-naming drift observed between service
// versions: "stock" is authoritative, "current_stock" is the legacy alias.
type productPayload struct {
	ID           int64  `json:"id"`
	Stock        *int64 `json:"stock"`
	CurrentStock *int64 `json:"current_stock"`
}

// OrderSummary is one entry of the product order listing.
type OrderSummary struct {
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	Quantity int64  `json:"quantity"`
}

type orderListPayload struct {
	Orders []OrderSummary `json:"orders"`
}

// OrderDetail is the full order view. Fields are pointers so the oracle
// can distinguish a missing field from a zero value.
type OrderDetail struct {
	ID             *string  `json:"id"`
	IdempotencyKey *string  `json:"idempotency_key"`
	ProductID      *int64   `json:"product_id"`
	CustomerID     *string  `json:"customer_id"`
	Quantity       *int64   `json:"quantity"`
	UnitPrice      *float64 `json:"unit_price"`
	TotalPrice     *float64 `json:"total_price"`
	Status         *string  `json:"status"`
	CreatedAt      *string  `json:"created_at"`
}

// requiredOrderFields lists every field the detail view must carry.
var requiredOrderFields = []string{
	"id", "idempotency_key", "product_id", "customer_id",
	"quantity", "unit_price", "total_price", "status", "created_at",
}

// MissingFields returns the names of required fields absent from the
// detail view, in a fixed order.
func (d *OrderDetail) MissingFields() []string {
	present := map[string]bool{
		"id":              d.ID != nil,
		"idempotency_key": d.IdempotencyKey != nil,
		"product_id":      d.ProductID != nil,
		"customer_id":     d.CustomerID != nil,
		"quantity":        d.Quantity != nil,
		"unit_price":      d.UnitPrice != nil,
		"total_price":     d.TotalPrice != nil,
		"status":          d.Status != nil,
		"created_at":      d.CreatedAt != nil,
	}
	var missing []string
	for _, f := range requiredOrderFields {
		if !present[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

// OrderAPI is the typed surface of the order service consumed by actors
// and the oracle.
type OrderAPI interface {
	GetProduct(ctx context.Context, id int64) (*ProductState, *Response, error)
	ListOrders(ctx context.Context, productID int64) ([]OrderSummary, *Response, error)
	GetOrder(ctx context.Context, orderID string) (*OrderDetail, *Response, error)
	PlaceOrder(ctx context.Context, req PurchaseRequest) (*OrderDetail, *Response, error)
	CancelOrder(ctx context.Context, orderID string) (*Response, error)
}

// OrderClient implements OrderAPI against a live service.
type OrderClient struct {
	c      *Client
	logger *slog.Logger

	driftOnce sync.Once
}

var _ OrderAPI = (*OrderClient)(nil)

// NewOrderClient wraps a transport client with the typed API surface.
func NewOrderClient(c *Client, logger *slog.Logger) *OrderClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderClient{c: c, logger: logger}
}

// GetProduct reads a product's current state. The parsed state is nil when
// the call failed at the transport level, returned a non-200 status, or the
// body carried no recognizable stock field.
func (o *OrderClient) GetProduct(ctx context.Context, id int64) (*ProductState, *Response, error) {
	resp, err := o.c.Get(ctx, fmt.Sprintf("/products/%d", id), nil)
	if err != nil {
		return nil, resp, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp, nil
	}

	var payload productPayload
	if err := resp.Decode(&payload); err != nil {
		return nil, resp, nil
	}

	state := &ProductState{ID: payload.ID}
	switch {
	case payload.Stock != nil:
		state.Stock = *payload.Stock
	case payload.CurrentStock != nil:
		state.Stock = *payload.CurrentStock
		o.driftOnce.Do(func() {
			o.logger.Warn("service reports legacy current_stock field instead of stock; treating as equivalent",
				"product_id", id)
		})
	default:
		return nil, resp, nil
	}
	return state, resp, nil
}

// ListOrders returns the product's visible order history. The listing may
// be truncated by the service's listing cap; callers decide how much to
// trust it.
func (o *OrderClient) ListOrders(ctx context.Context, productID int64) ([]OrderSummary, *Response, error) {
	resp, err := o.c.Get(ctx, "/orders", map[string]string{
		"product_id": fmt.Sprintf("%d", productID),
	})
	if err != nil {
		return nil, resp, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp, nil
	}

	var payload orderListPayload
	if err := resp.Decode(&payload); err != nil {
		return nil, resp, nil
	}
	return payload.Orders, resp, nil
}

// GetOrder fetches an order's detail view. The detail is nil unless the
// service returned 200 with a parsable body.
func (o *OrderClient) GetOrder(ctx context.Context, orderID string) (*OrderDetail, *Response, error) {
	resp, err := o.c.Get(ctx, "/orders/"+orderID, nil)
	if err != nil {
		return nil, resp, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp, nil
	}

	var detail OrderDetail
	if err := resp.Decode(&detail); err != nil {
		return nil, resp, nil
	}
	return &detail, resp, nil
}

// PlaceOrder submits a purchase. The returned detail is parsed from the
// response body on 201 (newly created) and 200 (idempotent replay); it is
// nil on business rejections and parse failures.
func (o *OrderClient) PlaceOrder(ctx context.Context, req PurchaseRequest) (*OrderDetail, *Response, error) {
	resp, err := o.c.Post(ctx, "/orders", req)
	if err != nil {
		return nil, resp, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, resp, nil
	}

	var detail OrderDetail
	if err := resp.Decode(&detail); err != nil {
		return nil, resp, nil
	}
	return &detail, resp, nil
}

// CancelOrder requests cancellation of an order.
func (o *OrderClient) CancelOrder(ctx context.Context, orderID string) (*Response, error) {
	return o.c.Post(ctx, "/orders/"+orderID+"/cancel", nil)
}
