package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/flashsale/tools/loadgen/internal/client"
	"github.com/example/flashsale/tools/loadgen/internal/sale"
)

// fakeService is a scriptable in-memory order service. It tracks stock
// mutation across cancel attempts so the cancel-safety probe can observe
// misbehavior.
type fakeService struct {
	stock        map[int64]int64
	orders       map[int64][]client.OrderSummary
	details      map[string]*client.OrderDetail
	cancelStatus map[string]int // status code per re-cancelled order
	cancelDelta  map[string]int64

	notFoundStatus  int // status for unknown but well-formed ids
	malformedStatus int // status for malformed ids

	cancelCalls []string
}

func newFakeService() *fakeService {
	return &fakeService{
		stock:           make(map[int64]int64),
		orders:          make(map[int64][]client.OrderSummary),
		details:         make(map[string]*client.OrderDetail),
		cancelStatus:    make(map[string]int),
		cancelDelta:     make(map[string]int64),
		notFoundStatus:  http.StatusNotFound,
		malformedStatus: http.StatusUnprocessableEntity,
	}
}

func (f *fakeService) GetProduct(_ context.Context, id int64) (*client.ProductState, *client.Response, error) {
	s, ok := f.stock[id]
	if !ok {
		return nil, &client.Response{StatusCode: http.StatusNotFound}, nil
	}
	return &client.ProductState{ID: id, Stock: s}, &client.Response{StatusCode: http.StatusOK}, nil
}

func (f *fakeService) ListOrders(_ context.Context, productID int64) ([]client.OrderSummary, *client.Response, error) {
	return f.orders[productID], &client.Response{StatusCode: http.StatusOK}, nil
}

func (f *fakeService) GetOrder(_ context.Context, orderID string) (*client.OrderDetail, *client.Response, error) {
	if d, ok := f.details[orderID]; ok {
		return d, &client.Response{StatusCode: http.StatusOK}, nil
	}
	if orderID == NonexistentOrderID {
		return nil, &client.Response{StatusCode: f.notFoundStatus}, nil
	}
	return nil, &client.Response{StatusCode: f.malformedStatus}, nil
}

func (f *fakeService) PlaceOrder(_ context.Context, _ client.PurchaseRequest) (*client.OrderDetail, *client.Response, error) {
	return nil, &client.Response{StatusCode: http.StatusMethodNotAllowed}, nil
}

func (f *fakeService) CancelOrder(_ context.Context, orderID string) (*client.Response, error) {
	f.cancelCalls = append(f.cancelCalls, orderID)
	if d, ok := f.details[orderID]; ok && f.cancelDelta[orderID] != 0 {
		f.stock[*d.ProductID] += f.cancelDelta[orderID]
	}
	status, ok := f.cancelStatus[orderID]
	if !ok {
		status = http.StatusConflict
	}
	return &client.Response{StatusCode: status}, nil
}

func str(s string) *string   { return &s }
func i64(v int64) *int64     { return &v }
func f64(v float64) *float64 { return &v }

// addOrder registers a summary plus complete detail view in one step.
func (f *fakeService) addOrder(productID int64, orderID, key, status string, qty int64) {
	f.orders[productID] = append(f.orders[productID], client.OrderSummary{
		OrderID:  orderID,
		Status:   status,
		Quantity: qty,
	})
	f.details[orderID] = &client.OrderDetail{
		ID:             str(orderID),
		IdempotencyKey: str(key),
		ProductID:      i64(productID),
		CustomerID:     str("flash_vu1"),
		Quantity:       i64(qty),
		UnitPrice:      f64(99.9),
		TotalPrice:     f64(99.9 * float64(qty)),
		Status:         str(status),
		CreatedAt:      str("2026-09-01T12:00:00Z"),
	}
}

func newOracle(f *fakeService, products []sale.Product) *Oracle {
	cfg := Config{Products: products, ListingCap: 50, CancelProbeSamples: 3}
	return New(f, cfg, nil, slog.New(slog.DiscardHandler))
}

func findingByName(t *testing.T, r *Report, name string) Finding {
	t.Helper()
	for _, f := range r.Findings {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("finding %q not in report", name)
	return Finding{}
}

func TestConsistentRunPasses(t *testing.T) {
	f := newFakeService()
	f.stock[1] = 94
	f.addOrder(1, "ord-a", "key-a", client.StatusConfirmed, 3)
	f.addOrder(1, "ord-b", "key-b", client.StatusConfirmed, 3)
	f.addOrder(1, "ord-c", "key-c", client.StatusConfirmed, 2)
	f.addOrder(1, "ord-d", "key-d", client.StatusCancelled, 2)

	o := newOracle(f, []sale.Product{{ID: 1, Name: "widget", InitialStock: 100}})
	report, err := o.Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.Passed(), "failures: %v", report.Failures())

	assert.Equal(t, Pass, findingByName(t, report, "product_1_stock_conservation").Status)
	assert.Equal(t, Pass, findingByName(t, report, "product_1_order_consistency").Status)
	assert.Equal(t, Pass, findingByName(t, report, "product_1_cancel_safety").Status)
	assert.Equal(t, Pass, findingByName(t, report, "unknown_order_not_found").Status)
	assert.Equal(t, Pass, findingByName(t, report, "malformed_order_invalid_input").Status)
}

func TestStockConservationViolation(t *testing.T) {
	f := newFakeService()
	// 100 - 8 confirmed + 2 cancelled = 94 expected, service says 90.
	f.stock[1] = 90
	f.addOrder(1, "ord-a", "key-a", client.StatusConfirmed, 5)
	f.addOrder(1, "ord-b", "key-b", client.StatusConfirmed, 3)
	f.addOrder(1, "ord-c", "key-c", client.StatusCancelled, 2)

	o := newOracle(f, []sale.Product{{ID: 1, Name: "widget", InitialStock: 100}})
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Passed())
	fd := findingByName(t, report, "product_1_stock_conservation")
	assert.Equal(t, Fail, fd.Status)
	assert.Contains(t, fd.Detail, "expected=94")
	assert.Contains(t, fd.Detail, "actual=90")
	assert.Equal(t, Fail, findingByName(t, report, "product_1_order_consistency").Status)
}

func TestDuplicateIdempotencyKey(t *testing.T) {
	f := newFakeService()
	f.stock[1] = 98
	f.addOrder(1, "ord-a", "key-dup", client.StatusConfirmed, 1)
	f.addOrder(1, "ord-b", "key-dup", client.StatusConfirmed, 1)

	o := newOracle(f, []sale.Product{{ID: 1, Name: "widget", InitialStock: 100}})
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Passed())
	fd := findingByName(t, report, "product_1_idempotency_key_uniqueness")
	assert.Equal(t, Fail, fd.Status)
	assert.Contains(t, fd.Detail, "total=2")
	assert.Contains(t, fd.Detail, "unique=1")
}

func TestCrossProductDuplicateOrderID(t *testing.T) {
	f := newFakeService()
	f.stock[1] = 99
	f.stock[2] = 49
	f.addOrder(1, "ord-shared", "key-a", client.StatusConfirmed, 1)
	f.addOrder(2, "ord-shared2", "key-b", client.StatusConfirmed, 1)
	// Same id listed under a second product.
	f.orders[2] = append(f.orders[2], client.OrderSummary{
		OrderID: "ord-shared", Status: client.StatusConfirmed, Quantity: 1,
	})

	products := []sale.Product{
		{ID: 1, Name: "widget", InitialStock: 100},
		{ID: 2, Name: "gadget", InitialStock: 51},
	}
	o := newOracle(f, products)
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	fd := findingByName(t, report, "cross_product_order_id_uniqueness")
	assert.Equal(t, Fail, fd.Status)
	assert.Contains(t, fd.Detail, "ord-shared")
	assert.Contains(t, fd.Detail, "products 1 and 2")
}

func TestListingCapDowngradesToWarning(t *testing.T) {
	f := newFakeService()
	f.stock[1] = 7 // deliberately inconsistent with the visible orders
	for i := 0; i < 50; i++ {
		f.addOrder(1, fmt.Sprintf("ord-%03d", i), fmt.Sprintf("key-%03d", i), client.StatusConfirmed, 1)
	}

	o := newOracle(f, []sale.Product{{ID: 1, Name: "widget", InitialStock: 100}})
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	fd := findingByName(t, report, "product_1_stock_conservation")
	assert.Equal(t, Warn, fd.Status)
	assert.True(t, report.Passed(), "a capped listing must not fail the run")

	for _, got := range report.Findings {
		assert.NotEqual(t, "product_1_order_consistency", got.Name,
			"equation cross-check must be skipped under the cap")
	}
}

func TestNegativeStockAlwaysFails(t *testing.T) {
	f := newFakeService()
	f.stock[1] = -3
	for i := 0; i < 50; i++ {
		f.addOrder(1, fmt.Sprintf("ord-%03d", i), fmt.Sprintf("key-%03d", i), client.StatusConfirmed, 1)
	}

	o := newOracle(f, []sale.Product{{ID: 1, Name: "widget", InitialStock: 40}})
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Passed())
	assert.Equal(t, Fail, findingByName(t, report, "product_1_non_negative_stock").Status)
}

func TestCancelSafetyViolation(t *testing.T) {
	f := newFakeService()
	f.stock[1] = 97
	f.addOrder(1, "ord-a", "key-a", client.StatusCancelled, 2)
	// Re-cancel wrongly succeeds and restocks again.
	f.cancelStatus["ord-a"] = http.StatusOK
	f.cancelDelta["ord-a"] = 2

	o := newOracle(f, []sale.Product{{ID: 1, Name: "widget", InitialStock: 95}})
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Passed())
	assert.Equal(t, Fail, findingByName(t, report, "product_1_cancel_safety").Status)
	assert.Equal(t, []string{"ord-a"}, f.cancelCalls)
}

func TestCancelSafetySampleBound(t *testing.T) {
	f := newFakeService()
	f.stock[1] = 95
	for i := 0; i < 5; i++ {
		f.addOrder(1, fmt.Sprintf("ord-%d", i), fmt.Sprintf("key-%d", i), client.StatusCancelled, 1)
	}

	o := newOracle(f, []sale.Product{{ID: 1, Name: "widget", InitialStock: 90}})
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	require.True(t, report.Passed(), "failures: %v", report.Failures())
	assert.Len(t, f.cancelCalls, 3)
}

func TestErrorContractViolations(t *testing.T) {
	f := newFakeService()
	f.stock[1] = 10
	f.notFoundStatus = http.StatusUnprocessableEntity
	f.malformedStatus = http.StatusNotFound

	o := newOracle(f, []sale.Product{{ID: 1, Name: "widget", InitialStock: 10}})
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Fail, findingByName(t, report, "unknown_order_not_found").Status)
	assert.Equal(t, Fail, findingByName(t, report, "malformed_order_invalid_input").Status)
}

func TestIncompleteDetailFailsFieldCheck(t *testing.T) {
	f := newFakeService()
	f.stock[1] = 99
	f.addOrder(1, "ord-a", "key-a", client.StatusConfirmed, 1)
	f.details["ord-a"].UnitPrice = nil
	f.details["ord-a"].CreatedAt = nil

	o := newOracle(f, []sale.Product{{ID: 1, Name: "widget", InitialStock: 100}})
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Passed())
	assert.Equal(t, Fail, findingByName(t, report, "product_1_order_fields").Status)
}

func TestProductFetchFailure(t *testing.T) {
	f := newFakeService()
	// No stock entry for product 1: fetch returns 404.

	o := newOracle(f, []sale.Product{{ID: 1, Name: "widget", InitialStock: 100}})
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Passed())
	fd := findingByName(t, report, "product_1_fetch")
	assert.Equal(t, Fail, fd.Status)
	assert.Contains(t, fd.Detail, "status=404")
}
