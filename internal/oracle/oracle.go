// Package oracle implements the post-run consistency validation of the
// order service. It runs once, after every load phase has drained, and
// reconstructs the service's invariants purely from externally observable
// responses: stock conservation, identifier and idempotency-key
// uniqueness, detail/list agreement, cancel idempotency, and the
// negative-space error contracts.
//
// The oracle accumulates findings and never aborts on a failed check, so
// one run yields the maximum diagnostic coverage. Checks that require a
// complete order view are downgraded to warnings when the service's
// listing cap truncates it; partial visibility must not produce false
// failures.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/example/flashsale/tools/loadgen/internal/client"
	"github.com/example/flashsale/tools/loadgen/internal/metrics"
	"github.com/example/flashsale/tools/loadgen/internal/sale"
)

// NonexistentOrderID is a syntactically valid identifier no run produces;
// the service must answer it with "not found", never "invalid input".
const NonexistentOrderID = "00000000-0000-4000-8000-000000000000"

// Status classifies one finding.
type Status string

// Finding statuses.
const (
	Pass Status = "PASS"
	Fail Status = "FAIL"
	Warn Status = "WARN"
)

// Finding is one named check result with a human-readable explanation.
type Finding struct {
	Name   string
	Status Status
	Detail string
}

// Report is the oracle's aggregate output.
type Report struct {
	Findings []Finding
}

// Passed reports the aggregate verdict: the logical AND of every finding.
// Warnings (coverage gaps under the listing cap) do not fail the run.
func (r *Report) Passed() bool {
	for _, f := range r.Findings {
		if f.Status == Fail {
			return false
		}
	}
	return true
}

// Failures returns only the failed findings.
func (r *Report) Failures() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Status == Fail {
			out = append(out, f)
		}
	}
	return out
}

// Config holds the oracle's inputs.
type Config struct {
	// Products is the catalog with pre-run initial stock, the ground
	// truth for conservation checks.
	Products []sale.Product

	// ListingCap is the maximum order count the list endpoint returns.
	// At or above it, a product's order view is untrusted.
	ListingCap int

	// CancelProbeSamples bounds how many cancelled orders per product are
	// re-cancelled to probe cancel idempotency.
	CancelProbeSamples int
}

// Oracle performs the validation pass. It is single-threaded: its checks
// depend on a stable, fully drained view, and the causally ordered reads
// of the cancel-safety probe must not interleave.
type Oracle struct {
	api     client.OrderAPI
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Registry
}

// New creates an oracle.
func New(api client.OrderAPI, cfg Config, reg *metrics.Registry, logger *slog.Logger) *Oracle {
	if cfg.ListingCap <= 0 {
		cfg.ListingCap = 50
	}
	if cfg.CancelProbeSamples <= 0 {
		cfg.CancelProbeSamples = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Oracle{api: api, cfg: cfg, logger: logger, metrics: reg}
}

// owned tracks which product's listing an identifier was first seen in,
// for the cross-product uniqueness checks.
type owned struct {
	value     string
	productID int64
}

// Run executes the full validation pass and returns the report. The
// returned error is non-nil only when the context is cancelled; check
// failures live in the report.
func (o *Oracle) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	var allOrderIDs, allKeys []owned
	for _, product := range o.cfg.Products {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ids, keys, err := o.checkProduct(ctx, product, report)
		if err != nil {
			return report, err
		}
		allOrderIDs = append(allOrderIDs, ids...)
		allKeys = append(allKeys, keys...)
	}

	o.checkCrossProduct(report, "cross_product_order_id_uniqueness", "order_id", allOrderIDs)
	o.checkCrossProduct(report, "cross_product_idempotency_key_uniqueness", "idempotency_key", allKeys)

	if err := o.checkErrorContracts(ctx, report); err != nil {
		return report, err
	}

	if o.metrics != nil {
		o.metrics.SetValidationPassed(report.Passed())
	}
	return report, nil
}

// add records a finding and logs it at a level matching its status.
func (o *Oracle) add(report *Report, name string, status Status, format string, args ...any) {
	f := Finding{Name: name, Status: status, Detail: fmt.Sprintf(format, args...)}
	report.Findings = append(report.Findings, f)

	switch status {
	case Fail:
		o.logger.Error("check failed", "check", f.Name, "detail", f.Detail)
	case Warn:
		o.logger.Warn("check downgraded", "check", f.Name, "detail", f.Detail)
	default:
		o.logger.Info("check passed", "check", f.Name, "detail", f.Detail)
	}
}

// check records a boolean finding.
func (o *Oracle) check(report *Report, name string, ok bool, format string, args ...any) {
	status := Pass
	if !ok {
		status = Fail
	}
	o.add(report, name, status, format, args...)
}

func (o *Oracle) checkProduct(ctx context.Context, product sale.Product, report *Report) (orderIDs, keys []owned, err error) {
	pname := func(check string) string {
		return fmt.Sprintf("product_%d_%s", product.ID, check)
	}

	state, resp, err := o.api.GetProduct(ctx, product.ID)
	if err != nil {
		return nil, nil, err
	}
	if state == nil {
		o.add(report, pname("fetch"), Fail,
			"could not fetch product state (status=%d)", resp.StatusCode)
		return nil, nil, nil
	}
	stock := state.Stock

	orders, listResp, err := o.api.ListOrders(ctx, product.ID)
	if err != nil {
		return nil, nil, err
	}
	if listResp.StatusCode != http.StatusOK {
		o.add(report, pname("list_orders"), Fail,
			"could not fetch order history (status=%d)", listResp.StatusCode)
		return nil, nil, nil
	}

	var (
		confirmedQty, cancelledQty     int64
		confirmedCount, cancelledCount int
		cancelledIDs                   []string
		ids                            []string
	)
	for _, ord := range orders {
		ids = append(ids, ord.OrderID)
		switch ord.Status {
		case client.StatusConfirmed:
			confirmedQty += ord.Quantity
			confirmedCount++
		case client.StatusCancelled:
			cancelledQty += ord.Quantity
			cancelledCount++
			cancelledIDs = append(cancelledIDs, ord.OrderID)
		}
	}

	o.logger.Info("validating product",
		"product_id", product.ID,
		"name", product.Name,
		"orders", len(orders),
		"confirmed", confirmedCount, "confirmed_qty", confirmedQty,
		"cancelled", cancelledCount, "cancelled_qty", cancelledQty,
		"initial_stock", product.InitialStock,
		"stock", stock)

	// A listing at the cap is incomplete; the conservation equation and
	// its cross-check cannot be trusted, so only non-negativity applies.
	capped := len(orders) >= o.cfg.ListingCap
	if capped {
		o.add(report, pname("stock_conservation"), Warn,
			"%d orders returned (listing cap %d); skipping equation check",
			len(orders), o.cfg.ListingCap)
	} else {
		expected := product.InitialStock - confirmedQty + cancelledQty
		o.check(report, pname("stock_conservation"), stock == expected,
			"expected=%d actual=%d (initial=%d confirmed_qty=%d cancelled_qty=%d)",
			expected, stock, product.InitialStock, confirmedQty, cancelledQty)

		stockDelta := product.InitialStock - stock
		orderImpact := confirmedQty - cancelledQty
		o.check(report, pname("order_consistency"), stockDelta == orderImpact,
			"stock_delta=%d order_impact=%d", stockDelta, orderImpact)
	}

	o.check(report, pname("non_negative_stock"), stock >= 0, "stock=%d", stock)

	unique := uniqueCount(ids)
	o.check(report, pname("order_id_uniqueness"), unique == len(ids),
		"total=%d unique=%d", len(ids), unique)

	productKeys, fieldFailures, err := o.checkOrderDetails(ctx, product.ID, orders, report)
	if err != nil {
		return nil, nil, err
	}
	o.check(report, pname("order_fields"), fieldFailures == 0,
		"%d field/agreement failure(s) across %d order(s)", fieldFailures, len(orders))

	uniqueKeys := uniqueCount(productKeys)
	o.check(report, pname("idempotency_key_uniqueness"), uniqueKeys == len(productKeys),
		"total=%d unique=%d", len(productKeys), uniqueKeys)

	if err := o.checkCancelSafety(ctx, product.ID, cancelledIDs, report); err != nil {
		return nil, nil, err
	}

	for _, id := range ids {
		orderIDs = append(orderIDs, owned{value: id, productID: product.ID})
	}
	for _, k := range productKeys {
		keys = append(keys, owned{value: k, productID: product.ID})
	}
	return orderIDs, keys, nil
}

// checkOrderDetails fetches every listed order's detail view, asserting
// field completeness and agreement with the list view. It returns the
// idempotency keys observed and the failure count.
func (o *Oracle) checkOrderDetails(ctx context.Context, productID int64, orders []client.OrderSummary, report *Report) (keys []string, failures int, err error) {
	for _, ord := range orders {
		detail, resp, err := o.api.GetOrder(ctx, ord.OrderID)
		if err != nil {
			return keys, failures, err
		}
		if detail == nil {
			o.logger.Error("order detail fetch failed",
				"order_id", ord.OrderID, "status", resp.StatusCode)
			failures++
			continue
		}

		if missing := detail.MissingFields(); len(missing) > 0 {
			o.logger.Error("order detail missing required fields",
				"order_id", ord.OrderID, "missing", strings.Join(missing, ","))
			failures++
		}
		if detail.Quantity != nil && *detail.Quantity != ord.Quantity {
			o.logger.Error("quantity disagrees between list and detail views",
				"order_id", ord.OrderID, "list", ord.Quantity, "detail", *detail.Quantity)
			failures++
		}
		if detail.ProductID != nil && *detail.ProductID != productID {
			o.logger.Error("detail view reports a different product",
				"order_id", ord.OrderID, "want", productID, "got", *detail.ProductID)
			failures++
		}
		if detail.IdempotencyKey != nil {
			keys = append(keys, *detail.IdempotencyKey)
		}
	}
	return keys, failures, nil
}

// checkCancelSafety re-cancels up to CancelProbeSamples already-cancelled
// orders and asserts each attempt is rejected with a conflict and leaves
// stock bit-for-bit unchanged. The stock-before / cancel / stock-after
// reads are strictly ordered.
func (o *Oracle) checkCancelSafety(ctx context.Context, productID int64, cancelledIDs []string, report *Report) error {
	samples := cancelledIDs
	if len(samples) > o.cfg.CancelProbeSamples {
		samples = samples[:o.cfg.CancelProbeSamples]
	}
	if len(samples) == 0 {
		return nil
	}

	ok := true
	for _, orderID := range samples {
		before, _, err := o.api.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		resp, err := o.api.CancelOrder(ctx, orderID)
		if err != nil {
			return err
		}
		after, _, err := o.api.GetProduct(ctx, productID)
		if err != nil {
			return err
		}

		if resp.StatusCode != http.StatusConflict {
			o.logger.Error("re-cancel was not rejected with a conflict",
				"order_id", orderID, "status", resp.StatusCode)
			ok = false
		}
		if before == nil || after == nil {
			o.logger.Error("could not read stock around re-cancel", "order_id", orderID)
			ok = false
		} else if before.Stock != after.Stock {
			o.logger.Error("stock changed across re-cancel attempt",
				"order_id", orderID, "before", before.Stock, "after", after.Stock)
			ok = false
		}
	}

	o.check(report, fmt.Sprintf("product_%d_cancel_safety", productID), ok,
		"%d re-cancel attempt(s)", len(samples))
	return nil
}

// checkCrossProduct asserts no value appears under two different products.
func (o *Oracle) checkCrossProduct(report *Report, name, what string, values []owned) {
	seen := make(map[string]int64, len(values))
	var dups []string
	for _, v := range values {
		if firstProduct, dup := seen[v.value]; dup {
			dups = append(dups, fmt.Sprintf("%s=%s in products %d and %d",
				what, v.value, firstProduct, v.productID))
			continue
		}
		seen[v.value] = v.productID
	}

	if len(dups) > 0 {
		o.add(report, name, Fail, "%d duplicate(s): %s", len(dups), strings.Join(dups, "; "))
		return
	}
	o.add(report, name, Pass, "%d %s value(s) globally unique", len(values), what)
}

// checkErrorContracts probes the two negative-space contracts: a
// well-formed unknown identifier yields "not found", and a malformed
// identifier yields "invalid input". The two signals must stay distinct.
func (o *Oracle) checkErrorContracts(ctx context.Context, report *Report) error {
	_, resp, err := o.api.GetOrder(ctx, NonexistentOrderID)
	if err != nil {
		return err
	}
	o.check(report, "unknown_order_not_found", resp.StatusCode == http.StatusNotFound,
		"status=%d for unknown id %s", resp.StatusCode, NonexistentOrderID)

	// Letters only, so the probe can never accidentally be a valid UUID.
	malformed := gofakeit.LetterN(12)
	_, resp, err = o.api.GetOrder(ctx, malformed)
	if err != nil {
		return err
	}
	o.check(report, "malformed_order_invalid_input", resp.StatusCode == http.StatusUnprocessableEntity,
		"status=%d for malformed id %q", resp.StatusCode, malformed)

	return nil
}

func uniqueCount(values []string) int {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		seen[v] = true
	}
	return len(seen)
}
