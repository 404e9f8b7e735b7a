package actor

import (
	"context"
	"math/rand/v2"
	"net/http"

	"github.com/brianvoe/gofakeit/v7"
)

// NonexistentOrderID is a syntactically valid order identifier that no
// run will ever produce; the service must answer it with "not found".
const NonexistentOrderID = "00000000-0000-4000-8000-000000000000"

// malformedOrderID returns an identifier the service must reject as
// invalid input. Letters only, so it can never parse as a UUID.
func malformedOrderID() string {
	return gofakeit.LetterN(12)
}

// OrderProbe reads a random order's detail view and asserts it carries
// every required field, then probes the two negative-space error
// contracts: unknown identifiers yield "not found", malformed identifiers
// yield "invalid input".
func (b *Behaviors) OrderProbe(ctx context.Context, a *Actor) {
	ids := b.catalog.IDs()
	productID := ids[rand.IntN(len(ids))]

	orders, resp, err := b.api.ListOrders(ctx, productID)
	if err != nil {
		return
	}
	b.observe(a, resp)

	if resp.StatusCode == http.StatusOK && len(orders) > 0 {
		target := orders[rand.IntN(len(orders))].OrderID
		b.probeDetail(ctx, a, target)
	}

	// Error contracts hold regardless of accumulated state, so every
	// activation re-probes them.
	b.probeStatus(ctx, a, NonexistentOrderID, http.StatusNotFound, "unknown order id")
	b.probeStatus(ctx, a, malformedOrderID(), http.StatusUnprocessableEntity, "malformed order id")
}

func (b *Behaviors) probeDetail(ctx context.Context, a *Actor, orderID string) {
	detail, resp, err := b.api.GetOrder(ctx, orderID)
	if err != nil {
		return
	}
	b.observe(a, resp)

	if resp.StatusCode != http.StatusOK || detail == nil {
		b.logger.Warn("order detail probe failed",
			"order_id", orderID, "status", resp.StatusCode)
		return
	}
	if missing := detail.MissingFields(); len(missing) > 0 {
		b.logger.Warn("order detail missing required fields",
			"order_id", orderID, "missing", missing)
		return
	}
	if detail.ID == nil || *detail.ID != orderID {
		b.logger.Warn("order detail id does not match requested id",
			"order_id", orderID)
		return
	}
	b.metrics.AddGetOrderSuccess()
}

func (b *Behaviors) probeStatus(ctx context.Context, a *Actor, orderID string, want int, what string) {
	_, resp, err := b.api.GetOrder(ctx, orderID)
	if err != nil {
		return
	}
	b.observe(a, resp)
	if resp.StatusCode != want {
		b.logger.Warn("error-contract probe returned unexpected status",
			"probe", what, "order_id", orderID,
			"want", want, "got", resp.StatusCode)
	}
}
