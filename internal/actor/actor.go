// Package actor implements the per-activation behaviors executed by the
// load phases: warmup probes, flash-sale purchases, idempotency replays,
// cancellation waves, and order detail probes.
//
// Behaviors share only immutable tables (catalog, sampler); all mutable
// state lives in the Actor owned exclusively by one worker goroutine, so
// no cross-actor synchronization exists. Correctness of the idempotency
// protocol is the service's burden, not coordinated here.
package actor

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"

	"github.com/example/flashsale/tools/loadgen/internal/client"
	"github.com/example/flashsale/tools/loadgen/internal/metrics"
	"github.com/example/flashsale/tools/loadgen/internal/sale"
)

// ErrUnknownBehavior is returned when a phase references a behavior name
// that does not exist.
var ErrUnknownBehavior = errors.New("actor: unknown behavior")

// State is the idempotency actor's lifecycle position.
type State int

const (
	// StateUnstarted means the actor has not yet successfully submitted
	// its original purchase.
	StateUnstarted State = iota
	// StateReplayExpectSuccess means the original was confirmed; every
	// replay must return the same order without creating a new one.
	StateReplayExpectSuccess
	// StateReplayExpectFailure means the original was rejected; every
	// replay must also be rejected.
	StateReplayExpectFailure
)

// Memory is the mutable idempotency-retry state owned by one actor. It is
// created fresh for each phase and discarded when the phase ends.
type Memory struct {
	State   State
	Request client.PurchaseRequest
	OrderID string
}

// Actor identifies one concurrent worker within a phase.
type Actor struct {
	// ID is stable for the worker's lifetime within its phase; customer
	// identifiers derive from it.
	ID int

	// Phase is the owning phase's name, used as the metric label.
	Phase string

	// Memory holds idempotency-retry state. Exclusively owned.
	Memory *Memory

	// seq counts activations, used by behaviors that rotate through the
	// catalog.
	seq int
}

// Func is one actor activation.
type Func func(ctx context.Context, a *Actor)

// Behaviors bundles the dependencies shared by all activation behaviors.
type Behaviors struct {
	api     client.OrderAPI
	catalog *sale.Catalog
	sampler *sale.Sampler
	builder *sale.RequestBuilder
	metrics *metrics.Registry
	logger  *slog.Logger
}

// New creates the behavior set.
func New(api client.OrderAPI, catalog *sale.Catalog, sampler *sale.Sampler, builder *sale.RequestBuilder, reg *metrics.Registry, logger *slog.Logger) *Behaviors {
	if logger == nil {
		logger = slog.Default()
	}
	return &Behaviors{
		api:     api,
		catalog: catalog,
		sampler: sampler,
		builder: builder,
		metrics: reg,
		logger:  logger,
	}
}

// ByName resolves a configured behavior name to its activation function.
func (b *Behaviors) ByName(name string) (Func, error) {
	switch name {
	case "warmup":
		return b.Warmup, nil
	case "flash_sale":
		return b.FlashSale, nil
	case "idempotency_retry":
		return b.IdempotencyRetry, nil
	case "cancel_wave":
		return b.CancelWave, nil
	case "order_probe":
		return b.OrderProbe, nil
	}
	return nil, ErrUnknownBehavior
}

// observe records a completed call under the actor's phase label. A nil
// response (context cancellation) is not counted.
func (b *Behaviors) observe(a *Actor, resp *client.Response) {
	if resp == nil {
		return
	}
	b.metrics.ObserveRequest(a.Phase, resp.StatusCode, resp.Err != nil, resp.Duration)
}

// Warmup probes one product per activation, rotating through the catalog,
// and verifies the product is reachable with a stock field present.
func (b *Behaviors) Warmup(ctx context.Context, a *Actor) {
	ids := b.catalog.IDs()
	id := ids[a.seq%len(ids)]
	a.seq++

	state, resp, err := b.api.GetProduct(ctx, id)
	if err != nil {
		return
	}
	b.observe(a, resp)

	if resp.StatusCode != http.StatusOK || state == nil {
		b.logger.Warn("warmup probe failed",
			"product_id", id, "status", resp.StatusCode)
	}
}

// FlashSale places one weighted-random purchase. Created orders are
// verified by an immediate read-back; stock-exhausted rejections are
// counted as expected business outcomes.
func (b *Behaviors) FlashSale(ctx context.Context, a *Actor) {
	req := b.builder.Build(
		b.sampler.Pick(),
		b.builder.Quantity(),
		sale.CustomerID("customer", a.ID),
		sale.NewIdempotencyKey(),
	)

	detail, resp, err := b.api.PlaceOrder(ctx, req)
	if err != nil {
		return
	}
	b.observe(a, resp)

	switch resp.StatusCode {
	case http.StatusCreated:
		b.metrics.AddOrderCreated()
		if detail == nil || detail.ID == nil {
			b.logger.Warn("created order response had no parsable id",
				"product_id", req.ProductID)
			return
		}
		b.verifyReadBack(ctx, a, *detail.ID)
	case http.StatusConflict:
		b.metrics.AddStockExhausted()
	}
}

func (b *Behaviors) verifyReadBack(ctx context.Context, a *Actor, orderID string) {
	detail, resp, err := b.api.GetOrder(ctx, orderID)
	if err != nil {
		return
	}
	b.observe(a, resp)

	if resp.StatusCode != http.StatusOK || detail == nil ||
		detail.ID == nil || *detail.ID != orderID {
		b.logger.Warn("order read-back mismatch",
			"order_id", orderID, "status", resp.StatusCode)
	}
}

// IdempotencyRetry drives the replay protocol. The first successful
// activation submits an original purchase and records its outcome; every
// later activation replays the identical request and verifies the service
// reproduces that outcome exactly.
func (b *Behaviors) IdempotencyRetry(ctx context.Context, a *Actor) {
	if a.Memory == nil {
		a.Memory = &Memory{}
	}
	if a.Memory.State == StateUnstarted {
		b.sendOriginal(ctx, a)
		return
	}
	b.replay(ctx, a)
}

func (b *Behaviors) sendOriginal(ctx context.Context, a *Actor) {
	ids := b.catalog.IDs()
	req := b.builder.Build(
		ids[a.ID%len(ids)],
		1,
		sale.CustomerID("idem", a.ID),
		sale.NewIdempotencyKey(),
	)

	detail, resp, err := b.api.PlaceOrder(ctx, req)
	if err != nil {
		return
	}
	b.observe(a, resp)

	// An infrastructure failure leaves the outcome unknown; stay
	// unstarted and try a fresh original next activation.
	if resp.Infra() {
		return
	}

	if resp.StatusCode == http.StatusCreated {
		if detail == nil || detail.ID == nil {
			b.logger.Warn("original order created but id unparsable; restarting protocol",
				"customer_id", req.CustomerID)
			return
		}
		a.Memory.State = StateReplayExpectSuccess
		a.Memory.Request = req
		a.Memory.OrderID = *detail.ID
		return
	}

	a.Memory.State = StateReplayExpectFailure
	a.Memory.Request = req
}

func (b *Behaviors) replay(ctx context.Context, a *Actor) {
	detail, resp, err := b.api.PlaceOrder(ctx, a.Memory.Request)
	if err != nil {
		return
	}
	b.observe(a, resp)

	// Transport failures and 5xx are counted by observe but carry no
	// idempotency verdict.
	if resp.Infra() {
		return
	}

	switch a.Memory.State {
	case StateReplayExpectSuccess:
		if resp.StatusCode == http.StatusOK && detail != nil &&
			detail.ID != nil && *detail.ID == a.Memory.OrderID {
			b.metrics.AddIdempotentReplayCorrect()
			return
		}
		b.metrics.AddIdempotencyViolation()
		got := ""
		if detail != nil && detail.ID != nil {
			got = *detail.ID
		}
		b.logger.Error("idempotent replay deviated from confirmed original",
			"idempotency_key", a.Memory.Request.IdempotencyKey,
			"want_order_id", a.Memory.OrderID,
			"got_order_id", got,
			"status", resp.StatusCode)

	case StateReplayExpectFailure:
		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			b.metrics.AddIdempotencyViolation()
			b.logger.Error("replay of rejected original newly succeeded",
				"idempotency_key", a.Memory.Request.IdempotencyKey,
				"status", resp.StatusCode)
		}
	}
}

// CancelWave discovers a confirmed order on a uniformly random product and
// cancels it.
func (b *Behaviors) CancelWave(ctx context.Context, a *Actor) {
	ids := b.catalog.IDs()
	productID := ids[rand.IntN(len(ids))]

	orders, resp, err := b.api.ListOrders(ctx, productID)
	if err != nil {
		return
	}
	b.observe(a, resp)
	if resp.StatusCode != http.StatusOK {
		return
	}

	var confirmed []client.OrderSummary
	for _, o := range orders {
		if o.Status == client.StatusConfirmed {
			confirmed = append(confirmed, o)
		}
	}
	if len(confirmed) == 0 {
		return
	}
	target := confirmed[rand.IntN(len(confirmed))].OrderID

	cancelResp, err := b.api.CancelOrder(ctx, target)
	if err != nil {
		return
	}
	b.observe(a, cancelResp)

	switch cancelResp.StatusCode {
	case http.StatusOK:
		b.metrics.AddOrderCancelled()
	case http.StatusConflict:
		b.metrics.AddCancelAlreadyCancelled()
	}
}
