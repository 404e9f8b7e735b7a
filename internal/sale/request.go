package sale

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/example/flashsale/tools/loadgen/internal/client"
)

// Quantity bounds for generated purchases.
const (
	MinQuantity = 1
	MaxQuantity = 3
)

// NewIdempotencyKey mints a fresh version-4 UUID idempotency key. Keys are
// unique for any realistic run size; the service uses them to recognize
// replays.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// CustomerID derives a stable customer identifier from an actor's
// identity, so every request the actor sends shares a customer.
func CustomerID(prefix string, actorID int) string {
	return fmt.Sprintf("%s_vu%d", prefix, actorID)
}

// RequestBuilder assembles immutable purchase requests. It performs no
// network I/O.
type RequestBuilder struct {
	// randIntN returns a uniform draw in [0, n). Injectable for tests.
	randIntN func(int) int
}

// NewRequestBuilder creates a builder with the default random source.
func NewRequestBuilder() *RequestBuilder {
	return &RequestBuilder{randIntN: rand.IntN}
}

// Quantity draws a purchase quantity uniformly from [MinQuantity, MaxQuantity].
func (b *RequestBuilder) Quantity() int64 {
	return int64(MinQuantity + b.randIntN(MaxQuantity-MinQuantity+1))
}

// Build assembles a purchase request from its parts. The caller supplies
// the idempotency key so replays can reuse the identical request.
func (b *RequestBuilder) Build(productID int64, quantity int64, customerID, idempotencyKey string) client.PurchaseRequest {
	return client.PurchaseRequest{
		ProductID:      productID,
		IdempotencyKey: idempotencyKey,
		CustomerID:     customerID,
		Quantity:       quantity,
	}
}
