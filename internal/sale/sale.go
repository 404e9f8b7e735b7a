// Package sale holds the flash-sale domain values shared by the load
// actors and the consistency oracle: the product catalog, the weighted
// product sampler, idempotency keys, and purchase request assembly.
package sale

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/example/flashsale/tools/loadgen/internal/config"
)

// Errors returned by the sale package.
var (
	// ErrNoProducts is returned when the catalog is empty.
	ErrNoProducts = errors.New("sale: no products configured")
	// ErrNoWeights is returned when the sampler has no weight entries.
	ErrNoWeights = errors.New("sale: no weight entries configured")
	// ErrInvalidWeight is returned when a weight entry is not positive.
	ErrInvalidWeight = errors.New("sale: invalid weight")
	// ErrUnknownProduct is returned when a weight references a product
	// missing from the catalog.
	ErrUnknownProduct = errors.New("sale: unknown product")
)

// Product is one catalog entry. InitialStock is the ground truth the
// oracle starts from; the catalog is immutable for the run.
type Product struct {
	ID           int64
	Name         string
	InitialStock int64
}

// WeightEntry assigns a positive sampling weight to a product.
type WeightEntry struct {
	ProductID int64
	Weight    int
}

// Catalog is an immutable, read-only product table. Safe to share across
// actors without synchronization.
type Catalog struct {
	products []Product
	byID     map[int64]Product
	ids      []int64
}

// NewCatalog builds a catalog from configuration.
func NewCatalog(cfgs []config.ProductConfig) (*Catalog, error) {
	if len(cfgs) == 0 {
		return nil, ErrNoProducts
	}
	c := &Catalog{
		products: make([]Product, 0, len(cfgs)),
		byID:     make(map[int64]Product, len(cfgs)),
		ids:      make([]int64, 0, len(cfgs)),
	}
	for _, pc := range cfgs {
		p := Product{ID: pc.ID, Name: pc.Name, InitialStock: pc.InitialStock}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("sale: duplicate product id %d", p.ID)
		}
		c.products = append(c.products, p)
		c.byID[p.ID] = p
		c.ids = append(c.ids, p.ID)
	}
	return c, nil
}

// Products returns the catalog entries in configuration order.
func (c *Catalog) Products() []Product {
	return c.products
}

// IDs returns all product identifiers in configuration order.
func (c *Catalog) IDs() []int64 {
	return c.ids
}

// Product looks up a product by identifier.
func (c *Catalog) Product(id int64) (Product, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Sampler draws product identifiers from a discrete weighted distribution.
// A draw never fails and never returns an identifier outside the weight
// table.
type Sampler struct {
	entries []WeightEntry
	total   int

	// randFloat returns a uniform draw in [0, 1). Injectable for tests.
	randFloat func() float64
}

// NewSampler validates the weight table against the catalog and builds a
// sampler over it.
func NewSampler(catalog *Catalog, cfgs []config.WeightConfig) (*Sampler, error) {
	if len(cfgs) == 0 {
		return nil, ErrNoWeights
	}
	s := &Sampler{
		entries:   make([]WeightEntry, 0, len(cfgs)),
		randFloat: rand.Float64,
	}
	for _, wc := range cfgs {
		if wc.Weight <= 0 {
			return nil, fmt.Errorf("%w: product %d has weight %d", ErrInvalidWeight, wc.ProductID, wc.Weight)
		}
		if _, ok := catalog.Product(wc.ProductID); !ok {
			return nil, fmt.Errorf("%w: weight references product %d", ErrUnknownProduct, wc.ProductID)
		}
		s.entries = append(s.entries, WeightEntry{ProductID: wc.ProductID, Weight: wc.Weight})
		s.total += wc.Weight
	}
	return s, nil
}

// TotalWeight returns the distribution's normalization constant.
func (s *Sampler) TotalWeight() int {
	return s.total
}

// Pick draws one product identifier with probability weight/total, using a
// running-subtraction scan. If floating-point drift leaves the draw
// unconsumed, the last entry wins.
func (s *Sampler) Pick() int64 {
	r := s.randFloat() * float64(s.total)
	for _, e := range s.entries {
		r -= float64(e.Weight)
		if r <= 0 {
			return e.ProductID
		}
	}
	return s.entries[len(s.entries)-1].ProductID
}
