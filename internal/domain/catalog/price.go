// Package catalog holds the price lookup the cart consults when a product is
// added by reference instead of with an explicit unit price.
package catalog

import (
	"context"
	"sync"

	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// ErrProductNotFound is returned when no price is known for a product
var ErrProductNotFound = shared.NewDomainError(shared.CodeNotFound, "Product not found in catalog")

// Product is the catalog data needed to build a cart line
type Product struct {
	ID        string
	Name      string
	UnitPrice decimal.Decimal
	// VariantPrices overrides UnitPrice for specific variants (sizes)
	VariantPrices map[string]decimal.Decimal
}

// PriceFor returns the price applicable to variant
func (p Product) PriceFor(variant string) decimal.Decimal {
	if price, ok := p.VariantPrices[variant]; ok {
		return price
	}
	return p.UnitPrice
}

// PriceResolver looks up the current catalog entry for a product
type PriceResolver interface {
	Resolve(ctx context.Context, productID string) (Product, error)
}

// StaticPriceList is an in-memory PriceResolver seeded at startup
type StaticPriceList struct {
	mu       sync.RWMutex
	products map[string]Product
}

// NewStaticPriceList creates a price list from products
func NewStaticPriceList(products ...Product) *StaticPriceList {
	l := &StaticPriceList{products: make(map[string]Product, len(products))}
	for _, p := range products {
		l.products[p.ID] = p
	}
	return l
}

// Put adds or replaces a product
func (l *StaticPriceList) Put(p Product) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.products[p.ID] = p
}

// Resolve implements PriceResolver
func (l *StaticPriceList) Resolve(_ context.Context, productID string) (Product, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.products[productID]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

var _ PriceResolver = (*StaticPriceList)(nil)
