package cart

import (
	"encoding/json"
	"strings"

	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Cart validation errors
var (
	ErrInvalidQuantity = shared.NewDomainError(shared.CodeInvalidQuantity, "Quantity must be a positive integer")
	ErrInvalidPrice    = shared.NewDomainError(shared.CodeInvalidPrice, "Unit price cannot be negative")
	ErrInvalidProduct  = shared.NewDomainError(shared.CodeInvalidProduct, "Product ID cannot be empty")
)

// ItemKey identifies a line. Two lines with the same product but a
// different variant (size) are distinct lines.
type ItemKey struct {
	ProductID string
	Variant   string
}

// LineItem is one product/variant line of a cart. It is a value: the
// ledger never mutates a LineItem it has handed out.
type LineItem struct {
	ProductID   string
	ProductName string
	Variant     string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// Key returns the line's identity key
func (i LineItem) Key() ItemKey {
	return ItemKey{ProductID: i.ProductID, Variant: i.Variant}
}

// LineTotal returns Quantity * UnitPrice
func (i LineItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Validate checks the line invariants: a product ID, a positive quantity and
// a non-negative unit price.
func (i LineItem) Validate() error {
	if strings.TrimSpace(i.ProductID) == "" {
		return ErrInvalidProduct
	}
	if i.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if i.UnitPrice.IsNegative() {
		return ErrInvalidPrice
	}
	return nil
}

// lineItemJSON is the wire form shared by the keyed store and the remote
// cart endpoint. The commerce backend stores the cart as the client sent
// it, so the field names follow its CartItem shape.
type lineItemJSON struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName,omitempty"`
	Variant     string          `json:"size"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
}

// lineItemInput also accepts "variant" for the size and the older "price"
// field written by earlier versions of this service.
type lineItemInput struct {
	ProductID   string              `json:"productId"`
	ProductName string              `json:"productName"`
	Size        *string             `json:"size"`
	Variant     string              `json:"variant"`
	Quantity    int                 `json:"quantity"`
	UnitPrice   decimal.NullDecimal `json:"unitPrice"`
	Price       decimal.NullDecimal `json:"price"`
}

// MarshalJSON emits the derived line total alongside the stored fields
func (i LineItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(lineItemJSON{
		ProductID:   i.ProductID,
		ProductName: i.ProductName,
		Variant:     i.Variant,
		Quantity:    i.Quantity,
		UnitPrice:   i.UnitPrice,
		TotalPrice:  i.LineTotal(),
	})
}

// UnmarshalJSON ignores any incoming line total; it is always recomputed.
func (i *LineItem) UnmarshalJSON(data []byte) error {
	var raw lineItemInput
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	variant := raw.Variant
	if raw.Size != nil {
		variant = *raw.Size
	}
	price := raw.UnitPrice.Decimal
	if !raw.UnitPrice.Valid && raw.Price.Valid {
		price = raw.Price.Decimal
	}
	*i = LineItem{
		ProductID:   raw.ProductID,
		ProductName: raw.ProductName,
		Variant:     variant,
		Quantity:    raw.Quantity,
		UnitPrice:   price,
	}
	return nil
}
