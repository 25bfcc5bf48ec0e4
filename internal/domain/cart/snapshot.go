package cart

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Snapshot is an immutable, insertion-ordered view of a cart. Every
// operation returns a new Snapshot and leaves the receiver untouched, so a
// Snapshot can be shared freely between goroutines.
type Snapshot struct {
	items []LineItem
}

// Empty returns a cart with no lines
func Empty() Snapshot {
	return Snapshot{}
}

// FromItems builds a snapshot from persisted or remote lines. Duplicate keys
// are merged with AddItem semantics and lines that fail validation are
// dropped, so a snapshot built here always satisfies the ledger invariants.
func FromItems(items []LineItem) Snapshot {
	s := Empty()
	for _, item := range items {
		next, err := s.AddItem(item)
		if err != nil {
			continue
		}
		s = next
	}
	return s
}

// Items returns a copy of the lines in insertion order
func (s Snapshot) Items() []LineItem {
	out := make([]LineItem, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of distinct lines
func (s Snapshot) Len() int {
	return len(s.items)
}

// IsEmpty reports whether the cart has no lines
func (s Snapshot) IsEmpty() bool {
	return len(s.items) == 0
}

// TotalItems returns the sum of all line quantities
func (s Snapshot) TotalItems() int {
	total := 0
	for _, item := range s.items {
		total += item.Quantity
	}
	return total
}

// TotalAmount returns the sum of all line totals
func (s Snapshot) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// Find returns the line for (productID, variant)
func (s Snapshot) Find(productID, variant string) (LineItem, bool) {
	idx := s.indexOf(ItemKey{ProductID: productID, Variant: variant})
	if idx < 0 {
		return LineItem{}, false
	}
	return s.items[idx], true
}

// AddItem merges item into the cart. An existing (productId, variant) line
// has its quantity increased in place and keeps the unit price it was first
// added with; any other item is appended. Invalid input returns the
// unchanged snapshot and a validation error.
func (s Snapshot) AddItem(item LineItem) (Snapshot, error) {
	if err := item.Validate(); err != nil {
		return s, err
	}

	items := s.Items()
	if idx := s.indexOf(item.Key()); idx >= 0 {
		items[idx].Quantity += item.Quantity
		if items[idx].ProductName == "" {
			items[idx].ProductName = item.ProductName
		}
		return Snapshot{items: items}, nil
	}
	return Snapshot{items: append(items, item)}, nil
}

// UpdateQuantity sets the quantity of an existing line. A quantity of zero
// or less removes the line; an unknown key is a no-op.
func (s Snapshot) UpdateQuantity(productID, variant string, quantity int) Snapshot {
	if quantity <= 0 {
		return s.RemoveItem(productID, variant)
	}
	idx := s.indexOf(ItemKey{ProductID: productID, Variant: variant})
	if idx < 0 {
		return s
	}
	items := s.Items()
	items[idx].Quantity = quantity
	return Snapshot{items: items}
}

// RemoveItem drops the line for (productID, variant). Removing an absent
// line is a no-op.
func (s Snapshot) RemoveItem(productID, variant string) Snapshot {
	idx := s.indexOf(ItemKey{ProductID: productID, Variant: variant})
	if idx < 0 {
		return s
	}
	items := make([]LineItem, 0, len(s.items)-1)
	items = append(items, s.items[:idx]...)
	items = append(items, s.items[idx+1:]...)
	return Snapshot{items: items}
}

// Merge adds every line of other into s with AddItem semantics
func (s Snapshot) Merge(other Snapshot) Snapshot {
	out := s
	for _, item := range other.items {
		if next, err := out.AddItem(item); err == nil {
			out = next
		}
	}
	return out
}

// Subtract takes the quantities of submitted off the matching lines of s,
// dropping lines that reach zero. Lines submitted does not hold are kept.
func (s Snapshot) Subtract(submitted Snapshot) Snapshot {
	out := s
	for _, sub := range submitted.items {
		cur, ok := out.Find(sub.ProductID, sub.Variant)
		if !ok {
			continue
		}
		out = out.UpdateQuantity(sub.ProductID, sub.Variant, cur.Quantity-sub.Quantity)
	}
	return out
}

// Equal reports whether both snapshots hold the same lines in the same order
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s.items) != len(other.items) {
		return false
	}
	for i := range s.items {
		a, b := s.items[i], other.items[i]
		if a.Key() != b.Key() || a.Quantity != b.Quantity || !a.UnitPrice.Equal(b.UnitPrice) || a.ProductName != b.ProductName {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the cart as a bare array of lines, the format used by
// both the keyed store and the remote cart endpoint.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Items())
}

// UnmarshalJSON decodes an array of lines through FromItems
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var items []LineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = FromItems(items)
	return nil
}

func (s Snapshot) indexOf(key ItemKey) int {
	for i, item := range s.items {
		if item.Key() == key {
			return i
		}
	}
	return -1
}
