package order

import (
	"fmt"
	"time"

	"github.com/bgl/storefront/internal/domain/cart"
	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Status is the fulfilment status of an order
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
)

// IsValid checks if the status is a known Status
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDelivered:
		return true
	}
	return false
}

// CanTransitionTo reports whether an administrator may move an order from s
// to target. Fulfilment only moves forward; delivered is terminal.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusPending:
		return target == StatusProcessing || target == StatusDelivered
	case StatusProcessing:
		return target == StatusDelivered
	}
	return false
}

// PaymentStatus records whether the customer has paid
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// IsValid checks if the payment status is known
func (p PaymentStatus) IsValid() bool {
	return p == PaymentPaid || p == PaymentUnpaid
}

// Order validation errors
var (
	ErrInvalidStatus     = shared.NewDomainError(shared.CodeInvalidInput, "Unknown order status")
	ErrInvalidTransition = shared.NewDomainError(shared.CodeInvalidStatusTransition, "Order status cannot move backwards")
	ErrEmptyCart         = shared.NewDomainError(shared.CodeEmptyCart, "Cannot submit an empty cart")
)

// Order is an accepted purchase. It is built once from a cart snapshot and
// afterwards only its Status and PaymentStatus change.
type Order struct {
	ID            string          `json:"id"`
	ClientName    string          `json:"client_name"`
	ClientEmail   string          `json:"client_email"`
	Items         []cart.LineItem `json:"items"`
	Total         decimal.Decimal `json:"total"`
	Status        Status          `json:"status"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	CreatedAt     time.Time       `json:"created_at"`
}

// New builds a pending, unpaid order from a snapshot. The snapshot's lines
// are copied so later cart changes never alter the order.
func New(id string, customer *shared.Identity, snapshot cart.Snapshot, createdAt time.Time) (*Order, error) {
	if customer.IsGuest() {
		return nil, shared.ErrUnauthenticated
	}
	if snapshot.IsEmpty() {
		return nil, ErrEmptyCart
	}
	return &Order{
		ID:            id,
		ClientName:    customer.DisplayName,
		ClientEmail:   customer.Email,
		Items:         snapshot.Items(),
		Total:         snapshot.TotalAmount(),
		Status:        StatusPending,
		PaymentStatus: PaymentUnpaid,
		CreatedAt:     createdAt,
	}, nil
}

// TransitionTo moves the order to status
func (o *Order) TransitionTo(status Status) error {
	if !status.IsValid() {
		return shared.NewDomainError(ErrInvalidStatus.Code, fmt.Sprintf("Unknown order status %q", status))
	}
	if o.Status == status {
		return nil
	}
	if !o.Status.CanTransitionTo(status) {
		return shared.NewDomainError(ErrInvalidTransition.Code,
			fmt.Sprintf("Cannot change order status from %s to %s", o.Status, status))
	}
	o.Status = status
	return nil
}

// SetPaymentStatus records the payment state
func (o *Order) SetPaymentStatus(status PaymentStatus) error {
	if !status.IsValid() {
		return shared.NewDomainError(ErrInvalidStatus.Code, fmt.Sprintf("Unknown payment status %q", status))
	}
	o.PaymentStatus = status
	return nil
}

// TotalItems returns the number of units ordered
func (o *Order) TotalItems() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}
