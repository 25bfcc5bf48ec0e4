package keystore

import "github.com/bgl/storefront/internal/domain/shared"

// Keys is the only place storage keys are built. Every key is the
// configured prefix, a kind, an underscore and the owner segment.
type Keys struct {
	prefix string
}

// NewKeys returns a key builder using prefix (for example "bgl_")
func NewKeys(prefix string) Keys {
	return Keys{prefix: prefix}
}

// Cart returns the key of the cart owned by id, or the guest cart
func (k Keys) Cart(id *shared.Identity) string {
	return k.prefix + "cart_" + shared.KeyOf(id)
}

// Orders returns the key of the local order history of id
func (k Keys) Orders(id *shared.Identity) string {
	return k.prefix + "orders_" + shared.KeyOf(id)
}

// Conversations returns the key of the conversation index of a participant
func (k Keys) Conversations(participantID string) string {
	return k.prefix + "conversations_" + participantID
}

// Messages returns the key of the message list of a conversation
func (k Keys) Messages(conversationID string) string {
	return k.prefix + "messages_" + conversationID
}

// OrderOwner returns the key recording whose history holds an order
func (k Keys) OrderOwner(orderID string) string {
	return k.prefix + "order_owner_" + orderID
}
