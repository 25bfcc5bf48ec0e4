package shared

import "strings"

// GuestKey is the namespace segment used when no identity is present.
// Guest sessions use GuestKey + "_" + session id.
const GuestKey = "guest"

// ErrReservedIdentity rejects customer ids that would land in the guest
// namespace
var ErrReservedIdentity = NewDomainError(CodeUnauthenticated, "Identity id is reserved")

// Identity is the customer a session belongs to. A nil *Identity, or one
// marked Guest, is an anonymous visitor.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Role        string `json:"role,omitempty"`
	// Guest marks an anonymous visitor. ID is then the guest session id.
	Guest bool `json:"-"`
}

// RoleAdmin may change order status and payment status.
const RoleAdmin = "admin"

// NewGuest returns the identity of the anonymous visitor holding sessionID
func NewGuest(sessionID string) *Identity {
	return &Identity{ID: sessionID, Guest: true}
}

// IsReservedID reports whether id cannot belong to a customer because it
// collides with a guest namespace
func IsReservedID(id string) bool {
	return id == GuestKey || strings.HasPrefix(id, GuestKey+"_")
}

// ValidateCustomerID rejects ids reserved for guests
func ValidateCustomerID(id string) error {
	if IsReservedID(id) {
		return ErrReservedIdentity
	}
	return nil
}

// KeyOf returns the namespace segment for id: the customer ID,
// guest_<session> for a guest session, or GuestKey.
func KeyOf(id *Identity) string {
	switch {
	case id == nil || id.ID == "":
		return GuestKey
	case id.Guest:
		return GuestKey + "_" + id.ID
	default:
		return id.ID
	}
}

// IsGuest reports whether id represents an anonymous visitor
func (id *Identity) IsGuest() bool {
	return id == nil || id.ID == "" || id.Guest
}

// IsAdmin reports whether id carries the admin role
func (id *Identity) IsAdmin() bool {
	return id != nil && !id.Guest && id.Role == RoleAdmin
}

// Equal compares identities by namespace
func (id *Identity) Equal(other *Identity) bool {
	return KeyOf(id) == KeyOf(other)
}
