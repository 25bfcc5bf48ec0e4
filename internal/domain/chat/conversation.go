package chat

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bgl/storefront/internal/domain/shared"
)

// idSeparator joins the sorted participant IDs of a conversation. It is not
// allowed inside a participant ID, which keeps ConversationID injective.
const idSeparator = ":"

// ErrInvalidParticipant is returned for empty or malformed participant IDs
var ErrInvalidParticipant = shared.NewDomainError(shared.CodeInvalidParticipant, "Invalid conversation participant")

// ConversationID returns the canonical ID for a two-party conversation. The
// result does not depend on argument order.
func ConversationID(a, b string) (string, error) {
	for _, id := range []string{a, b} {
		if strings.TrimSpace(id) == "" {
			return "", shared.NewDomainError(ErrInvalidParticipant.Code, "Participant ID cannot be empty")
		}
		if strings.Contains(id, idSeparator) {
			return "", shared.NewDomainError(ErrInvalidParticipant.Code,
				fmt.Sprintf("Participant ID %q must not contain %q", id, idSeparator))
		}
	}
	if a == b {
		return "", shared.NewDomainError(ErrInvalidParticipant.Code, "A conversation needs two distinct participants")
	}
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, idSeparator), nil
}

// ParseConversationID splits a canonical conversation ID into its two
// participant IDs
func ParseConversationID(id string) (string, string, error) {
	a, b, ok := strings.Cut(id, idSeparator)
	if !ok {
		return "", "", shared.NewDomainError(ErrInvalidParticipant.Code, "Malformed conversation ID")
	}
	canonical, err := ConversationID(a, b)
	if err != nil {
		return "", "", err
	}
	if canonical != id {
		return "", "", shared.NewDomainError(ErrInvalidParticipant.Code, "Conversation ID is not canonical")
	}
	return a, b, nil
}

// Conversation is a thread between exactly two participants
type Conversation struct {
	ID             string            `json:"id"`
	ParticipantIDs [2]string         `json:"participantIds"`
	DisplayNames   map[string]string `json:"displayNames"`
	LastMessage    *Message          `json:"lastMessage,omitempty"`
	UnreadCount    int               `json:"unreadCount"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// NewConversation creates an empty conversation between self and other
func NewConversation(selfID, selfName, otherID, otherName string, now time.Time) (Conversation, error) {
	id, err := ConversationID(selfID, otherID)
	if err != nil {
		return Conversation{}, err
	}
	ids := [2]string{selfID, otherID}
	if ids[0] > ids[1] {
		ids[0], ids[1] = ids[1], ids[0]
	}
	return Conversation{
		ID:             id,
		ParticipantIDs: ids,
		DisplayNames:   map[string]string{selfID: selfName, otherID: otherName},
		UpdatedAt:      now,
	}, nil
}

// Includes reports whether participantID takes part in the conversation
func (c Conversation) Includes(participantID string) bool {
	return c.ParticipantIDs[0] == participantID || c.ParticipantIDs[1] == participantID
}

// Counterpart returns the participant that is not self
func (c Conversation) Counterpart(self string) string {
	if c.ParticipantIDs[0] == self {
		return c.ParticipantIDs[1]
	}
	return c.ParticipantIDs[0]
}

// WithMessage returns a copy updated for a newly appended message
func (c Conversation) WithMessage(m Message, self string) Conversation {
	msg := m
	c.LastMessage = &msg
	if m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
	}
	if m.SenderID != self && m.DeliveryState != DeliveryRead {
		c.UnreadCount++
	}
	return c
}

// SortByRecent orders conversations by UpdatedAt, newest first
func SortByRecent(convs []Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}

// Upsert replaces the conversation with the same ID in convs or appends c
func Upsert(convs []Conversation, c Conversation) []Conversation {
	for i := range convs {
		if convs[i].ID == c.ID {
			convs[i] = c
			return convs
		}
	}
	return append(convs, c)
}

// Find returns the conversation with id
func Find(convs []Conversation, id string) (Conversation, bool) {
	for _, c := range convs {
		if c.ID == id {
			return c, true
		}
	}
	return Conversation{}, false
}
