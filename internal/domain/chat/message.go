package chat

import (
	"strings"
	"time"

	"github.com/bgl/storefront/internal/domain/shared"
)

// Kind distinguishes plain text messages from file attachments
type Kind string

const (
	KindText Kind = "text"
	KindFile Kind = "file"
)

// DeliveryState tracks how far a message has travelled
type DeliveryState string

const (
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
)

// MaxAttachmentBytes is the largest file a message may carry (10 MiB)
const MaxAttachmentBytes = 10 << 20

// ErrInvalidMessage is returned for messages that fail validation
var ErrInvalidMessage = shared.NewDomainError(shared.CodeInvalidMessage, "Invalid message")

// Attachment points at an uploaded file
type Attachment struct {
	FileName string `json:"fileName"`
	URL      string `json:"fileUrl,omitempty"`
	Size     int64  `json:"size,omitempty"`
	// Data holds the file bytes until the remote upload takes them over. It
	// is never persisted.
	Data []byte `json:"-"`
}

// Message is one entry of a conversation
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	SenderName     string        `json:"senderName"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"createdAt"`
	Kind           Kind          `json:"type"`
	DeliveryState  DeliveryState `json:"status"`
	Attachment     *Attachment   `json:"attachment,omitempty"`
}

// Validate checks that the message can be appended
func (m Message) Validate() error {
	switch m.Kind {
	case KindText:
		if strings.TrimSpace(m.Content) == "" {
			return shared.NewDomainError(ErrInvalidMessage.Code, "Message content cannot be empty")
		}
	case KindFile:
		if m.Attachment == nil || m.Attachment.FileName == "" {
			return shared.NewDomainError(ErrInvalidMessage.Code, "File message needs an attachment")
		}
		if m.Attachment.Size > MaxAttachmentBytes || int64(len(m.Attachment.Data)) > MaxAttachmentBytes {
			return shared.NewDomainError(ErrInvalidMessage.Code, "Attachment exceeds the 10 MiB limit")
		}
	default:
		return shared.NewDomainError(ErrInvalidMessage.Code, "Unknown message type")
	}
	if m.SenderID == "" {
		return shared.NewDomainError(ErrInvalidMessage.Code, "Message sender is required")
	}
	return nil
}

// MarkRead returns the index of messageID in msgs after setting its state
// to read, or -1 when it is absent.
func MarkRead(msgs []Message, messageID string) int {
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].DeliveryState = DeliveryRead
			return i
		}
	}
	return -1
}
