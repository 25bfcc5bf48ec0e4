package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	appchat "github.com/bgl/storefront/internal/application/chat"
	"github.com/bgl/storefront/internal/domain/chat"
	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/bgl/storefront/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// ConversationStores hands out the conversation store of an identity
type ConversationStores interface {
	For(self *shared.Identity) (*appchat.ConversationStore, error)
}

// ConversationHandler handles the messaging endpoints
type ConversationHandler struct {
	BaseHandler
	stores        ConversationStores
	maxAttachment int64
}

// NewConversationHandler creates a new ConversationHandler. Attachments
// larger than maxAttachment bytes are rejected; zero means the 10 MiB
// message limit.
func NewConversationHandler(stores ConversationStores, maxAttachment int64) *ConversationHandler {
	if maxAttachment <= 0 || maxAttachment > chat.MaxAttachmentBytes {
		maxAttachment = chat.MaxAttachmentBytes
	}
	return &ConversationHandler{stores: stores, maxAttachment: maxAttachment}
}

// OpenConversationRequest opens (or finds) the conversation with another participant
type OpenConversationRequest struct {
	OtherID   string `json:"other_id" binding:"required,max=128,participant"`
	OtherName string `json:"other_name" binding:"max=256"`
}

// SendMessageRequest is a text message sent as JSON
type SendMessageRequest struct {
	Content string `json:"content" binding:"required,max=4000"`
	Type    string `json:"type" binding:"omitempty,oneof=text"`
}

func (h *ConversationHandler) store(c *gin.Context) (*appchat.ConversationStore, bool) {
	s, err := h.stores.For(middleware.GetIdentity(c))
	if err != nil {
		h.HandleError(c, err)
		return nil, false
	}
	return s, true
}

// ListConversations returns the caller's conversations, most recent first
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	s, ok := h.store(c)
	if !ok {
		return
	}
	convs, err := s.ListConversations(remoteContext(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	h.Success(c, convs)
}

// OpenConversation returns the conversation between the caller and other_id,
// creating it on first contact
func (h *ConversationHandler) OpenConversation(c *gin.Context) {
	var req OpenConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	s, ok := h.store(c)
	if !ok {
		return
	}
	self := middleware.GetIdentity(c)
	conv, err := s.GetOrCreateConversation(remoteContext(c), self.ID, self.DisplayName, req.OtherID, req.OtherName)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, conv)
}

// ListMessages returns a conversation's messages, oldest first
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	s, ok := h.store(c)
	if !ok {
		return
	}
	msgs, err := s.ListMessages(remoteContext(c), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	h.Success(c, msgs)
}

// SendMessage appends a message. A JSON body sends text; a multipart body
// with a "file" part sends an attachment with optional "content".
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	s, ok := h.store(c)
	if !ok {
		return
	}

	var m chat.Message
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		msg, err := h.fileMessage(c)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		m = msg
	} else {
		var req SendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.BindError(c, err)
			return
		}
		m = chat.Message{Content: req.Content, Kind: chat.KindText}
	}

	stored, err := s.AppendMessage(remoteContext(c), c.Param("id"), m)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, stored)
}

func (h *ConversationHandler) fileMessage(c *gin.Context) (chat.Message, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return chat.Message{}, shared.NewDomainError(chat.ErrInvalidMessage.Code, "A file part is required")
	}
	if header.Size > h.maxAttachment {
		return chat.Message{}, tooLarge(h.maxAttachment)
	}
	data, err := readPart(header, h.maxAttachment)
	if err != nil {
		return chat.Message{}, err
	}
	return chat.Message{
		Content: c.PostForm("content"),
		Kind:    chat.KindFile,
		Attachment: &chat.Attachment{
			FileName: header.Filename,
			Size:     int64(len(data)),
			Data:     data,
		},
	}, nil
}

func readPart(header *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, tooLarge(limit)
	}
	return data, nil
}

func tooLarge(limit int64) error {
	return shared.NewDomainError(chat.ErrInvalidMessage.Code,
		fmt.Sprintf("Attachment exceeds the %d byte limit", limit))
}

// MarkRead marks a message as read
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	s, ok := h.store(c)
	if !ok {
		return
	}
	if err := s.MarkRead(remoteContext(c), c.Param("id"), c.Param("mid")); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}
