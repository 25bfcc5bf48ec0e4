package remote

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/bgl/storefront/internal/domain/chat"
)

// ListConversations fetches the caller's conversations (GET /conversations)
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var convs []chat.Conversation
	if err := c.do(ctx, request{method: http.MethodGet, path: "/conversations"}, &convs); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// ListMessages fetches a conversation's messages
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	var msgs []chat.Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, request{method: http.MethodGet, path: path}, &msgs); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// SendMessage posts a message. Text messages go as JSON {content, type};
// file messages go as multipart/form-data with the file under "file". The
// backend's copy of the message (with its attachment URL) is returned when
// it sends one.
func (c *Client) SendMessage(ctx context.Context, m chat.Message) (*chat.Message, error) {
	path := "/conversations/" + url.PathEscape(m.ConversationID) + "/messages"
	r := request{method: http.MethodPost, path: path}

	if m.Kind == chat.KindFile && m.Attachment != nil && len(m.Attachment.Data) > 0 {
		body, contentType, err := multipartMessage(m)
		if err != nil {
			return nil, fmt.Errorf("send message: %w", err)
		}
		r.raw = body
		r.contentType = contentType
	} else {
		r.body = map[string]string{"content": m.Content, "type": string(m.Kind)}
	}

	var echoed chat.Message
	if err := c.do(ctx, r, &echoed); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if echoed.ID == "" {
		return nil, nil
	}
	return &echoed, nil
}

// MarkMessageRead flags a message as read
func (c *Client) MarkMessageRead(ctx context.Context, conversationID, messageID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages/" + url.PathEscape(messageID) + "/read"
	if err := c.do(ctx, request{method: http.MethodPut, path: path}, nil); err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	return nil
}

func multipartMessage(m chat.Message) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	if err := w.WriteField("content", m.Content); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("type", string(m.Kind)); err != nil {
		return nil, "", err
	}
	part, err := w.CreateFormFile("file", m.Attachment.FileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(m.Attachment.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
