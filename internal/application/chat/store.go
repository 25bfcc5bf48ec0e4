// Package chat keeps two-party conversations and their messages, local
// first with the remote backend as the system of record when reachable.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bgl/storefront/internal/domain/chat"
	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/bgl/storefront/internal/infrastructure/keystore"
	"github.com/bgl/storefront/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Remote is the conversation part of the commerce backend
type Remote interface {
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
	SendMessage(ctx context.Context, m chat.Message) (*chat.Message, error)
	MarkMessageRead(ctx context.Context, conversationID, messageID string) error
}

// ErrConversationNotFound is returned for conversations the identity is not part of
var ErrConversationNotFound = shared.NewDomainError(shared.CodeNotFound, "Conversation not found")

// Config bounds remote calls
type Config struct {
	Timeout     time.Duration
	PushTimeout time.Duration
}

// Service holds what every identity's ConversationStore shares: storage,
// the remote and the background pushes in flight.
type Service struct {
	store   keystore.Store
	keys    keystore.Keys
	remote  Remote
	cfg     Config
	logger  *zap.Logger
	metrics *telemetry.SyncMetrics

	now   func() time.Time
	newID func() string

	// mu serialises read-modify-write cycles on stored indexes and message lists
	mu       sync.Mutex
	inflight sync.WaitGroup
}

// NewService creates a Service. remote may be nil for local-only mode.
func NewService(store keystore.Store, keys keystore.Keys, remote Remote, cfg Config, logger *zap.Logger, metrics *telemetry.SyncMetrics) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = cfg.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		keys:    keys,
		remote:  remote,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// For returns the conversation store of self
func (s *Service) For(self *shared.Identity) (*ConversationStore, error) {
	if self.IsGuest() {
		return nil, shared.ErrUnauthenticated
	}
	return &ConversationStore{svc: s, self: self}, nil
}

// Wait blocks until background pushes have finished
func (s *Service) Wait() {
	s.inflight.Wait()
}

// push runs fn in the background with its own timeout. Values of ctx (the
// caller's bearer token, the request logger) are kept; its cancellation is not.
func (s *Service) push(ctx context.Context, fn func(ctx context.Context) error) {
	if s.remote == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(base, s.cfg.PushTimeout)
		defer cancel()
		_ = fn(ctx)
	}()
}

func (s *Service) loadIndex(ctx context.Context, participantID string) []chat.Conversation {
	var convs []chat.Conversation
	if err := keystore.GetJSON(ctx, s.store, s.keys.Conversations(participantID), &convs); err != nil {
		if !errors.Is(err, keystore.ErrNotFound) {
			s.logger.Warn("Discarding unreadable conversation index",
				zap.String("participant_id", participantID), zap.Error(err))
		}
		return []chat.Conversation{}
	}
	return convs
}

func (s *Service) saveIndex(ctx context.Context, participantID string, convs []chat.Conversation) error {
	if err := keystore.SetJSON(ctx, s.store, s.keys.Conversations(participantID), convs); err != nil {
		return fmt.Errorf("save conversation index: %w", err)
	}
	return nil
}

func (s *Service) loadMessages(ctx context.Context, conversationID string) []chat.Message {
	var msgs []chat.Message
	if err := keystore.GetJSON(ctx, s.store, s.keys.Messages(conversationID), &msgs); err != nil {
		if !errors.Is(err, keystore.ErrNotFound) {
			s.logger.Warn("Discarding unreadable message list",
				zap.String("conversation_id", conversationID), zap.Error(err))
		}
		return []chat.Message{}
	}
	return msgs
}

func (s *Service) saveMessages(ctx context.Context, conversationID string, msgs []chat.Message) error {
	if err := keystore.SetJSON(ctx, s.store, s.keys.Messages(conversationID), msgs); err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	return nil
}

// ConversationStore is one identity's view of its conversations
type ConversationStore struct {
	svc  *Service
	self *shared.Identity
}

// GetOrCreateConversation returns the conversation between self and other,
// creating it when neither the remote nor the local index knows it. The
// result is always recorded in self's index.
func (c *ConversationStore) GetOrCreateConversation(ctx context.Context, selfID, selfName, otherID, otherName string) (chat.Conversation, error) {
	if selfID != c.self.ID {
		return chat.Conversation{}, shared.NewDomainError(chat.ErrInvalidParticipant.Code,
			"A conversation must include the current identity")
	}
	created, err := chat.NewConversation(selfID, selfName, otherID, otherName, c.svc.now())
	if err != nil {
		return chat.Conversation{}, err
	}

	found, ok := c.findRemote(ctx, created.ID)

	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()

	index := c.svc.loadIndex(ctx, selfID)
	if !ok {
		found, ok = chat.Find(index, created.ID)
	}
	if !ok {
		found = created
	}
	found = withNames(found, created.DisplayNames)

	if err := c.svc.saveIndex(ctx, selfID, chat.Upsert(index, found)); err != nil {
		return chat.Conversation{}, err
	}
	return found, nil
}

func (c *ConversationStore) findRemote(ctx context.Context, id string) (chat.Conversation, bool) {
	if c.svc.remote == nil {
		return chat.Conversation{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, c.svc.cfg.Timeout)
	defer cancel()
	convs, err := c.svc.remote.ListConversations(ctx)
	if err != nil {
		c.svc.logger.Warn("Remote conversations unavailable", zap.Error(err))
		return chat.Conversation{}, false
	}
	return chat.Find(convs, id)
}

// ListConversations returns self's conversations, most recent first. Remote
// entries are merged into the local index; the index alone is served when
// the remote cannot be reached.
func (c *ConversationStore) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var remoteConvs []chat.Conversation
	var remoteErr error = errNoRemote
	if c.svc.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, c.svc.cfg.Timeout)
		remoteConvs, remoteErr = c.svc.remote.ListConversations(rctx)
		cancel()
	}

	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()

	index := c.svc.loadIndex(ctx, c.self.ID)
	if remoteErr == nil {
		for _, conv := range remoteConvs {
			if conv.Includes(c.self.ID) {
				index = chat.Upsert(index, conv)
			}
		}
		if err := c.svc.saveIndex(ctx, c.self.ID, index); err != nil {
			c.svc.logger.Warn("Failed to write conversations through to keystore", zap.Error(err))
		}
	} else if !errors.Is(remoteErr, errNoRemote) {
		c.svc.logger.Warn("Remote conversations unavailable, serving local index", zap.Error(remoteErr))
	}

	chat.SortByRecent(index)
	return index, nil
}

// ListMessages returns the messages of a conversation, oldest first
func (c *ConversationStore) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	if err := c.authorize(conversationID); err != nil {
		return nil, err
	}

	var remoteMsgs []chat.Message
	var remoteErr error = errNoRemote
	if c.svc.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, c.svc.cfg.Timeout)
		remoteMsgs, remoteErr = c.svc.remote.ListMessages(rctx, conversationID)
		cancel()
	}

	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()

	msgs := c.svc.loadMessages(ctx, conversationID)
	if remoteErr == nil {
		msgs = mergeMessages(msgs, remoteMsgs, conversationID)
		if err := c.svc.saveMessages(ctx, conversationID, msgs); err != nil {
			c.svc.logger.Warn("Failed to write messages through to keystore", zap.Error(err))
		}
	} else if !errors.Is(remoteErr, errNoRemote) {
		c.svc.logger.Warn("Remote messages unavailable, serving local copy",
			zap.String("conversation_id", conversationID), zap.Error(remoteErr))
	}
	return msgs, nil
}

// AppendMessage validates and stores m, then pushes it to the remote in the
// background. The stored message is returned with its id, sender, timestamp
// and delivery state filled in.
func (c *ConversationStore) AppendMessage(ctx context.Context, conversationID string, m chat.Message) (chat.Message, error) {
	if err := c.authorize(conversationID); err != nil {
		return chat.Message{}, err
	}
	m.ConversationID = conversationID
	if m.SenderID == "" {
		m.SenderID = c.self.ID
		m.SenderName = c.self.DisplayName
	}
	if m.Kind == "" {
		m.Kind = chat.KindText
		if m.Attachment != nil {
			m.Kind = chat.KindFile
		}
	}
	if m.SenderID != c.self.ID {
		return chat.Message{}, shared.NewDomainError(chat.ErrInvalidMessage.Code, "Messages can only be sent as the current identity")
	}
	if err := m.Validate(); err != nil {
		return chat.Message{}, err
	}
	if m.ID == "" {
		m.ID = c.svc.newID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = c.svc.now()
	}
	m.DeliveryState = chat.DeliverySent
	if m.Attachment != nil && m.Attachment.Size == 0 {
		m.Attachment.Size = int64(len(m.Attachment.Data))
	}

	if err := c.store(ctx, m); err != nil {
		return chat.Message{}, err
	}

	outgoing := m
	c.svc.push(ctx, func(ctx context.Context) error {
		echoed, err := c.svc.remote.SendMessage(ctx, outgoing)
		c.svc.metrics.MessagePushed(ctx, string(outgoing.Kind), err)
		if err != nil {
			c.svc.logger.Warn("Background message push failed",
				zap.String("conversation_id", outgoing.ConversationID),
				zap.String("message_id", outgoing.ID),
				zap.Error(err))
			return err
		}
		if echoed != nil {
			c.reconcileEcho(ctx, outgoing, *echoed)
		}
		return nil
	})

	stored := m
	if stored.Attachment != nil {
		att := *stored.Attachment
		att.Data = nil
		stored.Attachment = &att
	}
	return stored, nil
}

// store appends m to its message list and updates both participants' indexes
func (c *ConversationStore) store(ctx context.Context, m chat.Message) error {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()

	msgs := append(c.svc.loadMessages(ctx, m.ConversationID), m)
	if err := c.svc.saveMessages(ctx, m.ConversationID, msgs); err != nil {
		return err
	}

	selfIndex := c.svc.loadIndex(ctx, c.self.ID)
	conv, ok := chat.Find(selfIndex, m.ConversationID)
	if !ok {
		conv = c.bareConversation(m.ConversationID)
	}
	if err := c.svc.saveIndex(ctx, c.self.ID, chat.Upsert(selfIndex, conv.WithMessage(m, c.self.ID))); err != nil {
		return err
	}

	other := conv.Counterpart(c.self.ID)
	otherIndex := c.svc.loadIndex(ctx, other)
	otherConv, ok := chat.Find(otherIndex, m.ConversationID)
	if !ok {
		otherConv = conv
		otherConv.UnreadCount = 0
		otherConv.LastMessage = nil
	}
	if err := c.svc.saveIndex(ctx, other, chat.Upsert(otherIndex, otherConv.WithMessage(m, other))); err != nil {
		c.svc.logger.Warn("Failed to update counterpart conversation index",
			zap.String("participant_id", other), zap.Error(err))
	}
	return nil
}

// MarkRead sets a message's delivery state to read locally and tells the
// remote in the background
func (c *ConversationStore) MarkRead(ctx context.Context, conversationID, messageID string) error {
	if err := c.authorize(conversationID); err != nil {
		return err
	}

	if err := c.markReadLocally(ctx, conversationID, messageID); err != nil {
		return err
	}

	c.svc.push(ctx, func(ctx context.Context) error {
		err := c.svc.remote.MarkMessageRead(ctx, conversationID, messageID)
		if err != nil {
			c.svc.logger.Warn("Background mark-read failed",
				zap.String("conversation_id", conversationID),
				zap.String("message_id", messageID),
				zap.Error(err))
		}
		return err
	})
	return nil
}

func (c *ConversationStore) markReadLocally(ctx context.Context, conversationID, messageID string) error {
	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()

	msgs := c.svc.loadMessages(ctx, conversationID)
	wasUnread := false
	for _, msg := range msgs {
		if msg.ID == messageID {
			wasUnread = msg.DeliveryState != chat.DeliveryRead && msg.SenderID != c.self.ID
		}
	}
	idx := chat.MarkRead(msgs, messageID)
	if idx < 0 {
		return shared.NewDomainError(shared.CodeNotFound, "Message not found")
	}
	if err := c.svc.saveMessages(ctx, conversationID, msgs); err != nil {
		return err
	}

	index := c.svc.loadIndex(ctx, c.self.ID)
	if conv, ok := chat.Find(index, conversationID); ok {
		if conv.LastMessage != nil && conv.LastMessage.ID == messageID {
			last := *conv.LastMessage
			last.DeliveryState = chat.DeliveryRead
			conv.LastMessage = &last
		}
		if wasUnread && conv.UnreadCount > 0 {
			conv.UnreadCount--
		}
		if err := c.svc.saveIndex(ctx, c.self.ID, chat.Upsert(index, conv)); err != nil {
			return err
		}
	}
	return nil
}

// reconcileEcho adopts the id and attachment URL the remote assigned to a
// pushed message, in the message list and in both participants' indexes
func (c *ConversationStore) reconcileEcho(ctx context.Context, sent, echoed chat.Message) {
	newID := echoed.ID
	if newID == "" {
		newID = sent.ID
	}
	url := ""
	if echoed.Attachment != nil {
		url = echoed.Attachment.URL
	}
	if newID == sent.ID && url == "" {
		return
	}

	c.svc.mu.Lock()
	defer c.svc.mu.Unlock()

	msgs := c.svc.loadMessages(ctx, sent.ConversationID)
	found := -1
	for i := range msgs {
		if msgs[i].ID == sent.ID {
			found = i
			break
		}
	}
	if found < 0 {
		return
	}
	if newID != sent.ID {
		// The remote copy may already have been merged in under its own id.
		msgs = dropByID(msgs, newID, found)
		for i := range msgs {
			if msgs[i].ID == sent.ID {
				found = i
			}
		}
		msgs[found].ID = newID
	}
	if url != "" && msgs[found].Attachment != nil {
		msgs[found].Attachment.URL = url
	}
	if err := c.svc.saveMessages(ctx, sent.ConversationID, msgs); err != nil {
		c.svc.logger.Warn("Failed to record echoed message", zap.String("message_id", newID), zap.Error(err))
		return
	}
	if newID == sent.ID {
		return
	}

	participants := []string{c.self.ID}
	if a, b, err := chat.ParseConversationID(sent.ConversationID); err == nil {
		participants = []string{a, b}
	}
	for _, p := range participants {
		index := c.svc.loadIndex(ctx, p)
		conv, ok := chat.Find(index, sent.ConversationID)
		if !ok || conv.LastMessage == nil || conv.LastMessage.ID != sent.ID {
			continue
		}
		last := *conv.LastMessage
		last.ID = newID
		conv.LastMessage = &last
		if err := c.svc.saveIndex(ctx, p, chat.Upsert(index, conv)); err != nil {
			c.svc.logger.Warn("Failed to record echoed message id in index",
				zap.String("participant_id", p), zap.Error(err))
		}
	}
}

// dropByID removes the message with id, except the one at keep
func dropByID(msgs []chat.Message, id string, keep int) []chat.Message {
	out := msgs[:0]
	for i, m := range msgs {
		if m.ID == id && i != keep {
			continue
		}
		out = append(out, m)
	}
	return out
}

// authorize checks that self takes part in conversationID
func (c *ConversationStore) authorize(conversationID string) error {
	a, b, err := chat.ParseConversationID(conversationID)
	if err != nil || (a != c.self.ID && b != c.self.ID) {
		return ErrConversationNotFound
	}
	return nil
}

func (c *ConversationStore) bareConversation(conversationID string) chat.Conversation {
	a, b, err := chat.ParseConversationID(conversationID)
	if err != nil {
		return chat.Conversation{ID: conversationID}
	}
	conv, err := chat.NewConversation(a, "", b, "", c.svc.now())
	if err != nil {
		return chat.Conversation{ID: conversationID}
	}
	if a == c.self.ID {
		conv.DisplayNames[a] = c.self.DisplayName
	} else {
		conv.DisplayNames[b] = c.self.DisplayName
	}
	return conv
}

var errNoRemote = errors.New("no remote configured")

// withNames fills display names missing from c
func withNames(c chat.Conversation, names map[string]string) chat.Conversation {
	merged := make(map[string]string, len(names))
	for id, name := range names {
		merged[id] = name
	}
	for id, name := range c.DisplayNames {
		if name != "" {
			merged[id] = name
		}
	}
	c.DisplayNames = merged
	return c
}

// echoWindow bounds how far apart the local and remote timestamps of the
// same message may be
const echoWindow = 2 * time.Minute

// mergeMessages upserts remote messages into local ones by id, remote
// winning, and orders the result oldest first. A remote message with an
// unknown id replaces a local message the remote has not listed yet when
// both carry the same sender, kind and content within echoWindow.
func mergeMessages(local, remote []chat.Message, conversationID string) []chat.Message {
	listed := make(map[string]bool, len(remote))
	for _, m := range remote {
		listed[m.ID] = true
	}

	pos := make(map[string]int, len(local))
	out := make([]chat.Message, 0, len(local)+len(remote))
	for _, m := range local {
		pos[m.ID] = len(out)
		out = append(out, m)
	}
	for _, m := range remote {
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		if i, ok := pos[m.ID]; ok {
			out[i] = withLocalAttachment(m, out[i])
			continue
		}
		if i := unlistedEcho(out, listed, m); i >= 0 {
			delete(pos, out[i].ID)
			out[i] = withLocalAttachment(m, out[i])
			pos[m.ID] = i
			continue
		}
		pos[m.ID] = len(out)
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// unlistedEcho finds the local message m is the remote copy of
func unlistedEcho(out []chat.Message, listed map[string]bool, m chat.Message) int {
	for i, l := range out {
		if listed[l.ID] || l.SenderID != m.SenderID || l.Kind != m.Kind || l.Content != m.Content {
			continue
		}
		gap := l.CreatedAt.Sub(m.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap <= echoWindow {
			return i
		}
	}
	return -1
}

// withLocalAttachment keeps a locally known attachment URL the remote omits
func withLocalAttachment(remote, local chat.Message) chat.Message {
	if remote.Attachment == nil && local.Attachment != nil {
		remote.Attachment = local.Attachment
	}
	return remote
}
