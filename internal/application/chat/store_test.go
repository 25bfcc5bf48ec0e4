package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bgl/storefront/internal/domain/chat"
	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/bgl/storefront/internal/infrastructure/keystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOffline = errors.New("offline")

// fakeRemote is an in-memory conversation backend that can be switched off
type fakeRemote struct {
	mu       sync.Mutex
	offline  bool
	convs    []chat.Conversation
	messages map[string][]chat.Message
	sent     []chat.Message
	read     []string
	echoURL  string
	// assignID, when set, makes the fake record sent messages under its own id
	assignID string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{messages: map[string][]chat.Message{}}
}

func (f *fakeRemote) ListConversations(context.Context) ([]chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return nil, errOffline
	}
	return append([]chat.Conversation(nil), f.convs...), nil
}

func (f *fakeRemote) ListMessages(_ context.Context, id string) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return nil, errOffline
	}
	return append([]chat.Message(nil), f.messages[id]...), nil
}

func (f *fakeRemote) SendMessage(_ context.Context, m chat.Message) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	if f.offline {
		return nil, errOffline
	}
	if f.assignID != "" {
		echoed := m
		echoed.ID = f.assignID
		echoed.DeliveryState = chat.DeliveryDelivered
		echoed.Attachment = nil
		f.messages[m.ConversationID] = append(f.messages[m.ConversationID], echoed)
		return &echoed, nil
	}
	if f.echoURL != "" && m.Attachment != nil {
		echoed := m
		att := *m.Attachment
		att.URL = f.echoURL
		echoed.Attachment = &att
		return &echoed, nil
	}
	return nil, nil
}

func (f *fakeRemote) MarkMessageRead(_ context.Context, _ string, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read = append(f.read, messageID)
	if f.offline {
		return errOffline
	}
	return nil
}

var (
	testKeys = keystore.NewKeys("bgl_")
	alice    = &shared.Identity{ID: "u1", DisplayName: "Alice"}
	bob      = &shared.Identity{ID: "u2", DisplayName: "Bob"}
)

func newTestService(t *testing.T, store keystore.Store, r Remote) *Service {
	t.Helper()
	svc := NewService(store, testKeys, r, Config{Timeout: time.Second}, nil, nil)
	clock := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	t.Cleanup(svc.Wait)
	return svc
}

func storeFor(t *testing.T, svc *Service, id *shared.Identity) *ConversationStore {
	t.Helper()
	s, err := svc.For(id)
	require.NoError(t, err)
	return s
}

func TestService_ForRequiresIdentity(t *testing.T) {
	svc := newTestService(t, keystore.NewMemoryStore(), nil)
	_, err := svc.For(nil)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestGetOrCreateConversation_SymmetricID(t *testing.T) {
	svc := newTestService(t, keystore.NewMemoryStore(), newFakeRemote())
	ctx := context.Background()

	fromAlice, err := storeFor(t, svc, alice).GetOrCreateConversation(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)
	fromBob, err := storeFor(t, svc, bob).GetOrCreateConversation(ctx, "u2", "Bob", "u1", "Alice")
	require.NoError(t, err)

	assert.Equal(t, "u1:u2", fromAlice.ID)
	assert.Equal(t, fromAlice.ID, fromBob.ID)
	assert.Equal(t, "Bob", fromAlice.DisplayNames["u2"])
}

func TestGetOrCreateConversation_Validation(t *testing.T) {
	svc := newTestService(t, keystore.NewMemoryStore(), nil)
	s := storeFor(t, svc, alice)
	ctx := context.Background()

	_, err := s.GetOrCreateConversation(ctx, "u1", "Alice", "u1", "Alice")
	assert.ErrorIs(t, err, chat.ErrInvalidParticipant)
	_, err = s.GetOrCreateConversation(ctx, "u1", "Alice", "x:y", "Eve")
	assert.ErrorIs(t, err, chat.ErrInvalidParticipant)
	_, err = s.GetOrCreateConversation(ctx, "u2", "Bob", "u3", "Carol")
	assert.ErrorIs(t, err, chat.ErrInvalidParticipant, "self must take part")
}

func TestGetOrCreateConversation_PrefersRemoteThenIndex(t *testing.T) {
	r := newFakeRemote()
	known := chat.Conversation{
		ID:             "u1:u2",
		ParticipantIDs: [2]string{"u1", "u2"},
		DisplayNames:   map[string]string{"u2": "Bob (Sales)"},
		UnreadCount:    3,
	}
	r.convs = []chat.Conversation{known}
	store := keystore.NewMemoryStore()
	svc := newTestService(t, store, r)
	ctx := context.Background()

	conv, err := storeFor(t, svc, alice).GetOrCreateConversation(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)
	assert.Equal(t, 3, conv.UnreadCount)
	assert.Equal(t, "Bob (Sales)", conv.DisplayNames["u2"], "remote names win")
	assert.Equal(t, "Alice", conv.DisplayNames["u1"], "missing names are filled in")

	r.mu.Lock()
	r.offline = true
	r.mu.Unlock()
	again, err := storeFor(t, svc, alice).GetOrCreateConversation(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)
	assert.Equal(t, 3, again.UnreadCount, "served from the local index")
}

func TestAppendMessage_PersistsAndPushes(t *testing.T) {
	r := newFakeRemote()
	store := keystore.NewMemoryStore()
	svc := newTestService(t, store, r)
	ctx := context.Background()
	s := storeFor(t, svc, alice)

	conv, err := s.GetOrCreateConversation(ctx, "u1", "Alice", "u2", "Bob")
	require.NoError(t, err)

	msg, err := s.AppendMessage(ctx, conv.ID, chat.Message{Content: "Do you stock 5KG bags?"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "u1", msg.SenderID)
	assert.Equal(t, "Alice", msg.SenderName)
	assert.Equal(t, chat.KindText, msg.Kind)
	assert.Equal(t, chat.DeliverySent, msg.DeliveryState)
	assert.False(t, msg.CreatedAt.IsZero())

	svc.Wait()
	require.Len(t, r.sent, 1)
	assert.Equal(t, msg.ID, r.sent[0].ID)

	r.offline = true
	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Do you stock 5KG bags?", msgs[0].Content)

	convs, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, msg.ID, convs[0].LastMessage.ID)
	assert.Zero(t, convs[0].UnreadCount)

	bobConvs, err := storeFor(t, svc, bob).ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, bobConvs, 1)
	assert.Equal(t, 1, bobConvs[0].UnreadCount, "counterpart sees an unread message")
}

func TestAppendMessage_PushFailureKeepsLocalMessage(t *testing.T) {
	r := newFakeRemote()
	r.offline = true
	svc := newTestService(t, keystore.NewMemoryStore(), r)
	ctx := context.Background()
	s := storeFor(t, svc, alice)

	msg, err := s.AppendMessage(ctx, "u1:u2", chat.Message{Content: "hello"})
	require.NoError(t, err)
	svc.Wait()

	msgs, err := s.ListMessages(ctx, "u1:u2")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)
}

func TestAppendMessage_Validation(t *testing.T) {
	svc := newTestService(t, keystore.NewMemoryStore(), nil)
	s := storeFor(t, svc, alice)
	ctx := context.Background()

	_, err := s.AppendMessage(ctx, "u1:u2", chat.Message{Content: "   "})
	assert.ErrorIs(t, err, chat.ErrInvalidMessage)

	_, err = s.AppendMessage(ctx, "u1:u2", chat.Message{Content: "hi", SenderID: "u2"})
	assert.ErrorIs(t, err, chat.ErrInvalidMessage, "cannot send as someone else")

	_, err = s.AppendMessage(ctx, "u2:u3", chat.Message{Content: "hi"})
	assert.ErrorIs(t, err, ErrConversationNotFound)

	big := make([]byte, chat.MaxAttachmentBytes+1)
	_, err = s.AppendMessage(ctx, "u1:u2", chat.Message{Attachment: &chat.Attachment{FileName: "huge.pdf", Data: big}})
	assert.ErrorIs(t, err, chat.ErrInvalidMessage)
}

func TestAppendMessage_FileAttachment(t *testing.T) {
	r := newFakeRemote()
	r.echoURL = "https://cdn.test/price-list.pdf"
	svc := newTestService(t, keystore.NewMemoryStore(), r)
	ctx := context.Background()
	s := storeFor(t, svc, alice)

	msg, err := s.AppendMessage(ctx, "u1:u2", chat.Message{
		Content:    "price list",
		Attachment: &chat.Attachment{FileName: "price-list.pdf", Data: []byte("%PDF-1.7")},
	})
	require.NoError(t, err)
	assert.Equal(t, chat.KindFile, msg.Kind)
	assert.Equal(t, int64(8), msg.Attachment.Size)
	assert.Nil(t, msg.Attachment.Data)

	svc.Wait()
	require.Len(t, r.sent, 1)
	assert.Equal(t, []byte("%PDF-1.7"), r.sent[0].Attachment.Data, "bytes reach the remote")

	r.offline = true
	msgs, err := s.ListMessages(ctx, "u1:u2")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "https://cdn.test/price-list.pdf", msgs[0].Attachment.URL)
}

func TestListMessages_MergesRemote(t *testing.T) {
	r := newFakeRemote()
	svc := newTestService(t, keystore.NewMemoryStore(), r)
	ctx := context.Background()
	s := storeFor(t, svc, alice)

	r.offline = true
	local, err := s.AppendMessage(ctx, "u1:u2", chat.Message{Content: "sent while offline"})
	require.NoError(t, err)
	svc.Wait()

	r.mu.Lock()
	r.offline = false
	r.messages["u1:u2"] = []chat.Message{{
		ID: "remote-1", SenderID: "u2", SenderName: "Bob", Content: "earlier reply",
		Kind: chat.KindText, DeliveryState: chat.DeliveryDelivered,
		CreatedAt: local.CreatedAt.Add(-time.Minute),
	}}
	r.mu.Unlock()

	msgs, err := s.ListMessages(ctx, "u1:u2")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "remote-1", msgs[0].ID, "oldest first")
	assert.Equal(t, "u1:u2", msgs[0].ConversationID)
	assert.Equal(t, local.ID, msgs[1].ID, "local messages survive the merge")
}

func TestAppendMessage_AdoptsRemoteAssignedID(t *testing.T) {
	r := newFakeRemote()
	r.assignID = "srv-1"
	svc := newTestService(t, keystore.NewMemoryStore(), r)
	ctx := context.Background()
	s := storeFor(t, svc, alice)

	local, err := s.AppendMessage(ctx, "u1:u2", chat.Message{Content: "Is the 5KG bag back in stock?"})
	require.NoError(t, err)
	assert.NotEqual(t, "srv-1", local.ID)
	svc.Wait()

	msgs, err := s.ListMessages(ctx, "u1:u2")
	require.NoError(t, err)
	require.Len(t, msgs, 1, "the echoed copy replaces the local one")
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.Equal(t, chat.DeliveryDelivered, msgs[0].DeliveryState)

	for _, who := range []*shared.Identity{alice, bob} {
		convs, err := storeFor(t, svc, who).ListConversations(ctx)
		require.NoError(t, err)
		require.Len(t, convs, 1)
		require.NotNil(t, convs[0].LastMessage)
		assert.Equal(t, "srv-1", convs[0].LastMessage.ID, who.ID)
	}

	require.NoError(t, s.MarkRead(ctx, "u1:u2", "srv-1"))
}

func TestListMessages_MatchesUnreconciledEcho(t *testing.T) {
	r := newFakeRemote()
	svc := newTestService(t, keystore.NewMemoryStore(), r)
	ctx := context.Background()
	s := storeFor(t, svc, alice)

	local, err := s.AppendMessage(ctx, "u1:u2", chat.Message{Content: "Quote for 40 cases"})
	require.NoError(t, err)
	svc.Wait()

	r.mu.Lock()
	r.messages["u1:u2"] = []chat.Message{
		{ID: "srv-1", SenderID: "u1", Content: "Quote for 40 cases", Kind: chat.KindText,
			DeliveryState: chat.DeliveryDelivered, CreatedAt: local.CreatedAt.Add(3 * time.Second)},
		{ID: "srv-2", SenderID: "u1", Content: "Quote for 40 cases", Kind: chat.KindText,
			DeliveryState: chat.DeliveryDelivered, CreatedAt: local.CreatedAt.Add(time.Hour)},
	}
	r.mu.Unlock()

	msgs, err := s.ListMessages(ctx, "u1:u2")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "srv-1", msgs[0].ID)
	assert.Equal(t, "srv-2", msgs[1].ID, "a repeat outside the window is its own message")

	again, err := s.ListMessages(ctx, "u1:u2")
	require.NoError(t, err)
	assert.Len(t, again, 2)
}

func TestMarkRead(t *testing.T) {
	r := newFakeRemote()
	svc := newTestService(t, keystore.NewMemoryStore(), r)
	ctx := context.Background()

	msg, err := storeFor(t, svc, bob).AppendMessage(ctx, "u1:u2", chat.Message{Content: "order shipped"})
	require.NoError(t, err)
	svc.Wait()

	s := storeFor(t, svc, alice)
	r.offline = true
	convs, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, 1, convs[0].UnreadCount)

	r.offline = false
	require.NoError(t, s.MarkRead(ctx, "u1:u2", msg.ID))
	svc.Wait()
	assert.Equal(t, []string{msg.ID}, r.read)

	r.offline = true
	convs, err = s.ListConversations(ctx)
	require.NoError(t, err)
	assert.Zero(t, convs[0].UnreadCount)
	assert.Equal(t, chat.DeliveryRead, convs[0].LastMessage.DeliveryState)

	msgs, err := s.ListMessages(ctx, "u1:u2")
	require.NoError(t, err)
	assert.Equal(t, chat.DeliveryRead, msgs[0].DeliveryState)

	assert.Error(t, s.MarkRead(ctx, "u1:u2", "missing"))
}
