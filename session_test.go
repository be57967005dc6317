package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridalmarket/chatsync/wire"
)

func openTestSession(t *testing.T, cfg Config) (*Session, <-chan struct{}) {
	t.Helper()
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	ch, unsubscribe := s.Subscribe()
	t.Cleanup(unsubscribe)
	return s, ch
}

// connectedSession opens a session against g and waits for the initial resync request.
func connectedSession(t *testing.T, g *fakeGateway, mutate ...func(*Config)) (*Session, <-chan struct{}, *gatewayConn) {
	t.Helper()
	cfg := testConfig(g.URL(), StaticTokens{AccessToken: "tok"})
	cfg.Identity = StaticIdentity("me")
	for _, fn := range mutate {
		fn(&cfg)
	}
	s, ch := openTestSession(t, cfg)
	conn := g.accept()
	conn.expect(t, wire.EventGetConversations)
	waitChange(t, ch, s.Connected)
	return s, ch, conn
}

func TestOpenRequiresTokens(t *testing.T) {
	_, err := Open(context.Background(), Config{URL: "ws://localhost"})
	assert.Error(t, err)
}

func TestSessionSeedsConversationsOnConnect(t *testing.T) {
	g := newFakeGateway(t)
	s, ch, conn := connectedSession(t, g)

	conn.push(wire.EventConversations, []wire.Conversation{
		convAt("c-1", "u1", "the fitting is on friday", time.Hour),
		convAt("c-2", "u2", "thanks!", time.Minute),
	})

	waitChange(t, ch, func() bool { return len(s.Snapshot().Conversations) == 2 })
	assert.Equal(t, "c-1", s.Snapshot().Conversations[0].ConversationID)
	assert.True(t, s.Snapshot().Connected)
}

func TestSessionConversationEventsUpsert(t *testing.T) {
	g := newFakeGateway(t)
	s, ch, conn := connectedSession(t, g)

	for i := 0; i < 5; i++ {
		conn.push(wire.EventConversation, convAt("c-1", "u1", fmt.Sprintf("v%d", i), time.Duration(i)*time.Second))
	}

	waitChange(t, ch, func() bool {
		c, ok := s.index.Get("c-1")
		return ok && c.LastMessage.Content == "v4"
	})
	assert.Len(t, s.Snapshot().Conversations, 1)
}

func TestSessionChangeRoomIsIdempotent(t *testing.T) {
	g := newFakeGateway(t)
	s, ch, conn := connectedSession(t, g)

	s.ChangeRoom("c-1")
	env := conn.expect(t, wire.EventGetMessage)
	var req wire.HistoryRequest
	require.NoError(t, json.Unmarshal(env.Data, &req))
	assert.Equal(t, "c-1", req.ConversationID)

	conn.push(wire.EventMessage, wire.Message{ConversationID: "c-1", SenderID: "u1", Content: "hi", CreatedAt: t0})
	waitChange(t, ch, func() bool { return len(s.Snapshot().Messages) == 1 })

	s.ChangeRoom("c-1")
	conn.quiet(t, wire.EventGetMessage, 100*time.Millisecond)
	assert.Len(t, s.Snapshot().Messages, 1, "buffer kept on repeated room")
	assert.Equal(t, "c-1", s.CurrentRoom())
}

func TestSessionRoomSwitchClearsAndTags(t *testing.T) {
	g := newFakeGateway(t)
	s, ch, conn := connectedSession(t, g)

	s.ChangeRoom("c-1")
	conn.expect(t, wire.EventGetMessage)
	conn.push(wire.EventMessage, []wire.Message{
		{ConversationID: "c-1", SenderID: "u1", Content: "second", CreatedAt: t0.Add(time.Minute)},
		{ConversationID: "c-1", SenderID: "u1", Content: "first", CreatedAt: t0},
	})
	waitChange(t, ch, func() bool { return len(s.Snapshot().Messages) == 2 })
	assert.Equal(t, "first", s.Snapshot().Messages[0].Content)

	s.ChangeRoom("c-2")
	assert.Empty(t, s.Snapshot().Messages, "buffer cleared before history arrives")
	conn.expect(t, wire.EventGetMessage)

	conn.push(wire.EventMessage, wire.Message{ConversationID: "c-1", SenderID: "u1", Content: "late", CreatedAt: t0.Add(time.Hour)})
	conn.push(wire.EventMessage, wire.Message{SenderID: "u2", Content: "hello", CreatedAt: t0})
	waitChange(t, ch, func() bool { return len(s.Snapshot().Messages) >= 1 })

	msgs := s.Snapshot().Messages
	require.Len(t, msgs, 1, "messages for another room are not buffered")
	assert.Equal(t, "c-2", msgs[0].RoomID)
}

func TestSessionDeduplicatesEchoes(t *testing.T) {
	g := newFakeGateway(t)
	s, ch, conn := connectedSession(t, g)

	s.ChangeRoom("c-1")
	conn.expect(t, wire.EventGetMessage)
	conn.push(wire.EventMessage, wire.Message{ConversationID: "c-1", SenderID: "me", Content: "ok", CreatedAt: t0})
	conn.push(wire.EventMessage, wire.Message{ConversationID: "c-1", SenderID: "me", Content: "ok", CreatedAt: t0.Add(500 * time.Millisecond)})
	conn.push(wire.EventMessage, wire.Message{ConversationID: "c-1", SenderID: "me", Content: "ok", CreatedAt: t0.Add(2 * time.Second)})

	waitChange(t, ch, func() bool { return len(s.Snapshot().Messages) == 2 })
	assert.Len(t, s.Snapshot().Messages, 2)
}

func TestSessionSendMessageDefaultsToRoom(t *testing.T) {
	g := newFakeGateway(t)
	s, _, conn := connectedSession(t, g)

	s.ChangeRoom("c-3")
	conn.expect(t, wire.EventGetMessage)

	require.True(t, s.SendMessage(wire.SendMessage{Content: "is the veil included?"}))
	env := conn.expect(t, wire.EventSendMessage)
	var p wire.SendMessage
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "c-3", p.ChatRoomID)
	assert.Equal(t, "is the veil included?", p.Content)
}

func TestSessionCreateConversation(t *testing.T) {
	g := newFakeGateway(t)
	s, _, conn := connectedSession(t, g)

	type result struct {
		id  string
		err error
	}
	out := make(chan result, 1)
	go func() {
		id, err := s.CreateConversation(context.Background(), "user-42")
		out <- result{id, err}
	}()

	env := conn.expect(t, wire.EventCreateConversation)
	var req wire.CreateConversation
	require.NoError(t, json.Unmarshal(env.Data, &req))
	assert.Equal(t, "me", req.User1ID)
	assert.Equal(t, "user-42", req.User2ID)
	assert.NotEmpty(t, req.RequestID)

	conn.push(wire.EventConversation, wire.Conversation{ConversationID: "c-2", ReceiverID: "user-99"})
	conn.push(wire.EventConversation, wire.Conversation{ConversationID: "c-1", ReceiverID: "user-42"})

	select {
	case r := <-out:
		require.NoError(t, r.err)
		assert.Equal(t, "c-1", r.id)
	case <-time.After(waitTimeout):
		t.Fatal("CreateConversation did not return")
	}
	require.Eventually(t, func() bool { return s.index.Len() == 2 }, waitTimeout, 10*time.Millisecond)
}

func TestSessionCreateConversationWithSelf(t *testing.T) {
	g := newFakeGateway(t)
	s, _, conn := connectedSession(t, g)

	_, err := s.CreateConversation(context.Background(), "me")
	assert.ErrorIs(t, err, ErrSelfConversation)
	conn.quiet(t, wire.EventCreateConversation, 100*time.Millisecond)
}

func TestSessionCreateConversationSignedOut(t *testing.T) {
	g := newFakeGateway(t)
	s, _, _ := connectedSession(t, g, func(c *Config) { c.Identity = nil })

	_, err := s.CreateConversation(context.Background(), "user-42")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSessionOfflineOperations(t *testing.T) {
	s, _ := openTestSession(t, testConfig("", StaticTokens{AccessToken: "tok"}))

	assert.False(t, s.SendMessage(wire.SendMessage{Content: "hi", ChatRoomID: "c-1"}))
	s.ChangeRoom("c-1")
	assert.Equal(t, "", s.CurrentRoom(), "room change needs a connection")

	_, err := s.CreateConversation(context.Background(), "user-42")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, s.Snapshot().Connected)
}

func TestSessionNotifiesUnreadConversations(t *testing.T) {
	g := newFakeGateway(t)
	notes := make(chan Notification, 4)
	s, ch, conn := connectedSession(t, g, func(c *Config) {
		c.Notifier = NotifierFunc(func(n Notification) { notes <- n })
	})

	s.ChangeRoom("c-open")
	conn.expect(t, wire.EventGetMessage)

	conn.push(wire.EventConversation, fromSender(convAt("c-open", "u1", "seen already", time.Minute), "u1"))
	conn.push(wire.EventConversation, fromSender(convAt("c-other", "u2", "your dress shipped", time.Minute), "u2"))

	select {
	case n := <-notes:
		assert.Equal(t, "c-other", n.ConversationID)
		assert.Equal(t, "your dress shipped", n.Content)
		assert.Equal(t, 1, n.Unread)
	case <-time.After(waitTimeout):
		t.Fatal("expected a notification")
	}
	waitChange(t, ch, func() bool { return s.Snapshot().Unread["c-other"] == 1 })
	assert.NotContains(t, s.Snapshot().Unread, "c-open")

	s.ChangeRoom("c-other")
	assert.Empty(t, s.Snapshot().Unread)
}

func TestSessionReleaseClosesOnLastReference(t *testing.T) {
	g := newFakeGateway(t)
	s, _, _ := connectedSession(t, g)

	shared := s.Acquire()
	shared.Release()
	assert.True(t, s.Connected(), "one reference still held")

	s.Release()
	require.Eventually(t, func() bool { return g.live() == 0 }, waitTimeout, 10*time.Millisecond)
	assert.False(t, s.Connected())
}

func TestSessionResyncsAfterReconnect(t *testing.T) {
	g := newFakeGateway(t)
	s, ch, conn := connectedSession(t, g)

	conn.push(wire.EventConversations, []wire.Conversation{convAt("c-1", "u1", "a", 0)})
	waitChange(t, ch, func() bool { return s.index.Len() == 1 })

	conn.hangUp()
	next := g.accept()
	next.expect(t, wire.EventGetConversations)
	next.push(wire.EventConversations, []wire.Conversation{
		convAt("c-1", "u1", "a", 0),
		convAt("c-9", "u9", "while you were away", time.Hour),
	})
	waitChange(t, ch, func() bool { return s.index.Len() == 2 })
}

func TestDecodeMessages(t *testing.T) {
	one, err := decodeMessages(json.RawMessage(`{"senderId":"u1","content":"hi","createdAt":"2026-06-01T12:00:00Z"}`))
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.True(t, one[0].CreatedAt.Equal(t0))

	many, err := decodeMessages(json.RawMessage(` [{"senderId":"u1"},{"senderId":"u2"}]`))
	require.NoError(t, err)
	assert.Len(t, many, 2)

	_, err = decodeMessages(json.RawMessage(`"nope"`))
	assert.Error(t, err)
}
