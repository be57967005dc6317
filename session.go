package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/bridalmarket/chatsync/wire"
)

// Snapshot is the state the UI renders.
type Snapshot struct {
	Messages      []Message           `json:"messages"`
	Conversations []wire.Conversation `json:"conversations"`
	CurrentRoomID string              `json:"currentRoomId"`
	Unread        map[string]int      `json:"unread"`
	Connected     bool                `json:"connected"`
}

// Session is the messaging layer of one signed-in session. It is shared by
// every screen through Acquire and Release.
type Session struct {
	cfg      Config
	logger   *slog.Logger
	mgr      *Manager
	room     RoomCursor
	messages *MessageBuffer
	index    ConversationIndex
	reads    *ReadState
	creator  *Coordinator

	subMu sync.Mutex
	subs  map[chan struct{}]struct{}

	refMu sync.Mutex
	refs  int
}

// Open creates a session and connects if a URL and credential are available.
// The returned session holds one reference.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:      cfg,
		logger:   cfg.Logger,
		messages: NewMessageBuffer(cfg.DuplicateWindow, cfg.DedupByID),
		reads:    NewReadState(),
		creator:  NewCoordinator(cfg.CreateTimeout, cfg.Logger),
		subs:     make(map[chan struct{}]struct{}),
		refs:     1,
	}
	s.mgr = NewManager(cfg, s.attach)
	if err := s.mgr.Refresh(ctx); err != nil {
		s.logger.Warn("initial connect skipped", "error", err)
	}
	return s, nil
}

// Refresh re-reads the credential and reconnects if it changed.
func (s *Session) Refresh(ctx context.Context) error { return s.mgr.Refresh(ctx) }

// SetURL points the session at another gateway.
func (s *Session) SetURL(ctx context.Context, url string) error { return s.mgr.SetURL(ctx, url) }

// Connected reports whether the gateway connection is live.
func (s *Session) Connected() bool { return s.mgr.Connected() }

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		Messages:      s.messages.Messages(),
		Conversations: s.index.List(),
		CurrentRoomID: s.room.Current(),
		Unread:        s.reads.Unread(),
		Connected:     s.mgr.Connected(),
	}
}

// CurrentRoom returns the active conversation id.
func (s *Session) CurrentRoom() string { return s.room.Current() }

// SendMessage sends p to the gateway, addressed to the active room unless
// p.ChatRoomID is set. Without a connection it logs and returns false.
func (s *Session) SendMessage(p wire.SendMessage) bool {
	if p.ChatRoomID == "" {
		p.ChatRoomID = s.room.Current()
	}
	return s.mgr.Send(wire.EventSendMessage, p)
}

// ChangeRoom makes id the active conversation, clears the message buffer and
// requests its history. Repeating the active id, or calling it with no live
// connection, does nothing.
func (s *Session) ChangeRoom(id string) {
	if id == s.room.Current() {
		return
	}
	if !s.mgr.Connected() {
		s.logger.Warn("change room skipped, not connected", "room", id)
		return
	}
	s.messages.Reset()
	if !s.room.swap(id) {
		return
	}
	s.reads.MarkRead(id)
	s.changed()
	if id != "" {
		s.mgr.Send(wire.EventGetMessage, wire.HistoryRequest{ConversationID: id})
	}
}

// CreateConversation opens a conversation with receiverID and returns its id.
func (s *Session) CreateConversation(ctx context.Context, receiverID string) (string, error) {
	var bus Bus
	if sock := s.mgr.Current(); sock != nil {
		bus = sock
	}
	return s.creator.Create(ctx, bus, s.cfg.Identity.UserID(), receiverID)
}

// MarkRead clears the unread count of a conversation.
func (s *Session) MarkRead(id string) {
	if s.reads.MarkRead(id) {
		s.changed()
	}
}

// Subscribe returns a channel that receives a value after state changes.
// Bursts coalesce. Call the returned function to unsubscribe.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	return ch, func() {
		s.subMu.Lock()
		delete(s.subs, ch)
		s.subMu.Unlock()
	}
}

// Acquire adds a reference for another consumer of the session.
func (s *Session) Acquire() *Session {
	s.refMu.Lock()
	s.refs++
	s.refMu.Unlock()
	return s
}

// Release drops a reference. The last release closes the session.
func (s *Session) Release() {
	s.refMu.Lock()
	s.refs--
	last := s.refs == 0
	s.refMu.Unlock()
	if last {
		s.Close()
	}
}

// Close tears down the connection regardless of outstanding references.
func (s *Session) Close() {
	s.mgr.Close()
	s.changed()
}

func (s *Session) changed() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// attach installs the session's listeners on a new socket.
func (s *Session) attach(sock *Socket) {
	sock.On(wire.EventMessage, s.onMessage)
	sock.On(wire.EventConversation, s.onConversation)
	sock.On(wire.EventConversations, s.onConversations)
	sock.On(wire.EventError, func(data json.RawMessage) {
		s.logger.Warn("gateway error", "payload", string(data))
	})
	sock.On(wire.EventConnect, func(json.RawMessage) { s.changed() })
	sock.On(wire.EventDisconnect, func(json.RawMessage) { s.changed() })
}

func (s *Session) onMessage(data json.RawMessage) {
	msgs, err := decodeMessages(data)
	if err != nil {
		s.logger.Debug("bad message payload", "error", err)
		return
	}
	// read at delivery time: the active room may have changed since attach
	room := s.room.Current()
	added := false
	for _, m := range msgs {
		if room != "" && m.ConversationID != "" && m.ConversationID != room {
			continue
		}
		if s.messages.Add(m, room) {
			added = true
		}
	}
	if added {
		s.changed()
	}
}

func (s *Session) onConversation(data json.RawMessage) {
	var conv wire.Conversation
	if err := json.Unmarshal(data, &conv); err != nil || conv.ConversationID == "" {
		s.logger.Debug("bad conversation payload", "error", err)
		return
	}
	s.index.Upsert(conv)
	notify := s.reads.Observe(conv, s.cfg.Identity.UserID(), s.room.Current())
	s.changed()

	if notify && s.cfg.Notifier != nil {
		s.cfg.Notifier.Notify(Notification{
			ConversationID: conv.ConversationID,
			SenderID:       conv.LastMessage.SenderID,
			Content:        conv.LastMessage.Content,
			CreatedAt:      conv.LastMessage.CreatedAt,
			Unread:         s.reads.Count(conv.ConversationID),
		})
	}
}

func (s *Session) onConversations(data json.RawMessage) {
	var list []wire.Conversation
	if err := json.Unmarshal(data, &list); err != nil {
		s.logger.Debug("bad conversations payload", "error", err)
		return
	}
	s.index.Replace(list)
	s.reads.Baseline(list)
	s.changed()
}

// decodeMessages accepts a single message or a history batch.
func decodeMessages(data json.RawMessage) ([]wire.Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var msgs []wire.Message
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, err
		}
		return msgs, nil
	}
	var m wire.Message
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, err
	}
	return []wire.Message{m}, nil
}
