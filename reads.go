package chatsync

import (
	"maps"
	"sync"
	"time"

	"github.com/bridalmarket/chatsync/wire"
)

// ReadState counts unread conversation updates. Only incremental conversation
// events count; snapshots set the baseline.
type ReadState struct {
	mu     sync.Mutex
	unread map[string]int
	seen   map[string]time.Time // newest lastMessage observed per conversation
}

func NewReadState() *ReadState {
	return &ReadState{
		unread: make(map[string]int),
		seen:   make(map[string]time.Time),
	}
}

// Observe records an incremental conversation event and reports whether it
// made the conversation unread: its last message is newer than any observed,
// was not sent by self, and the conversation is not the active room.
func (r *ReadState) Observe(c wire.Conversation, self, active string) bool {
	if c.LastMessage == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	at := c.LastMessage.CreatedAt
	if last, ok := r.seen[c.ConversationID]; ok && !at.After(last) {
		return false
	}
	r.seen[c.ConversationID] = at

	if self != "" && c.LastMessage.SenderID == self {
		return false
	}
	if c.ConversationID == active {
		return false
	}
	r.unread[c.ConversationID]++
	return true
}

// Baseline marks every last message in list as observed without counting it.
func (r *ReadState) Baseline(list []wire.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range list {
		if c.LastMessage == nil {
			continue
		}
		if last, ok := r.seen[c.ConversationID]; !ok || c.LastMessage.CreatedAt.After(last) {
			r.seen[c.ConversationID] = c.LastMessage.CreatedAt
		}
	}
}

// MarkRead clears the unread count of id and reports whether it had one.
func (r *ReadState) MarkRead(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unread[id] == 0 {
		return false
	}
	delete(r.unread, id)
	return true
}

// Count returns the unread count of id.
func (r *ReadState) Count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread[id]
}

// Unread returns a copy of all non-zero counts.
func (r *ReadState) Unread() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.unread)
}

// Total returns the sum of all counts, for badges.
func (r *ReadState) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.unread {
		n += c
	}
	return n
}
