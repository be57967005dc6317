package chatsync

import (
	"slices"
	"sync"

	"github.com/bridalmarket/chatsync/wire"
)

// ConversationIndex holds at most one summary per conversation id.
type ConversationIndex struct {
	mu    sync.Mutex
	items []wire.Conversation
}

// Upsert replaces any entry with the same id by c and re-sorts the index by
// most recent activity first. Conversations without a last message sort last.
func (x *ConversationIndex) Upsert(c wire.Conversation) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.items = slices.DeleteFunc(x.items, func(have wire.Conversation) bool {
		return have.ConversationID == c.ConversationID
	})
	x.items = append(x.items, c)
	slices.SortStableFunc(x.items, func(a, b wire.Conversation) int {
		return b.LastActivity().Compare(a.LastActivity())
	})
}

// Replace swaps the whole index for list, in the order given. Repeated ids keep
// the position of their first occurrence and the data of their last.
func (x *ConversationIndex) Replace(list []wire.Conversation) {
	items := make([]wire.Conversation, 0, len(list))
	pos := make(map[string]int, len(list))
	for _, c := range list {
		if i, ok := pos[c.ConversationID]; ok {
			items[i] = c
			continue
		}
		pos[c.ConversationID] = len(items)
		items = append(items, c)
	}

	x.mu.Lock()
	x.items = items
	x.mu.Unlock()
}

// Get returns the summary for id.
func (x *ConversationIndex) Get(id string) (wire.Conversation, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, c := range x.items {
		if c.ConversationID == id {
			return c, true
		}
	}
	return wire.Conversation{}, false
}

// List returns a copy of the index in display order.
func (x *ConversationIndex) List() []wire.Conversation {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Clone(x.items)
}

// Len returns the number of conversations.
func (x *ConversationIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.items)
}
