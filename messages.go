package chatsync

import (
	"slices"
	"sync"
	"time"

	"github.com/bridalmarket/chatsync/frame"
	"github.com/bridalmarket/chatsync/wire"
)

// Message is a buffered message tagged with the room that was active when it
// was appended.
type Message struct {
	wire.Message
	RoomID string `json:"roomId"`
}

// MessageBuffer is the visible message list of the active room, kept sorted
// ascending by CreatedAt.
type MessageBuffer struct {
	mu     sync.Mutex
	window time.Duration
	ids    *frame.DedupWindow // nil unless gateway ids are trusted
	msgs   []Message
}

// NewMessageBuffer creates a buffer. Messages from the same sender with the same
// content and createdAt values less than window apart are treated as one. With
// byID set, messages that carry an id are de-duplicated on it instead.
func NewMessageBuffer(window time.Duration, byID bool) *MessageBuffer {
	if window <= 0 {
		window = DefaultDuplicateWindow
	}
	b := &MessageBuffer{window: window}
	if byID {
		b.ids = frame.NewDedupWindow(0, 0)
	}
	return b
}

// Add appends m tagged with room unless it duplicates a buffered message, then
// re-sorts the buffer. It reports whether the buffer changed.
func (b *MessageBuffer) Add(m wire.Message, room string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ids != nil && m.ID != "" {
		if b.ids.IsDuplicate(m.ID) {
			return false
		}
	} else if b.containsLocked(m) {
		return false
	}

	b.msgs = append(b.msgs, Message{Message: m, RoomID: room})
	slices.SortStableFunc(b.msgs, func(x, y Message) int {
		return x.CreatedAt.Compare(y.CreatedAt)
	})
	return true
}

func (b *MessageBuffer) containsLocked(m wire.Message) bool {
	for _, have := range b.msgs {
		if sameOccurrence(have.Message, m, b.window) {
			return true
		}
	}
	return false
}

// sameOccurrence is the duplicate heuristic: same sender, same content, and
// timestamps closer than window.
func sameOccurrence(a, b wire.Message, window time.Duration) bool {
	if a.SenderID != b.SenderID || a.Content != b.Content {
		return false
	}
	d := a.CreatedAt.Sub(b.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d < window
}

// Reset empties the buffer.
func (b *MessageBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = nil
	if b.ids != nil {
		b.ids.Reset()
	}
}

// Messages returns a copy of the buffer.
func (b *MessageBuffer) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.msgs)
}

// Len returns the number of buffered messages.
func (b *MessageBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}
