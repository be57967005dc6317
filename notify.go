package chatsync

import "time"

// Notification describes a conversation that just became unread.
type Notification struct {
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
	Unread         int
}

// Notifier is the push notification sink. Notify is called from the socket's
// delivery goroutine and should not block.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }
