// Package wire defines the event names and JSON payload types exchanged with
// the chat gateway. Field names follow the gateway's camelCase convention.
package wire

import "time"

// Client -> server events.
const (
	EventAuth               = "auth"
	EventGetConversations   = "getConversations"
	EventGetMessage         = "getMessage"
	EventSendMessage        = "sendMessage"
	EventCreateConversation = "createConversation"
)

// Server -> client events.
const (
	EventMessage       = "message"
	EventConversation  = "conversation"
	EventConversations = "conversations"
	EventError         = "error"
)

// Transport lifecycle events. EventConnect and EventConnectError double as the
// gateway's reply to an auth envelope.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// AuthPayload is the first envelope sent on a fresh connection.
type AuthPayload struct {
	Token string `json:"token"`
}

// ConnectError is the payload of a connect_error envelope.
type ConnectError struct {
	Message string `json:"message"`
}

// HistoryRequest is the payload of getMessage.
type HistoryRequest struct {
	ConversationID string `json:"conversationId"`
}

// SendMessage is the payload of sendMessage.
type SendMessage struct {
	Content    string `json:"content"`
	ImageURL   string `json:"imageUrl,omitempty"`
	FileURL    string `json:"fileUrl,omitempty"`
	Type       string `json:"type,omitempty"`
	ChatRoomID string `json:"chatRoomId"`
}

// CreateConversation is the payload of createConversation. RequestID is echoed
// back on the resulting conversation event by gateways that support it.
type CreateConversation struct {
	User1ID   string `json:"user1Id"`
	User2ID   string `json:"user2Id"`
	RequestID string `json:"requestId,omitempty"`
}

// Message is a single chat message.
type Message struct {
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Type           string    `json:"type,omitempty"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	FileURL        string    `json:"fileUrl,omitempty"`
}

// LastMessage is the preview attached to a conversation summary.
type LastMessage struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	SenderID  string    `json:"senderId,omitempty"`
	Type      string    `json:"type,omitempty"`
}

// Participant describes the counterpart of a conversation.
type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Conversation is a conversation summary, one per counterpart.
type Conversation struct {
	ConversationID string       `json:"conversationId"`
	ReceiverID     string       `json:"receiverId"`
	Receiver       *Participant `json:"receiver,omitempty"`
	LastMessage    *LastMessage `json:"lastMessage,omitempty"`
	RequestID      string       `json:"requestId,omitempty"`
}

// LastActivity returns the lastMessage timestamp, or the zero time when the
// conversation has no messages yet.
func (c Conversation) LastActivity() time.Time {
	if c.LastMessage == nil {
		return time.Time{}
	}
	return c.LastMessage.CreatedAt
}
