package chatsync

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bridalmarket/chatsync/wire"
)

// Bus is the part of a Socket the Coordinator needs.
type Bus interface {
	On(event string, fn Listener) func()
	Once(event string, fn Listener) func()
	Emit(event string, data any) error
	Connected() bool
}

// Coordinator resolves "open a conversation with user R" into a conversation
// id over the event stream, which has no native request/response.
type Coordinator struct {
	timeout time.Duration
	logger  *slog.Logger
	newID   func() string
}

func NewCoordinator(timeout time.Duration, logger *slog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultCreateTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		timeout: timeout,
		logger:  logger,
		newID:   func() string { return uuid.NewString() },
	}
}

type createResult struct {
	id  string
	err error
}

// Create emits createConversation and waits for the matching conversation
// event, a gateway error event, the timeout, or ctx, whichever comes first.
//
// A conversation event matches when it echoes this request's id, or, for
// gateways that do not echo ids, when it carries no request id and its
// receiverId equals receiverID. Unrelated events are left to other listeners.
func (c *Coordinator) Create(ctx context.Context, bus Bus, selfID, receiverID string) (string, error) {
	if bus == nil || !bus.Connected() {
		c.logger.Warn("create conversation skipped, not connected", "receiver", receiverID)
		return "", ErrNotConnected
	}
	if selfID == "" {
		return "", ErrUnauthenticated
	}
	if receiverID == selfID {
		return "", ErrSelfConversation
	}

	reqID := c.newID()
	done := make(chan createResult, 1)
	armed := make(chan struct{})
	var (
		once    sync.Once
		offConv func()
		offErr  func()
		timer   *time.Timer
	)
	// settle removes both listeners and the timer exactly once; the first
	// outcome wins.
	settle := func(r createResult) {
		once.Do(func() {
			<-armed
			offConv()
			offErr()
			timer.Stop()
			done <- r
		})
	}

	offConv = bus.On(wire.EventConversation, func(data json.RawMessage) {
		var conv wire.Conversation
		if err := json.Unmarshal(data, &conv); err != nil {
			return
		}
		if !matchesRequest(conv, reqID, receiverID) {
			return
		}
		settle(createResult{id: conv.ConversationID})
	})
	offErr = bus.Once(wire.EventError, func(data json.RawMessage) {
		settle(createResult{err: &GatewayError{Payload: append([]byte(nil), data...)}})
	})
	timer = time.AfterFunc(c.timeout, func() { settle(createResult{err: ErrTimeout}) })
	close(armed)

	err := bus.Emit(wire.EventCreateConversation, wire.CreateConversation{
		User1ID:   selfID,
		User2ID:   receiverID,
		RequestID: reqID,
	})
	if err != nil {
		settle(createResult{err: err})
	}

	select {
	case r := <-done:
		if r.err != nil {
			c.logger.Warn("create conversation failed", "receiver", receiverID, "error", r.err)
		}
		return r.id, r.err
	case <-ctx.Done():
		settle(createResult{err: ctx.Err()})
		r := <-done
		return r.id, r.err
	}
}

func matchesRequest(conv wire.Conversation, reqID, receiverID string) bool {
	if conv.RequestID != "" {
		return conv.RequestID == reqID
	}
	return conv.ReceiverID == receiverID
}
