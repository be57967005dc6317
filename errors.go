package chatsync

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("chatsync: not connected")
	ErrUnauthenticated  = errors.New("chatsync: no signed-in user")
	ErrSelfConversation = errors.New("chatsync: cannot open a conversation with yourself")
	ErrTimeout          = errors.New("chatsync: timed out waiting for gateway")
	ErrNoCredential     = errors.New("chatsync: no access token")
)

// GatewayError is an error event sent by the gateway in reply to a request.
type GatewayError struct {
	Payload []byte
}

func (e *GatewayError) Error() string {
	if len(e.Payload) == 0 {
		return "chatsync: gateway error"
	}
	return "chatsync: gateway error: " + string(e.Payload)
}

// TransportError wraps a connection-level failure. These are logged and
// reported through connect_error, never returned to UI callers.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("chatsync: %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }
