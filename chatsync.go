// Package chatsync is the client-side real-time messaging layer of the bridal
// marketplace app. It keeps one authenticated WebSocket connection to the chat
// gateway, tracks the active conversation, buffers and de-duplicates its
// messages, and maintains a recency-sorted index of conversation summaries.
package chatsync

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Defaults applied to zero Config fields.
const (
	DefaultConnectTimeout       = 10 * time.Second
	DefaultReconnectAttempts    = 5
	DefaultReconnectDelay       = time.Second
	DefaultManualReconnectDelay = 2 * time.Second
	DefaultDuplicateWindow      = time.Second
	DefaultCreateTimeout        = 10 * time.Second
)

// Config holds session parameters.
type Config struct {
	URL      string      // gateway WebSocket URL (e.g. "wss://chat.example.com/ws")
	Tokens   TokenSource // bearer credential, consulted on every dial
	Identity Identity    // local user; required for CreateConversation
	Notifier Notifier    // optional push sink for unread conversation events
	Logger   *slog.Logger

	ConnectTimeout       time.Duration
	ReconnectAttempts    int
	ReconnectDelay       time.Duration
	ManualReconnectDelay time.Duration // after a gateway-initiated disconnect
	DuplicateWindow      time.Duration // createdAt distance under which equal messages collapse
	CreateTimeout        time.Duration
	DedupByID            bool // trust gateway message ids for de-duplication
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Identity == nil {
		c.Identity = StaticIdentity("")
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.ManualReconnectDelay <= 0 {
		c.ManualReconnectDelay = DefaultManualReconnectDelay
	}
	if c.DuplicateWindow <= 0 {
		c.DuplicateWindow = DefaultDuplicateWindow
	}
	if c.CreateTimeout <= 0 {
		c.CreateTimeout = DefaultCreateTimeout
	}
	return c
}

func (c Config) validate() error {
	if c.Tokens == nil {
		return errors.New("chatsync: Config.Tokens is required")
	}
	return nil
}

// Tokens is the credential pair issued by the auth flow.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// TokenSource supplies the current credential. It may return nil tokens when
// the user is signed out.
type TokenSource interface {
	Tokens(ctx context.Context) (*Tokens, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (*Tokens, error)

func (f TokenFunc) Tokens(ctx context.Context) (*Tokens, error) { return f(ctx) }

// StaticTokens is a fixed credential.
type StaticTokens Tokens

func (t StaticTokens) Tokens(context.Context) (*Tokens, error) {
	tok := Tokens(t)
	return &tok, nil
}

// Identity reports the signed-in user. An empty id means nobody is signed in.
type Identity interface {
	UserID() string
}

// StaticIdentity is a fixed user id.
type StaticIdentity string

func (s StaticIdentity) UserID() string { return string(s) }

func accessToken(ctx context.Context, src TokenSource) (string, error) {
	tok, err := src.Tokens(ctx)
	if err != nil {
		return "", err
	}
	if tok == nil {
		return "", nil
	}
	return tok.AccessToken, nil
}
