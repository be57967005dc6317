package chatsync

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/bridalmarket/chatsync/wire"
)

// Manager owns the single live Socket for a session. Every (URL, token) change
// replaces the socket; the old one is fully detached and closed first.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	attach []func(*Socket)

	mu        sync.Mutex
	url       string
	sock      *Socket
	reconnect *time.Timer
	closed    bool
}

// NewManager creates a manager. Each attach hook is called with every new
// socket before it starts dialing, so no event is missed.
func NewManager(cfg Config, attach ...func(*Socket)) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger,
		attach: attach,
		url:    cfg.URL,
	}
}

// Refresh reads the current credential and makes the live socket match the
// (URL, token) pair. With no URL or no token, any existing socket is torn down.
func (m *Manager) Refresh(ctx context.Context) error {
	token, err := accessToken(ctx, m.cfg.Tokens)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	if err != nil {
		m.logger.Warn("token source failed", "error", err)
		m.teardownLocked()
		return err
	}
	if m.url == "" || token == "" {
		m.teardownLocked()
		return nil
	}
	if m.sock != nil && m.sock.opts.url == m.url && m.sockTokenLocked() == token {
		return nil
	}

	m.teardownLocked()
	m.sock = m.newSocketLocked(token)
	m.sock.Connect()
	return nil
}

// SetURL changes the gateway URL and refreshes the connection.
func (m *Manager) SetURL(ctx context.Context, url string) error {
	m.mu.Lock()
	m.url = url
	m.mu.Unlock()
	return m.Refresh(ctx)
}

// Current returns the live socket, or nil.
func (m *Manager) Current() *Socket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sock
}

// Connected reports whether the current socket has a live connection.
func (m *Manager) Connected() bool {
	sock := m.Current()
	return sock != nil && sock.Connected()
}

// Send emits event on the live connection. Without one it logs and does
// nothing; the result reports whether the event was queued.
func (m *Manager) Send(event string, payload any) bool {
	sock := m.Current()
	if sock == nil || !sock.Connected() {
		m.logger.Warn("send skipped, not connected", "event", event)
		return false
	}
	if err := sock.Emit(event, payload); err != nil {
		m.logger.Warn("send failed", "event", event, "error", err)
		return false
	}
	return true
}

// Close tears the connection down for good.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.teardownLocked()
}

// sockTokenLocked is the token the socket was created with, or last dialed with.
func (m *Manager) sockTokenLocked() string {
	if t := m.sock.Token(); t != "" {
		return t
	}
	return m.sock.opts.tokenHint
}

func (m *Manager) newSocketLocked(token string) *Socket {
	sock := newSocket(socketOptions{
		url:       m.url,
		tokens:    m.cfg.Tokens,
		tokenHint: token,
		timeout:   m.cfg.ConnectTimeout,
		attempts:  m.cfg.ReconnectAttempts,
		delay:     m.cfg.ReconnectDelay,
	}, m.logger)

	sock.On(wire.EventConnect, func(json.RawMessage) {
		if !m.isCurrent(sock) {
			return
		}
		m.cancelReconnect(sock)
		// seeds the conversation index after every (re)connect
		if err := sock.Emit(wire.EventGetConversations, nil); err != nil {
			m.logger.Debug("conversation resync not sent", "error", err)
		}
	})
	sock.On(wire.EventDisconnect, func(data json.RawMessage) {
		var reason string
		json.Unmarshal(data, &reason)
		if reason == ReasonServerDisconnect {
			m.scheduleReconnect(sock)
		}
	})
	sock.On(wire.EventConnectError, func(data json.RawMessage) {
		var msg string
		json.Unmarshal(data, &msg)
		m.logger.Debug("connect error", "error", msg)
	})

	for _, fn := range m.attach {
		fn(sock)
	}
	return sock
}

// teardownLocked clears the manual reconnect timer, detaches every listener
// and closes the socket, in that order.
func (m *Manager) teardownLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	if m.sock == nil {
		return
	}
	m.sock.RemoveAllListeners()
	m.sock.Close()
	m.sock = nil
}

func (m *Manager) isCurrent(sock *Socket) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sock == sock
}

// scheduleReconnect arms a single manual reconnect for gateways that drop idle
// connections with a close frame, which disables the socket's own redial.
func (m *Manager) scheduleReconnect(sock *Socket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sock != sock || m.reconnect != nil {
		return
	}
	m.logger.Info("gateway closed connection, reconnecting", "delay", m.cfg.ManualReconnectDelay)
	var t *time.Timer
	t = time.AfterFunc(m.cfg.ManualReconnectDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.reconnect != t {
			return
		}
		m.reconnect = nil
		if m.sock == sock && !sock.Connected() {
			sock.Connect()
		}
	})
	m.reconnect = t
}

func (m *Manager) cancelReconnect(sock *Socket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sock == sock && m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

// reconnectPending is for tests.
func (m *Manager) reconnectPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnect != nil
}
