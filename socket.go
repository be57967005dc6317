package chatsync

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/bridalmarket/chatsync/frame"
	"github.com/bridalmarket/chatsync/wire"
)

// Disconnect reasons, delivered as the JSON string payload of a disconnect event.
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonServerDisconnect = "io server disconnect"
	ReasonTransportClose   = "transport close"
)

const sendQueueSize = 256

var errServerClosed = errors.New("gateway closed the connection")

type socketOptions struct {
	url       string
	tokens    TokenSource
	tokenHint string // token current when the socket was created
	timeout   time.Duration
	attempts  int
	delay     time.Duration
}

// Socket is a logical connection to the gateway. It redials on transport
// failures up to a bounded number of attempts with a fixed delay. A
// gateway-initiated close or a call to Close stops it; Connect may restart it
// after a gateway close.
type Socket struct {
	opts   socketOptions
	logger *slog.Logger
	events *emitter

	mu      sync.Mutex
	conn    *wsConn
	token   string
	running bool

	closed    chan struct{}
	closeOnce sync.Once
}

func newSocket(opts socketOptions, logger *slog.Logger) *Socket {
	return &Socket{
		opts:   opts,
		logger: logger.With("endpoint", opts.url),
		events: newEmitter(),
		closed: make(chan struct{}),
	}
}

// On registers fn for event and returns a function that removes it.
func (s *Socket) On(event string, fn Listener) func() { return s.events.on(event, fn) }

// Once registers fn for the next delivery of event only.
func (s *Socket) Once(event string, fn Listener) func() { return s.events.once(event, fn) }

// RemoveAllListeners detaches every listener.
func (s *Socket) RemoveAllListeners() { s.events.removeAll() }

// Connected reports whether an authenticated connection is live.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Token returns the access token used by the most recent successful dial.
func (s *Socket) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Connect starts dialing in the background. It is a no-op while the socket is
// already running or after Close.
func (s *Socket) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.isClosed() {
		return
	}
	s.running = true
	go s.run()
}

// Emit queues an event for the live connection.
func (s *Socket) Emit(event string, data any) error {
	encoded, compressed, err := frame.Encode(event, data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	select {
	case conn.out <- outbound{data: encoded, binary: compressed}:
		return nil
	case <-conn.done:
		return ErrNotConnected
	}
}

// Close disconnects and stops any further reconnection. Listeners stay
// attached; callers replacing the socket remove them first.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.shutdown()
	}
	return nil
}

func (s *Socket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Socket) stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Socket) run() {
	failures := 0
	for {
		conn, err := s.dial()
		if err != nil {
			if s.isClosed() {
				s.stop()
				return
			}
			s.logger.Warn("connect failed", "error", err)
			s.events.emit(wire.EventConnectError, jsonString(err.Error()))
			if !s.backoff(&failures) {
				s.stop()
				return
			}
			continue
		}

		failures = 0
		if reason := s.serve(conn); reason != ReasonTransportClose {
			return
		}
		if !s.backoff(&failures) {
			s.stop()
			return
		}
	}
}

// backoff waits the fixed reconnect delay, reporting false once attempts are
// exhausted or the socket is closed.
func (s *Socket) backoff(failures *int) bool {
	if *failures >= s.opts.attempts {
		s.logger.Warn("reconnect attempts exhausted", "attempts", s.opts.attempts)
		return false
	}
	*failures++
	t := time.NewTimer(s.opts.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.closed:
		return false
	}
}

func (s *Socket) dial() (*wsConn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.timeout)
	defer cancel()
	go func() {
		select {
		case <-s.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	token, err := accessToken(ctx, s.opts.tokens)
	if err != nil {
		return nil, &TransportError{Op: "tokens", Err: err}
	}
	if token == "" {
		return nil, ErrNoCredential
	}

	d := ws.Dialer{
		Timeout: s.opts.timeout,
		Header: ws.HandshakeHeaderHTTP(http.Header{
			"Authorization": []string{"Bearer " + token},
		}),
	}
	raw, br, _, err := d.Dial(ctx, s.opts.url)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	conn := newWSConn(raw, br)
	if err := s.handshake(conn, token); err != nil {
		conn.Conn.Close()
		return nil, err
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return conn, nil
}

// handshake sends the auth envelope and waits for the gateway's verdict.
func (s *Socket) handshake(conn *wsConn, token string) error {
	encoded, compressed, err := frame.Encode(wire.EventAuth, wire.AuthPayload{Token: token})
	if err != nil {
		return err
	}
	if err := conn.writeFrame(opFor(compressed), encoded); err != nil {
		return &TransportError{Op: "send auth", Err: err}
	}

	conn.SetReadDeadline(time.Now().Add(s.opts.timeout))
	data, compressed, err := conn.next()
	if err != nil {
		return &TransportError{Op: "read auth", Err: err}
	}
	conn.SetReadDeadline(time.Time{})

	env, err := frame.Decode(data, compressed)
	if err != nil {
		return &TransportError{Op: "decode auth", Err: err}
	}
	switch env.Event {
	case wire.EventConnect:
		return nil
	case wire.EventConnectError:
		var ce wire.ConnectError
		json.Unmarshal(env.Data, &ce)
		return fmt.Errorf("auth failed: %s", ce.Message)
	default:
		return fmt.Errorf("unexpected %q envelope during auth", env.Event)
	}
}

// serve runs one established connection until it ends and returns the reason.
func (s *Socket) serve(conn *wsConn) string {
	s.mu.Lock()
	if s.isClosed() {
		s.running = false
		s.mu.Unlock()
		conn.shutdown()
		return ReasonClientDisconnect
	}
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("connected to gateway")
	go s.writeLoop(conn)
	s.events.emit(wire.EventConnect, nil)

	reason := s.readLoop(conn)
	conn.shutdown()

	s.mu.Lock()
	s.conn = nil
	if reason != ReasonTransportClose {
		s.running = false
	}
	s.mu.Unlock()

	s.logger.Info("disconnected from gateway", "reason", reason)
	s.events.emit(wire.EventDisconnect, jsonString(reason))
	return reason
}

func (s *Socket) readLoop(conn *wsConn) string {
	for {
		data, compressed, err := conn.next()
		if err != nil {
			switch {
			case s.isClosed():
				return ReasonClientDisconnect
			case errors.Is(err, errServerClosed):
				return ReasonServerDisconnect
			default:
				s.logger.Warn("read error, disconnecting", "error", err)
				return ReasonTransportClose
			}
		}

		env, err := frame.Decode(data, compressed)
		if err != nil {
			s.logger.Debug("bad frame", "error", err)
			continue
		}
		s.events.emit(env.Event, env.Data)
	}
}

func (s *Socket) writeLoop(conn *wsConn) {
	for {
		select {
		case o := <-conn.out:
			if err := conn.writeFrame(opFor(o.binary), o.data); err != nil {
				s.logger.Warn("write error", "error", err)
				conn.Conn.Close()
				return
			}
		case <-conn.done:
			return
		}
	}
}

type outbound struct {
	data   []byte
	binary bool
}

// wsConn is the client side of one WebSocket connection. Whole frames are
// written under wmu so the write loop and control replies never interleave.
type wsConn struct {
	net.Conn
	r    io.Reader
	wmu  sync.Mutex
	out  chan outbound
	done chan struct{}
	once sync.Once
}

func newWSConn(conn net.Conn, br *bufio.Reader) *wsConn {
	c := &wsConn{
		Conn: conn,
		r:    conn,
		out:  make(chan outbound, sendQueueSize),
		done: make(chan struct{}),
	}
	if br != nil {
		// the gateway wrote ahead of the handshake response
		c.r = io.MultiReader(br, conn)
	}
	return c
}

// next returns the next data frame, answering pings along the way.
func (c *wsConn) next() ([]byte, bool, error) {
	for {
		msgs, err := wsutil.ReadServerMessage(c.r, nil)
		if err != nil {
			return nil, false, err
		}
		for _, m := range msgs {
			switch m.OpCode {
			case ws.OpPing:
				if err := c.writeFrame(ws.OpPong, m.Payload); err != nil {
					return nil, false, err
				}
			case ws.OpClose:
				return nil, false, errServerClosed
			case ws.OpText:
				return m.Payload, false, nil
			case ws.OpBinary:
				return m.Payload, true, nil
			}
		}
	}
}

func (c *wsConn) writeFrame(op ws.OpCode, payload []byte) error {
	var buf bytes.Buffer
	if err := wsutil.WriteClientMessage(&buf, op, payload); err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.Conn.Write(buf.Bytes())
	return err
}

// shutdown sends a normal close frame and closes the connection, once.
func (c *wsConn) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.Conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.writeFrame(ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.Conn.Close()
	})
}

func opFor(binary bool) ws.OpCode {
	if binary {
		return ws.OpBinary
	}
	return ws.OpText
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
