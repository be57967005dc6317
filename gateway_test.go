package chatsync

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/bridalmarket/chatsync/frame"
	"github.com/bridalmarket/chatsync/wire"
)

const waitTimeout = 3 * time.Second

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway is an in-process chat gateway speaking the envelope protocol.
type fakeGateway struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *gatewayConn
	reject   string // token refused with connect_error

	mu  sync.Mutex
	all []*gatewayConn
}

type gatewayConn struct {
	ws     *websocket.Conn
	token  string
	header string
	inbox  chan frame.Envelope
	closed atomic.Bool
	wmu    sync.Mutex
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{
		t:     t,
		conns: make(chan *gatewayConn, 32),
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) URL() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &gatewayConn{
		ws:     ws,
		header: r.Header.Get("Authorization"),
		inbox:  make(chan frame.Envelope, 64),
	}

	env, err := c.read()
	if err != nil || env.Event != wire.EventAuth {
		ws.Close()
		return
	}
	var auth wire.AuthPayload
	json.Unmarshal(env.Data, &auth)
	c.token = auth.Token
	if auth.Token == g.reject || c.header != "Bearer "+auth.Token {
		c.push(wire.EventConnectError, wire.ConnectError{Message: "invalid token"})
		ws.Close()
		return
	}
	c.push(wire.EventConnect, nil)

	g.mu.Lock()
	g.all = append(g.all, c)
	g.mu.Unlock()
	g.conns <- c

	for {
		env, err := c.read()
		if err != nil {
			c.closed.Store(true)
			return
		}
		c.inbox <- env
	}
}

// live counts connections the client has not closed.
func (g *fakeGateway) live() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.all {
		if !c.closed.Load() {
			n++
		}
	}
	return n
}

func (g *fakeGateway) accept() *gatewayConn {
	g.t.Helper()
	select {
	case c := <-g.conns:
		return c
	case <-time.After(waitTimeout):
		g.t.Fatal("timeout waiting for client connection")
		return nil
	}
}

func (c *gatewayConn) read() (frame.Envelope, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		return frame.Envelope{}, err
	}
	return frame.Decode(data, mt == websocket.BinaryMessage)
}

func (c *gatewayConn) push(event string, data any) {
	encoded, compressed, err := frame.Encode(event, data)
	if err != nil {
		panic(err)
	}
	mt := websocket.TextMessage
	if compressed {
		mt = websocket.BinaryMessage
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.ws.WriteMessage(mt, encoded)
}

// expect waits for the next envelope named event, skipping others.
func (c *gatewayConn) expect(t *testing.T, event string) frame.Envelope {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case env := <-c.inbox:
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %q", event)
			return frame.Envelope{}
		}
	}
}

// quiet asserts no envelope named event arrives within d.
func (c *gatewayConn) quiet(t *testing.T, event string, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case env := <-c.inbox:
			require.NotEqual(t, event, env.Event, "unexpected %q envelope", event)
		case <-deadline:
			return
		}
	}
}

// hangUp sends a close frame, as gateways do for idle connections.
func (c *gatewayConn) hangUp() {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "idle"),
		time.Now().Add(time.Second))
	c.ws.Close()
}

// drop kills the TCP connection without a close frame.
func (c *gatewayConn) drop() {
	c.ws.UnderlyingConn().Close()
}

func waitChange(t *testing.T, ch <-chan struct{}, cond func() bool) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for !cond() {
		select {
		case <-ch:
		case <-deadline:
			t.Fatal("timeout waiting for state change")
		}
	}
}
