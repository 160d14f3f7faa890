package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Dispatch/internal/core"
)

type emitted struct {
	topic   string
	payload any
}

type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (t *fakeTransport) Connect(_ context.Context, token string, l core.TransportListener) (core.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	c := &fakeConn{token: token, l: l}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) last() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[len(t.conns)-1]
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

type fakeConn struct {
	mu        sync.Mutex
	token     string
	l         core.TransportListener
	connected bool
	closed    bool
	emits     []emitted
}

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

func (c *fakeConn) Emit(topic string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return errors.New("not connected")
	}
	c.emits = append(c.emits, emitted{topic: topic, payload: payload})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) up() {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.l.OnConnect()
}

func (c *fakeConn) drop() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.l.OnDisconnect(errors.New("unexpected EOF"))
}

func (c *fakeConn) push(topic, payload string) {
	c.l.OnMessage(topic, []byte(payload))
}

func (c *fakeConn) emitted() []emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]emitted(nil), c.emits...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeAuth struct {
	mu    sync.Mutex
	token string
	subs  []func(string)
}

func (a *fakeAuth) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

func (a *fakeAuth) Subscribe(fn func(string)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs = append(a.subs, fn)
	return func() {}
}

func (a *fakeAuth) set(token string) {
	a.mu.Lock()
	a.token = token
	subs := append([]func(string){}, a.subs...)
	a.mu.Unlock()
	for _, fn := range subs {
		fn(token)
	}
}
