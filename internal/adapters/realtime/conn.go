package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// wsSession is one dialled websocket and its outbound queue.
type wsSession struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func newWsSession(conn *websocket.Conn, buffer int) *wsSession {
	return &wsSession{
		conn: conn,
		send: make(chan []byte, buffer),
	}
}

func (s *wsSession) TrySend(data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrNotConnected
	}
	select {
	case s.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (s *wsSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
	_ = s.conn.Close()
}

// Conn is the caller's handle on a supervised connection. The underlying
// websocket comes and goes; the handle stays valid until Close.
type Conn struct {
	cancel func()
	done   chan struct{}

	mu   sync.RWMutex
	sess *wsSession
}

func (c *Conn) attach(s *wsSession) {
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
}

func (c *Conn) detach(s *wsSession) {
	s.Close()
	c.mu.Lock()
	if c.sess == s {
		c.sess = nil
	}
	c.mu.Unlock()
}

func (c *Conn) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess != nil
}

// Emit queues an envelope on the live websocket. It fails fast when the
// connection is down or the queue is full.
func (c *Conn) Emit(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	frame, err := json.Marshal(envelope{Event: topic, Data: data})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()
	if sess == nil {
		return ErrNotConnected
	}
	if err := sess.TrySend(frame); err != nil {
		if errors.Is(err, ErrBackpressure) {
			return fmt.Errorf("emit %s: %w", topic, err)
		}
		return err
	}
	return nil
}

// Close stops reconnecting and drops the websocket. It does not wait for
// the supervisor so it is safe to call from a listener callback.
func (c *Conn) Close() error {
	c.cancel()
	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()
	if sess != nil {
		sess.Close()
	}
	return nil
}

// Done is closed once the supervisor has exited.
func (c *Conn) Done() <-chan struct{} { return c.done }
