// Package realtime is the websocket client behind the event channel. It
// speaks a small JSON envelope {"event": topic, "data": payload} and keeps
// reconnecting with exponential backoff until closed.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"github.com/dkeye/Dispatch/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrNotConnected = errors.New("not connected")
	ErrUnauthorized = core.ErrCredentialRejected
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Options struct {
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	SendBuffer   int
	MinBackoff   time.Duration
	MaxBackoff   time.Duration

	// StableAfter is how long a session must stay up before the backoff
	// starts over from MinBackoff.
	StableAfter time.Duration
}

func DefaultOptions() Options {
	return Options{
		PingPeriod:   25 * time.Second,
		WriteTimeout: 5 * time.Second,
		ReadLimit:    1 << 20,
		SendBuffer:   32,
		MinBackoff:   500 * time.Millisecond,
		MaxBackoff:   30 * time.Second,
		StableAfter:  10 * time.Second,
	}
}

// Transport dials the dashboard's push endpoint.
type Transport struct {
	url    string
	opts   Options
	dialer *websocket.Dialer
}

func NewTransport(rawURL string, opts Options) (*Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse channel url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("channel url scheme %q: want ws or wss", u.Scheme)
	}
	def := DefaultOptions()
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = def.PingPeriod
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = def.ReadLimit
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = def.MinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = def.MaxBackoff
	}
	if opts.StableAfter <= 0 {
		opts.StableAfter = def.StableAfter
	}
	return &Transport{
		url:    u.String(),
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

// Connect starts a supervised connection and returns immediately. The
// listener is always invoked from the supervising goroutine. The
// connection outlives ctx; only Close ends it.
func (t *Transport) Connect(ctx context.Context, token string, l core.TransportListener) (core.Connection, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Conn{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.supervise(ctx, c, token, l)
	return c, nil
}

func (t *Transport) supervise(ctx context.Context, c *Conn, token string, l core.TransportListener) {
	defer close(c.done)
	b := t.newBackoff()
	for {
		ws, err := t.dialWithBackoff(ctx, b, token)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("module", "realtime").Msg("giving up on channel")
				l.OnDisconnect(err)
			}
			return
		}

		sess := newWsSession(ws, t.opts.SendBuffer)
		c.attach(sess)
		log.Info().Str("module", "realtime").Msg("channel connected")
		l.OnConnect()

		up := time.Now()
		err = t.serve(ctx, sess, l)
		c.detach(sess)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("module", "realtime").Msg("channel dropped, reconnecting")
		l.OnDisconnect(err)

		if time.Since(up) >= t.opts.StableAfter {
			b = t.newBackoff()
		}
		if !t.wait(ctx, b) {
			return
		}
	}
}

// newBackoff builds the schedule shared by dial retries and the pause
// after a drop.
func (t *Transport) newBackoff() retry.Backoff {
	b := retry.NewExponential(t.opts.MinBackoff)
	b = retry.WithJitter(t.opts.MinBackoff/2, b)
	return retry.WithCappedDuration(t.opts.MaxBackoff, b)
}

// wait sleeps for the next backoff step, never less than MinBackoff.
func (t *Transport) wait(ctx context.Context, b retry.Backoff) bool {
	delay, _ := b.Next()
	delay = max(delay, t.opts.MinBackoff)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (t *Transport) dialWithBackoff(ctx context.Context, b retry.Backoff, token string) (*websocket.Conn, error) {
	var ws *websocket.Conn
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		conn, err := t.dial(ctx, token)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				return err
			}
			log.Debug().Err(err).Str("module", "realtime").Msg("dial failed")
			return retry.RetryableError(err)
		}
		ws = conn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func (t *Transport) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", t.url, err)
	}
	ws.SetReadLimit(t.opts.ReadLimit)
	return ws, nil
}

// serve runs the pumps for one websocket until it fails or ctx ends.
func (t *Transport) serve(ctx context.Context, sess *wsSession, l core.TransportListener) error {
	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go t.writePump(pumpCtx, sess)
	go func() {
		<-pumpCtx.Done()
		sess.Close()
	}()
	return t.readPump(sess, l)
}

func (t *Transport) writePump(ctx context.Context, sess *wsSession) {
	ticker := time.NewTicker(t.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-sess.send:
			if !ok {
				return
			}
			if err := sess.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "realtime").Msg("writePump set deadline")
				sess.Close()
				return
			}
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "realtime").Msg("writePump write error")
				sess.Close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(t.opts.WriteTimeout)
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Warn().Err(err).Str("module", "realtime").Msg("ping failed")
				sess.Close()
				return
			}
		}
	}
}

func (t *Transport) readPump(sess *wsSession, l core.TransportListener) error {
	pongWait := t.opts.PingPeriod * 2
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Str("module", "realtime").Msg("bad envelope")
			continue
		}
		if env.Event == "" {
			log.Warn().Str("module", "realtime").Msg("envelope without event")
			continue
		}
		l.OnMessage(env.Event, env.Data)
	}
}
