// Package channel keeps the dashboard's single push connection alive and
// fans decoded events out to typed topic handlers.
package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Dispatch/internal/core"
	"github.com/dkeye/Dispatch/internal/domain"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Outbound room control topics.
const (
	topicJoinCall  = "join_call"
	topicLeaveCall = "leave_call"
)

type roomPayload struct {
	CallID domain.CallID `json:"call_id"`
}

// Manager owns at most one live connection. Subscriptions and room
// memberships belong to the Manager, not to the connection, so they
// outlive drops, reconnects and credential changes.
type Manager struct {
	transport core.Transport
	registry  *Registry

	mu    sync.Mutex
	conn  core.Connection
	token string
	gen   uint64
	rooms map[domain.CallID]struct{}

	state     atomic.Int32
	stateMu   sync.Mutex
	stateFns  map[uint64]func(State)
	nextState uint64
}

func NewManager(t core.Transport) *Manager {
	return &Manager{
		transport: t,
		registry:  NewRegistry(),
		rooms:     make(map[domain.CallID]struct{}),
		stateFns:  make(map[uint64]func(State)),
	}
}

// Connect establishes the connection for credential. Calling it again with
// the same credential is a no-op; a different credential replaces the
// connection. An empty credential disconnects.
func (m *Manager) Connect(ctx context.Context, credential string) {
	if credential == "" {
		m.Disconnect()
		return
	}

	m.mu.Lock()
	if m.conn != nil && m.token == credential {
		m.mu.Unlock()
		return
	}
	old := m.conn
	m.gen++
	gen := m.gen
	m.conn = nil
	m.token = credential
	m.mu.Unlock()

	if old != nil {
		log.Info().Str("module", "channel").Msg("credential changed, replacing connection")
		_ = old.Close()
	}
	m.setState(StateConnecting)

	conn, err := m.transport.Connect(ctx, credential, &connListener{m: m, gen: gen})
	if err != nil {
		log.Error().Err(err).Str("module", "channel").Msg("connect failed")
		m.mu.Lock()
		if m.gen == gen {
			m.token = ""
		}
		m.mu.Unlock()
		m.setState(StateClosed)
		return
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.mu.Unlock()

	// The first dial may already have finished before conn was recorded.
	if conn.Connected() {
		m.rejoin(conn)
	}
}

// Disconnect tears the connection down. Subscriptions and rooms are kept.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	old := m.conn
	m.gen++
	m.conn = nil
	m.token = ""
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
		log.Info().Str("module", "channel").Msg("disconnected")
	}
	m.setState(StateClosed)
}

// BindAuth ties the connection lifetime to provider's login/logout cycle.
func (m *Manager) BindAuth(ctx context.Context, provider core.AuthProvider) (unbind func()) {
	unbind = provider.Subscribe(func(token string) {
		m.Connect(ctx, token)
	})
	if tok := provider.Token(); tok != "" {
		m.Connect(ctx, tok)
	}
	return unbind
}

func (m *Manager) On(topic domain.Topic, h *Handler) {
	m.registry.Add(topic, h)
}

func (m *Manager) Off(topic domain.Topic, h *Handler) {
	m.registry.Remove(topic, h)
}

// JoinCallRoom records membership and, when connected, tells the server.
// While disconnected the join is sent on the next connect.
func (m *Manager) JoinCallRoom(id domain.CallID) {
	if id == "" {
		return
	}
	m.mu.Lock()
	m.rooms[id] = struct{}{}
	conn := m.conn
	m.mu.Unlock()

	log.Info().Str("module", "channel").Str("call_id", string(id)).Msg("join call room")
	if conn != nil && conn.Connected() {
		m.emit(conn, topicJoinCall, roomPayload{CallID: id})
	}
}

func (m *Manager) LeaveCallRoom(id domain.CallID) {
	m.mu.Lock()
	_, ok := m.rooms[id]
	delete(m.rooms, id)
	conn := m.conn
	m.mu.Unlock()

	if !ok {
		return
	}
	log.Info().Str("module", "channel").Str("call_id", string(id)).Msg("leave call room")
	if conn != nil && conn.Connected() {
		m.emit(conn, topicLeaveCall, roomPayload{CallID: id})
	}
}

func (m *Manager) Rooms() []domain.CallID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CallID, 0, len(m.rooms))
	for id := range m.rooms {
		out = append(out, id)
	}
	return out
}

func (m *Manager) State() State    { return State(m.state.Load()) }
func (m *Manager) Connected() bool { return m.State() == StateOpen }

// OnStateChange registers fn for connection state transitions.
func (m *Manager) OnStateChange(fn func(State)) (unsubscribe func()) {
	m.stateMu.Lock()
	id := m.nextState
	m.nextState++
	m.stateFns[id] = fn
	m.stateMu.Unlock()
	return func() {
		m.stateMu.Lock()
		delete(m.stateFns, id)
		m.stateMu.Unlock()
	}
}

func (m *Manager) setState(s State) {
	if State(m.state.Swap(int32(s))) == s {
		return
	}
	log.Info().Str("module", "channel").Str("state", s.String()).Msg("connection state")
	m.stateMu.Lock()
	fns := make([]func(State), 0, len(m.stateFns))
	for _, fn := range m.stateFns {
		fns = append(fns, fn)
	}
	m.stateMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (m *Manager) rejoin(conn core.Connection) {
	for _, id := range m.Rooms() {
		m.emit(conn, topicJoinCall, roomPayload{CallID: id})
	}
}

func (m *Manager) emit(conn core.Connection, topic string, payload any) {
	if err := conn.Emit(topic, payload); err != nil {
		log.Warn().Err(err).Str("module", "channel").Str("topic", topic).Msg("emit failed")
	}
}

func (m *Manager) dispatch(topic string, payload []byte) {
	ev, err := domain.DecodeEvent(domain.Topic(topic), payload)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTopic) {
			log.Debug().Str("module", "channel").Str("topic", topic).Msg("ignoring topic")
			return
		}
		log.Error().Err(err).Str("module", "channel").Msg("bad event payload")
		return
	}
	m.registry.Dispatch(ev)
}

// connListener drops callbacks from connections the Manager has replaced.
type connListener struct {
	m   *Manager
	gen uint64
}

func (l *connListener) current() (core.Connection, bool) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return l.m.conn, l.m.gen == l.gen
}

func (l *connListener) OnConnect() {
	conn, ok := l.current()
	if !ok {
		return
	}
	l.m.setState(StateOpen)
	if conn != nil {
		l.m.rejoin(conn)
	}
}

func (l *connListener) OnDisconnect(err error) {
	if _, ok := l.current(); !ok {
		return
	}
	if errors.Is(err, core.ErrCredentialRejected) {
		log.Error().Err(err).Str("module", "channel").Msg("credential rejected, channel closed")
		l.m.setState(StateClosed)
		return
	}
	log.Warn().Err(err).Str("module", "channel").Msg("transport dropped, reconnecting")
	l.m.setState(StateConnecting)
}

func (l *connListener) OnMessage(topic string, payload []byte) {
	if _, ok := l.current(); !ok {
		return
	}
	l.m.dispatch(topic, payload)
}
