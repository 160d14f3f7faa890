// Package notify fans user-visible notifications out to connected
// dashboard clients.
package notify

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dispatch/internal/core"
)

const (
	NormalDuration    = 4 * time.Second
	EmergencyDuration = 10 * time.Second
	EmergencyIcon     = "🚨"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("subscriber closed")
)

// Subscriber is one client's bounded notification queue.
type Subscriber struct {
	id  string
	hub *Hub
	ch  chan core.Notification

	mu     sync.RWMutex
	closed bool
}

func (s *Subscriber) ID() string                  { return s.id }
func (s *Subscriber) C() <-chan core.Notification { return s.ch }

func (s *Subscriber) trySend(n core.Notification) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.ch <- n:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close unregisters the subscriber and closes C. Safe to call twice.
func (s *Subscriber) Close() {
	s.hub.remove(s.id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Hub implements core.Notifier.
type Hub struct {
	policy Policy
	buffer int

	mu   sync.RWMutex
	subs map[string]*Subscriber
}

func NewHub(buffer int, policy Policy) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	if policy == nil {
		policy = PriorityPolicy{}
	}
	return &Hub{
		policy: policy,
		buffer: buffer,
		subs:   make(map[string]*Subscriber),
	}
}

func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{
		id:  uuid.NewString(),
		hub: h,
		ch:  make(chan core.Notification, h.buffer),
	}
	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()
	log.Debug().Str("module", "notify").Str("sub", s.id).Msg("subscribed")
	return s
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Notify delivers n to every subscriber. It never blocks.
func (h *Hub) Notify(n core.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Priority == "" {
		n.Priority = core.PriorityNormal
	}
	if n.Duration == 0 {
		n.Duration = NormalDuration
	}

	evt := log.Info()
	if n.Priority == core.PriorityHigh {
		evt = log.Warn()
	}
	evt.Str("module", "notify").Str("priority", string(n.Priority)).Str("title", n.Title).Msg(n.Message)

	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		err := s.trySend(n)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrClosed) {
			h.remove(s.id)
			continue
		}
		switch h.policy.OnBackPressure(n, s) {
		case KickSubscriber:
			log.Warn().Str("module", "notify").Str("sub", s.id).Msg("slow subscriber kicked")
			s.Close()
		case DropNotification:
			log.Debug().Str("module", "notify").Str("sub", s.id).Msg("notification dropped")
		}
	}
}
