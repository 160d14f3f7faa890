package channel

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Dispatch/internal/domain"
	"github.com/rs/zerolog/log"
)

// Handler is a subscription callback. Identity is the pointer: registering
// the same *Handler twice for a topic is a no-op.
type Handler struct {
	name string
	fn   func(domain.Event)
}

func NewHandler(name string, fn func(domain.Event)) *Handler {
	return &Handler{name: name, fn: fn}
}

func (h *Handler) Name() string { return h.name }

// CallStatusHandler adapts fn to a Handler that only sees call status updates.
func CallStatusHandler(name string, fn func(domain.CallStatusUpdate)) *Handler {
	return NewHandler(name, func(ev domain.Event) {
		if e, ok := ev.(domain.CallStatusUpdate); ok {
			fn(e)
		}
	})
}

func EmergencyHandler(name string, fn func(domain.EmergencyDetected)) *Handler {
	return NewHandler(name, func(ev domain.Event) {
		if e, ok := ev.(domain.EmergencyDetected); ok {
			fn(e)
		}
	})
}

func TranscriptHandler(name string, fn func(domain.TranscriptUpdate)) *Handler {
	return NewHandler(name, func(ev domain.Event) {
		if e, ok := ev.(domain.TranscriptUpdate); ok {
			fn(e)
		}
	})
}

// Registry maps topics to handlers in registration order.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.Topic][]*Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.Topic][]*Handler)}
}

// Add reports whether h was newly registered for topic.
func (r *Registry) Add(topic domain.Topic, h *Handler) bool {
	if h == nil || h.fn == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.handlers[topic], h) {
		return false
	}
	r.handlers[topic] = append(r.handlers[topic], h)
	log.Debug().Str("module", "channel.registry").Str("topic", string(topic)).Str("handler", h.name).Msg("handler added")
	return true
}

// Remove reports whether h was registered. Removing an unknown handler is fine.
func (r *Registry) Remove(topic domain.Topic, h *Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[topic]
	i := slices.Index(list, h)
	if i < 0 {
		return false
	}
	// Copy so snapshots handed to Dispatch stay intact.
	next := slices.Delete(slices.Clone(list), i, i+1)
	if len(next) == 0 {
		delete(r.handlers, topic)
	} else {
		r.handlers[topic] = next
	}
	log.Debug().Str("module", "channel.registry").Str("topic", string(topic)).Str("handler", h.name).Msg("handler removed")
	return true
}

func (r *Registry) Handlers(topic domain.Topic) []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.handlers[topic])
}

// Dispatch invokes every handler of ev's topic. A panicking handler is
// logged and skipped; the rest still run.
func (r *Registry) Dispatch(ev domain.Event) (delivered, failed int) {
	for _, h := range r.Handlers(ev.Topic()) {
		if err := invoke(h, ev); err != nil {
			failed++
			log.Error().Err(err).Str("module", "channel.registry").Str("topic", string(ev.Topic())).Str("handler", h.name).Msg("handler failed")
			continue
		}
		delivered++
	}
	return delivered, failed
}

func invoke(h *Handler, ev domain.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	h.fn(ev)
	return nil
}
