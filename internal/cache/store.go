// Package cache holds the dashboard's query-addressable data and keeps it
// consistent with server-pushed events.
package cache

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/dkeye/Dispatch/internal/channel"
	"github.com/dkeye/Dispatch/internal/core"
	"github.com/dkeye/Dispatch/internal/domain"
)

var ErrUnexpectedValue = errors.New("unexpected cached value")

// Subscriber is the part of the channel manager the store listens on.
type Subscriber interface {
	On(topic domain.Topic, h *channel.Handler)
	Off(topic domain.Topic, h *channel.Handler)
}

// Store is the only writer of cache entries. Readers get the cached value
// while fresh and trigger a refetch otherwise.
type Store struct {
	backend core.Backend
	maxAge  time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	snap  Snapshot
	group singleflight.Group
}

type Option func(*Store)

// WithMaxAge treats entries older than d as stale. Zero disables ageing.
func WithMaxAge(d time.Duration) Option {
	return func(s *Store) { s.maxAge = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(backend core.Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
		snap:    Snapshot{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach subscribes the store to the topics it reconciles.
func (s *Store) Attach(sub Subscriber) (detach func()) {
	h := channel.NewHandler("cache.store", s.Apply)
	sub.On(domain.TopicCallStatus, h)
	sub.On(domain.TopicTranscript, h)
	return func() {
		sub.Off(domain.TopicCallStatus, h)
		sub.Off(domain.TopicTranscript, h)
	}
}

// Apply reconciles one push event. Events are applied in call order.
func (s *Store) Apply(ev domain.Event) {
	s.mu.Lock()
	s.snap = Reduce(s.snap, ev)
	s.mu.Unlock()
	log.Debug().Str("module", "cache").Str("topic", string(ev.Topic())).Msg("event applied")
}

// Snapshot returns the current entries. The map is a copy.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.snap)
}

// Peek returns an entry without refetching.
func (s *Store) Peek(key Key) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.snap[key]
	return e, ok
}

// Invalidate marks every entry of kinds stale.
func (s *Store) Invalidate(kinds ...Kind) {
	s.mu.Lock()
	s.snap = invalidate(s.snap, kinds...)
	s.mu.Unlock()
}

func (s *Store) isFresh(e Entry) bool {
	if e.Stale {
		return false
	}
	return s.maxAge <= 0 || s.now().Sub(e.UpdatedAt) < s.maxAge
}

// Get returns the value for key, refetching when missing or stale.
// Concurrent refetches of one key share a single request. When a refetch
// fails the last known value keeps being served.
func (s *Store) Get(ctx context.Context, key Key) (any, error) {
	e, ok := s.Peek(key)
	if ok && s.isFresh(e) {
		return e.Value, nil
	}

	v, err, _ := s.group.Do(key.String(), func() (any, error) {
		start, _ := s.Peek(key)
		val, err := s.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		s.store(key, val, start.Rev)
		return val, nil
	})
	if err != nil {
		if ok {
			log.Warn().Err(err).Str("module", "cache").Str("key", key.String()).Msg("refetch failed, serving stale value")
			return e.Value, nil
		}
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	return v, nil
}

// store writes a refetched value. An entry changed by an event or an
// invalidation while the request was in flight stays stale, since the
// response may predate that change.
func (s *Store) store(key Key, val any, startRev uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.snap[key]
	next := maps.Clone(s.snap)
	entry := Entry{Value: val, UpdatedAt: s.now(), Rev: cur.Rev}
	if ok && cur.Rev != startRev {
		entry.Stale = true
		log.Debug().Str("module", "cache").Str("key", key.String()).Msg("entry changed during refetch, kept stale")
	}
	next[key] = entry
	s.snap = next
}

func (s *Store) fetch(ctx context.Context, key Key) (any, error) {
	log.Debug().Str("module", "cache").Str("key", key.String()).Msg("refetch")
	switch key.Kind {
	case KindCalls:
		return s.backend.GetCalls(ctx, key.Filters)
	case KindActiveCalls:
		return s.backend.GetActiveCalls(ctx)
	case KindCall:
		return s.backend.GetCallDetails(ctx, key.ID)
	case KindTranscript:
		return s.backend.GetCallTranscript(ctx, key.ID)
	case KindAnalytics:
		return s.backend.GetAnalytics(ctx, key.Days)
	default:
		return nil, fmt.Errorf("unknown cache kind %q", key.Kind)
	}
}

func typed[T any](v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T", ErrUnexpectedValue, v)
	}
	return t, nil
}

func (s *Store) Calls(ctx context.Context, f domain.CallFilters) ([]*domain.Call, error) {
	return typed[[]*domain.Call](s.Get(ctx, CallsKey(f)))
}

func (s *Store) ActiveCalls(ctx context.Context) ([]*domain.Call, error) {
	return typed[[]*domain.Call](s.Get(ctx, ActiveCallsKey()))
}

func (s *Store) Call(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	return typed[*domain.Call](s.Get(ctx, CallKey(id)))
}

func (s *Store) Transcript(ctx context.Context, id domain.CallID) ([]domain.TranscriptEntry, error) {
	return typed[[]domain.TranscriptEntry](s.Get(ctx, TranscriptKey(id)))
}

func (s *Store) Analytics(ctx context.Context, days int) (*domain.Analytics, error) {
	return typed[*domain.Analytics](s.Get(ctx, AnalyticsKey(days)))
}
