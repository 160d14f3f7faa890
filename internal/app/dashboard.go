// Package app composes the sync core into one owned Dashboard.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dispatch/internal/alerts"
	"github.com/dkeye/Dispatch/internal/auth"
	"github.com/dkeye/Dispatch/internal/cache"
	"github.com/dkeye/Dispatch/internal/channel"
	"github.com/dkeye/Dispatch/internal/core"
	"github.com/dkeye/Dispatch/internal/domain"
	"github.com/dkeye/Dispatch/internal/notify"
	"github.com/dkeye/Dispatch/internal/session"
)

type Deps struct {
	Transport core.Transport
	Backend   core.Backend
	Voice     core.VoiceClient
	Auth      *auth.Provider
}

type Settings struct {
	AlertCapacity      int
	TranscriptCapacity int
	CacheMaxAge        time.Duration
	NotifyBuffer       int
}

// Dashboard owns every stateful piece of one dashboard instance.
type Dashboard struct {
	Auth    *auth.Provider
	Channel *channel.Manager
	Cache   *cache.Store
	Alerts  *alerts.Buffer
	Hub     *notify.Hub
	Session *session.Session

	closers []func()
}

func New(ctx context.Context, deps Deps, s Settings) *Dashboard {
	if deps.Auth == nil {
		deps.Auth = auth.NewProvider()
	}
	hub := notify.NewHub(s.NotifyBuffer, notify.PriorityPolicy{})
	return &Dashboard{
		Auth:    deps.Auth,
		Channel: channel.NewManager(deps.Transport),
		Cache:   cache.NewStore(deps.Backend, cache.WithMaxAge(s.CacheMaxAge)),
		Alerts:  alerts.NewBuffer(s.AlertCapacity, hub),
		Hub:     hub,
		Session: session.New(ctx, deps.Voice, session.WithTranscriptCapacity(s.TranscriptCapacity)),
	}
}

// Start wires the push channel into the cache and alert buffer and binds
// the connection to the operator's login.
func (d *Dashboard) Start(ctx context.Context) {
	d.closers = append(d.closers,
		d.Cache.Attach(d.Channel),
		d.Alerts.Attach(d.Channel),
		d.watchCallOutcomes(),
		d.Channel.BindAuth(ctx, d.Auth),
	)
	log.Info().Str("module", "app").Msg("dashboard started")
}

// Close tears everything down in reverse order of Start.
func (d *Dashboard) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
	d.Channel.Disconnect()
	d.Session.Close()
	log.Info().Str("module", "app").Msg("dashboard closed")
}

// WatchCall scopes call-specific push events to id.
func (d *Dashboard) WatchCall(id domain.CallID)   { d.Channel.JoinCallRoom(id) }
func (d *Dashboard) UnwatchCall(id domain.CallID) { d.Channel.LeaveCallRoom(id) }

// watchCallOutcomes raises a normal toast when a call reaches a final status.
func (d *Dashboard) watchCallOutcomes() func() {
	h := channel.CallStatusHandler("app.outcomes", func(e domain.CallStatusUpdate) {
		switch e.Status {
		case domain.CallStatusCompleted:
			d.Hub.Notify(core.Notification{
				Title:   "Call completed",
				Message: fmt.Sprintf("Call %s finished after %ds", e.CallID, e.Duration),
			})
		case domain.CallStatusFailed:
			d.Hub.Notify(core.Notification{
				Title:   "Call failed",
				Message: fmt.Sprintf("Call %s failed", e.CallID),
			})
		}
	})
	d.Channel.On(domain.TopicCallStatus, h)
	return func() { d.Channel.Off(domain.TopicCallStatus, h) }
}
