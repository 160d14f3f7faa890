// Package alerts keeps the most recent emergency alerts independently of
// the query cache, so they survive even when no listing is on screen.
package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dispatch/internal/channel"
	"github.com/dkeye/Dispatch/internal/core"
	"github.com/dkeye/Dispatch/internal/domain"
	"github.com/dkeye/Dispatch/internal/notify"
	"github.com/dkeye/Dispatch/internal/ring"
)

const DefaultCapacity = 5

type Subscriber interface {
	On(topic domain.Topic, h *channel.Handler)
	Off(topic domain.Topic, h *channel.Handler)
}

type Buffer struct {
	notifier core.Notifier
	now      func() time.Time

	mu   sync.RWMutex
	ring *ring.Buffer[domain.EmergencyAlert]
}

func NewBuffer(capacity int, n core.Notifier) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		notifier: n,
		now:      time.Now,
		ring:     ring.New[domain.EmergencyAlert](capacity),
	}
}

// Attach feeds the buffer from emergency_detected events.
func (b *Buffer) Attach(sub Subscriber) (detach func()) {
	h := channel.EmergencyHandler("alerts.buffer", func(e domain.EmergencyDetected) {
		b.OnEmergency(domain.EmergencyAlert{
			DriverName: e.DriverName,
			LoadNumber: e.LoadNumber,
			Message:    e.Message,
		})
	})
	sub.On(domain.TopicEmergency, h)
	return func() { sub.Off(domain.TopicEmergency, h) }
}

// OnEmergency records alert as the newest entry and raises exactly one
// high-priority notification for it.
func (b *Buffer) OnEmergency(alert domain.EmergencyAlert) {
	if alert.ReceivedAt.IsZero() {
		alert.ReceivedAt = b.now()
	}
	b.mu.Lock()
	b.ring.Push(alert)
	b.mu.Unlock()

	log.Warn().Str("module", "alerts").Str("driver", alert.DriverName).Str("load", alert.LoadNumber).Msg("emergency received")
	if b.notifier != nil {
		b.notifier.Notify(emergencyNotification(alert))
	}
}

// Alerts returns the buffered alerts, newest first.
func (b *Buffer) Alerts() []domain.EmergencyAlert {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ring.Newest()
}

func emergencyNotification(a domain.EmergencyAlert) core.Notification {
	title := "Emergency"
	if a.DriverName != "" {
		title = fmt.Sprintf("Emergency: %s", a.DriverName)
	}
	msg := a.Message
	if a.LoadNumber != "" {
		msg = fmt.Sprintf("Load %s: %s", a.LoadNumber, a.Message)
	}
	return core.Notification{
		Title:    title,
		Message:  msg,
		Priority: core.PriorityHigh,
		Icon:     notify.EmergencyIcon,
		Duration: notify.EmergencyDuration,
	}
}
