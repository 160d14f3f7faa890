package notify

import "github.com/dkeye/Dispatch/internal/core"

type BackpressureAction int

const (
	DropNotification BackpressureAction = iota
	KickSubscriber
)

type Policy interface {
	OnBackPressure(n core.Notification, sub *Subscriber) BackpressureAction
}

// PriorityPolicy drops normal toasts for slow subscribers but kicks them on
// high-priority ones, so the client reconnects and reloads the alert list
// instead of silently missing an emergency.
type PriorityPolicy struct{}

func (PriorityPolicy) OnBackPressure(n core.Notification, _ *Subscriber) BackpressureAction {
	if n.Priority == core.PriorityHigh {
		return KickSubscriber
	}
	return DropNotification
}
