package core

import (
	"context"
	"time"

	"github.com/dkeye/Dispatch/internal/domain"
)

// AuthProvider owns the operator credential. Subscribers are told about
// every login (non-empty token) and logout (empty token).
type AuthProvider interface {
	Token() string
	Subscribe(fn func(token string)) (unsubscribe func())
}

// Backend is the plain request/response API of the dashboard server.
type Backend interface {
	GetCalls(ctx context.Context, filters domain.CallFilters) ([]*domain.Call, error)
	GetActiveCalls(ctx context.Context) ([]*domain.Call, error)
	GetCallDetails(ctx context.Context, id domain.CallID) (*domain.Call, error)
	GetCallTranscript(ctx context.Context, id domain.CallID) ([]domain.TranscriptEntry, error)
	InitializeCall(ctx context.Context, req domain.InitializeCallRequest) (*domain.Call, error)
	CancelCall(ctx context.Context, id domain.CallID) error
	RetryCall(ctx context.Context, id domain.CallID) (*domain.Call, error)
	GetAnalytics(ctx context.Context, days int) (*domain.Analytics, error)
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is a user-visible toast.
type Notification struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Message  string        `json:"message"`
	Priority Priority      `json:"priority"`
	Icon     string        `json:"icon,omitempty"`
	Duration time.Duration `json:"duration"`
}

type Notifier interface {
	Notify(n Notification)
}
