package core

import (
	"context"
	"errors"
)

// ErrCredentialRejected is passed to OnDisconnect when the server refused
// the token. The transport stops reconnecting after reporting it.
var ErrCredentialRejected = errors.New("credential rejected")

// TransportListener receives everything a realtime connection observes.
// Callbacks for one connection are invoked from a single goroutine, in
// arrival order.
type TransportListener interface {
	OnConnect()
	OnDisconnect(err error)
	OnMessage(topic string, payload []byte)
}

// Transport opens authenticated push connections to the dashboard backend.
// Connect does not wait for the first dial to succeed; progress is reported
// through the listener. Reconnection with backoff is the transport's job.
type Transport interface {
	Connect(ctx context.Context, token string, l TransportListener) (Connection, error)
}

// Connection is one logical connection that survives transport drops.
// Owned by the caller; the caller must Close() it.
type Connection interface {
	Connected() bool
	Emit(topic string, payload any) error
	Close() error
}
