package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Dispatch/internal/auth"
	"github.com/dkeye/Dispatch/internal/channel"
	"github.com/dkeye/Dispatch/internal/core"
	"github.com/dkeye/Dispatch/internal/domain"
)

type stubConn struct {
	mu sync.Mutex
	l  core.TransportListener
	up bool
}

func (c *stubConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

func (c *stubConn) Emit(string, any) error { return nil }
func (c *stubConn) Close() error           { return nil }

type stubTransport struct {
	mu   sync.Mutex
	last *stubConn
}

func (t *stubTransport) Connect(_ context.Context, _ string, l core.TransportListener) (core.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = &stubConn{l: l}
	return t.last, nil
}

func (t *stubTransport) open() *stubConn {
	t.mu.Lock()
	c := t.last
	t.mu.Unlock()
	c.mu.Lock()
	c.up = true
	c.mu.Unlock()
	c.l.OnConnect()
	return c
}

type stubBackend struct {
	active []*domain.Call
}

func (b *stubBackend) GetCalls(context.Context, domain.CallFilters) ([]*domain.Call, error) {
	return nil, nil
}

func (b *stubBackend) GetActiveCalls(context.Context) ([]*domain.Call, error) {
	return b.active, nil
}

func (b *stubBackend) GetCallDetails(_ context.Context, id domain.CallID) (*domain.Call, error) {
	return &domain.Call{ID: id}, nil
}

func (b *stubBackend) GetCallTranscript(context.Context, domain.CallID) ([]domain.TranscriptEntry, error) {
	return nil, nil
}

func (b *stubBackend) InitializeCall(context.Context, domain.InitializeCallRequest) (*domain.Call, error) {
	return &domain.Call{}, nil
}

func (b *stubBackend) CancelCall(context.Context, domain.CallID) error { return nil }

func (b *stubBackend) RetryCall(_ context.Context, id domain.CallID) (*domain.Call, error) {
	return &domain.Call{ID: id}, nil
}

func (b *stubBackend) GetAnalytics(_ context.Context, days int) (*domain.Analytics, error) {
	return &domain.Analytics{Days: days}, nil
}

func newTestDashboard(t *testing.T) (*Dashboard, *stubTransport, *stubBackend) {
	t.Helper()
	tr := &stubTransport{}
	be := &stubBackend{active: []*domain.Call{
		{ID: "c-1", Status: domain.CallStatusInProgress},
		{ID: "c-2", Status: domain.CallStatusInProgress},
	}}
	d := New(context.Background(), Deps{Transport: tr, Backend: be, Auth: auth.NewProvider()}, Settings{
		AlertCapacity:      5,
		TranscriptCapacity: 50,
		NotifyBuffer:       8,
	})
	d.Start(context.Background())
	t.Cleanup(d.Close)
	return d, tr, be
}

func receive(t *testing.T, ch <-chan core.Notification) core.Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(time.Second):
		t.Fatal("no notification")
		return core.Notification{}
	}
}

func TestDashboard_LoginConnectsChannel(t *testing.T) {
	d, tr, _ := newTestDashboard(t)
	assert.Equal(t, channel.StateClosed, d.Channel.State())

	require.NoError(t, d.Auth.Login("tok"))
	assert.Equal(t, channel.StateConnecting, d.Channel.State())
	tr.open()
	assert.True(t, d.Channel.Connected())

	d.Auth.Logout()
	assert.Equal(t, channel.StateClosed, d.Channel.State())
}

func TestDashboard_EmergencyReachesBufferAndHub(t *testing.T) {
	d, tr, _ := newTestDashboard(t)
	sub := d.Hub.Subscribe()
	defer sub.Close()

	require.NoError(t, d.Auth.Login("tok"))
	conn := tr.open()
	conn.l.OnMessage(string(domain.TopicEmergency), []byte(`{"call_id":"c-1","driver_name":"Ann","load_number":"L-1","message":"accident"}`))

	alerts := d.Alerts.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "accident", alerts[0].Message)

	n := receive(t, sub.C())
	assert.Equal(t, core.PriorityHigh, n.Priority)
	assert.Equal(t, "Emergency: Ann", n.Title)
}

func TestDashboard_StatusUpdatePatchesCacheAndToastsOutcome(t *testing.T) {
	d, tr, _ := newTestDashboard(t)
	sub := d.Hub.Subscribe()
	defer sub.Close()

	before, err := d.Cache.ActiveCalls(context.Background())
	require.NoError(t, err)

	require.NoError(t, d.Auth.Login("tok"))
	conn := tr.open()
	conn.l.OnMessage(string(domain.TopicCallStatus), []byte(`{"call_id":"c-1","status":"completed","duration":95}`))

	after, err := d.Cache.ActiveCalls(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusCompleted, after[0].Status)
	assert.Equal(t, 95, after[0].Duration)
	assert.Same(t, before[1], after[1])

	n := receive(t, sub.C())
	assert.Equal(t, core.PriorityNormal, n.Priority)
	assert.Equal(t, "Call completed", n.Title)
}

func TestDashboard_WatchCallRecordsRoom(t *testing.T) {
	d, _, _ := newTestDashboard(t)
	d.WatchCall("c-7")
	assert.Equal(t, []domain.CallID{"c-7"}, d.Channel.Rooms())
	d.UnwatchCall("c-7")
	assert.Empty(t, d.Channel.Rooms())
}
